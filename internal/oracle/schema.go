package oracle

import (
	"fmt"
	"strings"

	"github.com/ghgmatch/core/internal/domain"
)

// decisionResponse is the raw JSON shape the model is instructed to emit.
// Exactly one of match/ambiguous/decompose is populated, keyed by "type".
type decisionResponse struct {
	Type       string               `json:"type"`
	Match      *matchResponse       `json:"match,omitempty"`
	Ambiguous  *ambiguousResponse   `json:"ambiguous,omitempty"`
	Decompose  *decomposeResponse   `json:"decompose,omitempty"`
}

type matchResponse struct {
	SelectedUUID string `json:"selected_uuid"`
	Rationale    string `json:"rationale"`
}

type ambiguousResponse struct {
	Plausible []plausibleResponse `json:"plausible"`
	Rationale string               `json:"rationale"`
}

type plausibleResponse struct {
	UUID     string `json:"uuid"`
	WhyShort string `json:"why_short"`
}

type decomposeResponse struct {
	Components []componentResponse `json:"components"`
}

type componentResponse struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Category string  `json:"category"`
	Note     string  `json:"note,omitempty"`
}

type conversionResponse struct {
	Multiplier float64 `json:"multiplier"`
}

// cleanJSONResponse strips markdown code fences some chat models wrap JSON
// in despite format:"json", before attempting to parse.
func cleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

// validComponentCategories are the only categories a decomposition component
// may carry.
var validComponentCategories = map[string]domain.ComponentCategory{
	"materials": domain.CategoryMaterials,
	"energy":    domain.CategoryEnergy,
	"packaging": domain.CategoryPackaging,
	"transport": domain.CategoryTransport,
	"processes": domain.CategoryProcesses,
}

// toDecision validates a decisionResponse against the candidate list and the
// allow_decompose flag, and converts it into a domain.Decision. It never
// returns a partially populated Decision — validation failures return an
// error describing the violated constraint.
func toDecision(resp decisionResponse, candidates domain.CandidateSet, allowDecompose bool) (domain.Decision, error) {
	byUUID := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		byUUID[c.UUID] = struct{}{}
	}

	switch resp.Type {
	case "match":
		if resp.Match == nil {
			return domain.Decision{}, fmt.Errorf("match decision missing match object")
		}
		if _, ok := byUUID[resp.Match.SelectedUUID]; !ok {
			return domain.Decision{}, fmt.Errorf("selected_uuid %q not in candidate list", resp.Match.SelectedUUID)
		}
		return domain.Decision{
			Type:           domain.DecisionMatch,
			SelectedUUID:   resp.Match.SelectedUUID,
			MatchRationale: resp.Match.Rationale,
		}, nil

	case "ambiguous":
		if resp.Ambiguous == nil {
			return domain.Decision{}, fmt.Errorf("ambiguous decision missing ambiguous object")
		}
		if len(resp.Ambiguous.Plausible) < 2 {
			return domain.Decision{}, fmt.Errorf("ambiguous decision has %d plausible candidates, need >= 2", len(resp.Ambiguous.Plausible))
		}
		plausible := make([]domain.PlausibleCandidate, 0, len(resp.Ambiguous.Plausible))
		for _, p := range resp.Ambiguous.Plausible {
			if _, ok := byUUID[p.UUID]; !ok {
				return domain.Decision{}, fmt.Errorf("plausible uuid %q not in candidate list", p.UUID)
			}
			plausible = append(plausible, domain.PlausibleCandidate{UUID: p.UUID, WhyShort: p.WhyShort})
		}
		return domain.Decision{
			Type:               domain.DecisionAmbiguous,
			Plausible:          plausible,
			AmbiguousRationale: resp.Ambiguous.Rationale,
		}, nil

	case "decompose":
		if !allowDecompose {
			return domain.Decision{}, fmt.Errorf("decompose decision returned but allow_decompose=false")
		}
		if resp.Decompose == nil {
			return domain.Decision{}, fmt.Errorf("decompose decision missing decompose object")
		}
		return toComponents(resp.Decompose.Components)

	default:
		return domain.Decision{}, fmt.Errorf("unknown decision type %q", resp.Type)
	}
}

// toComponents validates the component-sum and count invariants and
// converts raw component responses into domain.ComponentSpec values.
func toComponents(raw []componentResponse) (domain.Decision, error) {
	if len(raw) < 3 || len(raw) > 10 {
		return domain.Decision{}, fmt.Errorf("decompose has %d components, need 3..10", len(raw))
	}

	var sum float64
	specs := make([]domain.ComponentSpec, 0, len(raw))
	for _, c := range raw {
		category, ok := validComponentCategories[c.Category]
		if !ok {
			return domain.Decision{}, fmt.Errorf("component %q has unknown category %q", c.Name, c.Category)
		}
		sum += c.Quantity
		specs = append(specs, domain.ComponentSpec{
			Name:     c.Name,
			Quantity: c.Quantity,
			Category: category,
			Note:     c.Note,
		})
	}

	if sum < 0.98 || sum > 1.02 {
		return domain.Decision{}, fmt.Errorf("component quantities sum to %.4f, outside [0.98, 1.02]", sum)
	}

	return domain.Decision{Type: domain.DecisionDecompose, Components: specs}, nil
}

// validateConversion enforces the positive, finite, bounded multiplier
// contract on a unit conversion response.
func validateConversion(resp conversionResponse) (float64, error) {
	q := resp.Multiplier
	if q != q { // NaN
		return 0, fmt.Errorf("conversion multiplier is NaN")
	}
	if q <= 0 {
		return 0, fmt.Errorf("conversion multiplier %.6f is not positive", q)
	}
	if q > 1e6 {
		return 0, fmt.Errorf("conversion multiplier %.6f exceeds 1e6", q)
	}
	return q, nil
}
