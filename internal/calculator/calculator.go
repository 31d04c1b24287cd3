// Package calculator is C5: it turns a resolved match or decomposition into
// the final biogenic_t/common_t figures plus the human-readable
// beschreibung, quelle and detailed_calc fields.
package calculator

import (
	"fmt"
	"strings"

	"github.com/ghgmatch/core/internal/domain"
)

const (
	beschreibungMaxLen = 1000
	quelleMaxLen       = 1000
	quelleMaxUUIDs     = 10
)

// kgPerT converts kilograms to tonnes.
const kgPerT = 1000.0

// Input is one fully resolved direct match: a catalogue entry plus the
// conversion multiplier applied to the requested quantity.
type Input struct {
	Row              domain.InputRow
	Entry            *domain.CatalogueEntry
	ConversionFactor float64 // q: entry.Unit amount per one Row.UnitNorm (convert_unit from Row.UnitNorm to entry.Unit), 1.0 if units already match
	ConversionNote   string  // rationale recorded by the oracle, "" if no conversion was needed
}

// CalculateMatch computes the direct-match result for one resolved row.
func CalculateMatch(in Input) domain.RowResult {
	q := in.ConversionFactor
	if q == 0 {
		q = 1.0
	}

	biogenicKg := in.Entry.BiogenicFactor * q
	commonKg := in.Entry.CommonFactor * q

	return domain.RowResult{
		RowID:        in.Row.ID,
		DecisionType: domain.DecisionMatch,
		SelectedUUID: in.Entry.UUID,
		BiogenicT:    biogenicKg / kgPerT,
		CommonT:      commonKg / kgPerT,
		Beschreibung: matchBeschreibung(in, q),
		Quelle:       quelle([]string{in.Entry.UUID}),
		DetailedCalc: matchDetailedCalc(in, q, biogenicKg, commonKg),
	}
}

// ResolvedComponent pairs a decomposition component's spec with its
// recursively computed, depth-1 result.
type ResolvedComponent struct {
	Spec   domain.ComponentSpec
	Result domain.RowResult
}

// CalculateDecomposition sums the already-computed per-component results
// into the parent row's totals; each component was itself produced by
// CalculateMatch against its own resolved catalogue entry and conversion
// factor, scaled by the component's own share of the whole (its Quantity).
func CalculateDecomposition(row domain.InputRow, components []ResolvedComponent) domain.RowResult {
	var biogenicT, commonT float64
	uuids := make([]string, 0, len(components))
	resolved := make([]domain.Component, 0, len(components))

	for _, c := range components {
		biogenicT += c.Result.BiogenicT
		commonT += c.Result.CommonT
		if c.Result.SelectedUUID != "" {
			uuids = append(uuids, c.Result.SelectedUUID)
		}
		resolved = append(resolved, domain.Component{
			Spec:   c.Spec,
			Result: cloneResult(c.Result),
		})
	}

	return domain.RowResult{
		RowID:        row.ID,
		DecisionType: domain.DecisionDecompose,
		Candidates:   nil,
		Components:   resolved,
		BiogenicT:    biogenicT,
		CommonT:      commonT,
		Beschreibung: decomposeBeschreibung(row, components),
		Quelle:       quelle(uuids),
		DetailedCalc: decomposeDetailedCalc(row, components, biogenicT, commonT),
	}
}

func cloneResult(r domain.RowResult) *domain.RowResult {
	rc := r
	return &rc
}

func matchBeschreibung(in Input, q float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %s)", in.Entry.ActivityName, in.Entry.Geography, in.Row.UnitNorm)
	if q != 1.0 {
		fmt.Fprintf(&b, ", factor %.4g", q)
	}
	return truncate(b.String(), beschreibungMaxLen)
}

func decomposeBeschreibung(row domain.InputRow, components []ResolvedComponent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s decomposed into %d components (%s)", row.BezeichnungNorm, len(components), row.UnitNorm)
	return truncate(b.String(), beschreibungMaxLen)
}

// quelle lists the deduplicated UUIDs used, in first-seen order, capped at
// quelleMaxUUIDs and quelleMaxLen characters with a truncation marker.
func quelle(uuids []string) string {
	seen := make(map[string]struct{}, len(uuids))
	deduped := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		deduped = append(deduped, u)
	}

	truncatedByCount := len(deduped) > quelleMaxUUIDs
	if truncatedByCount {
		deduped = deduped[:quelleMaxUUIDs]
	}

	joined := strings.Join(deduped, ", ")
	if len(joined) > quelleMaxLen {
		joined = joined[:quelleMaxLen-len("…")]
		truncatedByCount = true
	}
	if truncatedByCount {
		joined += "…"
	}
	return joined
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-len("…")] + "…"
}

func matchDetailedCalc(in Input, q, biogenicKg, commonKg float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "input: %s, requested unit %s\n", in.Row.BezeichnungNorm, in.Row.UnitNorm)
	fmt.Fprintf(&b, "catalogue match: %s (%s), biogenic_factor=%g, common_factor=%g, unit=%s\n",
		in.Entry.UUID, in.Entry.ActivityName, in.Entry.BiogenicFactor, in.Entry.CommonFactor, in.Entry.Unit)
	if q != 1.0 {
		fmt.Fprintf(&b, "conversion factor q=%g", q)
		if in.ConversionNote != "" {
			fmt.Fprintf(&b, " (%s)", in.ConversionNote)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("conversion factor q=1 (units already match)\n")
	}
	fmt.Fprintf(&b, "biogenic_kg = %g * %g = %g\n", in.Entry.BiogenicFactor, q, biogenicKg)
	fmt.Fprintf(&b, "common_kg = %g * %g = %g\n", in.Entry.CommonFactor, q, commonKg)
	fmt.Fprintf(&b, "biogenic_t = %g / 1000 = %g\n", biogenicKg, biogenicKg/kgPerT)
	fmt.Fprintf(&b, "common_t = %g / 1000 = %g", commonKg, commonKg/kgPerT)
	return b.String()
}

func decomposeDetailedCalc(row domain.InputRow, components []ResolvedComponent, biogenicT, commonT float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "input: %s decomposed into %d components\n", row.BezeichnungNorm, len(components))
	for i, c := range components {
		fmt.Fprintf(&b, "  [%d] %s (share=%g, category=%s) -> uuid=%s biogenic_t=%g common_t=%g\n",
			i+1, c.Spec.Name, c.Spec.Quantity, c.Spec.Category, c.Result.SelectedUUID, c.Result.BiogenicT, c.Result.CommonT)
	}
	fmt.Fprintf(&b, "biogenic_t = sum of components = %g\n", biogenicT)
	fmt.Fprintf(&b, "common_t = sum of components = %g", commonT)
	return b.String()
}
