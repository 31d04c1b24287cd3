package oracle

import (
	"fmt"
	"strings"

	"github.com/ghgmatch/core/internal/domain"
)

const decisionSystemPrompt = `You are a life-cycle-inventory classification assistant. Given a requested activity and a ranked list of reference catalogue candidates, decide whether one candidate is a clear match, several are plausible, or the activity must be decomposed into its components.

Rules:
- Return "decompose" only when no candidate reasonably fits AND the activity describes a compound product (a multi-ingredient food item, an assembled product with a bill of materials).
- Simple activities are never decomposable: combustion fuels (diesel, petrol, natural gas), electricity, basic transport, heating, and basic raw materials (steel, aluminium, cement) always resolve to match or ambiguous.
- If exactly one candidate plausibly matches the activity, return "match".
- If two or more candidates are each plausible, return "ambiguous" and list every plausible one with a short reason.
- Respond with JSON only, matching the schema given in the user message. No prose, no markdown fences.`

const decomposeSchemaHint = `{"type":"decompose","decompose":{"components":[{"name":"...","quantity":0.0,"category":"materials|energy|packaging|transport|processes","note":"..."}]}}`

const noDecomposeSchemaHint = `"decompose" is not a valid type for this request.`

func matchAmbiguousSchemaHint() string {
	return `{"type":"match","match":{"selected_uuid":"...","rationale":"..."}} or ` +
		`{"type":"ambiguous","ambiguous":{"plausible":[{"uuid":"...","why_short":"..."}],"rationale":"..."}}`
}

// buildDecisionPrompt renders the candidate list with their index,
// activity/product/geography/unit, and the input's scope/category context,
// plus the JSON schema the response must conform to.
func buildDecisionPrompt(input domain.InputRow, candidates domain.CandidateSet, allowDecompose bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ACTIVITY: %s\n", input.BezeichnungNorm)
	if input.ProduktinfoNorm != "" {
		fmt.Fprintf(&b, "PRODUCT INFO: %s\n", input.ProduktinfoNorm)
	}
	fmt.Fprintf(&b, "SCOPE: %s\n", orDash(string(input.Scope)))
	fmt.Fprintf(&b, "CATEGORY: %s / %s\n", orDash(input.Kategorie), orDash(input.Unterkategorie))
	fmt.Fprintf(&b, "REGION: %s\n", input.RegionNorm)
	fmt.Fprintf(&b, "REQUESTED UNIT: %s\n\n", input.UnitNorm)

	b.WriteString("CANDIDATES:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "[%d] uuid=%s activity=%q product=%q geography=%s unit=%s\n",
			c.Rank, c.UUID, c.ActivityName, c.ProductName, c.Geography, c.Unit)
	}

	b.WriteString("\nRESPONSE SCHEMA:\n")
	b.WriteString(matchAmbiguousSchemaHint())
	if allowDecompose {
		b.WriteString("\nor, only if truly compound and no candidate fits:\n")
		b.WriteString(decomposeSchemaHint)
	} else {
		b.WriteString("\n")
		b.WriteString(noDecomposeSchemaHint)
	}

	return b.String()
}

// buildCorrectionPrompt re-asks the model with the previous response and the
// specific constraint it violated, used for the up-to-3 malformed-response
// correction retries.
func buildCorrectionPrompt(original string, violation error) string {
	var b strings.Builder
	b.WriteString("Your previous response violated a constraint and must be corrected.\n\n")
	fmt.Fprintf(&b, "VIOLATION: %s\n\n", violation.Error())
	b.WriteString("PREVIOUS RESPONSE:\n")
	b.WriteString(original)
	b.WriteString("\n\nReturn a corrected JSON response only, conforming to the original schema.")
	return b.String()
}

const conversionSystemPrompt = `You convert between reference units for a life-cycle-inventory activity. Given a description, a source unit and a target unit, return the positive multiplier q such that "1 source_unit of description equals q target_unit". Respond with JSON only: {"multiplier": q}.`

func buildConversionPrompt(description, fromUnit, toUnit string) string {
	return fmt.Sprintf("DESCRIPTION: %s\nFROM UNIT: %s\nTO UNIT: %s\n\nRESPONSE SCHEMA:\n{\"multiplier\": 0.0}",
		description, fromUnit, toUnit)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
