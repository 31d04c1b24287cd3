// Package normalize implements C1: canonicalising free-text fields,
// region codes and units before retrieval. It is a pure function library —
// no I/O, no side effects.
package normalize

import (
	goerrors "errors"
	"strings"

	"github.com/ghgmatch/core/internal/domain"
	ghgerrors "github.com/ghgmatch/core/internal/errors"
)

// ErrUnknownUnit is returned (wrapped in a *errors.RowError) when
// referenzeinheit cannot be mapped to a canonical unit.
var ErrUnknownUnit = goerrors.New("unit not found in unit map")

// transliterations maps German umlauts/ß to ASCII equivalents.
var transliterations = map[rune]string{
	'ä': "a", 'ö': "o", 'ü': "u", 'ß': "ss",
	'Ä': "a", 'Ö': "o", 'Ü': "u",
}

// regionAliases maps common free-text region names to catalogue region
// codes. Unknown values pass through unchanged; empty defaults to GLO.
var regionAliases = map[string]string{
	"europa":        "RER",
	"europe":        "RER",
	"deutschland":   "DE",
	"germany":       "DE",
	"schweiz":       "CH",
	"switzerland":   "CH",
	"österreich":    "AT",
	"austria":       "AT",
	"frankreich":    "FR",
	"france":        "FR",
	"weltweit":      "GLO",
	"global":        "GLO",
	"welt":          "GLO",
	"rest der welt": "RoW",
	"row":           "RoW",
}

// unitMap covers the reference units observed across input sheets.
var unitMap = map[string]string{
	"stück":          "unit",
	"stueck":         "unit",
	"stuck":          "unit",
	"liter":          "l",
	"l":              "l",
	"kilogramm":      "kg",
	"kg":              "kg",
	"kilowattstunde": "kWh",
	"kwh":            "kWh",
	"quadratmeter":   "m2",
	"m2":             "m2",
	"kubikmeter":     "m3",
	"m3":             "m3",
	"kilometer":      "km",
	"km":             "km",
	"hektar":         "ha",
	"ha":             "ha",
	"stunde":         "hour",
	"stunden":        "hour",
	"hour":           "hour",
	"h":              "hour",
	"mj":             "MJ",
	"megajoule":      "MJ",
	"kg·km":          "kg·km",
	"kgkm":           "kg·km",
	"t·km":           "t·km",
	"tkm":            "t·km",
	"tonne":          "t",
	"t":              "t",
	"gramm":          "g",
	"g":              "g",
}

// scopeHints are appended to retrieval queries only (never surfaced to the
// user); they bias BM25/semantic recall toward scope-relevant activities.
var scopeHints = map[domain.Scope]string{
	domain.Scope1: "combustion burned fuel",
	domain.Scope2: "electricity heat steam supply",
	domain.Scope3: "production manufacturing at plant",
}

// Normalise fills in a row's *_norm shadow fields. It never mutates the
// original bezeichnung/region/referenzeinheit fields.
func Normalise(row domain.InputRow) (domain.InputRow, error) {
	row.BezeichnungNorm = normaliseText(row.Bezeichnung)
	row.ProduktinfoNorm = normaliseText(row.Produktinformationen)
	row.RegionNorm = NormaliseRegion(row.Region)

	unit, err := NormaliseUnit(row.Referenzeinheit)
	if err != nil {
		return row, ghgerrors.NewRowError(ghgerrors.KindUnknownUnit, err)
	}
	row.UnitNorm = unit

	return row, nil
}

// normaliseText lowercases, trims and transliterates German umlauts/ß.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		if rep, ok := transliterations[r]; ok {
			b.WriteString(rep)
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// NormaliseRegion resolves a free-text region to a catalogue region code.
// Unknown values pass through as-is (lowercased comparisons only drive the
// alias lookup; the original casing of an unmapped value is preserved).
func NormaliseRegion(region string) string {
	trimmed := strings.TrimSpace(region)
	if trimmed == "" {
		return "GLO"
	}
	if code, ok := regionAliases[strings.ToLower(trimmed)]; ok {
		return code
	}
	return trimmed
}

// NormaliseUnit maps a free-text reference unit to its canonical form.
func NormaliseUnit(unit string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(unit))
	if canonical, ok := unitMap[key]; ok {
		return canonical, nil
	}
	return "", ErrUnknownUnit
}

// ScopeHint returns the retrieval-only text appended to a query for the
// given scope, or "" when no hint applies.
func ScopeHint(scope domain.Scope) string {
	return scopeHints[scope]
}
