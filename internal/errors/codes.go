package errors

import "errors"

// Kind is one of the terminal error categories a row can end in. Every terminal row
// error carries exactly one Kind; kinds never propagate across row
// boundaries — the job always completes with per-row statuses.
type Kind string

const (
	KindUnknownUnit          Kind = "UnknownUnit"
	KindNoCandidates         Kind = "NoCandidates"
	KindLLMTransport         Kind = "LLMTransport"
	KindLLMMalformed         Kind = "LLMMalformed"
	KindDecompositionInvalid Kind = "DecompositionInvalid"
	KindUnitConversionFailed Kind = "UnitConversionFailed"
	KindComponentFailed      Kind = "ComponentFailed"
	KindCancelled            Kind = "Cancelled"
)

// RowError wraps an underlying cause with the row-terminal Kind it maps to.
type RowError struct {
	Kind  Kind
	Cause error
}

func (e *RowError) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Cause.Error()
}

func (e *RowError) Unwrap() error { return e.Cause }

// NewRowError builds a RowError for the given kind and cause.
func NewRowError(kind Kind, cause error) *RowError {
	return &RowError{Kind: kind, Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) a *RowError.
func KindOf(err error) (Kind, bool) {
	var re *RowError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}
