// Package orchestrator is C6: it drives one InputRow through the
// normalise → retrieve → decide → calculate state machine, handling match
// validation, decomposition sub-rows and the auto/review ambiguity split.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/ghgmatch/core/internal/calculator"
	"github.com/ghgmatch/core/internal/domain"
	ghgerrors "github.com/ghgmatch/core/internal/errors"
	"github.com/ghgmatch/core/internal/normalize"
)

// Retriever is the C3 surface the orchestrator depends on.
type Retriever interface {
	Retrieve(ctx context.Context, row domain.InputRow) (domain.CandidateSet, error)
}

// Oracle is the C4 surface the orchestrator depends on.
type Oracle interface {
	Decide(ctx context.Context, input domain.InputRow, candidates domain.CandidateSet, allowDecompose bool) (domain.Decision, error)
	ConvertUnit(ctx context.Context, description, fromUnit, toUnit string) (float64, error)
}

// CatalogueLookup resolves a selected UUID to its entry.
type CatalogueLookup interface {
	ByUUID(uuid string) (*domain.CatalogueEntry, bool)
}

// RowStore is the slice of C8 the orchestrator writes through while driving
// a row; a worker owns its own handle (see jobstore), so these calls never
// cross goroutine boundaries.
type RowStore interface {
	UpdateRowStatus(ctx context.Context, rowID string, status domain.RowStatus, errMsg string) error
	SaveCandidates(ctx context.Context, rowID string, candidates domain.CandidateSet) error
	SaveResult(ctx context.Context, rowID string, result domain.RowResult) error
}

// Outcome is what ProcessRow produces: either a terminal RowResult, or a
// suspension in the ambiguous state awaiting external resolution.
type Outcome struct {
	Result    *domain.RowResult
	Suspended bool
}

// Orchestrator runs C6 for one row at a time; it holds no per-row mutable
// state of its own, so a single instance may be shared across workers as
// long as the RowStore/Retriever/Oracle it wraps are themselves safe for
// concurrent use.
type Orchestrator struct {
	retriever Retriever
	oracle    Oracle
	catalogue CatalogueLookup
	store     RowStore
	mode      domain.JobMode
}

// New builds an Orchestrator for the given job mode.
func New(retriever Retriever, oracle Oracle, catalogue CatalogueLookup, store RowStore, mode domain.JobMode) *Orchestrator {
	return &Orchestrator{retriever: retriever, oracle: oracle, catalogue: catalogue, store: store, mode: mode}
}

// ProcessRow drives one top-level row from pending to a terminal state or a
// review-mode suspension. Component sub-rows are handled internally by
// processDecomposition and never surfaced here.
func (o *Orchestrator) ProcessRow(ctx context.Context, row domain.InputRow) (Outcome, error) {
	normalised, err := normalize.Normalise(row)
	if err != nil {
		return o.fail(ctx, row.ID, err)
	}

	if err := o.store.UpdateRowStatus(ctx, row.ID, domain.RowSearching, ""); err != nil {
		return Outcome{}, err
	}
	candidates, err := o.retriever.Retrieve(ctx, normalised)
	if err != nil {
		return o.fail(ctx, row.ID, ghgerrors.NewRowError(ghgerrors.KindNoCandidates, err))
	}
	if len(candidates) == 0 {
		return o.fail(ctx, row.ID, ghgerrors.NewRowError(ghgerrors.KindNoCandidates, fmt.Errorf("no candidates for row %s", row.ID)))
	}
	if err := o.store.SaveCandidates(ctx, row.ID, candidates); err != nil {
		return Outcome{}, err
	}

	if err := o.store.UpdateRowStatus(ctx, row.ID, domain.RowLLMDeciding, ""); err != nil {
		return Outcome{}, err
	}
	decision, err := o.decideWithMatchValidation(ctx, normalised, candidates, true)
	if err != nil {
		return o.fail(ctx, row.ID, err)
	}

	return o.applyDecision(ctx, normalised, candidates, decision)
}

// decideWithMatchValidation calls decide and, if it returns a Match whose
// selected_uuid is a market entry, retries decide once before degrading to
// an Ambiguous built from the top candidates.
func (o *Orchestrator) decideWithMatchValidation(ctx context.Context, row domain.InputRow, candidates domain.CandidateSet, allowDecompose bool) (domain.Decision, error) {
	decision, err := o.oracle.Decide(ctx, row, candidates, allowDecompose)
	if err != nil {
		return domain.Decision{}, err
	}
	if decision.Type != domain.DecisionMatch || !o.isMarketEntry(decision.SelectedUUID) {
		return decision, nil
	}

	retried, err := o.oracle.Decide(ctx, row, candidates, allowDecompose)
	if err != nil {
		return domain.Decision{}, err
	}
	if retried.Type == domain.DecisionMatch && o.isMarketEntry(retried.SelectedUUID) {
		return degradeToAmbiguous(candidates), nil
	}
	return retried, nil
}

func (o *Orchestrator) isMarketEntry(uuid string) bool {
	entry, ok := o.catalogue.ByUUID(uuid)
	return ok && entry.IsMarket
}

func degradeToAmbiguous(candidates domain.CandidateSet) domain.Decision {
	limit := len(candidates)
	if limit > 3 {
		limit = 3
	}
	plausible := make([]domain.PlausibleCandidate, 0, limit)
	for _, c := range candidates[:limit] {
		plausible = append(plausible, domain.PlausibleCandidate{UUID: c.UUID, WhyShort: "candidate match validation failed"})
	}
	return domain.Decision{Type: domain.DecisionAmbiguous, Plausible: plausible, AmbiguousRationale: "selected match repeatedly resolved to a market entry"}
}

// applyDecision dispatches on decision.Type and drives the row to its next
// state.
func (o *Orchestrator) applyDecision(ctx context.Context, row domain.InputRow, candidates domain.CandidateSet, decision domain.Decision) (Outcome, error) {
	switch decision.Type {
	case domain.DecisionMatch:
		return o.resolveMatch(ctx, row, candidates, decision.SelectedUUID)

	case domain.DecisionAmbiguous:
		if o.mode == domain.ModeAuto {
			return o.resolveMatch(ctx, row, candidates, rankOneUUID(candidates))
		}
		if err := o.store.UpdateRowStatus(ctx, row.ID, domain.RowAmbiguous, ""); err != nil {
			return Outcome{}, err
		}
		return Outcome{Suspended: true}, nil

	case domain.DecisionDecompose:
		return o.processDecomposition(ctx, row, decision.Components)

	default:
		return o.fail(ctx, row.ID, ghgerrors.NewRowError(ghgerrors.KindLLMMalformed, fmt.Errorf("unrecognised decision type %q", decision.Type)))
	}
}

func rankOneUUID(candidates domain.CandidateSet) string {
	for _, c := range candidates {
		if c.Rank == 1 {
			return c.UUID
		}
	}
	return candidates[0].UUID
}

// resolveMatch converts units if needed and computes the final result for a
// direct match.
func (o *Orchestrator) resolveMatch(ctx context.Context, row domain.InputRow, candidates domain.CandidateSet, selectedUUID string) (Outcome, error) {
	entry, ok := o.catalogue.ByUUID(selectedUUID)
	if !ok {
		return o.fail(ctx, row.ID, ghgerrors.NewRowError(ghgerrors.KindLLMMalformed, fmt.Errorf("selected uuid %q not found in catalogue", selectedUUID)))
	}

	if err := o.store.UpdateRowStatus(ctx, row.ID, domain.RowMatched, ""); err != nil {
		return Outcome{}, err
	}

	q, note, err := o.conversionFactor(ctx, row.BezeichnungNorm, row.UnitNorm, entry.Unit)
	if err != nil {
		return o.fail(ctx, row.ID, err)
	}

	result := calculator.CalculateMatch(calculator.Input{Row: row, Entry: entry, ConversionFactor: q, ConversionNote: note})
	result.Candidates = candidates
	return o.finish(ctx, row.ID, result)
}

// conversionFactor returns 1.0 with no call when the units already agree,
// otherwise defers to the oracle's convert_unit.
func (o *Orchestrator) conversionFactor(ctx context.Context, description, fromUnit, toUnit string) (float64, string, error) {
	if fromUnit == toUnit {
		return 1.0, "", nil
	}
	q, err := o.oracle.ConvertUnit(ctx, description, fromUnit, toUnit)
	if err != nil {
		return 0, "", err
	}
	return q, fmt.Sprintf("converted %s -> %s", fromUnit, toUnit), nil
}

func (o *Orchestrator) finish(ctx context.Context, rowID string, result domain.RowResult) (Outcome, error) {
	if err := o.store.SaveResult(ctx, rowID, result); err != nil {
		return Outcome{}, err
	}
	if err := o.store.UpdateRowStatus(ctx, rowID, domain.RowCalculated, ""); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: &result}, nil
}

func (o *Orchestrator) fail(ctx context.Context, rowID string, err error) (Outcome, error) {
	_ = o.store.UpdateRowStatus(ctx, rowID, domain.RowError, err.Error())
	return Outcome{}, err
}

// ResolveAmbiguous runs the post-ambiguity tail for a row an external caller
// has resolved to selectedUUID: unit conversion plus compute, without
// re-invoking decide. candidates must be the set originally saved for the
// row (the resolve interface rejects UUIDs outside it before this is ever
// called).
func (o *Orchestrator) ResolveAmbiguous(ctx context.Context, row domain.InputRow, candidates domain.CandidateSet, selectedUUID string) (Outcome, error) {
	return o.resolveMatch(ctx, row, candidates, selectedUUID)
}
