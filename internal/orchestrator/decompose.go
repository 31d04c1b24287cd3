package orchestrator

import (
	"context"
	"fmt"

	"github.com/ghgmatch/core/internal/calculator"
	"github.com/ghgmatch/core/internal/domain"
	ghgerrors "github.com/ghgmatch/core/internal/errors"
	"github.com/ghgmatch/core/internal/normalize"
)

// processDecomposition runs each component through its own
// normalise/retrieve/decide/calculate pass at allow_decompose=false, then
// sums the results into the parent row's totals. Component ambiguities
// never block: the first plausible candidate the oracle listed is always
// selected regardless of job mode, since the parent row was the user's one
// resolution point.
func (o *Orchestrator) processDecomposition(ctx context.Context, row domain.InputRow, specs []domain.ComponentSpec) (Outcome, error) {
	if err := o.store.UpdateRowStatus(ctx, row.ID, domain.RowDecomposing, ""); err != nil {
		return Outcome{}, err
	}

	resolved := make([]calculator.ResolvedComponent, 0, len(specs))
	for i, spec := range specs {
		result, err := o.resolveComponent(ctx, row, spec, i)
		if err != nil {
			return o.fail(ctx, row.ID, ghgerrors.NewRowError(ghgerrors.KindComponentFailed, fmt.Errorf("component %q: %w", spec.Name, err)))
		}
		resolved = append(resolved, calculator.ResolvedComponent{Spec: spec, Result: result})
	}

	final := calculator.CalculateDecomposition(row, resolved)
	return o.finish(ctx, row.ID, final)
}

// resolveComponent synthesises a minimal sub-row inheriting the parent's
// region, scope and category, runs it through retrieval and decision with
// decompose disabled, and computes its own depth-1 result. The component's
// fractional quantity is folded into the final conversion factor alongside
// any unit conversion, per §4.6's "quantity applied as an additional
// multiplier" rule.
func (o *Orchestrator) resolveComponent(ctx context.Context, parent domain.InputRow, spec domain.ComponentSpec, index int) (domain.RowResult, error) {
	sub := domain.InputRow{
		ID:                   fmt.Sprintf("%s#%d", parent.ID, index),
		JobID:                parent.JobID,
		RowIndex:             parent.RowIndex,
		Bezeichnung:          spec.Name,
		Referenzeinheit:      parent.Referenzeinheit,
		Scope:                parent.Scope,
		Kategorie:            parent.Kategorie,
		Unterkategorie:       parent.Unterkategorie,
		Region:               parent.Region,
		Referenzjahr:         parent.Referenzjahr,
		Produktinformationen: spec.Note,
	}

	normalised, err := normalize.Normalise(sub)
	if err != nil {
		return domain.RowResult{}, err
	}

	candidates, err := o.retriever.Retrieve(ctx, normalised)
	if err != nil {
		return domain.RowResult{}, err
	}
	if len(candidates) == 0 {
		return domain.RowResult{}, ghgerrors.NewRowError(ghgerrors.KindNoCandidates, fmt.Errorf("no candidates for component %q", spec.Name))
	}

	decision, err := o.oracle.Decide(ctx, normalised, candidates, false)
	if err != nil {
		return domain.RowResult{}, err
	}

	selectedUUID, err := componentSelectedUUID(decision, candidates)
	if err != nil {
		return domain.RowResult{}, err
	}

	entry, ok := o.catalogue.ByUUID(selectedUUID)
	if !ok {
		return domain.RowResult{}, fmt.Errorf("selected uuid %q not found in catalogue", selectedUUID)
	}

	unitFactor, note, err := o.conversionFactor(ctx, normalised.BezeichnungNorm, normalised.UnitNorm, entry.Unit)
	if err != nil {
		return domain.RowResult{}, err
	}

	result := calculator.CalculateMatch(calculator.Input{
		Row:              normalised,
		Entry:            entry,
		ConversionFactor: unitFactor * spec.Quantity,
		ConversionNote:   note,
	})
	return result, nil
}

// componentSelectedUUID always resolves to a single uuid: a Match's
// selected_uuid directly, or an Ambiguous's first-listed plausible
// candidate, whatever its retrieval rank (see
// processDecomposition's doc comment for why auto-pick always applies
// here). Decompose is rejected by the oracle itself (allow_decompose=false)
// so it never reaches this function.
func componentSelectedUUID(decision domain.Decision, candidates domain.CandidateSet) (string, error) {
	switch decision.Type {
	case domain.DecisionMatch:
		return decision.SelectedUUID, nil
	case domain.DecisionAmbiguous:
		if len(decision.Plausible) == 0 {
			return "", fmt.Errorf("ambiguous component decision carried no plausible candidates")
		}
		return decision.Plausible[0].UUID, nil
	default:
		return "", fmt.Errorf("unexpected component decision type %q", decision.Type)
	}
}
