package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghgmatch/core/internal/domain"
)

type fakeRetriever struct {
	candidates domain.CandidateSet
	err        error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, row domain.InputRow) (domain.CandidateSet, error) {
	return f.candidates, f.err
}

type fakeOracle struct {
	decisions    []domain.Decision // consumed in order across successive Decide calls
	decideCalls  int
	invocations  int
	convertQ     float64
	convertErr   error
	convertCalls int
}

func (f *fakeOracle) Decide(ctx context.Context, input domain.InputRow, candidates domain.CandidateSet, allowDecompose bool) (domain.Decision, error) {
	f.invocations++
	d := f.decisions[f.decideCalls]
	if f.decideCalls < len(f.decisions)-1 {
		f.decideCalls++
	}
	return d, nil
}

func (f *fakeOracle) ConvertUnit(ctx context.Context, description, fromUnit, toUnit string) (float64, error) {
	f.convertCalls++
	if f.convertErr != nil {
		return 0, f.convertErr
	}
	if f.convertQ == 0 {
		return 1.0, nil
	}
	return f.convertQ, nil
}

type fakeCatalogue struct {
	entries map[string]*domain.CatalogueEntry
}

func (f *fakeCatalogue) ByUUID(uuid string) (*domain.CatalogueEntry, bool) {
	e, ok := f.entries[uuid]
	return e, ok
}

type fakeStore struct {
	statuses   map[string]domain.RowStatus
	candidates map[string]domain.CandidateSet
	results    map[string]domain.RowResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses:   make(map[string]domain.RowStatus),
		candidates: make(map[string]domain.CandidateSet),
		results:    make(map[string]domain.RowResult),
	}
}

func (f *fakeStore) UpdateRowStatus(ctx context.Context, rowID string, status domain.RowStatus, errMsg string) error {
	f.statuses[rowID] = status
	return nil
}

func (f *fakeStore) SaveCandidates(ctx context.Context, rowID string, candidates domain.CandidateSet) error {
	f.candidates[rowID] = candidates
	return nil
}

func (f *fakeStore) SaveResult(ctx context.Context, rowID string, result domain.RowResult) error {
	f.results[rowID] = result
	return nil
}

func testCatalogueEntries() map[string]*domain.CatalogueEntry {
	return map[string]*domain.CatalogueEntry{
		"uuid-steel": {UUID: "uuid-steel", ActivityName: "steel production", Unit: "kg", BiogenicFactor: 0.1, CommonFactor: 1.0},
		"uuid-market": {UUID: "uuid-market", ActivityName: "steel market", Unit: "kg", IsMarket: true},
		"uuid-alt":   {UUID: "uuid-alt", ActivityName: "alt steel", Unit: "kg", BiogenicFactor: 0.2, CommonFactor: 2.0},
	}
}

func testCandidates() domain.CandidateSet {
	return domain.CandidateSet{
		{UUID: "uuid-steel", Rank: 1, Unit: "kg"},
		{UUID: "uuid-alt", Rank: 2, Unit: "kg"},
	}
}

func TestProcessRow_DirectMatch_SameUnit(t *testing.T) {
	retriever := &fakeRetriever{candidates: testCandidates()}
	oracle := &fakeOracle{decisions: []domain.Decision{{Type: domain.DecisionMatch, SelectedUUID: "uuid-steel"}}}
	catalogue := &fakeCatalogue{entries: testCatalogueEntries()}
	store := newFakeStore()

	o := New(retriever, oracle, catalogue, store, domain.ModeReview)
	row := domain.InputRow{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"}

	outcome, err := o.ProcessRow(context.Background(), row)
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	assert.False(t, outcome.Suspended)
	assert.Equal(t, domain.RowCalculated, store.statuses["row-1"])
	assert.Equal(t, 0, oracle.convertCalls)
}

func TestProcessRow_MatchWithUnitMismatch_TriggersConversion(t *testing.T) {
	retriever := &fakeRetriever{candidates: testCandidates()}
	oracle := &fakeOracle{
		decisions: []domain.Decision{{Type: domain.DecisionMatch, SelectedUUID: "uuid-steel"}},
		convertQ:  1000.0,
	}
	catalogue := &fakeCatalogue{entries: testCatalogueEntries()}
	store := newFakeStore()

	o := New(retriever, oracle, catalogue, store, domain.ModeReview)
	row := domain.InputRow{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "tonne"}

	outcome, err := o.ProcessRow(context.Background(), row)
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, 1, oracle.convertCalls)
}

func TestProcessRow_MarketMatch_RetriesThenDegradesToAmbiguous(t *testing.T) {
	retriever := &fakeRetriever{candidates: testCandidates()}
	oracle := &fakeOracle{decisions: []domain.Decision{
		{Type: domain.DecisionMatch, SelectedUUID: "uuid-market"},
		{Type: domain.DecisionMatch, SelectedUUID: "uuid-market"},
	}}
	catalogue := &fakeCatalogue{entries: testCatalogueEntries()}
	store := newFakeStore()

	o := New(retriever, oracle, catalogue, store, domain.ModeReview)
	row := domain.InputRow{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"}

	outcome, err := o.ProcessRow(context.Background(), row)
	require.NoError(t, err)
	assert.True(t, outcome.Suspended)
	assert.Equal(t, domain.RowAmbiguous, store.statuses["row-1"])
	assert.Equal(t, 2, oracle.invocations)
}

func TestProcessRow_Ambiguous_ReviewMode_Suspends(t *testing.T) {
	retriever := &fakeRetriever{candidates: testCandidates()}
	oracle := &fakeOracle{decisions: []domain.Decision{{
		Type:      domain.DecisionAmbiguous,
		Plausible: []domain.PlausibleCandidate{{UUID: "uuid-steel"}, {UUID: "uuid-alt"}},
	}}}
	catalogue := &fakeCatalogue{entries: testCatalogueEntries()}
	store := newFakeStore()

	o := New(retriever, oracle, catalogue, store, domain.ModeReview)
	row := domain.InputRow{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"}

	outcome, err := o.ProcessRow(context.Background(), row)
	require.NoError(t, err)
	assert.True(t, outcome.Suspended)
	assert.Nil(t, outcome.Result)
	assert.Equal(t, domain.RowAmbiguous, store.statuses["row-1"])
}

func TestProcessRow_Ambiguous_AutoMode_PicksRankOne(t *testing.T) {
	retriever := &fakeRetriever{candidates: testCandidates()}
	oracle := &fakeOracle{decisions: []domain.Decision{{
		Type:      domain.DecisionAmbiguous,
		Plausible: []domain.PlausibleCandidate{{UUID: "uuid-steel"}, {UUID: "uuid-alt"}},
	}}}
	catalogue := &fakeCatalogue{entries: testCatalogueEntries()}
	store := newFakeStore()

	o := New(retriever, oracle, catalogue, store, domain.ModeAuto)
	row := domain.InputRow{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"}

	outcome, err := o.ProcessRow(context.Background(), row)
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, "uuid-steel", outcome.Result.SelectedUUID)
}

func TestProcessRow_NoCandidates_Fails(t *testing.T) {
	retriever := &fakeRetriever{candidates: nil}
	oracle := &fakeOracle{}
	catalogue := &fakeCatalogue{entries: testCatalogueEntries()}
	store := newFakeStore()

	o := New(retriever, oracle, catalogue, store, domain.ModeReview)
	row := domain.InputRow{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"}

	_, err := o.ProcessRow(context.Background(), row)
	assert.Error(t, err)
	assert.Equal(t, domain.RowError, store.statuses["row-1"])
}

func TestProcessRow_UnknownUnit_FailsBeforeRetrieval(t *testing.T) {
	retriever := &fakeRetriever{candidates: testCandidates()}
	oracle := &fakeOracle{}
	catalogue := &fakeCatalogue{entries: testCatalogueEntries()}
	store := newFakeStore()

	o := New(retriever, oracle, catalogue, store, domain.ModeReview)
	row := domain.InputRow{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "furlongs"}

	_, err := o.ProcessRow(context.Background(), row)
	assert.Error(t, err)
	assert.Equal(t, domain.RowError, store.statuses["row-1"])
}

func TestProcessRow_Decompose_SumsComponents(t *testing.T) {
	retriever := &fakeRetriever{candidates: testCandidates()}
	oracle := &fakeOracle{decisions: []domain.Decision{
		{Type: domain.DecisionDecompose, Components: []domain.ComponentSpec{
			{Name: "beef", Quantity: 0.6, Category: domain.CategoryMaterials},
			{Name: "bun", Quantity: 0.4, Category: domain.CategoryMaterials},
		}},
		{Type: domain.DecisionMatch, SelectedUUID: "uuid-steel"}, // used for every sub-row Decide call
	}}
	catalogue := &fakeCatalogue{entries: testCatalogueEntries()}
	store := newFakeStore()

	o := New(retriever, oracle, catalogue, store, domain.ModeReview)
	row := domain.InputRow{ID: "row-1", Bezeichnung: "Burger", Referenzeinheit: "kg"}

	outcome, err := o.ProcessRow(context.Background(), row)
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, domain.DecisionDecompose, outcome.Result.DecisionType)
	assert.Len(t, outcome.Result.Components, 2)
	assert.Equal(t, domain.RowCalculated, store.statuses["row-1"])
}

func TestProcessRow_Decompose_SubRowAmbiguity_AlwaysAutoPicksFirstPlausible(t *testing.T) {
	retriever := &fakeRetriever{candidates: testCandidates()}
	oracle := &fakeOracle{decisions: []domain.Decision{
		{Type: domain.DecisionDecompose, Components: []domain.ComponentSpec{
			{Name: "beef", Quantity: 1.0, Category: domain.CategoryMaterials},
		}},
		{Type: domain.DecisionAmbiguous, Plausible: []domain.PlausibleCandidate{{UUID: "uuid-alt"}, {UUID: "uuid-steel"}}},
	}}
	catalogue := &fakeCatalogue{entries: testCatalogueEntries()}
	store := newFakeStore()

	// review mode: component ambiguity must still resolve, never suspend.
	o := New(retriever, oracle, catalogue, store, domain.ModeReview)
	row := domain.InputRow{ID: "row-1", Bezeichnung: "Burger", Referenzeinheit: "kg"}

	outcome, err := o.ProcessRow(context.Background(), row)
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	assert.False(t, outcome.Suspended)
	require.Len(t, outcome.Result.Components, 1)
	assert.Equal(t, "uuid-alt", outcome.Result.Components[0].Result.SelectedUUID)
}

func TestResolveAmbiguous_RunsTailWithoutDecide(t *testing.T) {
	retriever := &fakeRetriever{}
	oracle := &fakeOracle{}
	catalogue := &fakeCatalogue{entries: testCatalogueEntries()}
	store := newFakeStore()

	o := New(retriever, oracle, catalogue, store, domain.ModeReview)
	row := domain.InputRow{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg", UnitNorm: "kg"}
	candidates := testCandidates()

	outcome, err := o.ResolveAmbiguous(context.Background(), row, candidates, "uuid-alt")
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, "uuid-alt", outcome.Result.SelectedUUID)
	assert.Equal(t, 0, oracle.invocations)
}
