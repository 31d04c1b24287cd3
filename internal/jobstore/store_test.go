package jobstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghgmatch/core/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "jobs.sqlite")
	store, err := Open(context.Background(), dsn, 30*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_CreateJobAndAddRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, "job-1", domain.ModeReview))

	rows := []domain.InputRow{
		{ID: "row-1", RowIndex: 0, Bezeichnung: "Stahl", Referenzeinheit: "kg"},
		{ID: "row-2", RowIndex: 1, Bezeichnung: "Diesel", Referenzeinheit: "l"},
	}
	require.NoError(t, store.AddInputRows(ctx, "job-1", rows))

	counters, err := store.JobCounters(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, counters.Total)
	assert.Equal(t, 2, counters.Pending)
}

func TestWorkerHandle_UpdateStatusAndCounters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, "job-2", domain.ModeAuto))
	require.NoError(t, store.AddInputRows(ctx, "job-2", []domain.InputRow{
		{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"},
	}))

	handle, err := store.WorkerHandle(ctx)
	require.NoError(t, err)
	defer handle.Close()

	require.NoError(t, handle.UpdateRowStatus(ctx, "row-1", domain.RowCalculated, ""))

	counters, err := store.JobCounters(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Calculated)
	assert.Equal(t, 0, counters.Pending)
}

func TestWorkerHandle_SaveAndLoadCandidates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, "job-3", domain.ModeReview))
	require.NoError(t, store.AddInputRows(ctx, "job-3", []domain.InputRow{
		{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"},
	}))

	handle, err := store.WorkerHandle(ctx)
	require.NoError(t, err)
	defer handle.Close()

	candidates := domain.CandidateSet{{UUID: "uuid-1", Rank: 1}, {UUID: "uuid-2", Rank: 2}}
	require.NoError(t, handle.SaveCandidates(ctx, "row-1", candidates))

	loaded, err := handle.LoadCandidates(ctx, "row-1")
	require.NoError(t, err)
	assert.Equal(t, candidates, loaded)
}

func TestWorkerHandle_SaveResult(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, "job-4", domain.ModeAuto))
	require.NoError(t, store.AddInputRows(ctx, "job-4", []domain.InputRow{
		{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"},
	}))

	handle, err := store.WorkerHandle(ctx)
	require.NoError(t, err)
	defer handle.Close()

	result := domain.RowResult{
		RowID: "row-1", DecisionType: domain.DecisionMatch, SelectedUUID: "uuid-1",
		BiogenicT: 0.001, CommonT: 0.002, Beschreibung: "steel", Quelle: "uuid-1",
		DetailedCalc: "calc",
	}
	require.NoError(t, handle.SaveResult(ctx, "row-1", result))
}

func TestWorkerHandle_ResolveRow_RejectsNonAmbiguous(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, "job-5", domain.ModeReview))
	require.NoError(t, store.AddInputRows(ctx, "job-5", []domain.InputRow{
		{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"},
	}))

	handle, err := store.WorkerHandle(ctx)
	require.NoError(t, err)
	defer handle.Close()

	_, err = handle.ResolveRow(ctx, "row-1", "uuid-1")
	assert.ErrorIs(t, err, ErrRowNotAmbiguous)
}

func TestWorkerHandle_ResolveRow_RejectsUnknownUUID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, "job-6", domain.ModeReview))
	require.NoError(t, store.AddInputRows(ctx, "job-6", []domain.InputRow{
		{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"},
	}))

	handle, err := store.WorkerHandle(ctx)
	require.NoError(t, err)
	require.NoError(t, handle.UpdateRowStatus(ctx, "row-1", domain.RowAmbiguous, ""))
	require.NoError(t, handle.SaveCandidates(ctx, "row-1", domain.CandidateSet{{UUID: "uuid-1", Rank: 1}}))
	defer handle.Close()

	_, err = handle.ResolveRow(ctx, "row-1", "uuid-unknown")
	assert.ErrorIs(t, err, ErrUUIDNotCandidate)
}

func TestWorkerHandle_ResolveRow_AcceptsKnownCandidate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, "job-7", domain.ModeReview))
	require.NoError(t, store.AddInputRows(ctx, "job-7", []domain.InputRow{
		{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"},
	}))

	handle, err := store.WorkerHandle(ctx)
	require.NoError(t, err)
	defer handle.Close()

	require.NoError(t, handle.UpdateRowStatus(ctx, "row-1", domain.RowAmbiguous, ""))
	candidates := domain.CandidateSet{{UUID: "uuid-1", Rank: 1}, {UUID: "uuid-2", Rank: 2}}
	require.NoError(t, handle.SaveCandidates(ctx, "row-1", candidates))

	resolved, err := handle.ResolveRow(ctx, "row-1", "uuid-2")
	require.NoError(t, err)
	assert.Equal(t, candidates, resolved)
}

func TestWorkerHandle_ResolveRow_IdempotentOnCalculated(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, "job-8", domain.ModeReview))
	require.NoError(t, store.AddInputRows(ctx, "job-8", []domain.InputRow{
		{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"},
	}))

	handle, err := store.WorkerHandle(ctx)
	require.NoError(t, err)
	defer handle.Close()

	require.NoError(t, handle.UpdateRowStatus(ctx, "row-1", domain.RowCalculated, ""))

	resolved, err := handle.ResolveRow(ctx, "row-1", "uuid-whatever")
	assert.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestWorkerHandle_ListAmbiguous(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, "job-9", domain.ModeReview))
	require.NoError(t, store.AddInputRows(ctx, "job-9", []domain.InputRow{
		{ID: "row-1", Bezeichnung: "Stahl", Referenzeinheit: "kg"},
		{ID: "row-2", Bezeichnung: "Diesel", Referenzeinheit: "l"},
	}))

	handle, err := store.WorkerHandle(ctx)
	require.NoError(t, err)
	defer handle.Close()

	require.NoError(t, handle.UpdateRowStatus(ctx, "row-1", domain.RowAmbiguous, ""))

	ambiguous, err := handle.ListAmbiguous(ctx, "job-9")
	require.NoError(t, err)
	require.Len(t, ambiguous, 1)
	assert.Equal(t, "row-1", ambiguous[0].ID)
}
