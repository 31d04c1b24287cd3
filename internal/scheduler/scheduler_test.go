package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghgmatch/core/internal/domain"
	"github.com/ghgmatch/core/internal/orchestrator"
)

type fakeHandle struct {
	mu       *sync.Mutex
	statuses map[string]domain.RowStatus
}

func (h *fakeHandle) UpdateRowStatus(ctx context.Context, rowID string, status domain.RowStatus, errMsg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses[rowID] = status
	return nil
}
func (h *fakeHandle) SaveCandidates(ctx context.Context, rowID string, candidates domain.CandidateSet) error {
	return nil
}
func (h *fakeHandle) SaveResult(ctx context.Context, rowID string, result domain.RowResult) error {
	return nil
}
func (h *fakeHandle) Close() error { return nil }

type fakeJobStore struct {
	mu       sync.Mutex
	statuses map[string]domain.RowStatus
	rowCount int
}

func newFakeJobStore(rowCount int) *fakeJobStore {
	return &fakeJobStore{statuses: make(map[string]domain.RowStatus), rowCount: rowCount}
}

func (f *fakeJobStore) WorkerHandle(ctx context.Context) (WorkerHandle, error) {
	return &fakeHandle{mu: &f.mu, statuses: f.statuses}, nil
}

func (f *fakeJobStore) JobCounters(ctx context.Context, jobID string) (JobCounters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := JobCounters{Total: f.rowCount}
	for _, s := range f.statuses {
		switch s {
		case domain.RowCalculated:
			c.Calculated++
		case domain.RowAmbiguous:
			c.Ambiguous++
		case domain.RowError:
			c.Errors++
		}
	}
	return c, nil
}

func testRows(n int) []domain.InputRow {
	rows := make([]domain.InputRow, n)
	for i := range rows {
		rows[i] = domain.InputRow{ID: intToID(i), RowIndex: i}
	}
	return rows
}

func intToID(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "row-" + string(letters[i%len(letters)])
}

func TestScheduler_ProcessesAllRows(t *testing.T) {
	store := newFakeJobStore(5)
	s := New(2, store, nil)

	var processed int32
	process := func(ctx context.Context, handle WorkerHandle, row domain.InputRow) (orchestrator.Outcome, error) {
		atomic.AddInt32(&processed, 1)
		handle.UpdateRowStatus(ctx, row.ID, domain.RowCalculated, "")
		return orchestrator.Outcome{Result: &domain.RowResult{RowID: row.ID}}, nil
	}

	status, err := s.Run(context.Background(), "job-1", domain.ModeAuto, NewSliceRowSource(testRows(5)), process)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, status)
	assert.Equal(t, int32(5), atomic.LoadInt32(&processed))
}

func TestScheduler_ReviewModeSuspendsOnAmbiguous(t *testing.T) {
	store := newFakeJobStore(3)
	s := New(2, store, nil)

	process := func(ctx context.Context, handle WorkerHandle, row domain.InputRow) (orchestrator.Outcome, error) {
		if row.ID == "row-a" {
			handle.UpdateRowStatus(ctx, row.ID, domain.RowAmbiguous, "")
			return orchestrator.Outcome{Suspended: true}, nil
		}
		handle.UpdateRowStatus(ctx, row.ID, domain.RowCalculated, "")
		return orchestrator.Outcome{Result: &domain.RowResult{RowID: row.ID}}, nil
	}

	status, err := s.Run(context.Background(), "job-2", domain.ModeReview, NewSliceRowSource(testRows(3)), process)
	require.NoError(t, err)
	assert.Equal(t, domain.JobAwaitingResolution, status)
}

func TestScheduler_WorkerCountBoundsConcurrency(t *testing.T) {
	store := newFakeJobStore(20)
	s := New(3, store, nil)

	var inFlight, maxInFlight int32
	var mu sync.Mutex
	process := func(ctx context.Context, handle WorkerHandle, row domain.InputRow) (orchestrator.Outcome, error) {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > maxInFlight {
			maxInFlight = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		handle.UpdateRowStatus(ctx, row.ID, domain.RowCalculated, "")
		return orchestrator.Outcome{Result: &domain.RowResult{RowID: row.ID}}, nil
	}

	_, err := s.Run(context.Background(), "job-3", domain.ModeAuto, NewSliceRowSource(testRows(20)), process)
	require.NoError(t, err)
	assert.LessOrEqual(t, int(maxInFlight), 3)
}

func TestScheduler_CancellationRollsRowToError(t *testing.T) {
	store := newFakeJobStore(5)
	s := New(2, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // pre-cancelled: every dispatched row should cancel immediately

	process := func(ctx context.Context, handle WorkerHandle, row domain.InputRow) (orchestrator.Outcome, error) {
		t.Fatal("process should never run against a pre-cancelled context")
		return orchestrator.Outcome{}, nil
	}

	_, _ = s.Run(ctx, "job-4", domain.ModeAuto, NewSliceRowSource(testRows(1)), process)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, domain.RowError, store.statuses["row-a"])
}

func TestSliceRowSource_DrainsInOrder(t *testing.T) {
	src := NewSliceRowSource(testRows(3))
	var seen []string
	for {
		row, ok := src.Next()
		if !ok {
			break
		}
		seen = append(seen, row.ID)
	}
	assert.Equal(t, []string{"row-a", "row-b", "row-c"}, seen)
}
