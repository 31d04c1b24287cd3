// Package scheduler is C7: it drives a fixed worker pool over a job's rows,
// provides the process-wide token bucket that paces outgoing LLM calls, and
// implements the review-mode suspension barrier. External resolution of
// suspended rows does not go through the scheduler; the resolve command
// drives it through the orchestrator directly.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ghgmatch/core/internal/domain"
	"github.com/ghgmatch/core/internal/orchestrator"
)

// RowSource hands out rows to process, in input order; workers drain it
// concurrently but do not need completion to happen in that order.
type RowSource interface {
	Next() (domain.InputRow, bool)
}

// JobStore is the slice of C8 the scheduler needs beyond what the
// orchestrator's RowStore already covers: per-worker handle leasing and the
// job-level counters used by the suspension barrier.
type JobStore interface {
	WorkerHandle(ctx context.Context) (WorkerHandle, error)
	JobCounters(ctx context.Context, jobID string) (JobCounters, error)
}

// JobCounters mirrors jobstore.JobCounters without importing it directly,
// keeping the scheduler decoupled from the storage engine.
type JobCounters struct {
	Total, Pending, Processing, Calculated, Ambiguous, Errors int
}

// WorkerHandle is the subset of a jobstore.WorkerHandle the scheduler and
// orchestrator need; jobstore.WorkerHandle satisfies it directly.
type WorkerHandle interface {
	orchestrator.RowStore
	Close() error
}

// RateLimiter gates every LLM call process-wide; golang.org/x/time/rate's
// token bucket is shared by all workers, through the oracle they each call
// into (see oracle.RateLimiter) rather than the scheduler itself. A single
// row may make several LLM calls (decompose sub-rows, correction retries),
// so pacing belongs at the call site, not once per row.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter refilling one token every interval, burst 1.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Scheduler runs a bounded pool of workers, each owning one row at a time
// end to end through the orchestrator.
type Scheduler struct {
	workers  int
	jobStore JobStore
	logger   *slog.Logger
}

// New builds a Scheduler with the given worker count. LLM pacing is
// enforced inside the oracle the RowProcessor closure is built around, not
// here.
func New(workers int, jobStore JobStore, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		workers:  workers,
		jobStore: jobStore,
		logger:   logger,
	}
}

// RowProcessor is the per-row unit of work a worker runs; it is built by
// the caller (typically a closure over an *orchestrator.Orchestrator bound
// to that worker's own WorkerHandle) so the scheduler never needs to know
// about retrieval/oracle/calculator internals directly.
type RowProcessor func(ctx context.Context, handle WorkerHandle, row domain.InputRow) (orchestrator.Outcome, error)

// Run drains source across the worker pool until exhausted, cancellation,
// or the review-mode suspension barrier trips. It returns the terminal job
// status.
func (s *Scheduler) Run(ctx context.Context, jobID string, mode domain.JobMode, source RowSource, process RowProcessor) (domain.JobStatus, error) {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.workers)

	// Every fetched row is always dispatched, even once gctx is cancelled:
	// runRow itself detects cancellation and rolls the row to error rather
	// than running process(), so there is no path where a dispatched row
	// is silently dropped.
	for {
		row, ok := source.Next()
		if !ok {
			break
		}

		sem <- struct{}{}
		row := row
		g.Go(func() error {
			defer func() { <-sem }()
			return s.runRow(gctx, jobID, row, process)
		})
	}

	if err := g.Wait(); err != nil {
		return domain.JobError, err
	}

	if ctx.Err() != nil {
		return domain.JobError, ctx.Err()
	}

	counters, err := s.jobStore.JobCounters(ctx, jobID)
	if err != nil {
		return domain.JobError, fmt.Errorf("read job counters for %s: %w", jobID, err)
	}
	if mode == domain.ModeReview && counters.Ambiguous > 0 {
		return domain.JobAwaitingResolution, nil
	}
	return domain.JobCompleted, nil
}

// runRow leases a worker-scoped store handle and runs the row to completion
// or suspension. A row picked up after cancellation is rolled to error with
// message "cancelled" without calling process(); a row whose process()
// fails once ctx is cancelled is rolled to error with message "cancelled"
// too. Cancellation reaches process() through ctx, so an in-flight LLM
// call is abandoned rather than run to completion.
func (s *Scheduler) runRow(ctx context.Context, jobID string, row domain.InputRow, process RowProcessor) error {
	if ctx.Err() != nil {
		return s.cancelRow(context.Background(), jobID, row)
	}

	handle, err := s.jobStore.WorkerHandle(ctx)
	if err != nil {
		return fmt.Errorf("lease worker handle for row %s: %w", row.ID, err)
	}
	defer handle.Close()

	_, err = process(ctx, handle, row)
	if err != nil {
		if ctx.Err() != nil {
			return handle.UpdateRowStatus(context.Background(), row.ID, domain.RowError, "cancelled")
		}
		s.logger.Warn("row failed", "row_id", row.ID, "job_id", jobID, "error", err)
		// process() already recorded the row's terminal error status via
		// the orchestrator's RowStore calls; the scheduler does not treat
		// a single row's failure as fatal to the job.
		return nil
	}
	return nil
}

func (s *Scheduler) cancelRow(ctx context.Context, jobID string, row domain.InputRow) error {
	handle, err := s.jobStore.WorkerHandle(ctx)
	if err != nil {
		return fmt.Errorf("lease worker handle to cancel row %s: %w", row.ID, err)
	}
	defer handle.Close()
	return handle.UpdateRowStatus(ctx, row.ID, domain.RowError, "cancelled")
}

// SliceRowSource is the simplest RowSource: an in-memory, input-ordered
// slice drained under a mutex so concurrent workers never race on index.
type SliceRowSource struct {
	mu   sync.Mutex
	rows []domain.InputRow
	next int
}

// NewSliceRowSource builds a RowSource over rows, drained in order.
func NewSliceRowSource(rows []domain.InputRow) *SliceRowSource {
	return &SliceRowSource{rows: rows}
}

// Next returns the next row in input order, or (zero, false) when drained.
func (s *SliceRowSource) Next() (domain.InputRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.rows) {
		return domain.InputRow{}, false
	}
	row := s.rows[s.next]
	s.next++
	return row, true
}
