package cmd

import (
	"context"

	"github.com/ghgmatch/core/internal/config"
	"github.com/ghgmatch/core/internal/jobstore"
	"github.com/ghgmatch/core/internal/scheduler"
)

// openJobStoreOnly opens just the job store, for commands like status that
// need job/row counters but not the full retrieval/oracle pipeline.
func openJobStoreOnly(ctx context.Context, cfg config.Config) (*jobstore.Store, error) {
	return jobstore.Open(ctx, cfg.Store.DSN, cfg.Store.BusyTimeout)
}

// jobStoreAdapter satisfies scheduler.JobStore over a *jobstore.Store.
// jobstore deliberately has no dependency on the scheduler package, so the
// glue lives here in the composition root instead.
type jobStoreAdapter struct {
	store *jobstore.Store
}

func (a jobStoreAdapter) WorkerHandle(ctx context.Context) (scheduler.WorkerHandle, error) {
	return a.store.WorkerHandle(ctx)
}

func (a jobStoreAdapter) JobCounters(ctx context.Context, jobID string) (scheduler.JobCounters, error) {
	c, err := a.store.JobCounters(ctx, jobID)
	if err != nil {
		return scheduler.JobCounters{}, err
	}
	return scheduler.JobCounters{
		Total:      c.Total,
		Pending:    c.Pending,
		Processing: c.Processing,
		Calculated: c.Calculated,
		Ambiguous:  c.Ambiguous,
		Errors:     c.Errors,
	}, nil
}
