package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ghgmatch/core/internal/config"
)

func newStatusCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a job's row aggregate counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jobID)
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "job identifier (required)")
	cmd.MarkFlagRequired("job-id")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jobID string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openJobStoreOnly(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	counters, err := store.JobCounters(ctx, jobID)
	if err != nil {
		return fmt.Errorf("read counters for job %s: %w", jobID, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "job %s: total=%d pending=%d processing=%d calculated=%d ambiguous=%d errors=%d\n",
		jobID, counters.Total, counters.Pending, counters.Processing, counters.Calculated, counters.Ambiguous, counters.Errors)
	return nil
}
