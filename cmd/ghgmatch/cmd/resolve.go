package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ghgmatch/core/internal/config"
	"github.com/ghgmatch/core/internal/orchestrator"
)

func newResolveCmd() *cobra.Command {
	var rowID, uuid string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve one ambiguous row to a chosen candidate",
		Long: `Invokes the external resolution interface for a single row
suspended in the ambiguous state: validates the chosen uuid against the
row's saved candidates, then runs it through calculation the same way an
auto-picked match would be.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResolve(cmd.Context(), cmd, rowID, uuid)
		},
	}
	cmd.Flags().StringVar(&rowID, "row-id", "", "row identifier (required)")
	cmd.Flags().StringVar(&uuid, "uuid", "", "catalogue uuid to resolve the row to (required)")
	cmd.MarkFlagRequired("row-id")
	cmd.MarkFlagRequired("uuid")
	return cmd
}

func runResolve(ctx context.Context, cmd *cobra.Command, rowID, uuid string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pipeline, cleanup, err := buildPipeline(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer cleanup()

	handle, err := pipeline.store.WorkerHandle(ctx)
	if err != nil {
		return fmt.Errorf("lease worker handle: %w", err)
	}
	defer handle.Close()

	candidates, err := handle.ResolveRow(ctx, rowID, uuid)
	if err != nil {
		return fmt.Errorf("resolve row %s: %w", rowID, err)
	}
	if candidates == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "row %s already calculated, nothing to do\n", rowID)
		return nil
	}

	row, err := handle.LoadRow(ctx, rowID)
	if err != nil {
		return fmt.Errorf("load row %s: %w", rowID, err)
	}

	orch := orchestrator.New(pipeline.retriever, pipeline.oracle, pipeline.catalogueStore, handle, "")
	outcome, err := orch.ResolveAmbiguous(ctx, row, candidates, uuid)
	if err != nil {
		return fmt.Errorf("calculate resolved row %s: %w", rowID, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "row %s resolved: %.4f t biogenic, %.4f t common\n",
		rowID, outcome.Result.BiogenicT, outcome.Result.CommonT)
	return nil
}
