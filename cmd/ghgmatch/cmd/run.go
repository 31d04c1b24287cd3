package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ghgmatch/core/internal/catalogue"
	"github.com/ghgmatch/core/internal/config"
	"github.com/ghgmatch/core/internal/domain"
	"github.com/ghgmatch/core/internal/embed"
	"github.com/ghgmatch/core/internal/jobstore"
	"github.com/ghgmatch/core/internal/oracle"
	"github.com/ghgmatch/core/internal/orchestrator"
	"github.com/ghgmatch/core/internal/retrieval"
	"github.com/ghgmatch/core/internal/scheduler"
)

// inputRowFixture is the JSON shape accepted by `run --input`. Spreadsheet
// upload parsing is an external collaborator per the core's scope; this is
// the minimal fixture format needed to exercise the pipeline end to end.
type inputRowFixture struct {
	Bezeichnung          string `json:"bezeichnung"`
	Referenzeinheit      string `json:"referenzeinheit"`
	Produktinformationen string `json:"produktinformationen"`
	Scope                string `json:"scope"`
	Kategorie            string `json:"kategorie"`
	Unterkategorie       string `json:"unterkategorie"`
	Region               string `json:"region"`
	Referenzjahr         string `json:"referenzjahr"`
}

func newRunCmd() *cobra.Command {
	var (
		inputPath string
		jobID     string
		mode      string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch matching job over a set of input rows",
		Long: `Load input rows from a JSON fixture, create a job, and drive it
through retrieval, LLM classification and emission calculation until every
row is calculated or, in review mode, the job suspends for external
resolution of ambiguous rows.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBatch(ctx, cmd, inputPath, jobID, mode)
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "path to a JSON array of input rows (required)")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job identifier (generated if omitted)")
	cmd.Flags().StringVar(&mode, "mode", "auto", "job mode: auto or review")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runBatch(ctx context.Context, cmd *cobra.Command, inputPath, jobID, mode string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	jobMode := domain.ModeAuto
	if mode == string(domain.ModeReview) {
		jobMode = domain.ModeReview
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}

	rows, err := loadInputRows(inputPath, jobID)
	if err != nil {
		return fmt.Errorf("load input rows: %w", err)
	}

	pipeline, cleanup, err := buildPipeline(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer cleanup()

	if err := pipeline.store.CreateJob(ctx, jobID, jobMode); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if err := pipeline.store.AddInputRows(ctx, jobID, rows); err != nil {
		return fmt.Errorf("add input rows: %w", err)
	}

	process := func(ctx context.Context, handle scheduler.WorkerHandle, row domain.InputRow) (orchestrator.Outcome, error) {
		orch := orchestrator.New(pipeline.retriever, pipeline.oracle, pipeline.catalogueStore, handle, jobMode)
		return orch.ProcessRow(ctx, row)
	}

	sched := scheduler.New(cfg.Scheduler.Workers, jobStoreAdapter{pipeline.store}, logger)
	status, err := sched.Run(ctx, jobID, jobMode, scheduler.NewSliceRowSource(rows), process)
	if err != nil {
		return fmt.Errorf("run job %s: %w", jobID, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "job %s finished: %s\n", jobID, status)
	return nil
}

func loadInputRows(path, jobID string) ([]domain.InputRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fixtures []inputRowFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("parse input fixture: %w", err)
	}

	rows := make([]domain.InputRow, len(fixtures))
	for i, f := range fixtures {
		rows[i] = domain.InputRow{
			ID:                   fmt.Sprintf("%s-%d", jobID, i),
			JobID:                jobID,
			RowIndex:             i,
			Bezeichnung:          f.Bezeichnung,
			Referenzeinheit:      f.Referenzeinheit,
			Produktinformationen: f.Produktinformationen,
			Scope:                domain.Scope(f.Scope),
			Kategorie:            f.Kategorie,
			Unterkategorie:       f.Unterkategorie,
			Region:               f.Region,
			Referenzjahr:         f.Referenzjahr,
			Status:               domain.RowPending,
		}
	}
	return rows, nil
}

// pipeline bundles the wired-together components a batch run drives rows
// through. Built fresh per CLI invocation; catalogue/retriever/oracle are
// safe for concurrent use by every scheduler worker.
type pipeline struct {
	catalogueStore *catalogue.Store
	retriever      *retrieval.Retriever
	oracle         *oracle.Oracle
	store          *jobstore.Store
}

func buildPipeline(ctx context.Context, cfg config.Config) (*pipeline, func(), error) {
	entries, err := catalogue.LoadEntriesFromSQLite(ctx, cfg.Catalogue.DataPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load catalogue entries: %w", err)
	}
	lexical, err := catalogue.OpenBleveLexicalIndex(cfg.Catalogue.BM25Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open lexical index: %w", err)
	}
	semantic, err := catalogue.LoadHNSWSemanticIndex(cfg.Catalogue.VecPath)
	if err != nil {
		lexical.Close()
		return nil, nil, fmt.Errorf("load vector index: %w", err)
	}
	catalogueStore, err := catalogue.New(entries, lexical, semantic)
	if err != nil {
		lexical.Close()
		return nil, nil, fmt.Errorf("build catalogue store: %w", err)
	}

	requestTimeout := requestTimeoutOrDefault(cfg.LLM.RequestTimeout)
	embedder := embed.NewOllamaEmbedder(cfg.LLM.Endpoint, cfg.LLM.Model, requestTimeout)
	retriever := retrieval.New(catalogueStore, embedder, cfg.Retrieval.RRFK, cfg.Retrieval.Pool, cfg.Retrieval.TopK)

	client := oracle.NewClient(cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.TopP, requestTimeout)
	rateLimiter := scheduler.NewRateLimiter(cfg.Scheduler.RateInterval)
	oracleClient := oracle.New(client, rateLimiter)

	store, err := jobstore.Open(ctx, cfg.Store.DSN, cfg.Store.BusyTimeout)
	if err != nil {
		lexical.Close()
		embedder.Close()
		client.Close()
		return nil, nil, fmt.Errorf("open job store: %w", err)
	}

	cleanup := func() {
		store.Close()
		lexical.Close()
		embedder.Close()
		client.Close()
	}

	return &pipeline{
		catalogueStore: catalogueStore,
		retriever:      retriever,
		oracle:         oracleClient,
		store:          store,
	}, cleanup, nil
}

func requestTimeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return oracle.RequestTimeoutDefault
	}
	return d
}
