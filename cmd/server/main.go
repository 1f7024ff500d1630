package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loyaltyops/accrual-core/extract"
	"github.com/loyaltyops/accrual-core/internal/config"
	"github.com/loyaltyops/accrual-core/internal/logger"
	"github.com/loyaltyops/accrual-core/jobs"
	"github.com/loyaltyops/accrual-core/ledger"
	"github.com/loyaltyops/accrual-core/processor"
	"github.com/loyaltyops/accrual-core/rules"
	"github.com/loyaltyops/accrual-core/store/postgres"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Env == "dev",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", "error", err)
	}
}

func run(cfg *config.Config, log logger.Interface) error {
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ruleSets := rules.NewPostgresStore(db)
	txns := postgres.NewTransactionStore(db)
	accruals := postgres.NewAccrualStore(db)
	jobStore := postgres.NewJobStore(db)
	execStore := postgres.NewExecutionStore(db)

	registry := rules.NewRegistry()
	celHandler, err := rules.NewCELHandler()
	if err != nil {
		return fmt.Errorf("build CEL handler: %w", err)
	}
	celHandler.Register(registry)

	evaluator := rules.NewEvaluator(registry)
	proc := processor.New(evaluator, log)

	gateway := ledger.NewClient(cfg.Ledger.BaseURL, cfg.Ledger.Timeout, log)
	batchRunner := processor.NewBatchRunner(txns, ruleSets, accruals, gateway, proc, log)
	pipeline := extract.NewPipeline(txns, log)

	orch := jobs.NewOrchestrator(jobStore, execStore, log)
	registerRunners(orch, pipeline, batchRunner)

	scheduler := jobs.NewScheduler(jobStore, execStore, orch, cfg.Scheduler.SweepInterval, log)

	server := NewServer(db, ruleSets, txns, jobStore, execStore, orch, proc, log)

	httpServer := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      server,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "address", cfg.HTTPServer.Address, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}

	scheduler.Stop()
	// Running executions finish their current batch, then persist a
	// CANCELLED terminal status.
	orch.Shutdown()

	log.Info("server stopped")
	return nil
}

// registerRunners binds each job type to the component that executes
// it.
func registerRunners(orch *jobs.Orchestrator, pipeline *extract.Pipeline, batchRunner *processor.BatchRunner) {
	extraction := func(incremental bool) jobs.RunnerFunc {
		return func(ctx context.Context, job *jobs.Job, _ *jobs.Execution) (jobs.RunStats, error) {
			srcCfg, err := extract.ParseSourceConfig(job.DataSourceConfig)
			if err != nil {
				return jobs.RunStats{}, err
			}
			result, err := pipeline.RunOnce(ctx, job.CampaignID, srcCfg, incremental)
			if result == nil {
				return jobs.RunStats{}, err
			}
			return jobs.RunStats{
				Processed: result.RecordsProcessed,
				Succeeded: result.RecordsInserted,
				Failed:    result.Errors,
			}, err
		}
	}

	orch.RegisterRunner(jobs.TypeInitialLoad, extraction(false))
	orch.RegisterRunner(jobs.TypeIncrementalUpdate, extraction(true))

	orch.RegisterRunner(jobs.TypeRulesProcessing, jobs.RunnerFunc(
		func(ctx context.Context, job *jobs.Job, _ *jobs.Execution) (jobs.RunStats, error) {
			stats, err := batchRunner.Run(ctx, job.CampaignID, job.BatchSize, job.MaxConcurrency)
			return jobs.RunStats(stats), err
		}))

	orch.RegisterRunner(jobs.TypeLedgerSync, jobs.RunnerFunc(
		func(ctx context.Context, job *jobs.Job, _ *jobs.Execution) (jobs.RunStats, error) {
			stats, err := batchRunner.SyncLedger(ctx, job.CampaignID, job.BatchSize)
			return jobs.RunStats(stats), err
		}))
}
