package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arthurhealth/caregraph-etl/internal/config"
	"github.com/arthurhealth/caregraph-etl/internal/data/db"
	"github.com/arthurhealth/caregraph-etl/internal/data/graph"
	"github.com/arthurhealth/caregraph-etl/internal/data/repos/runlog"
	"github.com/arthurhealth/caregraph-etl/internal/data/warehouse"
	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/enrich"
	"github.com/arthurhealth/caregraph-etl/internal/etlerr"
	"github.com/arthurhealth/caregraph-etl/internal/modules"
	"github.com/arthurhealth/caregraph-etl/internal/observability"
	"github.com/arthurhealth/caregraph-etl/internal/pipeline"
	"github.com/arthurhealth/caregraph-etl/internal/pkg/dbctx"
	"github.com/arthurhealth/caregraph-etl/internal/platform/azopenai"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
	"github.com/arthurhealth/caregraph-etl/internal/platform/neo4jdb"
	"github.com/arthurhealth/caregraph-etl/internal/platform/redisdb"
	"github.com/arthurhealth/caregraph-etl/internal/recorder"
)

func newRunCmd() *cobra.Command {
	var (
		flagMode        string
		flagSince       string
		flagRunID       string
		flagWorkers     int
		flagUnitTimeout time.Duration
		flagPipeline    string
		flagDryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "execute one pipeline run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			if flagWorkers > 0 {
				cfg.Pipeline.Workers = flagWorkers
			}
			if flagUnitTimeout > 0 {
				cfg.Pipeline.UnitTimeout = flagUnitTimeout
			}
			if err := cfg.ValidateForRun(); err != nil {
				return err
			}

			mode := domain.RunMode(flagMode)
			if mode != domain.RunModeFull && mode != domain.RunModeIncremental {
				return fmt.Errorf("invalid --mode %q: want full or incremental", flagMode)
			}

			runID := strings.TrimSpace(flagRunID)
			if runID == "" {
				runID = newRunID()
			}

			ctx := cmd.Context()
			shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
				ServiceName: "caregraph-etl",
			})
			if shutdown != nil {
				defer func() { _ = shutdown(context.Background()) }()
			}

			return executeRun(ctx, cfg, log, runParams{
				runID:    runID,
				mode:     mode,
				since:    flagSince,
				override: flagPipeline,
				dryRun:   flagDryRun,
			})
		},
	}

	cmd.Flags().StringVar(&flagMode, "mode", string(domain.RunModeIncremental), "extraction mode: full or incremental")
	cmd.Flags().StringVar(&flagSince, "since", "", "RFC3339 watermark override; substitutes for the stored watermark without writing it")
	cmd.Flags().StringVar(&flagRunID, "run-id", "", "run identifier (default: UTC timestamp plus a short suffix)")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "bounded pool size for concurrent stages")
	cmd.Flags().DurationVar(&flagUnitTimeout, "unit-timeout", 0, "per-unit timeout")
	cmd.Flags().StringVar(&flagPipeline, "pipeline", "", "YAML pipeline definition override")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "plan and count extractions only; no enrichment, load, or recording")
	return cmd
}

type runParams struct {
	runID    string
	mode     domain.RunMode
	since    string
	override string
	dryRun   bool
}

func executeRun(ctx context.Context, cfg *config.Config, log *logger.Logger, p runParams) error {
	ledgerDB, err := db.Open(cfg.LedgerDSN(), log)
	if err != nil {
		return err
	}
	warehouseDB := ledgerDB
	if cfg.Warehouse.ResolveDSN() != cfg.LedgerDSN() {
		warehouseDB, err = db.Open(cfg.Warehouse.ResolveDSN(), log)
		if err != nil {
			return err
		}
	}

	marks := runlog.NewWatermarkRepo(ledgerDB, log)
	runs := runlog.NewRunLogRepo(ledgerDB, log)
	rec, err := recorder.New(runs, marks, log)
	if err != nil {
		return err
	}

	// Watermark: the --since flag substitutes without writing; otherwise the
	// stored value, absent on a first run.
	var lastRun *time.Time
	if strings.TrimSpace(p.since) != "" {
		ts, err := time.Parse(time.RFC3339, p.since)
		if err != nil {
			return fmt.Errorf("invalid --since %q: %w", p.since, err)
		}
		lastRun = &ts
	} else {
		ts, ok, err := marks.Latest(dbctx.New(ctx), cfg.Pipeline.Name)
		if err != nil {
			return err
		}
		if ok {
			lastRun = &ts
		}
	}

	sel := warehouse.Plan(p.mode, lastRun)
	if p.mode == domain.RunModeIncremental && sel.EffectiveMode == domain.RunModeFull {
		log.Warn("no watermark available; incremental run downgraded to full extraction",
			"pipeline", cfg.Pipeline.Name,
		)
	}

	reader := warehouse.NewReader(warehouseDB, cfg.Warehouse.Schema, log)

	if p.dryRun {
		return dryRun(ctx, reader, sel, log)
	}

	graphClient, err := neo4jdb.New(cfg.Graph, log)
	if err != nil {
		return err
	}
	defer graphClient.Close(context.Background())

	loader, err := graph.NewLoader(graphClient, cfg.Pipeline.ExtractionSource, log)
	if err != nil {
		return err
	}

	embedClient, err := azopenai.New(cfg.Embedding, log)
	if err != nil {
		return err
	}
	if embedClient == nil {
		log.Warn("no embedding endpoint configured; enrichment degrades to fallback vectors")
	}
	enricher, err := enrich.New(embedClient, enrich.Config{
		Dimensions: cfg.Embedding.Dimensions,
		MaxChars:   cfg.Embedding.MaxChars,
		BatchSize:  cfg.Embedding.BatchSize,
	}, log)
	if err != nil {
		return err
	}

	def, err := modules.Definition(modules.Deps{
		PipelineName: cfg.Pipeline.Name,
		Reader:       reader,
		Enricher:     enricher,
		Loader:       loader,
		Dimensions:   cfg.Embedding.Dimensions,
		Log:          log,
	}, sel)
	if err != nil {
		return err
	}
	if p.override != "" {
		ov, err := pipeline.LoadOverride(p.override)
		if err != nil {
			return err
		}
		if def, err = def.Apply(ov); err != nil {
			return err
		}
	}

	// One run per pipeline at a time when Redis is configured; the graph
	// upserts are convergent, the lock just avoids wasted duplicate work.
	lock, err := redisdb.New(cfg.Redis, log)
	if err != nil {
		return err
	}
	defer lock.Close()
	ok, err := lock.Acquire(ctx, cfg.Pipeline.Name, p.runID)
	if err != nil {
		return err
	}
	if !ok {
		return etlerr.NewOrchestration("another run of pipeline %q is in progress", cfg.Pipeline.Name)
	}
	defer lock.Release(context.Background(), cfg.Pipeline.Name, p.runID)

	loader.EnsureSchema(ctx, modules.NodeMappings())

	runner, err := pipeline.NewRunner(pipeline.Options{
		Workers:     cfg.Pipeline.Workers,
		UnitTimeout: cfg.Pipeline.UnitTimeout,
	}, log)
	if err != nil {
		return err
	}

	summary, runErr := runner.Run(ctx, def, pipeline.RunInfo{
		RunID:         p.runID,
		Mode:          p.mode,
		EffectiveMode: sel.EffectiveMode,
		WatermarkUsed: lastRun,
	})
	if summary != nil {
		rec.Record(context.Background(), summary)
		rec.AdvanceOnSuccess(context.Background(), summary)
	}
	return runErr
}

func dryRun(ctx context.Context, reader *warehouse.Reader, sel warehouse.Selection, log *logger.Logger) error {
	for unit, spec := range modules.FetchSpecs() {
		n, err := reader.Count(ctx, spec, sel)
		if err != nil {
			return err
		}
		log.Info("dry run extraction count",
			"unit", unit,
			"table", spec.Table,
			"mode", sel.EffectiveMode,
			"rows", n,
		)
	}
	return nil
}

func newRunID() string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return time.Now().UTC().Format("20060102_150405") + "_" + suffix
}
