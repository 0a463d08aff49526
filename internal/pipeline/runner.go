package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/etlerr"
	"github.com/arthurhealth/caregraph-etl/internal/observability"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
)

type Options struct {
	Workers     int           // bounded pool size for concurrent stages
	UnitTimeout time.Duration // default per-unit timeout, units may override
}

// RunInfo carries the run-level inputs the scheduler does not own: identity,
// requested and effective mode, and the watermark the planner consumed.
type RunInfo struct {
	RunID         string
	Mode          domain.RunMode
	EffectiveMode domain.RunMode
	WatermarkUsed *time.Time
}

type Runner struct {
	workers     int
	unitTimeout time.Duration
	log         *logger.Logger
}

func NewRunner(opts Options, baseLog *logger.Logger) (*Runner, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("pipeline runner: logger required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.UnitTimeout <= 0 {
		opts.UnitTimeout = 30 * time.Minute
	}
	return &Runner{
		workers:     opts.Workers,
		unitTimeout: opts.UnitTimeout,
		log:         baseLog.With("service", "PipelineRunner"),
	}, nil
}

// Run executes the definition and always returns a complete RunSummary, on
// failure included. The error is an orchestration error for a critical-stage
// abort, a plain run-failed error when only non-critical stages failed, and
// nil on full success.
func (r *Runner) Run(ctx context.Context, def Definition, info RunInfo) (*domain.RunSummary, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	summary := &domain.RunSummary{
		RunID:         info.RunID,
		PipelineName:  def.PipelineName,
		Mode:          info.Mode,
		EffectiveMode: info.EffectiveMode,
		WatermarkUsed: info.WatermarkUsed,
		StartedAt:     time.Now().UTC(),
		Status:        domain.RunStatusRunning,
	}

	ctx, runSpan := observability.StartSpan(ctx, "pipeline.run",
		attribute.String("run.id", info.RunID),
		attribute.String("pipeline.name", def.PipelineName),
		attribute.String("run.mode", string(info.EffectiveMode)),
	)
	defer runSpan.End()

	log := r.log.With("run_id", info.RunID, "pipeline", def.PipelineName)
	log.Info("pipeline run starting",
		"mode", info.EffectiveMode,
		"stages", len(def.Stages),
		"units", def.unitCount(),
		"workers", r.workers,
	)

	pool, poolErr := ants.NewPool(r.workers)
	if poolErr != nil {
		return nil, etlerr.Orchestration(poolErr, "init worker pool")
	}
	defer pool.Release()

	var criticalFailure string
	for i, stage := range def.Stages {
		if criticalFailure != "" {
			summary.Stages = append(summary.Stages, skippedStage(stage))
			continue
		}

		sr := r.runStage(ctx, pool, stage, log)
		summary.Stages = append(summary.Stages, sr)

		if sr.Status == domain.StageStatusFailed && stage.Critical {
			criticalFailure = stage.Name
			log.Error("critical stage failed; aborting remaining stages",
				"stage", stage.Name,
				"remaining_stages", len(def.Stages)-i-1,
			)
		}
	}

	summary.FinishedAt = time.Now().UTC()
	summary.DurationSeconds = summary.FinishedAt.Sub(summary.StartedAt).Seconds()
	summary.Tally()

	if summary.StagesFailed == 0 {
		summary.Status = domain.RunStatusSucceeded
	} else {
		summary.Status = domain.RunStatusFailed
	}

	log.Info("pipeline run finished",
		"status", summary.Status,
		"duration_seconds", summary.DurationSeconds,
		"stages_failed", summary.StagesFailed,
		"units_failed", summary.UnitsFailed,
		"records_loaded", summary.RecordsLoaded,
	)

	switch {
	case criticalFailure != "":
		return summary, etlerr.NewOrchestration("critical stage %q failed; run %s aborted", criticalFailure, info.RunID)
	case summary.Status == domain.RunStatusFailed:
		return summary, fmt.Errorf("run %s failed: %d of %d units failed", info.RunID, summary.UnitsFailed, summary.UnitsExecuted)
	default:
		return summary, nil
	}
}

func (r *Runner) runStage(ctx context.Context, pool *ants.Pool, stage Stage, log *logger.Logger) domain.StageResult {
	sr := domain.StageResult{
		StageName: stage.Name,
		Mode:      stage.Mode,
		Critical:  stage.Critical,
		StartedAt: time.Now().UTC(),
		Units:     make([]domain.UnitResult, len(stage.Units)),
	}

	ctx, span := observability.StartSpan(ctx, "pipeline.stage",
		attribute.String("stage.name", stage.Name),
		attribute.String("stage.mode", string(stage.Mode)),
		attribute.Bool("stage.critical", stage.Critical),
	)
	defer span.End()

	stageLog := log.With("stage", stage.Name)
	stageLog.Info("stage starting", "mode", stage.Mode, "units", len(stage.Units), "critical", stage.Critical)

	if stage.Mode == domain.ExecutionConcurrent {
		r.runConcurrent(ctx, pool, stage, sr.Units, stageLog)
	} else {
		r.runSequential(ctx, stage, sr.Units, stageLog)
	}

	sr.Status = domain.StageStatusSucceeded
	for _, u := range sr.Units {
		if u.Attempted && !u.Success {
			sr.Status = domain.StageStatusFailed
			break
		}
	}
	sr.FinishedAt = time.Now().UTC()
	sr.DurationSeconds = sr.FinishedAt.Sub(sr.StartedAt).Seconds()

	stageLog.Info("stage finished", "status", sr.Status, "duration_seconds", sr.DurationSeconds)
	return sr
}

// runSequential executes units in declaration order. In a critical stage the
// first failure stops the walk; the rest are recorded as not attempted.
func (r *Runner) runSequential(ctx context.Context, stage Stage, results []domain.UnitResult, log *logger.Logger) {
	aborted := false
	for i, unit := range stage.Units {
		if aborted {
			results[i] = skippedUnit(unit, "skipped after critical failure in stage "+stage.Name)
			continue
		}
		results[i] = r.executeUnit(ctx, unit, log)
		if !results[i].Success && stage.Critical {
			aborted = true
		}
	}
}

// runConcurrent fans units out over the shared bounded pool. Results land at
// the unit's declaration index, so reporting order never depends on
// completion order. A critical failure flips the abort flag; units that have
// not started yet observe it and record themselves skipped — in-flight units
// are never interrupted.
func (r *Runner) runConcurrent(ctx context.Context, pool *ants.Pool, stage Stage, results []domain.UnitResult, log *logger.Logger) {
	var wg sync.WaitGroup
	var aborted atomic.Bool

	for i, unit := range stage.Units {
		i, unit := i, unit
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if stage.Critical && aborted.Load() {
				results[i] = skippedUnit(unit, "skipped after critical failure in stage "+stage.Name)
				return
			}
			results[i] = r.executeUnit(ctx, unit, log)
			if !results[i].Success && stage.Critical {
				aborted.Store(true)
			}
		}
		if err := pool.Submit(task); err != nil {
			// Pool rejection (released/overloaded) degrades to inline execution.
			task()
		}
	}
	wg.Wait()
}

// executeUnit wraps one unit attempt so nothing escapes: panics become
// failures, a timeout records a failure while the unit goroutine is left to
// finish on its own, and every attempt yields a complete UnitResult.
func (r *Runner) executeUnit(ctx context.Context, unit Unit, log *logger.Logger) domain.UnitResult {
	start := time.Now().UTC()
	result := domain.UnitResult{
		UnitName:  unit.Name,
		Kind:      unit.Kind,
		Attempted: true,
		StartedAt: start,
	}

	ctx, span := observability.StartSpan(ctx, "pipeline.unit",
		attribute.String("unit.name", unit.Name),
		attribute.String("unit.kind", string(unit.Kind)),
	)
	defer span.End()

	unitLog := log.With("unit", unit.Name)
	unitLog.Info("unit starting", "kind", unit.Kind)

	timeout := unit.Timeout
	if timeout <= 0 {
		timeout = r.unitTimeout
	}

	type outcome struct {
		stats domain.UnitStats
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("unit panic: %v", rec)}
			}
		}()
		stats, err := unit.Run(ctx)
		done <- outcome{stats: stats, err: err}
	}()

	var unitErr error
	select {
	case o := <-done:
		unitErr = o.err
		result.RecordsExtracted = o.stats.RecordsExtracted
		result.RecordsLoaded = o.stats.RecordsLoaded
		result.SkippedNullKey = o.stats.SkippedNullKey
		result.EmbeddingsGenerated = o.stats.EmbeddingsGenerated
		result.EmbeddingFallbacks = o.stats.EmbeddingFallbacks
		result.Quality = o.stats.Quality
	case <-time.After(timeout):
		unitErr = etlerr.NewOrchestration("unit %s timed out after %s", unit.Name, timeout)
	}

	result.FinishedAt = time.Now().UTC()
	result.DurationSeconds = result.FinishedAt.Sub(result.StartedAt).Seconds()

	if unitErr != nil {
		result.Success = false
		result.Error = unitErr.Error()
		result.ErrorKind = etlerr.Kind(unitErr)
		unitLog.Error("unit failed",
			"kind", unit.Kind,
			"error_kind", result.ErrorKind,
			"duration_seconds", result.DurationSeconds,
			"error", unitErr,
		)
		return result
	}

	result.Success = true
	unitLog.Info("unit succeeded",
		"duration_seconds", result.DurationSeconds,
		"records_extracted", result.RecordsExtracted,
		"records_loaded", result.RecordsLoaded,
		"embedding_fallbacks", result.EmbeddingFallbacks,
	)
	return result
}

func skippedUnit(unit Unit, reason string) domain.UnitResult {
	return domain.UnitResult{
		UnitName:  unit.Name,
		Kind:      unit.Kind,
		Attempted: false,
		Error:     reason,
	}
}

func skippedStage(stage Stage) domain.StageResult {
	sr := domain.StageResult{
		StageName: stage.Name,
		Mode:      stage.Mode,
		Critical:  stage.Critical,
		Status:    domain.StageStatusSkipped,
		Units:     make([]domain.UnitResult, len(stage.Units)),
	}
	for i, u := range stage.Units {
		sr.Units[i] = skippedUnit(u, "skipped: earlier critical stage failed")
	}
	return sr
}
