// Package recorder persists run outcomes and advances the watermark. Nothing
// here can change a run's already-determined status: persistence failures are
// surfaced as warnings and swallowed.
package recorder

import (
	"context"
	"fmt"

	"github.com/arthurhealth/caregraph-etl/internal/data/repos/runlog"
	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/pkg/dbctx"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
)

type Recorder struct {
	runs  runlog.RunLogRepo
	marks runlog.WatermarkRepo
	log   *logger.Logger
}

func New(runs runlog.RunLogRepo, marks runlog.WatermarkRepo, baseLog *logger.Logger) (*Recorder, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("recorder: logger required")
	}
	if runs == nil || marks == nil {
		return nil, fmt.Errorf("recorder: run log and watermark repos required")
	}
	return &Recorder{
		runs:  runs,
		marks: marks,
		log:   baseLog.With("service", "RunRecorder"),
	}, nil
}

// Record appends the summary to the run ledger, failed runs included — the
// ledger is how a failed run's cause is inspected without re-running.
// Returns whether the row landed; the caller's outcome does not depend on it.
func (r *Recorder) Record(ctx context.Context, summary *domain.RunSummary) bool {
	if summary == nil {
		return false
	}
	if err := r.runs.Append(dbctx.New(ctx), summary); err != nil {
		r.log.Warn("run ledger append failed (continuing)",
			"run_id", summary.RunID,
			"status", summary.Status,
			"error", err,
		)
		return false
	}
	r.log.Info("run recorded",
		"run_id", summary.RunID,
		"status", summary.Status,
		"units_executed", summary.UnitsExecuted,
		"records_loaded", summary.RecordsLoaded,
	)
	return true
}

// AdvanceOnSuccess moves the watermark to the run's start time, and only
// when the run succeeded. A failed run leaves the watermark where it was so
// the next incremental run re-covers the same window. Using the start time
// means rows modified mid-run are re-selected next run; the keyed upserts
// make that re-delivery convergent.
func (r *Recorder) AdvanceOnSuccess(ctx context.Context, summary *domain.RunSummary) bool {
	if summary == nil || summary.Status != domain.RunStatusSucceeded {
		return false
	}
	if err := r.marks.Advance(dbctx.New(ctx), summary.PipelineName, summary.StartedAt); err != nil {
		r.log.Warn("watermark advance failed (continuing)",
			"run_id", summary.RunID,
			"pipeline", summary.PipelineName,
			"error", err,
		)
		return false
	}
	r.log.Info("watermark advanced",
		"pipeline", summary.PipelineName,
		"watermark", summary.StartedAt,
	)
	return true
}
