// Package runlog persists the run ledger and the per-pipeline watermark.
package runlog

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/pkg/dbctx"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
)

type RunLogRepo interface {
	Append(dbc dbctx.Context, summary *domain.RunSummary) error
	GetByRunID(dbc dbctx.Context, runID string) (*domain.RunLog, error)
	ListRecent(dbc dbctx.Context, pipeline string, limit int) ([]*domain.RunLog, error)
}

type runLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunLogRepo(db *gorm.DB, baseLog *logger.Logger) RunLogRepo {
	return &runLogRepo{
		db:  db,
		log: baseLog.With("repo", "RunLogRepo"),
	}
}

// Append writes one immutable ledger row per run, failed runs included. The
// full summary lands in the detail JSON column; the scalar columns mirror it
// for querying.
func (r *runLogRepo) Append(dbc dbctx.Context, summary *domain.RunSummary) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if summary == nil || strings.TrimSpace(summary.RunID) == "" {
		return gorm.ErrInvalidData
	}

	detail, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	row := &domain.RunLog{
		RunID:           summary.RunID,
		PipelineName:    summary.PipelineName,
		Mode:            string(summary.EffectiveMode),
		WatermarkUsed:   summary.WatermarkUsed,
		StartedAt:       summary.StartedAt,
		FinishedAt:      summary.FinishedAt,
		DurationSeconds: summary.DurationSeconds,
		Status:          string(summary.Status),
		StagesExecuted:  summary.StagesExecuted,
		StagesFailed:    summary.StagesFailed,
		UnitsExecuted:   summary.UnitsExecuted,
		UnitsFailed:     summary.UnitsFailed,
		RecordsLoaded:   summary.RecordsLoaded,
		Detail:          datatypes.JSON(detail),
		CreatedAt:       time.Now().UTC(),
	}
	return transaction.WithContext(dbc.Ctx).Create(row).Error
}

func (r *runLogRepo) GetByRunID(dbc dbctx.Context, runID string) (*domain.RunLog, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if strings.TrimSpace(runID) == "" {
		return nil, nil
	}
	var row domain.RunLog
	err := transaction.WithContext(dbc.Ctx).
		Where("run_id = ?", runID).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.RunID == "" {
		return nil, nil
	}
	return &row, nil
}

func (r *runLogRepo) ListRecent(dbc dbctx.Context, pipeline string, limit int) ([]*domain.RunLog, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 20
	}
	var out []*domain.RunLog
	q := transaction.WithContext(dbc.Ctx).Order("started_at DESC").Limit(limit)
	if strings.TrimSpace(pipeline) != "" {
		q = q.Where("pipeline_name = ?", pipeline)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type WatermarkRepo interface {
	Latest(dbc dbctx.Context, pipeline string) (time.Time, bool, error)
	Advance(dbc dbctx.Context, pipeline string, ts time.Time) error
	Clear(dbc dbctx.Context, pipeline string) error
}

type watermarkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWatermarkRepo(db *gorm.DB, baseLog *logger.Logger) WatermarkRepo {
	return &watermarkRepo{
		db:  db,
		log: baseLog.With("repo", "WatermarkRepo"),
	}
}

// Latest returns (zero, false, nil) for a pipeline that has never succeeded.
// The planner treats that as a first run and extracts in full.
func (r *watermarkRepo) Latest(dbc dbctx.Context, pipeline string) (time.Time, bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var row domain.Watermark
	err := transaction.WithContext(dbc.Ctx).
		Where("pipeline_name = ?", pipeline).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return time.Time{}, false, err
	}
	if row.PipelineName == "" || row.LastSuccessfulRunAt.IsZero() {
		return time.Time{}, false, nil
	}
	return row.LastSuccessfulRunAt, true, nil
}

// Advance upserts the watermark for pipeline. Callers only invoke it after a
// run ends Succeeded; a failed run leaves the stored value untouched so the
// next incremental run re-covers the same window.
func (r *watermarkRepo) Advance(dbc dbctx.Context, pipeline string, ts time.Time) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if strings.TrimSpace(pipeline) == "" {
		return gorm.ErrInvalidData
	}
	row := &domain.Watermark{
		PipelineName:        pipeline,
		LastSuccessfulRunAt: ts.UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pipeline_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_successful_run_at", "updated_at"}),
		}).
		Create(row).Error
}

func (r *watermarkRepo) Clear(dbc dbctx.Context, pipeline string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Where("pipeline_name = ?", pipeline).
		Delete(&domain.Watermark{}).Error
}
