package domain

import (
	"time"

	"gorm.io/datatypes"
)

// RunLog is one row of the run ledger. Detail holds the full RunSummary as
// JSON; the scalar columns exist so operators can query runs without
// unpacking it.
type RunLog struct {
	RunID           string         `gorm:"column:run_id;primaryKey" json:"run_id"`
	PipelineName    string         `gorm:"column:pipeline_name;not null;index" json:"pipeline_name"`
	Mode            string         `gorm:"column:mode;not null" json:"mode"`
	WatermarkUsed   *time.Time     `gorm:"column:watermark_used" json:"watermark_used,omitempty"`
	StartedAt       time.Time      `gorm:"column:started_at;not null;index" json:"started_at"`
	FinishedAt      time.Time      `gorm:"column:finished_at;not null" json:"finished_at"`
	DurationSeconds float64        `gorm:"column:duration_seconds;not null" json:"duration_seconds"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	StagesExecuted  int            `gorm:"column:stages_executed;not null" json:"stages_executed"`
	StagesFailed    int            `gorm:"column:stages_failed;not null" json:"stages_failed"`
	UnitsExecuted   int            `gorm:"column:units_executed;not null" json:"units_executed"`
	UnitsFailed     int            `gorm:"column:units_failed;not null" json:"units_failed"`
	RecordsLoaded   int            `gorm:"column:records_loaded;not null" json:"records_loaded"`
	Detail          datatypes.JSON `gorm:"column:detail" json:"detail"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
}

func (RunLog) TableName() string { return "etl_run_log" }
