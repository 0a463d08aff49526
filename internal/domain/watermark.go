package domain

import "time"

// Watermark records, per pipeline, when the last fully successful run
// started. Incremental extraction selects rows modified or created after it.
type Watermark struct {
	PipelineName        string    `gorm:"column:pipeline_name;primaryKey" json:"pipeline_name"`
	LastSuccessfulRunAt time.Time `gorm:"column:last_successful_run_at;not null" json:"last_successful_run_at"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`
}

func (Watermark) TableName() string { return "etl_watermark" }
