package domain

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

type RunMode string

const (
	RunModeFull        RunMode = "full"
	RunModeIncremental RunMode = "incremental"
)

type ExecutionMode string

const (
	ExecutionSequential ExecutionMode = "sequential"
	ExecutionConcurrent ExecutionMode = "concurrent"
)

type UnitKind string

const (
	UnitKindEntityLoad       UnitKind = "entity_load"
	UnitKindRelationshipLoad UnitKind = "relationship_load"
	UnitKindGraphCheck       UnitKind = "graph_check"
)

type StageStatus string

const (
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// UnitStats is what a unit reports about its own work. The runner folds it
// into a UnitResult together with timing and error state.
type UnitStats struct {
	RecordsExtracted    int            `json:"records_extracted"`
	RecordsLoaded       int            `json:"records_loaded"`
	SkippedNullKey      int            `json:"skipped_null_key,omitempty"`
	EmbeddingsGenerated int            `json:"embeddings_generated,omitempty"`
	EmbeddingFallbacks  int            `json:"embedding_fallbacks,omitempty"`
	Quality             *QualityReport `json:"quality,omitempty"`
}

// UnitResult exists for every unit of every stage the run reached, including
// units that were skipped after a critical failure (Attempted=false).
type UnitResult struct {
	UnitName            string         `json:"unit_name"`
	Kind                UnitKind       `json:"kind"`
	Attempted           bool           `json:"attempted"`
	Success             bool           `json:"success"`
	StartedAt           time.Time      `json:"started_at"`
	FinishedAt          time.Time      `json:"finished_at"`
	DurationSeconds     float64        `json:"duration_seconds"`
	RecordsExtracted    int            `json:"records_extracted"`
	RecordsLoaded       int            `json:"records_loaded"`
	SkippedNullKey      int            `json:"skipped_null_key,omitempty"`
	EmbeddingsGenerated int            `json:"embeddings_generated,omitempty"`
	EmbeddingFallbacks  int            `json:"embedding_fallbacks,omitempty"`
	Error               string         `json:"error,omitempty"`
	ErrorKind           string         `json:"error_kind,omitempty"`
	Quality             *QualityReport `json:"quality,omitempty"`
}

type StageResult struct {
	StageName       string        `json:"stage_name"`
	Mode            ExecutionMode `json:"mode"`
	Critical        bool          `json:"critical"`
	Status          StageStatus   `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	DurationSeconds float64       `json:"duration_seconds"`
	Units           []UnitResult  `json:"units"`
}

type RunSummary struct {
	RunID           string        `json:"run_id"`
	PipelineName    string        `json:"pipeline_name"`
	Mode            RunMode       `json:"mode"`
	EffectiveMode   RunMode       `json:"effective_mode"`
	WatermarkUsed   *time.Time    `json:"watermark_used,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	DurationSeconds float64       `json:"duration_seconds"`
	Status          RunStatus     `json:"status"`
	Stages          []StageResult `json:"stages"`

	StagesExecuted  int `json:"stages_executed"`
	StagesSucceeded int `json:"stages_succeeded"`
	StagesFailed    int `json:"stages_failed"`
	UnitsExecuted   int `json:"units_executed"`
	UnitsSucceeded  int `json:"units_succeeded"`
	UnitsFailed     int `json:"units_failed"`

	RecordsExtracted    int `json:"records_extracted"`
	RecordsLoaded       int `json:"records_loaded"`
	EmbeddingsGenerated int `json:"embeddings_generated"`
	EmbeddingFallbacks  int `json:"embedding_fallbacks"`
}

// Tally recomputes the aggregate counters from the stage results. Skipped
// stages and unattempted units stay out of the executed counts.
func (s *RunSummary) Tally() {
	s.StagesExecuted, s.StagesSucceeded, s.StagesFailed = 0, 0, 0
	s.UnitsExecuted, s.UnitsSucceeded, s.UnitsFailed = 0, 0, 0
	s.RecordsExtracted, s.RecordsLoaded = 0, 0
	s.EmbeddingsGenerated, s.EmbeddingFallbacks = 0, 0
	for _, st := range s.Stages {
		if st.Status != StageStatusSkipped {
			s.StagesExecuted++
		}
		switch st.Status {
		case StageStatusSucceeded:
			s.StagesSucceeded++
		case StageStatusFailed:
			s.StagesFailed++
		}
		for _, u := range st.Units {
			if !u.Attempted {
				continue
			}
			s.UnitsExecuted++
			if u.Success {
				s.UnitsSucceeded++
			} else {
				s.UnitsFailed++
			}
			s.RecordsExtracted += u.RecordsExtracted
			s.RecordsLoaded += u.RecordsLoaded
			s.EmbeddingsGenerated += u.EmbeddingsGenerated
			s.EmbeddingFallbacks += u.EmbeddingFallbacks
		}
	}
}

type ScoreStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// QualityReport is observational only. Nothing in the pipeline rejects or
// mutates records based on it.
type QualityReport struct {
	Total              int                       `json:"total"`
	MissingByField     map[string]int            `json:"missing_by_field,omitempty"`
	InvalidEmbeddings  int                       `json:"invalid_embeddings"`
	FallbackEmbeddings int                       `json:"fallback_embeddings"`
	Scores             map[string]ScoreStats     `json:"scores,omitempty"`
	BelowThreshold     map[string]int            `json:"below_threshold,omitempty"`
	Categories         map[string]map[string]int `json:"categories,omitempty"`
	GraphCount         *int64                    `json:"graph_count,omitempty"`
}
