package runlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/arthurhealth/caregraph-etl/internal/data/repos/testutil"
	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/pkg/dbctx"
)

func sampleSummary(runID string, status domain.RunStatus) *domain.RunSummary {
	start := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	s := &domain.RunSummary{
		RunID:         runID,
		PipelineName:  "arthur_health_master_etl",
		Mode:          domain.RunModeIncremental,
		EffectiveMode: domain.RunModeIncremental,
		StartedAt:     start,
		FinishedAt:    start.Add(90 * time.Second),
		Status:        status,
		Stages: []domain.StageResult{
			{
				StageName: "stage_1_entities",
				Status:    domain.StageStatusSucceeded,
				Units: []domain.UnitResult{
					{UnitName: "patients", Attempted: true, Success: true, RecordsExtracted: 10, RecordsLoaded: 9},
				},
			},
		},
	}
	s.DurationSeconds = s.FinishedAt.Sub(s.StartedAt).Seconds()
	s.Tally()
	return s
}

func TestRunLogAppendAndGet(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewRunLogRepo(tx, testutil.Logger(t))
	dbc := dbctx.WithTx(context.Background(), tx)

	summary := sampleSummary("20240301_020000_abc123", domain.RunStatusSucceeded)
	if err := repo.Append(dbc, summary); err != nil {
		t.Fatalf("append run log: %v", err)
	}

	got, err := repo.GetByRunID(dbc, summary.RunID)
	if err != nil {
		t.Fatalf("get run log: %v", err)
	}
	if got == nil {
		t.Fatal("expected a ledger row, got nil")
	}
	if got.Status != string(domain.RunStatusSucceeded) {
		t.Errorf("unexpected status %q", got.Status)
	}
	if got.UnitsExecuted != 1 || got.RecordsLoaded != 9 {
		t.Errorf("scalar columns out of sync with summary: %+v", got)
	}

	var detail domain.RunSummary
	if err := json.Unmarshal(got.Detail, &detail); err != nil {
		t.Fatalf("detail column is not a RunSummary: %v", err)
	}
	if len(detail.Stages) != 1 || detail.Stages[0].Units[0].UnitName != "patients" {
		t.Errorf("detail lost nested unit results: %+v", detail)
	}
}

func TestRunLogAppendFailedRun(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewRunLogRepo(tx, testutil.Logger(t))
	dbc := dbctx.WithTx(context.Background(), tx)

	summary := sampleSummary("20240301_030000_def456", domain.RunStatusFailed)
	summary.Stages[0].Status = domain.StageStatusFailed
	summary.Stages[0].Units[0].Success = false
	summary.Stages[0].Units[0].Error = "fetch patients: warehouse table missing"
	summary.Tally()

	if err := repo.Append(dbc, summary); err != nil {
		t.Fatalf("failed runs must still land in the ledger: %v", err)
	}
	got, err := repo.GetByRunID(dbc, summary.RunID)
	if err != nil || got == nil {
		t.Fatalf("get failed-run row: %v %v", got, err)
	}
	if got.Status != string(domain.RunStatusFailed) || got.UnitsFailed != 1 {
		t.Errorf("unexpected failed-run row: %+v", got)
	}
}

func TestRunLogGetMissing(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewRunLogRepo(tx, testutil.Logger(t))
	dbc := dbctx.WithTx(context.Background(), tx)

	got, err := repo.GetByRunID(dbc, "no_such_run")
	if err != nil {
		t.Fatalf("missing run must not error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing run, got %+v", got)
	}
}

func TestRunLogListRecent(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewRunLogRepo(tx, testutil.Logger(t))
	dbc := dbctx.WithTx(context.Background(), tx)

	for i, id := range []string{"run_a", "run_b", "run_c"} {
		s := sampleSummary(id, domain.RunStatusSucceeded)
		s.StartedAt = s.StartedAt.Add(time.Duration(i) * time.Hour)
		if err := repo.Append(dbc, s); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	got, err := repo.ListRecent(dbc, "arthur_health_master_etl", 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].RunID != "run_c" || got[1].RunID != "run_b" {
		t.Errorf("expected newest-first order, got %s %s", got[0].RunID, got[1].RunID)
	}
}
