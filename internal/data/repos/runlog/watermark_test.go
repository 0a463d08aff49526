package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/arthurhealth/caregraph-etl/internal/data/repos/testutil"
	"github.com/arthurhealth/caregraph-etl/internal/pkg/dbctx"
)

func TestWatermarkLatestAbsent(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewWatermarkRepo(tx, testutil.Logger(t))
	dbc := dbctx.WithTx(context.Background(), tx)

	ts, ok, err := repo.Latest(dbc, "never_ran")
	if err != nil {
		t.Fatalf("absent watermark must not error: %v", err)
	}
	if ok || !ts.IsZero() {
		t.Fatalf("expected (zero, false), got (%v, %v)", ts, ok)
	}
}

func TestWatermarkAdvanceUpserts(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewWatermarkRepo(tx, testutil.Logger(t))
	dbc := dbctx.WithTx(context.Background(), tx)

	first := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	if err := repo.Advance(dbc, "etl", first); err != nil {
		t.Fatalf("first advance: %v", err)
	}

	got, ok, err := repo.Latest(dbc, "etl")
	if err != nil || !ok {
		t.Fatalf("latest after advance: %v %v", ok, err)
	}
	if !got.Equal(first) {
		t.Fatalf("expected %v, got %v", first, got)
	}

	// Same primary key again must update in place, not fail or duplicate.
	second := first.Add(24 * time.Hour)
	if err := repo.Advance(dbc, "etl", second); err != nil {
		t.Fatalf("second advance: %v", err)
	}
	got, ok, err = repo.Latest(dbc, "etl")
	if err != nil || !ok {
		t.Fatalf("latest after second advance: %v %v", ok, err)
	}
	if !got.Equal(second) {
		t.Fatalf("expected %v, got %v", second, got)
	}
}

func TestWatermarkPerPipelineIsolation(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewWatermarkRepo(tx, testutil.Logger(t))
	dbc := dbctx.WithTx(context.Background(), tx)

	a := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.Advance(dbc, "pipeline_a", a); err != nil {
		t.Fatalf("advance a: %v", err)
	}
	if err := repo.Advance(dbc, "pipeline_b", b); err != nil {
		t.Fatalf("advance b: %v", err)
	}

	gotA, _, _ := repo.Latest(dbc, "pipeline_a")
	gotB, _, _ := repo.Latest(dbc, "pipeline_b")
	if !gotA.Equal(a) || !gotB.Equal(b) {
		t.Fatalf("pipelines must not share a watermark: %v %v", gotA, gotB)
	}
}

func TestWatermarkClear(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewWatermarkRepo(tx, testutil.Logger(t))
	dbc := dbctx.WithTx(context.Background(), tx)

	if err := repo.Advance(dbc, "etl", time.Now().UTC()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := repo.Clear(dbc, "etl"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	_, ok, err := repo.Latest(dbc, "etl")
	if err != nil {
		t.Fatalf("latest after clear: %v", err)
	}
	if ok {
		t.Fatal("watermark must be gone after clear")
	}
}
