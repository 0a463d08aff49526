package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/etlerr"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
)

func testRunner(t *testing.T, workers int) *Runner {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	r, err := NewRunner(Options{Workers: workers, UnitTimeout: 5 * time.Second}, log)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func okUnit(name string, loaded int) Unit {
	return Unit{
		Name: name,
		Kind: domain.UnitKindEntityLoad,
		Run: func(context.Context) (domain.UnitStats, error) {
			return domain.UnitStats{RecordsExtracted: loaded, RecordsLoaded: loaded}, nil
		},
	}
}

func failUnit(name string) Unit {
	return Unit{
		Name: name,
		Kind: domain.UnitKindEntityLoad,
		Run: func(context.Context) (domain.UnitStats, error) {
			return domain.UnitStats{}, etlerr.NewExtraction("%s: warehouse unavailable", name)
		},
	}
}

func info(runID string) RunInfo {
	return RunInfo{RunID: runID, Mode: domain.RunModeIncremental, EffectiveMode: domain.RunModeIncremental}
}

func TestRunAllSucceed(t *testing.T) {
	r := testRunner(t, 2)
	def := Definition{
		PipelineName: "etl",
		Stages: []Stage{
			{Name: "entities", Mode: domain.ExecutionConcurrent, Critical: true, Units: []Unit{okUnit("patients", 10), okUnit("medications", 5)}},
			{Name: "relationships", Mode: domain.ExecutionSequential, Units: []Unit{okUnit("prescriptions", 20)}},
		},
	}

	summary, err := r.Run(context.Background(), def, info("run_ok"))
	if err != nil {
		t.Fatalf("expected clean run, got %v", err)
	}
	if summary.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected Succeeded, got %s", summary.Status)
	}
	if summary.UnitsExecuted != 3 || summary.UnitsSucceeded != 3 {
		t.Errorf("unexpected unit counts: %+v", summary)
	}
	if summary.RecordsLoaded != 35 {
		t.Errorf("expected 35 records loaded, got %d", summary.RecordsLoaded)
	}
}

func TestRunCriticalStageFailFast(t *testing.T) {
	r := testRunner(t, 1)
	var laterRan atomic.Bool

	def := Definition{
		PipelineName: "etl",
		Stages: []Stage{
			{Name: "entities", Mode: domain.ExecutionSequential, Critical: true, Units: []Unit{
				failUnit("a"),
				okUnit("b", 1),
				okUnit("c", 1),
			}},
			{Name: "later", Mode: domain.ExecutionSequential, Units: []Unit{{
				Name: "never",
				Kind: domain.UnitKindEntityLoad,
				Run: func(context.Context) (domain.UnitStats, error) {
					laterRan.Store(true)
					return domain.UnitStats{}, nil
				},
			}}},
		},
	}

	summary, err := r.Run(context.Background(), def, info("run_crit"))
	if err == nil || !etlerr.IsOrchestration(err) {
		t.Fatalf("critical failure must surface as an orchestration error, got %v", err)
	}
	if summary.Status != domain.RunStatusFailed {
		t.Fatalf("expected Failed, got %s", summary.Status)
	}
	if laterRan.Load() {
		t.Error("stage after a failed critical stage must not run")
	}

	units := summary.Stages[0].Units
	if !units[0].Attempted || units[0].Success {
		t.Errorf("unit a must be a recorded failure: %+v", units[0])
	}
	for _, u := range units[1:] {
		if u.Attempted {
			t.Errorf("unit %s must be skipped, not attempted", u.UnitName)
		}
	}
	if summary.Stages[1].Status != domain.StageStatusSkipped {
		t.Errorf("later stage must be recorded as skipped, got %s", summary.Stages[1].Status)
	}
	// Attempted-unit accounting excludes everything skipped.
	if summary.UnitsExecuted != 1 || summary.UnitsFailed != 1 {
		t.Errorf("unexpected counts: executed=%d failed=%d", summary.UnitsExecuted, summary.UnitsFailed)
	}
}

func TestRunNonCriticalFailureContinues(t *testing.T) {
	r := testRunner(t, 1)
	var laterRan atomic.Bool

	def := Definition{
		PipelineName: "etl",
		Stages: []Stage{
			{Name: "relationships", Mode: domain.ExecutionSequential, Units: []Unit{failUnit("prescriptions")}},
			{Name: "validation", Mode: domain.ExecutionSequential, Units: []Unit{{
				Name: "care_gaps",
				Kind: domain.UnitKindGraphCheck,
				Run: func(context.Context) (domain.UnitStats, error) {
					laterRan.Store(true)
					return domain.UnitStats{}, nil
				},
			}}},
		},
	}

	summary, err := r.Run(context.Background(), def, info("run_noncrit"))
	if err == nil {
		t.Fatal("a failed run must return an error")
	}
	if etlerr.IsOrchestration(err) {
		t.Fatalf("non-critical failure must not be an orchestration abort: %v", err)
	}
	if !laterRan.Load() {
		t.Error("later stages must still run after a non-critical failure")
	}
	if summary.Status != domain.RunStatusFailed {
		t.Errorf("overall status must be Failed, got %s", summary.Status)
	}
	if summary.Stages[1].Status != domain.StageStatusSucceeded {
		t.Errorf("validation stage should have succeeded, got %s", summary.Stages[1].Status)
	}
}

func TestRunConcurrentStageBoundsWorkers(t *testing.T) {
	r := testRunner(t, 2)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	unit := func(name string) Unit {
		return Unit{
			Name: name,
			Kind: domain.UnitKindEntityLoad,
			Run: func(context.Context) (domain.UnitStats, error) {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()
				time.Sleep(30 * time.Millisecond)
				mu.Lock()
				inFlight--
				mu.Unlock()
				return domain.UnitStats{}, nil
			},
		}
	}

	def := Definition{
		PipelineName: "etl",
		Stages: []Stage{{
			Name: "entities", Mode: domain.ExecutionConcurrent, Units: []Unit{
				unit("u1"), unit("u2"), unit("u3"), unit("u4"), unit("u5"),
			},
		}},
	}

	if _, err := r.Run(context.Background(), def, info("run_bound")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if maxInFlight > 2 {
		t.Errorf("pool must bound concurrency at 2, observed %d in flight", maxInFlight)
	}
	if maxInFlight < 2 {
		t.Errorf("units should actually overlap, observed max %d in flight", maxInFlight)
	}
}

func TestRunConcurrentResultsKeepDeclarationOrder(t *testing.T) {
	r := testRunner(t, 4)

	slow := Unit{
		Name: "slow",
		Kind: domain.UnitKindEntityLoad,
		Run: func(context.Context) (domain.UnitStats, error) {
			time.Sleep(50 * time.Millisecond)
			return domain.UnitStats{RecordsLoaded: 1}, nil
		},
	}
	def := Definition{
		PipelineName: "etl",
		Stages: []Stage{{
			Name: "entities", Mode: domain.ExecutionConcurrent, Units: []Unit{slow, okUnit("fast", 2)},
		}},
	}

	summary, err := r.Run(context.Background(), def, info("run_order"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	units := summary.Stages[0].Units
	if units[0].UnitName != "slow" || units[1].UnitName != "fast" {
		t.Errorf("results must keep declaration order, got %s then %s", units[0].UnitName, units[1].UnitName)
	}
}

func TestRunUnitPanicBecomesFailure(t *testing.T) {
	r := testRunner(t, 1)
	def := Definition{
		PipelineName: "etl",
		Stages: []Stage{{
			Name: "entities", Mode: domain.ExecutionSequential, Units: []Unit{
				{
					Name: "panicky",
					Kind: domain.UnitKindEntityLoad,
					Run: func(context.Context) (domain.UnitStats, error) {
						panic("nil map write")
					},
				},
				okUnit("sibling", 1),
			},
		}},
	}

	summary, err := r.Run(context.Background(), def, info("run_panic"))
	if err == nil {
		t.Fatal("panicking unit must fail the run")
	}
	units := summary.Stages[0].Units
	if units[0].Success || units[0].Error == "" {
		t.Errorf("panic must be captured into the unit result: %+v", units[0])
	}
	if !units[1].Attempted || !units[1].Success {
		t.Errorf("sibling in a non-critical stage must still run: %+v", units[1])
	}
}

func TestRunUnitTimeout(t *testing.T) {
	r := testRunner(t, 1)
	def := Definition{
		PipelineName: "etl",
		Stages: []Stage{{
			Name: "entities", Mode: domain.ExecutionSequential, Units: []Unit{{
				Name:    "stuck",
				Kind:    domain.UnitKindEntityLoad,
				Timeout: 20 * time.Millisecond,
				Run: func(ctx context.Context) (domain.UnitStats, error) {
					time.Sleep(500 * time.Millisecond)
					return domain.UnitStats{}, nil
				},
			}},
		}},
	}

	start := time.Now()
	summary, err := r.Run(context.Background(), def, info("run_timeout"))
	if err == nil {
		t.Fatal("timed-out unit must fail the run")
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("runner must not wait for the stuck unit, took %s", elapsed)
	}
	u := summary.Stages[0].Units[0]
	if u.Success || u.ErrorKind != "orchestration" {
		t.Errorf("timeout must record an orchestration failure: %+v", u)
	}
}

func TestRunInvalidDefinitionRejected(t *testing.T) {
	r := testRunner(t, 1)

	bad := []Definition{
		{PipelineName: "", Stages: []Stage{{Name: "s", Mode: domain.ExecutionSequential, Units: []Unit{okUnit("u", 0)}}}},
		{PipelineName: "etl"},
		{PipelineName: "etl", Stages: []Stage{{Name: "s", Mode: "bogus", Units: []Unit{okUnit("u", 0)}}}},
		{PipelineName: "etl", Stages: []Stage{{Name: "s", Mode: domain.ExecutionSequential}}},
		{PipelineName: "etl", Stages: []Stage{
			{Name: "s", Mode: domain.ExecutionSequential, Units: []Unit{okUnit("u", 0)}},
			{Name: "s", Mode: domain.ExecutionSequential, Units: []Unit{okUnit("u2", 0)}},
		}},
		{PipelineName: "etl", Stages: []Stage{{Name: "s", Mode: domain.ExecutionSequential, Units: []Unit{okUnit("u", 0), okUnit("u", 0)}}}},
		{PipelineName: "etl", Stages: []Stage{{Name: "s", Mode: domain.ExecutionSequential, Units: []Unit{{Name: "norun"}}}}},
	}
	for i, def := range bad {
		if _, err := r.Run(context.Background(), def, info("run_bad")); err == nil || !etlerr.IsOrchestration(err) {
			t.Errorf("definition %d must be rejected with an orchestration error, got %v", i, err)
		}
	}
}
