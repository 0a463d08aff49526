package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
)

const dim = 8

// fakeEmbedder returns a deterministic non-zero vector per input, or fails
// whole calls / single fields on demand.
type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	inputs    [][]string
	failField string // any input containing this substring fails the call
	wrongDim  bool
}

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.inputs = append(f.inputs, append([]string(nil), inputs...))
	f.mu.Unlock()

	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if f.failField != "" && strings.Contains(in, f.failField) {
			return nil, errors.New("simulated service failure")
		}
		n := dim
		if f.wrongDim {
			n = dim - 1
		}
		vec := make([]float32, n)
		for j := range vec {
			vec[j] = float32(len(in))
		}
		out[i] = vec
	}
	return out, nil
}

func newEnricher(t *testing.T, client *fakeEmbedder) *Enricher {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	if client == nil {
		e, err := New(nil, Config{Dimensions: dim}, log)
		if err != nil {
			t.Fatalf("new enricher: %v", err)
		}
		return e
	}
	e, err := New(client, Config{Dimensions: dim, MaxChars: 20, BatchSize: 2}, log)
	if err != nil {
		t.Fatalf("new enricher: %v", err)
	}
	return e
}

func isZero(e domain.Embedding) bool {
	for _, v := range e.Vector {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestEnrichBlankTextSkipsService(t *testing.T) {
	fake := &fakeEmbedder{}
	e := newEnricher(t, fake)

	rows := []domain.Row{
		{"policy_text": ""},
		{"policy_text": "   \n\t "},
		{"policy_text": nil},
	}
	stats := e.EnrichRows(context.Background(), rows, []Field{{SourceColumn: "policy_text", TargetProp: "policyTextEmbedding"}})

	if fake.calls != 0 {
		t.Fatalf("blank inputs must never reach the service, got %d calls", fake.calls)
	}
	if stats.Fallbacks != 3 || stats.TextsEmbedded != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	for i, row := range rows {
		emb, ok := row["policyTextEmbedding"].(domain.Embedding)
		if !ok {
			t.Fatalf("row %d missing embedding", i)
		}
		if len(emb.Vector) != dim || !isZero(emb) || !emb.Fallback {
			t.Errorf("row %d: expected zero fallback of dim %d, got %+v", i, dim, emb)
		}
	}
}

func TestEnrichTruncatesLongText(t *testing.T) {
	fake := &fakeEmbedder{}
	e := newEnricher(t, fake) // MaxChars: 20

	long := strings.Repeat("x", 100)
	rows := []domain.Row{{"notes": long}}
	e.EnrichRows(context.Background(), rows, []Field{{SourceColumn: "notes", TargetProp: "notesEmbedding"}})

	if len(fake.inputs) != 1 || len(fake.inputs[0]) != 1 {
		t.Fatalf("expected one input, got %#v", fake.inputs)
	}
	if got := fake.inputs[0][0]; got != long[:20] {
		t.Errorf("expected silent prefix cut to 20 chars, got %d chars", len(got))
	}
}

// Two fields over a large shared batch: the field goroutines must never
// write the row maps while a sibling is reading them. Run with -race.
func TestEnrichTwoFieldsOverSharedRows(t *testing.T) {
	fake := &fakeEmbedder{}
	e := newEnricher(t, fake)

	rows := make([]domain.Row, 500)
	for i := range rows {
		rows[i] = domain.Row{
			"policy_text":        strings.Repeat("p", i%9+1),
			"clinical_narrative": strings.Repeat("c", i%7+1),
		}
	}
	stats := e.EnrichRows(context.Background(), rows, []Field{
		{SourceColumn: "policy_text", TargetProp: "policyTextEmbedding"},
		{SourceColumn: "clinical_narrative", TargetProp: "clinicalNarrativeEmbedding"},
	})

	if stats.TextsEmbedded != 1000 || stats.Fallbacks != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	for i, row := range rows {
		for _, prop := range []string{"policyTextEmbedding", "clinicalNarrativeEmbedding"} {
			emb, ok := row[prop].(domain.Embedding)
			if !ok || emb.Fallback || len(emb.Vector) != dim {
				t.Fatalf("row %d %s: bad embedding %+v", i, prop, row[prop])
			}
		}
	}
}

func TestEnrichTruncatesOnRuneBoundary(t *testing.T) {
	fake := &fakeEmbedder{}
	e := newEnricher(t, fake) // MaxChars: 20

	long := strings.Repeat("ü", 30) // 2 bytes per rune
	rows := []domain.Row{{"notes": long}}
	e.EnrichRows(context.Background(), rows, []Field{{SourceColumn: "notes", TargetProp: "notesEmbedding"}})

	got := fake.inputs[0][0]
	if got != strings.Repeat("ü", 20) {
		t.Errorf("expected a 20-character cut, got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncation split a rune: %q", got)
	}
}

func TestEnrichServiceFailureFallsBack(t *testing.T) {
	fake := &fakeEmbedder{failField: "BOOM"}
	e := newEnricher(t, fake)

	rows := []domain.Row{
		{"instructions": "take two daily", "side_effects": "BOOM payload"},
	}
	stats := e.EnrichRows(context.Background(), rows, []Field{
		{SourceColumn: "instructions", TargetProp: "instructionsEmbedding"},
		{SourceColumn: "side_effects", TargetProp: "sideEffectsEmbedding"},
	})

	good, ok := rows[0]["instructionsEmbedding"].(domain.Embedding)
	if !ok || good.Fallback || isZero(good) {
		t.Errorf("healthy field must embed despite the sibling failure: %+v", good)
	}
	bad, ok := rows[0]["sideEffectsEmbedding"].(domain.Embedding)
	if !ok || !bad.Fallback || !isZero(bad) || len(bad.Vector) != dim {
		t.Errorf("failed field must carry a zero fallback of full dimension: %+v", bad)
	}
	if stats.TextsEmbedded != 1 || stats.Fallbacks != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.FallbacksByField["sideEffectsEmbedding"] != 1 {
		t.Errorf("fallback not attributed to its field: %+v", stats.FallbacksByField)
	}
}

func TestEnrichWrongDimensionIsFallback(t *testing.T) {
	fake := &fakeEmbedder{wrongDim: true}
	e := newEnricher(t, fake)

	rows := []domain.Row{{"notes": "short note"}}
	stats := e.EnrichRows(context.Background(), rows, []Field{{SourceColumn: "notes", TargetProp: "notesEmbedding"}})

	emb := rows[0]["notesEmbedding"].(domain.Embedding)
	if len(emb.Vector) != dim || !emb.Fallback {
		t.Errorf("wrong-length service vector must be replaced by the fallback: %+v", emb)
	}
	if stats.Fallbacks != 1 || stats.TextsEmbedded != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestEnrichBatchesBySize(t *testing.T) {
	fake := &fakeEmbedder{}
	e := newEnricher(t, fake) // BatchSize: 2

	rows := make([]domain.Row, 5)
	for i := range rows {
		rows[i] = domain.Row{"notes": strings.Repeat("a", i+1)}
	}
	stats := e.EnrichRows(context.Background(), rows, []Field{{SourceColumn: "notes", TargetProp: "notesEmbedding"}})

	if fake.calls != 3 {
		t.Errorf("5 texts at batch size 2 should take 3 calls, got %d", fake.calls)
	}
	if stats.ServiceCalls != 3 || stats.TextsEmbedded != 5 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestEnrichNilClientDegradesEverything(t *testing.T) {
	e := newEnricher(t, nil)

	rows := []domain.Row{{"notes": "real text"}}
	stats := e.EnrichRows(context.Background(), rows, []Field{{SourceColumn: "notes", TargetProp: "notesEmbedding"}})

	emb, ok := rows[0]["notesEmbedding"].(domain.Embedding)
	if !ok || !emb.Fallback || len(emb.Vector) != dim {
		t.Errorf("nil client must still produce full-dimension fallbacks: %+v", emb)
	}
	if stats.Fallbacks != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
