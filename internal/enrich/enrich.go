// Package enrich adds embedding vectors to extracted rows. Enrichment is an
// enhancement, not a correctness path: every failure mode degrades to the
// zero fallback vector and the owning unit keeps going.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/platform/azopenai"
	"github.com/arthurhealth/caregraph-etl/internal/platform/envutil"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
)

// Field maps one warehouse text column to the graph property its embedding
// loads under.
type Field struct {
	SourceColumn string
	TargetProp   string
}

type Config struct {
	Dimensions int
	MaxChars   int
	BatchSize  int
}

// Stats aggregates one batch's enrichment outcome for the unit result.
type Stats struct {
	TextsEmbedded    int
	Fallbacks        int
	FallbacksByField map[string]int
	ServiceCalls     int
}

// Enricher embeds designated text fields of a row batch. A nil client is a
// valid configuration: every vector is then a fallback and the stage only
// logs the degradation once.
type Enricher struct {
	client azopenai.Client
	cfg    Config
	log    *logger.Logger
}

func New(client azopenai.Client, cfg Config, baseLog *logger.Logger) (*Enricher, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("enrich: logger required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("enrich: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 8000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	return &Enricher{
		client: client,
		cfg:    cfg,
		log:    baseLog.With("service", "Enricher"),
	}, nil
}

// EnrichRows embeds every configured field of every row: each row gains a
// domain.Embedding under the field's target property. Fields run concurrently
// and independently; a service failure on one field never touches another
// field's vectors. This method has no error return on purpose — there is no
// failure it does not absorb.
//
// The field goroutines only read the row maps. Each one fills a private
// slice indexed by row, and the vectors fold back into the maps after the
// group finishes; a map is never written while another goroutine can touch it.
func (e *Enricher) EnrichRows(ctx context.Context, rows []domain.Row, fields []Field) Stats {
	stats := Stats{FallbacksByField: make(map[string]int, len(fields))}
	if len(rows) == 0 || len(fields) == 0 {
		return stats
	}

	vectors := make([][]domain.Embedding, len(fields))
	fieldStats := make([]Stats, len(fields))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(envutil.Int("ENRICH_FIELD_CONCURRENCY", 4))
	for fi, field := range fields {
		fi, field := fi, field
		g.Go(func() error {
			vectors[fi], fieldStats[fi] = e.enrichField(gctx, rows, field)
			return nil
		})
	}
	_ = g.Wait()

	for fi, field := range fields {
		for i, emb := range vectors[fi] {
			rows[i][field.TargetProp] = emb
		}
		stats.TextsEmbedded += fieldStats[fi].TextsEmbedded
		stats.Fallbacks += fieldStats[fi].Fallbacks
		stats.ServiceCalls += fieldStats[fi].ServiceCalls
		stats.FallbacksByField[field.TargetProp] = fieldStats[fi].Fallbacks
	}
	return stats
}

// enrichField computes one field's embeddings across the batch, one result
// per row. Blank texts get the zero vector without a service call; non-blank
// texts go out in bounded batches, and any service failure turns the affected
// batch into fallbacks. Only reads the rows; the caller writes the results.
func (e *Enricher) enrichField(ctx context.Context, rows []domain.Row, field Field) ([]domain.Embedding, Stats) {
	var stats Stats
	out := make([]domain.Embedding, len(rows))

	// Indices of rows whose text actually needs the service.
	pending := make([]int, 0, len(rows))
	texts := make([]string, 0, len(rows))
	for i, row := range rows {
		text := strings.TrimSpace(domain.StringValue(row[field.SourceColumn]))
		if text == "" {
			out[i] = domain.ZeroEmbedding(e.cfg.Dimensions)
			stats.Fallbacks++
			continue
		}
		pending = append(pending, i)
		texts = append(texts, truncateRunes(text, e.cfg.MaxChars))
	}

	if e.client == nil {
		for _, i := range pending {
			out[i] = domain.ZeroEmbedding(e.cfg.Dimensions)
			stats.Fallbacks++
		}
		if len(pending) > 0 {
			e.log.Warn("no embedding service configured; field degraded to fallback vectors",
				"field", field.SourceColumn,
				"rows", len(pending),
			)
		}
		return out, stats
	}

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batchIdx := pending[start:end]
		batchTexts := texts[start:end]

		stats.ServiceCalls++
		vectors, err := e.client.Embed(ctx, batchTexts)
		if err != nil || len(vectors) != len(batchTexts) {
			for _, i := range batchIdx {
				out[i] = domain.ZeroEmbedding(e.cfg.Dimensions)
				stats.Fallbacks++
			}
			e.log.Warn("embedding service call failed; batch degraded to fallback vectors (continuing)",
				"field", field.SourceColumn,
				"batch", len(batchTexts),
				"error", errString(err, len(vectors), len(batchTexts)),
			)
			continue
		}

		for j, i := range batchIdx {
			vec := vectors[j]
			if len(vec) != e.cfg.Dimensions {
				out[i] = domain.ZeroEmbedding(e.cfg.Dimensions)
				stats.Fallbacks++
				e.log.Warn("embedding has wrong dimensionality; using fallback vector",
					"field", field.SourceColumn,
					"expected", e.cfg.Dimensions,
					"got", len(vec),
				)
				continue
			}
			out[i] = domain.Embedding{Vector: vec}
			stats.TextsEmbedded++
		}
	}
	return out, stats
}

// truncateRunes cuts to at most max characters without splitting a rune, the
// same character-count cut the extraction source applies.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

func errString(err error, got, want int) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("vector count mismatch: got %d, want %d", got, want)
}
