package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/etlerr"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
	"github.com/arthurhealth/caregraph-etl/internal/platform/neo4jdb"
)

// LoadResult is what a single upsert batch reports back. Written counts what
// the graph accepted; the difference to Submitted on relationship loads is
// rows whose endpoints did not exist.
type LoadResult struct {
	Submitted      int
	Written        int
	SkippedNullKey int
}

// Loader performs keyed idempotent upserts into the graph. All writes go
// through MERGE on the declared keys, so re-delivering a batch converges
// instead of duplicating.
type Loader struct {
	client *neo4jdb.Client
	source string
	log    *logger.Logger
}

func NewLoader(client *neo4jdb.Client, extractionSource string, baseLog *logger.Logger) (*Loader, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("graph loader: logger required")
	}
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graph loader: neo4j client required")
	}
	source := strings.TrimSpace(extractionSource)
	if source == "" {
		source = "synapse_etl"
	}
	return &Loader{
		client: client,
		source: source,
		log:    baseLog.With("service", "GraphLoader"),
	}, nil
}

func (l *Loader) session(ctx context.Context) neo4j.SessionWithContext {
	return l.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: l.client.Database,
	})
}

func (l *Loader) readSession(ctx context.Context) neo4j.SessionWithContext {
	return l.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: l.client.Database,
	})
}

// UpsertNodes merges one node per row under the mapping's key tuple. Rows
// blank in any key column never reach the graph; they are dropped up front
// and reported in SkippedNullKey.
func (l *Loader) UpsertNodes(ctx context.Context, m NodeMapping, rows []domain.Row) (LoadResult, error) {
	if err := m.Validate(); err != nil {
		return LoadResult{}, etlerr.Load(err, "upsert %s nodes", m.Label)
	}

	params, skipped := buildNodeRows(m, rows, l.source, time.Now().UTC())
	res := LoadResult{Submitted: len(params), SkippedNullKey: skipped}
	if skipped > 0 {
		l.log.Warn("rows skipped for null key fields",
			"label", m.Label,
			"skipped", skipped,
		)
	}
	if len(params) == 0 {
		return res, nil
	}

	session := l.session(ctx)
	defer session.Close(ctx)

	written, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cur, err := tx.Run(ctx, nodeUpsertQuery(m), map[string]any{"rows": params})
		if err != nil {
			return nil, err
		}
		return consumeWritten(ctx, cur)
	})
	if err != nil {
		return res, etlerr.Load(err, "upsert %s nodes", m.Label)
	}

	res.Written = int(written.(int64))
	l.log.Info("node batch upserted",
		"label", m.Label,
		"submitted", res.Submitted,
		"written", res.Written,
		"skipped_null_key", res.SkippedNullKey,
	)
	return res, nil
}

// UpsertRelationships merges one relationship per row after matching both
// endpoints by key. A row whose source or target node does not exist simply
// falls out of the UNWIND and produces nothing: record-level isolation, the
// batch itself never aborts. The shortfall shows up as Written < Submitted.
func (l *Loader) UpsertRelationships(ctx context.Context, m RelMapping, rows []domain.Row) (LoadResult, error) {
	if err := m.Validate(); err != nil {
		return LoadResult{}, etlerr.Load(err, "upsert %s relationships", m.Type)
	}

	params, skipped := buildRelRows(m, rows, l.source, time.Now().UTC())
	res := LoadResult{Submitted: len(params), SkippedNullKey: skipped}
	if skipped > 0 {
		l.log.Warn("rows skipped for null endpoint keys",
			"type", m.Type,
			"skipped", skipped,
		)
	}
	if len(params) == 0 {
		return res, nil
	}

	session := l.session(ctx)
	defer session.Close(ctx)

	written, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cur, err := tx.Run(ctx, relUpsertQuery(m), map[string]any{"rows": params})
		if err != nil {
			return nil, err
		}
		return consumeWritten(ctx, cur)
	})
	if err != nil {
		return res, etlerr.Load(err, "upsert %s relationships", m.Type)
	}

	res.Written = int(written.(int64))
	if res.Written < res.Submitted {
		l.log.Warn("relationships dropped for unresolved endpoints",
			"type", m.Type,
			"submitted", res.Submitted,
			"written", res.Written,
		)
	}
	l.log.Info("relationship batch upserted",
		"type", m.Type,
		"submitted", res.Submitted,
		"written", res.Written,
	)
	return res, nil
}

// RunRead executes a read query and returns one map per record. Used by the
// post-load verification reads and the care-gap analysis.
func (l *Loader) RunRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := l.readSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cur, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		for cur.Next(ctx) {
			rec := cur.Record()
			row := make(map[string]any, len(rec.Keys))
			for _, k := range rec.Keys {
				v, _ := rec.Get(k)
				row[k] = v
			}
			rows = append(rows, row)
		}
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return rows, nil
	})
	if err != nil {
		return nil, etlerr.Load(err, "graph read")
	}
	return out.([]map[string]any), nil
}

// CountNodes fills the quality report's graph-side count for one label.
func (l *Loader) CountNodes(ctx context.Context, label string) (int64, error) {
	if !validIdent(label) {
		return 0, etlerr.NewLoad("count nodes: invalid label %q", label)
	}
	rows, err := l.RunRead(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS total", label), nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := rows[0]["total"].(int64)
	return n, nil
}

// EnsureSchema creates a uniqueness constraint per node mapping over its full
// key tuple. Best-effort: restricted users may not hold schema privileges, so
// failures log and the load proceeds against whatever schema exists.
func (l *Loader) EnsureSchema(ctx context.Context, mappings []NodeMapping) {
	session := l.session(ctx)
	defer session.Close(ctx)

	for _, m := range mappings {
		for _, stmt := range constraintStatements(m) {
			if res, err := session.Run(ctx, stmt, nil); err != nil {
				l.log.Warn("graph schema init failed (continuing)",
					"label", m.Label,
					"error", err,
				)
			} else {
				_, _ = res.Consume(ctx)
			}
		}
	}
}

// constraintStatements emits one composite constraint over the whole key
// tuple. Per-property constraints would be stricter than the MERGE identity
// and reject reloads where rows share one key column but differ in another.
func constraintStatements(m NodeMapping) []string {
	props := make([]string, len(m.Keys))
	for i, k := range m.Keys {
		props[i] = "n." + k.Target
	}
	return []string{fmt.Sprintf(
		"CREATE CONSTRAINT %s_key_unique IF NOT EXISTS FOR (n:%s) REQUIRE (%s) IS UNIQUE",
		strings.ToLower(m.Label), m.Label, strings.Join(props, ", "),
	)}
}

func consumeWritten(ctx context.Context, cur neo4j.ResultWithContext) (any, error) {
	var written int64
	if cur.Next(ctx) {
		if v, ok := cur.Record().Get("written"); ok {
			if n, ok := v.(int64); ok {
				written = n
			}
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if _, err := cur.Consume(ctx); err != nil {
		return nil, err
	}
	return written, nil
}
