package warehouse

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/etlerr"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
)

// FetchSpec names the table and column list one unit extracts.
type FetchSpec struct {
	Table   string
	Columns []string
}

// Reader runs read-only extraction queries against the warehouse. It never
// migrates or writes warehouse tables.
type Reader struct {
	db     *gorm.DB
	schema string
	log    *logger.Logger
}

func NewReader(db *gorm.DB, schema string, baseLog *logger.Logger) *Reader {
	return &Reader{
		db:     db,
		schema: strings.TrimSpace(schema),
		log:    baseLog.With("repo", "WarehouseReader"),
	}
}

func (r *Reader) qualified(table string) string {
	if r.schema == "" {
		return table
	}
	return r.schema + "." + table
}

// Fetch returns rows keyed by column name, exactly the columns in spec.
func (r *Reader) Fetch(ctx context.Context, spec FetchSpec, sel Selection) ([]domain.Row, error) {
	if strings.TrimSpace(spec.Table) == "" {
		return nil, etlerr.NewExtraction("fetch: empty table name")
	}
	if len(spec.Columns) == 0 {
		return nil, etlerr.NewExtraction("fetch %s: empty column list", spec.Table)
	}

	q := r.db.WithContext(ctx).Table(r.qualified(spec.Table)).Select(spec.Columns)
	if clause, args := sel.Clause(); clause != "" {
		q = q.Where(clause, args...)
	}

	var raw []map[string]any
	if err := q.Find(&raw).Error; err != nil {
		return nil, etlerr.Extraction(classify(err), "fetch %s", spec.Table)
	}

	rows := make([]domain.Row, len(raw))
	for i := range raw {
		rows[i] = domain.Row(raw[i])
	}
	r.log.Info("warehouse extraction complete",
		"table", spec.Table,
		"mode", sel.EffectiveMode,
		"rows", len(rows),
	)
	return rows, nil
}

// Count is the dry-run path: how many rows the selection would extract.
func (r *Reader) Count(ctx context.Context, spec FetchSpec, sel Selection) (int64, error) {
	if strings.TrimSpace(spec.Table) == "" {
		return 0, etlerr.NewExtraction("count: empty table name")
	}
	q := r.db.WithContext(ctx).Table(r.qualified(spec.Table))
	if clause, args := sel.Clause(); clause != "" {
		q = q.Where(clause, args...)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, etlerr.Extraction(classify(err), "count %s", spec.Table)
	}
	return n, nil
}

// classify annotates schema-level Postgres failures so an operator can tell
// a missing table or column from a transient connection problem.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01":
			return errors.Wrap(err, "warehouse table missing")
		case "42703":
			return errors.Wrap(err, "warehouse column missing")
		case "3D000":
			return errors.Wrap(err, "warehouse database missing")
		}
	}
	return err
}
