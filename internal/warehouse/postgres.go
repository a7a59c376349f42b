// Package warehouse provides the analytical-warehouse adapter the pipeline
// appends one row per processed result to.
package warehouse

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"scrape-orchestrator/internal/apperr"
)

// Row is one warehouse record keyed by result_id. The stable key makes
// retried inserts idempotent: a repeat of an already-applied insert is a
// no-op rather than a second logical row.
type Row map[string]any

// Postgres implements the warehouse on a Postgres table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse warehouse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect warehouse: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (w *Postgres) Close() {
	if w.pool != nil {
		w.pool.Close()
	}
}

// InsertRow appends one row. Conflicts on result_id are ignored so a retried
// insert after a partial failure cannot duplicate data.
func (w *Postgres) InsertRow(ctx context.Context, table string, row Row) error {
	if len(row) == 0 {
		return apperr.New(apperr.CodeValidation, "warehouse.insert", "empty row")
	}
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[col]
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (result_id) DO NOTHING",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)
	if _, err := w.pool.Exec(ctx, query, args...); err != nil {
		return apperr.Wrap(apperr.CodeTransient, "warehouse.insert", err)
	}
	return nil
}
