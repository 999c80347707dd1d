package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/zykor/barsync/internal/domain"
)

// RowRepo implements pipeline.RowStore: a generic multi-row upsert into a
// normalized warehouse table, keyed on idempotency_key. One call is one
// statement, so a sub-batch lands atomically or not at all.
type RowRepo struct{ db *sql.DB }

// NewRowRepo creates a Postgres-backed row repository.
func NewRowRepo(db *sql.DB) *RowRepo { return &RowRepo{db: db} }

// UpsertRows writes rows into table using the given column order. Conflicts
// on idempotency_key update the non-key columns in place, so a re-run of
// the same period converges instead of duplicating.
func (r *RowRepo) UpsertRows(ctx context.Context, table string, columns []string, rows []domain.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var (
		placeholders = make([]string, 0, len(rows))
		args         = make([]interface{}, 0, len(rows)*len(columns))
	)
	for i, row := range rows {
		marks := make([]string, len(columns))
		for j, col := range columns {
			marks[j] = fmt.Sprintf("$%d", i*len(columns)+j+1)
			args = append(args, row[col])
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ", ")+")")
	}

	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s ON CONFLICT (idempotency_key) DO UPDATE SET %s`,
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		updateSet(columns))

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert into %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// updateSet builds the DO UPDATE assignment list for every column except
// the conflict key and the immutable identity columns.
func updateSet(columns []string) string {
	sets := make([]string, 0, len(columns))
	for _, col := range columns {
		switch col {
		case "idempotency_key", "bar_id":
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return strings.Join(sets, ", ")
}
