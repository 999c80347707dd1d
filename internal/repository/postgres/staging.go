// Package postgres implements the storage contracts against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zykor/barsync/internal/domain"
)

// StagingRepo implements pipeline.StagingStore against the raw_staging
// table. One row per (bar_id, data_type, data_date).
type StagingRepo struct{ db *sql.DB }

// NewStagingRepo creates a Postgres-backed staging repository.
func NewStagingRepo(db *sql.DB) *StagingRepo { return &StagingRepo{db: db} }

// Upsert inserts a staging record for its natural key. A concurrent or
// earlier collection for the same key wins: the existing row is kept and
// read back into rec, so re-collection never clobbers an in-flight payload.
func (r *StagingRepo) Upsert(ctx context.Context, rec *domain.StagingRecord) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO raw_staging (bar_id, data_type, data_date, payload, record_count, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, false, NOW())
		ON CONFLICT (bar_id, data_type, data_date) DO NOTHING
		RETURNING id, created_at
	`, rec.BarID, rec.DataType, rec.DataDate, rec.Payload, rec.RecordCount).Scan(&rec.ID, &rec.CreatedAt)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("upsert staging: %w", err)
	}

	// Conflict: read back the row that was already there.
	existing, err := r.getByKey(ctx, rec.BarID, rec.DataType, rec.DataDate)
	if err != nil {
		return err
	}
	*rec = *existing
	return nil
}

// GetByID fetches one staging record.
func (r *StagingRepo) GetByID(ctx context.Context, id int64) (*domain.StagingRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectStaging+` WHERE id = $1`, id))
}

func (r *StagingRepo) getByKey(ctx context.Context, barID int64, dataType, dataDate string) (*domain.StagingRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		selectStaging+` WHERE bar_id = $1 AND data_type = $2 AND data_date = $3`,
		barID, dataType, dataDate))
}

// SelectUnprocessed returns up to limit pending records, oldest first.
func (r *StagingRepo) SelectUnprocessed(ctx context.Context, limit int) ([]domain.StagingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		selectStaging+` WHERE processed = false ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select unprocessed: %w", err)
	}
	defer rows.Close()

	var out []domain.StagingRecord
	for rows.Next() {
		var rec domain.StagingRecord
		var processedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.BarID, &rec.DataType, &rec.DataDate,
			&rec.Payload, &rec.RecordCount, &rec.Processed, &processedAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan staging: %w", err)
		}
		if processedAt.Valid {
			rec.ProcessedAt = &processedAt.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkProcessed flips the processed flag. The flag only ever moves
// false to true; marking an already processed row is a no-op.
func (r *StagingRepo) MarkProcessed(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE raw_staging SET processed = true, processed_at = $1
		WHERE id = $2 AND processed = false
	`, at, id)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already processed or gone; either way nothing to do.
		return nil
	}
	return nil
}

const selectStaging = `
	SELECT id, bar_id, data_type, data_date, payload, record_count, processed, processed_at, created_at
	FROM raw_staging`

func (r *StagingRepo) scanOne(row *sql.Row) (*domain.StagingRecord, error) {
	rec := &domain.StagingRecord{}
	var processedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.BarID, &rec.DataType, &rec.DataDate,
		&rec.Payload, &rec.RecordCount, &rec.Processed, &processedAt, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrStagingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get staging: %w", err)
	}
	if processedAt.Valid {
		rec.ProcessedAt = &processedAt.Time
	}
	return rec, nil
}
