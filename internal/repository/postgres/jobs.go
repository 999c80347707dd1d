package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/zykor/barsync/internal/domain"
)

// JobRepo implements pipeline.JobStore against the sync_jobs table.
type JobRepo struct{ db *sql.DB }

// NewJobRepo creates a Postgres-backed job repository.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

func (r *JobRepo) Create(ctx context.Context, job *domain.BatchJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_jobs
			(id, bar_id, data_types, mode, period_start, period_end, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, job.ID, job.BarID, pq.StringArray(job.DataTypes), job.Mode,
		job.PeriodStart, nullStr(job.PeriodEnd), job.Status, job.StartedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Update persists the job's mutable snapshot: cursor, streak, totals, and
// terminal state.
func (r *JobRepo) Update(ctx context.Context, job *domain.BatchJob) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_jobs SET
			period_cursor = $1, consecutive_empty = $2,
			total_collected = $3, total_processed = $4, total_inserted = $5, total_errors = $6,
			status = $7, last_period_with_data = $8, error = $9, finished_at = $10
		WHERE id = $11
	`, nullStr(job.PeriodCursor), job.ConsecutiveEmpty,
		job.Totals.Collected, job.Totals.Processed, job.Totals.Inserted, job.Totals.Errors,
		job.Status, nullStr(job.LastPeriodWithData), nullStr(job.Error), job.FinishedAt, job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.BatchJob, error) {
	job := &domain.BatchJob{}
	var (
		dataTypes                               pq.StringArray
		periodEnd, cursor, lastWithData, jobErr sql.NullString
		finishedAt                              sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, bar_id, data_types, mode, period_start, period_end, period_cursor,
		       consecutive_empty, total_collected, total_processed, total_inserted, total_errors,
		       status, last_period_with_data, error, started_at, finished_at
		FROM sync_jobs
		WHERE id = $1
	`, id).Scan(
		&job.ID, &job.BarID, &dataTypes, &job.Mode, &job.PeriodStart, &periodEnd, &cursor,
		&job.ConsecutiveEmpty, &job.Totals.Collected, &job.Totals.Processed,
		&job.Totals.Inserted, &job.Totals.Errors,
		&job.Status, &lastWithData, &jobErr, &job.StartedAt, &finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	job.DataTypes = dataTypes
	job.PeriodEnd = periodEnd.String
	job.PeriodCursor = cursor.String
	job.LastPeriodWithData = lastWithData.String
	job.Error = jobErr.String
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return job, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
