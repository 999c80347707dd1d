package domain

import "time"

// Sync job modes.
const (
	ModeSinglePeriod = "single_period"
	ModeContinuous   = "continuous"
	ModeBacklog      = "backlog"
)

// Sync job statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// JobTotals accumulates counters across the periods of one job.
type JobTotals struct {
	Collected int `json:"collected"`
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Errors    int `json:"errors"`
}

// BatchJob is the orchestration unit: one sequential walk over a period
// range for one bar. The orchestrator is its only writer.
type BatchJob struct {
	ID                 string     `json:"id"`
	BarID              int64      `json:"bar_id"`
	DataTypes          []string   `json:"data_types"`
	Mode               string     `json:"mode"`
	PeriodStart        string     `json:"period_start"`
	PeriodEnd          string     `json:"period_end,omitempty"`
	PeriodCursor       string     `json:"period_cursor,omitempty"`
	ConsecutiveEmpty   int        `json:"consecutive_empty_periods"`
	Totals             JobTotals  `json:"totals"`
	Status             string     `json:"status"`
	LastPeriodWithData string     `json:"last_period_with_data,omitempty"`
	Error              string     `json:"error,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}

// SyncSummary is the terminal report of a job, delivered to the
// notification sink and returned by synchronous runs.
type SyncSummary struct {
	JobID              string  `json:"job_id"`
	BarID              int64   `json:"bar_id"`
	Mode               string  `json:"mode"`
	Status             string  `json:"status"`
	PeriodsProcessed   int     `json:"periods_processed"`
	TotalCollected     int     `json:"total_records"`
	TotalInserted      int     `json:"total_inserted"`
	TotalErrors        int     `json:"errors"`
	DurationSeconds    float64 `json:"duration_seconds"`
	LastPeriodWithData string  `json:"last_period_with_data,omitempty"`
}

// Summary derives the terminal report from the job's final state.
func (j *BatchJob) Summary(periodsProcessed int) SyncSummary {
	end := time.Now()
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	return SyncSummary{
		JobID:              j.ID,
		BarID:              j.BarID,
		Mode:               j.Mode,
		Status:             j.Status,
		PeriodsProcessed:   periodsProcessed,
		TotalCollected:     j.Totals.Collected,
		TotalInserted:      j.Totals.Inserted,
		TotalErrors:        j.Totals.Errors,
		DurationSeconds:    end.Sub(j.StartedAt).Seconds(),
		LastPeriodWithData: j.LastPeriodWithData,
	}
}
