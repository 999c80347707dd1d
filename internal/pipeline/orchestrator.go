package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zykor/barsync/internal/domain"
	"github.com/zykor/barsync/internal/pkg/logger"
)

const dateLayout = "2006-01-02"

// Config carries the orchestrator tuning knobs.
type Config struct {
	// EmptyPeriodThreshold stops a backlog crawl after this many consecutive
	// periods without inserted rows.
	EmptyPeriodThreshold int
	// PeriodPause is the cooperative pause between period iterations.
	PeriodPause time.Duration
}

// Orchestrator is the control loop: it walks the periods of a batch job,
// invoking the collector and processor per period and data type, and
// reports a terminal summary to the notification sink.
//
// Periods run strictly sequentially within one job so that upserts for the
// same bar and period are never issued concurrently.
type Orchestrator struct {
	collector *Collector
	processor *Processor
	jobs      JobStore
	registry  *Registry
	cfg       Config

	notifier Notifier    // optional
	newLock  LockFactory // optional
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(collector *Collector, processor *Processor, jobs JobStore, registry *Registry, cfg Config) *Orchestrator {
	if cfg.EmptyPeriodThreshold <= 0 {
		cfg.EmptyPeriodThreshold = 3
	}
	return &Orchestrator{
		collector: collector,
		processor: processor,
		jobs:      jobs,
		registry:  registry,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetNotifier enables terminal summary delivery.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// SetLockFactory enables the per-bar writer lock.
func (o *Orchestrator) SetLockFactory(f LockFactory) { o.newLock = f }

// Lock builds the writer lock for one bar, nil when locking is disabled.
// Callers that bypass Run must hold it for the duration of their writes.
func (o *Orchestrator) Lock(barID int64) Locker {
	if o.newLock == nil {
		return nil
	}
	return o.newLock(barID)
}

// NewJob validates a sync request and builds a job in Running state. The
// job is persisted; Run executes it.
func (o *Orchestrator) NewJob(ctx context.Context, barID int64, dataTypes []string, mode, periodStart, periodEnd string) (*domain.BatchJob, error) {
	if barID <= 0 {
		return nil, fmt.Errorf("bar_id is required")
	}
	if len(dataTypes) == 0 {
		dataTypes = o.registry.Names()
	}
	for _, dt := range dataTypes {
		if _, ok := o.registry.Lookup(dt); !ok {
			return nil, fmt.Errorf("unknown data type %q", dt)
		}
	}

	start, err := time.Parse(dateLayout, periodStart)
	if err != nil {
		return nil, fmt.Errorf("invalid period start %q", periodStart)
	}

	switch mode {
	case domain.ModeSinglePeriod, domain.ModeBacklog:
	case domain.ModeContinuous:
		end, err := time.Parse(dateLayout, periodEnd)
		if err != nil {
			return nil, fmt.Errorf("invalid period end %q", periodEnd)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("period end before start")
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	job := &domain.BatchJob{
		ID:          uuid.NewString(),
		BarID:       barID,
		DataTypes:   dataTypes,
		Mode:        mode,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      domain.StatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Launch runs a job in the background, detached from the caller's request
// context. Cancellation comes through the returned cancel func.
func (o *Orchestrator) Launch(job *domain.BatchJob) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if _, err := o.Run(ctx, job); err != nil {
			logger.Error("sync job aborted", "job_id", job.ID, "error", err)
		}
	}()
	return cancel
}

// Run executes a job to its terminal state and returns the summary.
func (o *Orchestrator) Run(ctx context.Context, job *domain.BatchJob) (domain.SyncSummary, error) {
	if o.newLock != nil {
		lock := o.newLock(job.BarID)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return o.finish(ctx, job, 0, domain.StatusFailed, fmt.Sprintf("writer lock: %v", err)), nil
		}
		if !ok {
			return o.finish(ctx, job, 0, domain.StatusFailed, "another sync is already running for this bar"), nil
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}

	start, _ := time.Parse(dateLayout, job.PeriodStart)
	periods := 0

	for cursor := start; ; cursor = cursor.AddDate(0, 0, 1) {
		if done, why := o.rangeExhausted(job, cursor); done {
			return o.finish(ctx, job, periods, domain.StatusCompleted, why), nil
		}
		if ctx.Err() != nil {
			// Operator-requested stop between periods is a normal terminal
			// condition, like the backlog threshold.
			return o.finish(ctx, job, periods, domain.StatusCompleted, "cancelled"), ctx.Err()
		}

		period := cursor.Format(dateLayout)
		inserted, collectFailed := o.runPeriod(ctx, job, period)
		periods++
		job.PeriodCursor = period

		if collectFailed && job.Mode == domain.ModeSinglePeriod {
			return o.finish(ctx, job, periods, domain.StatusFailed, "vendor unavailable for period "+period), nil
		}

		// Collector-failed periods are ambiguous: they neither extend nor
		// reset the empty streak.
		if !collectFailed {
			if inserted > 0 {
				job.ConsecutiveEmpty = 0
				job.LastPeriodWithData = period
			} else {
				job.ConsecutiveEmpty++
			}
		}

		if err := o.jobs.Update(ctx, job); err != nil {
			logger.Warn("job snapshot update failed", "job_id", job.ID, "error", err)
		}

		if job.Mode == domain.ModeBacklog && job.ConsecutiveEmpty >= o.cfg.EmptyPeriodThreshold {
			logger.Info("backlog crawl auto-stopped",
				"job_id", job.ID, "empty_streak", job.ConsecutiveEmpty,
				"last_period_with_data", job.LastPeriodWithData)
			return o.finish(ctx, job, periods, domain.StatusCompleted, ""), nil
		}

		if err := pause(ctx, o.cfg.PeriodPause); err != nil {
			return o.finish(ctx, job, periods, domain.StatusCompleted, "cancelled"), err
		}
	}
}

// runPeriod collects and processes every data type of one period. Returns
// the rows inserted for the period and whether any collection failed.
func (o *Orchestrator) runPeriod(ctx context.Context, job *domain.BatchJob, period string) (inserted int, collectFailed bool) {
	for _, dataType := range job.DataTypes {
		rec, err := o.collector.Collect(ctx, job.BarID, dataType, period)
		if err != nil {
			// Period-scoped: the operator retries the period, the job moves on.
			collectFailed = true
			job.Totals.Errors++
			logger.Error("collection failed",
				"job_id", job.ID, "data_type", dataType, "period", period, "error", err)
			continue
		}
		job.Totals.Collected += rec.RecordCount

		res, err := o.processor.Process(ctx, rec)
		job.Totals.Processed += res.Processed
		job.Totals.Inserted += res.Inserted
		job.Totals.Errors += res.Errors
		inserted += res.Inserted
		if err != nil && ctx.Err() == nil {
			job.Totals.Errors++
			logger.Error("processing failed",
				"job_id", job.ID, "data_type", dataType, "period", period, "error", err)
		}
	}
	return inserted, collectFailed
}

// rangeExhausted reports whether the cursor has walked past the job's
// period range.
func (o *Orchestrator) rangeExhausted(job *domain.BatchJob, cursor time.Time) (bool, string) {
	switch job.Mode {
	case domain.ModeSinglePeriod:
		return job.PeriodCursor != "", ""
	case domain.ModeContinuous:
		end, _ := time.Parse(dateLayout, job.PeriodEnd)
		return cursor.After(end), ""
	case domain.ModeBacklog:
		// A backlog crawl never walks into the future; the empty-period
		// threshold is expected to stop it well before this bound.
		today := o.now().Format(dateLayout)
		return cursor.Format(dateLayout) > today, "reached current date"
	}
	return true, ""
}

// finish moves the job to its terminal state, persists it, and notifies.
func (o *Orchestrator) finish(ctx context.Context, job *domain.BatchJob, periods int, status, errMsg string) domain.SyncSummary {
	now := time.Now().UTC()
	job.Status = status
	job.FinishedAt = &now
	if errMsg != "" && status == domain.StatusFailed {
		job.Error = errMsg
	}

	// Persist and notify even when the run context was cancelled.
	base := context.WithoutCancel(ctx)
	if err := o.jobs.Update(base, job); err != nil {
		logger.Error("terminal job update failed", "job_id", job.ID, "error", err)
	}

	summary := job.Summary(periods)
	logger.Info("sync job finished",
		"job_id", job.ID, "bar_id", job.BarID, "mode", job.Mode, "status", job.Status,
		"periods", summary.PeriodsProcessed, "inserted", summary.TotalInserted,
		"errors", summary.TotalErrors, "duration_s", fmt.Sprintf("%.1f", summary.DurationSeconds))

	if o.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(base, 10*time.Second)
		defer cancel()
		if err := o.notifier.JobFinished(notifyCtx, job, summary); err != nil {
			logger.Warn("summary notification failed", "job_id", job.ID, "error", err)
		}
	}
	return summary
}
