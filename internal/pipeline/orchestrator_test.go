package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zykor/barsync/internal/domain"
)

func newTestOrchestrator(client *fakeClient, rows *fakeRows, jobs *fakeJobs) *Orchestrator {
	staging := newFakeStaging()
	registry := testRegistry(client, 1000)
	collector := NewCollector(staging, registry)
	processor := NewProcessor(staging, rows, registry, 0)
	return NewOrchestrator(collector, processor, jobs, registry, Config{
		EmptyPeriodThreshold: 3,
	})
}

func TestNewJobValidation(t *testing.T) {
	o := newTestOrchestrator(&fakeClient{}, &fakeRows{}, newFakeJobs())
	ctx := context.Background()

	_, err := o.NewJob(ctx, 0, nil, domain.ModeSinglePeriod, "2025-03-14", "")
	assert.Error(t, err)

	_, err = o.NewJob(ctx, 7, []string{"bogus"}, domain.ModeSinglePeriod, "2025-03-14", "")
	assert.Error(t, err)

	_, err = o.NewJob(ctx, 7, nil, domain.ModeSinglePeriod, "14/03/2025", "")
	assert.Error(t, err)

	_, err = o.NewJob(ctx, 7, nil, "turbo", "2025-03-14", "")
	assert.Error(t, err)

	_, err = o.NewJob(ctx, 7, nil, domain.ModeContinuous, "2025-03-14", "2025-03-10")
	assert.Error(t, err)

	job, err := o.NewJob(ctx, 7, nil, domain.ModeSinglePeriod, "2025-03-14", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, job.Status)
	// Omitted data types default to the whole registry.
	assert.Equal(t, []string{"test"}, job.DataTypes)
}

func TestRunSinglePeriod(t *testing.T) {
	client := &fakeClient{pages: map[string][]domain.Page{
		"2025-03-14": makePages(120),
	}}
	jobs := newFakeJobs()
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(client, &fakeRows{}, jobs)
	o.SetNotifier(notifier)

	job, err := o.NewJob(context.Background(), 7, nil, domain.ModeSinglePeriod, "2025-03-14", "")
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, summary.Status)
	assert.Equal(t, 1, summary.PeriodsProcessed)
	assert.Equal(t, 120, summary.TotalCollected)
	assert.Equal(t, 120, summary.TotalInserted)

	stored, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	require.NotNil(t, stored.FinishedAt)

	require.Len(t, notifier.summaries, 1)
	assert.Equal(t, job.ID, notifier.summaries[0].JobID)
}

func TestRunSinglePeriodVendorFailure(t *testing.T) {
	client := &fakeClient{err: domain.ErrVendorUnavailable}
	jobs := newFakeJobs()
	o := newTestOrchestrator(client, &fakeRows{}, jobs)

	job, err := o.NewJob(context.Background(), 7, nil, domain.ModeSinglePeriod, "2025-03-14", "")
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, summary.Status)
	assert.Contains(t, job.Error, "2025-03-14")
}

func TestRunContinuousRange(t *testing.T) {
	client := &fakeClient{pages: map[string][]domain.Page{
		"2025-03-10": makePages(10),
		"2025-03-11": makePages(20),
		"2025-03-12": makePages(30),
	}}
	o := newTestOrchestrator(client, &fakeRows{}, newFakeJobs())

	job, err := o.NewJob(context.Background(), 7, nil, domain.ModeContinuous, "2025-03-10", "2025-03-12")
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.PeriodsProcessed)
	assert.Equal(t, 60, summary.TotalInserted)
	assert.Equal(t, "2025-03-12", summary.LastPeriodWithData)
}

func TestRunContinuousSurvivesCollectorError(t *testing.T) {
	client := &fakeClient{
		pages: map[string][]domain.Page{
			"2025-03-10": makePages(10),
			"2025-03-12": makePages(30),
		},
		errDates: map[string]error{"2025-03-11": domain.ErrVendorUnavailable},
	}
	o := newTestOrchestrator(client, &fakeRows{}, newFakeJobs())

	job, err := o.NewJob(context.Background(), 7, nil, domain.ModeContinuous, "2025-03-10", "2025-03-12")
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), job)
	require.NoError(t, err)

	// The failed period is skipped, not fatal; its neighbors still land.
	assert.Equal(t, domain.StatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.PeriodsProcessed)
	assert.Equal(t, 40, summary.TotalInserted)
	assert.Equal(t, 1, summary.TotalErrors)
}

func TestRunBacklogStopsAfterEmptyStreak(t *testing.T) {
	// Data through 2025-03-04, then silence: the crawl must stop after three
	// consecutive empty periods without walking to the current date.
	client := &fakeClient{pages: map[string][]domain.Page{
		"2025-03-01": makePages(5),
		"2025-03-02": makePages(5),
		"2025-03-03": makePages(5),
		"2025-03-04": makePages(5),
	}}
	jobs := newFakeJobs()
	o := newTestOrchestrator(client, &fakeRows{}, jobs)

	job, err := o.NewJob(context.Background(), 7, nil, domain.ModeBacklog, "2025-03-01", "")
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, summary.Status)
	assert.Equal(t, 7, summary.PeriodsProcessed) // 4 with data + 3 empty
	assert.Equal(t, "2025-03-04", summary.LastPeriodWithData)
	assert.Equal(t, 3, job.ConsecutiveEmpty)
}

func TestRunBacklogStreakResetsOnData(t *testing.T) {
	// Two empty periods, then data again: the streak resets and the crawl
	// keeps going until three in a row.
	client := &fakeClient{pages: map[string][]domain.Page{
		"2025-03-01": makePages(5),
		"2025-03-04": makePages(5),
	}}
	o := newTestOrchestrator(client, &fakeRows{}, newFakeJobs())

	job, err := o.NewJob(context.Background(), 7, nil, domain.ModeBacklog, "2025-03-01", "")
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "2025-03-04", summary.LastPeriodWithData)
	assert.Equal(t, 7, summary.PeriodsProcessed) // 01..04 + 3 empty
}

func TestRunBacklogCollectorErrorDoesNotExtendStreak(t *testing.T) {
	client := &fakeClient{
		pages: map[string][]domain.Page{
			"2025-03-01": makePages(5),
		},
		errDates: map[string]error{"2025-03-03": domain.ErrVendorUnavailable},
	}
	o := newTestOrchestrator(client, &fakeRows{}, newFakeJobs())

	job, err := o.NewJob(context.Background(), 7, nil, domain.ModeBacklog, "2025-03-01", "")
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), job)
	require.NoError(t, err)

	// Empty: 02, 04, 05. The failed 03 is excluded from the streak, so the
	// stop lands one period later than a naive count.
	assert.Equal(t, 5, summary.PeriodsProcessed)
	assert.Equal(t, "2025-03-01", summary.LastPeriodWithData)
}

func TestRunLockHeldFailsFast(t *testing.T) {
	client := &fakeClient{pages: map[string][]domain.Page{"2025-03-14": makePages(5)}}
	o := newTestOrchestrator(client, &fakeRows{}, newFakeJobs())

	lock := &fakeLock{held: true}
	o.SetLockFactory(func(int64) Locker { return lock })

	job, err := o.NewJob(context.Background(), 7, nil, domain.ModeSinglePeriod, "2025-03-14", "")
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, summary.Status)
	assert.Equal(t, 0, client.calls)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 0, lock.released)
}

func TestRunReleasesLock(t *testing.T) {
	client := &fakeClient{pages: map[string][]domain.Page{"2025-03-14": makePages(5)}}
	o := newTestOrchestrator(client, &fakeRows{}, newFakeJobs())

	lock := &fakeLock{}
	o.SetLockFactory(func(int64) Locker { return lock })

	job, err := o.NewJob(context.Background(), 7, nil, domain.ModeSinglePeriod, "2025-03-14", "")
	require.NoError(t, err)

	_, err = o.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, lock.released)
}

func TestRunCancellationCompletesGracefully(t *testing.T) {
	client := &fakeClient{pages: map[string][]domain.Page{"2025-03-10": makePages(5)}}
	jobs := newFakeJobs()
	o := newTestOrchestrator(client, &fakeRows{}, jobs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := o.NewJob(context.Background(), 7, nil, domain.ModeContinuous, "2025-03-10", "2025-03-20")
	require.NoError(t, err)

	summary, err := o.Run(ctx, job)
	require.Error(t, err)
	assert.Equal(t, domain.StatusCompleted, summary.Status)
	assert.Equal(t, 0, summary.PeriodsProcessed)

	// The terminal state is persisted despite the dead context.
	stored, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}
