package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/zykor/barsync/internal/domain"
)

type fakeStaging struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*domain.StagingRecord
	byKey  map[string]int64
}

func newFakeStaging() *fakeStaging {
	return &fakeStaging{
		byID:  make(map[int64]*domain.StagingRecord),
		byKey: make(map[string]int64),
	}
}

func stagingKey(barID int64, dataType, date string) string {
	return fmt.Sprintf("%d|%s|%s", barID, dataType, date)
}

func (f *fakeStaging) Upsert(_ context.Context, rec *domain.StagingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stagingKey(rec.BarID, rec.DataType, rec.DataDate)
	if id, ok := f.byKey[key]; ok {
		*rec = *f.byID[id]
		return nil
	}
	f.nextID++
	rec.ID = f.nextID
	cp := *rec
	f.byID[rec.ID] = &cp
	f.byKey[key] = rec.ID
	return nil
}

func (f *fakeStaging) GetByID(_ context.Context, id int64) (*domain.StagingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrStagingNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStaging) SelectUnprocessed(_ context.Context, limit int) ([]domain.StagingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StagingRecord
	for id := int64(1); id <= f.nextID; id++ {
		rec, ok := f.byID[id]
		if !ok || rec.Processed {
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStaging) MarkProcessed(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.byID[id]; ok && !rec.Processed {
		rec.Processed = true
		rec.ProcessedAt = &at
	}
	return nil
}

// fakeRows records every upsert call; failBatch fails the nth call (1-based).
type fakeRows struct {
	mu        sync.Mutex
	calls     [][]domain.Row
	tables    []string
	failBatch int
}

func (f *fakeRows) UpsertRows(_ context.Context, table string, _ []string, rows []domain.Row) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rows)
	f.tables = append(f.tables, table)
	if f.failBatch > 0 && len(f.calls) == f.failBatch {
		return 0, fmt.Errorf("deadlock detected")
	}
	return len(rows), nil
}

// fakeClient serves canned pages keyed by date; missing dates yield an empty
// page. err, when set, fails every fetch.
type fakeClient struct {
	mu       sync.Mutex
	pages    map[string][]domain.Page
	errDates map[string]error
	calls    int
	err      error
}

func (f *fakeClient) FetchPage(_ context.Context, q domain.PageQuery) (domain.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.Page{}, f.err
	}
	if err := f.errDates[q.Date]; err != nil {
		return domain.Page{}, err
	}
	pages := f.pages[q.Date]
	if q.Cursor >= len(pages) {
		return domain.Page{}, nil
	}
	return pages[q.Cursor], nil
}

// makePages builds a paginated response, one page per count, with cursors
// chained the way the collector walks them.
func makePages(counts ...int) []domain.Page {
	pages := make([]domain.Page, len(counts))
	for i, n := range counts {
		pages[i] = domain.Page{
			Records:    rawRecords(n),
			NextCursor: i + 1,
			HasMore:    i+1 < len(counts),
		}
	}
	return pages
}

func rawRecords(n int) []json.RawMessage {
	out := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
	}
	return out
}

// passthroughParse turns each staged record into one row keyed on its index.
func passthroughParse(payload []byte, barID int64, date string) ([]domain.Row, error) {
	var p struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.List == nil {
		return nil, domain.ErrMalformedPayload
	}
	rows := make([]domain.Row, 0, len(p.List))
	for i := range p.List {
		rows = append(rows, domain.Row{
			"bar_id":          barID,
			"idempotency_key": domain.IdempotencyKey(fmt.Sprint(barID), "test", date, fmt.Sprint(i)),
		})
	}
	return rows, nil
}

type fakeJobs struct {
	mu      sync.Mutex
	jobs    map[string]domain.BatchJob
	updates int
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: make(map[string]domain.BatchJob)} }

func (f *fakeJobs) Create(_ context.Context, job *domain.BatchJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeJobs) Update(_ context.Context, job *domain.BatchJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	f.jobs[job.ID] = *job
	f.updates++
	return nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (*domain.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	summaries []domain.SyncSummary
}

func (f *fakeNotifier) JobFinished(_ context.Context, _ *domain.BatchJob, s domain.SyncSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

type fakeLock struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.acquired++
	return !f.held, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.released++
	return nil
}
