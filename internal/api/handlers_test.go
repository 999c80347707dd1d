package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zykor/barsync/internal/domain"
	"github.com/zykor/barsync/internal/pipeline"
)

type memStaging struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*domain.StagingRecord
}

func newMemStaging() *memStaging {
	return &memStaging{byID: make(map[int64]*domain.StagingRecord)}
}

func (m *memStaging) Upsert(_ context.Context, rec *domain.StagingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	cp := *rec
	m.byID[rec.ID] = &cp
	return nil
}

func (m *memStaging) GetByID(_ context.Context, id int64) (*domain.StagingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrStagingNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStaging) SelectUnprocessed(_ context.Context, limit int) ([]domain.StagingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StagingRecord
	for id := int64(1); id <= m.nextID; id++ {
		if rec, ok := m.byID[id]; ok && !rec.Processed {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memStaging) MarkProcessed(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.byID[id]; ok {
		rec.Processed = true
		rec.ProcessedAt = &at
	}
	return nil
}

type memRows struct {
	mu       sync.Mutex
	inserted int
}

func (m *memRows) UpsertRows(_ context.Context, _ string, _ []string, rows []domain.Row) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted += len(rows)
	return len(rows), nil
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]domain.BatchJob
}

func newMemJobs() *memJobs { return &memJobs{jobs: make(map[string]domain.BatchJob)} }

func (m *memJobs) Create(_ context.Context, job *domain.BatchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobs) Update(_ context.Context, job *domain.BatchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobs) Get(_ context.Context, id string) (*domain.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

// memClient serves n records per fetch; err fails every fetch.
type memClient struct {
	n   int
	err error
}

func (c *memClient) FetchPage(context.Context, domain.PageQuery) (domain.Page, error) {
	if c.err != nil {
		return domain.Page{}, c.err
	}
	records := make([]json.RawMessage, 0, c.n)
	for i := 0; i < c.n; i++ {
		records = append(records, json.RawMessage(fmt.Sprintf(`{"trn":"%d","itm":"1"}`, i)))
	}
	return domain.Page{Records: records}, nil
}

func parseTest(payload []byte, barID int64, date string) ([]domain.Row, error) {
	var p struct {
		List []map[string]string `json:"list"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.List == nil {
		return nil, domain.ErrMalformedPayload
	}
	rows := make([]domain.Row, 0, len(p.List))
	for _, it := range p.List {
		rows = append(rows, domain.Row{
			"bar_id":          barID,
			"idempotency_key": domain.IdempotencyKey(fmt.Sprint(barID), "sales", date, it["trn"], it["itm"]),
		})
	}
	return rows, nil
}

// memLock tracks acquire/release calls; held simulates a competing holder.
type memLock struct {
	mu       sync.Mutex
	held     bool
	acquired bool
	released bool
}

func (l *memLock) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	l.acquired = true
	return true, nil
}

func (l *memLock) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.released = true
	return nil
}

func newTestAPI(client pipeline.VendorClient) (http.Handler, *memJobs) {
	return newTestAPIWithLock(client, nil)
}

func newTestAPIWithLock(client pipeline.VendorClient, lock pipeline.Locker) (http.Handler, *memJobs) {
	staging := newMemStaging()
	rows := &memRows{}
	jobs := newMemJobs()

	registry := pipeline.NewRegistry(1000, pipeline.DataTypeSpec{
		Name:    "sales",
		Table:   "pos_sales",
		Columns: []string{"bar_id", "idempotency_key"},
		Client:  client,
		Parse:   parseTest,
	})
	collector := pipeline.NewCollector(staging, registry)
	processor := pipeline.NewProcessor(staging, rows, registry, 0)
	orchestrator := pipeline.NewOrchestrator(collector, processor, jobs, registry, pipeline.Config{})
	if lock != nil {
		orchestrator.SetLockFactory(func(int64) pipeline.Locker { return lock })
	}

	h := NewHandlers(orchestrator, collector, processor, jobs, staging)
	return SetupRoutes(h), jobs
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateJobAccepted(t *testing.T) {
	handler, jobs := newTestAPI(&memClient{n: 3})

	rec := doJSON(t, handler, http.MethodPost, "/api/sync/jobs", syncRequest{
		BarID: 7, Mode: domain.ModeSinglePeriod, PeriodStart: "2025-03-14",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["job_id"])
	assert.Equal(t, domain.StatusRunning, resp["status"])

	// The launched job eventually reaches a terminal state.
	require.Eventually(t, func() bool {
		job, err := jobs.Get(context.Background(), resp["job_id"])
		return err == nil && job.Status == domain.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateJobValidation(t *testing.T) {
	handler, _ := newTestAPI(&memClient{})

	rec := doJSON(t, handler, http.MethodPost, "/api/sync/jobs", syncRequest{
		Mode: domain.ModeSinglePeriod, PeriodStart: "2025-03-14",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/sync/jobs", syncRequest{
		BarID: 7, DataTypes: []string{"bogus"}, Mode: domain.ModeSinglePeriod, PeriodStart: "2025-03-14",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/jobs", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJobNotFound(t *testing.T) {
	handler, _ := newTestAPI(&memClient{})
	rec := doJSON(t, handler, http.MethodGet, "/api/sync/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunSyncSuccess(t *testing.T) {
	handler, jobs := newTestAPI(&memClient{n: 5})

	rec := doJSON(t, handler, http.MethodPost, "/api/sync/run", syncRequest{
		BarID: 7, PeriodStart: "2025-03-14",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Collected)
	assert.Equal(t, 5, resp.Totals.Inserted)
	assert.Equal(t, 0, resp.Totals.Errors)

	// Exactly one job, completed.
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	require.Len(t, jobs.jobs, 1)
	for _, job := range jobs.jobs {
		assert.Equal(t, domain.StatusCompleted, job.Status)
	}
}

func TestRunSyncVendorDown(t *testing.T) {
	handler, _ := newTestAPI(&memClient{err: domain.ErrVendorUnavailable})

	rec := doJSON(t, handler, http.MethodPost, "/api/sync/run", syncRequest{
		BarID: 7, PeriodStart: "2025-03-14",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRunSyncHoldsWriterLock(t *testing.T) {
	lock := &memLock{}
	handler, _ := newTestAPIWithLock(&memClient{n: 5}, lock)

	rec := doJSON(t, handler, http.MethodPost, "/api/sync/run", syncRequest{
		BarID: 7, PeriodStart: "2025-03-14",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, lock.acquired)
	assert.True(t, lock.released)
}

func TestRunSyncConflictsWithHeldLock(t *testing.T) {
	lock := &memLock{held: true}
	handler, jobs := newTestAPIWithLock(&memClient{n: 5}, lock)

	rec := doJSON(t, handler, http.MethodPost, "/api/sync/run", syncRequest{
		BarID: 7, PeriodStart: "2025-03-14",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	// A lock we never took must not be released out from under its holder.
	assert.False(t, lock.released)

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	require.Len(t, jobs.jobs, 1)
	for _, job := range jobs.jobs {
		assert.Equal(t, domain.StatusFailed, job.Status)
	}
}

func TestRunSyncBadPeriod(t *testing.T) {
	handler, _ := newTestAPI(&memClient{})

	rec := doJSON(t, handler, http.MethodPost, "/api/sync/run", syncRequest{
		BarID: 7, PeriodStart: "14/03/2025",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReprocessEmptyBacklog(t *testing.T) {
	handler, _ := newTestAPI(&memClient{})

	rec := doJSON(t, handler, http.MethodPost, "/api/sync/reprocess", reprocessRequest{Limit: 10})
	require.Equal(t, http.StatusOK, rec.Code)

	var res pipeline.ProcessingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, pipeline.ProcessingResult{}, res)
}

func TestGetStagingNotFound(t *testing.T) {
	handler, _ := newTestAPI(&memClient{})

	rec := doJSON(t, handler, http.MethodGet, "/api/sync/staging/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/sync/staging/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	handler, _ := newTestAPI(&memClient{})

	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "not_configured", status.Checks["database"].Status)
}
