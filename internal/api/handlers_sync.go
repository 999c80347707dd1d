package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/zykor/barsync/internal/domain"
	"github.com/zykor/barsync/internal/pipeline"
)

// Handlers holds the dependencies of the sync API.
type Handlers struct {
	orchestrator *pipeline.Orchestrator
	processor    *pipeline.Processor
	collector    *pipeline.Collector
	jobs         pipeline.JobStore
	staging      pipeline.StagingStore

	healthDB    *sql.DB
	healthRedis *redis.Client

	// BacklogStartDate seeds backlog jobs that omit period_start.
	BacklogStartDate string
}

// NewHandlers creates the sync API handlers.
func NewHandlers(orchestrator *pipeline.Orchestrator, collector *pipeline.Collector, processor *pipeline.Processor, jobs pipeline.JobStore, staging pipeline.StagingStore) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		collector:    collector,
		processor:    processor,
		jobs:         jobs,
		staging:      staging,
	}
}

type syncRequest struct {
	BarID       int64    `json:"bar_id"`
	DataTypes   []string `json:"data_types"`
	Mode        string   `json:"mode"`
	PeriodStart string   `json:"period_start"`
	PeriodEnd   string   `json:"period_end"`
}

// CreateJob launches an asynchronous sync job.
//
//	POST /api/sync/jobs
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ModeSinglePeriod
	}
	if req.Mode == domain.ModeBacklog && req.PeriodStart == "" {
		req.PeriodStart = h.BacklogStartDate
	}

	job, err := h.orchestrator.NewJob(r.Context(), req.BarID, req.DataTypes, req.Mode, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.orchestrator.Launch(job)
	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// GetJob returns the current snapshot of a job.
//
//	GET /api/sync/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "job not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

type runResponse struct {
	BarID     int64                     `json:"bar_id"`
	Period    string                    `json:"period"`
	Collected int                       `json:"collected"`
	Results   map[string]runDataResult  `json:"results"`
	Totals    pipeline.ProcessingResult `json:"totals"`
}

type runDataResult struct {
	Collected int                       `json:"collected"`
	Result    pipeline.ProcessingResult `json:"result"`
}

// RunSync collects and processes one period synchronously, one data type at
// a time. Vendor unavailability fails the whole call; sub-batch failures
// surface as a non-zero error count in a 200 response.
//
//	POST /api/sync/run
func (h *Handlers) RunSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.orchestrator.NewJob(r.Context(), req.BarID, req.DataTypes, domain.ModeSinglePeriod, req.PeriodStart, "")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Same per-bar writer lock the background jobs hold, so a synchronous
	// run cannot interleave upserts with a running job for this bar.
	if lock := h.orchestrator.Lock(req.BarID); lock != nil {
		held, err := lock.Acquire(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			h.finishJob(r, job, domain.StatusFailed, "writer lock: "+err.Error())
			return
		}
		if !held {
			respondError(w, http.StatusConflict, "another sync is already running for this bar")
			h.finishJob(r, job, domain.StatusFailed, "writer lock held")
			return
		}
		defer lock.Release(context.WithoutCancel(r.Context()))
	}

	resp := runResponse{
		BarID:   req.BarID,
		Period:  req.PeriodStart,
		Results: make(map[string]runDataResult, len(job.DataTypes)),
	}
	for _, dataType := range job.DataTypes {
		rec, err := h.collector.Collect(r.Context(), req.BarID, dataType, req.PeriodStart)
		if err != nil {
			if errors.Is(err, domain.ErrVendorUnavailable) {
				respondError(w, http.StatusBadGateway, err.Error())
			} else {
				respondError(w, http.StatusInternalServerError, err.Error())
			}
			h.finishJob(r, job, domain.StatusFailed, err.Error())
			return
		}
		resp.Collected += rec.RecordCount

		res, err := h.processor.Process(r.Context(), rec)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			h.finishJob(r, job, domain.StatusFailed, err.Error())
			return
		}
		resp.Results[dataType] = runDataResult{Collected: rec.RecordCount, Result: res}
		resp.Totals.Processed += res.Processed
		resp.Totals.Inserted += res.Inserted
		resp.Totals.Errors += res.Errors
	}

	job.Totals = domain.JobTotals{
		Collected: resp.Collected,
		Processed: resp.Totals.Processed,
		Inserted:  resp.Totals.Inserted,
		Errors:    resp.Totals.Errors,
	}
	h.finishJob(r, job, domain.StatusCompleted, "")
	respondJSON(w, http.StatusOK, resp)
}

type reprocessRequest struct {
	Limit int `json:"limit"`
}

// Reprocess runs the processor over pending staged payloads.
//
//	POST /api/sync/reprocess
func (h *Handlers) Reprocess(w http.ResponseWriter, r *http.Request) {
	var req reprocessRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	res, err := h.processor.ProcessUnprocessed(r.Context(), req.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// GetStaging returns one raw staging record, payload included.
//
//	GET /api/sync/staging/{id}
func (h *Handlers) GetStaging(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid staging id")
		return
	}
	rec, err := h.staging.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrStagingNotFound) {
			respondError(w, http.StatusNotFound, "staging record not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *Handlers) finishJob(r *http.Request, job *domain.BatchJob, status, errMsg string) {
	job.Status = status
	job.Error = errMsg
	now := nowUTC()
	job.FinishedAt = &now
	_ = h.jobs.Update(r.Context(), job)
}
