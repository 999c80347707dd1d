package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zykor/barsync/internal/domain"
	"github.com/zykor/barsync/internal/pkg/logger"
)

// Collector drives a vendor client across one business date and writes one
// raw staging record per (bar, data type, date). Collection is
// all-or-nothing: a vendor failure mid-pagination writes nothing.
type Collector struct {
	staging  StagingStore
	registry *Registry
	archive  Archiver // optional
}

// NewCollector creates a collector over the given staging store and data
// type registry.
func NewCollector(staging StagingStore, registry *Registry) *Collector {
	return &Collector{staging: staging, registry: registry}
}

// SetArchiver enables best-effort raw payload archival.
func (c *Collector) SetArchiver(a Archiver) { c.archive = a }

// Collect pulls every page of one data type for one business date and
// stages the combined payload. An empty vendor result still produces a
// staging record with record_count 0: the orchestrator needs the
// distinction between "no data" and "never attempted".
func (c *Collector) Collect(ctx context.Context, barID int64, dataType, date string) (*domain.StagingRecord, error) {
	spec, ok := c.registry.Lookup(dataType)
	if !ok {
		return nil, fmt.Errorf("collector: unknown data type %q", dataType)
	}

	start := time.Now()
	records := make([]json.RawMessage, 0, 64)
	q := domain.PageQuery{BarID: barID, DataType: dataType, Date: date}
	for {
		page, err := spec.Client.FetchPage(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("collect %s %s: %w", dataType, date, err)
		}
		records = append(records, page.Records...)
		if !page.HasMore {
			break
		}
		q.Cursor = page.NextCursor
	}

	payload, err := json.Marshal(struct {
		List []json.RawMessage `json:"list"`
	}{List: records})
	if err != nil {
		return nil, fmt.Errorf("collect %s %s: marshal payload: %w", dataType, date, err)
	}

	rec := &domain.StagingRecord{
		BarID:       barID,
		DataType:    dataType,
		DataDate:    date,
		Payload:     payload,
		RecordCount: len(records),
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.staging.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("collect %s %s: stage payload: %w", dataType, date, err)
	}

	if c.archive != nil {
		if err := c.archive.Save(ctx, barID, dataType, date, payload); err != nil {
			logger.Warn("raw payload archive failed",
				"bar_id", barID, "data_type", dataType, "date", date, "error", err)
		}
	}

	logger.Info("collected vendor payload",
		"bar_id", barID, "data_type", dataType, "date", date,
		"records", len(records), "elapsed", time.Since(start).Round(time.Millisecond))
	return rec, nil
}
