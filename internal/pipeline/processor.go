package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zykor/barsync/internal/domain"
	"github.com/zykor/barsync/internal/pkg/logger"
)

// Processor turns staged vendor payloads into normalized warehouse rows.
// Each payload is parsed, keyed, partitioned into size-bounded sub-batches,
// and upserted with partial-failure isolation: one failed sub-batch never
// aborts its siblings.
type Processor struct {
	staging    StagingStore
	rows       RowStore
	registry   *Registry
	batchPause time.Duration
}

// NewProcessor creates a processor. batchPause is the cooperative pause
// between sub-batch upserts; zero disables it.
func NewProcessor(staging StagingStore, rows RowStore, registry *Registry, batchPause time.Duration) *Processor {
	return &Processor{staging: staging, rows: rows, registry: registry, batchPause: batchPause}
}

// Process normalizes one staging record. Re-invoking on an already
// processed record is a no-op. The record is marked processed only once at
// least one row landed downstream, or the payload legitimately held zero
// rows; a malformed payload stays unprocessed for manual reprocessing.
func (p *Processor) Process(ctx context.Context, rec *domain.StagingRecord) (ProcessingResult, error) {
	if rec.Processed {
		return ProcessingResult{}, nil
	}

	spec, ok := p.registry.Lookup(rec.DataType)
	if !ok {
		return ProcessingResult{}, fmt.Errorf("processor: unknown data type %q", rec.DataType)
	}

	rows, err := spec.Parse(rec.Payload, rec.BarID, rec.DataDate)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedPayload) {
			// Not marked processed: eligible for reprocessing, never silent loss.
			logger.Warn("staging payload not parseable",
				"staging_id", rec.ID, "data_type", rec.DataType, "date", rec.DataDate, "error", err)
			return ProcessingResult{}, nil
		}
		return ProcessingResult{}, fmt.Errorf("parse staging %d: %w", rec.ID, err)
	}

	if len(rows) == 0 {
		// Legitimately empty period: marked processed so it is never retried
		// forever and counts toward the backlog empty-period streak.
		if err := p.markProcessed(ctx, rec); err != nil {
			return ProcessingResult{}, err
		}
		return ProcessingResult{}, nil
	}

	result := ProcessingResult{Processed: len(rows)}
	batches := partition(rows, spec.BatchSize)
	for i, batch := range batches {
		inserted, err := p.rows.UpsertRows(ctx, spec.Table, spec.Columns, batch)
		if err != nil {
			result.Errors++
			logger.Error("sub-batch upsert failed",
				"staging_id", rec.ID, "data_type", rec.DataType,
				"batch", i+1, "batches", len(batches), "rows", len(batch), "error", err)
		} else {
			result.Inserted += inserted
		}

		if i+1 < len(batches) {
			// Honor cancellation between sub-batches, never mid-write.
			if err := pause(ctx, p.batchPause); err != nil {
				return result, err
			}
		}
	}

	if result.Inserted > 0 {
		if err := p.markProcessed(ctx, rec); err != nil {
			return result, err
		}
	}

	logger.Info("processed staging record",
		"staging_id", rec.ID, "data_type", rec.DataType, "date", rec.DataDate,
		"rows", result.Processed, "inserted", result.Inserted, "failed_batches", result.Errors)
	return result, nil
}

// ProcessUnprocessed runs the processor over up to limit pending staging
// records, the manual reprocessing path for payloads that failed earlier.
func (p *Processor) ProcessUnprocessed(ctx context.Context, limit int) (ProcessingResult, error) {
	recs, err := p.staging.SelectUnprocessed(ctx, limit)
	if err != nil {
		return ProcessingResult{}, fmt.Errorf("select unprocessed: %w", err)
	}

	var total ProcessingResult
	for i := range recs {
		res, err := p.Process(ctx, &recs[i])
		total.Processed += res.Processed
		total.Inserted += res.Inserted
		total.Errors += res.Errors
		if err != nil {
			if ctx.Err() != nil {
				return total, err
			}
			total.Errors++
			logger.Error("reprocessing failed", "staging_id", recs[i].ID, "error", err)
		}
	}
	return total, nil
}

func (p *Processor) markProcessed(ctx context.Context, rec *domain.StagingRecord) error {
	now := time.Now().UTC()
	if err := p.staging.MarkProcessed(ctx, rec.ID, now); err != nil {
		return fmt.Errorf("mark staging %d processed: %w", rec.ID, err)
	}
	rec.Processed = true
	rec.ProcessedAt = &now
	return nil
}

// partition splits rows into sub-batches of at most size rows.
func partition(rows []domain.Row, size int) [][]domain.Row {
	if size <= 0 {
		size = 1000
	}
	batches := make([][]domain.Row, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
	}
	return batches
}

// pause sleeps cooperatively, returning early on cancellation.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
