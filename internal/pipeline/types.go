// Package pipeline implements the vendor data ingestion core: the
// Collector pulls paginated vendor payloads into the raw staging store, the
// Processor normalizes staged payloads into idempotent warehouse rows, and
// the Orchestrator walks period ranges invoking both.
package pipeline

import (
	"context"
	"time"

	"github.com/zykor/barsync/internal/domain"
)

// VendorClient reads one page of vendor data. Implementations hide auth
// refresh, pagination cursors, and rate-limit pacing, and surface transport
// failures as domain.ErrVendorUnavailable.
type VendorClient interface {
	FetchPage(ctx context.Context, q domain.PageQuery) (domain.Page, error)
}

// ParseFunc turns one staged payload into normalized rows. Structural
// garbage and missing key fields surface as domain.ErrMalformedPayload.
type ParseFunc func(payload []byte, barID int64, date string) ([]domain.Row, error)

// DataTypeSpec binds one vendor data type to its client, parser, and
// warehouse target. BatchSize caps rows per upsert call; zero falls back to
// the registry default.
type DataTypeSpec struct {
	Name      string
	Table     string
	Columns   []string
	BatchSize int
	Client    VendorClient
	Parse     ParseFunc
}

// Registry holds the configured data types in registration order.
type Registry struct {
	defaultBatchSize int
	order            []string
	specs            map[string]DataTypeSpec
}

// NewRegistry builds a registry. defaultBatchSize applies to specs without
// an explicit batch size.
func NewRegistry(defaultBatchSize int, specs ...DataTypeSpec) *Registry {
	if defaultBatchSize <= 0 {
		defaultBatchSize = 1000
	}
	r := &Registry{
		defaultBatchSize: defaultBatchSize,
		specs:            make(map[string]DataTypeSpec, len(specs)),
	}
	for _, s := range specs {
		if s.BatchSize <= 0 {
			s.BatchSize = defaultBatchSize
		}
		if _, dup := r.specs[s.Name]; dup {
			continue
		}
		r.specs[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r
}

// Lookup returns the spec for a data type name.
func (r *Registry) Lookup(name string) (DataTypeSpec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns all registered data type names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// StagingStore is the raw staging table contract.
type StagingStore interface {
	// Upsert writes a staging record for its natural key, keeping the
	// existing row when one is already present. The stored row is reflected
	// back into rec.
	Upsert(ctx context.Context, rec *domain.StagingRecord) error
	GetByID(ctx context.Context, id int64) (*domain.StagingRecord, error)
	SelectUnprocessed(ctx context.Context, limit int) ([]domain.StagingRecord, error)
	MarkProcessed(ctx context.Context, id int64, at time.Time) error
}

// RowStore is the normalized warehouse contract: an atomic multi-row upsert
// keyed on idempotency_key.
type RowStore interface {
	UpsertRows(ctx context.Context, table string, columns []string, rows []domain.Row) (int, error)
}

// JobStore persists batch job snapshots.
type JobStore interface {
	Create(ctx context.Context, job *domain.BatchJob) error
	Update(ctx context.Context, job *domain.BatchJob) error
	Get(ctx context.Context, id string) (*domain.BatchJob, error)
}

// Notifier receives the terminal summary of a job. Delivery failures are
// logged, never fatal.
type Notifier interface {
	JobFinished(ctx context.Context, job *domain.BatchJob, summary domain.SyncSummary) error
}

// Archiver receives a best-effort copy of each collected raw payload.
type Archiver interface {
	Save(ctx context.Context, barID int64, dataType, date string, payload []byte) error
}

// Locker guards a bar's sync against concurrent writers.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockFactory builds the writer lock for one bar.
type LockFactory func(barID int64) Locker

// ProcessingResult reports one staging record's processing outcome.
type ProcessingResult struct {
	Processed int `json:"processed"` // rows derived from the payload
	Inserted  int `json:"inserted"`  // rows upserted downstream
	Errors    int `json:"errors"`    // failed sub-batches
}
