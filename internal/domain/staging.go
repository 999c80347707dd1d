package domain

import (
	"encoding/json"
	"time"
)

// StagingRecord is a durable, unprocessed copy of one vendor payload for one
// (bar, data type, business date) triple. It is the unit of replay: the
// collector creates it, the processor flips Processed exactly once.
type StagingRecord struct {
	ID          int64
	BarID       int64
	DataType    string
	DataDate    string // business date, YYYY-MM-DD, tenant-local
	Payload     json.RawMessage
	RecordCount int
	Processed   bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// Row is one normalized row bound for a warehouse table. Keys are column
// names; every row carries "bar_id" and "idempotency_key". Values may be nil
// for SQL NULL.
type Row map[string]any

// PageQuery identifies one page of a vendor read.
type PageQuery struct {
	BarID    int64
	DataType string
	Date     string // YYYY-MM-DD
	Cursor   int    // vendor-specific offset or page number; 0 for the first page
}

// Page is the result of one vendor page fetch.
type Page struct {
	Records    []json.RawMessage
	NextCursor int
	HasMore    bool
}
