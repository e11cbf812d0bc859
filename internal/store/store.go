// Package store persists merged company records, watch entries and
// investigation notes.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/normalize"
)

// ErrNotFound is returned when a record, watch entry or note does not exist.
var ErrNotFound = eris.New("store: not found")

// RecordFunc receives the current record for a key (nil when absent) and
// returns the record to save. Returning nil leaves the store unchanged.
type RecordFunc func(cur *company.Record) (*company.Record, error)

// RecordFilter specifies criteria for listing records.
type RecordFilter struct {
	Region string         `json:"wilaya,omitempty"`
	Source company.Source `json:"source,omitempty"` // only records with this enrichment attached
	Query  string         `json:"q,omitempty"`      // substring of the display name
	Limit  int            `json:"limit,omitempty"`  // 0 = no limit
	Offset int            `json:"offset,omitempty"`
}

// WatchFilter specifies criteria for listing watch entries.
type WatchFilter struct {
	Status company.WatchStatus `json:"status,omitempty"`
	Region string              `json:"wilaya,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the linkage pipeline and API.
//
// UpdateRecord, UpdateRecordByID and UpdateWatch are read-modify-write
// operations serialized per key; fn must not call back into the store.
type Store interface {
	// Records
	GetRecord(ctx context.Context, id string) (*company.Record, error)
	GetRecordByKey(ctx context.Context, key normalize.Key) (*company.Record, error)
	// GetRecordByExternalID returns the oldest record carrying the registry id.
	GetRecordByExternalID(ctx context.Context, externalID string) (*company.Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]*company.Record, error)
	UpdateRecord(ctx context.Context, key normalize.Key, fn RecordFunc) (*company.Record, error)
	UpdateRecordByID(ctx context.Context, id string, fn func(r *company.Record) error) (*company.Record, error)
	// Version changes whenever any record is written.
	Version(ctx context.Context) (int64, error)

	// Watch list
	InsertWatch(ctx context.Context, entries []*company.WatchEntry) (int, error)
	GetWatch(ctx context.Context, id string) (*company.WatchEntry, error)
	ListWatch(ctx context.Context, filter WatchFilter) ([]*company.WatchEntry, error)
	UpdateWatch(ctx context.Context, id string, fn func(w *company.WatchEntry) error) (*company.WatchEntry, error)

	// Notes
	CreateNote(ctx context.Context, n *company.Note) error
	GetNote(ctx context.Context, id string) (*company.Note, error)
	ListNotes(ctx context.Context, recordID string) ([]company.Note, error)
	UpdateNote(ctx context.Context, id string, fn func(n *company.Note) error) (*company.Note, error)
	DeleteNote(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// externalID returns the registry id attached to r, used as an indexed column.
func externalID(r *company.Record) string {
	if p := r.Registry(); p != nil {
		return p.ExternalID
	}
	return ""
}
