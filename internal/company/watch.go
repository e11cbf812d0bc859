package company

import (
	"time"

	"github.com/sells-group/regwatch/internal/normalize"
)

// WatchStatus is the lifecycle state of a watch entry.
type WatchStatus string

// Watch statuses. Archived is terminal.
const (
	WatchPending  WatchStatus = "watch"
	WatchDetected WatchStatus = "detected"
	WatchArchived WatchStatus = "archived"
)

// Valid reports whether s is a known status.
func (s WatchStatus) Valid() bool {
	switch s {
	case WatchPending, WatchDetected, WatchArchived:
		return true
	}
	return false
}

// WatchEntry tracks a base company expected to appear later in the registry.
type WatchEntry struct {
	ID          string        `json:"id"`
	Key         normalize.Key `json:"key"`
	Name        string        `json:"name"`
	Region      string        `json:"wilaya"`
	Delegation  string        `json:"delegation,omitempty"`
	Activity    string        `json:"activity,omitempty"`
	Type        string        `json:"type,omitempty"`
	AnnouncedAt string        `json:"date_annonce,omitempty"`
	Status      WatchStatus   `json:"status"`
	DetectedAt  *time.Time    `json:"detected_at,omitempty"`
	ExternalID  string        `json:"external_id,omitempty"`
	DetailURL   string        `json:"detail_url,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
