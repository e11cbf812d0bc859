// Package watchlist tracks base companies that are missing from the registry
// and flips them to detected when a later import carries their exact key.
package watchlist

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/match"
	"github.com/sells-group/regwatch/internal/normalize"
)

// ErrArchived is returned when a transition targets an archived entry.
var ErrArchived = eris.New("watchlist: entry is archived")

// Builder selects base entities with no registry counterpart.
type Builder struct {
	Thresholds    match.Thresholds
	IncludeReview bool
	Now           func() time.Time
	NewID         func() string
}

// NewBuilder returns a Builder using the registry profile thresholds.
func NewBuilder(th match.Thresholds, includeReview bool) *Builder {
	return &Builder{
		Thresholds:    th,
		IncludeReview: includeReview,
		Now:           func() time.Time { return time.Now().UTC() },
		NewID:         uuid.NewString,
	}
}

// Build returns one watch entry per identity key for each base entity whose
// best registry match falls in bucket none, or review when IncludeReview is
// set. Entities with an empty normalized name are ignored.
func (b *Builder) Build(base, registry []company.Entity) []*company.WatchEntry {
	log := zap.L().With(zap.String("component", "watchlist"))

	names := make([]string, len(registry))
	for i, e := range registry {
		names[i] = normalize.Normalize(e.Name)
	}
	idx := match.NewIndex(names)

	now := b.Now()
	seen := make(map[normalize.Key]bool)
	var out []*company.WatchEntry
	for _, e := range base {
		key := e.Key()
		if key.IsZero() || seen[key] {
			continue
		}
		res, ok := idx.Best(key.Name)
		bucket := match.BucketNone
		if ok {
			bucket = b.Thresholds.Classify(res.Score)
		}
		if bucket == match.BucketStrict || (bucket == match.BucketReview && !b.IncludeReview) {
			continue
		}
		seen[key] = true
		out = append(out, NewEntry(b.NewID(), e, now))
	}
	log.Info("watchlist built", zap.Int("base", len(base)), zap.Int("registry", len(registry)), zap.Int("entries", len(out)))
	return out
}

// NewEntry creates a watch entry in watch status from a base entity.
func NewEntry(id string, e company.Entity, now time.Time) *company.WatchEntry {
	w := &company.WatchEntry{
		ID:        id,
		Key:       e.Key(),
		Name:      e.Name,
		Region:    normalize.Region(e.Region),
		Status:    company.WatchPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if bp, ok := e.Payload.(*company.BasePayload); ok {
		w.Delegation = bp.SubRegion
		w.Activity = bp.ActivityRaw
		w.Type = bp.Type
	}
	return w
}

// Detection is what an incoming enrichment row contributes to a detection.
type Detection struct {
	ExternalID string
	DetailURL  string
	At         time.Time
}

// DetectionOf extracts detection metadata from a registry payload.
func DetectionOf(p company.Payload, at time.Time) Detection {
	d := Detection{At: at}
	if reg, ok := p.(*company.RegistryPayload); ok {
		d.ExternalID = reg.ExternalID
		d.DetailURL = reg.DetailURL
	}
	return d
}

// KeyFunc derives the identity key of an incoming entity.
type KeyFunc func(company.Entity) normalize.Key

// Reconcile finds the watch entry whose key equals the incoming entity's key
// and, if it is still in watch status, marks it detected. It returns the
// mutated entry or nil. Detected and archived entries are never touched, so
// reconciling the same row twice keeps the first detection time.
func Reconcile(entries []*company.WatchEntry, incoming company.Entity, keyFn KeyFunc, d Detection) *company.WatchEntry {
	if keyFn == nil {
		keyFn = company.Entity.Key
	}
	key := keyFn(incoming)
	if key.IsZero() {
		return nil
	}
	for _, w := range entries {
		if w.Key != key || w.Status != company.WatchPending {
			continue
		}
		if MarkDetected(w, d) {
			return w
		}
	}
	return nil
}

// MarkDetected sets status, detection time, external id and URL together.
// It reports false when the entry is not in watch status.
func MarkDetected(w *company.WatchEntry, d Detection) bool {
	if w.Status != company.WatchPending {
		return false
	}
	at := d.At
	w.Status = company.WatchDetected
	w.DetectedAt = &at
	w.ExternalID = d.ExternalID
	w.DetailURL = d.DetailURL
	w.UpdatedAt = at
	return true
}

// Archive moves an entry to the terminal archived status.
func Archive(w *company.WatchEntry, now time.Time) {
	if w.Status == company.WatchArchived {
		return
	}
	w.Status = company.WatchArchived
	w.UpdatedAt = now
}

// SetStatus applies an operator status change. Archived entries cannot be
// reopened; moving to detected without detection metadata stamps now.
func SetStatus(w *company.WatchEntry, status company.WatchStatus, now time.Time) error {
	if !status.Valid() {
		return eris.Errorf("watchlist: unknown status %q", status)
	}
	if w.Status == status {
		return nil
	}
	if w.Status == company.WatchArchived {
		return ErrArchived
	}
	switch status {
	case company.WatchArchived:
		Archive(w, now)
	case company.WatchDetected:
		MarkDetected(w, Detection{ExternalID: w.ExternalID, DetailURL: w.DetailURL, At: now})
	case company.WatchPending:
		w.Status = company.WatchPending
		w.DetectedAt = nil
		w.UpdatedAt = now
	}
	return nil
}
