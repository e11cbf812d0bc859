package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/match"
	"github.com/sells-group/regwatch/internal/normalize"
	"github.com/sells-group/regwatch/internal/source"
	"github.com/sells-group/regwatch/internal/watchlist"
)

// WatchReport summarizes a watch list build or import.
type WatchReport struct {
	Candidates int `json:"candidates"`
	Inserted   int `json:"inserted"`
	Existing   int `json:"existing"`
}

// BuildWatchlist selects base entities with no registry counterpart and
// stores them as watch entries. Keys already on the list are left alone.
func (p *Pipeline) BuildWatchlist(ctx context.Context, base, registry []company.Entity, includeReview bool) (*WatchReport, error) {
	b := watchlist.NewBuilder(p.profiles[match.ProfileRegistry], includeReview)
	b.Now = p.now
	entries := b.Build(base, registry)
	return p.insertWatch(ctx, entries)
}

// ImportWatchlist stores a prepared watch list. Rows are unique by identity
// key; later duplicates are dropped.
func (p *Pipeline) ImportWatchlist(ctx context.Context, rows []source.WatchRow) (*WatchReport, error) {
	now := p.now()
	seen := make(map[normalize.Key]bool, len(rows))
	var entries []*company.WatchEntry
	for _, r := range rows {
		e := company.Entity{
			Source: company.SourceBase,
			Name:   r.Name,
			Region: r.Region,
			Payload: &company.BasePayload{
				Name:        r.Name,
				Region:      r.Region,
				SubRegion:   r.Delegation,
				Type:        r.Type,
				ActivityRaw: r.Activity,
			},
		}
		key := e.Key()
		if key.IsZero() || seen[key] {
			continue
		}
		seen[key] = true
		w := watchlist.NewEntry(uuid.NewString(), e, now)
		w.AnnouncedAt = r.AnnouncedAt
		entries = append(entries, w)
	}
	return p.insertWatch(ctx, entries)
}

func (p *Pipeline) insertWatch(ctx context.Context, entries []*company.WatchEntry) (*WatchReport, error) {
	n, err := p.store.InsertWatch(ctx, entries)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: insert watch entries")
	}
	rep := &WatchReport{Candidates: len(entries), Inserted: n, Existing: len(entries) - n}
	p.log.Info("watch list updated",
		zap.Int("candidates", rep.Candidates),
		zap.Int("inserted", rep.Inserted),
		zap.Int("existing", rep.Existing),
	)
	return rep, nil
}

// SetWatchStatus applies an operator status change to one entry.
func (p *Pipeline) SetWatchStatus(ctx context.Context, id string, status company.WatchStatus) (*company.WatchEntry, error) {
	return p.store.UpdateWatch(ctx, id, func(w *company.WatchEntry) error {
		return watchlist.SetStatus(w, status, p.now())
	})
}
