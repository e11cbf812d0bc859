package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/risk"
	"github.com/sells-group/regwatch/internal/source"
)

// Locations names where each source table lives. Empty entries are not loaded.
type Locations struct {
	Base      string
	Gazette   string
	Registry  string
	Watchlist string
}

// Universe holds the source tables loaded for one process. It is built once
// at start-up and handed to each pipeline run and to the API server; it is
// read-only after Load returns.
type Universe struct {
	Base      []company.Entity
	Gazette   []company.Entity
	Registry  []company.Entity
	Watchlist []source.WatchRow
	// RegistrySkipped counts registry rows dropped for lacking an external id.
	RegistrySkipped int
	LoadedAt        time.Time
}

// Loader reads source tables into a Universe.
type Loader struct {
	Reader   *source.Reader
	Profiles source.Profiles
	Options  source.ReadOptions
}

// Load reads every configured location. A missing required column fails the
// whole load before any row is used.
func (l *Loader) Load(ctx context.Context, loc Locations) (*Universe, error) {
	u := &Universe{LoadedAt: time.Now().UTC()}
	var err error
	if loc.Base != "" {
		if u.Base, err = l.LoadBase(ctx, loc.Base); err != nil {
			return nil, err
		}
	}
	if loc.Gazette != "" {
		if u.Gazette, err = l.LoadGazette(ctx, loc.Gazette); err != nil {
			return nil, err
		}
	}
	if loc.Registry != "" {
		if u.Registry, u.RegistrySkipped, err = l.LoadRegistry(ctx, loc.Registry); err != nil {
			return nil, err
		}
	}
	if loc.Watchlist != "" {
		if u.Watchlist, err = l.LoadWatchlist(ctx, loc.Watchlist); err != nil {
			return nil, err
		}
	}
	zap.L().Info("universe loaded",
		zap.Int("base", len(u.Base)),
		zap.Int("gazette", len(u.Gazette)),
		zap.Int("registry", len(u.Registry)),
		zap.Int("registry_skipped", u.RegistrySkipped),
		zap.Int("watchlist", len(u.Watchlist)),
	)
	return u, nil
}

func (l *Loader) table(ctx context.Context, location string) (*source.Table, error) {
	t, err := l.Reader.Read(ctx, location, l.Options)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// LoadBase reads a base export.
func (l *Loader) LoadBase(ctx context.Context, location string) ([]company.Entity, error) {
	t, err := l.table(ctx, location)
	if err != nil {
		return nil, err
	}
	rows, err := source.DecodeBase(l.Profiles, t)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: decode base %s", location)
	}
	out := make([]company.Entity, len(rows))
	for i, r := range rows {
		out[i] = r.Entity()
	}
	return out, nil
}

// LoadGazette reads a gazette announcement table.
func (l *Loader) LoadGazette(ctx context.Context, location string) ([]company.Entity, error) {
	t, err := l.table(ctx, location)
	if err != nil {
		return nil, err
	}
	rows, err := source.DecodeGazette(l.Profiles, t)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: decode gazette %s", location)
	}
	out := make([]company.Entity, len(rows))
	for i, r := range rows {
		out[i] = r.Entity()
	}
	return out, nil
}

// LoadRegistry reads a registry mirror table, dropping rows without an
// external id. The number dropped is returned.
func (l *Loader) LoadRegistry(ctx context.Context, location string) ([]company.Entity, int, error) {
	t, err := l.table(ctx, location)
	if err != nil {
		return nil, 0, err
	}
	rows, err := source.DecodeRegistry(l.Profiles, t)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "pipeline: decode registry %s", location)
	}
	out := make([]company.Entity, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		if r.Payload.ExternalID == "" {
			skipped++
			continue
		}
		out = append(out, r.Entity())
	}
	return out, skipped, nil
}

// LoadWatchlist reads a prepared watch list.
func (l *Loader) LoadWatchlist(ctx context.Context, location string) ([]source.WatchRow, error) {
	t, err := l.table(ctx, location)
	if err != nil {
		return nil, err
	}
	rows, err := source.DecodeWatchlist(l.Profiles, t)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: decode watchlist %s", location)
	}
	return rows, nil
}

// RiskEntities projects the base table onto scoring entities.
func (u *Universe) RiskEntities() []risk.Entity {
	out := make([]risk.Entity, 0, len(u.Base))
	for _, e := range u.Base {
		if bp, ok := e.Payload.(*company.BasePayload); ok {
			out = append(out, risk.EntityOf(bp))
		}
	}
	return out
}

// Version identifies this load for cache keys.
func (u *Universe) Version() int64 {
	return u.LoadedAt.UnixNano()
}
