package api

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/regwatch/internal/cache"
	"github.com/sells-group/regwatch/internal/normalize"
	"github.com/sells-group/regwatch/internal/risk"
	"github.com/sells-group/regwatch/internal/store"
)

// population is the scored entity set plus the version its cache keys use.
type population struct {
	label   string
	version int64
	load    func(ctx context.Context) ([]risk.Entity, error)
}

func (s *Server) population(ctx context.Context) (population, error) {
	if u := s.universe; u != nil && len(u.Base) > 0 {
		return population{
			label:   "universe",
			version: u.Version(),
			load: func(context.Context) ([]risk.Entity, error) {
				return u.RiskEntities(), nil
			},
		}, nil
	}
	v, err := s.store.Version(ctx)
	if err != nil {
		return population{}, eris.Wrap(err, "api: store version")
	}
	return population{
		label:   "store",
		version: v,
		load: func(ctx context.Context) ([]risk.Entity, error) {
			recs, err := s.store.ListRecords(ctx, store.RecordFilter{})
			if err != nil {
				return nil, eris.Wrap(err, "api: list records")
			}
			return risk.FromRecords(recs), nil
		},
	}, nil
}

// cached computes fn over the population, memoized per version.
func cached[T any](ctx context.Context, s *Server, kind string, fn func([]risk.Entity) T, parts ...string) (T, error) {
	p, err := s.population(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	key := cache.Key(kind, p.version, append([]string{p.label}, parts...)...)
	return cache.GetOrCompute(ctx, s.cache, key, s.ttl, func() (T, error) {
		es, err := p.load(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(es), nil
	})
}

func (s *Server) handleListRisk(w http.ResponseWriter, r *http.Request) {
	scores, err := cached(r.Context(), s, "risk", s.risk.ScoreAll)
	if err != nil {
		s.writeStoreError(w, r, err, "risk")
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	region := normalize.Region(pathParam(r, "name"))
	score, err := cached(r.Context(), s, "risk", func(es []risk.Entity) risk.RegionScore {
		return s.risk.Region(region, es)
	}, region)
	if err != nil {
		s.writeStoreError(w, r, err, "risk")
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleNationalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := cached(r.Context(), s, "stats", risk.National, "national")
	if err != nil {
		s.writeStoreError(w, r, err, "stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRegionStats(w http.ResponseWriter, r *http.Request) {
	region := normalize.Region(pathParam(r, "name"))
	stats, err := cached(r.Context(), s, "stats", func(es []risk.Entity) risk.RegionStats {
		return risk.Regional(region, es)
	}, "wilaya", region)
	if err != nil {
		s.writeStoreError(w, r, err, "stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
