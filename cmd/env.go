package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/regwatch/internal/cache"
	"github.com/sells-group/regwatch/internal/crosscheck"
	"github.com/sells-group/regwatch/internal/fetcher"
	"github.com/sells-group/regwatch/internal/merge"
	"github.com/sells-group/regwatch/internal/pipeline"
	"github.com/sells-group/regwatch/internal/source"
	"github.com/sells-group/regwatch/internal/store"
	anthropicpkg "github.com/sells-group/regwatch/pkg/anthropic"
)

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.Path)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initCache(ctx context.Context) (cache.Cache, error) {
	switch cfg.Cache.Driver {
	case "redis":
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, cfg.Cache.Prefix)
		if err != nil {
			return nil, err
		}
		return rc, nil
	case "none":
		return cache.Nop(), nil
	default:
		return cache.NewMemory(), nil
	}
}

func newMerger() *merge.Merger {
	return merge.New(cfg.Merge.Pairs, cfg.Merge.Threshold)
}

func newPipeline(st store.Store) *pipeline.Pipeline {
	return pipeline.New(st, newMerger(), cfg.Match.Profiles)
}

func newLoader() (*pipeline.Loader, error) {
	profiles, err := source.LoadProfiles(cfg.Sources.Profiles)
	if err != nil {
		return nil, err
	}
	return &pipeline.Loader{
		Reader:   source.NewReader(fetcher.NewOpener(cfg.Fetch.FetcherOptions())),
		Profiles: profiles,
		Options: source.ReadOptions{
			Delimiter: cfg.Sources.DelimiterRune(),
			Sheet:     cfg.Sources.Sheet,
		},
	}, nil
}

// locations returns the configured source tables with flag overrides applied.
func locations(overrides pipeline.Locations) pipeline.Locations {
	loc := pipeline.Locations{
		Base:      cfg.Sources.Base,
		Gazette:   cfg.Sources.Gazette,
		Registry:  cfg.Sources.Registry,
		Watchlist: cfg.Sources.Watchlist,
	}
	if overrides.Base != "" {
		loc.Base = overrides.Base
	}
	if overrides.Gazette != "" {
		loc.Gazette = overrides.Gazette
	}
	if overrides.Registry != "" {
		loc.Registry = overrides.Registry
	}
	if overrides.Watchlist != "" {
		loc.Watchlist = overrides.Watchlist
	}
	return loc
}

// newScorer builds the LLM cross-check scorer. Without an API key every
// verdict is the no_api_key fallback.
func newScorer() *crosscheck.LLMScorer {
	sc := cfg.Crosscheck.CrosscheckScorerConfig()
	var client anthropicpkg.Client
	if cfg.Crosscheck.AnthropicKey != "" {
		client = anthropicpkg.NewClient(cfg.Crosscheck.AnthropicKey, sc.Timeout)
	}
	return crosscheck.NewLLMScorer(client, sc)
}
