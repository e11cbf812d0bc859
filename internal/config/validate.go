package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/regwatch/internal/match"
)

// Validate checks the fields required by the given command mode.
// Modes: serve, import, link, crosscheck, migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateCache()...)
		errs = append(errs, c.validateRisk()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "import":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateMatch()...)
		if c.Merge.Threshold < 0 || c.Merge.Threshold > 1 {
			errs = append(errs, "merge.threshold must be between 0 and 1")
		}
	case "link":
		errs = append(errs, c.validateMatch()...)
	case "crosscheck":
		errs = append(errs, c.validateStore()...)
		if c.Crosscheck.Concurrency < 1 || c.Crosscheck.Concurrency > 32 {
			errs = append(errs, "crosscheck.concurrency must be between 1 and 32")
		}
		if c.Crosscheck.MaxTokens <= 0 {
			errs = append(errs, "crosscheck.max_tokens must be > 0")
		}
		if c.Crosscheck.RatePerSecond < 0 {
			errs = append(errs, "crosscheck.rate_per_second must be >= 0")
		}
	case "migrate":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return []string{"store.path is required for sqlite"}
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
	default:
		return []string{fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)}
	}
	return nil
}

func (c *Config) validateCache() []string {
	switch c.Cache.Driver {
	case "memory", "none", "":
	case "redis":
		if c.Cache.RedisURL == "" {
			return []string{"cache.redis_url is required for redis"}
		}
	default:
		return []string{fmt.Sprintf("cache.driver must be memory, redis or none, got %q", c.Cache.Driver)}
	}
	return nil
}

func (c *Config) validateMatch() []string {
	var errs []string
	for _, name := range []string{match.ProfileRegistry, match.ProfileName} {
		th, ok := c.Match.Profiles[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("match.profiles.%s is required", name))
			continue
		}
		if th.Review > th.Match {
			errs = append(errs, fmt.Sprintf("match.profiles.%s.review must be <= match", name))
		}
		if th.Match > 100 || th.Review < 0 {
			errs = append(errs, fmt.Sprintf("match.profiles.%s must be within 0..100", name))
		}
	}
	return errs
}

func (c *Config) validateRisk() []string {
	w := c.Risk.Weights
	if w.Resource < 0 || w.Concentration < 0 || w.Governance < 0 {
		return []string{"risk.weights must be non-negative"}
	}
	if w.Resource+w.Concentration+w.Governance == 0 {
		return []string{"risk.weights must not all be zero"}
	}
	if c.Risk.Levels.Medium > c.Risk.Levels.High {
		return []string{"risk.levels.medium must be <= high"}
	}
	return nil
}
