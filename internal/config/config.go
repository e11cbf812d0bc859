package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/regwatch/internal/crosscheck"
	"github.com/sells-group/regwatch/internal/fetcher"
	"github.com/sells-group/regwatch/internal/match"
	"github.com/sells-group/regwatch/internal/merge"
	"github.com/sells-group/regwatch/internal/resilience"
	"github.com/sells-group/regwatch/internal/risk"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Match      MatchConfig      `yaml:"match" mapstructure:"match"`
	Merge      MergeConfig      `yaml:"merge" mapstructure:"merge"`
	Risk       risk.Params      `yaml:"risk" mapstructure:"risk"`
	Crosscheck CrosscheckConfig `yaml:"crosscheck" mapstructure:"crosscheck"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// Path is the SQLite database file.
	Path     string `yaml:"path" mapstructure:"path"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the query API.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	CORSOrigins      []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ReadTimeoutSecs  int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs int      `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// MatchConfig holds the named threshold profiles.
type MatchConfig struct {
	Profiles map[string]match.Thresholds `yaml:"profiles" mapstructure:"profiles"`
	// WatchIncludeReview also puts review-bucket companies on the watch list.
	WatchIncludeReview bool `yaml:"watch_include_review" mapstructure:"watch_include_review"`
}

// MergeConfig configures divergence detection.
type MergeConfig struct {
	Threshold float64      `yaml:"threshold" mapstructure:"threshold"`
	Pairs     []merge.Pair `yaml:"pairs" mapstructure:"pairs"`
}

// CrosscheckConfig configures the LLM cross-check scorer.
type CrosscheckConfig struct {
	AnthropicKey  string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Model         string  `yaml:"model" mapstructure:"model"`
	MaxTokens     int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts   int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// CacheConfig configures the risk and stats cache.
type CacheConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	TTLSecs  int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// FetchConfig configures remote source downloads.
type FetchConfig struct {
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost    float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	FTPTimeoutSecs int     `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
}

// SourcesConfig names the source tables and the column alias file.
type SourcesConfig struct {
	Profiles  string `yaml:"profiles" mapstructure:"profiles"`
	Base      string `yaml:"base" mapstructure:"base"`
	Gazette   string `yaml:"gazette" mapstructure:"gazette"`
	Registry  string `yaml:"registry" mapstructure:"registry"`
	Watchlist string `yaml:"watchlist" mapstructure:"watchlist"`
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
	Sheet     string `yaml:"sheet" mapstructure:"sheet"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REGWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "regwatch.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout_secs", 15)
	v.SetDefault("server.write_timeout_secs", 120)

	for name, th := range match.DefaultProfiles() {
		v.SetDefault("match.profiles."+name+".match", th.Match)
		v.SetDefault("match.profiles."+name+".review", th.Review)
	}
	v.SetDefault("match.watch_include_review", false)
	v.SetDefault("merge.threshold", merge.DefaultThreshold)

	rp := risk.DefaultParams()
	v.SetDefault("risk.weights.resource", rp.Weights.Resource)
	v.SetDefault("risk.weights.concentration", rp.Weights.Concentration)
	v.SetDefault("risk.weights.governance", rp.Weights.Governance)
	v.SetDefault("risk.flags.resource", rp.Flags.Resource)
	v.SetDefault("risk.flags.concentration", rp.Flags.Concentration)
	v.SetDefault("risk.flags.governance", rp.Flags.Governance)
	v.SetDefault("risk.narrative.resource", rp.Narrative.Resource)
	v.SetDefault("risk.narrative.dominant_group_share", rp.Narrative.DominantGroupShare)
	v.SetDefault("risk.narrative.concentration", rp.Narrative.Concentration)
	v.SetDefault("risk.narrative.notable_concentration", rp.Narrative.NotableConcentration)
	v.SetDefault("risk.narrative.governance", rp.Narrative.Governance)
	v.SetDefault("risk.narrative.deep_investigation", rp.Narrative.DeepInvestigation)
	v.SetDefault("risk.levels.high", rp.Levels.High)
	v.SetDefault("risk.levels.medium", rp.Levels.Medium)
	v.SetDefault("risk.resource_groups", rp.ResourceGroups)
	v.SetDefault("risk.local_type", rp.LocalType)
	v.SetDefault("risk.regional_type", rp.RegionalType)

	cc := crosscheck.DefaultConfig()
	v.SetDefault("crosscheck.model", cc.Model)
	v.SetDefault("crosscheck.max_tokens", cc.MaxTokens)
	v.SetDefault("crosscheck.timeout_secs", int(cc.Timeout.Seconds()))
	v.SetDefault("crosscheck.concurrency", 4)
	v.SetDefault("crosscheck.rate_per_second", cc.RatePerSecond)
	v.SetDefault("crosscheck.burst", cc.Burst)
	v.SetDefault("crosscheck.max_attempts", cc.Retry.MaxAttempts)

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.prefix", "regwatch:")
	v.SetDefault("cache.ttl_secs", 3600)

	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.user_agent", "regwatch/1.0")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_host", 2.0)
	v.SetDefault("fetch.ftp_timeout_secs", 30)
	v.SetDefault("sources.delimiter", ",")
}

// CrosscheckScorerConfig converts the section to a scorer configuration.
func (c CrosscheckConfig) CrosscheckScorerConfig() crosscheck.Config {
	retry := resilience.DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		retry.MaxAttempts = c.MaxAttempts
	}
	return crosscheck.Config{
		Model:         c.Model,
		MaxTokens:     c.MaxTokens,
		Timeout:       time.Duration(c.TimeoutSecs) * time.Second,
		RatePerSecond: c.RatePerSecond,
		Burst:         c.Burst,
		Retry:         retry,
	}
}

// FetcherOptions converts the section to fetcher options.
func (c FetchConfig) FetcherOptions() fetcher.Options {
	return fetcher.Options{
		HTTP: fetcher.HTTPOptions{
			UserAgent:   c.UserAgent,
			Timeout:     time.Duration(c.TimeoutSecs) * time.Second,
			MaxRetries:  c.MaxRetries,
			RatePerHost: c.RatePerHost,
		},
		FTP: fetcher.FTPOptions{Timeout: time.Duration(c.FTPTimeoutSecs) * time.Second},
	}
}

// DelimiterRune returns the CSV delimiter, defaulting to a comma.
func (c SourcesConfig) DelimiterRune() rune {
	switch c.Delimiter {
	case "", ",":
		return ','
	case `\t`, "tab":
		return '\t'
	}
	return []rune(c.Delimiter)[0]
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
