package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Reference  ReferenceConfig  `yaml:"reference" mapstructure:"reference"`
	Linker     LinkerConfig     `yaml:"linker" mapstructure:"linker"`
	Fuzzy      FuzzyConfig      `yaml:"fuzzy" mapstructure:"fuzzy"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Decision   DecisionConfig   `yaml:"decision" mapstructure:"decision"`
	Embedding  EmbeddingConfig  `yaml:"embedding" mapstructure:"embedding"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP screening API.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	RateLimitRPS       float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst     int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ReferenceConfig points at the watch-list source.
type ReferenceConfig struct {
	// Source is a file path or an http(s)/ftp URL. Empty means "load from store".
	Source string `yaml:"source" mapstructure:"source"`
	// Format overrides extension-based detection (csv, xlsx, yaml, json).
	Format string `yaml:"format" mapstructure:"format"`
	// Encoding names the text encoding of csv/json/yaml sources, e.g. windows-1251.
	Encoding           string `yaml:"encoding" mapstructure:"encoding"`
	ReloadIntervalSecs int    `yaml:"reload_interval_secs" mapstructure:"reload_interval_secs"`
	TimeoutSecs        int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LinkerConfig configures proximity linking of identifiers to persons.
type LinkerConfig struct {
	MaxLinkDistance int `yaml:"max_link_distance" mapstructure:"max_link_distance"`
	// AssignUnlinkedToAll enables the over-attributing fallback. Off by default.
	AssignUnlinkedToAll bool `yaml:"assign_unlinked_to_all" mapstructure:"assign_unlinked_to_all"`
}

// FuzzyConfig configures approximate name matching.
type FuzzyConfig struct {
	MinScoreThreshold       float64 `yaml:"min_score_threshold" mapstructure:"min_score_threshold"`
	HighConfidenceThreshold float64 `yaml:"high_confidence_threshold" mapstructure:"high_confidence_threshold"`
	PartialMatchThreshold   float64 `yaml:"partial_match_threshold" mapstructure:"partial_match_threshold"`
	PartialDiscount         float64 `yaml:"partial_discount" mapstructure:"partial_discount"`
	MaxCandidates           int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	CacheSize               int     `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLSecs            int     `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// SearchConfig configures the hybrid search fuser.
type SearchConfig struct {
	// TierConfidence is indexed by tier (0..3).
	TierConfidence      []float64 `yaml:"tier_confidence" mapstructure:"tier_confidence"`
	CorroborationBonus  float64   `yaml:"corroboration_bonus" mapstructure:"corroboration_bonus"`
	VectorMinCandidates int       `yaml:"vector_min_candidates" mapstructure:"vector_min_candidates"`
	VectorMinScore      float64   `yaml:"vector_min_score" mapstructure:"vector_min_score"`
	VectorTopK          int       `yaml:"vector_top_k" mapstructure:"vector_top_k"`
	StrategyTimeoutMs   int       `yaml:"strategy_timeout_ms" mapstructure:"strategy_timeout_ms"`
	MaxResults          int       `yaml:"max_results" mapstructure:"max_results"`
}

// DecisionConfig configures the decision engine.
type DecisionConfig struct {
	ThrHigh   float64         `yaml:"thr_high" mapstructure:"thr_high"`
	ThrMedium float64         `yaml:"thr_medium" mapstructure:"thr_medium"`
	Weights   DecisionWeights `yaml:"weights" mapstructure:"weights"`
}

// DecisionWeights are the per-source weight coefficients.
type DecisionWeights struct {
	SearchExact  float64 `yaml:"search_exact" mapstructure:"search_exact"`
	SearchFuzzy  float64 `yaml:"search_fuzzy" mapstructure:"search_fuzzy"`
	SearchVector float64 `yaml:"search_vector" mapstructure:"search_vector"`
	Similarity   float64 `yaml:"similarity" mapstructure:"similarity"`
	SmartFilter  float64 `yaml:"smartfilter" mapstructure:"smartfilter"`
	Person       float64 `yaml:"person" mapstructure:"person"`
	Org          float64 `yaml:"org" mapstructure:"org"`
	IDMatch      float64 `yaml:"id_match" mapstructure:"id_match"`
	DateMatch    float64 `yaml:"date_match" mapstructure:"date_match"`
}

// EmbeddingConfig configures query and reference embeddings. Provider is
// "hash" (local feature hashing), "http" (remote service at URL) or "none".
type EmbeddingConfig struct {
	Provider     string  `yaml:"provider" mapstructure:"provider"`
	URL          string  `yaml:"url" mapstructure:"url"`
	APIKey       string  `yaml:"api_key" mapstructure:"api_key"`
	Model        string  `yaml:"model" mapstructure:"model"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	Dims         int     `yaml:"dims" mapstructure:"dims"`
}

// ResilienceConfig configures retries and per-strategy circuit breakers.
type ResilienceConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SetDefaults registers every documented default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "screen.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 5)
	v.SetDefault("server.rate_limit_rps", 50.0)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("reference.encoding", "utf-8")
	v.SetDefault("reference.reload_interval_secs", 0)
	v.SetDefault("reference.timeout_secs", 60)
	v.SetDefault("linker.max_link_distance", 500)
	v.SetDefault("linker.assign_unlinked_to_all", false)
	v.SetDefault("fuzzy.min_score_threshold", 0.5)
	v.SetDefault("fuzzy.high_confidence_threshold", 0.85)
	v.SetDefault("fuzzy.partial_match_threshold", 0.9)
	v.SetDefault("fuzzy.partial_discount", 0.9)
	v.SetDefault("fuzzy.max_candidates", 50)
	v.SetDefault("fuzzy.cache_size", 10000)
	v.SetDefault("fuzzy.cache_ttl_secs", 300)
	v.SetDefault("search.tier_confidence", []float64{1.0, 0.90, 0.75, 0.60})
	v.SetDefault("search.corroboration_bonus", 0.05)
	v.SetDefault("search.vector_min_candidates", 3)
	v.SetDefault("search.vector_min_score", 0.75)
	v.SetDefault("search.vector_top_k", 10)
	v.SetDefault("search.strategy_timeout_ms", 500)
	v.SetDefault("search.max_results", 20)
	v.SetDefault("decision.thr_high", 0.85)
	v.SetDefault("decision.thr_medium", 0.65)
	v.SetDefault("decision.weights.search_exact", 0.60)
	v.SetDefault("decision.weights.search_fuzzy", 0.60)
	v.SetDefault("decision.weights.search_vector", 0.30)
	v.SetDefault("decision.weights.similarity", 0.10)
	v.SetDefault("decision.weights.smartfilter", 0.10)
	v.SetDefault("decision.weights.person", 0.15)
	v.SetDefault("decision.weights.org", 0.10)
	v.SetDefault("decision.weights.id_match", 0.30)
	v.SetDefault("decision.weights.date_match", 0.10)
	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.timeout_secs", 5)
	v.SetDefault("embedding.rate_limit_rps", 20.0)
	v.SetDefault("embedding.dims", 384)
	v.SetDefault("resilience.max_attempts", 2)
	v.SetDefault("resilience.initial_backoff_ms", 100)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
}

// Default returns a Config populated only from documented defaults.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(fmt.Sprintf("config: unmarshal defaults: %v", err))
	}
	return &cfg
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCREEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the configuration is internally consistent. An
// inconsistent configuration must never be activated.
func (c *Config) Validate() error {
	var errs []string

	unit := func(name string, v float64) {
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 1", name))
		}
	}

	// Decision thresholds.
	unit("decision.thr_high", c.Decision.ThrHigh)
	unit("decision.thr_medium", c.Decision.ThrMedium)
	if c.Decision.ThrMedium > c.Decision.ThrHigh {
		errs = append(errs, "decision.thr_medium must be <= decision.thr_high")
	}

	w := c.Decision.Weights
	weights := []struct {
		name string
		v    float64
	}{
		{"search_exact", w.SearchExact},
		{"search_fuzzy", w.SearchFuzzy},
		{"search_vector", w.SearchVector},
		{"similarity", w.Similarity},
		{"smartfilter", w.SmartFilter},
		{"person", w.Person},
		{"org", w.Org},
		{"id_match", w.IDMatch},
		{"date_match", w.DateMatch},
	}
	var sum float64
	for _, wt := range weights {
		if math.IsNaN(wt.v) || wt.v < 0 {
			errs = append(errs, fmt.Sprintf("decision.weights.%s must be >= 0", wt.name))
			continue
		}
		sum += wt.v
	}
	if sum <= 0 {
		errs = append(errs, "decision weight sum must be > 0")
	}

	// Fuzzy stage.
	unit("fuzzy.min_score_threshold", c.Fuzzy.MinScoreThreshold)
	unit("fuzzy.high_confidence_threshold", c.Fuzzy.HighConfidenceThreshold)
	unit("fuzzy.partial_match_threshold", c.Fuzzy.PartialMatchThreshold)
	unit("fuzzy.partial_discount", c.Fuzzy.PartialDiscount)
	if c.Fuzzy.MinScoreThreshold > c.Fuzzy.HighConfidenceThreshold {
		errs = append(errs, "fuzzy.min_score_threshold must be <= fuzzy.high_confidence_threshold")
	}

	// Search stage.
	if len(c.Search.TierConfidence) != 4 {
		errs = append(errs, fmt.Sprintf("search.tier_confidence must have 4 entries, got %d", len(c.Search.TierConfidence)))
	} else {
		for i, tc := range c.Search.TierConfidence {
			unit(fmt.Sprintf("search.tier_confidence[%d]", i), tc)
			if i > 0 && tc > c.Search.TierConfidence[i-1] {
				errs = append(errs, "search.tier_confidence must be non-increasing by tier")
			}
		}
	}
	unit("search.corroboration_bonus", c.Search.CorroborationBonus)
	unit("search.vector_min_score", c.Search.VectorMinScore)
	if c.Search.StrategyTimeoutMs <= 0 {
		errs = append(errs, "search.strategy_timeout_ms must be > 0")
	}

	switch c.Embedding.Provider {
	case "hash", "none":
	case "http":
		if c.Embedding.URL == "" {
			errs = append(errs, "embedding.url is required for provider http")
		}
	default:
		errs = append(errs, fmt.Sprintf("embedding.provider %q must be one of hash, http, none", c.Embedding.Provider))
	}
	if c.Embedding.Provider != "none" && c.Embedding.Dims <= 0 {
		errs = append(errs, "embedding.dims must be > 0")
	}

	// Linker.
	if c.Linker.MaxLinkDistance <= 0 {
		errs = append(errs, "linker.max_link_distance must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
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
