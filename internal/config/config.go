package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Pairing    PairingConfig    `yaml:"pairing" mapstructure:"pairing"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
	Indicators IndicatorsConfig `yaml:"indicators" mapstructure:"indicators"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
}

// StoreConfig configures the city store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	UsePostGIS  bool   `yaml:"use_postgis" mapstructure:"use_postgis"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// PairingConfig holds the diversity and pairing policy. None of these values
// are physical constants; brokers tune them per deployment.
type PairingConfig struct {
	Tiers            []float64 `yaml:"tiers" mapstructure:"tiers"`
	TargetCount      int       `yaml:"target_count" mapstructure:"target_count"`
	MinPairs         int       `yaml:"min_pairs" mapstructure:"min_pairs"`
	MaxPairs         int       `yaml:"max_pairs" mapstructure:"max_pairs"`
	ContactMethods   []string  `yaml:"contact_methods" mapstructure:"contact_methods"`
	AcceptPartial    bool      `yaml:"accept_partial" mapstructure:"accept_partial"`
	StoreTimeoutSecs int       `yaml:"store_timeout_secs" mapstructure:"store_timeout_secs"`
	PerMarketLimit   int       `yaml:"per_market_limit" mapstructure:"per_market_limit"`
	BucketMiles      float64   `yaml:"bucket_miles" mapstructure:"bucket_miles"`
}

// RetryConfig configures the bounded retry policy for external I/O.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CacheConfig configures the process-wide pair cache.
type CacheConfig struct {
	TTLMinutes int `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
}

// ScorerConfig configures the freight intelligence scorer.
type ScorerConfig struct {
	Enabled         bool    `yaml:"enabled" mapstructure:"enabled"`
	TablesPath      string  `yaml:"tables_path" mapstructure:"tables_path"`
	EquipmentWeight float64 `yaml:"equipment_weight" mapstructure:"equipment_weight"`
	CorridorWeight  float64 `yaml:"corridor_weight" mapstructure:"corridor_weight"`
	KMAWeight       float64 `yaml:"kma_weight" mapstructure:"kma_weight"`
	IndicatorWeight float64 `yaml:"indicator_weight" mapstructure:"indicator_weight"`
}

// IndicatorsConfig configures the optional economic indicator feed.
type IndicatorsConfig struct {
	URL            string  `yaml:"url" mapstructure:"url"`
	APIKey         string  `yaml:"api_key" mapstructure:"api_key"`
	TTLMinutes     int     `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ValkeyAddr     string  `yaml:"valkey_addr" mapstructure:"valkey_addr"`
}

// ExportConfig holds load-board posting defaults applied to every row.
type ExportConfig struct {
	ReferencePrefix       string `yaml:"reference_prefix" mapstructure:"reference_prefix"`
	UsePrivateNetwork     bool   `yaml:"use_private_network" mapstructure:"use_private_network"`
	AllowPrivateBooking   bool   `yaml:"allow_private_booking" mapstructure:"allow_private_booking"`
	AllowPrivateBidding   bool   `yaml:"allow_private_bidding" mapstructure:"allow_private_bidding"`
	UseLoadboard          bool   `yaml:"use_loadboard" mapstructure:"use_loadboard"`
	AllowLoadboardBooking bool   `yaml:"allow_loadboard_booking" mapstructure:"allow_loadboard_booking"`
	UseExtendedNetwork    bool   `yaml:"use_extended_network" mapstructure:"use_extended_network"`
}

// Load reads configuration from config.yaml in the working directory and
// LANE_ENGINE_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LANE_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.table", "public.cities")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("pairing.tiers", []float64{75, 100, 125, 150})
	v.SetDefault("pairing.target_count", 5)
	v.SetDefault("pairing.min_pairs", 5)
	v.SetDefault("pairing.max_pairs", 5)
	v.SetDefault("pairing.contact_methods", []string{"email", "primary phone"})
	v.SetDefault("pairing.accept_partial", false)
	v.SetDefault("pairing.store_timeout_secs", 10)
	v.SetDefault("pairing.per_market_limit", 25)
	v.SetDefault("pairing.bucket_miles", 0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("cache.ttl_minutes", 60)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("scorer.enabled", true)
	v.SetDefault("scorer.equipment_weight", 10)
	v.SetDefault("scorer.corridor_weight", 15)
	v.SetDefault("scorer.kma_weight", 5)
	v.SetDefault("scorer.indicator_weight", 10)
	v.SetDefault("indicators.ttl_minutes", 60)
	v.SetDefault("indicators.requests_per_sec", 1.0)
	v.SetDefault("indicators.timeout_secs", 10)
	v.SetDefault("export.reference_prefix", "RR")
	v.SetDefault("export.use_private_network", true)
	v.SetDefault("export.allow_private_booking", false)
	v.SetDefault("export.allow_private_bidding", false)
	v.SetDefault("export.use_loadboard", true)
	v.SetDefault("export.allow_loadboard_booking", false)
	v.SetDefault("export.use_extended_network", false)

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

// Validate checks the settings required by a command ("pair", "serve",
// "cities", or "offline" for runs against a CSV city file, which skips the
// store checks). Pairing policy is checked for every mode.
func (c *Config) Validate(mode string) error {
	var errs []string

	if mode != "offline" {
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}

	p := c.Pairing
	if len(p.Tiers) == 0 {
		errs = append(errs, "pairing.tiers must not be empty")
	}
	for _, r := range p.Tiers {
		if r <= 0 {
			errs = append(errs, fmt.Sprintf("pairing.tiers: radius %v must be > 0", r))
			break
		}
	}
	if !sort.Float64sAreSorted(p.Tiers) {
		errs = append(errs, "pairing.tiers must be ascending")
	}
	if p.TargetCount <= 0 {
		errs = append(errs, "pairing.target_count must be > 0")
	}
	if p.MinPairs <= 0 {
		errs = append(errs, "pairing.min_pairs must be > 0")
	}
	if p.MaxPairs > 0 && p.MaxPairs < p.MinPairs {
		errs = append(errs, "pairing.max_pairs must be >= pairing.min_pairs")
	}
	if len(p.ContactMethods) == 0 {
		errs = append(errs, "pairing.contact_methods must not be empty")
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
