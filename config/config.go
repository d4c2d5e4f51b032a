// Package config defines all configuration for both services.
// Config is loaded from an optional YAML file (default: config.yaml) with
// every key overridable via environment variables using double-underscore
// nesting (MONGO__URL -> mongo.url). A .env file is honored if present.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the single immutable configuration value shared by both services.
type Config struct {
	Hyperliquid HyperliquidConfig `mapstructure:"hyperliquid"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	Redis       RedisConfig       `mapstructure:"redis"`
	API         APIConfig         `mapstructure:"api"`
	Log         LogConfig         `mapstructure:"log"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	Weighting   WeightingConfig   `mapstructure:"weighting"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Webhooks    WebhooksConfig    `mapstructure:"webhooks"`
}

// HyperliquidConfig holds venue endpoints and the symbol of interest.
type HyperliquidConfig struct {
	APIURL         string  `mapstructure:"api_url"`
	WSURL          string  `mapstructure:"ws_url"`
	LeaderboardURL string  `mapstructure:"leaderboard_url"`
	Symbol         string  `mapstructure:"symbol"`
	TradeMinUSD    float64 `mapstructure:"trade_min_usd"` // historical, unused by the pipeline
}

// MongoConfig holds the document store connection settings.
type MongoConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

// RedisConfig holds the pub/sub broker settings. An empty URL selects the
// in-process bus (development mode).
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// APIConfig holds the HTTP surface bind settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// ScraperURL is where the Signal System finds the Scraper's snapshot
	// endpoint during bootstrap.
	ScraperURL string `mapstructure:"scraper_url"`
}

// LogConfig controls stdlib logger verbosity. debug adds file:line and
// microsecond timestamps to every line.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// SchedulerConfig holds periodic task intervals in seconds.
type SchedulerConfig struct {
	LeaderboardRefreshSeconds int `mapstructure:"leaderboard_refresh_seconds"`
	HealthCheckSeconds        int `mapstructure:"health_check_seconds"`
}

// RetentionConfig holds per-collection TTLs in days.
type RetentionConfig struct {
	PositionsDays   int `mapstructure:"positions_days"`
	ScoresDays      int `mapstructure:"scores_days"`
	CandlesDays     int `mapstructure:"candles_days"`
	SignalsDays     int `mapstructure:"signals_days"`
	LeaderboardDays int `mapstructure:"leaderboard_days"`
}

// ScoringConfig enumerates every recognized leaderboard scoring option.
type ScoringConfig struct {
	ROIMultipliers struct {
		AllTime float64 `mapstructure:"all_time"`
		Month   float64 `mapstructure:"month"`
		Week    float64 `mapstructure:"week"`
	} `mapstructure:"roi_multipliers"`

	// Account value tiers: thresholds (USD, descending) and the points each awards.
	AccountValueThresholds []float64 `mapstructure:"account_value_thresholds"`
	AccountValuePoints     []float64 `mapstructure:"account_value_points"`

	// Monthly volume tiers, same shape.
	VolumeThresholds []float64 `mapstructure:"volume_thresholds"`
	VolumePoints     []float64 `mapstructure:"volume_points"`

	ConsistencyBonus float64 `mapstructure:"consistency_bonus"`

	Tags struct {
		WhaleThreshold float64 `mapstructure:"whale_threshold"`
		LargeThreshold float64 `mapstructure:"large_threshold"`
	} `mapstructure:"tags"`

	MinScore        float64  `mapstructure:"min_score"`
	MinAccountValue float64  `mapstructure:"min_account_value"`
	MaxCount        int      `mapstructure:"max_count"`
	RequirePositive []string `mapstructure:"require_positive"` // window names
	ExcludeAddrs    []string `mapstructure:"exclude_addrs"`
	ExcludeTags     []string `mapstructure:"exclude_tags"`
}

// WeightingConfig holds the trader weight dimension weights and the
// performance sub-metric weights.
type WeightingConfig struct {
	Dimensions struct {
		Performance float64 `mapstructure:"performance"`
		Size        float64 `mapstructure:"size"`
		Recency     float64 `mapstructure:"recency"`
		Regime      float64 `mapstructure:"regime"`
	} `mapstructure:"dimensions"`

	Performance struct {
		Sharpe       float64 `mapstructure:"sharpe"`
		Sortino      float64 `mapstructure:"sortino"`
		Consistency  float64 `mapstructure:"consistency"`
		MaxDrawdown  float64 `mapstructure:"max_drawdown"`
		WinRate      float64 `mapstructure:"win_rate"`
		ProfitFactor float64 `mapstructure:"profit_factor"`
	} `mapstructure:"performance"`
}

// AlertsConfig holds whale alert thresholds.
type AlertsConfig struct {
	AlphaWhaleThreshold float64 `mapstructure:"alpha_whale_threshold"`
	WhaleThreshold      float64 `mapstructure:"whale_threshold"`
	EliteThreshold      float64 `mapstructure:"elite_threshold"`
	MaxAgeHours         int     `mapstructure:"max_age_hours"`
}

// WebhooksConfig lists URLs that receive whale alert POSTs.
type WebhooksConfig struct {
	URLs []string `mapstructure:"urls"`
}

// Load reads configuration from the optional YAML file at path, layered
// under environment variables. A missing file is not an error; bad values
// abort at boot via Validate.
func Load(path string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	// These keys are also recognized under their flat single-underscore
	// names; the nested __ form wins when both are set.
	_ = v.BindEnv("api.host", "API__HOST", "API_HOST")
	_ = v.BindEnv("api.port", "API__PORT", "API_PORT")
	_ = v.BindEnv("log.level", "LOG__LEVEL", "LOG_LEVEL")

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !strings.Contains(err.Error(), "no such file") {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("hyperliquid.api_url", "https://api.hyperliquid.xyz")
	v.SetDefault("hyperliquid.ws_url", "wss://api.hyperliquid.xyz/ws")
	v.SetDefault("hyperliquid.leaderboard_url", "https://stats-data.hyperliquid.xyz/Mainnet/leaderboard")
	v.SetDefault("hyperliquid.symbol", "BTC")
	v.SetDefault("hyperliquid.trade_min_usd", 10000.0)

	v.SetDefault("mongo.url", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "hyperwatch")
	v.SetDefault("redis.url", "")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.scraper_url", "http://localhost:8080")

	v.SetDefault("log.level", "info")

	v.SetDefault("scheduler.leaderboard_refresh_seconds", 3600)
	v.SetDefault("scheduler.health_check_seconds", 600)

	v.SetDefault("retention.positions_days", 30)
	v.SetDefault("retention.scores_days", 90)
	v.SetDefault("retention.candles_days", 30)
	v.SetDefault("retention.signals_days", 30)
	v.SetDefault("retention.leaderboard_days", 90)

	v.SetDefault("scoring.roi_multipliers.all_time", 30.0)
	v.SetDefault("scoring.roi_multipliers.month", 50.0)
	v.SetDefault("scoring.roi_multipliers.week", 100.0)
	v.SetDefault("scoring.account_value_thresholds", []float64{10_000_000, 5_000_000, 1_000_000, 100_000})
	v.SetDefault("scoring.account_value_points", []float64{15, 12, 8, 4})
	v.SetDefault("scoring.volume_thresholds", []float64{100_000_000, 50_000_000, 10_000_000, 1_000_000})
	v.SetDefault("scoring.volume_points", []float64{10, 7, 4, 2})
	v.SetDefault("scoring.consistency_bonus", 5.0)
	v.SetDefault("scoring.tags.whale_threshold", 10_000_000.0)
	v.SetDefault("scoring.tags.large_threshold", 1_000_000.0)
	v.SetDefault("scoring.min_score", 50.0)
	v.SetDefault("scoring.min_account_value", 0.0)
	v.SetDefault("scoring.max_count", 500)

	v.SetDefault("weighting.dimensions.performance", 0.40)
	v.SetDefault("weighting.dimensions.size", 0.30)
	v.SetDefault("weighting.dimensions.recency", 0.20)
	v.SetDefault("weighting.dimensions.regime", 0.10)
	v.SetDefault("weighting.performance.sharpe", 0.25)
	v.SetDefault("weighting.performance.sortino", 0.20)
	v.SetDefault("weighting.performance.consistency", 0.20)
	v.SetDefault("weighting.performance.max_drawdown", 0.15)
	v.SetDefault("weighting.performance.win_rate", 0.10)
	v.SetDefault("weighting.performance.profit_factor", 0.10)

	v.SetDefault("alerts.alpha_whale_threshold", 20_000_000.0)
	v.SetDefault("alerts.whale_threshold", 10_000_000.0)
	v.SetDefault("alerts.elite_threshold", 80.0)
	v.SetDefault("alerts.max_age_hours", 24)
}

// Validate checks value ranges. Any failure aborts boot.
func (c *Config) Validate() error {
	if c.Hyperliquid.Symbol == "" {
		return fmt.Errorf("hyperliquid.symbol is required")
	}
	if c.Mongo.URL == "" {
		return fmt.Errorf("mongo.url is required")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be in 1..65535")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	if c.Scheduler.LeaderboardRefreshSeconds <= 0 {
		return fmt.Errorf("scheduler.leaderboard_refresh_seconds must be > 0")
	}
	if c.Scheduler.HealthCheckSeconds <= 0 {
		return fmt.Errorf("scheduler.health_check_seconds must be > 0")
	}
	if len(c.Scoring.AccountValueThresholds) != len(c.Scoring.AccountValuePoints) {
		return fmt.Errorf("scoring.account_value_thresholds and points must be the same length")
	}
	if len(c.Scoring.VolumeThresholds) != len(c.Scoring.VolumePoints) {
		return fmt.Errorf("scoring.volume_thresholds and points must be the same length")
	}
	if c.Scoring.MaxCount <= 0 {
		return fmt.Errorf("scoring.max_count must be > 0")
	}
	d := c.Weighting.Dimensions
	if d.Performance <= 0 || d.Size < 0 || d.Recency < 0 || d.Regime < 0 {
		return fmt.Errorf("weighting.dimensions must be non-negative with performance > 0")
	}
	if c.Alerts.WhaleThreshold <= 0 || c.Alerts.AlphaWhaleThreshold < c.Alerts.WhaleThreshold {
		return fmt.Errorf("alerts thresholds must satisfy alpha_whale >= whale > 0")
	}
	if c.Alerts.MaxAgeHours <= 0 {
		return fmt.Errorf("alerts.max_age_hours must be > 0")
	}
	return nil
}
