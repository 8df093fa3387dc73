package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"riverflow/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Poller       PollerConfig       `mapstructure:"poller"`
	Hydromet     HydrometConfig     `mapstructure:"hydromet"`
	Utility      UtilityConfig      `mapstructure:"utility"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Stats        StatsConfig        `mapstructure:"stats"`
	API          APIConfig          `mapstructure:"api"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Entitlements EntitlementsConfig `mapstructure:"entitlements"`
	Export       ExportConfig       `mapstructure:"export"`
	// TrackedStations is the fallback refresh list used when the database
	// is not configured or holds no tracked stations.
	TrackedStations []string `mapstructure:"tracked_stations"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables
// the archive entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PollerConfig governs refresh cadence.
type PollerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Concurrency     int           `mapstructure:"concurrency"`
}

// HydrometConfig covers the government hydrometric API.
type HydrometConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	WindowDays     int           `mapstructure:"window_days"`
	RealtimeLimit  int           `mapstructure:"realtime_limit"`
}

// UtilityConfig covers the dam operator's river-flows feed.
type UtilityConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// CacheConfig sets per-class timeline freshness windows.
type CacheConfig struct {
	CurrentWindowTTL  time.Duration `mapstructure:"current_window_ttl"`
	LongWindowTTL     time.Duration `mapstructure:"long_window_ttl"`
	HistoricalYearTTL time.Duration `mapstructure:"historical_year_ttl"`
}

// StatsConfig tunes the statistics engine.
type StatsConfig struct {
	DefaultDays int `mapstructure:"default_days"`
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// AlertingConfig defines runnable bands and notification routing.
type AlertingConfig struct {
	Enabled  bool                  `mapstructure:"enabled"`
	Cooldown time.Duration         `mapstructure:"cooldown"`
	Telegram TelegramConfig        `mapstructure:"telegram"`
	Bands    map[string]BandConfig `mapstructure:"bands"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	BotToken string   `mapstructure:"bot_token"`
	ChatIDs  []string `mapstructure:"chat_ids"`
	APIBase  string   `mapstructure:"api_base"`
}

// BandConfig is a station's runnable discharge range in m³/s.
type BandConfig struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// EntitlementsConfig gates deep-archive queries.
type EntitlementsConfig struct {
	FreeHistoricalYears int      `mapstructure:"free_historical_years"`
	PremiumUsers        []string `mapstructure:"premium_users"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RIVERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "riverflow")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("poller.interval", "5m")
	v.SetDefault("poller.align_to_bucket", true)
	v.SetDefault("poller.run_on_start", true)
	v.SetDefault("poller.advisory_lock_key", int64(0x72697665))
	v.SetDefault("poller.startup_delay", "0s")
	v.SetDefault("poller.concurrency", 4)

	v.SetDefault("hydromet.base_url", "https://api.weather.gc.ca")
	v.SetDefault("hydromet.request_timeout", "15s")
	v.SetDefault("hydromet.user_agent", "riverflow/1.0")
	v.SetDefault("hydromet.window_days", 90)
	v.SetDefault("hydromet.realtime_limit", 1000)

	v.SetDefault("utility.base_url", "https://transalta.com")
	v.SetDefault("utility.request_timeout", "15s")
	v.SetDefault("utility.user_agent", "riverflow/1.0")

	v.SetDefault("cache.current_window_ttl", "5m")
	v.SetDefault("cache.long_window_ttl", "30m")
	v.SetDefault("cache.historical_year_ttl", "30m")

	v.SetDefault("stats.default_days", 7)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8080")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "6h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("entitlements.free_historical_years", 2)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be greater than zero")
	}
	if c.Poller.Concurrency <= 0 {
		return fmt.Errorf("poller.concurrency must be greater than zero")
	}
	if c.Cache.CurrentWindowTTL <= 0 || c.Cache.LongWindowTTL <= 0 || c.Cache.HistoricalYearTTL <= 0 {
		return fmt.Errorf("cache TTLs must be greater than zero")
	}
	if c.Stats.DefaultDays <= 0 {
		return fmt.Errorf("stats.default_days must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Entitlements.FreeHistoricalYears < 0 {
		return fmt.Errorf("entitlements.free_historical_years cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if len(c.Alerting.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("alerting.telegram.chat_ids is required when telegram is enabled")
		}
	}
	for id, band := range c.Alerting.Bands {
		if band.Min > band.Max {
			return fmt.Errorf("alerting.bands.%s: min exceeds max", id)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
