package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // zone database for app.timezone on minimal images

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"flight-deal-scanner/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. FLIGHTSCAN_DATABASE_DSN.
const EnvPrefix = "FLIGHTSCAN"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Threshold ThresholdConfig `mapstructure:"threshold"`
	Advisor   AdvisorConfig   `mapstructure:"advisor"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone"`
}

// Location resolves the configured time zone, falling back to UTC.
func (a AppConfig) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig configures the fare cache.
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// SchedulerConfig governs tick cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ScannerConfig shapes a single route pass.
type ScannerConfig struct {
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	PassTimeout       time.Duration `mapstructure:"pass_timeout"`
	DepartureLeadDays int           `mapstructure:"departure_lead_days"`
	DateStepDays      int           `mapstructure:"date_step_days"`
	Adults            int           `mapstructure:"adults"`
	Cabin             string        `mapstructure:"cabin"`
	Currency          string        `mapstructure:"currency"`
	BaselineWindow    time.Duration `mapstructure:"baseline_window"`
}

// BudgetConfig caps provider calls per day.
type BudgetConfig struct {
	DailyCap     int `mapstructure:"daily_cap"`
	MonthlyCalls int `mapstructure:"monthly_calls"`
}

// ResolveDailyCap prefers an explicit daily cap over the monthly share.
func (b BudgetConfig) ResolveDailyCap() int {
	if b.DailyCap > 0 {
		return b.DailyCap
	}
	return b.MonthlyCalls / 30
}

// ProviderConfig captures flight price provider connectivity.
type ProviderConfig struct {
	Name            string        `mapstructure:"name"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	MaxItineraries  int           `mapstructure:"max_itineraries"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
	RateBurst       int           `mapstructure:"rate_burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	// SyntheticFlashFares plants occasional deep-discount fares in synthetic batches.
	SyntheticFlashFares bool `mapstructure:"synthetic_flash_fares"`
}

// ThresholdConfig tunes the adaptive threshold engine.
type ThresholdConfig struct {
	Window           time.Duration      `mapstructure:"window"`
	RecalcInterval   time.Duration      `mapstructure:"recalc_interval"`
	MinSamples       int64              `mapstructure:"min_samples"`
	Sensitivity      float64            `mapstructure:"sensitivity"`
	TargetEngagement float64            `mapstructure:"target_engagement"`
	Min              float64            `mapstructure:"min"`
	Max              float64            `mapstructure:"max"`
	Defaults         map[string]float64 `mapstructure:"defaults"`
}

// AdvisorConfig configures the external text-generation advisor.
type AdvisorConfig struct {
	Enabled        bool               `mapstructure:"enabled"`
	Backend        string             `mapstructure:"backend"`
	Model          string             `mapstructure:"model"`
	APIKey         string             `mapstructure:"api_key"`
	BaseURL        string             `mapstructure:"base_url"`
	RequestTimeout time.Duration      `mapstructure:"request_timeout"`
	Interval       time.Duration      `mapstructure:"interval"`
	Rates          map[string]float64 `mapstructure:"rates"`
}

// AlertingConfig defines deal delivery.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// HTTPConfig configures the status API.
type HTTPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "flightscan")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Europe/Madrid")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "30m")
	v.SetDefault("redis.key_prefix", "flightcache")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x666c7363))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("scanner.max_concurrency", 8)
	v.SetDefault("scanner.pass_timeout", "3m")
	v.SetDefault("scanner.departure_lead_days", 7)
	v.SetDefault("scanner.date_step_days", 7)
	v.SetDefault("scanner.adults", 1)
	v.SetDefault("scanner.cabin", "Economy")
	v.SetDefault("scanner.currency", "EUR")
	v.SetDefault("scanner.baseline_window", "720h")

	v.SetDefault("budget.daily_cap", 0)
	v.SetDefault("budget.monthly_calls", 30000)

	v.SetDefault("provider.name", "flightapi")
	v.SetDefault("provider.base_url", "https://api.flightapi.io")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.request_timeout", "30s")
	v.SetDefault("provider.max_attempts", 3)
	v.SetDefault("provider.retry_delay", "1s")
	v.SetDefault("provider.max_itineraries", 10)
	v.SetDefault("provider.rate_limit_per_sec", 2.0)
	v.SetDefault("provider.rate_burst", 2)
	v.SetDefault("provider.breaker_failures", 5)
	v.SetDefault("provider.breaker_timeout", "60s")
	v.SetDefault("provider.user_agent", "flightscan/1.0")
	v.SetDefault("provider.synthetic_flash_fares", true)

	v.SetDefault("threshold.window", "720h")
	v.SetDefault("threshold.recalc_interval", "1h")
	v.SetDefault("threshold.min_samples", 20)
	v.SetDefault("threshold.sensitivity", 20.0)
	v.SetDefault("threshold.target_engagement", 0.15)
	v.SetDefault("threshold.min", 5.0)
	v.SetDefault("threshold.max", 60.0)
	v.SetDefault("threshold.defaults", map[string]float64{
		"free":       35,
		"premium":    25,
		"enterprise": 20,
	})

	v.SetDefault("advisor.enabled", false)
	v.SetDefault("advisor.backend", "gemini")
	v.SetDefault("advisor.model", "gemini-1.5-flash")
	v.SetDefault("advisor.api_key", "")
	v.SetDefault("advisor.base_url", "")
	v.SetDefault("advisor.request_timeout", "60s")
	v.SetDefault("advisor.interval", "24h")
	v.SetDefault("advisor.rates", map[string]float64{
		"gemini": 0.0005,
		"gpt":    0.002,
	})

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"store"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")

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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scanner.MaxConcurrency <= 0 {
		return fmt.Errorf("scanner.max_concurrency must be greater than zero")
	}
	if c.Scanner.DepartureLeadDays < 0 || c.Scanner.DateStepDays <= 0 {
		return fmt.Errorf("scanner.departure_lead_days must be >= 0 and scanner.date_step_days > 0")
	}
	if c.Budget.ResolveDailyCap() <= 0 {
		return fmt.Errorf("budget.daily_cap or budget.monthly_calls must yield a positive daily cap")
	}
	if c.Provider.MaxAttempts <= 0 {
		return fmt.Errorf("provider.max_attempts must be greater than zero")
	}
	if c.Provider.RequestTimeout <= 0 {
		return fmt.Errorf("provider.request_timeout must be greater than zero")
	}
	if err := c.Threshold.validate(); err != nil {
		return err
	}
	if c.Advisor.Enabled {
		switch c.Advisor.Backend {
		case "gemini", "openai":
		default:
			return fmt.Errorf("advisor.backend must be gemini or openai, got %q", c.Advisor.Backend)
		}
		if c.Advisor.APIKey == "" {
			return fmt.Errorf("advisor.api_key is required when the advisor is enabled")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.App.Timezone != "" {
		if _, err := time.LoadLocation(c.App.Timezone); err != nil {
			return fmt.Errorf("app.timezone: %w", err)
		}
	}
	return nil
}

func (t ThresholdConfig) validate() error {
	if t.Min <= 0 || t.Max > 100 || t.Min > t.Max {
		return fmt.Errorf("threshold.min/max must satisfy 0 < min <= max <= 100")
	}
	for _, seg := range []string{"free", "premium", "enterprise"} {
		v, ok := t.Defaults[seg]
		if !ok {
			return fmt.Errorf("threshold.defaults.%s is required", seg)
		}
		if v <= 0 || v > 100 {
			return fmt.Errorf("threshold.defaults.%s must be in (0, 100]", seg)
		}
	}
	if t.Defaults["free"] < t.Defaults["premium"] || t.Defaults["premium"] < t.Defaults["enterprise"] {
		return fmt.Errorf("threshold.defaults must satisfy free >= premium >= enterprise")
	}
	if t.MinSamples < 0 {
		return fmt.Errorf("threshold.min_samples cannot be negative")
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
