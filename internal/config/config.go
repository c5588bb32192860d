package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"market-risk-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Reports   ReportsConfig   `mapstructure:"reports"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig covers the shared Redis used by the cache and the task broker.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
}

// CacheConfig selects the cache backend and the TTL of each cached view.
type CacheConfig struct {
	Backend         string        `mapstructure:"backend"`
	DashboardTTL    time.Duration `mapstructure:"dashboard_ttl"`
	TrendsTTL       time.Duration `mapstructure:"trends_ttl"`
	TopCompaniesTTL time.Duration `mapstructure:"top_companies_ttl"`
}

// TasksConfig governs the worker pool and retry policies.
type TasksConfig struct {
	Broker             string        `mapstructure:"broker"`
	Workers            int           `mapstructure:"workers"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout"`
	ProcessMaxRetries  int           `mapstructure:"process_max_retries"`
	ProcessBackoffBase time.Duration `mapstructure:"process_backoff_base"`
	RecalcMaxRetries   int           `mapstructure:"recalc_max_retries"`
	RecalcDelay        time.Duration `mapstructure:"recalc_delay"`
	DispatchMaxRetries int           `mapstructure:"dispatch_max_retries"`
	DispatchDelay      time.Duration `mapstructure:"dispatch_delay"`
}

// SchedulerConfig governs the daily rollup schedule.
type SchedulerConfig struct {
	DailyAt         string        `mapstructure:"daily_at"`
	Timezone        string        `mapstructure:"timezone"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// AlertingConfig defines failure notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ReportsConfig sizes the cached read views.
type ReportsConfig struct {
	TopCompaniesLimit int `mapstructure:"top_companies_limit"`
	TrendDays         int `mapstructure:"trend_days"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RISKALERTS")
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
	v.SetDefault("app.name", "riskalerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "10m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "market_supervision:")
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.pool_size", 50)

	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.dashboard_ttl", "300s")
	v.SetDefault("cache.trends_ttl", "600s")
	v.SetDefault("cache.top_companies_ttl", "900s")

	v.SetDefault("tasks.broker", "redis")
	v.SetDefault("tasks.workers", 64)
	v.SetDefault("tasks.poll_interval", "500ms")
	v.SetDefault("tasks.task_timeout", "30m")
	v.SetDefault("tasks.process_max_retries", 3)
	v.SetDefault("tasks.process_backoff_base", "60s")
	v.SetDefault("tasks.recalc_max_retries", 3)
	v.SetDefault("tasks.recalc_delay", "30s")
	v.SetDefault("tasks.dispatch_max_retries", 3)
	v.SetDefault("tasks.dispatch_delay", "10s")

	v.SetDefault("scheduler.daily_at", "01:00")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x72736b61))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9108")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("reports.top_companies_limit", 10)
	v.SetDefault("reports.trend_days", 30)
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
	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("cache.backend must be redis or memory, got %q", c.Cache.Backend)
	}
	switch c.Tasks.Broker {
	case "redis", "memory":
	default:
		return fmt.Errorf("tasks.broker must be redis or memory, got %q", c.Tasks.Broker)
	}
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be greater than zero")
	}
	if c.Tasks.PollInterval <= 0 {
		return fmt.Errorf("tasks.poll_interval must be greater than zero")
	}
	if c.Tasks.ProcessMaxRetries < 0 || c.Tasks.RecalcMaxRetries < 0 || c.Tasks.DispatchMaxRetries < 0 {
		return fmt.Errorf("tasks retry counts cannot be negative")
	}
	if _, _, err := c.Scheduler.ParseDailyAt(); err != nil {
		return err
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	if c.Reports.TopCompaniesLimit <= 0 {
		return fmt.Errorf("reports.top_companies_limit must be greater than zero")
	}
	if c.Reports.TrendDays <= 0 {
		return fmt.Errorf("reports.trend_days must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ParseDailyAt splits scheduler.daily_at ("HH:MM") into hour and minute.
func (s SchedulerConfig) ParseDailyAt() (int, int, error) {
	t, err := time.Parse("15:04", s.DailyAt)
	if err != nil {
		return 0, 0, fmt.Errorf("scheduler.daily_at must be HH:MM, got %q", s.DailyAt)
	}
	return t.Hour(), t.Minute(), nil
}

// Location resolves scheduler.timezone, defaulting to UTC.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone invalid: %w", err)
	}
	return loc, nil
}
