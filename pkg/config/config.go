package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor CONFIG_PATH is set
const DefaultPath = "config/config.yaml"

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	Queue        QueueConfig        `yaml:"queue"`
	Logger       LoggerConfig       `yaml:"logger"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Scrape       ScrapeConfig       `yaml:"scrape"`
	Aggregator   AggregatorConfig   `yaml:"aggregator"`
	Sources      []SourceConfig     `yaml:"sources"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Notification NotificationConfig `yaml:"notification"`
	Roles        []string           `yaml:"roles"` // api, worker, scheduler (empty means all)
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for ops routes (optional, if empty, auth is disabled)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"` // 0 keeps the client default
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	AutoMigrate bool   `yaml:"auto_migrate"` // create/alter tables on boot

	MaxOpenConns  int           `yaml:"max_open_conns"`
	MaxIdleConns  int           `yaml:"max_idle_conns"`
	SlowThreshold time.Duration `yaml:"slow_threshold"` // queries slower than this are logged
}

// DSN builds the go-sql-driver DSN
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// QueueConfig queue configuration
type QueueConfig struct {
	Concurrency int `yaml:"concurrency"` // worker pool size
}

// NotificationConfig webhook alerting for anomalies and failed scrapes
type NotificationConfig struct {
	FeishuWebhookURL string  `yaml:"feishu_webhook_url"` // empty disables alerts
	MinChangePercent float64 `yaml:"min_change_percent"` // anomalies below this absolute swing are not alerted
	NotifyFailures   bool    `yaml:"notify_failures"`    // also alert on failed and timed out scrapes
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	Format string           `yaml:"format"` // console, json
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig scheduler process configuration
type SchedulerConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`      // how often queued triggers are topped up
	ReconcileInterval time.Duration `yaml:"reconcile_interval"` // how often the provider list is re-read
	ReconcileOnBoot   bool          `yaml:"reconcile_on_boot"`  // run Reconcile when the scheduler role starts
}

// ScrapeConfig refresh policy defaults and per-provider overrides
type ScrapeConfig struct {
	Default                 PolicyConfig            `yaml:"default"`
	FlakyIntervalMultiplier float64                 `yaml:"flaky_interval_multiplier"`
	Providers               map[string]PolicyConfig `yaml:"providers"`
	AnomalyThreshold        float64                 `yaml:"anomaly_threshold"` // relative change, 0.5 = 50%
}

// PolicyConfig refresh policy values, zero values inherit from the default policy
type PolicyConfig struct {
	Interval                time.Duration `yaml:"interval"`
	Timeout                 time.Duration `yaml:"timeout"`
	MinSpacing              time.Duration `yaml:"min_spacing"`
	InactiveAfterMisses     int           `yaml:"inactive_after_misses"`
	DeactivateAfterFailures int           `yaml:"deactivate_after_failures"` // -1 disables
}

// AggregatorConfig read-side configuration
type AggregatorConfig struct {
	StaleAfter     time.Duration `yaml:"stale_after"`
	MaxHistoryDays int           `yaml:"max_history_days"`
}

// SourceConfig configures one raw offer source adapter
type SourceConfig struct {
	Provider string `yaml:"provider"` // provider slug
	Type     string `yaml:"type"`     // httpjson, awsec2, static

	// httpjson
	URL               string            `yaml:"url"`
	Headers           map[string]string `yaml:"headers"`
	RequestsPerMinute int               `yaml:"requests_per_minute"`

	// awsec2
	Region          string             `yaml:"region"`
	AccessKeyID     string             `yaml:"access_key_id"`
	SecretAccessKey string             `yaml:"secret_access_key"`
	OnDemandPrices  map[string]float64 `yaml:"on_demand_prices"` // instance type -> USD/hour
	GPUAliases      map[string]string  `yaml:"gpu_aliases"`      // EC2 GPU name -> gpu slug

	// static
	Offers []StaticOffer `yaml:"offers"`
}

// StaticOffer fixed offer used by the static source
type StaticOffer struct {
	GPU          string   `yaml:"gpu"`
	InstanceType string   `yaml:"instance_type"`
	GPUCount     int      `yaml:"gpu_count"`
	Price        float64  `yaml:"price"`
	SpotPrice    *float64 `yaml:"spot_price"`
	Regions      []string `yaml:"regions"`
}

// CatalogConfig reference data upserted on boot
type CatalogConfig struct {
	Providers []ProviderSeed `yaml:"providers"`
	GPUs      []GPUSeed      `yaml:"gpus"`
}

// ProviderSeed describes one provider row
type ProviderSeed struct {
	Slug             string `yaml:"slug"`
	DisplayName      string `yaml:"display_name"`
	Tier             string `yaml:"tier"`
	SupportsSpot     bool   `yaml:"supports_spot"`
	SupportsReserved bool   `yaml:"supports_reserved"`
	HasPublicAPI     bool   `yaml:"has_public_api"`
	Reliability      string `yaml:"reliability"` // stable, flaky
	Active           *bool  `yaml:"active"`      // nil means active
}

// IsActive reports the seeded activity flag
func (p ProviderSeed) IsActive() bool {
	return p.Active == nil || *p.Active
}

// GPUSeed describes one GPU model row
type GPUSeed struct {
	Slug         string `yaml:"slug"`
	DisplayName  string `yaml:"display_name"`
	VRAMGB       int    `yaml:"vram_gb"`
	Architecture string `yaml:"architecture"`
}

// Default values
const (
	DefaultPort                    = 8080
	DefaultConcurrency             = 10
	DefaultTickInterval            = 30 * time.Second
	DefaultReconcileInterval       = 10 * time.Minute
	DefaultInterval                = time.Hour
	DefaultTimeout                 = 2 * time.Minute
	DefaultMinSpacing              = 10 * time.Minute
	DefaultInactiveAfterMisses     = 3
	DefaultDeactivateAfterFailures = 48
	DefaultFlakyMultiplier         = 2.0
	DefaultAnomalyThreshold        = 0.5
	DefaultStaleAfter              = 48 * time.Hour
	DefaultMaxHistoryDays          = 365
	DefaultMaxOpenConns            = 50
	DefaultMaxIdleConns            = 10
	DefaultSlowThreshold           = 500 * time.Millisecond
)

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	validateAndApplyDefaults(&cfg)
	return &cfg, nil
}

// HasRole reports whether the process should run the given role
func (c *Config) HasRole(role string) bool {
	if len(c.Roles) == 0 {
		return true
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// validateAndApplyDefaults replaces missing or invalid values with defaults
func validateAndApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.MySQL.MaxOpenConns <= 0 {
		cfg.MySQL.MaxOpenConns = DefaultMaxOpenConns
	}
	if cfg.MySQL.MaxIdleConns <= 0 || cfg.MySQL.MaxIdleConns > cfg.MySQL.MaxOpenConns {
		cfg.MySQL.MaxIdleConns = min(DefaultMaxIdleConns, cfg.MySQL.MaxOpenConns)
	}
	if cfg.MySQL.SlowThreshold <= 0 {
		cfg.MySQL.SlowThreshold = DefaultSlowThreshold
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = DefaultConcurrency
	}
	if cfg.Scheduler.TickInterval <= 0 {
		cfg.Scheduler.TickInterval = DefaultTickInterval
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = DefaultReconcileInterval
	}

	d := &cfg.Scrape.Default
	if d.Interval <= 0 {
		d.Interval = DefaultInterval
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.MinSpacing <= 0 {
		d.MinSpacing = DefaultMinSpacing
	}
	if d.MinSpacing > d.Interval/2 {
		d.MinSpacing = d.Interval / 2
	}
	if d.InactiveAfterMisses <= 0 {
		d.InactiveAfterMisses = DefaultInactiveAfterMisses
	}
	// negative disables deactivation on repeated failures
	if d.DeactivateAfterFailures == 0 {
		d.DeactivateAfterFailures = DefaultDeactivateAfterFailures
	}
	if cfg.Scrape.FlakyIntervalMultiplier < 1 {
		cfg.Scrape.FlakyIntervalMultiplier = DefaultFlakyMultiplier
	}
	if cfg.Scrape.AnomalyThreshold <= 0 {
		cfg.Scrape.AnomalyThreshold = DefaultAnomalyThreshold
	}

	if cfg.Aggregator.StaleAfter <= 0 {
		cfg.Aggregator.StaleAfter = DefaultStaleAfter
	}
	if cfg.Aggregator.MaxHistoryDays <= 0 {
		cfg.Aggregator.MaxHistoryDays = DefaultMaxHistoryDays
	}

	// config file wins over the environment
	if cfg.Notification.FeishuWebhookURL == "" {
		cfg.Notification.FeishuWebhookURL = os.Getenv("FEISHU_WEBHOOK_URL")
	}
}
