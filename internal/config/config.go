package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Feed      FeedConfig      `yaml:"feed" mapstructure:"feed"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Mailer    MailerConfig    `yaml:"mailer" mapstructure:"mailer"`
	Render    RenderConfig    `yaml:"render" mapstructure:"render"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Payment   PaymentConfig   `yaml:"payment" mapstructure:"payment"`
	Filter    FilterConfig    `yaml:"filter" mapstructure:"filter"`
	Jobs      JobsConfig      `yaml:"jobs" mapstructure:"jobs"`
	Leadgen   LeadgenConfig   `yaml:"leadgen" mapstructure:"leadgen"`
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FeedConfig configures the procurement feed source.
type FeedConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	ProxyURL    string `yaml:"proxy_url" mapstructure:"proxy_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ScoringConfig holds AI scorer settings.
type ScoringConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	TeaserModel string  `yaml:"teaser_model" mapstructure:"teaser_model"`
	AuditModel  string  `yaml:"audit_model" mapstructure:"audit_model"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Disqualify  float64 `yaml:"disqualify_risk_score" mapstructure:"disqualify_risk_score"`
}

// MailerConfig holds outbound email settings.
type MailerConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	From    string `yaml:"from" mapstructure:"from"`
}

// RenderConfig holds report rendering service settings.
type RenderConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RegistryConfig holds the company-registry lookup settings.
type RegistryConfig struct {
	Key             string  `yaml:"key" mapstructure:"key"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSec  float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	FailureTTLHours int     `yaml:"failure_ttl_hours" mapstructure:"failure_ttl_hours"`
}

// PaymentConfig configures the payment gateway integration and report pricing.
// Report prices are tiered by tender value.
type PaymentConfig struct {
	ShopID     string `yaml:"shop_id" mapstructure:"shop_id"`
	SecretKey  string `yaml:"secret_key" mapstructure:"secret_key"`
	ReturnURL  string `yaml:"return_url" mapstructure:"return_url"`
	Currency   string `yaml:"currency" mapstructure:"currency"`
	PriceTier1 int64  `yaml:"price_tier1" mapstructure:"price_tier1"` // tender < 1M
	PriceTier2 int64  `yaml:"price_tier2" mapstructure:"price_tier2"` // 1M <= tender < 10M
	PriceTier3 int64  `yaml:"price_tier3" mapstructure:"price_tier3"` // tender >= 10M
}

// FilterConfig holds the ingestion pre-filter.
type FilterConfig struct {
	MinTenderPrice int64    `yaml:"min_tender_price" mapstructure:"min_tender_price"`
	StopWords      []string `yaml:"stop_words" mapstructure:"stop_words"`
}

// JobsConfig holds scheduler intervals and limits.
type JobsConfig struct {
	IngestIntervalMins  int `yaml:"ingest_interval_mins" mapstructure:"ingest_interval_mins"`
	EnrichIntervalMins  int `yaml:"enrich_interval_mins" mapstructure:"enrich_interval_mins"`
	AnalyzeIntervalMins int `yaml:"analyze_interval_mins" mapstructure:"analyze_interval_mins"`
	NotifyIntervalMins  int `yaml:"notify_interval_mins" mapstructure:"notify_interval_mins"`
	AuditIntervalMins   int `yaml:"audit_interval_mins" mapstructure:"audit_interval_mins"`
	CleanupIntervalHrs  int `yaml:"cleanup_interval_hours" mapstructure:"cleanup_interval_hours"`
	BatchLimit          int `yaml:"batch_limit" mapstructure:"batch_limit"`
	LeaseTTLMins        int `yaml:"lease_ttl_mins" mapstructure:"lease_ttl_mins"`
	ShutdownTimeoutSecs int `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
	AuditMaxAttempts    int `yaml:"audit_max_attempts" mapstructure:"audit_max_attempts"`
}

// LeadgenConfig configures the lead-generation pipeline.
type LeadgenConfig struct {
	Enabled      bool `yaml:"enabled" mapstructure:"enabled"`
	IntervalHrs  int  `yaml:"interval_hours" mapstructure:"interval_hours"`
	MinAgeDays   int  `yaml:"min_tender_age_days" mapstructure:"min_tender_age_days"`
	MaxAgeDays   int  `yaml:"max_tender_age_days" mapstructure:"max_tender_age_days"`
	ContactLimit int  `yaml:"contact_limit" mapstructure:"contact_limit"`
}

// RetentionConfig configures terminal-state cleanup.
type RetentionConfig struct {
	Days int `yaml:"days" mapstructure:"days"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LeaseTTL returns the job-run lease expiry as a duration.
func (j JobsConfig) LeaseTTL() time.Duration {
	return time.Duration(j.LeaseTTLMins) * time.Minute
}

// ShutdownTimeout returns the graceful shutdown budget as a duration.
func (j JobsConfig) ShutdownTimeout() time.Duration {
	return time.Duration(j.ShutdownTimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GOVSNIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("feed.timeout_secs", 30)
	v.SetDefault("scoring.teaser_model", "claude-haiku-4-5-20251001")
	v.SetDefault("scoring.audit_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("scoring.timeout_secs", 60)
	v.SetDefault("scoring.disqualify_risk_score", 80)
	v.SetDefault("render.timeout_secs", 60)
	v.SetDefault("registry.base_url", "https://suggestions.dadata.ru/suggestions/api/4_1/rs")
	v.SetDefault("registry.requests_per_sec", 2)
	v.SetDefault("registry.failure_ttl_hours", 24)
	v.SetDefault("payment.currency", "RUB")
	v.SetDefault("payment.price_tier1", 990)
	v.SetDefault("payment.price_tier2", 1990)
	v.SetDefault("payment.price_tier3", 4990)
	v.SetDefault("filter.min_tender_price", 100000)
	v.SetDefault("filter.stop_words", []string{"ремонт", "уборка", "питание", "клининг", "охрана"})
	v.SetDefault("jobs.ingest_interval_mins", 15)
	v.SetDefault("jobs.enrich_interval_mins", 3)
	v.SetDefault("jobs.analyze_interval_mins", 5)
	v.SetDefault("jobs.notify_interval_mins", 10)
	v.SetDefault("jobs.audit_interval_mins", 2)
	v.SetDefault("jobs.cleanup_interval_hours", 6)
	v.SetDefault("jobs.batch_limit", 20)
	v.SetDefault("jobs.lease_ttl_mins", 30)
	v.SetDefault("jobs.shutdown_timeout_secs", 30)
	v.SetDefault("jobs.audit_max_attempts", 5)
	v.SetDefault("leadgen.enabled", true)
	v.SetDefault("leadgen.interval_hours", 6)
	v.SetDefault("leadgen.min_tender_age_days", 7)
	v.SetDefault("leadgen.max_tender_age_days", 30)
	v.SetDefault("leadgen.contact_limit", 50)
	// Must stay beyond leadgen.max_tender_age_days or leads are deleted
	// before extraction.
	v.SetDefault("retention.days", 90)

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
