package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PayPalConfig struct {
	BaseURL      string  `yaml:"base_url"`
	ClientID     string  `yaml:"client_id"`
	ClientSecret string  `yaml:"client_secret"`
	RatePerSec   float64 `yaml:"rate_per_sec"` // provider API budget
}

type GitHubConfig struct {
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`
}

type ProvidersConfig struct {
	PayPal PayPalConfig `yaml:"paypal"`
	GitHub GitHubConfig `yaml:"github"`
}

// ReconcileConfig holds the timing knobs of the reconciliation core.
type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"` // how often a full run starts

	// MinSubscriptionAge excludes freshly created subscriptions from
	// provider diffing so the provider's own propagation is not raced.
	MinSubscriptionAge time.Duration `yaml:"min_subscription_age"`

	// IdleThreshold is how stale an unresolvable subscription must be
	// before it is deleted instead of expired.
	IdleThreshold time.Duration `yaml:"idle_threshold"`

	// GraceMonthly is the entitlement grace window after the last payment
	// of a monthly subscription; GraceMonths covers every other non-lifetime
	// frequency.
	GraceMonthly time.Duration `yaml:"grace_monthly"`
	GraceMonths  int           `yaml:"grace_months"`

	LockTTL time.Duration `yaml:"lock_ttl"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Providers ProvidersConfig `yaml:"providers"`
	Reconcile ReconcileConfig `yaml:"reconcile"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8080
	}
	if cfg.Providers.PayPal.BaseURL == "" {
		cfg.Providers.PayPal.BaseURL = "https://api.paypal.com"
	}
	if cfg.Providers.GitHub.APIURL == "" {
		cfg.Providers.GitHub.APIURL = "https://api.github.com/graphql"
	}
	if cfg.Providers.PayPal.RatePerSec <= 0 {
		cfg.Providers.PayPal.RatePerSec = 2
	}
	cfg.Reconcile = normalizeReconcile(cfg.Reconcile)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Providers.PayPal.ClientID == "" || cfg.Providers.PayPal.ClientSecret == "" {
		return nil, errors.New("providers.paypal credentials are required")
	}
	if cfg.Providers.GitHub.Token == "" {
		return nil, errors.New("providers.github.token is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func normalizeReconcile(rc ReconcileConfig) ReconcileConfig {
	if rc.Interval <= 0 {
		rc.Interval = time.Hour
	}
	if rc.MinSubscriptionAge <= 0 {
		rc.MinSubscriptionAge = 4 * 7 * 24 * time.Hour
	}
	if rc.IdleThreshold <= 0 {
		rc.IdleThreshold = 90 * 24 * time.Hour
	}
	if rc.GraceMonthly <= 0 {
		rc.GraceMonthly = 4 * 7 * 24 * time.Hour
	}
	if rc.GraceMonths <= 0 {
		rc.GraceMonths = 11
	}
	if rc.LockTTL <= 0 {
		rc.LockTTL = 30 * time.Minute
	}
	return rc
}
