// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	HTTPAddr      string `mapstructure:"HTTP_ADDR"`
	DBDriver      string `mapstructure:"DB_DRIVER"`
	DBURL         string `mapstructure:"DB_URL"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
	GithubToken   string `mapstructure:"GITHUB_TOKEN"`
	GithubAPIURL  string `mapstructure:"GITHUB_API_URL"`

	WebhookSecret        string         `mapstructure:"WEBHOOK_SECRET"`
	WebhookAllowInsecure bool           `mapstructure:"WEBHOOK_ALLOW_INSECURE"`
	WebhookVerifySource  bool           `mapstructure:"WEBHOOK_VERIFY_SOURCE"`
	WebhookAllowedCIDRs  []string       `mapstructure:"WEBHOOK_ALLOWED_CIDRS"`
	WebhookMaxBodyBytes  int64          `mapstructure:"WEBHOOK_MAX_BODY_BYTES"`
	AllowedPrefixes      []netip.Prefix `mapstructure:"-"`

	// TrustedProxyCIDRs lists the reverse proxies whose X-Real-IP and X-Forwarded-For
	// headers are believed. Requests from anywhere else are judged by their socket address.
	TrustedProxyCIDRs []string       `mapstructure:"TRUSTED_PROXY_CIDRS"`
	TrustedProxies    []netip.Prefix `mapstructure:"-"`

	SyncTimeout   time.Duration `mapstructure:"SYNC_TIMEOUT"`
	FetchTimeout  time.Duration `mapstructure:"FETCH_TIMEOUT"`
	QuotaLowWater int           `mapstructure:"QUOTA_LOW_WATER"`
	QuotaCacheTTL time.Duration `mapstructure:"QUOTA_CACHE_TTL"`

	TokenEncryptionKey string `mapstructure:"TOKEN_ENCRYPTION_KEY"`
	AdminToken         string `mapstructure:"ADMIN_TOKEN"`
	NgrokDomain        string `mapstructure:"NGROK_DOMAIN"`
}

// InsecureMode reports whether webhook signatures are not checked.
func (c *Config) InsecureMode() bool {
	return c.WebhookSecret == ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("WEBHOOK_ALLOW_INSECURE", false)
	v.SetDefault("WEBHOOK_VERIFY_SOURCE", true)
	v.SetDefault("WEBHOOK_ALLOWED_CIDRS", []string{})
	v.SetDefault("TRUSTED_PROXY_CIDRS", []string{})
	v.SetDefault("WEBHOOK_MAX_BODY_BYTES", 5<<20)
	v.SetDefault("SYNC_TIMEOUT", "2m")
	v.SetDefault("FETCH_TIMEOUT", "30s")
	v.SetDefault("QUOTA_LOW_WATER", 100)
	v.SetDefault("QUOTA_CACHE_TTL", "30s")
	// Keys without a default must still be known to Unmarshal when only set in the environment.
	for _, key := range []string{"DB_URL", "GITHUB_TOKEN", "GITHUB_API_URL", "WEBHOOK_SECRET", "TOKEN_ENCRYPTION_KEY", "ADMIN_TOKEN", "NGROK_DOMAIN"} {
		v.SetDefault(key, "")
	}
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", c.DBDriver)
	}
	if c.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	if c.GithubToken == "" {
		return errors.New("GITHUB_TOKEN is a required configuration field")
	}
	if c.WebhookSecret == "" && !c.WebhookAllowInsecure {
		return errors.New("WEBHOOK_SECRET is required unless WEBHOOK_ALLOW_INSECURE=true")
	}
	if c.WebhookMaxBodyBytes <= 0 {
		return errors.New("WEBHOOK_MAX_BODY_BYTES must be positive")
	}
	if c.SyncTimeout <= 0 || c.FetchTimeout <= 0 {
		return errors.New("SYNC_TIMEOUT and FETCH_TIMEOUT must be positive")
	}
	if c.FetchTimeout > c.SyncTimeout {
		return errors.New("FETCH_TIMEOUT must not exceed SYNC_TIMEOUT")
	}
	if c.QuotaLowWater < 0 {
		return errors.New("QUOTA_LOW_WATER must not be negative")
	}

	var err error
	if c.AllowedPrefixes, err = parsePrefixes(c.WebhookAllowedCIDRs); err != nil {
		return fmt.Errorf("WEBHOOK_ALLOWED_CIDRS: %w", err)
	}
	if c.TrustedProxies, err = parsePrefixes(c.TrustedProxyCIDRs); err != nil {
		return fmt.Errorf("TRUSTED_PROXY_CIDRS: %w", err)
	}
	return nil
}

func parsePrefixes(raws []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range raws {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, prefix)
	}
	return out, nil
}

// WatchLogLevel re-applies LOG_LEVEL whenever the .env file changes.
func WatchLogLevel(level *slog.LevelVar, logger *slog.Logger) {
	v := viper.GetViper()
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		newLevel := v.GetString("LOG_LEVEL")
		SetLogLevel(newLevel, level)
		logger.Info("Configuration file changed, log level reloaded", "file", e.Name, "level", newLevel)
	})
	v.WatchConfig()
}

// SetLogLevel maps a LOG_LEVEL value onto a slog.LevelVar.
func SetLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
