// Package config loads service settings from defaults, an optional YAML file
// and environment variables, in that order of precedence.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// Storage modes
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Server struct {
		Host          string        `yaml:"host"`
		Port          int           `yaml:"port"`
		SessionCookie string        `yaml:"session_cookie"`
		ReadTimeout   time.Duration `yaml:"read_timeout"`
		WriteTimeout  time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Mode     string `yaml:"mode"`
		Postgres struct {
			URL             string        `yaml:"url"`
			MaxOpenConns    int           `yaml:"max_open_conns"`
			MaxIdleConns    int           `yaml:"max_idle_conns"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	// Redis backs the refresh lock, the task stream and OAuth states.
	// Empty URL falls back to the storage mode's own implementations.
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		// EncryptionKey is 32 bytes, hex or base64 encoded
		EncryptionKey string `yaml:"encryption_key"`
	} `yaml:"auth"`

	Worker struct {
		Concurrency    int `yaml:"concurrency"`
		DequeueTimeout int `yaml:"dequeue_timeout"` // seconds

		// ClaimTimeout is how long a delivered task may stay unacknowledged
		// before another consumer claims it. Never shorter than sync.lease_ttl.
		ClaimTimeout time.Duration `yaml:"claim_timeout"`
	} `yaml:"worker"`

	Scheduler struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"scheduler"`

	Sync struct {
		LeaseTTL       time.Duration `yaml:"lease_ttl"`
		MaxConcurrency int           `yaml:"max_concurrency"`
		PageSize       int           `yaml:"page_size"`
	} `yaml:"sync"`

	Tokens struct {
		RefreshSkew time.Duration `yaml:"refresh_skew"`
		LockTTL     time.Duration `yaml:"lock_ttl"`
	} `yaml:"tokens"`

	Log struct {
		// debug | info | warn | error
		Level string `yaml:"level"`
	} `yaml:"log"`

	// Bootstrap seeds one tenant at startup, keyed by a legacy tenant key.
	Bootstrap struct {
		TenantID           string `yaml:"tenant_id"`
		TenantName         string `yaml:"tenant_name"`
		TenantKey          string `yaml:"tenant_key"`
		MaxConsents        int    `yaml:"max_consents"`
		RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	} `yaml:"bootstrap"`

	// Providers overlays DefaultEndpoints per provider, keyed by provider type.
	Providers map[string]providers.Endpoints `yaml:"providers"`
}

// Default returns the settings used when nothing else is configured.
func Default() *Config {
	c := &Config{}
	c.Server.Host = "0.0.0.0"
	c.Server.Port = 8080
	c.Server.SessionCookie = "session"
	c.Server.ReadTimeout = 30 * time.Second
	c.Server.WriteTimeout = 2 * time.Minute
	c.Storage.Mode = StorageMemory
	c.Storage.Postgres.MaxOpenConns = 25
	c.Storage.Postgres.MaxIdleConns = 5
	c.Storage.Postgres.ConnMaxLifetime = 5 * time.Minute
	c.Worker.Concurrency = 2
	c.Worker.DequeueTimeout = 5
	c.Worker.ClaimTimeout = 2 * domain.DefaultLeaseTTL
	c.Scheduler.Enabled = true
	c.Scheduler.Interval = 15 * time.Minute
	c.Sync.LeaseTTL = domain.DefaultLeaseTTL
	c.Sync.MaxConcurrency = 4
	c.Sync.PageSize = 100
	c.Tokens.RefreshSkew = 5 * time.Minute
	c.Tokens.LockTTL = 30 * time.Second
	c.Log.Level = "info"
	c.Providers = map[string]providers.Endpoints{}
	return c
}

// LoadDotEnv reads a .env file into the process environment. A missing
// file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration. path falls back to CONFIG_FILE; with
// neither set only defaults and the environment apply.
func Load(path string) (*Config, error) {
	c := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.SessionCookie = getEnv("SESSION_COOKIE", c.Server.SessionCookie)

	c.Storage.Mode = getEnv("STORAGE_MODE", c.Storage.Mode)
	c.Storage.Postgres.URL = getEnv("DATABASE_URL", c.Storage.Postgres.URL)
	c.Storage.Postgres.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Storage.Postgres.MaxOpenConns)
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.EncryptionKey = getEnv("ENCRYPTION_KEY", c.Auth.EncryptionKey)

	c.Worker.Concurrency = getEnvInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.ClaimTimeout = getEnvDuration("WORKER_CLAIM_TIMEOUT", c.Worker.ClaimTimeout)
	c.Scheduler.Enabled = getEnvBool("SCHEDULER_ENABLED", c.Scheduler.Enabled)
	c.Scheduler.Interval = getEnvDuration("SCHEDULER_INTERVAL", c.Scheduler.Interval)
	c.Sync.LeaseTTL = getEnvDuration("SYNC_LEASE_TTL", c.Sync.LeaseTTL)
	c.Sync.MaxConcurrency = getEnvInt("SYNC_MAX_CONCURRENCY", c.Sync.MaxConcurrency)
	c.Tokens.RefreshSkew = getEnvDuration("TOKEN_REFRESH_SKEW", c.Tokens.RefreshSkew)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Bootstrap.TenantID = getEnv("BOOTSTRAP_TENANT_ID", c.Bootstrap.TenantID)
	c.Bootstrap.TenantKey = getEnv("BOOTSTRAP_TENANT_KEY", c.Bootstrap.TenantKey)

	if c.Providers == nil {
		c.Providers = map[string]providers.Endpoints{}
	}
	// FORTNOX_CLIENT_ID, VISMA_REDIRECT_URL, BJORNLUNDEN_TOKEN_URL, ...
	for _, p := range domain.AllProviders() {
		prefix := strings.ToUpper(string(p)) + "_"
		ep := c.Providers[string(p)]
		ep.ClientID = getEnv(prefix+"CLIENT_ID", ep.ClientID)
		ep.ClientSecret = getEnv(prefix+"CLIENT_SECRET", ep.ClientSecret)
		ep.RedirectURL = getEnv(prefix+"REDIRECT_URL", ep.RedirectURL)
		ep.TokenURL = getEnv(prefix+"TOKEN_URL", ep.TokenURL)
		ep.APIBaseURL = getEnv(prefix+"API_BASE_URL", ep.APIBaseURL)
		c.Providers[string(p)] = ep
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Mode {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.Postgres.URL == "" {
			errs = append(errs, errors.New("storage.postgres.url (DATABASE_URL) is required in postgres mode"))
		}
		if _, err := c.EncryptionKeyBytes(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage mode %q", c.Storage.Mode))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) is required"))
	}
	for name := range c.Providers {
		if _, err := domain.ParseProviderType(name); err != nil {
			errs = append(errs, fmt.Errorf("providers: %w", err))
		}
	}
	if c.Bootstrap.TenantID != "" && c.Bootstrap.TenantKey == "" {
		errs = append(errs, errors.New("bootstrap.tenant_key (BOOTSTRAP_TENANT_KEY) is required with a bootstrap tenant"))
	}
	if c.Sync.LeaseTTL <= 0 {
		errs = append(errs, errors.New("sync.lease_ttl must be positive"))
	}
	if c.Worker.ClaimTimeout < c.Sync.LeaseTTL {
		errs = append(errs, fmt.Errorf("worker.claim_timeout (%s) must not be shorter than sync.lease_ttl (%s)",
			c.Worker.ClaimTimeout, c.Sync.LeaseTTL))
	}
	return errors.Join(errs...)
}

// EncryptionKeyBytes decodes the token encryption key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	raw := strings.TrimSpace(c.Auth.EncryptionKey)
	if raw == "" {
		return nil, errors.New("auth.encryption_key (ENCRYPTION_KEY) is required in postgres mode")
	}
	if b, err := hex.DecodeString(raw); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == 32 {
		return b, nil
	}
	return nil, errors.New("auth.encryption_key must be 32 bytes, hex or base64 encoded")
}

// ProviderEndpoints merges configured overrides onto the provider defaults.
func (c *Config) ProviderEndpoints() map[domain.ProviderType]providers.Endpoints {
	out := providers.DefaultEndpoints()
	for name, override := range c.Providers {
		p := domain.ProviderType(name)
		out[p] = providers.MergeEndpoints(out[p], override)
	}
	return out
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
