// Package config captures stationd's runtime settings, loaded from YAML
// and validated at startup before any storage or engine wiring happens.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level stationd process configuration.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	Env           string        `yaml:"env"`
	TickInterval  time.Duration `yaml:"tick_interval"`

	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Policy  PolicyConfig  `yaml:"policy"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig selects and configures the durable backend.
type StorageConfig struct {
	// Backend is "memory", "sqlite", or "postgres".
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	RateLimit  float64 `yaml:"rate_limit_per_second"`
	RateBurst  int     `yaml:"rate_burst"`
}

// PolicyConfig carries policy defaults. DefaultQuorum is defaulted and
// bounds-checked here; the v1/v2 migration seed steps
// (native/station/migrate/seed.go) do not read it and seed a fixed
// quorum of 1.
type PolicyConfig struct {
	DefaultQuorum uint16 `yaml:"default_quorum"`
}

// LogConfig configures observability/logging.Setup.
type LogConfig struct {
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

const (
	defaultListenAddress = ":8080"
	defaultTickInterval  = 2 * time.Second
	defaultRateLimit     = 10.0
	defaultRateBurst     = 20
	defaultQuorum        = 1
)

// Load reads and decodes the YAML configuration at path, applying
// defaults for anything left unset, then validates it.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListenAddress,
		TickInterval:  defaultTickInterval,
		Storage:       StorageConfig{Backend: "memory"},
		Auth:          AuthConfig{RateLimit: defaultRateLimit, RateBurst: defaultRateBurst},
		Policy:        PolicyConfig{DefaultQuorum: defaultQuorum},
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Auth.RateLimit <= 0 {
		cfg.Auth.RateLimit = defaultRateLimit
	}
	if cfg.Auth.RateBurst <= 0 {
		cfg.Auth.RateBurst = defaultRateBurst
	}
	if cfg.Policy.DefaultQuorum == 0 {
		cfg.Policy.DefaultQuorum = defaultQuorum
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate enforces the cross-field invariants a malformed config file
// could otherwise silently violate.
func (cfg Config) Validate() error {
	addr := strings.TrimSpace(cfg.ListenAddress)
	if addr == "" || !strings.HasPrefix(addr, ":") && !strings.Contains(addr, ":") {
		return fmt.Errorf("listen address %q is not well formed", cfg.ListenAddress)
	}
	if cfg.TickInterval < 100*time.Millisecond {
		return fmt.Errorf("tick_interval must be at least 100ms, got %s", cfg.TickInterval)
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for backend %q", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Auth.RateLimit <= 0 {
		return fmt.Errorf("auth.rate_limit_per_second must be positive")
	}
	if cfg.Auth.RateBurst <= 0 {
		return fmt.Errorf("auth.rate_burst must be positive")
	}
	if cfg.Policy.DefaultQuorum == 0 || cfg.Policy.DefaultQuorum > 1000 {
		return fmt.Errorf("policy.default_quorum out of bounds: %d", cfg.Policy.DefaultQuorum)
	}

	return nil
}
