package platform

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/fieldwork/pkg/auth"
	"github.com/txn2/fieldwork/pkg/session"
)

// Storage modes.
const (
	StorageModeMemory   = "memory"
	StorageModePostgres = "postgres"
)

// Config holds the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
	Journal JournalConfig `yaml:"journal"`
	Auth    AuthConfig    `yaml:"auth"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	// Mode is "memory" or "postgres".
	Mode string `yaml:"mode"`

	// DSN is the PostgreSQL connection string. Supports ${ENV} expansion.
	DSN string `yaml:"dsn"`
}

// SessionConfig configures the session lifecycle.
type SessionConfig struct {
	// Timeout is the inactivity limit before a session expires.
	Timeout time.Duration `yaml:"timeout"`

	// WarnThreshold is the remaining time at which near-timeout is reported.
	WarnThreshold time.Duration `yaml:"warn_threshold"`

	// SweepInterval is the coarse cadence of the expiry sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// TickInterval is the fine cadence of the local countdown.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// JournalConfig configures the lifecycle event journal.
type JournalConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// AuthConfig configures the identity oracle.
type AuthConfig struct {
	// JWTSecret enables the JWT authenticator when non-empty.
	JWTSecret string `yaml:"jwt_secret"`

	// JWTIssuer, if set, is enforced on tokens.
	JWTIssuer string `yaml:"jwt_issuer"`

	// APIKeys enables the API key authenticator when non-empty.
	APIKeys []auth.APIKey `yaml:"api_keys"`
}

// LoadConfig reads, env-expands, and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the configuration used when no file is given:
// in-memory storage on the default address.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeMemory
	}
	if cfg.Session.Timeout == 0 {
		cfg.Session.Timeout = session.DefaultTimeout
	}
	if cfg.Session.WarnThreshold == 0 {
		cfg.Session.WarnThreshold = session.DefaultWarnThreshold
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = session.DefaultPollInterval
	}
	if cfg.Session.TickInterval == 0 {
		cfg.Session.TickInterval = session.DefaultTickInterval
	}
	if cfg.Journal.RetentionDays == 0 {
		cfg.Journal.RetentionDays = 180
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Mode {
	case StorageModeMemory:
	case StorageModePostgres:
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage mode %q requires a dsn", cfg.Storage.Mode)
		}
	default:
		return fmt.Errorf("unknown storage mode: %q", cfg.Storage.Mode)
	}

	if cfg.Session.WarnThreshold >= cfg.Session.Timeout {
		return fmt.Errorf("warn_threshold %s must be below timeout %s",
			cfg.Session.WarnThreshold, cfg.Session.Timeout)
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}
