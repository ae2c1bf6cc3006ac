package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the fingerprint coordination service configuration.
type Config struct {
	// Sensor device configuration
	DevicePath string `mapstructure:"device_path"`

	// SeedHex and ContextHex are the 32-byte MCU seed/context constants,
	// hex-encoded. Changing SeedHex invalidates every persisted template.
	SeedHex    string `mapstructure:"seed_hex"`
	ContextHex string `mapstructure:"context_hex"`

	// Operation timeouts. Validated here; the coordinator uses its own fixed
	// 60 s enroll / 30 s match watchdogs and does not read these values.
	EnrollTimeoutSeconds int `mapstructure:"enroll_timeout_seconds"`
	MatchTimeoutSeconds  int `mapstructure:"match_timeout_seconds"`

	// Template persistence
	TemplateDir string `mapstructure:"template_dir"` // directory holding per-user template files

	// Audit log configuration
	AuditDatabasePath      string `mapstructure:"audit_database_path"`
	AuditRetentionDays     int    `mapstructure:"audit_retention_days"`
	AuditCleanupIntervalMinutes int `mapstructure:"audit_cleanup_interval_minutes"`

	// D-Bus service configuration
	BusName string `mapstructure:"bus_name"`
	BusPath string `mapstructure:"bus_path"`

	// Administrative HTTP surface, disabled when empty
	AdminListenAddr string `mapstructure:"admin_listen_addr"`
	AdminAuthToken  string `mapstructure:"admin_auth_token"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		DevicePath:                  "/dev/cros_fp",
		SeedHex:                     strings.Repeat("a5", 32),
		ContextHex:                  strings.Repeat("c3", 32),
		EnrollTimeoutSeconds:        60,
		MatchTimeoutSeconds:         30,
		TemplateDir:                 "",
		AuditDatabasePath:           "/var/lib/fpauthd/audit.db",
		AuditRetentionDays:          30,
		AuditCleanupIntervalMinutes: 60,
		BusName:                     "org.rust_fp.RustFp",
		BusPath:                     "/org/rust_fp/RustFp",
		AdminListenAddr:             "",
		AdminAuthToken:              "",
		LogLevel:                    "info",
		LogFile:                     "",
	}
}

// Load loads configuration from file and environment variables.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("fpauthd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fpauthd")
	}

	v.SetEnvPrefix("FPAUTHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("device_path", cfg.DevicePath)
	v.SetDefault("seed_hex", cfg.SeedHex)
	v.SetDefault("context_hex", cfg.ContextHex)
	v.SetDefault("enroll_timeout_seconds", cfg.EnrollTimeoutSeconds)
	v.SetDefault("match_timeout_seconds", cfg.MatchTimeoutSeconds)
	v.SetDefault("template_dir", cfg.TemplateDir)
	v.SetDefault("audit_database_path", cfg.AuditDatabasePath)
	v.SetDefault("audit_retention_days", cfg.AuditRetentionDays)
	v.SetDefault("audit_cleanup_interval_minutes", cfg.AuditCleanupIntervalMinutes)
	v.SetDefault("bus_name", cfg.BusName)
	v.SetDefault("bus_path", cfg.BusPath)
	v.SetDefault("admin_listen_addr", cfg.AdminListenAddr)
	v.SetDefault("admin_auth_token", cfg.AdminAuthToken)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DevicePath == "" {
		return fmt.Errorf("device_path is required")
	}

	if _, err := c.Seed(); err != nil {
		return fmt.Errorf("seed_hex: %w", err)
	}
	if _, err := c.Context(); err != nil {
		return fmt.Errorf("context_hex: %w", err)
	}

	if c.EnrollTimeoutSeconds <= 0 {
		return fmt.Errorf("enroll_timeout_seconds must be positive")
	}
	if c.MatchTimeoutSeconds <= 0 {
		return fmt.Errorf("match_timeout_seconds must be positive")
	}
	if c.AuditRetentionDays <= 0 {
		return fmt.Errorf("audit_retention_days must be positive")
	}
	if c.BusName == "" || c.BusPath == "" {
		return fmt.Errorf("bus_name and bus_path are required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}

// Seed decodes the configured 32-byte MCU seed constant.
func (c *Config) Seed() ([32]byte, error) {
	return decodeKey32(c.SeedHex)
}

// Context decodes the configured 32-byte MCU context constant.
func (c *Config) Context() ([32]byte, error) {
	return decodeKey32(c.ContextHex)
}

func decodeKey32(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return out, fmt.Errorf("not valid hex: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("must decode to exactly 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// EnrollTimeout returns the configured enroll timeout as a duration.
func (c *Config) EnrollTimeout() time.Duration {
	return time.Duration(c.EnrollTimeoutSeconds) * time.Second
}

// MatchTimeout returns the configured match timeout as a duration.
func (c *Config) MatchTimeout() time.Duration {
	return time.Duration(c.MatchTimeoutSeconds) * time.Second
}

// AuditRetention returns the configured audit retention window.
func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

// AuditCleanupInterval returns how often the audit cleanup pass runs.
func (c *Config) AuditCleanupInterval() time.Duration {
	return time.Duration(c.AuditCleanupIntervalMinutes) * time.Minute
}

// TemplateStoreDir returns the directory that holds per-user template files,
// defaulting to "$HOME/.var" the way the original cros-fp tooling lays
// templates out under the caller's home directory.
func (c *Config) TemplateStoreDir(homeDir string) string {
	if c.TemplateDir != "" {
		return c.TemplateDir
	}
	return filepath.Join(homeDir, ".var")
}

// TemplateFileName is the well-known file name for a user's template map.
const TemplateFileName = "cros-fp-templates"

// EnsureDir creates a directory (and its parents) if it does not exist yet.
func EnsureDir(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.MkdirAll(path, 0o700)
}
