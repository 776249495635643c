// Package config provides configuration types and loading for the
// command relay gateway. Configuration is file-based (YAML) with
// environment variable overrides.
package config

import (
	"time"

	"github.com/Command-Relay/commandrelay/internal/domain/policy"
	"github.com/Command-Relay/commandrelay/internal/domain/ratelimit"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configures the durable confirmation store. When Path is
	// empty, confirmations live in memory and do not survive restarts.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// AuditFile configures file-based audit persistence. When Dir is
	// empty, the audit trail is an in-memory ring buffer only.
	AuditFile AuditFileConfig `yaml:"audit_file" mapstructure:"audit_file"`

	// Limits configures per-agent admission limits.
	Limits LimitsConfig `yaml:"limits" mapstructure:"limits"`

	// Confirmation configures the confirmation lifecycle.
	Confirmation ConfirmationConfig `yaml:"confirmation" mapstructure:"confirmation"`

	// Executor configures local command execution.
	Executor ExecutorConfig `yaml:"executor" mapstructure:"executor"`

	// Policies seeds the policy set at startup. Policies can also be
	// managed at runtime through the admin API.
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// DevMode enables development features (verbose logging).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to
	// "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level. Valid values: "debug",
	// "info", "warn", "error". Defaults to "info". DevMode overrides
	// to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`
}

// DatabaseConfig configures the SQLite confirmation store.
type DatabaseConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory
	// store.
	Path string `yaml:"path" mapstructure:"path"`
}

// AuditFileConfig configures file-based audit persistence.
type AuditFileConfig struct {
	// Dir is the directory where audit files are stored. Empty selects
	// the in-memory ring buffer.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// RetentionDays is the number of days to keep audit files.
	// Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`
	// MaxFileSizeMB is the maximum size per audit file before rotation.
	// Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`
	// CacheSize is the number of recent records kept in memory for
	// queries. Defaults to 1000.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`
}

// LimitsConfig configures admission limits per agent.
type LimitsConfig struct {
	// PerMinute is the maximum admissions per minute. Defaults to 30.
	PerMinute int `yaml:"per_minute" mapstructure:"per_minute" validate:"omitempty,min=1"`
	// PerHour is the maximum admissions per hour. Defaults to 300.
	PerHour int `yaml:"per_hour" mapstructure:"per_hour" validate:"omitempty,min=1"`
	// MaxConcurrent is the maximum in-flight executions. Defaults to 3.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"omitempty,min=1"`
	// SettingsTTL is how long resolved limits are cached before being
	// re-read (e.g. "30s"). Defaults to "30s".
	SettingsTTL string `yaml:"settings_ttl" mapstructure:"settings_ttl" validate:"omitempty"`
}

// ConfirmationConfig configures the confirmation lifecycle.
type ConfirmationConfig struct {
	// DefaultTTL is the confirmation expiry when no policy overrides it
	// (e.g. "5m"). Defaults to "5m".
	DefaultTTL string `yaml:"default_ttl" mapstructure:"default_ttl" validate:"omitempty"`
	// SweepInterval is how often pending confirmations past their TTL
	// are expired (e.g. "30s"). Defaults to "30s".
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"omitempty"`
}

// ExecutorConfig configures local command execution.
type ExecutorConfig struct {
	// DefaultTimeout bounds commands whose policy declares no timeout
	// (e.g. "60s"). Defaults to "60s".
	DefaultTimeout string `yaml:"default_timeout" mapstructure:"default_timeout" validate:"omitempty"`
}

// PolicyConfig seeds one command policy at startup.
type PolicyConfig struct {
	// Name is a human-readable name for this policy.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	// TenantID scopes the policy. Empty means global.
	TenantID string `yaml:"tenant_id" mapstructure:"tenant_id"`
	// MatchType selects the matching algorithm.
	MatchType string `yaml:"match_type" mapstructure:"match_type" validate:"required,oneof=exact regex wildcard"`
	// MatchValue is the pattern tested against commands.
	MatchValue string `yaml:"match_value" mapstructure:"match_value" validate:"required"`
	// Mode is the effect when the policy matches.
	Mode string `yaml:"mode" mapstructure:"mode" validate:"required,oneof=auto confirm forbid"`
	// OSWhitelist restricts the policy to the listed agent OS values.
	OSWhitelist []string `yaml:"os_whitelist" mapstructure:"os_whitelist"`
	// Risk is the declared risk level.
	Risk string `yaml:"risk" mapstructure:"risk" validate:"omitempty,oneof=low medium high"`
	// TimeoutSeconds is the confirmation TTL for confirm-mode policies.
	TimeoutSeconds int `yaml:"timeout_seconds" mapstructure:"timeout_seconds" validate:"omitempty,min=1"`
	// ConfirmMessage is human text surfaced as the classification reason.
	ConfirmMessage string `yaml:"confirm_message" mapstructure:"confirm_message"`
	// Priority orders evaluation (lower value = evaluated first).
	Priority int `yaml:"priority" mapstructure:"priority"`
}

// ToDomain converts a seed entry to a domain policy. The caller assigns
// the id and timestamps.
func (p PolicyConfig) ToDomain() *policy.CommandPolicy {
	return &policy.CommandPolicy{
		TenantID:       p.TenantID,
		Name:           p.Name,
		MatchType:      policy.MatchType(p.MatchType),
		MatchValue:     p.MatchValue,
		Mode:           policy.Mode(p.Mode),
		OSWhitelist:    p.OSWhitelist,
		Risk:           policy.Risk(p.Risk),
		TimeoutSeconds: p.TimeoutSeconds,
		ConfirmMessage: p.ConfirmMessage,
		Priority:       p.Priority,
	}
}

// ToLimits converts the configured limits to the domain type.
func (c LimitsConfig) ToLimits() ratelimit.Limits {
	return ratelimit.Limits{
		PerMinute:     c.PerMinute,
		PerHour:       c.PerHour,
		MaxConcurrent: c.MaxConcurrent,
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless explicitly widened.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.DevMode {
		c.Server.LogLevel = "debug"
	}

	if c.AuditFile.RetentionDays == 0 {
		c.AuditFile.RetentionDays = 7
	}
	if c.AuditFile.MaxFileSizeMB == 0 {
		c.AuditFile.MaxFileSizeMB = 100
	}
	if c.AuditFile.CacheSize == 0 {
		c.AuditFile.CacheSize = 1000
	}

	if c.Limits.PerMinute == 0 {
		c.Limits.PerMinute = 30
	}
	if c.Limits.PerHour == 0 {
		c.Limits.PerHour = 300
	}
	if c.Limits.MaxConcurrent == 0 {
		c.Limits.MaxConcurrent = 3
	}
	if c.Limits.SettingsTTL == "" {
		c.Limits.SettingsTTL = "30s"
	}

	if c.Confirmation.DefaultTTL == "" {
		c.Confirmation.DefaultTTL = "5m"
	}
	if c.Confirmation.SweepInterval == "" {
		c.Confirmation.SweepInterval = "30s"
	}

	if c.Executor.DefaultTimeout == "" {
		c.Executor.DefaultTimeout = "60s"
	}
}

// parseDuration returns the parsed duration, or fallback when the
// string is empty or malformed. Validation rejects malformed values up
// front, so the fallback path only covers programmatic construction.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// SettingsTTLDuration returns the parsed settings cache TTL.
func (c LimitsConfig) SettingsTTLDuration() time.Duration {
	return parseDuration(c.SettingsTTL, 30*time.Second)
}

// DefaultTTLDuration returns the parsed default confirmation TTL.
func (c ConfirmationConfig) DefaultTTLDuration() time.Duration {
	return parseDuration(c.DefaultTTL, 5*time.Minute)
}

// SweepIntervalDuration returns the parsed sweep interval.
func (c ConfirmationConfig) SweepIntervalDuration() time.Duration {
	return parseDuration(c.SweepInterval, 30*time.Second)
}

// DefaultTimeoutDuration returns the parsed execution timeout.
func (c ExecutorConfig) DefaultTimeoutDuration() time.Duration {
	return parseDuration(c.DefaultTimeout, 60*time.Second)
}
