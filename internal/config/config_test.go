package config

import (
	"testing"
	"time"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want 127.0.0.1:8080", cfg.Server.HTTPAddr)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Limits.PerMinute != 30 || cfg.Limits.PerHour != 300 || cfg.Limits.MaxConcurrent != 3 {
		t.Errorf("Limits = %+v", cfg.Limits)
	}
	if cfg.Confirmation.DefaultTTL != "5m" || cfg.Confirmation.SweepInterval != "30s" {
		t.Errorf("Confirmation = %+v", cfg.Confirmation)
	}
	if cfg.AuditFile.RetentionDays != 7 || cfg.AuditFile.CacheSize != 1000 {
		t.Errorf("AuditFile = %+v", cfg.AuditFile)
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server: ServerConfig{HTTPAddr: ":9090", LogLevel: "warn"},
		Limits: LimitsConfig{PerMinute: 5},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" || cfg.Server.LogLevel != "warn" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Limits.PerMinute != 5 {
		t.Errorf("PerMinute = %d, want 5", cfg.Limits.PerMinute)
	}
	// Unset siblings still get defaults.
	if cfg.Limits.PerHour != 300 {
		t.Errorf("PerHour = %d, want 300", cfg.Limits.PerHour)
	}
}

func TestConfig_SetDefaults_DevModeForcesDebug(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
}

func TestPolicyConfig_ToDomain(t *testing.T) {
	t.Parallel()

	pc := PolicyConfig{
		Name:           "no rm",
		TenantID:       "tenant-a",
		MatchType:      "wildcard",
		MatchValue:     "rm *",
		Mode:           "forbid",
		OSWhitelist:    []string{"linux"},
		Risk:           "high",
		TimeoutSeconds: 120,
		ConfirmMessage: "destructive",
		Priority:       10,
	}

	p := pc.ToDomain()
	if p.Name != "no rm" || string(p.MatchType) != "wildcard" || string(p.Mode) != "forbid" {
		t.Errorf("ToDomain() = %+v", p)
	}
	if p.TimeoutSeconds != 120 || p.Priority != 10 || len(p.OSWhitelist) != 1 {
		t.Errorf("ToDomain() = %+v", p)
	}
	if p.ID != "" {
		t.Errorf("ID = %q, want empty (assigned by caller)", p.ID)
	}
}

func TestLimitsConfig_ToLimits(t *testing.T) {
	t.Parallel()

	lc := LimitsConfig{PerMinute: 10, PerHour: 100, MaxConcurrent: 2}
	limits := lc.ToLimits()
	if limits.PerMinute != 10 || limits.PerHour != 100 || limits.MaxConcurrent != 2 {
		t.Errorf("ToLimits() = %+v", limits)
	}
}

func TestDurationAccessors(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if got := cfg.Confirmation.DefaultTTLDuration(); got != 5*time.Minute {
		t.Errorf("DefaultTTLDuration() = %v, want 5m", got)
	}
	if got := cfg.Confirmation.SweepIntervalDuration(); got != 30*time.Second {
		t.Errorf("SweepIntervalDuration() = %v, want 30s", got)
	}
	if got := cfg.Executor.DefaultTimeoutDuration(); got != 60*time.Second {
		t.Errorf("DefaultTimeoutDuration() = %v, want 60s", got)
	}

	// Malformed strings fall back instead of panicking.
	bad := ConfirmationConfig{DefaultTTL: "not-a-duration"}
	if got := bad.DefaultTTLDuration(); got != 5*time.Minute {
		t.Errorf("fallback = %v, want 5m", got)
	}
}
