package config

import (
	"strings"
	"testing"
)

// validConfig returns a config that passes validation, for mutation in
// table tests.
func validConfig() Config {
	var cfg Config
	cfg.SetDefaults()
	cfg.Policies = []PolicyConfig{
		{Name: "no rm", MatchType: "wildcard", MatchValue: "rm *", Mode: "forbid"},
	}
	return cfg
}

func TestConfig_Validate_OK(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestConfig_Validate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "bad listen addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "not a host port" },
			wantMsg: "host:port",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "loud" },
			wantMsg: "must be one of",
		},
		{
			name:    "policy missing name",
			mutate:  func(c *Config) { c.Policies[0].Name = "" },
			wantMsg: "required",
		},
		{
			name:    "unknown match type",
			mutate:  func(c *Config) { c.Policies[0].MatchType = "fuzzy" },
			wantMsg: "must be one of",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Policies[0].Mode = "maybe" },
			wantMsg: "must be one of",
		},
		{
			name:    "negative limit",
			mutate:  func(c *Config) { c.Limits.PerMinute = -1 },
			wantMsg: "at least",
		},
		{
			name: "malformed duration",
			mutate: func(c *Config) {
				c.Confirmation.DefaultTTL = "five minutes"
			},
			wantMsg: "invalid duration",
		},
		{
			name: "malformed seed regex",
			mutate: func(c *Config) {
				c.Policies[0].MatchType = "regex"
				c.Policies[0].MatchValue = "[unclosed"
			},
			wantMsg: "malformed regex",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want substring %q", err, tt.wantMsg)
			}
		})
	}
}

func TestFindConfigFileInPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if got := findConfigFileInPaths([]string{dir}); got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}
