package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and
// environment variables. If configFile is empty, it searches for
// command-relay.yaml/.yml in standard locations. The search requires an
// explicit YAML extension so the binary itself (same base name, no
// extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError, which callers handle gracefully.
		viper.SetConfigName("command-relay")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: COMMAND_RELAY_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("COMMAND_RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a command-relay config
// file with an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".command-relay"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "command-relay"))
		}
	} else {
		paths = append(paths, "/etc/command-relay")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first command-relay.yaml or .yml
// found in the given directories, or empty if none exists.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "command-relay"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Example: COMMAND_RELAY_SERVER_HTTP_ADDR overrides
// server.http_addr. Arrays (policies) are config-file only.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.cert_file")
	_ = viper.BindEnv("server.key_file")

	_ = viper.BindEnv("database.path")

	_ = viper.BindEnv("audit_file.dir")
	_ = viper.BindEnv("audit_file.retention_days")
	_ = viper.BindEnv("audit_file.max_file_size_mb")
	_ = viper.BindEnv("audit_file.cache_size")

	_ = viper.BindEnv("limits.per_minute")
	_ = viper.BindEnv("limits.per_hour")
	_ = viper.BindEnv("limits.max_concurrent")
	_ = viper.BindEnv("limits.settings_ttl")

	_ = viper.BindEnv("confirmation.default_ttl")
	_ = viper.BindEnv("confirmation.sweep_interval")

	_ = viper.BindEnv("executor.default_timeout")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment
// overrides and defaults, and validates the result.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars and defaults.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or empty in env-vars-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
