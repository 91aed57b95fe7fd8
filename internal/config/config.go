// Package config wraps the viper configuration singleton.
//
// Precedence: project .sailing/config.yaml > ~/.config/sail/config.yaml >
// ~/.sailing/config.yaml, with SAILING_-prefixed environment variables
// overriding everything.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	v    *viper.Viper
	once sync.Once
)

// Initialize sets up the configuration singleton. Safe to call more than
// once; only the first call does work.
func Initialize() error {
	var err error
	once.Do(func() { err = initialize() })
	return err
}

func initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Locate config.yaml explicitly. Walking up from CWD lets commands work
	// from project subdirectories.
	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".sailing", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "sail", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".sailing", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// SAILING_JSON, SAILING_LOCK_TIMEOUT, SAILING_AGENT_WATCHDOG_TIMEOUT, ...
	v.SetEnvPrefix("SAILING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("json", false)
	v.SetDefault("lock-timeout", "5s")
	v.SetDefault("main-branch", "main")

	// Effort map: symbolic estimate -> hours. Missing estimates fall back to
	// effort.default-hours.
	v.SetDefault("effort.default-hours", 4.0)
	v.SetDefault("effort.map", map[string]float64{
		"1h": 1, "2h": 2, "4h": 4, "1d": 8, "2d": 16, "3d": 24, "1w": 40,
	})

	v.SetDefault("watch.debounce", "200ms")
	v.SetDefault("watch.patterns", []string{"*.md", "*.log", "*.run", "*.yaml"})

	v.SetDefault("agent.command", "")
	v.SetDefault("agent.watchdog-timeout", "30m")
	v.SetDefault("agent.watchdog-interval", "15s")
	v.SetDefault("agent.max-budget-usd", 10.0)
	v.SetDefault("agent.grace-period", "10s")
	v.SetDefault("agent.use-worktree", true)
	v.SetDefault("agent.reap-timeout", "2m")
}

func get() *viper.Viper {
	_ = Initialize()
	return v
}

// GetString returns a string setting.
func GetString(key string) string { return get().GetString(key) }

// GetBool returns a boolean setting.
func GetBool(key string) bool { return get().GetBool(key) }

// GetFloat returns a float setting.
func GetFloat(key string) float64 { return get().GetFloat64(key) }

// GetStringSlice returns a list setting.
func GetStringSlice(key string) []string { return get().GetStringSlice(key) }

// GetDuration returns a duration setting.
func GetDuration(key string) time.Duration { return get().GetDuration(key) }

// Set overrides a setting for the current process (flag binding).
func Set(key string, value any) { get().Set(key, value) }

// EffortHours resolves a symbolic effort estimate ("2h", "1d") to hours via
// the configured effort map. Unknown or empty estimates yield the default.
func EffortHours(effort string) float64 {
	m := get().GetStringMap("effort.map")
	if effort != "" {
		if raw, ok := m[strings.ToLower(strings.TrimSpace(effort))]; ok {
			switch n := raw.(type) {
			case float64:
				return n
			case int:
				return float64(n)
			}
		}
	}
	return get().GetFloat64("effort.default-hours")
}

// LockTimeout returns the bound for advisory-lock acquisition.
func LockTimeout() time.Duration { return GetDuration("lock-timeout") }
