// Package settings loads and exposes global switchboard settings.
// Providers read default sandbox/approval/turn-limit policy from here;
// the host can override per request through the Request value.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Default policy values applied when the config file is absent.
const (
	DefaultPermissionMode = "acceptEdits"
	DefaultMaxTurns       = 50
	DefaultBackend        = "claude"
)

// Settings holds global configuration.
type Settings struct {
	// DefaultBackend is the registry fallback backend name.
	DefaultBackend string `mapstructure:"default_backend"`

	// PermissionMode is the sandbox/approval policy forwarded to
	// backends: default, acceptEdits, or bypassPermissions.
	PermissionMode string `mapstructure:"permission_mode"`

	// MaxTurns is the default agent turn cap (0 = backend default).
	MaxTurns int `mapstructure:"max_turns"`

	// LogLevel configures the global logger.
	LogLevel string `mapstructure:"log_level"`

	// Backends holds per-backend overrides keyed by backend name.
	Backends map[string]BackendSettings `mapstructure:"backends"`
}

// BackendSettings overrides one backend's defaults.
type BackendSettings struct {
	// BinaryPath pins the executable, bypassing location probing.
	BinaryPath string `mapstructure:"binary_path"`

	// BridgeDistro selects a WSL distribution on Windows hosts.
	BridgeDistro string `mapstructure:"bridge_distro"`

	// EnvPassthrough adds variables to the backend's env allow-list.
	EnvPassthrough []string `mapstructure:"env_passthrough"`
}

// Backend returns the overrides for name (zero value when unset).
func (s *Settings) Backend(name string) BackendSettings {
	if s == nil || s.Backends == nil {
		return BackendSettings{}
	}
	return s.Backends[strings.ToLower(name)]
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "switchboard", "config.yaml")
}

// Load reads settings from path (or the default location when "")
// plus SWITCHBOARD_* environment overrides. A missing file yields
// defaults, not an error.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetDefault("default_backend", DefaultBackend)
	v.SetDefault("permission_mode", DefaultPermissionMode)
	v.SetDefault("max_turns", DefaultMaxTurns)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("SWITCHBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; a present-but-broken file is not.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &s, nil
}

var (
	globalOnce sync.Once
	global     *Settings
)

// Global returns the process-wide settings, loading them on first use.
// Load failures fall back to defaults; callers needing strict errors
// use Load directly.
func Global() *Settings {
	globalOnce.Do(func() {
		s, err := Load("")
		if err != nil {
			s = &Settings{
				DefaultBackend: DefaultBackend,
				PermissionMode: DefaultPermissionMode,
				MaxTurns:       DefaultMaxTurns,
				LogLevel:       "info",
			}
		}
		global = s
	})
	return global
}
