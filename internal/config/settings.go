// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// runtimeKey is the config section holding Settings.
const runtimeKey = "runtime"

// Settings configures the plugin host process.
type Settings struct {
	PluginsDir     string        `koanf:"plugins_dir"`
	LogLevel       string        `koanf:"log_level"`
	LogFormat      string        `koanf:"log_format"`
	HookTimeout    time.Duration `koanf:"hook_timeout"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`
	MetricsAddr    string        `koanf:"metrics_addr"`
}

// DefaultSettings returns the settings used when nothing overrides them.
func DefaultSettings(configDir string) Settings {
	return Settings{
		PluginsDir:     filepath.Join(configDir, "plugins"),
		LogLevel:       "info",
		LogFormat:      "text",
		HookTimeout:    10 * time.Second,
		HandlerTimeout: 5 * time.Second,
		MetricsAddr:    "",
	}
}

// Validate checks settings constraints.
func (s Settings) Validate() error {
	if s.PluginsDir == "" {
		return oops.In("config").Errorf("plugins_dir is required")
	}
	if s.LogFormat != "json" && s.LogFormat != "text" {
		return oops.In("config").With("log_format", s.LogFormat).Errorf("log_format must be json or text")
	}
	if s.HookTimeout < 0 || s.HandlerTimeout < 0 {
		return oops.In("config").Errorf("timeouts must not be negative")
	}
	return nil
}

// RegisterFlags adds the settings flags to fs.
func RegisterFlags(fs *pflag.FlagSet, defaults Settings) {
	fs.String("plugins-dir", defaults.PluginsDir, "directory containing installed plugins")
	fs.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	fs.String("log-format", defaults.LogFormat, "log format (json or text)")
	fs.Duration("hook-timeout", defaults.HookTimeout, "maximum duration of a plugin lifecycle hook (0 disables)")
	fs.Duration("handler-timeout", defaults.HandlerTimeout, "maximum duration of one event handler")
	fs.String("metrics-addr", defaults.MetricsAddr, "address for metrics and health endpoints (empty disables)")
}

var flagKeys = map[string]string{
	"plugins-dir":     "plugins_dir",
	"log-level":       "log_level",
	"log-format":      "log_format",
	"hook-timeout":    "hook_timeout",
	"handler-timeout": "handler_timeout",
	"metrics-addr":    "metrics_addr",
}

// LoadSettings merges defaults, the runtime section of the config file and
// any flags the user changed, in that order of precedence (last wins).
func LoadSettings(store *Store, fs *pflag.FlagSet, defaults Settings) (Settings, error) {
	k := koanf.New(delim)
	if err := k.Load(confmap(defaults), nil); err != nil {
		return Settings{}, oops.In("config").Wrap(err)
	}
	if store != nil {
		if err := k.MergeAt(store.Koanf().Cut(runtimeKey), runtimeKey); err != nil {
			return Settings{}, oops.In("config").Wrap(err)
		}
	}
	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, delim, k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return runtimeKey + delim + key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Settings{}, oops.In("config").Wrap(err)
		}
	}

	var out Settings
	if err := k.Unmarshal(runtimeKey, &out); err != nil {
		return Settings{}, oops.In("config").Wrap(err)
	}
	out.Normalize()
	if err := out.Validate(); err != nil {
		return Settings{}, err
	}
	return out, nil
}

// confmap adapts a Settings value to a koanf provider.
type confmap Settings

func (c confmap) Read() (map[string]any, error) {
	return map[string]any{runtimeKey: map[string]any{
		"plugins_dir":     c.PluginsDir,
		"log_level":       c.LogLevel,
		"log_format":      c.LogFormat,
		"hook_timeout":    c.HookTimeout.String(),
		"handler_timeout": c.HandlerTimeout.String(),
		"metrics_addr":    c.MetricsAddr,
	}}, nil
}

func (c confmap) ReadBytes() ([]byte, error) {
	return nil, oops.Errorf("confmap does not support ReadBytes")
}

// Normalize lowercases enum-like settings.
func (s *Settings) Normalize() {
	s.LogLevel = strings.ToLower(s.LogLevel)
	s.LogFormat = strings.ToLower(s.LogFormat)
}
