// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config holds the player's YAML configuration: runtime settings,
// per-plugin enabled state and the config namespace of each plugin.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"

	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// FileName is the config file name inside the config directory.
const FileName = "config.yaml"

const (
	statesKey  = "pluginStates"
	pluginsKey = "plugins"
	delim      = "."
)

// Store is the application config backed by a YAML file. Every write is saved
// before the call returns.
//
// Store is safe for concurrent use.
type Store struct {
	path string
	mu   sync.Mutex
	k    *koanf.Koanf
}

// Open loads the config file at path. A missing file yields an empty config.
func Open(path string) (*Store, error) {
	k := koanf.New(delim)
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").With("path", path).Hint("invalid YAML").Wrap(err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.In("config").With("path", path).Wrap(err)
	}
	return &Store{path: path, k: k}, nil
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// Koanf exposes the underlying config for read-only lookups such as Settings.
func (s *Store) Koanf() *koanf.Koanf {
	return s.k
}

// Get returns the value at key, or nil.
func (s *Store) Get(key string) any {
	return s.k.Get(key)
}

// Set replaces the value at key and saves.
func (s *Store) Set(key string, val any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.k.Delete(key)
	if err := s.k.Set(key, val); err != nil {
		return oops.In("config").With("key", key).Wrap(err)
	}
	return s.save()
}

// Delete removes key and saves.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.k.Exists(key) {
		return nil
	}
	s.k.Delete(key)
	return s.save()
}

// PluginEnabled returns the persisted enabled flag for a plugin.
func (s *Store) PluginEnabled(id string) bool {
	return s.k.Bool(stateKey(id))
}

// SetPluginEnabled persists the enabled flag for a plugin.
func (s *Store) SetPluginEnabled(id string, enabled bool) error {
	return s.Set(stateKey(id), enabled)
}

// ForgetPlugin drops the plugin's enabled state and config namespace.
func (s *Store) ForgetPlugin(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.k.Delete(statesKey + delim + id)
	s.k.Delete(pluginsKey + delim + id)
	return s.save()
}

// EnabledPlugins returns the ids persisted as enabled, sorted.
func (s *Store) EnabledPlugins() []string {
	var ids []string
	for _, id := range s.k.MapKeys(statesKey) {
		if s.PluginEnabled(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Plugin returns the config namespace of one plugin.
func (s *Store) Plugin(id string) *PluginConfig {
	return &PluginConfig{store: s, prefix: pluginsKey + delim + id}
}

func stateKey(id string) string {
	return statesKey + delim + id + delim + "enabled"
}

// save must be called with s.mu held.
func (s *Store) save() error {
	data, err := s.k.Marshal(yaml.Parser())
	if err != nil {
		return oops.In("config").With("path", s.path).Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return oops.In("config").With("path", s.path).Wrap(err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return oops.In("config").With("path", s.path).Wrap(err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return oops.In("config").With("path", s.path).Wrap(err)
	}
	return nil
}

// PluginConfig is a view of the config confined to plugins.<id>.
type PluginConfig struct {
	store  *Store
	prefix string
}

// ValidateKey rejects keys that are empty or contain empty segments.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return oops.Code(pluginsdk.CodeInvalidConfig).Errorf("config key is empty")
	}
	for _, seg := range strings.Split(key, delim) {
		if strings.TrimSpace(seg) == "" {
			return oops.Code(pluginsdk.CodeInvalidConfig).
				With("key", key).
				Errorf("config key %q has an empty segment", key)
		}
	}
	return nil
}

// Get returns the value at key within the namespace, or nil.
func (c *PluginConfig) Get(key string) (any, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return c.store.Get(c.prefix + delim + key), nil
}

// Set stores val at key within the namespace.
func (c *PluginConfig) Set(key string, val any) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return c.store.Set(c.prefix+delim+key, val)
}

// Delete removes key from the namespace.
func (c *PluginConfig) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return c.store.Delete(c.prefix + delim + key)
}

// All returns the namespace as a nested map.
func (c *PluginConfig) All() map[string]any {
	return c.store.k.Cut(c.prefix).Raw()
}

// With returns the namespace as it would look after setting key to val,
// without saving. Used to validate a write before committing it.
func (c *PluginConfig) With(key string, val any) (map[string]any, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	k := c.store.k.Cut(c.prefix)
	k.Delete(key)
	if err := k.Set(key, val); err != nil {
		return nil, fmt.Errorf("apply %s: %w", key, err)
	}
	return k.Raw(), nil
}
