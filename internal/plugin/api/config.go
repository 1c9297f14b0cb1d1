// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"github.com/samber/oops"

	"github.com/holomush/muse/internal/config"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

var errNoConfig = oops.In("api").Errorf("no config store is attached")

// Config is the plugin's own configuration namespace. Keys are relative to
// plugins.<id> and cannot reach other plugins' or the app's settings. Every
// method requires the config permission.
type Config struct {
	c *Context
}

// Config returns the plugin's config namespace.
func (c *Context) Config() Config { return Config{c: c} }

func (cf Config) namespace() (*config.PluginConfig, error) {
	if cf.c.deps.Config == nil {
		return nil, errNoConfig
	}
	return cf.c.deps.Config.Plugin(cf.c.id), nil
}

// Get returns the value at key, or def when unset.
func (cf Config) Get(key string, def any) (any, error) {
	return guard(cf.c, pluginsdk.PermConfig, "config_get", func() (any, error) {
		ns, err := cf.namespace()
		if err != nil {
			return nil, err
		}
		v, err := ns.Get(key)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return def, nil
		}
		return v, nil
	})
}

// Set stores val at key. When the manifest declares a configSchema, the
// resulting namespace must validate against it.
func (cf Config) Set(key string, val any) error {
	return guardErr(cf.c, pluginsdk.PermConfig, "config_set", func() error {
		ns, err := cf.namespace()
		if err != nil {
			return err
		}
		if cf.c.schema != nil {
			preview, err := ns.With(key, val)
			if err != nil {
				return oops.Code(pluginsdk.CodeInvalidConfig).In("api").With("plugin_id", cf.c.id).Wrap(err)
			}
			if err := cf.c.schema.Validate(preview); err != nil {
				return oops.Code(pluginsdk.CodeInvalidConfig).
					In("api").
					With("plugin_id", cf.c.id).
					With("key", key).
					Hint("value does not match the plugin's configSchema").
					Wrap(err)
			}
		}
		return ns.Set(key, val)
	})
}

// Delete removes key.
func (cf Config) Delete(key string) error {
	return guardErr(cf.c, pluginsdk.PermConfig, "config_delete", func() error {
		ns, err := cf.namespace()
		if err != nil {
			return err
		}
		return ns.Delete(key)
	})
}

// All returns the whole namespace as a nested map.
func (cf Config) All() (map[string]any, error) {
	return guard(cf.c, pluginsdk.PermConfig, "config_all", func() (map[string]any, error) {
		ns, err := cf.namespace()
		if err != nil {
			return nil, err
		}
		return ns.All(), nil
	})
}
