// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins

import (
	"sync"
	"time"

	"github.com/holomush/muse/internal/plugin/api"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Instance is one loaded plugin. Only the Registry mutates it; everyone else
// sees Info snapshots.
type Instance struct {
	manifest *pluginsdk.Manifest
	module   Module
	dir      string
	loadedAt time.Time

	mu      sync.RWMutex
	enabled bool
	ctx     *api.Context
}

func newInstance(m *pluginsdk.Manifest, mod Module, dir string) *Instance {
	return &Instance{
		manifest: m,
		module:   mod,
		dir:      dir,
		loadedAt: time.Now(),
	}
}

// Manifest returns the plugin.json manifest.
func (i *Instance) Manifest() *pluginsdk.Manifest { return i.manifest }

// Module returns the loaded entry module.
func (i *Instance) Module() Module { return i.module }

// Dir returns the plugin directory.
func (i *Instance) Dir() string { return i.dir }

// Enabled reports whether the plugin is enabled.
func (i *Instance) Enabled() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.enabled
}

// Context returns the plugin's context, or nil before the registry attaches one.
func (i *Instance) Context() *api.Context {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.ctx
}

func (i *Instance) setContext(c *api.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ctx = c
}

func (i *Instance) setEnabled(enabled bool) {
	i.mu.Lock()
	i.enabled = enabled
	c := i.ctx
	i.mu.Unlock()
	if c != nil {
		c.SetActive(enabled)
	}
}

// Info is a read-only snapshot of a loaded plugin.
type Info struct {
	ID          string
	Name        string
	Version     string
	Description string
	Author      string
	Runtime     string
	Permissions []pluginsdk.Permission
	Dir         string
	Enabled     bool
	LoadedAt    time.Time
	Config      map[string]any
}

func (i *Instance) info() Info {
	m := i.manifest
	return Info{
		ID:          m.ID,
		Name:        m.DisplayName(),
		Version:     m.Version,
		Description: m.Description,
		Author:      m.Author,
		Runtime:     m.Runtime(),
		Permissions: append([]pluginsdk.Permission(nil), m.Permissions...),
		Dir:         i.dir,
		Enabled:     i.Enabled(),
		LoadedAt:    i.loadedAt,
	}
}
