// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugintest provides in-memory plugin modules and on-disk plugin
// fixtures for tests.
package plugintest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/require"

	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/internal/plugin/api"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Ext is the entry file extension served by Resolver.
const Ext = "fake"

// HookFunc implements one lifecycle hook of a Module.
type HookFunc func(ctx context.Context, pctx *api.Context) error

// Module is a scriptable in-memory plugins.Module.
type Module struct {
	mu       sync.Mutex
	manifest *pluginsdk.Manifest
	hooks    map[plugins.Hook]HookFunc
	calls    []plugins.Hook
	closed   bool
}

// NewModule creates a module exporting manifest and no hooks.
func NewModule(manifest *pluginsdk.Manifest) *Module {
	return &Module{manifest: manifest, hooks: make(map[plugins.Hook]HookFunc)}
}

// On installs fn as hook and returns m for chaining.
func (m *Module) On(hook plugins.Hook, fn HookFunc) *Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[hook] = fn
	return m
}

// Manifest implements plugins.Module.
func (m *Module) Manifest() *pluginsdk.Manifest { return m.manifest }

// HasHook implements plugins.Module.
func (m *Module) HasHook(hook plugins.Hook) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.hooks[hook]
	return ok
}

// CallHook implements plugins.Module.
func (m *Module) CallHook(ctx context.Context, hook plugins.Hook, pctx *api.Context) error {
	m.mu.Lock()
	fn, ok := m.hooks[hook]
	m.calls = append(m.calls, hook)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return fn(ctx, pctx)
}

// Close implements plugins.Module.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns the hooks called so far, in order.
func (m *Module) Calls() []plugins.Hook {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]plugins.Hook(nil), m.calls...)
}

// Closed reports whether Close was called.
func (m *Module) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Resolver serves Modules by plugin id for ".fake" entry files. The first
// load of an id gets the added module; later loads get fresh copies with the
// same hooks.
type Resolver struct {
	mu        sync.Mutex
	templates map[string]*Module
	served    map[string][]*Module
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		templates: make(map[string]*Module),
		served:    make(map[string][]*Module),
	}
}

// Add serves mod for its manifest id.
func (r *Resolver) Add(mod *Module) *Module {
	return r.Serve(mod.manifest.ID, mod)
}

// Serve serves mod for plugin id regardless of the manifest mod exports.
func (r *Resolver) Serve(id string, mod *Module) *Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[id] = mod
	return mod
}

// Served returns the modules handed out for id, oldest first.
func (r *Resolver) Served(id string) []*Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Module(nil), r.served[id]...)
}

// Extensions implements plugins.Resolver.
func (r *Resolver) Extensions() []string { return []string{Ext} }

// Resolve implements plugins.Resolver.
func (r *Resolver) Resolve(_ context.Context, path string, manifest *pluginsdk.Manifest) (plugins.Module, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, oops.Code(pluginsdk.CodeModuleLoadError).With("path", path).Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tmpl, ok := r.templates[manifest.ID]
	if !ok {
		return nil, oops.Code(pluginsdk.CodeModuleLoadError).
			With("plugin_id", manifest.ID).
			Errorf("no module for %s", manifest.ID)
	}
	mod := tmpl
	if len(r.served[manifest.ID]) > 0 {
		mod = NewModule(tmpl.manifest)
		tmpl.mu.Lock()
		for h, fn := range tmpl.hooks {
			mod.hooks[h] = fn
		}
		tmpl.mu.Unlock()
	}
	r.served[manifest.ID] = append(r.served[manifest.ID], mod)
	return mod, nil
}

// Manifest returns a valid manifest for id served by Resolver.
func Manifest(id string, perms ...pluginsdk.Permission) *pluginsdk.Manifest {
	return &pluginsdk.Manifest{
		ID:          id,
		Name:        id,
		Version:     "1.0.0",
		Description: "Test plugin " + id,
		Author:      "muse",
		Main:        "main." + Ext,
		Permissions: append([]pluginsdk.Permission{}, perms...),
	}
}

// WritePlugin writes manifest and an empty entry file under root/<id> and
// returns the plugin directory.
func WritePlugin(t testing.TB, root string, manifest *pluginsdk.Manifest) string {
	t.Helper()
	dir := filepath.Join(root, manifest.ID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.MarshalIndent(manifest, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, pluginsdk.ManifestFile), data, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.Main), nil, 0o600))
	return dir
}
