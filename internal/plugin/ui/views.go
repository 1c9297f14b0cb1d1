// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package ui

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/oops"
)

// Renderer produces the text content of a plugin view for the given size.
type Renderer interface {
	Render(ctx context.Context, width, height int) (string, error)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(ctx context.Context, width, height int) (string, error)

// Render implements Renderer.
func (f RenderFunc) Render(ctx context.Context, width, height int) (string, error) {
	return f(ctx, width, height)
}

type view struct {
	owner    string
	renderer Renderer
	active   func() bool
}

// Views holds plugin-provided views by id.
//
// Views is safe for concurrent use.
type Views struct {
	logger *slog.Logger

	mu    sync.RWMutex
	views map[string]view
}

// NewViews creates an empty view registry.
func NewViews(logger *slog.Logger) *Views {
	if logger == nil {
		logger = slog.Default()
	}
	return &Views{logger: logger, views: make(map[string]view)}
}

// Register adds a view. View ids are global; registering an id that is
// already taken fails, even for the same owner.
func (v *Views) Register(owner, id string, r Renderer, active func() bool) error {
	if id == "" || r == nil {
		return oops.In("ui").With("plugin_id", owner).With("view", id).Errorf("view id and renderer are required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.views[id]; ok {
		return oops.In("ui").
			With("plugin_id", owner).
			With("view", id).
			With("registered_by", existing.owner).
			Errorf("view %s is already registered", id)
	}
	v.views[id] = view{owner: owner, renderer: r, active: active}
	v.logger.Info("view registered", "plugin_id", owner, "view", id)
	return nil
}

// Unregister removes a view owned by owner. Views held by other owners are
// left alone.
func (v *Views) Unregister(owner, id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.views[id]; ok && existing.owner == owner {
		delete(v.views, id)
		v.logger.Info("view unregistered", "plugin_id", owner, "view", id)
	}
}

// UnregisterOwner removes every view owned by owner.
func (v *Views) UnregisterOwner(owner string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, vw := range v.views {
		if vw.owner == owner {
			delete(v.views, id)
		}
	}
}

// Get returns the renderer registered under id.
func (v *Views) Get(id string) (Renderer, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	vw, ok := v.views[id]
	return vw.renderer, ok
}

// Has reports whether id is registered.
func (v *Views) Has(id string) bool {
	_, ok := v.Get(id)
	return ok
}

// IDs returns the registered view ids, sorted.
func (v *Views) IDs() []string {
	v.mu.RLock()
	ids := make([]string, 0, len(v.views))
	for id := range v.views {
		ids = append(ids, id)
	}
	v.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Clear removes all views.
func (v *Views) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.views)
	v.logger.Info("views cleared")
}

// Render renders the view registered under id. Views of disabled plugins
// are not rendered.
func (v *Views) Render(ctx context.Context, id string, width, height int) (out string, err error) {
	v.mu.RLock()
	vw, ok := v.views[id]
	v.mu.RUnlock()
	if !ok {
		return "", oops.In("ui").With("view", id).Errorf("view %s is not registered", id)
	}
	if vw.active != nil && !vw.active() {
		return "", oops.In("ui").With("view", id).With("plugin_id", vw.owner).Errorf("view %s belongs to a disabled plugin", id)
	}
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("ui").With("view", id).With("plugin_id", vw.owner).Errorf("view render panicked: %v", r)
		}
	}()
	out, err = vw.renderer.Render(ctx, width, height)
	if err != nil {
		return "", oops.In("ui").With("view", id).With("plugin_id", vw.owner).Wrap(err)
	}
	return out, nil
}
