// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/muse/internal/plugin/ui"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

var errNoNavigation = oops.In("api").Errorf("no navigation backend is attached")

// Navigation is the permission-checked navigation surface. Every method
// requires the ui permission.
type Navigation struct {
	c *Context
}

// Navigation returns the navigation controls.
func (c *Context) Navigation() Navigation { return Navigation{c: c} }

func (n Navigation) call(op string, fn func(b NavigationBackend) error) error {
	return guardErr(n.c, pluginsdk.PermUI, op, func() error {
		if n.c.deps.Navigation == nil {
			return errNoNavigation
		}
		return fn(n.c.deps.Navigation)
	})
}

// Navigate switches to view.
func (n Navigation) Navigate(ctx context.Context, view string) error {
	return n.call("navigate", func(b NavigationBackend) error { return b.Navigate(ctx, view) })
}

// Back returns to the previous view.
func (n Navigation) Back(ctx context.Context) error {
	return n.call("back", func(b NavigationBackend) error { return b.Back(ctx) })
}

// CurrentView returns the active view id.
func (n Navigation) CurrentView() (string, error) {
	return guard(n.c, pluginsdk.PermUI, "current_view", func() (string, error) {
		if n.c.deps.Navigation == nil {
			return "", errNoNavigation
		}
		return n.c.deps.Navigation.CurrentView(), nil
	})
}

// RegisterView contributes a view rendered by r. The view is hidden while
// the plugin is disabled and removed when it unloads.
func (n Navigation) RegisterView(id string, r ui.Renderer) error {
	return guardErr(n.c, pluginsdk.PermUI, "register_view", func() error {
		return n.c.deps.Views.Register(n.c.id, id, r, n.c.Active)
	})
}

// UnregisterView removes a view the plugin registered.
func (n Navigation) UnregisterView(id string) error {
	return guardErr(n.c, pluginsdk.PermUI, "unregister_view", func() error {
		n.c.deps.Views.Unregister(n.c.id, id)
		return nil
	})
}

// RegisterShortcut binds each chord in keys to action. If any chord fails to
// bind, none of them stay bound.
func (c *Context) RegisterShortcut(keys []string, action ui.Action) error {
	return guardErr(c, pluginsdk.PermUI, "register_shortcut", func() error {
		if len(keys) == 0 {
			return oops.In("api").With("plugin_id", c.id).Errorf("no keys given")
		}
		var bound []string
		for _, k := range keys {
			if _, err := c.deps.Shortcuts.Register(c.id, k, action, c.Active); err != nil {
				for _, b := range bound {
					_ = c.deps.Shortcuts.Unregister(c.id, b)
				}
				return err
			}
			bound = append(bound, k)
		}
		return nil
	})
}

// UnregisterShortcut removes the plugin's bindings for keys.
func (c *Context) UnregisterShortcut(keys []string) error {
	return guardErr(c, pluginsdk.PermUI, "unregister_shortcut", func() error {
		for _, k := range keys {
			if err := c.deps.Shortcuts.Unregister(c.id, k); err != nil {
				return oops.In("api").With("plugin_id", c.id).Wrap(err)
			}
		}
		return nil
	})
}
