// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/afero"

	"github.com/holomush/muse/internal/plugin/event"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// ErrClosed is returned by capability calls on a closed context.
var ErrClosed = errors.New("plugin context is closed")

// Context is the API surface of one loaded plugin. It is created once per
// load and reused for every lifecycle hook.
//
// Context is safe for concurrent use.
type Context struct {
	manifest *pluginsdk.Manifest
	id       string
	deps     *Deps
	logger   *slog.Logger
	dataDir  string
	files    afero.Fs
	schema   *jsonschema.Schema

	active atomic.Bool
	closed atomic.Bool

	mu       sync.Mutex
	handlers map[handlerKey]*pluginHandler
}

type handlerKey struct {
	typ pluginsdk.EventType
	h   event.Handler
}

// PluginID returns the id of the plugin the context is bound to.
func (c *Context) PluginID() string { return c.id }

// Manifest returns the plugin's manifest.
func (c *Context) Manifest() *pluginsdk.Manifest { return c.manifest }

// Logger returns the plugin's logger. Logging needs no permission.
func (c *Context) Logger() *slog.Logger { return c.logger }

// SetActive mutes or unmutes the plugin's handlers, transformers, shortcuts
// and views. The registry flips it on enable and disable.
func (c *Context) SetActive(active bool) { c.active.Store(active) }

// Active reports whether the plugin is enabled.
func (c *Context) Active() bool { return c.active.Load() && !c.closed.Load() }

// HasPermission reports whether perm is currently granted.
func (c *Context) HasPermission(perm pluginsdk.Permission) bool {
	return c.deps.Permissions.Has(c.id, perm)
}

// RequestPermission asks for perm, prompting the user if undecided.
func (c *Context) RequestPermission(ctx context.Context, perm pluginsdk.Permission) bool {
	return c.deps.Permissions.Request(ctx, c.id, perm)
}

// check fails unless the plugin currently holds perm.
func (c *Context) check(perm pluginsdk.Permission, op string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.deps.Permissions.Has(c.id, perm) {
		return oops.Code(pluginsdk.CodeInsufficientPermission).
			In("api").
			With("plugin_id", c.id).
			With("permission", string(perm)).
			With("operation", op).
			Errorf("plugin %s does not have %s permission", c.id, perm)
	}
	return nil
}

// guard runs fn only if the plugin holds perm. Every permission-gated
// capability goes through guard or guardErr.
func guard[T any](c *Context, perm pluginsdk.Permission, op string, fn func() (T, error)) (T, error) {
	if err := c.check(perm, op); err != nil {
		var zero T
		return zero, err
	}
	return fn()
}

func guardErr(c *Context, perm pluginsdk.Permission, op string, fn func() error) error {
	_, err := guard(c, perm, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// PermissionFor returns the permission that gates subscribing to typ.
func PermissionFor(typ pluginsdk.EventType) (pluginsdk.Permission, bool) {
	kind, ok := typ.Kind()
	if !ok {
		return "", false
	}
	switch kind {
	case pluginsdk.KindNavigation:
		return pluginsdk.PermUI, true
	default:
		return pluginsdk.PermPlayer, true
	}
}

// On subscribes h to typ. Subscribing requires the permission that governs
// the event's family. Subscribing the same handler twice is a no-op. The
// handler only runs while the plugin is enabled and still holds the
// permission.
func (c *Context) On(typ pluginsdk.EventType, h event.Handler) error {
	perm, ok := PermissionFor(typ)
	if !ok {
		return oops.In("api").With("plugin_id", c.id).With("event_type", string(typ)).
			Errorf("unknown event type %q", typ)
	}
	if h == nil || !reflect.TypeOf(h).Comparable() {
		return oops.In("api").With("plugin_id", c.id).With("event_type", string(typ)).
			Errorf("handler must be a non-nil comparable value")
	}
	return guardErr(c, perm, "on", func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		key := handlerKey{typ: typ, h: h}
		if _, ok := c.handlers[key]; ok {
			return nil
		}
		ph := &pluginHandler{ctx: c, perm: perm, inner: h}
		if err := c.deps.Bus.On(typ, ph); err != nil {
			return oops.In("api").With("plugin_id", c.id).Wrap(err)
		}
		c.handlers[key] = ph
		return nil
	})
}

// Off unsubscribes h from typ. It needs no permission so a plugin can always
// release what it registered.
func (c *Context) Off(typ pluginsdk.EventType, h event.Handler) {
	if h == nil || !reflect.TypeOf(h).Comparable() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := handlerKey{typ: typ, h: h}
	if ph, ok := c.handlers[key]; ok {
		c.deps.Bus.Off(typ, ph)
		delete(c.handlers, key)
	}
}

// HandlerCount returns the number of handlers the plugin has subscribed.
func (c *Context) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Emit publishes ev on the shared bus without waiting for handlers. Raw
// emission needs no permission.
func (c *Context) Emit(ctx context.Context, ev pluginsdk.Event) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.deps.Bus.EmitAsync(ctx, ev); err != nil {
		return oops.In("api").With("plugin_id", c.id).Wrap(err)
	}
	return nil
}

// Close releases everything the plugin registered through this context.
// Capability calls fail afterwards. Close is idempotent.
func (c *Context) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.mu.Lock()
	for key, ph := range c.handlers {
		c.deps.Bus.Off(key.typ, ph)
	}
	clear(c.handlers)
	c.mu.Unlock()

	c.deps.Audio.UnregisterOwner(c.id)
	c.deps.Shortcuts.UnregisterOwner(c.id)
	c.deps.Views.UnregisterOwner(c.id)
	c.logger.Debug("plugin context closed")
}

// pluginHandler is the bus-side wrapper of a plugin's handler.
type pluginHandler struct {
	ctx   *Context
	perm  pluginsdk.Permission
	inner event.Handler
}

// Owner implements event.Owned.
func (h *pluginHandler) Owner() string { return h.ctx.id }

// Handle implements event.Handler.
func (h *pluginHandler) Handle(ctx context.Context, ev pluginsdk.Event) error {
	if !h.ctx.Active() || !h.ctx.HasPermission(h.perm) {
		return nil
	}
	return h.inner.Handle(ctx, ev)
}
