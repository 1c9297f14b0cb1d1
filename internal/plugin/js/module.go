// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package js

import (
	"context"
	"log/slog"
	"time"

	"github.com/dop251/goja"
	"github.com/samber/oops"

	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/internal/plugin/api"
	"github.com/holomush/muse/internal/plugin/script"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Module is a loaded JavaScript plugin. A goja runtime is not safe for
// concurrent use, so every call goes through the module's gate.
type Module struct {
	gate     script.Gate
	vm       *goja.Runtime
	exports  *goja.Object
	id       string
	manifest *pluginsdk.Manifest
	hooks    map[plugins.Hook]goja.Callable
	logger   *slog.Logger

	// Guarded by gate.
	depth  int
	ctx    context.Context
	bound  *api.Context
	ctxObj *goja.Object
}

var _ plugins.Module = (*Module)(nil)

// Manifest implements plugins.Module.
func (m *Module) Manifest() *pluginsdk.Manifest { return m.manifest }

// HasHook implements plugins.Module.
func (m *Module) HasHook(hook plugins.Hook) bool {
	_, ok := m.hooks[hook]
	return ok
}

// CallHook implements plugins.Module.
func (m *Module) CallHook(ctx context.Context, hook plugins.Hook, pctx *api.Context) error {
	fn, ok := m.hooks[hook]
	if !ok {
		return nil
	}
	ctx, release, err := m.gate.Enter(ctx)
	if err != nil {
		return oops.In("js").With("plugin_id", m.id).With("hook", string(hook)).Wrap(err)
	}
	defer release()

	arg := goja.Undefined()
	if pctx != nil {
		arg = m.contextObject(pctx)
	}
	if _, err := m.call(ctx, fn, arg); err != nil {
		return oops.In("js").With("plugin_id", m.id).With("hook", string(hook)).Wrap(err)
	}
	return nil
}

// Close implements plugins.Module. It does not wait for a running call:
// the runtime is dropped once that call returns.
func (m *Module) Close() error {
	m.gate.Close(func() {
		m.bound, m.ctxObj = nil, nil
		m.logger.Debug("js module closed")
	})
	return nil
}

// contextObject returns the ctx object for pctx, building it on first use.
// Must be called with the gate held.
func (m *Module) contextObject(pctx *api.Context) *goja.Object {
	if m.bound != pctx || m.ctxObj == nil {
		m.bound = pctx
		m.ctxObj = newBindings(m, pctx).object()
	}
	return m.ctxObj
}

// context returns the context of the call in progress. Must be called with
// the gate held.
func (m *Module) context() context.Context {
	if m.ctx != nil {
		return m.ctx
	}
	return context.Background()
}

// call runs fn with ctx bound. Must be called with the gate held.
func (m *Module) call(ctx context.Context, fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	prev := m.ctx
	m.ctx = ctx
	m.depth++
	stop := interruptOn(ctx, m.vm)
	defer func() {
		stop()
		m.depth--
		m.ctx = prev
		if m.depth == 0 {
			m.vm.ClearInterrupt()
		}
	}()

	v, err := fn(m.exports, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers add plugin context
	}
	if absent(v) {
		return v, nil
	}
	if p, ok := v.Export().(*goja.Promise); ok && p.State() == goja.PromiseStateRejected {
		return nil, oops.Errorf("promise rejected: %v", p.Result())
	}
	return v, nil
}

// invoke runs a JavaScript callback on behalf of the host. Callbacks invoked
// synchronously from the plugin's own call re-enter the gate; detached ones
// wait for it.
func (m *Module) invoke(ctx context.Context, detached bool, fn goja.Callable, args ...any) (goja.Value, error) {
	enter := m.gate.Enter
	if detached {
		enter = m.gate.EnterDetached
	}
	return m.invokeGated(ctx, enter, fn, args...)
}

// invokeWithin is invoke for callbacks run from another plugin's call, such
// as audio transformers. A gate held elsewhere for longer than wait fails
// the callback instead of blocking the caller.
func (m *Module) invokeWithin(ctx context.Context, wait time.Duration, fn goja.Callable, args ...any) (goja.Value, error) {
	enter := func(ctx context.Context) (context.Context, func(), error) {
		return m.gate.EnterWithin(ctx, wait)
	}
	return m.invokeGated(ctx, enter, fn, args...)
}

func (m *Module) invokeGated(
	ctx context.Context,
	enter func(context.Context) (context.Context, func(), error),
	fn goja.Callable,
	args ...any,
) (goja.Value, error) {
	ctx, release, err := enter(ctx)
	if err != nil {
		return nil, oops.In("js").With("plugin_id", m.id).Wrap(err)
	}
	defer release()

	jargs := make([]goja.Value, len(args))
	for i, a := range args {
		jargs[i] = m.vm.ToValue(a)
	}
	v, err := m.call(ctx, fn, jargs...)
	if err != nil {
		return nil, oops.In("js").With("plugin_id", m.id).Wrap(err)
	}
	return v, nil
}

// exportString returns the string a callback produced. Anything else
// yields "".
func exportString(v goja.Value, err error) (string, error) {
	if err != nil || absent(v) {
		return "", err
	}
	s, _ := v.Export().(string)
	return s, nil
}
