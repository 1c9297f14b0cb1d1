// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/internal/plugin/api"
	"github.com/holomush/muse/internal/plugin/script"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Module is a loaded Lua plugin. Every call into its state goes through the
// module's gate, so the state only ever runs one call at a time.
type Module struct {
	gate     script.Gate
	L        *lua.LState
	id       string
	manifest *pluginsdk.Manifest
	hooks    map[plugins.Hook]*lua.LFunction
	logger   *slog.Logger

	// Guarded by gate.
	bound    *api.Context
	ctxTable *lua.LTable
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
		return oops.In("lua").With("plugin_id", m.id).With("hook", string(hook)).Wrap(err)
	}
	defer release()

	var arg lua.LValue = lua.LNil
	if pctx != nil {
		arg = m.contextTable(pctx)
	}
	if _, err := m.call(ctx, fn, 0, arg); err != nil {
		return oops.In("lua").With("plugin_id", m.id).With("hook", string(hook)).Wrap(err)
	}
	return nil
}

// Close implements plugins.Module. It does not wait for a running call:
// the state is closed once that call returns.
func (m *Module) Close() error {
	m.gate.Close(func() {
		m.bound, m.ctxTable = nil, nil
		m.L.Close()
		m.logger.Debug("lua module closed")
	})
	return nil
}

// contextTable returns the ctx table for pctx, building it on first use.
// Must be called with the gate held.
func (m *Module) contextTable(pctx *api.Context) *lua.LTable {
	if m.bound != pctx || m.ctxTable == nil {
		m.bound = pctx
		m.ctxTable = newBindings(m, pctx).table()
	}
	return m.ctxTable
}

// call runs fn on the state bound to ctx and returns nret results. Must be
// called with the gate held.
func (m *Module) call(ctx context.Context, fn *lua.LFunction, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	prev := m.L.Context()
	m.L.SetContext(ctx)
	defer func() {
		if prev != nil {
			m.L.SetContext(prev)
		} else {
			m.L.RemoveContext()
		}
	}()

	top := m.L.GetTop()
	if err := m.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		m.L.SetTop(top)
		return nil, err //nolint:wrapcheck // callers add plugin context
	}
	out := make([]lua.LValue, nret)
	for i := range out {
		out[i] = m.L.Get(top + 1 + i)
	}
	m.L.SetTop(top)
	return out, nil
}

// invoke runs a Lua callback on behalf of the host. Callbacks invoked
// synchronously from the plugin's own call re-enter the gate; detached ones
// wait for it. Arguments are plain Go data; results are converted back.
func (m *Module) invoke(ctx context.Context, detached bool, fn *lua.LFunction, nret int, args ...any) ([]any, error) {
	enter := m.gate.Enter
	if detached {
		enter = m.gate.EnterDetached
	}
	return m.invokeGated(ctx, enter, fn, nret, args...)
}

// invokeWithin is invoke for callbacks run from another plugin's call, such
// as audio transformers. A gate held elsewhere for longer than wait fails
// the callback instead of blocking the caller.
func (m *Module) invokeWithin(ctx context.Context, wait time.Duration, fn *lua.LFunction, nret int, args ...any) ([]any, error) {
	enter := func(ctx context.Context) (context.Context, func(), error) {
		return m.gate.EnterWithin(ctx, wait)
	}
	return m.invokeGated(ctx, enter, fn, nret, args...)
}

func (m *Module) invokeGated(
	ctx context.Context,
	enter func(context.Context) (context.Context, func(), error),
	fn *lua.LFunction,
	nret int,
	args ...any,
) ([]any, error) {
	ctx, release, err := enter(ctx)
	if err != nil {
		return nil, oops.In("lua").With("plugin_id", m.id).Wrap(err)
	}
	defer release()

	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = toLua(m.L, a)
	}
	rets, err := m.call(ctx, fn, nret, largs...)
	if err != nil {
		return nil, oops.In("lua").With("plugin_id", m.id).Wrap(err)
	}
	out := make([]any, len(rets))
	for i, r := range rets {
		out[i] = toGo(r)
	}
	return out, nil
}
