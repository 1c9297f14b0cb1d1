// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/internal/plugin/script"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Ext is the entry file extension handled by Resolver.
const Ext = "lua"

// Resolver loads Lua entry scripts.
type Resolver struct {
	factory *StateFactory
	logger  *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger used by loaded modules.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a Lua resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{factory: NewStateFactory(), logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ plugins.Resolver = (*Resolver)(nil)

// Extensions implements plugins.Resolver.
func (r *Resolver) Extensions() []string { return []string{Ext} }

// Resolve runs the entry script and checks the table it returns.
func (r *Resolver) Resolve(ctx context.Context, path string, manifest *pluginsdk.Manifest) (plugins.Module, error) {
	errb := oops.In("lua").With("plugin_id", manifest.ID).With("path", path)

	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errb.Code(pluginsdk.CodeModuleLoadError).Hint("failed to read entry file").Wrap(err)
	}

	L, err := r.factory.NewState(ctx)
	if err != nil {
		return nil, errb.Code(pluginsdk.CodeModuleLoadError).Wrap(err)
	}
	fn, err := L.Load(bytes.NewReader(code), filepath.Base(path))
	if err != nil {
		L.Close()
		return nil, errb.Code(pluginsdk.CodeModuleLoadError).Hint("syntax error").Wrap(err)
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		L.Close()
		return nil, errb.Code(pluginsdk.CodeModuleLoadError).Hint("entry script failed").Wrap(err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	L.RemoveContext()

	mod, err := r.module(L, manifest.ID, ret)
	if err != nil {
		L.Close()
		return nil, errb.Code(pluginsdk.CodeInvalidPluginModule).Wrap(err)
	}
	return mod, nil
}

func (r *Resolver) module(L *lua.LState, id string, ret lua.LValue) (*Module, error) {
	exports, ok := ret.(*lua.LTable)
	if !ok {
		return nil, oops.Errorf("entry script must return a table, got %s", ret.Type())
	}

	mt, ok := exports.RawGetString("manifest").(*lua.LTable)
	if !ok {
		return nil, oops.Errorf("module does not export a manifest table")
	}
	manifest, err := script.ManifestFromMap(toMap(mt))
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by Resolve
	}

	hooks := make(map[plugins.Hook]*lua.LFunction)
	for _, hook := range plugins.Hooks() {
		switch v := exports.RawGetString(string(hook)).(type) {
		case *lua.LNilType:
		case *lua.LFunction:
			hooks[hook] = v
		default:
			return nil, oops.With("hook", string(hook)).Errorf("%s must be a function, got %s", hook, v.Type())
		}
	}

	return &Module{
		L:        L,
		id:       id,
		manifest: manifest,
		hooks:    hooks,
		logger:   r.logger.With("plugin_id", id),
	}, nil
}
