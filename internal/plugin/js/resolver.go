// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package js

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dop251/goja"
	"github.com/samber/oops"

	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/internal/plugin/script"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Extensions handled by Resolver.
var extensions = []string{"js", "cjs"}

// Resolver loads JavaScript entry scripts.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a JavaScript resolver. A nil logger uses the default.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

var _ plugins.Resolver = (*Resolver)(nil)

// Extensions implements plugins.Resolver.
func (r *Resolver) Extensions() []string { return append([]string(nil), extensions...) }

// Resolve evaluates the entry script as a CommonJS module and checks what it
// exports.
func (r *Resolver) Resolve(ctx context.Context, path string, manifest *pluginsdk.Manifest) (plugins.Module, error) {
	errb := oops.In("js").With("plugin_id", manifest.ID).With("path", path)

	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errb.Code(pluginsdk.CodeModuleLoadError).Hint("failed to read entry file").Wrap(err)
	}

	logger := r.logger.With("plugin_id", manifest.ID)
	vm := newRuntime(logger)

	// The wrapper opens on the script's first line so error positions match
	// the file.
	wrapped, err := vm.RunScript(filepath.Base(path), "(function(module, exports) {"+string(code)+"\n})")
	if err != nil {
		return nil, errb.Code(pluginsdk.CodeModuleLoadError).Hint("syntax error").Wrap(err)
	}
	fn, ok := goja.AssertFunction(wrapped)
	if !ok {
		return nil, errb.Code(pluginsdk.CodeModuleLoadError).Errorf("entry script did not compile to a function")
	}

	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, errb.Code(pluginsdk.CodeModuleLoadError).Wrap(err)
	}
	stop := interruptOn(ctx, vm)
	_, err = fn(goja.Undefined(), module, exports)
	stop()
	vm.ClearInterrupt()
	if err != nil {
		return nil, errb.Code(pluginsdk.CodeModuleLoadError).Hint("entry script failed").Wrap(err)
	}

	mod, err := r.module(vm, manifest.ID, module.Get("exports"), logger)
	if err != nil {
		return nil, errb.Code(pluginsdk.CodeInvalidPluginModule).Wrap(err)
	}
	return mod, nil
}

func (r *Resolver) module(vm *goja.Runtime, id string, exported goja.Value, logger *slog.Logger) (*Module, error) {
	if absent(exported) {
		return nil, oops.Errorf("module.exports is empty")
	}
	exports, ok := exported.(*goja.Object)
	if !ok {
		return nil, oops.Errorf("module.exports must be an object, got %s", exported.String())
	}

	mm := exportMap(exports.Get("manifest"))
	if mm == nil {
		return nil, oops.Errorf("module does not export a manifest object")
	}
	manifest, err := script.ManifestFromMap(mm)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by Resolve
	}

	hooks := make(map[plugins.Hook]goja.Callable)
	for _, hook := range plugins.Hooks() {
		v := exports.Get(string(hook))
		if absent(v) {
			continue
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return nil, oops.With("hook", string(hook)).Errorf("%s must be a function", hook)
		}
		hooks[hook] = fn
	}

	return &Module{
		vm:       vm,
		exports:  exports,
		id:       id,
		manifest: manifest,
		hooks:    hooks,
		logger:   logger,
	}, nil
}
