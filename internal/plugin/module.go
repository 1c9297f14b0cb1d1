// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugins loads plugin packages from disk and manages their
// lifecycle: load, enable, disable and unload.
package plugins

import (
	"context"

	"github.com/holomush/muse/internal/plugin/api"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Hook names a lifecycle callback a module may export.
type Hook string

// Lifecycle hooks, in the order a plugin normally sees them.
const (
	HookInit    Hook = "init"
	HookEnable  Hook = "enable"
	HookDisable Hook = "disable"
	HookDestroy Hook = "destroy"
)

// Hooks returns every lifecycle hook.
func Hooks() []Hook {
	return []Hook{HookInit, HookEnable, HookDisable, HookDestroy}
}

// Module is a plugin's loaded entry point.
//
// Implementations serialize calls into their interpreter; a Module is safe
// for concurrent use.
type Module interface {
	// Manifest returns the manifest the module exports.
	Manifest() *pluginsdk.Manifest
	// HasHook reports whether the module exports hook.
	HasHook(hook Hook) bool
	// CallHook runs hook with the plugin's context. Calling an absent hook
	// is a no-op.
	CallHook(ctx context.Context, hook Hook, pctx *api.Context) error
	// Close releases the interpreter.
	Close() error
}

// Resolver loads modules written for one runtime.
type Resolver interface {
	// Extensions returns the entry file extensions handled, without the dot.
	Extensions() []string
	// Resolve loads the entry file at path. manifest is the directory
	// manifest, used for log context. Failures carry MODULE_LOAD_ERROR or
	// INVALID_PLUGIN_MODULE.
	Resolve(ctx context.Context, path string, manifest *pluginsdk.Manifest) (Module, error)
}
