// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package js runs plugins written in JavaScript on goja.
//
// The entry script is evaluated as a CommonJS module and must export an
// object:
//
//	module.exports = {
//	  manifest: { id: "stream-proxy", name: "Stream Proxy", version: "1.0.0" },
//	  init(ctx) {},
//	  enable(ctx) {},
//	  disable(ctx) {},
//	  destroy(ctx) {},
//	};
//
// Hooks receive a ctx object exposing the plugin context. Failing
// capability calls throw, so scripts may catch them with try/catch. There is
// no require and no event loop; a hook returning a rejected promise fails.
package js

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"
)

// maxCallStackSize bounds recursion in plugin code.
const maxCallStackSize = 1024

// blockedGlobals compile code from strings at run time.
var blockedGlobals = []string{"eval", "Function"}

// newRuntime creates a goja runtime with the sandbox applied and a console
// object that writes to logger.
func newRuntime(logger *slog.Logger) *goja.Runtime {
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)
	for _, name := range blockedGlobals {
		_ = vm.Set(name, goja.Undefined())
	}

	console := vm.NewObject()
	for name, level := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			logger.Log(context.Background(), level, strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	_ = vm.Set("console", console)
	return vm
}

// interruptOn interrupts vm when ctx ends. The returned function stops
// watching and waits for an interrupt already in flight.
func interruptOn(ctx context.Context, vm *goja.Runtime) (stop func()) {
	fired := make(chan struct{})
	cancel := context.AfterFunc(ctx, func() {
		vm.Interrupt(fmt.Sprintf("interrupted: %v", ctx.Err()))
		close(fired)
	})
	return func() {
		if !cancel() {
			<-fired
		}
	}
}

// absent reports whether v is missing, undefined or null.
func absent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// exportMap exports an object as a map. Anything else yields nil.
func exportMap(v goja.Value) map[string]any {
	if absent(v) {
		return nil
	}
	m, _ := v.Export().(map[string]any)
	return m
}
