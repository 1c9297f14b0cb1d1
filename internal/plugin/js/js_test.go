// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package js_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/internal/plugin/js"
	"github.com/holomush/muse/internal/plugin/plugintest"
	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

func manifest(id string, perms ...pluginsdk.Permission) *pluginsdk.Manifest {
	m := plugintest.Manifest(id, perms...)
	m.Main = "index.js"
	return m
}

func resolve(t *testing.T, h *plugintest.Host, m *pluginsdk.Manifest, source string) plugins.Module {
	t.Helper()
	path := h.WriteScript(t, m, source)
	mod, err := js.NewResolver(nil).Resolve(context.Background(), path, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mod.Close() })
	return mod
}

func TestResolver_Extensions(t *testing.T) {
	assert.ElementsMatch(t, []string{"js", "cjs"}, js.NewResolver(nil).Extensions())
}

func TestResolver_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		code   string
	}{
		{"syntax error", `module.exports = {`, pluginsdk.CodeModuleLoadError},
		{"throws", `throw new Error("boom")`, pluginsdk.CodeModuleLoadError},
		{"no require", `const fs = require("fs")`, pluginsdk.CodeModuleLoadError},
		{"no eval", `eval("1")`, pluginsdk.CodeModuleLoadError},
		{"exports a number", `module.exports = 42`, pluginsdk.CodeInvalidPluginModule},
		{"no manifest", `exports.init = function() {}`, pluginsdk.CodeInvalidPluginModule},
		{"hook not a function", `module.exports = { manifest: { id: "x" }, enable: "soon" }`, pluginsdk.CodeInvalidPluginModule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := plugintest.NewHost(t)
			m := manifest("broken")
			path := h.WriteScript(t, m, tt.source)

			_, err := js.NewResolver(nil).Resolve(context.Background(), path, m)
			errutil.AssertErrorCode(t, err, tt.code)
			errutil.AssertErrorContext(t, err, "plugin_id", "broken")
		})
	}
}

func TestResolver_EntryScriptTimeout(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("spinner")
	path := h.WriteScript(t, m, `for (;;) {}`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := js.NewResolver(nil).Resolve(ctx, path, m)
	errutil.AssertErrorCode(t, err, pluginsdk.CodeModuleLoadError)
}

func TestModule_ExportsAndExportsAlias(t *testing.T) {
	h := plugintest.NewHost(t)
	mod := resolve(t, h, manifest("alias"), `
		exports.manifest = { id: "alias", name: "Alias", version: "2.0.0", permissions: ["ui"] };
		exports.enable = function (ctx) {};
	`)

	assert.Equal(t, "Alias", mod.Manifest().Name)
	assert.Equal(t, []pluginsdk.Permission{pluginsdk.PermUI}, mod.Manifest().Permissions)
	assert.True(t, mod.HasHook(plugins.HookEnable))
	assert.False(t, mod.HasHook(plugins.HookInit))
}

func TestModule_HooksDriveTheHost(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("hello", pluginsdk.PermConfig, pluginsdk.PermPlayer)
	mod := resolve(t, h, m, `
		module.exports = {
			manifest: { id: "hello" },
			init(ctx) {
				ctx.config.set("greeting", "hi " + ctx.pluginId);
				this.level = 3;
			},
			enable(ctx) {
				ctx.player.addToQueue({ id: "t1", title: "One", duration: 30 });
				ctx.player.addToQueue({ id: "t2", title: "Two" });
				ctx.player.play();
				ctx.player.setVolume(this.level * 10);
				ctx.player.removeFromQueue(1);
			},
		};
	`)
	pctx := h.Context(t, m)

	require.NoError(t, mod.CallHook(context.Background(), plugins.HookInit, pctx))
	require.NoError(t, mod.CallHook(context.Background(), plugins.HookEnable, pctx))

	got, err := h.Config.Plugin("hello").Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hi hello", got)

	state := h.Player.State()
	require.NotNil(t, state.Track)
	assert.Equal(t, "t1", state.Track.ID)
	assert.Equal(t, 30*time.Second, state.Track.Duration)
	assert.Equal(t, 30, state.Volume)
	assert.Len(t, state.Queue, 1, "removeFromQueue is zero-based")
}

func TestModule_PermissionErrorsThrow(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("nosy")
	mod := resolve(t, h, m, `
		module.exports = {
			manifest: { id: "nosy" },
			init(ctx) {
				try {
					ctx.player.pause();
				} catch (e) {
					if (String(e.message).indexOf("INSUFFICIENT_PERMISSION") < 0) throw e;
					return;
				}
				throw new Error("pause should have failed");
			},
			enable(ctx) {
				ctx.navigation.navigate("settings");
			},
		};
	`)
	pctx := h.Context(t, m)

	require.NoError(t, mod.CallHook(context.Background(), plugins.HookInit, pctx))
	err := mod.CallHook(context.Background(), plugins.HookEnable, pctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), pluginsdk.CodeInsufficientPermission)
}

func TestModule_EventHandlers(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("scrobbler", pluginsdk.PermPlayer, pluginsdk.PermFilesystem)
	mod := resolve(t, h, m, `
		let count = 0;
		let saved;
		function onTrack(ev) {
			count++;
			saved.files.write("last.txt", ev.track.id + ":" + count);
		}
		module.exports = {
			manifest: { id: "scrobbler" },
			enable(ctx) {
				saved = ctx;
				ctx.on("track-change", onTrack);
				ctx.on("track-change", onTrack);
			},
			disable(ctx) {
				ctx.off("track-change", onTrack);
			},
		};
	`)
	pctx := h.Context(t, m)
	require.NoError(t, mod.CallHook(context.Background(), plugins.HookEnable, pctx))
	assert.Equal(t, 1, pctx.HandlerCount())

	require.NoError(t, h.Player.Play(context.Background(), &pluginsdk.Track{ID: "t7"}))
	h.Bus.Wait()

	data, err := os.ReadFile(filepath.Join(h.Factory.DataDir("scrobbler"), "last.txt"))
	require.NoError(t, err)
	assert.Equal(t, "t7:1", string(data))

	require.NoError(t, mod.CallHook(context.Background(), plugins.HookDisable, pctx))
	assert.Equal(t, 0, pctx.HandlerCount())
}

func TestModule_TransformerRunsInsidePluginCall(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("proxy", pluginsdk.PermPlayer)
	mod := resolve(t, h, m, `
		let remove;
		module.exports = {
			manifest: { id: "proxy" },
			enable(ctx) {
				remove = ctx.audio.registerTransformer((url, track) => url + "?via=" + ctx.pluginId + "&track=" + track.id);
				ctx.player.play({ id: "t1", url: "http://cdn/t1" });
			},
			disable() {
				remove();
			},
		};
	`)
	pctx := h.Context(t, m)

	done := make(chan error, 1)
	go func() { done <- mod.CallHook(context.Background(), plugins.HookEnable, pctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("enable deadlocked")
	}
	assert.Equal(t, "http://cdn/t1?via=proxy&track=t1", h.Player.StreamURL())

	require.NoError(t, mod.CallHook(context.Background(), plugins.HookDisable, pctx))
	assert.Equal(t, 0, h.Audio.Len())
}

func TestModule_ViewsShortcutsAndFiles(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("lyrics", pluginsdk.PermUI, pluginsdk.PermFilesystem)
	mod := resolve(t, h, m, `
		module.exports = {
			manifest: { id: "lyrics" },
			enable(ctx) {
				ctx.files.write("song.txt", "la la la");
				ctx.navigation.registerView("lyrics", (w, h) => ctx.files.read("song.txt") + " @" + w + "x" + h);
				ctx.registerShortcut("ctrl+y", () => ctx.navigation.navigate("lyrics"));
				if (ctx.files.glob("*.txt").join(",") !== "song.txt") throw new Error("glob");
			},
		};
	`)
	require.NoError(t, mod.CallHook(context.Background(), plugins.HookEnable, h.Context(t, m)))

	out, err := h.Views.Render(context.Background(), "lyrics", 40, 10)
	require.NoError(t, err)
	assert.Equal(t, "la la la @40x10", out)

	handled, err := h.Shortcuts.Trigger(context.Background(), "ctrl+y")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "lyrics", h.Navigator.CurrentView())
}

func TestModule_RejectedPromiseFailsHook(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("async")
	mod := resolve(t, h, m, `
		module.exports = {
			manifest: { id: "async" },
			init: async function () { throw new Error("later"); },
		};
	`)
	err := mod.CallHook(context.Background(), plugins.HookInit, h.Context(t, m))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "later")
}

func TestModule_HookTimeoutThenRecovers(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("spinner")
	mod := resolve(t, h, m, `
		let spin = true;
		module.exports = {
			manifest: { id: "spinner" },
			init() { while (spin) {} },
			enable() { spin = false; },
		};
	`)
	pctx := h.Context(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, mod.CallHook(ctx, plugins.HookInit, pctx))
	require.NoError(t, mod.CallHook(context.Background(), plugins.HookEnable, pctx))
}

func TestModule_Close(t *testing.T) {
	h := plugintest.NewHost(t)
	mod := resolve(t, h, manifest("gone"), `
		module.exports = { manifest: { id: "gone" }, init() {} };
	`)
	require.NoError(t, mod.Close())
	require.NoError(t, mod.Close())
	require.Error(t, mod.CallHook(context.Background(), plugins.HookInit, nil))
}
