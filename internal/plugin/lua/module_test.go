// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/internal/plugin/audio"
	"github.com/holomush/muse/internal/plugin/event"
	pluginlua "github.com/holomush/muse/internal/plugin/lua"
	"github.com/holomush/muse/internal/plugin/plugintest"
	"github.com/holomush/muse/internal/plugin/script"
	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

func manifest(id string, perms ...pluginsdk.Permission) *pluginsdk.Manifest {
	m := plugintest.Manifest(id, perms...)
	m.Main = "main.lua"
	return m
}

func resolve(t *testing.T, h *plugintest.Host, m *pluginsdk.Manifest, source string) plugins.Module {
	t.Helper()
	path := h.WriteScript(t, m, source)
	mod, err := pluginlua.NewResolver().Resolve(context.Background(), path, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mod.Close() })
	return mod
}

func TestResolver_Extensions(t *testing.T) {
	assert.Equal(t, []string{"lua"}, pluginlua.NewResolver().Extensions())
}

func TestResolver_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		code   string
	}{
		{"syntax error", `return {`, pluginsdk.CodeModuleLoadError},
		{"runtime error", `error("boom")`, pluginsdk.CodeModuleLoadError},
		{"sandboxed global", `os.exit(1)`, pluginsdk.CodeModuleLoadError},
		{"no table", `return 42`, pluginsdk.CodeInvalidPluginModule},
		{"no manifest", `return { init = function() end }`, pluginsdk.CodeInvalidPluginModule},
		{"hook not a function", `return { manifest = { id = "x" }, enable = 5 }`, pluginsdk.CodeInvalidPluginModule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := plugintest.NewHost(t)
			m := manifest("broken")
			path := h.WriteScript(t, m, tt.source)

			_, err := pluginlua.NewResolver().Resolve(context.Background(), path, m)
			errutil.AssertErrorCode(t, err, tt.code)
			errutil.AssertErrorContext(t, err, "plugin_id", "broken")
		})
	}
}

func TestResolver_MissingFile(t *testing.T) {
	m := manifest("ghost")
	_, err := pluginlua.NewResolver().Resolve(context.Background(), filepath.Join(t.TempDir(), "main.lua"), m)
	errutil.AssertErrorCode(t, err, pluginsdk.CodeModuleLoadError)
}

func TestModule_ExportsManifestAndHooks(t *testing.T) {
	h := plugintest.NewHost(t)
	mod := resolve(t, h, manifest("hello"), `
		return {
			manifest = { id = "hello", name = "Hello", version = "0.1.0", permissions = { "config" } },
			init = function(ctx) end,
			enable = function(ctx) end,
		}
	`)

	got := mod.Manifest()
	assert.Equal(t, "Hello", got.Name)
	assert.Equal(t, []pluginsdk.Permission{pluginsdk.PermConfig}, got.Permissions)
	assert.True(t, mod.HasHook(plugins.HookInit))
	assert.True(t, mod.HasHook(plugins.HookEnable))
	assert.False(t, mod.HasHook(plugins.HookDisable))
	require.NoError(t, mod.CallHook(context.Background(), plugins.HookDisable, nil))
}

func TestModule_HooksDriveTheHost(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("hello", pluginsdk.PermConfig, pluginsdk.PermPlayer)
	mod := resolve(t, h, m, `
		return {
			manifest = { id = "hello" },
			init = function(ctx)
				ctx.config.set("greeting", "hi " .. ctx.plugin_id)
				ctx.config.set("nested.level", 2)
			end,
			enable = function(ctx)
				ctx.player.add_to_queue({ id = "t1", title = "One", url = "http://cdn/t1", duration = 90 })
				ctx.player.play()
				ctx.player.set_volume(ctx.config.get("nested.level", 0) * 10)
			end,
		}
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
	assert.Equal(t, 90*time.Second, state.Track.Duration)
	assert.Equal(t, 20, state.Volume)
}

func TestModule_PermissionErrorsRaise(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("nosy")
	mod := resolve(t, h, m, `
		return {
			manifest = { id = "nosy" },
			init = function(ctx)
				local ok, err = pcall(ctx.player.pause)
				if ok then error("pause should have failed") end
				if not string.find(err, "INSUFFICIENT_PERMISSION", 1, true) then error(err) end
			end,
			enable = function(ctx)
				ctx.navigation.navigate("settings")
			end,
		}
	`)
	pctx := h.Context(t, m)

	require.NoError(t, mod.CallHook(context.Background(), plugins.HookInit, pctx))

	err := mod.CallHook(context.Background(), plugins.HookEnable, pctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), pluginsdk.CodeInsufficientPermission)
	assert.Equal(t, "home", h.Navigator.CurrentView())
}

func TestModule_PermissionGrantedLater(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("late")
	mod := resolve(t, h, m, `
		return {
			manifest = { id = "late" },
			enable = function(ctx)
				if not ctx.has_permission("ui") then error("no ui") end
				ctx.navigation.navigate("late-view")
			end,
		}
	`)
	pctx := h.Context(t, m)

	require.Error(t, mod.CallHook(context.Background(), plugins.HookEnable, pctx))
	require.NoError(t, h.Perms.Grant("late", pluginsdk.PermUI))
	require.NoError(t, mod.CallHook(context.Background(), plugins.HookEnable, pctx))
	assert.Equal(t, "late-view", h.Navigator.CurrentView())
}

func TestModule_EventHandlers(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("scrobbler", pluginsdk.PermPlayer, pluginsdk.PermFilesystem)
	mod := resolve(t, h, m, `
		local count = 0
		local function on_track(ev)
			count = count + 1
			ctx_ref.files.write("last.txt", ev.track.id .. ":" .. count)
		end
		return {
			manifest = { id = "scrobbler" },
			enable = function(ctx)
				ctx_ref = ctx
				ctx.on("track-change", on_track)
				ctx.on("track-change", on_track)
			end,
			disable = function(ctx)
				ctx.off("track-change", on_track)
			end,
		}
	`)
	pctx := h.Context(t, m)
	require.NoError(t, mod.CallHook(context.Background(), plugins.HookEnable, pctx))
	assert.Equal(t, 1, pctx.HandlerCount(), "subscribing twice is a no-op")

	require.NoError(t, h.Player.Play(context.Background(), &pluginsdk.Track{ID: "t9"}))
	h.Bus.Wait()

	data, err := os.ReadFile(filepath.Join(h.Factory.DataDir("scrobbler"), "last.txt"))
	require.NoError(t, err)
	assert.Equal(t, "t9:1", string(data))

	require.NoError(t, mod.CallHook(context.Background(), plugins.HookDisable, pctx))
	assert.Equal(t, 0, pctx.HandlerCount())
}

func TestModule_EmitReachesBus(t *testing.T) {
	h := plugintest.NewHost(t)
	var query atomic.Value
	require.NoError(t, h.Bus.On(pluginsdk.EventSearch, event.NewHandler(func(_ context.Context, ev pluginsdk.Event) error {
		if nav, ok := ev.(pluginsdk.NavigationEvent); ok {
			query.Store(nav.Query)
		}
		return nil
	})))

	m := manifest("searcher")
	mod := resolve(t, h, m, `
		return {
			manifest = { id = "searcher" },
			init = function(ctx)
				ctx.emit("search", { query = "jazz", view = "search" })
				local ok = pcall(ctx.emit, "no-such-event", {})
				if ok then error("unknown event accepted") end
			end,
		}
	`)
	require.NoError(t, mod.CallHook(context.Background(), plugins.HookInit, h.Context(t, m)))
	h.Bus.Wait()
	assert.Equal(t, "jazz", query.Load())
}

func TestModule_TransformerRunsInsidePluginCall(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("proxy", pluginsdk.PermPlayer)
	mod := resolve(t, h, m, `
		local remove
		return {
			manifest = { id = "proxy" },
			enable = function(ctx)
				remove = ctx.audio.register_transformer(function(url, track)
					return url .. "?via=" .. ctx.plugin_id .. "&track=" .. track.id
				end)
				ctx.player.play({ id = "t1", url = "http://cdn/t1" })
			end,
			disable = function(ctx)
				remove()
			end,
		}
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

	require.NoError(t, h.Player.Play(context.Background(), &pluginsdk.Track{ID: "t2", URL: "http://cdn/t2"}))
	assert.Equal(t, "http://cdn/t2?via=proxy&track=t2", h.Player.StreamURL())

	require.NoError(t, mod.CallHook(context.Background(), plugins.HookDisable, pctx))
	assert.Equal(t, 0, h.Audio.Len())
}

func TestModule_CrossPluginTransformersDoNotDeadlock(t *testing.T) {
	h := plugintest.NewHost(t)
	source := `
		return {
			manifest = { id = "%s" },
			enable = function(ctx)
				ctx.audio.register_transformer(function(url, track)
					return url .. "#" .. ctx.plugin_id
				end)
				ctx.on("pause", function(ev)
					ctx.player.play()
				end)
			end,
		}
	`
	var mods []plugins.Module
	for _, id := range []string{"left", "right"} {
		m := manifest(id, pluginsdk.PermPlayer)
		mod := resolve(t, h, m, fmt.Sprintf(source, id))
		require.NoError(t, mod.CallHook(context.Background(), plugins.HookEnable, h.Context(t, m)))
		mods = append(mods, mod)
	}

	require.NoError(t, h.Player.Play(context.Background(), &pluginsdk.Track{ID: "t1", URL: "http://cdn/t1"}))
	h.Bus.Wait()
	require.NoError(t, h.Player.Pause(context.Background()))

	settled := make(chan struct{})
	go func() {
		h.Bus.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-time.After(5 * time.Second):
		t.Fatal("pause handlers deadlocked")
	}
	assert.True(t, h.Player.Playing())
	assert.Contains(t, h.Player.StreamURL(), "http://cdn/t1#")

	closed := make(chan struct{})
	go func() {
		for _, mod := range mods {
			assert.NoError(t, mod.Close())
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close blocked")
	}
}

func TestModule_CloseDuringCallFinishesAfterIt(t *testing.T) {
	h := plugintest.NewHost(t)
	entered := make(chan struct{})
	unblock := make(chan struct{})
	h.Audio.Register("host", audio.TransformFunc(func(_ context.Context, url string, _ *pluginsdk.Track) (string, error) {
		close(entered)
		<-unblock
		return url, nil
	}), nil)

	m := manifest("slow", pluginsdk.PermPlayer)
	mod := resolve(t, h, m, `
		return {
			manifest = { id = "slow" },
			enable = function(ctx)
				ctx.player.play({ id = "t1", url = "http://cdn/t1" })
			end,
		}
	`)
	pctx := h.Context(t, m)

	done := make(chan error, 1)
	go func() { done <- mod.CallHook(context.Background(), plugins.HookEnable, pctx) }()
	<-entered

	closed := make(chan error, 1)
	go func() { closed <- mod.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close waited for the running call")
	}

	close(unblock)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("running call did not finish")
	}
	err := mod.CallHook(context.Background(), plugins.HookEnable, pctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, script.ErrClosed)
}

func TestModule_ViewsAndShortcuts(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("lyrics", pluginsdk.PermUI)
	mod := resolve(t, h, m, `
		return {
			manifest = { id = "lyrics" },
			enable = function(ctx)
				ctx.navigation.register_view("lyrics", function(w, h)
					return string.format("lyrics %dx%d", w, h)
				end)
				ctx.register_shortcut({ "ctrl+l", "alt+l" }, function()
					ctx.navigation.navigate("lyrics")
				end)
			end,
			disable = function(ctx)
				ctx.unregister_shortcut("alt+l")
				ctx.navigation.unregister_view("lyrics")
			end,
		}
	`)
	pctx := h.Context(t, m)
	require.NoError(t, mod.CallHook(context.Background(), plugins.HookEnable, pctx))

	out, err := h.Views.Render(context.Background(), "lyrics", 80, 24)
	require.NoError(t, err)
	assert.Equal(t, "lyrics 80x24", out)

	handled, err := h.Shortcuts.Trigger(context.Background(), "alt+l")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "lyrics", h.Navigator.CurrentView())

	require.NoError(t, mod.CallHook(context.Background(), plugins.HookDisable, pctx))
	assert.False(t, h.Views.Has("lyrics"))
	handled, err = h.Shortcuts.Trigger(context.Background(), "alt+l")
	require.NoError(t, err)
	assert.False(t, handled)
	handled, err = h.Shortcuts.Trigger(context.Background(), "ctrl+l")
	require.NoError(t, err)
	assert.True(t, handled)
}

func TestModule_FilesAndConfigRoundTrip(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("notes", pluginsdk.PermFilesystem, pluginsdk.PermConfig)
	mod := resolve(t, h, m, `
		return {
			manifest = { id = "notes" },
			init = function(ctx)
				ctx.files.write("a.txt", "alpha")
				ctx.files.write("b.md", "beta")
				if not ctx.files.exists("a.txt") then error("a.txt missing") end
				local txt = ctx.files.glob("*.txt")
				ctx.config.set("found", table.concat(txt, ","))
				ctx.config.set("count", #ctx.files.list())
				ctx.config.set("first", ctx.files.read("a.txt"))
				ctx.files.delete("b.md")
				local ok, err = pcall(ctx.files.read, "../../escape")
				if ok then error("escape allowed") end
			end,
		}
	`)
	require.NoError(t, mod.CallHook(context.Background(), plugins.HookInit, h.Context(t, m)))

	all := h.Config.Plugin("notes").All()
	assert.Equal(t, "a.txt", all["found"])
	assert.EqualValues(t, 2, all["count"])
	assert.Equal(t, "alpha", all["first"])
	_, err := os.Stat(filepath.Join(h.Factory.DataDir("notes"), "b.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestModule_LogAcceptsFields(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("chatty")
	mod := resolve(t, h, m, `
		return {
			manifest = { id = "chatty" },
			init = function(ctx)
				ctx.log("debug", "starting", { attempt = 1 })
				ctx.log("warn", "no fields")
			end,
		}
	`)
	require.NoError(t, mod.CallHook(context.Background(), plugins.HookInit, h.Context(t, m)))
}

func TestModule_HookTimeout(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("spinner")
	mod := resolve(t, h, m, `
		return {
			manifest = { id = "spinner" },
			init = function(ctx) while true do end end,
		}
	`)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := mod.CallHook(ctx, plugins.HookInit, h.Context(t, m))
	require.Error(t, err)
}

func TestModule_Close(t *testing.T) {
	h := plugintest.NewHost(t)
	m := manifest("gone")
	mod := resolve(t, h, m, `
		return { manifest = { id = "gone" }, init = function(ctx) end }
	`)

	require.NoError(t, mod.Close())
	require.NoError(t, mod.Close())
	err := mod.CallHook(context.Background(), plugins.HookInit, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "closed"))
}
