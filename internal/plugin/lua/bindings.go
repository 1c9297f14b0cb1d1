// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/muse/internal/plugin/api"
	"github.com/holomush/muse/internal/plugin/audio"
	"github.com/holomush/muse/internal/plugin/event"
	"github.com/holomush/muse/internal/plugin/script"
	"github.com/holomush/muse/internal/plugin/ui"
	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

type handlerKey struct {
	typ pluginsdk.EventType
	fn  *lua.LFunction
}

// luaHandler delivers bus events to a Lua function.
type luaHandler struct {
	m  *Module
	fn *lua.LFunction
}

func (h *luaHandler) Handle(ctx context.Context, ev pluginsdk.Event) error {
	_, err := h.m.invoke(ctx, true, h.fn, 0, script.EventToMap(ev))
	return err
}

// bindings exposes one plugin context to Lua. Its methods run inside calls
// into the module, so the gate is already held.
type bindings struct {
	m        *Module
	c        *api.Context
	L        *lua.LState
	handlers map[handlerKey]event.Handler
}

func newBindings(m *Module, c *api.Context) *bindings {
	return &bindings{m: m, c: c, L: m.L, handlers: make(map[handlerKey]event.Handler)}
}

func (b *bindings) table() *lua.LTable {
	t := b.L.NewTable()
	t.RawSetString("plugin_id", lua.LString(b.c.PluginID()))
	b.set(t, map[string]lua.LGFunction{
		"log":                 b.log,
		"has_permission":      b.hasPermission,
		"request_permission":  b.requestPermission,
		"on":                  b.on,
		"off":                 b.off,
		"emit":                b.emit,
		"register_shortcut":   b.registerShortcut,
		"unregister_shortcut": b.unregisterShortcut,
	})
	t.RawSetString("player", b.group(map[string]lua.LGFunction{
		"play":              b.play,
		"pause":             b.simple(func(ctx context.Context) error { return b.c.Player().Pause(ctx) }),
		"resume":            b.simple(func(ctx context.Context) error { return b.c.Player().Resume(ctx) }),
		"stop":              b.simple(func(ctx context.Context) error { return b.c.Player().Stop(ctx) }),
		"next":              b.simple(func(ctx context.Context) error { return b.c.Player().Next(ctx) }),
		"previous":          b.simple(func(ctx context.Context) error { return b.c.Player().Previous(ctx) }),
		"clear_queue":       b.simple(func(ctx context.Context) error { return b.c.Player().ClearQueue(ctx) }),
		"seek":              b.seek,
		"volume":            b.volume,
		"set_volume":        b.setVolume,
		"current_track":     b.currentTrack,
		"queue":             b.queue,
		"state":             b.state,
		"add_to_queue":      b.addToQueue,
		"remove_from_queue": b.removeFromQueue,
		"set_shuffle":       b.setShuffle,
		"set_repeat":        b.setRepeat,
	}))
	t.RawSetString("navigation", b.group(map[string]lua.LGFunction{
		"navigate":        b.navigate,
		"back":            b.simple(func(ctx context.Context) error { return b.c.Navigation().Back(ctx) }),
		"current_view":    b.currentView,
		"register_view":   b.registerView,
		"unregister_view": b.unregisterView,
	}))
	t.RawSetString("config", b.group(map[string]lua.LGFunction{
		"get":    b.configGet,
		"set":    b.configSet,
		"delete": b.configDelete,
		"all":    b.configAll,
	}))
	t.RawSetString("files", b.group(map[string]lua.LGFunction{
		"data_dir": b.dataDir,
		"read":     b.readFile,
		"write":    b.writeFile,
		"delete":   b.deleteFile,
		"exists":   b.exists,
		"list":     b.list,
		"glob":     b.glob,
	}))
	t.RawSetString("audio", b.group(map[string]lua.LGFunction{
		"register_transformer": b.registerTransformer,
		"on_stream_request":    b.onStreamRequest,
	}))
	return t
}

func (b *bindings) set(t *lua.LTable, fns map[string]lua.LGFunction) {
	for name, fn := range fns {
		t.RawSetString(name, b.L.NewFunction(fn))
	}
}

func (b *bindings) group(fns map[string]lua.LGFunction) *lua.LTable {
	t := b.L.NewTable()
	b.set(t, fns)
	return t
}

// goContext returns the context of the call currently running on L.
func goContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// raise turns err into a Lua error prefixed with its code, if any.
func raise(L *lua.LState, err error) int {
	if code := errutil.Code(err); code != "" {
		L.RaiseError("%s: %s", code, err.Error())
		return 0
	}
	L.RaiseError("%s", err.Error())
	return 0
}

func (b *bindings) simple(fn func(ctx context.Context) error) lua.LGFunction {
	return func(L *lua.LState) int {
		if err := fn(goContext(L)); err != nil {
			return raise(L, err)
		}
		return 0
	}
}

func trackArg(t *pluginsdk.Track) any {
	if t == nil {
		return nil
	}
	return script.TrackToMap(t)
}

func (b *bindings) checkTrack(L *lua.LState, n int) (pluginsdk.Track, bool) {
	track, err := script.TrackFromMap(toMap(L.CheckTable(n)))
	if err != nil {
		raise(L, err)
		return pluginsdk.Track{}, false
	}
	return track, true
}

// Logging

func (b *bindings) log(L *lua.LState) int {
	level := parseLevel(L.CheckString(1))
	msg := L.CheckString(2)
	var attrs []any
	if fields := toMap(L.Get(3)); fields != nil {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attrs = append(attrs, k, fields[k])
		}
	}
	b.c.Logger().Log(goContext(L), level, msg, attrs...)
	return 0
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Permissions

func (b *bindings) hasPermission(L *lua.LState) int {
	L.Push(lua.LBool(b.c.HasPermission(pluginsdk.Permission(L.CheckString(1)))))
	return 1
}

func (b *bindings) requestPermission(L *lua.LState) int {
	L.Push(lua.LBool(b.c.RequestPermission(goContext(L), pluginsdk.Permission(L.CheckString(1)))))
	return 1
}

// Events

func (b *bindings) on(L *lua.LState) int {
	typ := pluginsdk.EventType(L.CheckString(1))
	fn := L.CheckFunction(2)
	key := handlerKey{typ: typ, fn: fn}
	if _, ok := b.handlers[key]; ok {
		return 0
	}
	h := &luaHandler{m: b.m, fn: fn}
	if err := b.c.On(typ, h); err != nil {
		return raise(L, err)
	}
	b.handlers[key] = h
	return 0
}

func (b *bindings) off(L *lua.LState) int {
	key := handlerKey{typ: pluginsdk.EventType(L.CheckString(1)), fn: L.CheckFunction(2)}
	if h, ok := b.handlers[key]; ok {
		b.c.Off(key.typ, h)
		delete(b.handlers, key)
	}
	return 0
}

func (b *bindings) emit(L *lua.LState) int {
	ev, err := script.EventFromMap(L.CheckString(1), toMap(L.Get(2)))
	if err != nil {
		return raise(L, err)
	}
	if err := b.c.Emit(goContext(L), ev); err != nil {
		return raise(L, err)
	}
	return 0
}

// Player

func (b *bindings) play(L *lua.LState) int {
	var track *pluginsdk.Track
	if L.GetTop() >= 1 && L.Get(1) != lua.LNil {
		t, ok := b.checkTrack(L, 1)
		if !ok {
			return 0
		}
		track = &t
	}
	if err := b.c.Player().Play(goContext(L), track); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) seek(L *lua.LState) int {
	pos := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	if err := b.c.Player().Seek(goContext(L), pos); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) volume(L *lua.LState) int {
	v, err := b.c.Player().Volume()
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (b *bindings) setVolume(L *lua.LState) int {
	if err := b.c.Player().SetVolume(goContext(L), L.CheckInt(1)); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) currentTrack(L *lua.LState) int {
	t, err := b.c.Player().CurrentTrack()
	if err != nil {
		return raise(L, err)
	}
	L.Push(toLua(L, trackArg(t)))
	return 1
}

func (b *bindings) queue(L *lua.LState) int {
	q, err := b.c.Player().Queue()
	if err != nil {
		return raise(L, err)
	}
	out := make([]any, len(q))
	for i := range q {
		out[i] = script.TrackToMap(&q[i])
	}
	L.Push(toLua(L, out))
	return 1
}

func (b *bindings) state(L *lua.LState) int {
	s, err := b.c.Player().State()
	if err != nil {
		return raise(L, err)
	}
	L.Push(toLua(L, script.StateToMap(s)))
	return 1
}

func (b *bindings) addToQueue(L *lua.LState) int {
	t, ok := b.checkTrack(L, 1)
	if !ok {
		return 0
	}
	if err := b.c.Player().AddToQueue(goContext(L), t); err != nil {
		return raise(L, err)
	}
	return 0
}

// removeFromQueue takes a 1-based index, as Lua does.
func (b *bindings) removeFromQueue(L *lua.LState) int {
	if err := b.c.Player().RemoveFromQueue(goContext(L), L.CheckInt(1)-1); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) setShuffle(L *lua.LState) int {
	if err := b.c.Player().SetShuffle(goContext(L), L.CheckBool(1)); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) setRepeat(L *lua.LState) int {
	if err := b.c.Player().SetRepeat(goContext(L), pluginsdk.RepeatMode(L.CheckString(1))); err != nil {
		return raise(L, err)
	}
	return 0
}

// Navigation and UI

func (b *bindings) navigate(L *lua.LState) int {
	if err := b.c.Navigation().Navigate(goContext(L), L.CheckString(1)); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) currentView(L *lua.LState) int {
	v, err := b.c.Navigation().CurrentView()
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LString(v))
	return 1
}

func (b *bindings) registerView(L *lua.LState) int {
	id := L.CheckString(1)
	fn := L.CheckFunction(2)
	r := ui.RenderFunc(func(ctx context.Context, width, height int) (string, error) {
		rets, err := b.m.invoke(ctx, false, fn, 1, width, height)
		if err != nil {
			return "", err
		}
		s, _ := rets[0].(string)
		return s, nil
	})
	if err := b.c.Navigation().RegisterView(id, r); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) unregisterView(L *lua.LState) int {
	if err := b.c.Navigation().UnregisterView(L.CheckString(1)); err != nil {
		return raise(L, err)
	}
	return 0
}

// checkKeys accepts a single chord string or an array of them.
func checkKeys(L *lua.LState, n int) []string {
	switch v := L.Get(n).(type) {
	case lua.LString:
		return []string{string(v)}
	case *lua.LTable:
		var keys []string
		v.ForEach(func(_, k lua.LValue) {
			keys = append(keys, k.String())
		})
		return keys
	default:
		L.ArgError(n, "expected a key chord or a list of chords")
		return nil
	}
}

func (b *bindings) registerShortcut(L *lua.LState) int {
	keys := checkKeys(L, 1)
	fn := L.CheckFunction(2)
	action := func(ctx context.Context) error {
		_, err := b.m.invoke(ctx, false, fn, 0)
		return err
	}
	if err := b.c.RegisterShortcut(keys, action); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) unregisterShortcut(L *lua.LState) int {
	if err := b.c.UnregisterShortcut(checkKeys(L, 1)); err != nil {
		return raise(L, err)
	}
	return 0
}

// Config

func (b *bindings) configGet(L *lua.LState) int {
	v, err := b.c.Config().Get(L.CheckString(1), toGo(L.Get(2)))
	if err != nil {
		return raise(L, err)
	}
	L.Push(toLua(L, v))
	return 1
}

func (b *bindings) configSet(L *lua.LState) int {
	if err := b.c.Config().Set(L.CheckString(1), toGo(L.Get(2))); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) configDelete(L *lua.LState) int {
	if err := b.c.Config().Delete(L.CheckString(1)); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) configAll(L *lua.LState) int {
	all, err := b.c.Config().All()
	if err != nil {
		return raise(L, err)
	}
	L.Push(toLua(L, all))
	return 1
}

// Files

func (b *bindings) dataDir(L *lua.LState) int {
	L.Push(lua.LString(b.c.Files().DataDir()))
	return 1
}

func (b *bindings) readFile(L *lua.LState) int {
	data, err := b.c.Files().ReadFile(L.CheckString(1))
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LString(data))
	return 1
}

func (b *bindings) writeFile(L *lua.LState) int {
	if err := b.c.Files().WriteFile(L.CheckString(1), L.CheckString(2)); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) deleteFile(L *lua.LState) int {
	if err := b.c.Files().DeleteFile(L.CheckString(1)); err != nil {
		return raise(L, err)
	}
	return 0
}

func (b *bindings) exists(L *lua.LState) int {
	ok, err := b.c.Files().Exists(L.CheckString(1))
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LBool(ok))
	return 1
}

func (b *bindings) list(L *lua.LState) int {
	names, err := b.c.Files().ListFiles(L.OptString(1, "."))
	if err != nil {
		return raise(L, err)
	}
	L.Push(toLua(L, names))
	return 1
}

func (b *bindings) glob(L *lua.LState) int {
	names, err := b.c.Files().Glob(L.CheckString(1))
	if err != nil {
		return raise(L, err)
	}
	L.Push(toLua(L, names))
	return 1
}

// Audio

// registerTransformer returns a function that removes the transformer.
func (b *bindings) registerTransformer(L *lua.LState) int {
	fn := L.CheckFunction(1)
	t := audio.TransformFunc(func(ctx context.Context, url string, track *pluginsdk.Track) (string, error) {
		rets, err := b.m.invokeWithin(ctx, script.CallbackWait, fn, 1, url, trackArg(track))
		if err != nil {
			return "", err
		}
		s, _ := rets[0].(string)
		return s, nil
	})
	remove, err := b.c.Audio().RegisterTransformer(t)
	if err != nil {
		return raise(L, err)
	}
	L.Push(L.NewFunction(func(*lua.LState) int {
		remove()
		return 0
	}))
	return 1
}

func (b *bindings) onStreamRequest(L *lua.LState) int {
	fn := L.CheckFunction(1)
	_, err := b.c.Audio().OnStreamRequest(func(ctx context.Context, url string, track *pluginsdk.Track) error {
		_, err := b.m.invoke(ctx, true, fn, 0, url, trackArg(track))
		return err
	})
	if err != nil {
		return raise(L, err)
	}
	return 0
}
