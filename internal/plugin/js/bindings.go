// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package js

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/holomush/muse/internal/plugin/api"
	"github.com/holomush/muse/internal/plugin/audio"
	"github.com/holomush/muse/internal/plugin/event"
	"github.com/holomush/muse/internal/plugin/script"
	"github.com/holomush/muse/internal/plugin/ui"
	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

type native = func(goja.FunctionCall) goja.Value

type handlerKey struct {
	typ pluginsdk.EventType
	fn  *goja.Object
}

// jsHandler delivers bus events to a JavaScript function.
type jsHandler struct {
	m  *Module
	fn goja.Callable
}

func (h *jsHandler) Handle(ctx context.Context, ev pluginsdk.Event) error {
	_, err := h.m.invoke(ctx, true, h.fn, script.EventToMap(ev))
	return err
}

// bindings exposes one plugin context to JavaScript. Its functions run
// inside calls into the module, so the gate is already held.
type bindings struct {
	m        *Module
	c        *api.Context
	vm       *goja.Runtime
	handlers map[handlerKey]event.Handler
}

func newBindings(m *Module, c *api.Context) *bindings {
	return &bindings{m: m, c: c, vm: m.vm, handlers: make(map[handlerKey]event.Handler)}
}

func (b *bindings) object() *goja.Object {
	o := b.group(map[string]native{
		"log":                b.log,
		"hasPermission":      b.hasPermission,
		"requestPermission":  b.requestPermission,
		"on":                 b.on,
		"off":                b.off,
		"emit":               b.emit,
		"registerShortcut":   b.registerShortcut,
		"unregisterShortcut": b.unregisterShortcut,
	})
	_ = o.Set("pluginId", b.c.PluginID())
	_ = o.Set("player", b.group(map[string]native{
		"play":            b.play,
		"pause":           b.simple(func(ctx context.Context) error { return b.c.Player().Pause(ctx) }),
		"resume":          b.simple(func(ctx context.Context) error { return b.c.Player().Resume(ctx) }),
		"stop":            b.simple(func(ctx context.Context) error { return b.c.Player().Stop(ctx) }),
		"next":            b.simple(func(ctx context.Context) error { return b.c.Player().Next(ctx) }),
		"previous":        b.simple(func(ctx context.Context) error { return b.c.Player().Previous(ctx) }),
		"clearQueue":      b.simple(func(ctx context.Context) error { return b.c.Player().ClearQueue(ctx) }),
		"seek":            b.seek,
		"volume":          b.volume,
		"setVolume":       b.setVolume,
		"currentTrack":    b.currentTrack,
		"queue":           b.queue,
		"state":           b.state,
		"addToQueue":      b.addToQueue,
		"removeFromQueue": b.removeFromQueue,
		"setShuffle":      b.setShuffle,
		"setRepeat":       b.setRepeat,
	}))
	_ = o.Set("navigation", b.group(map[string]native{
		"navigate":       b.navigate,
		"back":           b.simple(func(ctx context.Context) error { return b.c.Navigation().Back(ctx) }),
		"currentView":    b.currentView,
		"registerView":   b.registerView,
		"unregisterView": b.unregisterView,
	}))
	_ = o.Set("config", b.group(map[string]native{
		"get":    b.configGet,
		"set":    b.configSet,
		"delete": b.configDelete,
		"all":    b.configAll,
	}))
	_ = o.Set("files", b.group(map[string]native{
		"dataDir": b.dataDir,
		"read":    b.readFile,
		"write":   b.writeFile,
		"delete":  b.deleteFile,
		"exists":  b.exists,
		"list":    b.list,
		"glob":    b.glob,
	}))
	_ = o.Set("audio", b.group(map[string]native{
		"registerTransformer": b.registerTransformer,
		"onStreamRequest":     b.onStreamRequest,
	}))
	return o
}

func (b *bindings) group(fns map[string]native) *goja.Object {
	o := b.vm.NewObject()
	for name, fn := range fns {
		_ = o.Set(name, fn)
	}
	return o
}

// throw raises err in JavaScript, prefixed with its code if it has one.
func (b *bindings) throw(err error) goja.Value {
	if code := errutil.Code(err); code != "" {
		err = fmt.Errorf("%s: %w", code, err)
	}
	panic(b.vm.NewGoError(err))
}

func (b *bindings) typeError(format string, args ...any) goja.Value {
	panic(b.vm.NewTypeError(fmt.Sprintf(format, args...)))
}

func (b *bindings) ok(err error) goja.Value {
	if err != nil {
		return b.throw(err)
	}
	return goja.Undefined()
}

func (b *bindings) simple(fn func(ctx context.Context) error) native {
	return func(goja.FunctionCall) goja.Value {
		return b.ok(fn(b.m.context()))
	}
}

func (b *bindings) function(v goja.Value) (goja.Callable, *goja.Object) {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		b.typeError("expected a function")
	}
	return fn, v.(*goja.Object)
}

func (b *bindings) track(v goja.Value) pluginsdk.Track {
	t, err := script.TrackFromMap(exportMap(v))
	if err != nil {
		b.throw(err)
	}
	return t
}

func trackArg(t *pluginsdk.Track) any {
	if t == nil {
		return nil
	}
	return script.TrackToMap(t)
}

// Logging

func (b *bindings) log(call goja.FunctionCall) goja.Value {
	level := parseLevel(call.Argument(0).String())
	msg := call.Argument(1).String()
	var attrs []any
	if fields := exportMap(call.Argument(2)); fields != nil {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attrs = append(attrs, k, fields[k])
		}
	}
	b.c.Logger().Log(b.m.context(), level, msg, attrs...)
	return goja.Undefined()
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

func (b *bindings) hasPermission(call goja.FunctionCall) goja.Value {
	return b.vm.ToValue(b.c.HasPermission(pluginsdk.Permission(call.Argument(0).String())))
}

func (b *bindings) requestPermission(call goja.FunctionCall) goja.Value {
	perm := pluginsdk.Permission(call.Argument(0).String())
	return b.vm.ToValue(b.c.RequestPermission(b.m.context(), perm))
}

// Events

func (b *bindings) on(call goja.FunctionCall) goja.Value {
	typ := pluginsdk.EventType(call.Argument(0).String())
	fn, obj := b.function(call.Argument(1))
	key := handlerKey{typ: typ, fn: obj}
	if _, ok := b.handlers[key]; ok {
		return goja.Undefined()
	}
	h := &jsHandler{m: b.m, fn: fn}
	if err := b.c.On(typ, h); err != nil {
		return b.throw(err)
	}
	b.handlers[key] = h
	return goja.Undefined()
}

func (b *bindings) off(call goja.FunctionCall) goja.Value {
	obj, ok := call.Argument(1).(*goja.Object)
	if !ok {
		return goja.Undefined()
	}
	key := handlerKey{typ: pluginsdk.EventType(call.Argument(0).String()), fn: obj}
	if h, ok := b.handlers[key]; ok {
		b.c.Off(key.typ, h)
		delete(b.handlers, key)
	}
	return goja.Undefined()
}

func (b *bindings) emit(call goja.FunctionCall) goja.Value {
	ev, err := script.EventFromMap(call.Argument(0).String(), exportMap(call.Argument(1)))
	if err != nil {
		return b.throw(err)
	}
	return b.ok(b.c.Emit(b.m.context(), ev))
}

// Player

func (b *bindings) play(call goja.FunctionCall) goja.Value {
	var track *pluginsdk.Track
	if arg := call.Argument(0); !absent(arg) {
		t := b.track(arg)
		track = &t
	}
	return b.ok(b.c.Player().Play(b.m.context(), track))
}

func (b *bindings) seek(call goja.FunctionCall) goja.Value {
	pos := time.Duration(call.Argument(0).ToFloat() * float64(time.Second))
	return b.ok(b.c.Player().Seek(b.m.context(), pos))
}

func (b *bindings) volume(goja.FunctionCall) goja.Value {
	v, err := b.c.Player().Volume()
	if err != nil {
		return b.throw(err)
	}
	return b.vm.ToValue(v)
}

func (b *bindings) setVolume(call goja.FunctionCall) goja.Value {
	return b.ok(b.c.Player().SetVolume(b.m.context(), int(call.Argument(0).ToInteger())))
}

func (b *bindings) currentTrack(goja.FunctionCall) goja.Value {
	t, err := b.c.Player().CurrentTrack()
	if err != nil {
		return b.throw(err)
	}
	return b.vm.ToValue(trackArg(t))
}

func (b *bindings) queue(goja.FunctionCall) goja.Value {
	q, err := b.c.Player().Queue()
	if err != nil {
		return b.throw(err)
	}
	out := make([]any, len(q))
	for i := range q {
		out[i] = script.TrackToMap(&q[i])
	}
	return b.vm.ToValue(out)
}

func (b *bindings) state(goja.FunctionCall) goja.Value {
	s, err := b.c.Player().State()
	if err != nil {
		return b.throw(err)
	}
	return b.vm.ToValue(script.StateToMap(s))
}

func (b *bindings) addToQueue(call goja.FunctionCall) goja.Value {
	return b.ok(b.c.Player().AddToQueue(b.m.context(), b.track(call.Argument(0))))
}

func (b *bindings) removeFromQueue(call goja.FunctionCall) goja.Value {
	return b.ok(b.c.Player().RemoveFromQueue(b.m.context(), int(call.Argument(0).ToInteger())))
}

func (b *bindings) setShuffle(call goja.FunctionCall) goja.Value {
	return b.ok(b.c.Player().SetShuffle(b.m.context(), call.Argument(0).ToBoolean()))
}

func (b *bindings) setRepeat(call goja.FunctionCall) goja.Value {
	mode := pluginsdk.RepeatMode(call.Argument(0).String())
	return b.ok(b.c.Player().SetRepeat(b.m.context(), mode))
}

// Navigation and UI

func (b *bindings) navigate(call goja.FunctionCall) goja.Value {
	return b.ok(b.c.Navigation().Navigate(b.m.context(), call.Argument(0).String()))
}

func (b *bindings) currentView(goja.FunctionCall) goja.Value {
	v, err := b.c.Navigation().CurrentView()
	if err != nil {
		return b.throw(err)
	}
	return b.vm.ToValue(v)
}

func (b *bindings) registerView(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).String()
	fn, _ := b.function(call.Argument(1))
	r := ui.RenderFunc(func(ctx context.Context, width, height int) (string, error) {
		return exportString(b.m.invoke(ctx, false, fn, width, height))
	})
	return b.ok(b.c.Navigation().RegisterView(id, r))
}

func (b *bindings) unregisterView(call goja.FunctionCall) goja.Value {
	return b.ok(b.c.Navigation().UnregisterView(call.Argument(0).String()))
}

// keys accepts a single chord string or an array of them.
func (b *bindings) keys(v goja.Value) []string {
	switch val := v.Export().(type) {
	case string:
		return []string{val}
	case []any:
		keys := make([]string, len(val))
		for i, k := range val {
			keys[i] = fmt.Sprint(k)
		}
		return keys
	default:
		b.typeError("expected a key chord or an array of chords")
		return nil
	}
}

func (b *bindings) registerShortcut(call goja.FunctionCall) goja.Value {
	keys := b.keys(call.Argument(0))
	fn, _ := b.function(call.Argument(1))
	action := func(ctx context.Context) error {
		_, err := b.m.invoke(ctx, false, fn)
		return err
	}
	return b.ok(b.c.RegisterShortcut(keys, action))
}

func (b *bindings) unregisterShortcut(call goja.FunctionCall) goja.Value {
	return b.ok(b.c.UnregisterShortcut(b.keys(call.Argument(0))))
}

// Config

func (b *bindings) configGet(call goja.FunctionCall) goja.Value {
	var def any
	if arg := call.Argument(1); !absent(arg) {
		def = arg.Export()
	}
	v, err := b.c.Config().Get(call.Argument(0).String(), def)
	if err != nil {
		return b.throw(err)
	}
	return b.vm.ToValue(v)
}

func (b *bindings) configSet(call goja.FunctionCall) goja.Value {
	var val any
	if arg := call.Argument(1); !absent(arg) {
		val = arg.Export()
	}
	return b.ok(b.c.Config().Set(call.Argument(0).String(), val))
}

func (b *bindings) configDelete(call goja.FunctionCall) goja.Value {
	return b.ok(b.c.Config().Delete(call.Argument(0).String()))
}

func (b *bindings) configAll(goja.FunctionCall) goja.Value {
	all, err := b.c.Config().All()
	if err != nil {
		return b.throw(err)
	}
	return b.vm.ToValue(all)
}

// Files

func (b *bindings) dataDir(goja.FunctionCall) goja.Value {
	return b.vm.ToValue(b.c.Files().DataDir())
}

func (b *bindings) readFile(call goja.FunctionCall) goja.Value {
	data, err := b.c.Files().ReadFile(call.Argument(0).String())
	if err != nil {
		return b.throw(err)
	}
	return b.vm.ToValue(data)
}

func (b *bindings) writeFile(call goja.FunctionCall) goja.Value {
	return b.ok(b.c.Files().WriteFile(call.Argument(0).String(), call.Argument(1).String()))
}

func (b *bindings) deleteFile(call goja.FunctionCall) goja.Value {
	return b.ok(b.c.Files().DeleteFile(call.Argument(0).String()))
}

func (b *bindings) exists(call goja.FunctionCall) goja.Value {
	ok, err := b.c.Files().Exists(call.Argument(0).String())
	if err != nil {
		return b.throw(err)
	}
	return b.vm.ToValue(ok)
}

func (b *bindings) list(call goja.FunctionCall) goja.Value {
	dir := "."
	if arg := call.Argument(0); !absent(arg) {
		dir = arg.String()
	}
	names, err := b.c.Files().ListFiles(dir)
	if err != nil {
		return b.throw(err)
	}
	return b.vm.ToValue(toAny(names))
}

func (b *bindings) glob(call goja.FunctionCall) goja.Value {
	names, err := b.c.Files().Glob(call.Argument(0).String())
	if err != nil {
		return b.throw(err)
	}
	return b.vm.ToValue(toAny(names))
}

// toAny copies names into a []any, which goja exposes as a real array.
func toAny(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// Audio

// registerTransformer returns a function that removes the transformer.
func (b *bindings) registerTransformer(call goja.FunctionCall) goja.Value {
	fn, _ := b.function(call.Argument(0))
	t := audio.TransformFunc(func(ctx context.Context, url string, track *pluginsdk.Track) (string, error) {
		return exportString(b.m.invokeWithin(ctx, script.CallbackWait, fn, url, trackArg(track)))
	})
	remove, err := b.c.Audio().RegisterTransformer(t)
	if err != nil {
		return b.throw(err)
	}
	return b.vm.ToValue(func(goja.FunctionCall) goja.Value {
		remove()
		return goja.Undefined()
	})
}

func (b *bindings) onStreamRequest(call goja.FunctionCall) goja.Value {
	fn, _ := b.function(call.Argument(0))
	_, err := b.c.Audio().OnStreamRequest(func(ctx context.Context, url string, track *pluginsdk.Track) error {
		_, err := b.m.invoke(ctx, true, fn, url, trackArg(track))
		return err
	})
	return b.ok(err)
}
