// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package event fans player, navigation and audio events out to plugin handlers.
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// DefaultHandlerTimeout bounds how long Emit waits for one handler.
const DefaultHandlerTimeout = 5 * time.Second

// ErrClosed is returned by Emit and EmitAsync after Close.
var ErrClosed = errors.New("event bus closed")

// Handler receives events of the types it is registered for.
//
// Handlers are kept in a set, so their dynamic type must be comparable.
// Pointer receivers always are; use NewHandler to wrap a plain function.
type Handler interface {
	Handle(ctx context.Context, ev pluginsdk.Event) error
}

// Owned is implemented by handlers that belong to a plugin. The owner is
// attached to log records about the handler.
type Owned interface {
	Owner() string
}

type funcHandler struct {
	fn func(context.Context, pluginsdk.Event) error
}

func (h *funcHandler) Handle(ctx context.Context, ev pluginsdk.Event) error {
	return h.fn(ctx, ev)
}

// NewHandler wraps fn in a Handler with its own identity. Keep the returned
// value to unregister it later.
func NewHandler(fn func(context.Context, pluginsdk.Event) error) Handler {
	return &funcHandler{fn: fn}
}

// Bus dispatches events to registered handlers.
//
// Bus is safe for concurrent use.
type Bus struct {
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.RWMutex
	handlers map[pluginsdk.EventType]map[Handler]struct{}

	closeMu sync.RWMutex
	closed  bool
	async   sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// WithHandlerTimeout sets the per-handler timeout used by Emit.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.timeout = d
	}
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:   slog.Default(),
		timeout:  DefaultHandlerTimeout,
		handlers: make(map[pluginsdk.EventType]map[Handler]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers h for typ. Registering the same handler twice is a no-op.
func (b *Bus) On(typ pluginsdk.EventType, h Handler) error {
	if !typ.Valid() {
		return oops.In("event").With("event_type", string(typ)).Errorf("unknown event type %q", typ)
	}
	if h == nil {
		return oops.In("event").With("event_type", string(typ)).Errorf("handler is nil")
	}
	if !reflect.TypeOf(h).Comparable() {
		return oops.In("event").
			With("event_type", string(typ)).
			Errorf("handler of type %T is not comparable", h)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.handlers[typ]
	if !ok {
		set = make(map[Handler]struct{})
		b.handlers[typ] = set
	}
	set[h] = struct{}{}
	return nil
}

// Off unregisters h for typ. Removing the last handler frees the type's set.
func (b *Bus) Off(typ pluginsdk.EventType, h Handler) {
	if h == nil || !reflect.TypeOf(h).Comparable() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.handlers[typ]
	if !ok {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(b.handlers, typ)
	}
}

// Clear removes every handler for typ.
func (b *Bus) Clear(typ pluginsdk.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, typ)
}

// ClearAll removes every handler.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[pluginsdk.EventType]map[Handler]struct{})
}

// HandlerCount returns the number of handlers registered for typ.
func (b *Bus) HandlerCount(typ pluginsdk.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[typ])
}

// RegisteredTypes returns the event types with at least one handler, sorted.
func (b *Bus) RegisteredTypes() []pluginsdk.EventType {
	b.mu.RLock()
	defer b.mu.RUnlock()
	types := make([]pluginsdk.EventType, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Emit delivers ev to every handler registered for its type, concurrently,
// and returns once all of them have returned or timed out. Handler errors and
// panics are logged and never returned. The error reports an invalid event or
// a closed bus.
func (b *Bus) Emit(ctx context.Context, ev pluginsdk.Event) error {
	if b.isClosed() {
		return ErrClosed
	}
	if err := pluginsdk.CheckEvent(ev); err != nil {
		return oops.In("event").Wrap(err)
	}
	b.dispatch(ctx, ev)
	return nil
}

func (b *Bus) dispatch(ctx context.Context, ev pluginsdk.Event) {
	typ := ev.EventMeta().Type
	handlers := b.snapshot(typ)
	recordEmit(typ, len(handlers))

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			b.deliver(ctx, h, ev)
		}(h)
	}
	wg.Wait()
}

// EmitAsync starts Emit in the background and returns immediately.
// Close waits for in-flight async emissions.
func (b *Bus) EmitAsync(ctx context.Context, ev pluginsdk.Event) error {
	if err := pluginsdk.CheckEvent(ev); err != nil {
		return oops.In("event").Wrap(err)
	}

	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		return ErrClosed
	}
	b.async.Add(1)
	b.closeMu.RUnlock()

	go func() {
		defer b.async.Done()
		b.dispatch(context.WithoutCancel(ctx), ev)
	}()
	return nil
}

// Wait blocks until in-flight async emissions have finished.
func (b *Bus) Wait() {
	b.async.Wait()
}

// Close rejects further emissions and waits for in-flight async ones.
func (b *Bus) Close() {
	b.closeMu.Lock()
	b.closed = true
	b.closeMu.Unlock()
	b.async.Wait()
}

func (b *Bus) isClosed() bool {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	return b.closed
}

func (b *Bus) snapshot(typ pluginsdk.EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set := b.handlers[typ]
	out := make([]Handler, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

func (b *Bus) deliver(ctx context.Context, h Handler, ev pluginsdk.Event) {
	meta := ev.EventMeta()
	attrs := []any{
		"event_id", meta.ID.String(),
		"event_type", string(meta.Type),
		"handler", fmt.Sprintf("%T", h),
	}
	if o, ok := h.(Owned); ok {
		attrs = append(attrs, "plugin_id", o.Owner())
	}

	hctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- h.Handle(hctx, ev)
	}()

	select {
	case err := <-done:
		if err != nil {
			recordFailure(meta.Type, "error")
			b.logger.Error("event handler failed", append(attrs, "error", err)...)
		}
	case <-hctx.Done():
		switch {
		case errors.Is(hctx.Err(), context.DeadlineExceeded):
			recordFailure(meta.Type, "timeout")
			b.logger.Warn("event handler timed out",
				append(attrs, "code", pluginsdk.CodeHookTimeout, "timeout", b.timeout.String())...)
		default:
			b.logger.Debug("event handler canceled", attrs...)
		}
	}
}
