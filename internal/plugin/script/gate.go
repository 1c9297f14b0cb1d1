// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package script holds what the Lua and JavaScript runtimes share: the
// per-module call gate and the conversion of events, tracks and manifests to
// and from plain maps.
package script

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/oops"
)

// CallbackWait bounds how long a host callback into another plugin, such as
// an audio transformer, waits for that plugin's gate.
const CallbackWait = 500 * time.Millisecond

// ErrClosed is returned by Enter once the gate is closed.
var ErrClosed = errors.New("plugin module is closed")

// Gate serializes calls into one interpreter.
//
// A call entered through Enter marks its context. Callbacks that the host
// runs synchronously on behalf of that call (an audio transformer triggered
// by the plugin's own play request, say) pass the marked context back to
// Enter and run without locking again. Callbacks that run on other
// goroutines, such as bus handlers, must use EnterDetached.
//
// Waiting for the gate always honors the caller's context, so a plugin that
// holds its gate stalls only the callers waiting on it.
type Gate struct {
	mu     sync.Mutex
	sem    chan struct{}
	done   chan struct{}
	closed bool
	onIdle func()
}

type gateKey struct{ g *Gate }

func noop() {}

func (g *Gate) init() {
	if g.sem == nil {
		g.sem = make(chan struct{}, 1)
		g.done = make(chan struct{})
	}
}

// Enter acquires the gate unless ctx already holds it, waiting until ctx
// ends. The returned context is marked as holding the gate; release must be
// called when done.
func (g *Gate) Enter(ctx context.Context) (marked context.Context, release func(), err error) {
	if g.Held(ctx) {
		return ctx, noop, nil
	}
	return g.acquire(ctx, nil)
}

// EnterWithin is Enter with the wait for the gate bounded by wait. The
// bound applies to acquiring only, not to the call made while holding it.
func (g *Gate) EnterWithin(ctx context.Context, wait time.Duration) (marked context.Context, release func(), err error) {
	if g.Held(ctx) {
		return ctx, noop, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	return g.acquire(ctx, timer.C)
}

// EnterDetached always acquires the gate, waiting until ctx ends.
func (g *Gate) EnterDetached(ctx context.Context) (marked context.Context, release func(), err error) {
	return g.acquire(ctx, nil)
}

func (g *Gate) acquire(ctx context.Context, expired <-chan time.Time) (context.Context, func(), error) {
	g.mu.Lock()
	g.init()
	sem, done, closed := g.sem, g.done, g.closed
	g.mu.Unlock()
	if closed {
		return ctx, noop, ErrClosed
	}

	select {
	case sem <- struct{}{}:
	case <-done:
		return ctx, noop, ErrClosed
	case <-expired:
		return ctx, noop, oops.In("script").Errorf("plugin is busy")
	case <-ctx.Done():
		return ctx, noop, oops.In("script").Wrapf(context.Cause(ctx), "waiting for plugin")
	}

	var once sync.Once
	release := func() { once.Do(g.release) }
	g.mu.Lock()
	closed = g.closed
	g.mu.Unlock()
	if closed {
		release()
		return ctx, noop, ErrClosed
	}
	return context.WithValue(ctx, gateKey{g}, true), release, nil
}

// release frees the gate, or hands it to a pending Close callback which then
// keeps it for good.
func (g *Gate) release() {
	g.mu.Lock()
	fn := g.onIdle
	g.onIdle = nil
	if fn == nil {
		<-g.sem
	}
	g.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close marks the gate closed without waiting for it. fn runs once no call
// holds the gate: at once when idle, otherwise when the current holder
// releases it. Later calls fail with ErrClosed.
func (g *Gate) Close(fn func()) {
	g.mu.Lock()
	g.init()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.done)
	select {
	case g.sem <- struct{}{}:
		g.mu.Unlock()
		fn()
	default:
		g.onIdle = fn
		g.mu.Unlock()
	}
}

// Closed reports whether Close was called.
func (g *Gate) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Held reports whether ctx was marked by Enter on g.
func (g *Gate) Held(ctx context.Context) bool {
	held, _ := ctx.Value(gateKey{g}).(bool)
	return held
}
