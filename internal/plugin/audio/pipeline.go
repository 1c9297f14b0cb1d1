// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package audio lets plugins observe and rewrite stream URLs before playback.
package audio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Emitter publishes events without waiting for handlers. *event.Bus
// satisfies it.
type Emitter interface {
	EmitAsync(ctx context.Context, ev pluginsdk.Event) error
}

// Transformer rewrites a stream URL. Returning "" keeps the URL unchanged.
type Transformer interface {
	TransformURL(ctx context.Context, url string, track *pluginsdk.Track) (string, error)
}

// TransformFunc adapts a function to Transformer.
type TransformFunc func(ctx context.Context, url string, track *pluginsdk.Track) (string, error)

// TransformURL implements Transformer.
func (f TransformFunc) TransformURL(ctx context.Context, url string, track *pluginsdk.Track) (string, error) {
	return f(ctx, url, track)
}

type entry struct {
	id     uint64
	owner  string
	t      Transformer
	active func() bool
}

// Pipeline runs registered transformers in registration order.
//
// Pipeline is safe for concurrent use.
type Pipeline struct {
	bus    Emitter
	logger *slog.Logger

	mu      sync.RWMutex
	nextID  uint64
	entries []entry
}

// NewPipeline creates a pipeline that announces streams on bus.
func NewPipeline(bus Emitter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{bus: bus, logger: logger}
}

// Register adds a transformer owned by a plugin. active reports whether the
// owner is currently enabled; inactive transformers are skipped. The returned
// function removes the transformer.
func (p *Pipeline) Register(owner string, t Transformer, active func() bool) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.entries = append(p.entries, entry{id: id, owner: owner, t: t, active: active})
	return func() { p.remove(id) }
}

// UnregisterOwner removes every transformer owned by a plugin.
func (p *Pipeline) UnregisterOwner(owner string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.entries[:0]
	for _, e := range p.entries {
		if e.owner != owner {
			kept = append(kept, e)
		}
	}
	clear(p.entries[len(kept):])
	p.entries = kept
}

// Len returns the number of registered transformers.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

func (p *Pipeline) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e.id == id {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

// Transform announces a stream-request and passes url through every active
// transformer. A failing transformer is logged and skipped.
func (p *Pipeline) Transform(ctx context.Context, url string, track *pluginsdk.Track) string {
	p.emit(ctx, pluginsdk.NewAudioStreamEvent(pluginsdk.EventStreamRequest, url, track, ""))

	p.mu.RLock()
	entries := make([]entry, len(p.entries))
	copy(entries, p.entries)
	p.mu.RUnlock()

	for _, e := range entries {
		if e.active != nil && !e.active() {
			continue
		}
		next, err := e.t.TransformURL(ctx, url, track)
		if err != nil {
			errutil.LogWarn(p.logger, "audio transformer failed",
				oops.In("audio").With("plugin_id", e.owner).With("url", url).Wrap(err))
			continue
		}
		if next != "" {
			url = next
		}
	}
	return url
}

// NotifyStart announces that playback of url has begun.
func (p *Pipeline) NotifyStart(ctx context.Context, url string, track *pluginsdk.Track) {
	p.emit(ctx, pluginsdk.NewAudioStreamEvent(pluginsdk.EventStreamStart, url, track, ""))
}

// NotifyEnd announces that playback of a track has finished.
func (p *Pipeline) NotifyEnd(ctx context.Context, track *pluginsdk.Track) {
	p.emit(ctx, pluginsdk.NewAudioStreamEvent(pluginsdk.EventStreamEnd, "", track, ""))
}

// NotifyError announces a stream failure.
func (p *Pipeline) NotifyError(ctx context.Context, track *pluginsdk.Track, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	p.logger.Error("audio stream error", "error", cause)
	p.emit(ctx, pluginsdk.NewAudioStreamEvent(pluginsdk.EventStreamError, "", track, msg))
}

func (p *Pipeline) emit(ctx context.Context, ev pluginsdk.Event) {
	if p.bus == nil {
		return
	}
	if err := p.bus.EmitAsync(ctx, ev); err != nil {
		p.logger.Debug("audio event not delivered", "event_type", string(ev.EventMeta().Type), "error", err)
	}
}
