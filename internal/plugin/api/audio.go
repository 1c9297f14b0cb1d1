// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/muse/internal/plugin/audio"
	"github.com/holomush/muse/internal/plugin/event"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Audio lets a plugin observe and rewrite stream URLs. Every method requires
// the player permission.
type Audio struct {
	c *Context
}

// Audio returns the audio API.
func (c *Context) Audio() Audio { return Audio{c: c} }

// RegisterTransformer adds t to the host's stream URL pipeline. The returned
// function removes it; the context also removes it on close.
func (a Audio) RegisterTransformer(t audio.Transformer) (func(), error) {
	return guard(a.c, pluginsdk.PermPlayer, "register_transformer", func() (func(), error) {
		if t == nil {
			return nil, oops.In("api").With("plugin_id", a.c.id).Errorf("transformer is nil")
		}
		return a.c.deps.Audio.Register(a.c.id, t, a.c.Active), nil
	})
}

// StreamRequestFunc observes a stream about to be played.
type StreamRequestFunc func(ctx context.Context, url string, track *pluginsdk.Track) error

// OnStreamRequest subscribes fn to stream-request events.
func (a Audio) OnStreamRequest(fn StreamRequestFunc) (event.Handler, error) {
	if fn == nil {
		return nil, oops.In("api").With("plugin_id", a.c.id).Errorf("handler is nil")
	}
	h := event.NewHandler(func(ctx context.Context, ev pluginsdk.Event) error {
		req, ok := ev.(pluginsdk.AudioStreamEvent)
		if !ok || req.URL == "" {
			return nil
		}
		return fn(ctx, req.URL, req.Track)
	})
	if err := a.c.On(pluginsdk.EventStreamRequest, h); err != nil {
		return nil, err
	}
	return h, nil
}
