// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package audio_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/muse/internal/plugin/audio"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

type recordingBus struct {
	mu     sync.Mutex
	events []pluginsdk.Event
}

func (b *recordingBus) EmitAsync(_ context.Context, ev pluginsdk.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) types() []pluginsdk.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]pluginsdk.EventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.EventMeta().Type
	}
	return out
}

func appendParam(param string) audio.TransformFunc {
	return func(_ context.Context, url string, _ *pluginsdk.Track) (string, error) {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		return url + sep + param, nil
	}
}

func always() bool { return true }

func TestPipeline_TransformChainsInOrder(t *testing.T) {
	bus := &recordingBus{}
	p := audio.NewPipeline(bus, nil)
	p.Register("a", appendParam("a=1"), always)
	p.Register("b", appendParam("b=2"), always)

	track := &pluginsdk.Track{ID: "t1"}
	got := p.Transform(context.Background(), "http://cdn/x", track)

	assert.Equal(t, "http://cdn/x?a=1&b=2", got)
	assert.Equal(t, []pluginsdk.EventType{pluginsdk.EventStreamRequest}, bus.types())
	ev, ok := bus.events[0].(pluginsdk.AudioStreamEvent)
	require.True(t, ok)
	assert.Equal(t, "http://cdn/x", ev.URL)
	assert.Equal(t, "t1", ev.Track.ID)
}

func TestPipeline_SkipsInactiveAndFailing(t *testing.T) {
	p := audio.NewPipeline(nil, nil)
	p.Register("off", appendParam("off=1"), func() bool { return false })
	p.Register("bad", audio.TransformFunc(func(context.Context, string, *pluginsdk.Track) (string, error) {
		return "http://evil", errors.New("boom")
	}), always)
	p.Register("noop", audio.TransformFunc(func(context.Context, string, *pluginsdk.Track) (string, error) {
		return "", nil
	}), always)

	assert.Equal(t, "http://cdn/x", p.Transform(context.Background(), "http://cdn/x", nil))
}

func TestPipeline_Unregister(t *testing.T) {
	p := audio.NewPipeline(nil, nil)
	remove := p.Register("a", appendParam("a=1"), always)
	p.Register("b", appendParam("b=1"), always)
	p.Register("b", appendParam("b=2"), always)
	require.Equal(t, 3, p.Len())

	remove()
	assert.Equal(t, "u?b=1&b=2", p.Transform(context.Background(), "u", nil))

	p.UnregisterOwner("b")
	assert.Equal(t, 0, p.Len())
	remove()
}

func TestPipeline_Notifications(t *testing.T) {
	bus := &recordingBus{}
	p := audio.NewPipeline(bus, nil)
	track := &pluginsdk.Track{ID: "t1"}

	p.NotifyStart(context.Background(), "u", track)
	p.NotifyEnd(context.Background(), track)
	p.NotifyError(context.Background(), track, errors.New("403"))

	assert.Equal(t, []pluginsdk.EventType{
		pluginsdk.EventStreamStart, pluginsdk.EventStreamEnd, pluginsdk.EventStreamError,
	}, bus.types())
	last, ok := bus.events[2].(pluginsdk.AudioStreamEvent)
	require.True(t, ok)
	assert.Equal(t, "403", last.Error)
}
