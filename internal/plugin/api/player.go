// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"context"
	"time"

	"github.com/samber/oops"

	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

var errNoPlayer = oops.In("api").Errorf("no player backend is attached")

// Player is the permission-checked player control surface. Every method
// requires the player permission.
type Player struct {
	c *Context
}

// Player returns the player controls.
func (c *Context) Player() Player { return Player{c: c} }

func (p Player) call(op string, fn func(b PlayerBackend) error) error {
	return guardErr(p.c, pluginsdk.PermPlayer, op, func() error {
		if p.c.deps.Player == nil {
			return errNoPlayer
		}
		return fn(p.c.deps.Player)
	})
}

func (p Player) state(op string) (pluginsdk.PlayerState, error) {
	return guard(p.c, pluginsdk.PermPlayer, op, func() (pluginsdk.PlayerState, error) {
		if p.c.deps.Player == nil {
			return pluginsdk.PlayerState{}, errNoPlayer
		}
		return p.c.deps.Player.State(), nil
	})
}

// Play starts track, or resumes the current one when track is nil.
func (p Player) Play(ctx context.Context, track *pluginsdk.Track) error {
	return p.call("play", func(b PlayerBackend) error { return b.Play(ctx, track) })
}

// Pause pauses playback.
func (p Player) Pause(ctx context.Context) error {
	return p.call("pause", func(b PlayerBackend) error { return b.Pause(ctx) })
}

// Resume resumes playback.
func (p Player) Resume(ctx context.Context) error {
	return p.call("resume", func(b PlayerBackend) error { return b.Resume(ctx) })
}

// Stop stops playback.
func (p Player) Stop(ctx context.Context) error {
	return p.call("stop", func(b PlayerBackend) error { return b.Stop(ctx) })
}

// Next skips to the next track.
func (p Player) Next(ctx context.Context) error {
	return p.call("next", func(b PlayerBackend) error { return b.Next(ctx) })
}

// Previous goes back one track.
func (p Player) Previous(ctx context.Context) error {
	return p.call("previous", func(b PlayerBackend) error { return b.Previous(ctx) })
}

// Seek moves the playhead.
func (p Player) Seek(ctx context.Context, position time.Duration) error {
	return p.call("seek", func(b PlayerBackend) error { return b.Seek(ctx, position) })
}

// Volume returns the current volume.
func (p Player) Volume() (int, error) {
	s, err := p.state("volume")
	return s.Volume, err
}

// SetVolume sets the volume.
func (p Player) SetVolume(ctx context.Context, volume int) error {
	return p.call("set_volume", func(b PlayerBackend) error { return b.SetVolume(ctx, volume) })
}

// CurrentTrack returns the current track, or nil when nothing is loaded.
func (p Player) CurrentTrack() (*pluginsdk.Track, error) {
	s, err := p.state("current_track")
	return s.Track, err
}

// Queue returns a copy of the play queue.
func (p Player) Queue() ([]pluginsdk.Track, error) {
	s, err := p.state("queue")
	return s.Queue, err
}

// State returns a snapshot of the whole player.
func (p Player) State() (pluginsdk.PlayerState, error) {
	return p.state("state")
}

// AddToQueue appends track to the queue.
func (p Player) AddToQueue(ctx context.Context, track pluginsdk.Track) error {
	return p.call("add_to_queue", func(b PlayerBackend) error { return b.AddToQueue(ctx, track) })
}

// RemoveFromQueue removes the queue entry at index.
func (p Player) RemoveFromQueue(ctx context.Context, index int) error {
	return p.call("remove_from_queue", func(b PlayerBackend) error { return b.RemoveFromQueue(ctx, index) })
}

// ClearQueue empties the queue.
func (p Player) ClearQueue(ctx context.Context) error {
	return p.call("clear_queue", func(b PlayerBackend) error { return b.ClearQueue(ctx) })
}

// SetShuffle toggles shuffle.
func (p Player) SetShuffle(ctx context.Context, enabled bool) error {
	return p.call("shuffle", func(b PlayerBackend) error { return b.SetShuffle(ctx, enabled) })
}

// SetRepeat sets the repeat mode.
func (p Player) SetRepeat(ctx context.Context, mode pluginsdk.RepeatMode) error {
	return p.call("set_repeat", func(b PlayerBackend) error { return b.SetRepeat(ctx, mode) })
}
