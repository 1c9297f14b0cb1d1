// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package player is the in-memory playback model the plugin host drives: a
// queue with a current position, volume, shuffle and repeat, plus a view
// stack for navigation. Every change is announced on the event bus.
package player

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/muse/internal/plugin/audio"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// DefaultVolume is the volume of a new player.
const DefaultVolume = 50

// Emitter publishes events without waiting for handlers.
type Emitter interface {
	EmitAsync(ctx context.Context, ev pluginsdk.Event) error
}

// Player keeps the playback state. It does not decode audio: the resolved
// stream URL is handed to the audio pipeline, whose listeners do the work.
//
// Player is safe for concurrent use.
type Player struct {
	bus      Emitter
	pipeline *audio.Pipeline
	logger   *slog.Logger
	rand     func(n int) int

	mu       sync.Mutex
	queue    []pluginsdk.Track
	pos      int // index into queue, -1 when nothing is selected
	playing  bool
	position time.Duration
	volume   int
	shuffle  bool
	repeat   pluginsdk.RepeatMode
	url      string
}

// Option configures a Player.
type Option func(*Player)

// WithPipeline resolves stream URLs through p before playback.
func WithPipeline(p *audio.Pipeline) Option {
	return func(pl *Player) {
		pl.pipeline = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(pl *Player) {
		pl.logger = l
	}
}

// WithRand sets the source of shuffle picks. fn returns a value in [0, n).
func WithRand(fn func(n int) int) Option {
	return func(pl *Player) {
		pl.rand = fn
	}
}

// WithVolume sets the initial volume.
func WithVolume(v int) Option {
	return func(pl *Player) {
		pl.volume = v
	}
}

// New creates an idle player announcing changes on bus.
func New(bus Emitter, opts ...Option) *Player {
	p := &Player{
		bus:    bus,
		logger: slog.Default(),
		rand:   rand.IntN,
		pos:    -1,
		volume: DefaultVolume,
		repeat: pluginsdk.RepeatOff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns a snapshot of the playback state.
func (p *Player) State() pluginsdk.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Player) stateLocked() pluginsdk.PlayerState {
	s := pluginsdk.PlayerState{
		Position: p.position,
		Volume:   p.volume,
		Queue:    slices.Clone(p.queue),
		Shuffle:  p.shuffle,
		Repeat:   p.repeat,
	}
	if t := p.currentLocked(); t != nil {
		c := *t
		s.Track = &c
	}
	return s
}

func (p *Player) currentLocked() *pluginsdk.Track {
	if p.pos < 0 || p.pos >= len(p.queue) {
		return nil
	}
	return &p.queue[p.pos]
}

// Playing reports whether a track is playing.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// StreamURL returns the resolved URL of the current track.
func (p *Player) StreamURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Play starts track, adding it to the queue if needed. A nil track restarts
// the current track, or starts the head of the queue.
func (p *Player) Play(ctx context.Context, track *pluginsdk.Track) error {
	p.mu.Lock()
	switch {
	case track != nil:
		if track.ID == "" {
			p.mu.Unlock()
			return oops.In("player").Errorf("track id is required")
		}
		idx := slices.IndexFunc(p.queue, func(t pluginsdk.Track) bool { return t.ID == track.ID })
		if idx < 0 {
			p.queue = append(p.queue, *track)
			idx = len(p.queue) - 1
		}
		p.pos = idx
	case p.pos < 0 && len(p.queue) > 0:
		p.pos = 0
	case p.pos < 0:
		p.mu.Unlock()
		return oops.In("player").Errorf("nothing to play")
	}
	return p.start(ctx, true)
}

// start begins the current track from the top. Must be called with p.mu
// held; it releases it.
func (p *Player) start(ctx context.Context, announceQueue bool) error {
	current := p.currentLocked()
	if current == nil {
		p.mu.Unlock()
		return oops.In("player").Errorf("nothing to play")
	}
	track := *current
	p.playing = true
	p.position = 0
	p.mu.Unlock()

	url := track.URL
	if p.pipeline != nil && url != "" {
		url = p.pipeline.Transform(ctx, url, &track)
	}

	p.mu.Lock()
	p.url = url
	state := p.stateLocked()
	p.mu.Unlock()

	p.logger.Debug("playing track", "track_id", track.ID, "url", url)
	if announceQueue {
		p.emit(ctx, pluginsdk.EventQueueChange, state)
	}
	p.emit(ctx, pluginsdk.EventTrackChange, state)
	p.emit(ctx, pluginsdk.EventPlay, state)
	if p.pipeline != nil {
		p.pipeline.NotifyStart(ctx, url, &track)
	}
	return nil
}

// Pause pauses playback. Pausing while paused is a no-op.
func (p *Player) Pause(ctx context.Context) error {
	return p.setPlaying(ctx, false, pluginsdk.EventPause)
}

// Resume continues a paused track.
func (p *Player) Resume(ctx context.Context) error {
	return p.setPlaying(ctx, true, pluginsdk.EventResume)
}

func (p *Player) setPlaying(ctx context.Context, playing bool, typ pluginsdk.EventType) error {
	p.mu.Lock()
	if p.currentLocked() == nil {
		p.mu.Unlock()
		return oops.In("player").With("operation", string(typ)).Errorf("no track selected")
	}
	if p.playing == playing {
		p.mu.Unlock()
		return nil
	}
	p.playing = playing
	state := p.stateLocked()
	p.mu.Unlock()
	p.emit(ctx, typ, state)
	return nil
}

// Stop ends playback and rewinds. The queue is kept.
func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	track := p.currentLocked()
	wasActive := p.playing || p.position > 0
	p.playing = false
	p.position = 0
	state := p.stateLocked()
	p.mu.Unlock()

	if !wasActive {
		return nil
	}
	p.emit(ctx, pluginsdk.EventStop, state)
	if p.pipeline != nil && track != nil {
		p.pipeline.NotifyEnd(ctx, state.Track)
	}
	return nil
}

// Next advances to the next track. With repeat one the current track starts
// over; with repeat all the queue wraps; with shuffle a random other track
// is picked. At the end of the queue playback stops.
func (p *Player) Next(ctx context.Context) error {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return oops.In("player").Errorf("queue is empty")
	}
	next := p.nextIndexLocked()
	if next < 0 {
		p.mu.Unlock()
		return p.Stop(ctx)
	}
	p.pos = next
	state := p.stateLocked()
	p.mu.Unlock()
	p.emit(ctx, pluginsdk.EventNext, state)
	p.mu.Lock()
	return p.start(ctx, false)
}

func (p *Player) nextIndexLocked() int {
	n := len(p.queue)
	switch {
	case p.repeat == pluginsdk.RepeatOne && p.pos >= 0:
		return p.pos
	case p.shuffle && n > 1:
		i := p.rand(n - 1)
		if i >= p.pos {
			i++
		}
		return i
	case p.pos+1 < n:
		return p.pos + 1
	case p.repeat == pluginsdk.RepeatAll:
		return 0
	default:
		return -1
	}
}

// Previous goes back one track, wrapping with repeat all. At the head of the
// queue the current track starts over.
func (p *Player) Previous(ctx context.Context) error {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return oops.In("player").Errorf("queue is empty")
	}
	switch {
	case p.pos > 0:
		p.pos--
	case p.repeat == pluginsdk.RepeatAll:
		p.pos = len(p.queue) - 1
	default:
		p.pos = 0
	}
	state := p.stateLocked()
	p.mu.Unlock()
	p.emit(ctx, pluginsdk.EventPrevious, state)
	p.mu.Lock()
	return p.start(ctx, false)
}

// Seek moves within the current track. Positions past a known duration are
// clamped to it.
func (p *Player) Seek(ctx context.Context, position time.Duration) error {
	if position < 0 {
		return oops.In("player").With("position", position.String()).Errorf("position must not be negative")
	}
	p.mu.Lock()
	track := p.currentLocked()
	if track == nil {
		p.mu.Unlock()
		return oops.In("player").Errorf("no track selected")
	}
	if track.Duration > 0 && position > track.Duration {
		position = track.Duration
	}
	p.position = position
	state := p.stateLocked()
	p.mu.Unlock()
	p.emit(ctx, pluginsdk.EventSeek, state)
	return nil
}

// SetVolume sets the volume, 0 to 100.
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 || volume > 100 {
		return oops.In("player").With("volume", volume).Errorf("volume must be between 0 and 100")
	}
	p.mu.Lock()
	if p.volume == volume {
		p.mu.Unlock()
		return nil
	}
	p.volume = volume
	state := p.stateLocked()
	p.mu.Unlock()
	p.emit(ctx, pluginsdk.EventVolumeChange, state)
	return nil
}

// AddToQueue appends track to the queue.
func (p *Player) AddToQueue(ctx context.Context, track pluginsdk.Track) error {
	if track.ID == "" {
		return oops.In("player").Errorf("track id is required")
	}
	p.mu.Lock()
	p.queue = append(p.queue, track)
	state := p.stateLocked()
	p.mu.Unlock()
	p.emit(ctx, pluginsdk.EventQueueChange, state)
	return nil
}

// RemoveFromQueue removes the track at index. Removing the current track
// stops playback.
func (p *Player) RemoveFromQueue(ctx context.Context, index int) error {
	p.mu.Lock()
	if index < 0 || index >= len(p.queue) {
		n := len(p.queue)
		p.mu.Unlock()
		return oops.In("player").With("index", index).With("queue_length", n).Errorf("queue index %d out of range", index)
	}
	p.queue = slices.Delete(p.queue, index, index+1)
	switch {
	case index == p.pos:
		p.pos = -1
		p.playing = false
		p.position = 0
		p.url = ""
	case index < p.pos:
		p.pos--
	}
	state := p.stateLocked()
	p.mu.Unlock()
	p.emit(ctx, pluginsdk.EventQueueChange, state)
	return nil
}

// ClearQueue empties the queue and stops playback.
func (p *Player) ClearQueue(ctx context.Context) error {
	p.mu.Lock()
	p.queue = nil
	p.pos = -1
	p.playing = false
	p.position = 0
	p.url = ""
	state := p.stateLocked()
	p.mu.Unlock()
	p.emit(ctx, pluginsdk.EventQueueChange, state)
	return nil
}

// SetShuffle turns shuffle on or off.
func (p *Player) SetShuffle(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	if p.shuffle == enabled {
		p.mu.Unlock()
		return nil
	}
	p.shuffle = enabled
	state := p.stateLocked()
	p.mu.Unlock()
	p.emit(ctx, pluginsdk.EventShuffleChange, state)
	return nil
}

// SetRepeat sets the repeat mode.
func (p *Player) SetRepeat(ctx context.Context, mode pluginsdk.RepeatMode) error {
	switch mode {
	case pluginsdk.RepeatOff, pluginsdk.RepeatAll, pluginsdk.RepeatOne:
	default:
		return oops.In("player").With("mode", string(mode)).Errorf("unknown repeat mode %q", mode)
	}
	p.mu.Lock()
	if p.repeat == mode {
		p.mu.Unlock()
		return nil
	}
	p.repeat = mode
	state := p.stateLocked()
	p.mu.Unlock()
	p.emit(ctx, pluginsdk.EventRepeatChange, state)
	return nil
}

func (p *Player) emit(ctx context.Context, typ pluginsdk.EventType, state pluginsdk.PlayerState) {
	if p.bus == nil {
		return
	}
	if err := p.bus.EmitAsync(ctx, pluginsdk.NewPlayerEvent(typ, state)); err != nil {
		p.logger.Debug("player event not delivered", "event_type", string(typ), "error", err)
	}
}
