// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin defines the types shared by the muse plugin runtime and
// plugin authors: manifests, permissions, events and error codes.
package plugin

import (
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies a single event.
type EventType string

// Player events.
const (
	EventPlay          EventType = "play"
	EventPause         EventType = "pause"
	EventStop          EventType = "stop"
	EventResume        EventType = "resume"
	EventNext          EventType = "next"
	EventPrevious      EventType = "previous"
	EventSeek          EventType = "seek"
	EventVolumeChange  EventType = "volume-change"
	EventTrackChange   EventType = "track-change"
	EventQueueChange   EventType = "queue-change"
	EventShuffleChange EventType = "shuffle-change"
	EventRepeatChange  EventType = "repeat-change"
)

// Navigation events.
const (
	EventViewChange   EventType = "view-change"
	EventSearch       EventType = "search"
	EventSelectResult EventType = "select-result"
)

// Audio stream events.
const (
	EventStreamRequest EventType = "stream-request"
	EventStreamStart   EventType = "stream-start"
	EventStreamEnd     EventType = "stream-end"
	EventStreamError   EventType = "stream-error"
)

// EventKind groups event types by the variant that carries them.
type EventKind string

// Event kinds.
const (
	KindPlayer     EventKind = "player"
	KindNavigation EventKind = "navigation"
	KindAudio      EventKind = "audio"
)

var eventKinds = map[EventType]EventKind{
	EventPlay:          KindPlayer,
	EventPause:         KindPlayer,
	EventStop:          KindPlayer,
	EventResume:        KindPlayer,
	EventNext:          KindPlayer,
	EventPrevious:      KindPlayer,
	EventSeek:          KindPlayer,
	EventVolumeChange:  KindPlayer,
	EventTrackChange:   KindPlayer,
	EventQueueChange:   KindPlayer,
	EventShuffleChange: KindPlayer,
	EventRepeatChange:  KindPlayer,
	EventViewChange:    KindNavigation,
	EventSearch:        KindNavigation,
	EventSelectResult:  KindNavigation,
	EventStreamRequest: KindAudio,
	EventStreamStart:   KindAudio,
	EventStreamEnd:     KindAudio,
	EventStreamError:   KindAudio,
}

// Kind returns the variant an event type belongs to.
// The second result is false for unknown types.
func (t EventType) Kind() (EventKind, bool) {
	k, ok := eventKinds[t]
	return k, ok
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := eventKinds[t]
	return ok
}

// EventTypes returns every known event type in a stable order.
func EventTypes() []EventType {
	types := make([]EventType, 0, len(eventKinds))
	for t := range eventKinds {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// RepeatMode is the player's repeat setting.
type RepeatMode string

// Repeat modes.
const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// Track is a playable item.
type Track struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist,omitempty"`
	Album    string        `json:"album,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	URL      string        `json:"url,omitempty"`
}

func (t *Track) clone() *Track {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Meta is carried by every event.
type Meta struct {
	ID        ulid.ULID
	Type      EventType
	Timestamp time.Time
}

func newMeta(typ EventType) Meta {
	return Meta{ID: ulid.Make(), Type: typ, Timestamp: time.Now()}
}

// Event is one of PlayerEvent, NavigationEvent or AudioStreamEvent.
type Event interface {
	EventMeta() Meta
	event()
}

// PlayerState is the payload of a player event.
type PlayerState struct {
	Track    *Track
	Position time.Duration
	Volume   int
	Queue    []Track
	Shuffle  bool
	Repeat   RepeatMode
}

// PlayerEvent reports a playback change.
type PlayerEvent struct {
	Meta
	PlayerState
}

// NewPlayerEvent stamps a player event. The track and queue are copied.
func NewPlayerEvent(typ EventType, state PlayerState) PlayerEvent {
	state.Track = state.Track.clone()
	state.Queue = slices.Clone(state.Queue)
	return PlayerEvent{Meta: newMeta(typ), PlayerState: state}
}

// EventMeta implements Event.
func (e PlayerEvent) EventMeta() Meta { return e.Meta }
func (PlayerEvent) event()            {}

// NavigationState is the payload of a navigation event.
type NavigationState struct {
	View         string
	PreviousView string
	Query        string
}

// NavigationEvent reports a view change or search.
type NavigationEvent struct {
	Meta
	NavigationState
}

// NewNavigationEvent stamps a navigation event.
func NewNavigationEvent(typ EventType, state NavigationState) NavigationEvent {
	return NavigationEvent{Meta: newMeta(typ), NavigationState: state}
}

// EventMeta implements Event.
func (e NavigationEvent) EventMeta() Meta { return e.Meta }
func (NavigationEvent) event()            {}

// AudioStreamEvent reports progress of an audio stream.
type AudioStreamEvent struct {
	Meta
	URL   string
	Track *Track
	Error string
}

// NewAudioStreamEvent stamps an audio stream event. The track is copied.
func NewAudioStreamEvent(typ EventType, url string, track *Track, errMsg string) AudioStreamEvent {
	return AudioStreamEvent{Meta: newMeta(typ), URL: url, Track: track.clone(), Error: errMsg}
}

// EventMeta implements Event.
func (e AudioStreamEvent) EventMeta() Meta { return e.Meta }
func (AudioStreamEvent) event()            {}

// CheckEvent verifies that the event's type is known and matches its variant.
func CheckEvent(ev Event) error {
	if ev == nil {
		return fmt.Errorf("nil event")
	}
	typ := ev.EventMeta().Type
	kind, ok := typ.Kind()
	if !ok {
		return fmt.Errorf("unknown event type %q", typ)
	}
	var want EventKind
	switch ev.(type) {
	case PlayerEvent:
		want = KindPlayer
	case NavigationEvent:
		want = KindNavigation
	case AudioStreamEvent:
		want = KindAudio
	}
	if kind != want {
		return fmt.Errorf("event type %q is a %s event, not %s", typ, kind, want)
	}
	return nil
}

// EventToMap renders an event as plain values for script runtimes.
// Durations are reported in milliseconds.
func EventToMap(ev Event) map[string]any {
	meta := ev.EventMeta()
	m := map[string]any{
		"id":        meta.ID.String(),
		"type":      string(meta.Type),
		"timestamp": meta.Timestamp.UnixMilli(),
	}
	switch e := ev.(type) {
	case PlayerEvent:
		if e.Track != nil {
			m["track"] = TrackToMap(*e.Track)
		}
		m["position"] = e.Position.Milliseconds()
		m["volume"] = e.Volume
		queue := make([]any, len(e.Queue))
		for i, t := range e.Queue {
			queue[i] = TrackToMap(t)
		}
		m["queue"] = queue
		m["shuffle"] = e.Shuffle
		m["repeat"] = string(e.Repeat)
	case NavigationEvent:
		m["view"] = e.View
		if e.PreviousView != "" {
			m["previousView"] = e.PreviousView
		}
		if e.Query != "" {
			m["query"] = e.Query
		}
	case AudioStreamEvent:
		m["url"] = e.URL
		if e.Track != nil {
			m["track"] = TrackToMap(*e.Track)
		}
		if e.Error != "" {
			m["error"] = e.Error
		}
	}
	return m
}

// TrackToMap renders a track as plain values.
func TrackToMap(t Track) map[string]any {
	return map[string]any{
		"id":       t.ID,
		"title":    t.Title,
		"artist":   t.Artist,
		"album":    t.Album,
		"duration": t.Duration.Milliseconds(),
		"url":      t.URL,
	}
}

// TrackFromMap reads a track produced by a script runtime.
func TrackFromMap(m map[string]any) Track {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	var dur time.Duration
	switch d := m["duration"].(type) {
	case int64:
		dur = time.Duration(d) * time.Millisecond
	case int:
		dur = time.Duration(d) * time.Millisecond
	case float64:
		dur = time.Duration(d * float64(time.Millisecond))
	}
	return Track{
		ID:       str("id"),
		Title:    str("title"),
		Artist:   str("artist"),
		Album:    str("album"),
		Duration: dur,
		URL:      str("url"),
	}
}

// EventFromMap builds an event from a script-provided table.
// The "type" key selects the variant.
func EventFromMap(m map[string]any) (Event, error) {
	typName, _ := m["type"].(string)
	typ := EventType(typName)
	kind, ok := typ.Kind()
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", typName)
	}
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	var track *Track
	if tm, ok := m["track"].(map[string]any); ok {
		t := TrackFromMap(tm)
		track = &t
	}
	switch kind {
	case KindPlayer:
		state := PlayerState{Track: track, Repeat: RepeatMode(str("repeat"))}
		state.Volume = int(number(m["volume"]))
		state.Position = time.Duration(number(m["position"]) * float64(time.Millisecond))
		state.Shuffle, _ = m["shuffle"].(bool)
		if q, ok := m["queue"].([]any); ok {
			for _, item := range q {
				if tm, ok := item.(map[string]any); ok {
					state.Queue = append(state.Queue, TrackFromMap(tm))
				}
			}
		}
		return NewPlayerEvent(typ, state), nil
	case KindNavigation:
		return NewNavigationEvent(typ, NavigationState{
			View:         str("view"),
			PreviousView: str("previousView"),
			Query:        str("query"),
		}), nil
	default:
		return NewAudioStreamEvent(typ, str("url"), track, str("error")), nil
	}
}

func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
