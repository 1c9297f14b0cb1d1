// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package script

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/oops"

	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Scripts see durations as seconds.
func seconds(d time.Duration) float64 { return d.Seconds() }

func duration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// TrackToMap converts a track for a script. A nil track is nil.
func TrackToMap(t *pluginsdk.Track) map[string]any {
	if t == nil {
		return nil
	}
	return map[string]any{
		"id":       t.ID,
		"title":    t.Title,
		"artist":   t.Artist,
		"album":    t.Album,
		"duration": seconds(t.Duration),
		"url":      t.URL,
	}
}

type trackFields struct {
	ID       string  `mapstructure:"id"`
	Title    string  `mapstructure:"title"`
	Artist   string  `mapstructure:"artist"`
	Album    string  `mapstructure:"album"`
	Duration float64 `mapstructure:"duration"`
	URL      string  `mapstructure:"url"`
}

// TrackFromMap converts a script table to a track. The id is required.
func TrackFromMap(m map[string]any) (pluginsdk.Track, error) {
	var f trackFields
	if err := decode(m, &f); err != nil {
		return pluginsdk.Track{}, oops.In("script").Wrapf(err, "invalid track")
	}
	if f.ID == "" {
		return pluginsdk.Track{}, oops.In("script").Errorf("track id is required")
	}
	return pluginsdk.Track{
		ID:       f.ID,
		Title:    f.Title,
		Artist:   f.Artist,
		Album:    f.Album,
		Duration: duration(f.Duration),
		URL:      f.URL,
	}, nil
}

// StateToMap converts a player state for a script.
func StateToMap(s pluginsdk.PlayerState) map[string]any {
	queue := make([]any, len(s.Queue))
	for i := range s.Queue {
		queue[i] = TrackToMap(&s.Queue[i])
	}
	out := map[string]any{
		"position": seconds(s.Position),
		"volume":   s.Volume,
		"queue":    queue,
		"shuffle":  s.Shuffle,
		"repeat":   string(s.Repeat),
	}
	if s.Track != nil {
		out["track"] = TrackToMap(s.Track)
	}
	return out
}

// EventToMap converts an event for a script handler.
func EventToMap(ev pluginsdk.Event) map[string]any {
	meta := ev.EventMeta()
	out := map[string]any{
		"id":        meta.ID.String(),
		"type":      string(meta.Type),
		"timestamp": meta.Timestamp.UnixMilli(),
	}
	switch e := ev.(type) {
	case pluginsdk.PlayerEvent:
		out["kind"] = string(pluginsdk.KindPlayer)
		for k, v := range StateToMap(e.PlayerState) {
			out[k] = v
		}
	case pluginsdk.NavigationEvent:
		out["kind"] = string(pluginsdk.KindNavigation)
		out["view"] = e.View
		out["previous_view"] = e.PreviousView
		out["query"] = e.Query
	case pluginsdk.AudioStreamEvent:
		out["kind"] = string(pluginsdk.KindAudio)
		out["url"] = e.URL
		out["error"] = e.Error
		if e.Track != nil {
			out["track"] = TrackToMap(e.Track)
		}
	}
	return out
}

type eventFields struct {
	Track        map[string]any   `mapstructure:"track"`
	Position     float64          `mapstructure:"position"`
	Volume       int              `mapstructure:"volume"`
	Queue        []map[string]any `mapstructure:"queue"`
	Shuffle      bool             `mapstructure:"shuffle"`
	Repeat       string           `mapstructure:"repeat"`
	View         string           `mapstructure:"view"`
	PreviousView string           `mapstructure:"previous_view"`
	Query        string           `mapstructure:"query"`
	URL          string           `mapstructure:"url"`
	Error        string           `mapstructure:"error"`
}

// EventFromMap builds an event of type typ from script fields. Unknown
// fields are ignored.
func EventFromMap(typ string, m map[string]any) (pluginsdk.Event, error) {
	et := pluginsdk.EventType(typ)
	kind, ok := et.Kind()
	if !ok {
		return nil, oops.In("script").With("event_type", typ).Errorf("unknown event type %q", typ)
	}
	var f eventFields
	if err := decode(m, &f); err != nil {
		return nil, oops.In("script").With("event_type", typ).Wrapf(err, "invalid event fields")
	}

	var track *pluginsdk.Track
	if f.Track != nil {
		t, err := TrackFromMap(f.Track)
		if err != nil {
			return nil, err
		}
		track = &t
	}

	switch kind {
	case pluginsdk.KindNavigation:
		return pluginsdk.NewNavigationEvent(et, pluginsdk.NavigationState{
			View:         f.View,
			PreviousView: f.PreviousView,
			Query:        f.Query,
		}), nil
	case pluginsdk.KindAudio:
		return pluginsdk.NewAudioStreamEvent(et, f.URL, track, f.Error), nil
	default:
		queue := make([]pluginsdk.Track, 0, len(f.Queue))
		for _, qm := range f.Queue {
			t, err := TrackFromMap(qm)
			if err != nil {
				return nil, err
			}
			queue = append(queue, t)
		}
		return pluginsdk.NewPlayerEvent(et, pluginsdk.PlayerState{
			Track:    track,
			Position: duration(f.Position),
			Volume:   f.Volume,
			Queue:    queue,
			Shuffle:  f.Shuffle,
			Repeat:   pluginsdk.RepeatMode(f.Repeat),
		}), nil
	}
}

// ManifestFromMap decodes the manifest a script module exports.
func ManifestFromMap(m map[string]any) (*pluginsdk.Manifest, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, oops.In("script").Wrapf(err, "encode module manifest")
	}
	var out pluginsdk.Manifest
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, oops.In("script").Wrapf(err, "decode module manifest")
	}
	return &out, nil
}

func decode(in map[string]any, out any) error {
	if in == nil {
		return nil
	}
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	return d.Decode(in) //nolint:wrapcheck // callers add context
}
