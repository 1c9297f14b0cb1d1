// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"context"
	"time"

	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// PlayerBackend is the player the host exposes to plugins.
type PlayerBackend interface {
	// Play starts track, or resumes the current track when track is nil.
	Play(ctx context.Context, track *pluginsdk.Track) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, position time.Duration) error
	SetVolume(ctx context.Context, volume int) error
	AddToQueue(ctx context.Context, track pluginsdk.Track) error
	RemoveFromQueue(ctx context.Context, index int) error
	ClearQueue(ctx context.Context) error
	SetShuffle(ctx context.Context, enabled bool) error
	SetRepeat(ctx context.Context, mode pluginsdk.RepeatMode) error

	// State returns a snapshot of the player.
	State() pluginsdk.PlayerState
}

// NavigationBackend is the view navigator the host exposes to plugins.
type NavigationBackend interface {
	Navigate(ctx context.Context, view string) error
	Back(ctx context.Context) error
	CurrentView() string
}
