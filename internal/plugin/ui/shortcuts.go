// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/oops"
)

// Action runs when a bound chord is pressed.
type Action func(ctx context.Context) error

// Binding describes one registered shortcut.
type Binding struct {
	Chord Chord
	Owner string
}

type shortcut struct {
	owner  string
	action Action
	active func() bool
}

// Shortcuts maps key chords to plugin actions.
//
// Shortcuts is safe for concurrent use.
type Shortcuts struct {
	logger *slog.Logger

	mu       sync.RWMutex
	bindings map[Chord]shortcut
}

// NewShortcuts creates an empty shortcut table.
func NewShortcuts(logger *slog.Logger) *Shortcuts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shortcuts{logger: logger, bindings: make(map[Chord]shortcut)}
}

// Register binds keys to action for owner. Rebinding a chord the owner already
// holds replaces the action; a chord held by another owner is a conflict.
func (s *Shortcuts) Register(owner, keys string, action Action, active func() bool) (Chord, error) {
	if action == nil {
		return Chord{}, oops.In("ui").With("plugin_id", owner).With("keys", keys).Errorf("shortcut action is nil")
	}
	chord, err := ParseChord(keys)
	if err != nil {
		return Chord{}, oops.In("ui").With("plugin_id", owner).Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.bindings[chord]; ok && existing.owner != owner {
		return Chord{}, oops.In("ui").
			With("plugin_id", owner).
			With("keys", chord.String()).
			With("bound_by", existing.owner).
			Errorf("shortcut %s is already bound by %s", chord, existing.owner)
	}
	s.bindings[chord] = shortcut{owner: owner, action: action, active: active}
	s.logger.Debug("shortcut registered", "plugin_id", owner, "keys", chord.String())
	return chord, nil
}

// Unregister removes the owner's binding for keys. Bindings held by other
// owners are left alone.
func (s *Shortcuts) Unregister(owner, keys string) error {
	chord, err := ParseChord(keys)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.bindings[chord]; ok && existing.owner == owner {
		delete(s.bindings, chord)
	}
	return nil
}

// UnregisterOwner removes every binding held by owner.
func (s *Shortcuts) UnregisterOwner(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for chord, sc := range s.bindings {
		if sc.owner == owner {
			delete(s.bindings, chord)
		}
	}
}

// Trigger runs the action bound to keys. It reports whether an active
// binding handled the chord. A panicking action is reported as an error.
func (s *Shortcuts) Trigger(ctx context.Context, keys string) (handled bool, err error) {
	chord, err := ParseChord(keys)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	sc, ok := s.bindings[chord]
	s.mu.RUnlock()
	if !ok || (sc.active != nil && !sc.active()) {
		return false, nil
	}

	defer func() {
		if r := recover(); r != nil {
			handled = true
			err = oops.In("ui").
				With("plugin_id", sc.owner).
				With("keys", chord.String()).
				Errorf("shortcut action panicked: %v", r)
		}
	}()
	if err := sc.action(ctx); err != nil {
		return true, oops.In("ui").With("plugin_id", sc.owner).With("keys", chord.String()).Wrap(err)
	}
	return true, nil
}

// Bindings returns the registered shortcuts sorted by chord.
func (s *Shortcuts) Bindings() []Binding {
	s.mu.RLock()
	out := make([]Binding, 0, len(s.bindings))
	for chord, sc := range s.bindings {
		out = append(out, Binding{Chord: chord, Owner: sc.owner})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Chord.String() < out[j].Chord.String() })
	return out
}

// String implements fmt.Stringer for log output.
func (b Binding) String() string {
	return fmt.Sprintf("%s (%s)", b.Chord, b.Owner)
}
