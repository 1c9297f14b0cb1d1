// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package player

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/oops"

	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// HomeView is the view a Navigator starts on.
const HomeView = "home"

// Navigator is a stack of views. Navigate pushes, Back pops; the root view
// is never popped.
//
// Navigator is safe for concurrent use.
type Navigator struct {
	bus    Emitter
	logger *slog.Logger

	mu    sync.Mutex
	stack []string
}

// NewNavigator creates a navigator on HomeView.
func NewNavigator(bus Emitter, logger *slog.Logger) *Navigator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Navigator{bus: bus, logger: logger, stack: []string{HomeView}}
}

// CurrentView returns the view on top of the stack.
func (n *Navigator) CurrentView() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stack[len(n.stack)-1]
}

// History returns the view stack, root first.
func (n *Navigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.stack...)
}

// Navigate pushes view. Navigating to the current view is a no-op.
func (n *Navigator) Navigate(ctx context.Context, view string) error {
	view = strings.TrimSpace(view)
	if view == "" {
		return oops.In("navigation").Errorf("view is required")
	}
	n.mu.Lock()
	prev := n.stack[len(n.stack)-1]
	if prev == view {
		n.mu.Unlock()
		return nil
	}
	n.stack = append(n.stack, view)
	n.mu.Unlock()

	n.emit(ctx, pluginsdk.EventViewChange, pluginsdk.NavigationState{View: view, PreviousView: prev})
	return nil
}

// Back pops the current view. On the root view it does nothing.
func (n *Navigator) Back(ctx context.Context) error {
	n.mu.Lock()
	if len(n.stack) == 1 {
		n.mu.Unlock()
		return nil
	}
	prev := n.stack[len(n.stack)-1]
	n.stack = n.stack[:len(n.stack)-1]
	view := n.stack[len(n.stack)-1]
	n.mu.Unlock()

	n.emit(ctx, pluginsdk.EventViewChange, pluginsdk.NavigationState{View: view, PreviousView: prev})
	return nil
}

// Search announces a search query from the current view.
func (n *Navigator) Search(ctx context.Context, query string) {
	n.emit(ctx, pluginsdk.EventSearch, pluginsdk.NavigationState{View: n.CurrentView(), Query: query})
}

// SelectResult announces that a search result was chosen.
func (n *Navigator) SelectResult(ctx context.Context, query string) {
	n.emit(ctx, pluginsdk.EventSelectResult, pluginsdk.NavigationState{View: n.CurrentView(), Query: query})
}

func (n *Navigator) emit(ctx context.Context, typ pluginsdk.EventType, state pluginsdk.NavigationState) {
	if n.bus == nil {
		return
	}
	if err := n.bus.EmitAsync(ctx, pluginsdk.NewNavigationEvent(typ, state)); err != nil {
		n.logger.Debug("navigation event not delivered", "event_type", string(typ), "error", err)
	}
}
