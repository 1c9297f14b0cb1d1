// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/muse/internal/observability"
	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/internal/plugin/event"
	"github.com/holomush/muse/internal/plugin/permission"
	"github.com/holomush/muse/pkg/errutil"
)

// shutdownTimeout bounds unloading plugins and stopping servers.
const shutdownTimeout = 10 * time.Second

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	var noPrompt bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Host the installed plugins without the player UI",
		Long: `Load every installed plugin, enable those that were enabled, and keep
them running until interrupted. Permission requests are asked on the
terminal unless --no-prompt is given. With --metrics-addr, metrics, health
checks and a plugin status document are served over HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var prompt permission.PromptFunc
			if !noPrompt {
				prompt = terminalPrompt(cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, cmd, prompt)
		},
	}
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "deny permission requests instead of asking")
	return cmd
}

// runHost hosts plugins until ctx ends or the observability server fails.
func runHost(ctx context.Context, cmd *cobra.Command, prompt permission.PromptFunc) error {
	a, err := newApp(cmd, prompt)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(shutdownCtx)
		a.logger.Info("shutdown complete")
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obs *observability.Server
	if a.settings.MetricsAddr != "" {
		obs, err = observability.NewServer(a.settings.MetricsAddr, ready.Load,
			[]observability.RegisterFunc{plugins.RegisterMetrics, event.RegisterMetrics},
			observability.WithLogger(a.logger),
			observability.WithBuildInfo(version, commit),
			observability.WithStatus(func() any { return a.status() }))
		if err != nil {
			return err
		}
		errCh, err := obs.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, errCh, a)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := obs.Stop(shutdownCtx); err != nil {
				errutil.LogWarn(a.logger, "stop observability server", err)
			}
		}()
	}

	if err := a.registry.LoadAll(ctx); err != nil {
		return err
	}
	ready.Store(true)

	enabled := a.registry.Enabled()
	cmd.Printf("Hosting %d plugins (%d enabled). Press Ctrl+C to stop.\n", len(a.registry.List()), len(enabled))
	a.logger.Info("plugin host running",
		"plugins", len(a.registry.List()),
		"enabled", len(enabled),
		"plugins_dir", a.settings.PluginsDir)

	<-ctx.Done()
	a.logger.Info("shutting down", "cause", context.Cause(ctx))
	return nil
}

// hostStatus is served at /status.
type hostStatus struct {
	Plugins   []pluginView `json:"plugins"`
	Views     []string     `json:"views"`
	Shortcuts []string     `json:"shortcuts"`
	Player    any          `json:"player"`
}

func (a *app) status() hostStatus {
	infos := a.registry.List()
	views := make([]pluginView, len(infos))
	for i, info := range infos {
		views[i] = a.loadedView(info)
	}
	bindings := a.shortcuts.Bindings()
	shortcuts := make([]string, len(bindings))
	for i, b := range bindings {
		shortcuts[i] = b.String()
	}
	return hostStatus{
		Plugins:   views,
		Views:     a.views.IDs(),
		Shortcuts: shortcuts,
		Player:    a.player.State(),
	}
}

// monitorServerErrors cancels the host when the observability server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, a *app) {
	select {
	case err, ok := <-errCh:
		if !ok || err == nil {
			return
		}
		errutil.LogError(a.logger, "observability server failed, shutting down",
			oops.In("muse").Wrap(err))
		cancel()
	case <-ctx.Done():
	}
}
