// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/muse/internal/config"
	"github.com/holomush/muse/internal/logging"
	"github.com/holomush/muse/internal/player"
	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/internal/plugin/api"
	"github.com/holomush/muse/internal/plugin/audio"
	"github.com/holomush/muse/internal/plugin/event"
	"github.com/holomush/muse/internal/plugin/install"
	"github.com/holomush/muse/internal/plugin/js"
	"github.com/holomush/muse/internal/plugin/lua"
	"github.com/holomush/muse/internal/plugin/permission"
	"github.com/holomush/muse/internal/plugin/ui"
	"github.com/holomush/muse/internal/xdg"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// app is the plugin host assembled for one command.
type app struct {
	configDir string
	settings  config.Settings
	logger    *slog.Logger

	config    *config.Store
	perms     *permission.Store
	bus       *event.Bus
	player    *player.Player
	navigator *player.Navigator
	audio     *audio.Pipeline
	shortcuts *ui.Shortcuts
	views     *ui.Views
	loader    *plugins.Loader
	registry  *plugins.Registry
	installer *install.Installer
}

// newApp builds the host in dependency order: config, permissions, bus,
// player services, context factory, loader and registry. prompt decides
// undecided permissions; nil denies them.
func newApp(cmd *cobra.Command, prompt permission.PromptFunc) (*app, error) {
	dir, err := configDir(cmd)
	if err != nil {
		return nil, err
	}
	if err := xdg.EnsureDir(dir); err != nil {
		return nil, oops.In("muse").With("dir", dir).Wrap(err)
	}

	store, err := config.Open(filepath.Join(dir, config.FileName))
	if err != nil {
		return nil, err
	}
	settings, err := config.LoadSettings(store, cmd.Flags(), config.DefaultSettings(dir))
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(logging.Options{
		Service: "muse",
		Version: version,
		Format:  settings.LogFormat,
		Level:   settings.LogLevel,
	}, cmd.ErrOrStderr())

	a := &app{configDir: dir, settings: settings, logger: logger, config: store}

	a.perms, err = permission.Open(filepath.Join(dir, permission.FileName),
		permission.WithLogger(logger),
		permission.WithPrompt(prompt))
	if err != nil {
		return nil, err
	}

	a.bus = event.New(event.WithLogger(logger), event.WithHandlerTimeout(settings.HandlerTimeout))
	a.audio = audio.NewPipeline(a.bus, logger)
	a.player = player.New(a.bus, player.WithPipeline(a.audio), player.WithLogger(logger))
	a.navigator = player.NewNavigator(a.bus, logger)
	a.shortcuts = ui.NewShortcuts(logger)
	a.views = ui.NewViews(logger)

	factory, err := api.NewFactory(api.Deps{
		Permissions: a.perms,
		Bus:         a.bus,
		Config:      store,
		Player:      a.player,
		Navigation:  a.navigator,
		Audio:       a.audio,
		Shortcuts:   a.shortcuts,
		Views:       a.views,
		PluginsDir:  settings.PluginsDir,
		Logger:      logger,
	})
	if err != nil {
		a.bus.Close()
		return nil, err
	}

	a.loader = plugins.NewLoader(
		plugins.WithResolver(lua.NewResolver(lua.WithLogger(logger))),
		plugins.WithResolver(js.NewResolver(logger)),
		plugins.WithLoaderLogger(logger),
		plugins.WithHookTimeout(settings.HookTimeout))
	a.registry = plugins.NewRegistry(a.loader, factory,
		plugins.WithConfig(store),
		plugins.WithPluginsDir(settings.PluginsDir),
		plugins.WithRegistryLogger(logger))
	a.installer = install.New(settings.PluginsDir,
		install.WithRegistry(a.registry),
		install.WithPermissions(a.perms),
		install.WithForget(store.ForgetPlugin),
		install.WithLogger(logger))

	logger.Debug("plugin host ready",
		"config_dir", dir,
		"plugins_dir", settings.PluginsDir,
		"runtimes", a.loader.Runtimes())
	return a, nil
}

// Close unloads every plugin and stops the bus.
func (a *app) Close(ctx context.Context) {
	a.registry.Close(ctx)
	a.bus.Close()
}

// installed returns the plugins found in the plugins directory, sorted by
// id. Directories with an unreadable manifest are logged and skipped.
func (a *app) installed() ([]pluginView, error) {
	dirs, err := a.loader.Discover(a.settings.PluginsDir)
	if err != nil {
		return nil, err
	}
	views := make([]pluginView, 0, len(dirs))
	for _, dir := range dirs {
		m, err := a.loader.ReadManifest(dir)
		if err != nil {
			a.logger.Warn("skipping plugin", "dir", dir, "error", err)
			continue
		}
		views = append(views, a.view(m, dir))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views, nil
}

// find returns the installed plugin with the given id.
func (a *app) find(id string) (pluginView, error) {
	views, err := a.installed()
	if err != nil {
		return pluginView{}, err
	}
	for _, v := range views {
		if v.ID == id {
			return v, nil
		}
	}
	return pluginView{}, oops.Code(pluginsdk.CodeNotInstalled).In("muse").With("plugin_id", id).
		Errorf("plugin %s is not installed", id)
}

// load loads plugin id after the installed plugins it depends on.
func (a *app) load(ctx context.Context, id string) error {
	return a.loadOnce(ctx, id, map[string]bool{})
}

func (a *app) loadOnce(ctx context.Context, id string, visiting map[string]bool) error {
	if a.registry.IsLoaded(id) {
		return nil
	}
	if visiting[id] {
		return oops.Code(pluginsdk.CodeDependencyMissing).In("muse").With("plugin_id", id).
			Errorf("dependency cycle through %s", id)
	}
	visiting[id] = true

	v, err := a.find(id)
	if err != nil {
		return err
	}
	if err := a.loadDependencies(ctx, v.Dependencies, visiting); err != nil {
		return err
	}
	_, err = a.registry.Load(ctx, v.Dir)
	return err
}

// loadDependencies loads the installed dependencies in deps. Missing ones
// are left for the registry to report.
func (a *app) loadDependencies(ctx context.Context, deps map[string]string, visiting map[string]bool) error {
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := a.find(id); err != nil {
			continue
		}
		if err := a.loadOnce(ctx, id, visiting); err != nil {
			return err
		}
	}
	return nil
}
