// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugintest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holomush/muse/internal/config"
	"github.com/holomush/muse/internal/player"
	"github.com/holomush/muse/internal/plugin/api"
	"github.com/holomush/muse/internal/plugin/audio"
	"github.com/holomush/muse/internal/plugin/event"
	"github.com/holomush/muse/internal/plugin/permission"
	"github.com/holomush/muse/internal/plugin/ui"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Host is a full set of host services backed by a temp directory, for
// exercising script runtimes end to end.
type Host struct {
	Root      string
	Perms     *permission.Store
	Bus       *event.Bus
	Config    *config.Store
	Player    *player.Player
	Navigator *player.Navigator
	Audio     *audio.Pipeline
	Shortcuts *ui.Shortcuts
	Views     *ui.Views
	Factory   *api.Factory
}

// NewHost wires the host services. The bus is closed when the test ends.
func NewHost(t testing.TB) *Host {
	t.Helper()
	root := t.TempDir()

	perms, err := permission.Open(filepath.Join(root, permission.FileName))
	require.NoError(t, err)
	cfg, err := config.Open(filepath.Join(root, config.FileName))
	require.NoError(t, err)

	bus := event.New()
	t.Cleanup(bus.Close)
	pipeline := audio.NewPipeline(bus, nil)

	h := &Host{
		Root:      root,
		Perms:     perms,
		Bus:       bus,
		Config:    cfg,
		Player:    player.New(bus, player.WithPipeline(pipeline)),
		Navigator: player.NewNavigator(bus, nil),
		Audio:     pipeline,
		Shortcuts: ui.NewShortcuts(nil),
		Views:     ui.NewViews(nil),
	}
	h.Factory, err = api.NewFactory(api.Deps{
		Permissions: perms,
		Bus:         bus,
		Config:      cfg,
		Player:      h.Player,
		Navigation:  h.Navigator,
		Audio:       pipeline,
		Shortcuts:   h.Shortcuts,
		Views:       h.Views,
		PluginsDir:  filepath.Join(root, "plugins"),
	})
	require.NoError(t, err)
	return h
}

// Context builds an active context for manifest and grants the permissions
// it declares. The context is closed when the test ends.
func (h *Host) Context(t testing.TB, manifest *pluginsdk.Manifest) *api.Context {
	t.Helper()
	c, err := h.Factory.New(manifest)
	require.NoError(t, err)
	require.NoError(t, h.Perms.GrantAll(manifest.ID, manifest.Permissions))
	c.SetActive(true)
	t.Cleanup(c.Close)
	return c
}

// WriteScript writes source as the entry file of manifest under a fresh
// plugin directory and returns its path.
func (h *Host) WriteScript(t testing.TB, manifest *pluginsdk.Manifest, source string) string {
	t.Helper()
	dir := filepath.Join(h.Root, "src", manifest.ID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, manifest.Main)
	require.NoError(t, os.WriteFile(path, []byte(source), 0o600))
	return path
}
