// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/muse/internal/config"
	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

func openStore(t *testing.T) (*config.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.FileName)
	s, err := config.Open(path)
	require.NoError(t, err)
	return s, path
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	s, _ := openStore(t)
	assert.Nil(t, s.Get("anything"))
	assert.Empty(t, s.EnabledPlugins())
}

func TestStore_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)
	require.NoError(t, os.WriteFile(path, []byte("a: [unclosed"), 0o600))

	_, err := config.Open(path)
	require.Error(t, err)
}

func TestStore_PluginStatesPersist(t *testing.T) {
	s, path := openStore(t)
	require.NoError(t, s.SetPluginEnabled("lyrics", true))
	require.NoError(t, s.SetPluginEnabled("visualizer", false))
	require.NoError(t, s.SetPluginEnabled("discord", true))

	reopened, err := config.Open(path)
	require.NoError(t, err)
	assert.True(t, reopened.PluginEnabled("lyrics"))
	assert.False(t, reopened.PluginEnabled("visualizer"))
	assert.False(t, reopened.PluginEnabled("never-seen"))
	assert.Equal(t, []string{"discord", "lyrics"}, reopened.EnabledPlugins())
}

func TestPluginConfig_IsNamespaced(t *testing.T) {
	s, path := openStore(t)
	a := s.Plugin("a")
	b := s.Plugin("b")

	require.NoError(t, a.Set("theme.color", "blue"))
	require.NoError(t, b.Set("theme.color", "red"))

	got, err := a.Get("theme.color")
	require.NoError(t, err)
	assert.Equal(t, "blue", got)
	assert.Equal(t, "red", s.Get("plugins.b.theme.color"))
	assert.Equal(t, map[string]any{"theme": map[string]any{"color": "blue"}}, a.All())

	reopened, err := config.Open(path)
	require.NoError(t, err)
	got, err = reopened.Plugin("a").Get("theme.color")
	require.NoError(t, err)
	assert.Equal(t, "blue", got)
}

func TestPluginConfig_RejectsMalformedKeys(t *testing.T) {
	s, _ := openStore(t)
	c := s.Plugin("a")

	for _, key := range []string{"", "  ", ".x", "x.", "a..b"} {
		err := c.Set(key, 1)
		errutil.AssertErrorCode(t, err, pluginsdk.CodeInvalidConfig)
		_, err = c.Get(key)
		require.Error(t, err)
		require.Error(t, c.Delete(key))
	}
}

func TestPluginConfig_SetReplacesMaps(t *testing.T) {
	s, path := openStore(t)
	c := s.Plugin("a")

	require.NoError(t, c.Set("opts", map[string]any{"x": 1, "y": 2}))
	require.NoError(t, c.Set("opts", map[string]any{"z": 3}))

	got, err := c.Get("opts")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"z": 3}, got)

	reopened, err := config.Open(path)
	require.NoError(t, err)
	got, err = reopened.Plugin("a").Get("opts")
	require.NoError(t, err)
	opts, ok := got.(map[string]any)
	require.True(t, ok, "got %T", got)
	assert.Len(t, opts, 1)
	assert.EqualValues(t, 3, opts["z"])
}

func TestPluginConfig_DeleteAndWith(t *testing.T) {
	s, _ := openStore(t)
	c := s.Plugin("a")
	require.NoError(t, c.Set("volume", 3))

	preview, err := c.With("muted", true)
	require.NoError(t, err)
	assert.Equal(t, true, preview["muted"])
	got, err := c.Get("muted")
	require.NoError(t, err)
	assert.Nil(t, got, "With must not save")

	require.NoError(t, c.Delete("volume"))
	require.NoError(t, c.Delete("volume"))
	assert.Empty(t, c.All())
}

func TestStore_ForgetPlugin(t *testing.T) {
	s, _ := openStore(t)
	require.NoError(t, s.SetPluginEnabled("a", true))
	require.NoError(t, s.Plugin("a").Set("k", "v"))

	require.NoError(t, s.ForgetPlugin("a"))

	assert.False(t, s.PluginEnabled("a"))
	assert.Empty(t, s.Plugin("a").All())
}

func TestLoadSettings_Precedence(t *testing.T) {
	s, _ := openStore(t)
	require.NoError(t, s.Set("runtime.log_level", "debug"))
	require.NoError(t, s.Set("runtime.hook_timeout", "3s"))

	defaults := config.DefaultSettings("/cfg")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs, defaults)
	require.NoError(t, fs.Parse([]string{"--log-format", "JSON", "--hook-timeout", "7s"}))

	got, err := config.LoadSettings(s, fs, defaults)
	require.NoError(t, err)

	assert.Equal(t, "/cfg/plugins", got.PluginsDir)
	assert.Equal(t, "debug", got.LogLevel)
	assert.Equal(t, "json", got.LogFormat)
	assert.Equal(t, 7*time.Second, got.HookTimeout)
	assert.Equal(t, 5*time.Second, got.HandlerTimeout)
}

func TestLoadSettings_FileOverridesDefaults(t *testing.T) {
	s, _ := openStore(t)
	require.NoError(t, s.Set("runtime.hook_timeout", "3s"))

	defaults := config.DefaultSettings("/cfg")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs, defaults)
	require.NoError(t, fs.Parse(nil))

	got, err := config.LoadSettings(s, fs, defaults)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, got.HookTimeout)
}

func TestLoadSettings_Invalid(t *testing.T) {
	s, _ := openStore(t)
	require.NoError(t, s.Set("runtime.log_format", "xml"))

	_, err := config.LoadSettings(s, nil, config.DefaultSettings("/cfg"))
	require.Error(t, err)
}
