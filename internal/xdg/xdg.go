// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg resolves where muse keeps its settings and plugins.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "muse"

// ConfigDirEnv overrides the config directory when set.
const ConfigDirEnv = "MUSE_CONFIG_DIR"

// ConfigDir returns the muse config directory: $MUSE_CONFIG_DIR, else
// $XDG_CONFIG_HOME/muse, else ~/.config/muse.
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return filepath.Clean(dir), nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.In("xdg").Hint("set " + ConfigDirEnv).Wrapf(err, "resolve home directory")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// PluginsDir returns the directory holding installed plugins.
func PluginsDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "plugins"), nil
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.In("xdg").With("dir", path).Wrapf(err, "create directory")
	}
	return nil
}
