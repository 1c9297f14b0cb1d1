// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/holomush/muse/internal/config"
	"github.com/holomush/muse/internal/xdg"
)

// configDirFlag overrides the XDG config directory.
const configDirFlag = "config-dir"

// NewRootCmd creates the root command for the muse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "muse",
		Short: "muse - a terminal music player with plugins",
		Long: `muse is a terminal music player. This binary manages its plugins:
installing and updating them, granting permissions, and hosting them
headless for development.`,
		SilenceUsage: true,
	}

	configDir, err := xdg.ConfigDir()
	if err != nil {
		configDir = ".muse"
	}
	cmd.PersistentFlags().String(configDirFlag, configDir, "configuration directory")
	config.RegisterFlags(cmd.PersistentFlags(), config.DefaultSettings(configDir))

	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewPermissionsCmd())
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// configDir returns the configuration directory selected for cmd.
func configDir(cmd *cobra.Command) (string, error) {
	dir, err := cmd.Flags().GetString(configDirFlag)
	if err != nil {
		return "", err //nolint:wrapcheck // flag lookup errors are self-describing
	}
	return filepath.Clean(dir), nil
}
