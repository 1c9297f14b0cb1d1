// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// NewPluginsCmd creates the plugins command group.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugins",
		Aliases: []string{"plugin"},
		Short:   "Manage installed plugins",
	}
	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsInfoCmd())
	cmd.AddCommand(newPluginsEnableCmd())
	cmd.AddCommand(newPluginsDisableCmd())
	cmd.AddCommand(newPluginsInstallCmd())
	cmd.AddCommand(newPluginsUninstallCmd())
	cmd.AddCommand(newPluginsUpdateCmd())
	cmd.AddCommand(newPluginsValidateCmd())
	return cmd
}

func newPluginsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			views, err := a.installed()
			if err != nil {
				return err
			}
			if format != formatText {
				return encode(cmd.OutOrStdout(), format, views)
			}
			if len(views) == 0 {
				cmd.Println("No plugins installed in", a.settings.PluginsDir)
				return nil
			}
			rows := make([][]string, len(views))
			for i, v := range views {
				rows[i] = []string{v.ID, v.Name, v.Version, v.Runtime, yesNo(v.Enabled)}
			}
			return table(cmd.OutOrStdout(), []string{"ID", "NAME", "VERSION", "RUNTIME", "ENABLED"}, rows)
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newPluginsInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <id>",
		Short: "Show details of an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			v, err := a.find(args[0])
			if err != nil {
				return err
			}
			v.Config = a.config.Plugin(v.ID).All()
			if format != formatText {
				return encode(cmd.OutOrStdout(), format, v)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %s\n", v.ID)
			fmt.Fprintf(out, "Name:        %s\n", v.Name)
			fmt.Fprintf(out, "Version:     %s\n", v.Version)
			if v.Description != "" {
				fmt.Fprintf(out, "Description: %s\n", v.Description)
			}
			if v.Author != "" {
				fmt.Fprintf(out, "Author:      %s\n", v.Author)
			}
			fmt.Fprintf(out, "Runtime:     %s\n", v.Runtime)
			fmt.Fprintf(out, "Directory:   %s\n", v.Dir)
			fmt.Fprintf(out, "Enabled:     %s\n", yesNo(v.Enabled))
			if len(v.Permissions) > 0 {
				fmt.Fprintln(out, "Permissions:")
				for _, p := range sortedKeys(v.Permissions) {
					fmt.Fprintf(out, "  %-12s %s\n", p, v.Permissions[p])
				}
			}
			if len(v.Dependencies) > 0 {
				fmt.Fprintln(out, "Dependencies:")
				for _, d := range sortedKeys(v.Dependencies) {
					fmt.Fprintf(out, "  %-12s %s\n", d, v.Dependencies[d])
				}
			}
			if len(v.Config) > 0 {
				fmt.Fprintln(out, "Config:")
				for _, k := range sortedKeys(v.Config) {
					fmt.Fprintf(out, "  %-12s %v\n", k, v.Config[k])
				}
			}
			return nil
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newPluginsEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a plugin",
		Long: `Enable a plugin. The plugin is loaded and its enable hook run once to
check that it works; the enabled state is then saved so the player enables
it on startup.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			id := args[0]
			if err := a.load(cmd.Context(), id); err != nil {
				return err
			}
			if err := a.registry.Enable(cmd.Context(), id); err != nil {
				return err
			}
			cmd.Printf("Enabled %s\n", id)
			return nil
		},
	}
}

func newPluginsDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			v, err := a.find(args[0])
			if err != nil {
				return err
			}
			if err := a.config.SetPluginEnabled(v.ID, false); err != nil {
				return err
			}
			cmd.Printf("Disabled %s\n", v.ID)
			return nil
		},
	}
}

func newPluginsInstallCmd() *cobra.Command {
	var grant, enable bool
	cmd := &cobra.Command{
		Use:   "install <dir>",
		Short: "Install a plugin from a local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			ctx := cmd.Context()
			src, err := filepath.Abs(args[0])
			if err != nil {
				return err //nolint:wrapcheck // path errors are self-describing
			}
			candidate, err := a.installer.ReadManifest(src)
			if err != nil {
				return err
			}
			if err := a.loadDependencies(ctx, candidate.Dependencies, map[string]bool{}); err != nil {
				return err
			}

			// Permissions are granted first so the init hook may use them.
			granted := grant && len(candidate.Permissions) > 0
			if granted {
				if err := a.perms.GrantAll(candidate.ID, candidate.Permissions); err != nil {
					return err
				}
			}
			m, err := a.installer.Install(ctx, src)
			if err != nil {
				if granted {
					a.perms.RevokeAll(candidate.ID)
				}
				return err
			}
			cmd.Printf("Installed %s %s\n", m.ID, m.Version)

			switch {
			case granted:
				cmd.Printf("Granted %s\n", joinPermissions(m.Permissions))
			case len(m.Permissions) > 0:
				cmd.Printf("Requests %s; grant with: muse permissions grant %s <permission>\n",
					joinPermissions(m.Permissions), m.ID)
			}
			if enable {
				if err := a.registry.Enable(ctx, m.ID); err != nil {
					return err
				}
				cmd.Printf("Enabled %s\n", m.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&grant, "grant", false, "grant every permission the plugin declares")
	cmd.Flags().BoolVar(&enable, "enable", false, "enable the plugin after installing")
	return cmd
}

func newPluginsUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <id>",
		Short: "Remove a plugin, its data and its permissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			if err := a.installer.Uninstall(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Uninstalled %s\n", args[0])
			return nil
		},
	}
}

func newPluginsUpdateCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "update <id> <dir>",
		Short: "Replace a plugin with the version in a local directory",
		Long: `Replace a plugin with the version in a local directory. The plugin's
data directory and config are kept. If the new version fails to load the
previous one is restored.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			ctx := cmd.Context()
			id := args[0]
			src, err := filepath.Abs(args[1])
			if err != nil {
				return err //nolint:wrapcheck // path errors are self-describing
			}

			if check {
				res, err := a.installer.CheckForUpdate(id, src)
				if err != nil {
					return err
				}
				if res.Available {
					cmd.Printf("%s: %s -> %s available\n", id, res.Current, res.Candidate)
				} else {
					cmd.Printf("%s: %s is up to date\n", id, res.Current)
				}
				return nil
			}

			// Load the current version so a failed update can be rolled back
			// to a working instance.
			if err := a.load(ctx, id); err != nil {
				errutil.LogWarn(a.logger, "current version does not load", err)
			} else if a.config.PluginEnabled(id) {
				if err := a.registry.Enable(ctx, id); err != nil {
					errutil.LogWarn(a.logger, "current version does not enable", err)
				}
			}

			res, err := a.installer.Update(ctx, id, src)
			if err != nil {
				return err
			}
			switch {
			case !res.Changed:
				cmd.Printf("%s %s unchanged\n", id, res.NewVersion)
			case res.Upgraded:
				cmd.Printf("Updated %s %s -> %s\n", id, res.OldVersion, res.NewVersion)
			default:
				cmd.Printf("Replaced %s %s with %s\n", id, res.OldVersion, res.NewVersion)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "only report whether the directory holds a newer version")
	return cmd
}

func newPluginsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Check a plugin directory without installing it",
		Long: `Check a plugin directory without installing it: the manifest is
validated and the entry module loaded, but no hooks run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			inst, err := a.loader.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer func() {
				if err := inst.Module().Close(); err != nil {
					errutil.LogWarn(a.logger, "close validated module", err)
				}
			}()
			m := inst.Manifest()
			cmd.Printf("%s %s is valid (%s)\n", m.ID, m.Version, m.Runtime())
			return nil
		},
	}
}

func joinPermissions(perms []pluginsdk.Permission) string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
