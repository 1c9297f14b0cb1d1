// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// NewPermissionsCmd creates the permissions command group.
func NewPermissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "permissions",
		Aliases: []string{"perms"},
		Short:   "Inspect and change plugin permissions",
	}
	cmd.AddCommand(newPermissionsListCmd())
	cmd.AddCommand(newPermissionSetCmd("grant", "Allow a plugin to use a permission", pluginsdk.StatusGranted))
	cmd.AddCommand(newPermissionSetCmd("deny", "Forbid a plugin from using a permission", pluginsdk.StatusDenied))
	cmd.AddCommand(newPermissionSetCmd("revoke", "Forget a decision so the plugin is asked again", pluginsdk.StatusPrompt))
	cmd.AddCommand(newPermissionsResetCmd())
	return cmd
}

type permissionRow struct {
	Plugin     string `json:"plugin" yaml:"plugin"`
	Permission string `json:"permission" yaml:"permission"`
	Status     string `json:"status" yaml:"status"`
}

func newPermissionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [id]",
		Short: "List recorded permission decisions",
		Long: `List recorded permission decisions. With a plugin id, every
permission is listed for that plugin, undecided ones as "prompt".`,
		Args: cobra.MaximumNArgs(1),
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

			var rows []permissionRow
			if len(args) == 1 {
				for _, p := range pluginsdk.AllPermissions() {
					rows = append(rows, permissionRow{args[0], string(p), string(a.perms.Status(args[0], p))})
				}
			} else {
				for _, id := range a.perms.PluginIDs() {
					recorded := a.perms.Permissions(id)
					for _, p := range pluginsdk.AllPermissions() {
						if status, ok := recorded[p]; ok {
							rows = append(rows, permissionRow{id, string(p), string(status)})
						}
					}
				}
			}

			if format != formatText {
				return encode(cmd.OutOrStdout(), format, rows)
			}
			if len(rows) == 0 {
				cmd.Println("No permission decisions recorded")
				return nil
			}
			cells := make([][]string, len(rows))
			for i, r := range rows {
				cells[i] = []string{r.Plugin, r.Permission, r.Status}
			}
			return table(cmd.OutOrStdout(), []string{"PLUGIN", "PERMISSION", "STATUS"}, cells)
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newPermissionSetCmd(verb, short string, status pluginsdk.PermissionStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id> <permission>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) != 1 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			names := make([]string, 0, len(pluginsdk.AllPermissions()))
			for _, p := range pluginsdk.AllPermissions() {
				names = append(names, string(p))
			}
			return names, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			id, perm := args[0], pluginsdk.Permission(args[1])
			switch status {
			case pluginsdk.StatusGranted:
				err = a.perms.Grant(id, perm)
			case pluginsdk.StatusDenied:
				err = a.perms.Deny(id, perm)
			case pluginsdk.StatusPrompt:
				err = a.perms.Revoke(id, perm)
			default:
				err = oops.In("muse").Errorf("unsupported status %q", status)
			}
			if err != nil {
				return err
			}
			cmd.Printf("%s: %s is now %s\n", id, perm, status)
			return nil
		},
	}
}

func newPermissionsResetCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset [id]",
		Short: "Forget the permission decisions of one plugin, or of all with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == all {
				return oops.In("muse").Errorf("give either a plugin id or --all")
			}
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			if all {
				a.perms.ResetAll()
				cmd.Println("Reset all permission decisions")
				return nil
			}
			a.perms.RevokeAll(args[0])
			cmd.Printf("Reset permission decisions of %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reset every plugin")
	return cmd
}
