// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	plugins "github.com/holomush/muse/internal/plugin"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Output formats accepted by --output.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// pluginView is what the CLI and the status endpoint show about a plugin.
type pluginView struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Version      string            `json:"version" yaml:"version"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Author       string            `json:"author,omitempty" yaml:"author,omitempty"`
	Runtime      string            `json:"runtime" yaml:"runtime"`
	Dir          string            `json:"dir" yaml:"dir"`
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	Loaded       bool              `json:"loaded" yaml:"loaded"`
	LoadedAt     *time.Time        `json:"loadedAt,omitempty" yaml:"loadedAt,omitempty"`
	Permissions  map[string]string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Config       map[string]any    `json:"config,omitempty" yaml:"config,omitempty"`
}

// view describes an installed plugin from its manifest and stored state.
func (a *app) view(m *pluginsdk.Manifest, dir string) pluginView {
	v := pluginView{
		ID:           m.ID,
		Name:         m.DisplayName(),
		Version:      m.Version,
		Description:  m.Description,
		Author:       m.Author,
		Runtime:      m.Runtime(),
		Dir:          dir,
		Enabled:      a.config.PluginEnabled(m.ID),
		Loaded:       a.registry.IsLoaded(m.ID),
		Dependencies: m.Dependencies,
		Permissions:  make(map[string]string, len(m.Permissions)),
	}
	for _, p := range m.Permissions {
		v.Permissions[string(p)] = string(a.perms.Status(m.ID, p))
	}
	return v
}

// loadedView describes a plugin held by the registry.
func (a *app) loadedView(info plugins.Info) pluginView {
	loadedAt := info.LoadedAt
	v := pluginView{
		ID:          info.ID,
		Name:        info.Name,
		Version:     info.Version,
		Description: info.Description,
		Author:      info.Author,
		Runtime:     info.Runtime,
		Dir:         info.Dir,
		Enabled:     info.Enabled,
		Loaded:      true,
		LoadedAt:    &loadedAt,
		Config:      info.Config,
		Permissions: make(map[string]string, len(info.Permissions)),
	}
	for _, p := range info.Permissions {
		v.Permissions[string(p)] = string(a.perms.Status(info.ID, p))
	}
	return v
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", formatText, "output format (text, json or yaml)")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return "", err //nolint:wrapcheck // flag lookup errors are self-describing
	}
	switch format = strings.ToLower(format); format {
	case formatText, formatJSON, formatYAML:
		return format, nil
	}
	return "", oops.In("muse").With("output", format).Errorf("unknown output format %q", format)
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return oops.In("muse").Wrap(enc.Encode(v))
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return oops.In("muse").Wrap(err)
		}
		return oops.In("muse").Wrap(enc.Close())
	}
	return oops.In("muse").Errorf("format %q cannot encode", format)
}

// table writes rows as aligned columns under header.
func table(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return oops.In("muse").Wrap(tw.Flush())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
