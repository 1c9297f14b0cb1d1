// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "plugin.json"

// Permission is a capability a plugin may be granted.
type Permission string

// Permissions understood by the runtime.
const (
	PermFilesystem Permission = "filesystem"
	PermNetwork    Permission = "network"
	PermPlayer     Permission = "player"
	PermUI         Permission = "ui"
	PermConfig     Permission = "config"
)

// AllPermissions returns every known permission.
func AllPermissions() []Permission {
	return []Permission{PermFilesystem, PermNetwork, PermPlayer, PermUI, PermConfig}
}

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	switch p {
	case PermFilesystem, PermNetwork, PermPlayer, PermUI, PermConfig:
		return true
	}
	return false
}

// PermissionStatus is the recorded decision for one permission.
type PermissionStatus string

// Permission statuses. An unset permission reports StatusPrompt.
const (
	StatusGranted PermissionStatus = "granted"
	StatusDenied  PermissionStatus = "denied"
	StatusPrompt  PermissionStatus = "prompt"
)

// Valid reports whether s is a known status.
func (s PermissionStatus) Valid() bool {
	switch s {
	case StatusGranted, StatusDenied, StatusPrompt:
		return true
	}
	return false
}

// Manifest describes a plugin. It is read from plugin.json.
type Manifest struct {
	ID           string            `json:"id"`
	Name         string            `json:"name" jsonschema:"minLength=1"`
	Version      string            `json:"version" jsonschema:"minLength=1"`
	Description  string            `json:"description" jsonschema:"minLength=1"`
	Author       string            `json:"author" jsonschema:"minLength=1"`
	Main         string            `json:"main" jsonschema:"minLength=1"`
	Permissions  []Permission      `json:"permissions"`
	License      string            `json:"license,omitempty"`
	Homepage     string            `json:"homepage,omitempty"`
	Repository   string            `json:"repository,omitempty"`
	Hooks        []EventType       `json:"hooks,omitempty"`
	UI           *UIManifest       `json:"ui,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	ConfigSchema json.RawMessage   `json:"configSchema,omitempty"`
}

// UIManifest declares the views and shortcuts a plugin contributes.
type UIManifest struct {
	Views     []string `json:"views,omitempty"`
	Shortcuts []string `json:"shortcuts,omitempty"`
}

// maxIDLength is the maximum allowed length for plugin ids.
const maxIDLength = 64

// IDPattern validates plugin ids: must start with a lowercase letter,
// followed by lowercase letters, digits, or hyphens, and not end with a hyphen.
var IDPattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest decodes and validates plugin.json content.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.ID == "" || !IDPattern.MatchString(m.ID) {
		return fmt.Errorf("id %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.ID)
	}
	if len(m.ID) > maxIDLength {
		return fmt.Errorf("id must be %d characters or less, got %d", maxIDLength, len(m.ID))
	}

	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}

	if strings.TrimSpace(m.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if strings.TrimSpace(m.Author) == "" {
		return fmt.Errorf("author is required")
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not valid semver: %w", m.Version, err)
	}

	if m.Main == "" {
		return fmt.Errorf("main is required")
	}
	if !filepath.IsLocal(m.Main) {
		return fmt.Errorf("main %q must be a relative path inside the plugin directory", m.Main)
	}

	// An empty list is fine; a missing one is not.
	if m.Permissions == nil {
		return fmt.Errorf("permissions is required")
	}
	for _, p := range m.Permissions {
		if !p.Valid() {
			return fmt.Errorf("unknown permission %q", p)
		}
	}

	for _, h := range m.Hooks {
		if !h.Valid() {
			return fmt.Errorf("unknown hook event %q", h)
		}
	}

	for dep, constraint := range m.Dependencies {
		if !IDPattern.MatchString(dep) {
			return fmt.Errorf("dependency id %q is invalid", dep)
		}
		if dep == m.ID {
			return fmt.Errorf("plugin cannot depend on itself")
		}
		if _, err := semver.NewConstraint(constraint); err != nil {
			return fmt.Errorf("dependency %s: invalid constraint %q: %w", dep, constraint, err)
		}
	}

	if len(m.ConfigSchema) > 0 && !json.Valid(m.ConfigSchema) {
		return fmt.Errorf("configSchema is not valid JSON")
	}

	return nil
}

// SemVer returns the parsed manifest version.
func (m *Manifest) SemVer() (*semver.Version, error) {
	v, err := semver.StrictNewVersion(m.Version)
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", m.Version, err)
	}
	return v, nil
}

// DisplayName returns the name shown to users, falling back to the id.
func (m *Manifest) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// Requests reports whether the manifest declares p.
func (m *Manifest) Requests(p Permission) bool {
	for _, have := range m.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Runtime returns the entry point's extension without the dot, e.g. "lua" or "js".
func (m *Manifest) Runtime() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(m.Main)), ".")
}
