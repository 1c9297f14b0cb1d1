// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package install copies plugins into the plugins directory, removes them and
// replaces them with newer versions.
//
// Sources are local directories. Fetching a plugin from a remote location is
// left to the caller.
package install

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"github.com/spf13/afero"

	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// BackupDir is the directory inside a plugin that holds the previous
// version during an update.
const BackupDir = ".backup"

// preserved entries belong to the user, not the plugin package. They are
// never copied, backed up or replaced.
var preserved = map[string]bool{
	"data":        true,
	"config.json": true,
	BackupDir:     true,
}

// Lifecycle is the part of the registry the installer drives.
// *plugins.Registry satisfies it.
type Lifecycle interface {
	Load(ctx context.Context, dir string) (plugins.Info, error)
	Unload(ctx context.Context, id string) error
	Enable(ctx context.Context, id string) error
	IsLoaded(id string) bool
	IsEnabled(id string) bool
}

// Forgetter drops what the host remembers about a plugin.
type Forgetter interface {
	RevokeAll(pluginID string)
}

// Installer manages the plugin directories under one root.
type Installer struct {
	root     string
	fs       afero.Fs
	registry Lifecycle
	perms    Forgetter
	forget   func(id string) error
	logger   *slog.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithFs sets the filesystem. It must be the filesystem the registry loads
// from. Defaults to the OS filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(i *Installer) {
		i.fs = fsys
	}
}

// WithRegistry loads installed plugins and reloads updated ones. Without a
// registry the installer only manages files.
func WithRegistry(r Lifecycle) Option {
	return func(i *Installer) {
		i.registry = r
	}
}

// WithPermissions revokes a plugin's permissions when it is uninstalled.
func WithPermissions(p Forgetter) Option {
	return func(i *Installer) {
		i.perms = p
	}
}

// WithForget runs fn with the plugin id after uninstalling, to drop stored
// state such as the plugin's config namespace.
func WithForget(fn func(id string) error) Option {
	return func(i *Installer) {
		i.forget = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Installer) {
		i.logger = l
	}
}

// New creates an installer for the plugins directory root.
func New(root string, opts ...Option) *Installer {
	i := &Installer{root: root, fs: afero.NewOsFs(), logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Dir returns the install directory of a plugin.
func (i *Installer) Dir(id string) string {
	return filepath.Join(i.root, id)
}

// Installed reports whether a plugin directory exists for id.
func (i *Installer) Installed(id string) bool {
	ok, _ := afero.DirExists(i.fs, i.Dir(id))
	return ok
}

// ReadManifest reads and validates the manifest in dir.
func (i *Installer) ReadManifest(dir string) (*pluginsdk.Manifest, error) {
	data, err := afero.ReadFile(i.fs, filepath.Join(dir, pluginsdk.ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code(pluginsdk.CodeManifestNotFound).In("install").With("dir", dir).
				Errorf("no %s in %s", pluginsdk.ManifestFile, dir)
		}
		return nil, oops.Code(pluginsdk.CodeManifestNotFound).In("install").With("dir", dir).Wrap(err)
	}
	m, err := plugins.DecodeManifest(data)
	if err != nil {
		return nil, oops.In("install").With("dir", dir).Wrap(err)
	}
	return m, nil
}

// Install copies the plugin in src into the plugins directory and loads it,
// disabled. A plugin that fails to load is removed again.
func (i *Installer) Install(ctx context.Context, src string) (*pluginsdk.Manifest, error) {
	m, err := i.ReadManifest(src)
	if err != nil {
		return nil, err
	}
	dest := i.Dir(m.ID)
	errb := oops.In("install").With("plugin_id", m.ID).With("dir", dest)

	if i.Installed(m.ID) {
		return nil, errb.Code(pluginsdk.CodeAlreadyInstalled).Errorf("plugin %s is already installed", m.ID)
	}
	if err := copyTree(i.fs, src, dest); err != nil {
		_ = i.fs.RemoveAll(dest)
		return nil, errb.Wrap(err)
	}

	if i.registry != nil {
		if _, err := i.registry.Load(ctx, dest); err != nil {
			if rmErr := i.fs.RemoveAll(dest); rmErr != nil {
				errutil.LogError(i.logger, "remove plugin after failed load", errb.Wrap(rmErr))
			}
			return nil, errb.Wrap(err)
		}
	}
	i.logger.Info("plugin installed", "plugin_id", m.ID, "version", m.Version, "dir", dest)
	return m, nil
}

// Uninstall unloads the plugin, deletes its directory, data included, and
// revokes its permissions.
func (i *Installer) Uninstall(ctx context.Context, id string) error {
	errb := oops.In("install").With("plugin_id", id)
	if !i.Installed(id) {
		return errb.Code(pluginsdk.CodeNotInstalled).Errorf("plugin %s is not installed", id)
	}
	if i.registry != nil && i.registry.IsLoaded(id) {
		if err := i.registry.Unload(ctx, id); err != nil {
			return errb.Wrap(err)
		}
	}
	if err := i.fs.RemoveAll(i.Dir(id)); err != nil {
		return errb.With("dir", i.Dir(id)).Wrap(err)
	}
	if i.perms != nil {
		i.perms.RevokeAll(id)
	}
	if i.forget != nil {
		if err := i.forget(id); err != nil {
			errutil.LogWarn(i.logger, "forget uninstalled plugin", errb.Wrap(err))
		}
	}
	i.logger.Info("plugin uninstalled", "plugin_id", id)
	return nil
}

// UpdateCheck compares an installed plugin with a candidate version.
type UpdateCheck struct {
	ID        string
	Current   string
	Candidate string
	Available bool
}

// CheckForUpdate reports whether src holds a newer version of plugin id.
func (i *Installer) CheckForUpdate(id, src string) (UpdateCheck, error) {
	installed, candidate, err := i.manifests(id, src)
	if err != nil {
		return UpdateCheck{}, err
	}
	newer, err := isNewer(installed.Version, candidate.Version)
	if err != nil {
		return UpdateCheck{}, oops.In("install").With("plugin_id", id).Wrap(err)
	}
	return UpdateCheck{
		ID:        id,
		Current:   installed.Version,
		Candidate: candidate.Version,
		Available: newer,
	}, nil
}

// manifests reads the installed manifest of id and the candidate in src,
// which must be the same plugin.
func (i *Installer) manifests(id, src string) (installed, candidate *pluginsdk.Manifest, err error) {
	errb := oops.In("install").With("plugin_id", id)
	if !i.Installed(id) {
		return nil, nil, errb.Code(pluginsdk.CodeNotInstalled).Errorf("plugin %s is not installed", id)
	}
	installed, err = i.ReadManifest(i.Dir(id))
	if err != nil {
		return nil, nil, errb.Wrap(err)
	}
	candidate, err = i.ReadManifest(src)
	if err != nil {
		return nil, nil, errb.Wrap(err)
	}
	if candidate.ID != id {
		return nil, nil, errb.Code(pluginsdk.CodeInvalidManifest).
			With("candidate_id", candidate.ID).
			Errorf("%s holds plugin %s, not %s", src, candidate.ID, id)
	}
	return installed, candidate, nil
}

func isNewer(current, candidate string) (bool, error) {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false, oops.With("version", current).Wrap(err)
	}
	next, err := semver.NewVersion(candidate)
	if err != nil {
		return false, oops.With("version", candidate).Wrap(err)
	}
	return next.GreaterThan(cur), nil
}
