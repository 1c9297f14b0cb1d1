// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package install

import (
	"context"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/holomush/muse/pkg/errutil"
)

// UpdateResult describes a completed update.
type UpdateResult struct {
	ID         string
	OldVersion string
	NewVersion string
	// Upgraded is true when the new version is greater than the old one.
	Upgraded bool
	// Changed is true when the plugin files differ.
	Changed bool
}

// Update replaces plugin id with the version in src. User data and config
// are kept. The previous files are backed up first; if the new version
// fails to copy, load or enable, the backup is restored and the previous
// version reloaded in its former state.
func (i *Installer) Update(ctx context.Context, id, src string) (UpdateResult, error) {
	installed, candidate, err := i.manifests(id, src)
	if err != nil {
		return UpdateResult{}, err
	}
	dest := i.Dir(id)
	errb := oops.In("install").With("plugin_id", id).With("dir", dest)

	upgraded, err := isNewer(installed.Version, candidate.Version)
	if err != nil {
		return UpdateResult{}, errb.Wrap(err)
	}
	oldSum, err := Digest(i.fs, dest)
	if err != nil {
		return UpdateResult{}, errb.Wrap(err)
	}
	newSum, err := Digest(i.fs, src)
	if err != nil {
		return UpdateResult{}, errb.Wrap(err)
	}
	res := UpdateResult{
		ID:         id,
		OldVersion: installed.Version,
		NewVersion: candidate.Version,
		Upgraded:   upgraded,
		Changed:    oldSum != newSum,
	}

	backup := filepath.Join(dest, BackupDir)
	if err := i.fs.RemoveAll(backup); err != nil {
		return UpdateResult{}, errb.Wrap(err)
	}
	if err := copyTree(i.fs, dest, backup); err != nil {
		_ = i.fs.RemoveAll(backup)
		return UpdateResult{}, errb.Hint("backup failed, nothing was changed").Wrap(err)
	}

	loaded := i.registry != nil && i.registry.IsLoaded(id)
	enabled := loaded && i.registry.IsEnabled(id)
	if loaded {
		if err := i.registry.Unload(ctx, id); err != nil {
			_ = i.fs.RemoveAll(backup)
			return UpdateResult{}, errb.Wrap(err)
		}
	}

	if err := i.replace(ctx, dest, src, loaded, enabled); err != nil {
		i.restore(ctx, id, dest, loaded, enabled)
		return UpdateResult{}, errb.With("old_version", res.OldVersion).
			With("new_version", res.NewVersion).
			Hint("the previous version was restored").
			Wrap(err)
	}

	if err := i.fs.RemoveAll(backup); err != nil {
		errutil.LogWarn(i.logger, "remove update backup", errb.Wrap(err))
	}
	i.logger.Info("plugin updated",
		"plugin_id", id,
		"old_version", res.OldVersion,
		"new_version", res.NewVersion,
		"changed", res.Changed)
	return res, nil
}

// replace swaps the plugin files in dest for those in src and brings the
// plugin back to its previous state.
func (i *Installer) replace(ctx context.Context, dest, src string, load, enable bool) error {
	if err := clearTree(i.fs, dest); err != nil {
		return err
	}
	if err := copyTree(i.fs, src, dest); err != nil {
		return err
	}
	return i.reload(ctx, dest, load, enable)
}

func (i *Installer) reload(ctx context.Context, dir string, load, enable bool) error {
	if !load {
		return nil
	}
	info, err := i.registry.Load(ctx, dir)
	if err != nil {
		return err
	}
	if !enable {
		return nil
	}
	if err := i.registry.Enable(ctx, info.ID); err != nil {
		if uerr := i.registry.Unload(ctx, info.ID); uerr != nil {
			errutil.LogError(i.logger, "unload plugin that failed to enable", uerr)
		}
		return err
	}
	return nil
}

// restore puts the backed-up files back and reloads the previous version.
// Failures are logged: the update error is what the caller sees.
func (i *Installer) restore(ctx context.Context, id, dest string, load, enable bool) {
	backup := filepath.Join(dest, BackupDir)
	errb := oops.In("install").With("plugin_id", id).With("dir", dest)

	if load && i.registry.IsLoaded(id) {
		if err := i.registry.Unload(ctx, id); err != nil {
			errutil.LogError(i.logger, "unload failed update", errb.Wrap(err))
		}
	}
	if err := clearTree(i.fs, dest); err != nil {
		errutil.LogError(i.logger, "clear failed update", errb.Wrap(err))
		return
	}
	if err := copyTree(i.fs, backup, dest); err != nil {
		errutil.LogError(i.logger, "restore plugin backup", errb.Wrap(err))
		return
	}
	if err := i.fs.RemoveAll(backup); err != nil {
		errutil.LogWarn(i.logger, "remove update backup", errb.Wrap(err))
	}
	if err := i.reload(ctx, dest, load, enable); err != nil {
		errutil.LogError(i.logger, "reload previous plugin version", errb.Wrap(err))
		return
	}
	i.logger.Warn("plugin update rolled back", "plugin_id", id)
}
