// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package install

import (
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"
)

// topLevel returns the first element of a slash or separator delimited
// relative path.
func topLevel(rel string) string {
	rel = filepath.ToSlash(rel)
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return rel
}

// walkPackage calls fn for every file and directory of the plugin package in
// root, skipping preserved entries. Paths are relative to root and visited
// in lexical order.
func walkPackage(fsys afero.Fs, root string, fn func(rel string, info fs.FileInfo) error) error {
	return afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if preserved[topLevel(rel)] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(rel, info)
	})
}

// copyTree copies the plugin package in src into dest, creating dest.
func copyTree(fsys afero.Fs, src, dest string) error {
	if err := fsys.MkdirAll(dest, 0o755); err != nil {
		return oops.With("dir", dest).Wrap(err)
	}
	return walkPackage(fsys, src, func(rel string, info fs.FileInfo) error {
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return fsys.MkdirAll(target, 0o755)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(fsys, filepath.Join(src, rel), target, info.Mode().Perm())
	})
}

func copyFile(fsys afero.Fs, src, dest string, perm fs.FileMode) (err error) {
	in, err := fsys.Open(src)
	if err != nil {
		return oops.With("path", src).Wrap(err)
	}
	defer func() { _ = in.Close() }()

	out, err := fsys.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return oops.With("path", dest).Wrap(err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = oops.With("path", dest).Wrap(cerr)
		}
	}()
	if _, err := io.Copy(out, in); err != nil {
		return oops.With("path", dest).Wrap(err)
	}
	return nil
}

// clearTree removes the plugin package from dir, leaving preserved entries.
func clearTree(fsys afero.Fs, dir string) error {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return oops.With("dir", dir).Wrap(err)
	}
	for _, e := range entries {
		if preserved[e.Name()] {
			continue
		}
		if err := fsys.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return oops.With("path", filepath.Join(dir, e.Name())).Wrap(err)
		}
	}
	return nil
}

// Digest returns the BLAKE2b-256 digest of the plugin package in dir, as
// hex. It covers relative paths and file contents, not modes or times.
func Digest(fsys afero.Fs, dir string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", oops.Wrap(err)
	}
	err = walkPackage(fsys, dir, func(rel string, info fs.FileInfo) error {
		if !info.Mode().IsRegular() {
			return nil
		}
		_, _ = io.WriteString(h, filepath.ToSlash(rel))
		_, _ = h.Write([]byte{0})
		f, err := fsys.Open(filepath.Join(dir, rel))
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		_, _ = h.Write([]byte{0})
		return nil
	})
	if err != nil {
		return "", oops.With("dir", dir).Wrap(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
