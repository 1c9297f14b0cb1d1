// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"github.com/spf13/afero"

	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Files is the filesystem API confined to the plugin's data directory.
// Paths are slash-separated and relative to that directory. Every method
// except DataDir requires the filesystem permission.
type Files struct {
	c *Context
}

// Files returns the plugin's filesystem API.
func (c *Context) Files() Files { return Files{c: c} }

// DataDir returns the absolute path of the plugin's data directory.
func (f Files) DataDir() string { return f.c.dataDir }

// clean converts a plugin-supplied path to a local path inside the data dir.
// "" and "." name the data dir itself.
func (f Files) clean(p string) (string, error) {
	if p == "" || p == "." {
		return ".", nil
	}
	native := filepath.FromSlash(p)
	if !filepath.IsLocal(native) {
		return "", oops.Code(pluginsdk.CodeInvalidPath).
			In("api").
			With("plugin_id", f.c.id).
			With("path", p).
			Errorf("path %q escapes the plugin data directory", p)
	}
	return filepath.Clean(native), nil
}

func (f Files) wrap(op, p string, err error) error {
	if err == nil {
		return nil
	}
	return oops.In("api").With("plugin_id", f.c.id).With("operation", op).With("path", p).Wrap(err)
}

// ReadFile returns the content of a file.
func (f Files) ReadFile(p string) (string, error) {
	return guard(f.c, pluginsdk.PermFilesystem, "read_file", func() (string, error) {
		local, err := f.clean(p)
		if err != nil {
			return "", err
		}
		data, err := afero.ReadFile(f.c.files, local)
		if err != nil {
			return "", f.wrap("read_file", p, err)
		}
		return string(data), nil
	})
}

// WriteFile writes data to a file, creating parent directories.
func (f Files) WriteFile(p, data string) error {
	return guardErr(f.c, pluginsdk.PermFilesystem, "write_file", func() error {
		local, err := f.clean(p)
		if err != nil {
			return err
		}
		if local == "." {
			return oops.Code(pluginsdk.CodeInvalidPath).In("api").With("plugin_id", f.c.id).Errorf("path is empty")
		}
		if err := f.c.files.MkdirAll(filepath.Dir(local), 0o700); err != nil {
			return f.wrap("write_file", p, err)
		}
		return f.wrap("write_file", p, afero.WriteFile(f.c.files, local, []byte(data), 0o600))
	})
}

// DeleteFile removes a file. Removing a missing file is not an error.
func (f Files) DeleteFile(p string) error {
	return guardErr(f.c, pluginsdk.PermFilesystem, "delete_file", func() error {
		local, err := f.clean(p)
		if err != nil {
			return err
		}
		if local == "." {
			return oops.Code(pluginsdk.CodeInvalidPath).In("api").With("plugin_id", f.c.id).Errorf("cannot delete the data directory")
		}
		err = f.c.files.Remove(local)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return f.wrap("delete_file", p, err)
	})
}

// Exists reports whether a file or directory exists.
func (f Files) Exists(p string) (bool, error) {
	return guard(f.c, pluginsdk.PermFilesystem, "exists", func() (bool, error) {
		local, err := f.clean(p)
		if err != nil {
			return false, err
		}
		ok, err := afero.Exists(f.c.files, local)
		return ok, f.wrap("exists", p, err)
	})
}

// ListFiles returns the entry names of a directory, sorted. A missing
// directory lists as empty.
func (f Files) ListFiles(p string) ([]string, error) {
	return guard(f.c, pluginsdk.PermFilesystem, "list_files", func() ([]string, error) {
		local, err := f.clean(p)
		if err != nil {
			return nil, err
		}
		entries, err := afero.ReadDir(f.c.files, local)
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		if err != nil {
			return nil, f.wrap("list_files", p, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		return names, nil
	})
}

// Glob returns the files under the data dir whose slash-separated relative
// path matches pattern. "*" stays within one directory; "**" crosses them.
func (f Files) Glob(pattern string) ([]string, error) {
	return guard(f.c, pluginsdk.PermFilesystem, "glob", func() ([]string, error) {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, oops.In("api").With("plugin_id", f.c.id).With("pattern", pattern).Wrap(err)
		}
		var matches []string
		err = afero.Walk(f.c.files, ".", func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel := path.Clean(filepath.ToSlash(strings.TrimPrefix(p, string(filepath.Separator))))
			if g.Match(rel) {
				matches = append(matches, rel)
			}
			return nil
		})
		if err != nil {
			return nil, f.wrap("glob", pattern, err)
		}
		sort.Strings(matches)
		return matches, nil
	})
}
