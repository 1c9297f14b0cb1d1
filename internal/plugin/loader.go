// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/muse/internal/plugin/api"
	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

var tracer = otel.Tracer("muse/plugin")

// Loader reads plugin directories and resolves their entry modules.
type Loader struct {
	resolvers   map[string]Resolver
	logger      *slog.Logger
	hookTimeout time.Duration
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithResolver registers r for each extension it handles. A later resolver
// for the same extension replaces an earlier one.
func WithResolver(r Resolver) LoaderOption {
	return func(l *Loader) {
		for _, ext := range r.Extensions() {
			l.resolvers[ext] = r
		}
	}
}

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithHookTimeout bounds each lifecycle hook call. Zero disables the bound.
func WithHookTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.hookTimeout = d
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		resolvers: make(map[string]Resolver),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Runtimes returns the entry file extensions the loader can resolve, sorted.
func (l *Loader) Runtimes() []string {
	exts := make([]string, 0, len(l.resolvers))
	for ext := range l.resolvers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ReadManifest reads and validates dir/plugin.json.
func (l *Loader) ReadManifest(dir string) (*pluginsdk.Manifest, error) {
	path := filepath.Join(dir, pluginsdk.ManifestFile)
	data, err := os.ReadFile(path) //nolint:gosec // path is the plugin directory chosen by the host
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code(pluginsdk.CodeManifestNotFound).
				In("loader").
				With("dir", dir).
				Errorf("no %s in %s", pluginsdk.ManifestFile, dir)
		}
		return nil, oops.Code(pluginsdk.CodeManifestNotFound).In("loader").With("dir", dir).Wrap(err)
	}

	m, err := DecodeManifest(data)
	if err != nil {
		return nil, oops.In("loader").With("dir", dir).Wrap(err)
	}
	return m, nil
}

// DecodeManifest checks data against the manifest schema, then parses and
// validates it.
func DecodeManifest(data []byte) (*pluginsdk.Manifest, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, oops.Code(pluginsdk.CodeInvalidManifest).Wrap(err)
	}
	m, err := pluginsdk.ParseManifest(data)
	if err != nil {
		return nil, oops.Code(pluginsdk.CodeInvalidManifest).Wrap(err)
	}
	return m, nil
}

// Load reads the plugin in dir and loads its entry module. The returned
// instance is disabled and has no context yet.
func (l *Loader) Load(ctx context.Context, dir string) (*Instance, error) {
	m, err := l.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	errb := oops.In("loader").With("plugin_id", m.ID).With("dir", dir)

	runtime := m.Runtime()
	r, ok := l.resolvers[runtime]
	if !ok {
		return nil, errb.Code(pluginsdk.CodeModuleLoadError).
			With("main", m.Main).
			Errorf("no runtime for %q entry files", "."+runtime)
	}

	entry := filepath.Join(dir, m.Main)
	mod, err := r.Resolve(ctx, entry, m)
	if err != nil {
		if errutil.Code(err) == "" {
			errb = errb.Code(pluginsdk.CodeModuleLoadError)
		}
		return nil, errb.With("main", m.Main).Wrap(err)
	}

	exported := mod.Manifest()
	if exported == nil {
		_ = mod.Close()
		return nil, errb.Code(pluginsdk.CodeInvalidPluginModule).Errorf("module does not export a manifest")
	}
	if exported.ID != "" && exported.ID != m.ID {
		l.logger.Warn("module manifest id differs from plugin.json, using plugin.json",
			"plugin_id", m.ID, "module_id", exported.ID, "dir", dir)
	}

	return newInstance(m, mod, dir), nil
}

// CallHook runs hook on mod. Absent hooks are skipped. A hook that panics or
// returns an error fails with HOOK_FAILED; one that outlives the hook
// timeout fails with HOOK_TIMEOUT.
func (l *Loader) CallHook(ctx context.Context, mod Module, hook Hook, pctx *api.Context) (err error) {
	if !mod.HasHook(hook) {
		return nil
	}
	id := ""
	if pctx != nil {
		id = pctx.PluginID()
	}

	ctx, span := tracer.Start(ctx, "plugin.hook",
		trace.WithAttributes(
			attribute.String("plugin.id", id),
			attribute.String("plugin.hook", string(hook)),
		),
	)
	start := time.Now()
	defer func() {
		status := statusSuccess
		if err != nil {
			status = statusError
			if errutil.HasCode(err, pluginsdk.CodeHookTimeout) {
				status = statusTimeout
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		recordHook(hook, status, time.Since(start))
		span.End()
	}()

	if l.hookTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.hookTimeout)
		defer cancel()
	}

	errb := oops.In("loader").With("plugin_id", id).With("hook", string(hook))
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("hook panicked: %v", r)
			}
		}()
		done <- mod.CallHook(ctx, hook, pctx)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if errutil.Code(err) == "" {
			errb = errb.Code(pluginsdk.CodeHookFailed)
		}
		return errb.Wrapf(err, "%s hook failed", hook)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errb.Code(pluginsdk.CodeHookTimeout).
				With("timeout", l.hookTimeout.String()).
				Errorf("%s hook did not finish within %s", hook, l.hookTimeout)
		}
		return errb.Wrap(ctx.Err())
	}
}

// Discover returns the subdirectories of root that contain a plugin.json,
// sorted. A missing root yields no directories.
func (l *Loader) Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.In("loader").With("dir", root).Wrap(err)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, pluginsdk.ManifestFile)); err != nil {
			l.logger.Warn("skipping plugin without manifest", "dir", dir)
			continue
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}
