// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package api builds the capability-scoped context handed to each plugin.
//
// Every capability call except logging and raw event emission checks the
// plugin's permission at call time, so grants and revocations take effect
// without reloading the plugin.
package api

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/afero"

	"github.com/holomush/muse/internal/config"
	"github.com/holomush/muse/internal/logging"
	"github.com/holomush/muse/internal/plugin/audio"
	"github.com/holomush/muse/internal/plugin/event"
	"github.com/holomush/muse/internal/plugin/ui"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// DataDirName is the per-plugin directory plugins may read and write.
const DataDirName = "data"

// Permissions answers permission queries. *permission.Store satisfies it.
type Permissions interface {
	Has(pluginID string, perm pluginsdk.Permission) bool
	Request(ctx context.Context, pluginID string, perm pluginsdk.Permission) bool
}

// Bus is the event bus contexts subscribe and emit on. *event.Bus satisfies it.
type Bus interface {
	On(typ pluginsdk.EventType, h event.Handler) error
	Off(typ pluginsdk.EventType, h event.Handler)
	EmitAsync(ctx context.Context, ev pluginsdk.Event) error
}

// Deps are the host services shared by every plugin context.
type Deps struct {
	Permissions Permissions
	Bus         Bus
	Config      *config.Store
	Player      PlayerBackend
	Navigation  NavigationBackend
	Audio       *audio.Pipeline
	Shortcuts   *ui.Shortcuts
	Views       *ui.Views

	// PluginsDir is the root under which each plugin's data directory lives.
	PluginsDir string
	// Fs backs plugin data directories. Defaults to the OS filesystem.
	Fs     afero.Fs
	Logger *slog.Logger
}

// Factory creates plugin contexts.
type Factory struct {
	deps Deps
}

// NewFactory validates deps and returns a factory.
func NewFactory(deps Deps) (*Factory, error) {
	if deps.Permissions == nil || deps.Bus == nil {
		return nil, oops.In("api").Errorf("permissions and bus are required")
	}
	if deps.PluginsDir == "" {
		return nil, oops.In("api").Errorf("plugins dir is required")
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Audio == nil {
		deps.Audio = audio.NewPipeline(nil, deps.Logger)
	}
	if deps.Shortcuts == nil {
		deps.Shortcuts = ui.NewShortcuts(deps.Logger)
	}
	if deps.Views == nil {
		deps.Views = ui.NewViews(deps.Logger)
	}
	return &Factory{deps: deps}, nil
}

// DataDir returns the data directory of a plugin.
func (f *Factory) DataDir(pluginID string) string {
	return filepath.Join(f.deps.PluginsDir, pluginID, DataDirName)
}

// New builds the context for a loaded plugin. The context starts inactive;
// handlers it registers are muted until SetActive(true).
func (f *Factory) New(manifest *pluginsdk.Manifest) (*Context, error) {
	if manifest == nil || manifest.ID == "" {
		return nil, oops.In("api").Errorf("manifest with an id is required")
	}
	id := manifest.ID
	errb := oops.In("api").With("plugin_id", id)

	dataDir := f.DataDir(id)
	if err := f.deps.Fs.MkdirAll(dataDir, 0o700); err != nil {
		return nil, errb.With("path", dataDir).Wrap(err)
	}

	schema, err := compileConfigSchema(manifest)
	if err != nil {
		return nil, errb.Code(pluginsdk.CodeInvalidManifest).Wrap(err)
	}

	c := &Context{
		manifest: manifest,
		id:       id,
		deps:     &f.deps,
		logger:   logging.ForPlugin(f.deps.Logger, id, manifest.DisplayName()),
		dataDir:  dataDir,
		files:    afero.NewBasePathFs(f.deps.Fs, dataDir),
		schema:   schema,
		handlers: make(map[handlerKey]*pluginHandler),
	}
	return c, nil
}

func compileConfigSchema(m *pluginsdk.Manifest) (*jsonschema.Schema, error) {
	if len(m.ConfigSchema) == 0 {
		return nil, nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(m.ConfigSchema))
	if err != nil {
		return nil, oops.Hint("configSchema is not valid JSON").Wrap(err)
	}
	url := "muse://plugins/" + m.ID + "/config.schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, oops.Wrap(err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, oops.Hint("configSchema is not a valid JSON Schema").Wrap(err)
	}
	return schema, nil
}
