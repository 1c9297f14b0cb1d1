// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/holomush/muse/internal/config"
	"github.com/holomush/muse/internal/plugin/api"
	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// Registry owns the loaded plugins and drives their lifecycle:
//
//	unloaded -> loaded (disabled) -> enabled <-> disabled -> unloaded
//
// Lifecycle operations are serialized; lookups run concurrently with them.
type Registry struct {
	loader     *Loader
	factory    *api.Factory
	config     *config.Store
	pluginsDir string
	logger     *slog.Logger

	// opMu serializes Load, Enable, Disable and Unload.
	opMu sync.Mutex

	mu      sync.RWMutex
	plugins map[string]*Instance
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithConfig persists enabled state and exposes plugin config in Info.
func WithConfig(store *config.Store) RegistryOption {
	return func(r *Registry) {
		r.config = store
	}
}

// WithPluginsDir sets the directory LoadAll scans.
func WithPluginsDir(dir string) RegistryOption {
	return func(r *Registry) {
		r.pluginsDir = dir
	}
}

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(loader *Loader, factory *api.Factory, opts ...RegistryOption) *Registry {
	r := &Registry{
		loader:  loader,
		factory: factory,
		logger:  slog.Default(),
		plugins: make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load loads the plugin in dir, builds its context and runs its init hook.
// The plugin starts disabled. A failing init hook aborts the load.
func (r *Registry) Load(ctx context.Context, dir string) (Info, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	inst, err := r.loader.Load(ctx, dir)
	if err != nil {
		return Info{}, err
	}
	m := inst.Manifest()
	errb := oops.In("registry").With("plugin_id", m.ID)

	if r.IsLoaded(m.ID) {
		_ = inst.Module().Close()
		return Info{}, errb.Code(pluginsdk.CodeAlreadyLoaded).Errorf("plugin %s is already loaded", m.ID)
	}
	if err := r.checkDependencies(m); err != nil {
		_ = inst.Module().Close()
		return Info{}, err
	}

	pctx, err := r.factory.New(m)
	if err != nil {
		_ = inst.Module().Close()
		return Info{}, errb.Wrap(err)
	}
	inst.setContext(pctx)

	if err := r.loader.CallHook(ctx, inst.Module(), HookInit, pctx); err != nil {
		pctx.Close()
		_ = inst.Module().Close()
		return Info{}, err
	}

	r.mu.Lock()
	r.plugins[m.ID] = inst
	r.mu.Unlock()
	r.updateGauge()

	r.logger.Info("plugin loaded",
		"plugin_id", m.ID,
		"plugin", m.DisplayName(),
		"version", m.Version,
		"runtime", m.Runtime())
	return r.infoFor(inst), nil
}

func (r *Registry) checkDependencies(m *pluginsdk.Manifest) error {
	for dep, constraint := range m.Dependencies {
		errb := oops.Code(pluginsdk.CodeDependencyMissing).
			In("registry").
			With("plugin_id", m.ID).
			With("dependency", dep).
			With("constraint", constraint)

		inst, ok := r.instance(dep)
		if !ok {
			return errb.Errorf("plugin %s requires %s, which is not loaded", m.ID, dep)
		}
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return errb.Wrap(err)
		}
		v, err := inst.Manifest().SemVer()
		if err != nil {
			return errb.Wrap(err)
		}
		if !c.Check(v) {
			return errb.With("installed", v.String()).
				Errorf("plugin %s requires %s %s, found %s", m.ID, dep, constraint, v)
		}
	}
	return nil
}

// Enable runs the plugin's enable hook and marks it enabled. Enabling an
// enabled plugin is a no-op. If the hook fails the plugin stays disabled.
func (r *Registry) Enable(ctx context.Context, id string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.setEnabled(ctx, id, true)
}

// Disable runs the plugin's disable hook and marks it disabled. Disabling a
// disabled plugin is a no-op. If the hook fails the plugin stays enabled.
func (r *Registry) Disable(ctx context.Context, id string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.setEnabled(ctx, id, false)
}

func (r *Registry) setEnabled(ctx context.Context, id string, enabled bool) error {
	inst, err := r.mustGet(id)
	if err != nil {
		return err
	}
	if inst.Enabled() == enabled {
		r.logger.Debug("plugin already in requested state", "plugin_id", id, "enabled", enabled)
		return nil
	}

	hook, verb := HookEnable, "enabled"
	if !enabled {
		hook, verb = HookDisable, "disabled"
	}
	if err := r.loader.CallHook(ctx, inst.Module(), hook, inst.Context()); err != nil {
		return err
	}

	inst.setEnabled(enabled)
	r.persistState(id, enabled)
	r.updateGauge()
	r.logger.Info("plugin "+verb, "plugin_id", id)
	return nil
}

func (r *Registry) persistState(id string, enabled bool) {
	if r.config == nil {
		return
	}
	if err := r.config.SetPluginEnabled(id, enabled); err != nil {
		errutil.LogError(r.logger, "persist plugin state",
			oops.In("registry").With("plugin_id", id).Wrap(err))
	}
}

// Unload removes a plugin. An enabled plugin gets a best-effort destroy
// hook first; its failure is logged, not returned.
func (r *Registry) Unload(ctx context.Context, id string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.unload(ctx, id)
}

func (r *Registry) unload(ctx context.Context, id string) error {
	inst, err := r.mustGet(id)
	if err != nil {
		return err
	}

	pctx := inst.Context()
	if inst.Enabled() {
		if err := r.loader.CallHook(ctx, inst.Module(), HookDestroy, pctx); err != nil {
			errutil.LogError(r.logger, "plugin destroy hook failed", err)
		}
	}
	inst.setEnabled(false)
	if pctx != nil {
		pctx.Close()
	}
	if err := inst.Module().Close(); err != nil {
		errutil.LogWarn(r.logger, "close plugin module", oops.In("registry").With("plugin_id", id).Wrap(err))
	}

	r.mu.Lock()
	delete(r.plugins, id)
	r.mu.Unlock()
	r.updateGauge()

	r.logger.Info("plugin unloaded", "plugin_id", id)
	return nil
}

// UnloadAll unloads every plugin, dependents before their dependencies.
func (r *Registry) UnloadAll(ctx context.Context) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	ids := r.unloadOrder()
	for _, id := range ids {
		if err := r.unload(ctx, id); err != nil {
			errutil.LogError(r.logger, "unload plugin", err)
		}
	}
}

// unloadOrder returns loaded ids with every plugin ahead of the plugins it
// depends on.
func (r *Registry) unloadOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	visited := make(map[string]bool, len(ids))
	var order []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		inst, ok := r.plugins[id]
		if !ok {
			return
		}
		deps := make([]string, 0, len(inst.Manifest().Dependencies))
		for dep := range inst.Manifest().Dependencies {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}
		order = append(order, id)
	}
	for _, id := range ids {
		visit(id)
	}
	// order lists dependencies first; unload in reverse.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Close unloads every plugin.
func (r *Registry) Close(ctx context.Context) {
	r.UnloadAll(ctx)
}

// LoadAll loads every plugin under the plugins directory. Failures are
// logged and skipped. Plugins whose dependencies are not loaded yet are
// retried after the others. Plugins persisted as enabled are enabled again.
func (r *Registry) LoadAll(ctx context.Context) error {
	if r.pluginsDir == "" {
		return oops.In("registry").Errorf("plugins dir is not configured")
	}
	dirs, err := r.loader.Discover(r.pluginsDir)
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		r.logger.Info("no plugins found", "dir", r.pluginsDir)
		return nil
	}

	pending := r.pendingManifests(dirs)
	for len(pending) > 0 {
		progressed := false
		for _, dir := range sortedKeys(pending) {
			if !r.dependenciesLoaded(pending[dir]) {
				continue
			}
			delete(pending, dir)
			progressed = true
			r.loadLogged(ctx, dir)
		}
		if !progressed {
			break
		}
	}
	// Whatever is left has unmet dependencies; loading reports why.
	for _, dir := range sortedKeys(pending) {
		r.loadLogged(ctx, dir)
	}

	if r.config == nil {
		return nil
	}
	for _, id := range r.config.EnabledPlugins() {
		if !r.IsLoaded(id) {
			continue
		}
		if err := r.Enable(ctx, id); err != nil {
			errutil.LogError(r.logger, "failed to re-enable plugin", err)
		}
	}
	return nil
}

func (r *Registry) pendingManifests(dirs []string) map[string]*pluginsdk.Manifest {
	pending := make(map[string]*pluginsdk.Manifest, len(dirs))
	for _, dir := range dirs {
		m, err := r.loader.ReadManifest(dir)
		if err != nil {
			errutil.LogError(r.logger, "failed to load plugin", err)
			continue
		}
		pending[dir] = m
	}
	return pending
}

func sortedKeys(m map[string]*pluginsdk.Manifest) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) dependenciesLoaded(m *pluginsdk.Manifest) bool {
	for dep := range m.Dependencies {
		if !r.IsLoaded(dep) {
			return false
		}
	}
	return true
}

func (r *Registry) loadLogged(ctx context.Context, dir string) {
	if _, err := r.Load(ctx, dir); err != nil {
		errutil.LogError(r.logger, "failed to load plugin", err)
	}
}

func (r *Registry) instance(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.plugins[id]
	return inst, ok
}

func (r *Registry) mustGet(id string) (*Instance, error) {
	inst, ok := r.instance(id)
	if !ok {
		return nil, oops.Code(pluginsdk.CodeNotLoaded).
			In("registry").
			With("plugin_id", id).
			Errorf("plugin %s is not loaded", id)
	}
	return inst, nil
}

// Get returns a snapshot of a loaded plugin.
func (r *Registry) Get(id string) (Info, bool) {
	inst, ok := r.instance(id)
	if !ok {
		return Info{}, false
	}
	return r.infoFor(inst), true
}

// Instance returns the live instance of a loaded plugin.
func (r *Registry) Instance(id string) (*Instance, bool) {
	return r.instance(id)
}

// List returns snapshots of every loaded plugin, sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	insts := make([]*Instance, 0, len(r.plugins))
	for _, inst := range r.plugins {
		insts = append(insts, inst)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(insts))
	for _, inst := range insts {
		out = append(out, r.infoFor(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Enabled returns snapshots of the enabled plugins, sorted by id.
func (r *Registry) Enabled() []Info {
	var out []Info
	for _, info := range r.List() {
		if info.Enabled {
			out = append(out, info)
		}
	}
	return out
}

// IDs returns the ids of every loaded plugin, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// IsLoaded reports whether id is loaded.
func (r *Registry) IsLoaded(id string) bool {
	_, ok := r.instance(id)
	return ok
}

// IsEnabled reports whether id is loaded and enabled.
func (r *Registry) IsEnabled(id string) bool {
	inst, ok := r.instance(id)
	return ok && inst.Enabled()
}

func (r *Registry) infoFor(inst *Instance) Info {
	info := inst.info()
	if r.config != nil {
		info.Config = r.config.Plugin(info.ID).All()
	}
	return info
}

func (r *Registry) updateGauge() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enabled := 0
	for _, inst := range r.plugins {
		if inst.Enabled() {
			enabled++
		}
	}
	recordLoaded(enabled, len(r.plugins)-enabled)
}
