// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins_test

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/spf13/afero"

	"github.com/holomush/muse/internal/config"
	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/internal/plugin/api"
	"github.com/holomush/muse/internal/plugin/event"
	"github.com/holomush/muse/internal/plugin/permission"
	"github.com/holomush/muse/internal/plugin/plugintest"
	"github.com/holomush/muse/internal/plugin/ui"
	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

type fixture struct {
	root     string
	res      *plugintest.Resolver
	cfg      *config.Store
	perms    *permission.Store
	bus      *event.Bus
	views    *ui.Views
	registry *plugins.Registry
}

func newFixture() *fixture {
	tmp := GinkgoT().TempDir()
	f := &fixture{
		root:  filepath.Join(tmp, "plugins"),
		res:   plugintest.NewResolver(),
		bus:   event.New(),
		views: ui.NewViews(nil),
	}
	DeferCleanup(f.bus.Close)

	var err error
	f.cfg, err = config.Open(filepath.Join(tmp, config.FileName))
	Expect(err).NotTo(HaveOccurred())
	f.perms, err = permission.Open(filepath.Join(tmp, permission.FileName), permission.WithFs(afero.NewMemMapFs()))
	Expect(err).NotTo(HaveOccurred())
	f.registry = f.newRegistry()
	return f
}

func (f *fixture) newRegistry() *plugins.Registry {
	factory, err := api.NewFactory(api.Deps{
		Permissions: f.perms,
		Bus:         f.bus,
		Config:      f.cfg,
		Views:       f.views,
		PluginsDir:  f.root,
		Fs:          afero.NewMemMapFs(),
	})
	Expect(err).NotTo(HaveOccurred())
	return plugins.NewRegistry(plugins.NewLoader(plugins.WithResolver(f.res)), factory,
		plugins.WithConfig(f.cfg),
		plugins.WithPluginsDir(f.root))
}

// add writes a plugin to disk and serves a module for it.
func (f *fixture) add(m *pluginsdk.Manifest) (*plugintest.Module, string) {
	mod := f.res.Add(plugintest.NewModule(m))
	return mod, plugintest.WritePlugin(GinkgoTB(), f.root, m)
}

func failWith(msg string) plugintest.HookFunc {
	return func(context.Context, *api.Context) error { return errors.New(msg) }
}

var _ = Describe("Registry", func() {
	var (
		ctx context.Context
		f   *fixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture()
	})

	Describe("Load", func() {
		It("loads a plugin disabled and runs init", func() {
			mod, dir := f.add(plugintest.Manifest("lyrics", pluginsdk.PermUI))

			info, err := f.registry.Load(ctx, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.ID).To(Equal("lyrics"))
			Expect(info.Enabled).To(BeFalse())
			Expect(info.Runtime).To(Equal(plugintest.Ext))
			Expect(info.Dir).To(Equal(dir))
			Expect(mod.Calls()).To(BeEmpty(), "absent hooks are not called")

			inst, ok := f.registry.Instance("lyrics")
			Expect(ok).To(BeTrue())
			Expect(inst.Context()).NotTo(BeNil())
			Expect(inst.Context().Active()).To(BeFalse())
		})

		It("passes the plugin context to init", func() {
			var seen *api.Context
			m := plugintest.Manifest("lyrics")
			mod, dir := f.add(m)
			mod.On(plugins.HookInit, func(_ context.Context, c *api.Context) error {
				seen = c
				return nil
			})

			_, err := f.registry.Load(ctx, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).NotTo(BeNil())
			Expect(seen.PluginID()).To(Equal("lyrics"))
		})

		It("rejects a second load of the same id", func() {
			first, dir := f.add(plugintest.Manifest("lyrics"))
			_, err := f.registry.Load(ctx, dir)
			Expect(err).NotTo(HaveOccurred())

			_, err = f.registry.Load(ctx, dir)
			Expect(errutil.Code(err)).To(Equal(pluginsdk.CodeAlreadyLoaded))

			served := f.res.Served("lyrics")
			Expect(served).To(HaveLen(2))
			Expect(served[1].Closed()).To(BeTrue())
			Expect(first.Closed()).To(BeFalse())
			Expect(f.registry.IsLoaded("lyrics")).To(BeTrue())
		})

		It("aborts when init fails", func() {
			mod, dir := f.add(plugintest.Manifest("broken"))
			mod.On(plugins.HookInit, failWith("no network"))

			_, err := f.registry.Load(ctx, dir)
			Expect(errutil.Code(err)).To(Equal(pluginsdk.CodeHookFailed))
			Expect(f.registry.IsLoaded("broken")).To(BeFalse())
			Expect(mod.Closed()).To(BeTrue())
		})

		It("reports missing and mismatched dependencies", func() {
			m := plugintest.Manifest("scrobbler")
			m.Dependencies = map[string]string{"lastfm": "^2.0.0"}
			_, dir := f.add(m)

			_, err := f.registry.Load(ctx, dir)
			Expect(errutil.Code(err)).To(Equal(pluginsdk.CodeDependencyMissing))

			_, depDir := f.add(plugintest.Manifest("lastfm"))
			_, err = f.registry.Load(ctx, depDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = f.registry.Load(ctx, dir)
			Expect(errutil.Code(err)).To(Equal(pluginsdk.CodeDependencyMissing), "1.0.0 does not satisfy ^2.0.0")
		})
	})

	Describe("Enable and Disable", func() {
		var (
			mod *plugintest.Module
			dir string
		)

		BeforeEach(func() {
			mod, dir = f.add(plugintest.Manifest("lyrics", pluginsdk.PermUI))
			mod.On(plugins.HookEnable, func(context.Context, *api.Context) error { return nil }).
				On(plugins.HookDisable, func(context.Context, *api.Context) error { return nil })
			_, err := f.registry.Load(ctx, dir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("runs hooks, flips state and persists it", func() {
			Expect(f.registry.Enable(ctx, "lyrics")).To(Succeed())
			Expect(f.registry.IsEnabled("lyrics")).To(BeTrue())
			Expect(f.cfg.PluginEnabled("lyrics")).To(BeTrue())
			inst, _ := f.registry.Instance("lyrics")
			Expect(inst.Context().Active()).To(BeTrue())

			Expect(f.registry.Disable(ctx, "lyrics")).To(Succeed())
			Expect(f.registry.IsEnabled("lyrics")).To(BeFalse())
			Expect(f.cfg.PluginEnabled("lyrics")).To(BeFalse())
			Expect(inst.Context().Active()).To(BeFalse())

			Expect(mod.Calls()).To(Equal([]plugins.Hook{plugins.HookEnable, plugins.HookDisable}))
		})

		It("is idempotent", func() {
			Expect(f.registry.Enable(ctx, "lyrics")).To(Succeed())
			Expect(f.registry.Enable(ctx, "lyrics")).To(Succeed())
			Expect(f.registry.Disable(ctx, "lyrics")).To(Succeed())
			Expect(f.registry.Disable(ctx, "lyrics")).To(Succeed())
			Expect(mod.Calls()).To(Equal([]plugins.Hook{plugins.HookEnable, plugins.HookDisable}))
		})

		It("keeps the previous state when a hook fails", func() {
			mod.On(plugins.HookEnable, failWith("nope"))
			err := f.registry.Enable(ctx, "lyrics")
			Expect(errutil.Code(err)).To(Equal(pluginsdk.CodeHookFailed))
			Expect(f.registry.IsEnabled("lyrics")).To(BeFalse())
			Expect(f.cfg.PluginEnabled("lyrics")).To(BeFalse())
		})

		It("fails for unknown plugins", func() {
			Expect(errutil.Code(f.registry.Enable(ctx, "ghost"))).To(Equal(pluginsdk.CodeNotLoaded))
			Expect(errutil.Code(f.registry.Disable(ctx, "ghost"))).To(Equal(pluginsdk.CodeNotLoaded))
			Expect(errutil.Code(f.registry.Unload(ctx, "ghost"))).To(Equal(pluginsdk.CodeNotLoaded))
			Expect(f.cfg.Koanf().Exists("pluginStates.ghost")).To(BeFalse(), "no state record is created")
		})

		It("enables a plugin that has no hooks", func() {
			mod, dir := f.add(plugintest.Manifest("adblock", pluginsdk.PermPlayer))
			_, err := f.registry.Load(ctx, dir)
			Expect(err).NotTo(HaveOccurred())

			Expect(f.registry.Enable(ctx, "adblock")).To(Succeed())
			Expect(f.registry.IsEnabled("adblock")).To(BeTrue())
			Expect(mod.Calls()).To(BeEmpty())
		})

		It("lists enabled plugins only", func() {
			_, other := f.add(plugintest.Manifest("other"))
			_, err := f.registry.Load(ctx, other)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.registry.Enable(ctx, "lyrics")).To(Succeed())

			Expect(f.registry.IDs()).To(Equal([]string{"lyrics", "other"}))
			enabled := f.registry.Enabled()
			Expect(enabled).To(HaveLen(1))
			Expect(enabled[0].ID).To(Equal("lyrics"))
		})

		It("includes the plugin config in snapshots", func() {
			Expect(f.cfg.Plugin("lyrics").Set("source", "genius")).To(Succeed())
			info, ok := f.registry.Get("lyrics")
			Expect(ok).To(BeTrue())
			Expect(info.Config).To(HaveKeyWithValue("source", "genius"))
		})
	})

	Describe("Unload", func() {
		It("destroys enabled plugins and releases their registrations", func() {
			mod, dir := f.add(plugintest.Manifest("visualizer", pluginsdk.PermUI))
			mod.On(plugins.HookEnable, func(_ context.Context, c *api.Context) error {
				return c.Navigation().RegisterView("viz", ui.RenderFunc(func(context.Context, int, int) (string, error) {
					return "~~~", nil
				}))
			}).On(plugins.HookDestroy, failWith("ignored"))
			Expect(f.perms.Grant("visualizer", pluginsdk.PermUI)).To(Succeed())

			_, err := f.registry.Load(ctx, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.registry.Enable(ctx, "visualizer")).To(Succeed())
			Expect(f.views.Has("viz")).To(BeTrue())

			Expect(f.registry.Unload(ctx, "visualizer")).To(Succeed())
			Expect(f.registry.IsLoaded("visualizer")).To(BeFalse())
			Expect(f.views.Has("viz")).To(BeFalse())
			Expect(mod.Calls()).To(ContainElement(plugins.HookDestroy))
			Expect(mod.Closed()).To(BeTrue())
		})

		It("skips destroy for disabled plugins", func() {
			mod, dir := f.add(plugintest.Manifest("quiet"))
			mod.On(plugins.HookDestroy, func(context.Context, *api.Context) error { return nil })
			_, err := f.registry.Load(ctx, dir)
			Expect(err).NotTo(HaveOccurred())

			Expect(f.registry.Unload(ctx, "quiet")).To(Succeed())
			Expect(mod.Calls()).NotTo(ContainElement(plugins.HookDestroy))
		})

		It("allows loading again after unload", func() {
			_, dir := f.add(plugintest.Manifest("lyrics"))
			_, err := f.registry.Load(ctx, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.registry.Unload(ctx, "lyrics")).To(Succeed())

			_, err = f.registry.Load(ctx, dir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("unloads dependents before their dependencies", func() {
			var order []string
			record := func(id string) plugintest.HookFunc {
				return func(context.Context, *api.Context) error {
					order = append(order, id)
					return nil
				}
			}
			base, baseDir := f.add(plugintest.Manifest("base"))
			base.On(plugins.HookDestroy, record("base"))
			m := plugintest.Manifest("addon")
			m.Dependencies = map[string]string{"base": ">=1.0.0"}
			addon, addonDir := f.add(m)
			addon.On(plugins.HookDestroy, record("addon"))

			for _, dir := range []string{baseDir, addonDir} {
				_, err := f.registry.Load(ctx, dir)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(f.registry.Enable(ctx, "base")).To(Succeed())
			Expect(f.registry.Enable(ctx, "addon")).To(Succeed())

			f.registry.UnloadAll(ctx)
			Expect(order).To(Equal([]string{"addon", "base"}))
			Expect(f.registry.List()).To(BeEmpty())
		})
	})

	Describe("LoadAll", func() {
		It("loads in dependency order and re-enables persisted plugins", func() {
			m := plugintest.Manifest("aaa-addon")
			m.Dependencies = map[string]string{"zzz-base": "^1.0.0"}
			f.add(m)
			f.add(plugintest.Manifest("zzz-base"))
			f.add(plugintest.Manifest("standalone"))
			Expect(f.cfg.SetPluginEnabled("zzz-base", true)).To(Succeed())
			Expect(f.cfg.SetPluginEnabled("gone", true)).To(Succeed())

			Expect(f.registry.LoadAll(ctx)).To(Succeed())
			Expect(f.registry.IDs()).To(Equal([]string{"aaa-addon", "standalone", "zzz-base"}))
			Expect(f.registry.IsEnabled("zzz-base")).To(BeTrue())
			Expect(f.registry.IsEnabled("standalone")).To(BeFalse())
		})

		It("skips broken plugins", func() {
			f.add(plugintest.Manifest("good"))
			m := plugintest.Manifest("orphan")
			m.Dependencies = map[string]string{"missing": "*"}
			f.add(m)
			bad, _ := f.add(plugintest.Manifest("bad"))
			bad.On(plugins.HookInit, failWith("boom"))

			Expect(f.registry.LoadAll(ctx)).To(Succeed())
			Expect(f.registry.IDs()).To(Equal([]string{"good"}))
		})

		It("restores state across restarts", func() {
			f.add(plugintest.Manifest("lyrics"))
			Expect(f.registry.LoadAll(ctx)).To(Succeed())
			Expect(f.registry.Enable(ctx, "lyrics")).To(Succeed())
			f.registry.Close(ctx)

			restarted := f.newRegistry()
			Expect(restarted.LoadAll(ctx)).To(Succeed())
			Expect(restarted.IsEnabled("lyrics")).To(BeTrue())
		})

		It("treats a missing plugins directory as empty", func() {
			Expect(f.registry.LoadAll(ctx)).To(Succeed())
			Expect(f.registry.List()).To(BeEmpty())
		})
	})

	Describe("event delivery", func() {
		It("mutes handlers of disabled plugins", func() {
			received := make(chan pluginsdk.Event, 4)
			mod, dir := f.add(plugintest.Manifest("listener", pluginsdk.PermPlayer))
			mod.On(plugins.HookInit, func(_ context.Context, c *api.Context) error {
				return c.On(pluginsdk.EventTrackChange, event.NewHandler(func(_ context.Context, ev pluginsdk.Event) error {
					received <- ev
					return nil
				}))
			})
			Expect(f.perms.Grant("listener", pluginsdk.PermPlayer)).To(Succeed())
			_, err := f.registry.Load(ctx, dir)
			Expect(err).NotTo(HaveOccurred())

			track := &pluginsdk.Track{ID: "t1"}
			Expect(f.bus.Emit(ctx, pluginsdk.NewPlayerEvent(pluginsdk.EventTrackChange, pluginsdk.PlayerState{Track: track}))).To(Succeed())
			Consistently(received).ShouldNot(Receive())

			Expect(f.registry.Enable(ctx, "listener")).To(Succeed())
			Expect(f.bus.Emit(ctx, pluginsdk.NewPlayerEvent(pluginsdk.EventTrackChange, pluginsdk.PlayerState{Track: track}))).To(Succeed())
			Eventually(received).Should(Receive())
		})
	})
})
