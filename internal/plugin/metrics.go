// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Hook call statuses.
const (
	statusSuccess = "success"
	statusError   = "error"
	statusTimeout = "timeout"
)

// HookCalls counts lifecycle hook calls.
var HookCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "muse_plugin_hook_calls_total",
		Help: "Total number of plugin lifecycle hook calls",
	},
	[]string{"hook", "status"},
)

// HookDuration observes lifecycle hook duration.
var HookDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "muse_plugin_hook_duration_seconds",
		Help:    "Plugin lifecycle hook duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"hook"},
)

// PluginsLoaded tracks the number of loaded plugins by state.
var PluginsLoaded = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "muse_plugins_loaded",
		Help: "Number of loaded plugins",
	},
	[]string{"state"},
)

// RegisterMetrics registers the plugin lifecycle metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{HookCalls, HookDuration, PluginsLoaded} {
		if err := reg.Register(c); err != nil {
			return err //nolint:wrapcheck // registration errors are self-describing
		}
	}
	return nil
}

func recordHook(hook Hook, status string, d time.Duration) {
	HookCalls.WithLabelValues(string(hook), status).Inc()
	HookDuration.WithLabelValues(string(hook)).Observe(d.Seconds())
}

func recordLoaded(enabled, disabled int) {
	PluginsLoaded.WithLabelValues("enabled").Set(float64(enabled))
	PluginsLoaded.WithLabelValues("disabled").Set(float64(disabled))
}
