// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package event

import (
	"github.com/prometheus/client_golang/prometheus"

	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

var (
	eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "muse_plugin_events_emitted_total",
			Help: "Total number of events emitted on the plugin bus by type",
		},
		[]string{"type"},
	)
	handlerDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "muse_plugin_event_deliveries_total",
			Help: "Total number of handler invocations by event type",
		},
		[]string{"type"},
	)
	handlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "muse_plugin_event_handler_failures_total",
			Help: "Total number of failed handler invocations by event type and reason",
		},
		[]string{"type", "reason"},
	)
)

// RegisterMetrics registers the bus collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{eventsEmitted, handlerDeliveries, handlerFailures} {
		if err := reg.Register(c); err != nil {
			return err //nolint:wrapcheck // registration errors are self-describing
		}
	}
	return nil
}

func recordEmit(typ pluginsdk.EventType, handlers int) {
	eventsEmitted.WithLabelValues(string(typ)).Inc()
	handlerDeliveries.WithLabelValues(string(typ)).Add(float64(handlers))
}

func recordFailure(typ pluginsdk.EventType, reason string) {
	handlerFailures.WithLabelValues(string(typ), reason).Inc()
}
