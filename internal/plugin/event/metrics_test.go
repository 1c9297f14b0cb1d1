// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package event

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	require.Error(t, RegisterMetrics(reg), "second registration should conflict")
}

func TestBus_RecordsMetrics(t *testing.T) {
	typ := pluginsdk.EventSeek
	emitted := testutil.ToFloat64(eventsEmitted.WithLabelValues(string(typ)))
	failed := testutil.ToFloat64(handlerFailures.WithLabelValues(string(typ), "error"))

	bus := New()
	require.NoError(t, bus.On(typ, NewHandler(func(context.Context, pluginsdk.Event) error {
		return errors.New("bad seek")
	})))
	require.NoError(t, bus.Emit(context.Background(), pluginsdk.NewPlayerEvent(typ, pluginsdk.PlayerState{})))

	assert.InDelta(t, emitted+1, testutil.ToFloat64(eventsEmitted.WithLabelValues(string(typ))), 0)
	assert.InDelta(t, failed+1, testutil.ToFloat64(handlerFailures.WithLabelValues(string(typ), "error")), 0)
}
