// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/holomush/muse/internal/plugin"
	"github.com/holomush/muse/internal/plugin/api"
	"github.com/holomush/muse/internal/plugin/plugintest"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, plugins.RegisterMetrics(reg))
	require.Error(t, plugins.RegisterMetrics(reg), "second registration should conflict")
}

func TestCallHook_RecordsMetrics(t *testing.T) {
	hook := string(plugins.HookDestroy)
	ok := testutil.ToFloat64(plugins.HookCalls.WithLabelValues(hook, "success"))
	failed := testutil.ToFloat64(plugins.HookCalls.WithLabelValues(hook, "error"))

	l := plugins.NewLoader()
	good := plugintest.NewModule(plugintest.Manifest("a")).
		On(plugins.HookDestroy, func(context.Context, *api.Context) error { return nil })
	bad := plugintest.NewModule(plugintest.Manifest("b")).
		On(plugins.HookDestroy, func(context.Context, *api.Context) error { return errors.New("x") })

	require.NoError(t, l.CallHook(context.Background(), good, plugins.HookDestroy, nil))
	require.Error(t, l.CallHook(context.Background(), bad, plugins.HookDestroy, nil))

	assert.InDelta(t, ok+1, testutil.ToFloat64(plugins.HookCalls.WithLabelValues(hook, "success")), 0)
	assert.InDelta(t, failed+1, testutil.ToFloat64(plugins.HookCalls.WithLabelValues(hook, "error")), 0)
}
