// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	pluginlua "github.com/holomush/muse/internal/plugin/lua"
)

func TestStateFactory_SafeLibrariesLoaded(t *testing.T) {
	L, err := pluginlua.NewStateFactory().NewState(context.Background())
	require.NoError(t, err)
	defer L.Close()

	require.NoError(t, L.DoString(`
		result = string.upper("abc") .. tostring(math.floor(2.7)) .. table.concat({"x", "y"}, ",")
	`))
	assert.Equal(t, "ABC2x,y", L.GetGlobal("result").String())
}

func TestStateFactory_UnsafeGlobalsRemoved(t *testing.T) {
	L, err := pluginlua.NewStateFactory().NewState(context.Background())
	require.NoError(t, err)
	defer L.Close()

	for _, name := range []string{
		"os", "io", "debug", "package", "channel", "coroutine",
		"dofile", "loadfile", "loadstring", "load", "require", "module",
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, lua.LNil, L.GetGlobal(name))
		})
	}
}

func TestStateFactory_BindsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	L, err := pluginlua.NewStateFactory().NewState(ctx)
	require.NoError(t, err)
	defer L.Close()

	cancel()
	err = L.DoString(`while true do end`)
	require.Error(t, err)
}
