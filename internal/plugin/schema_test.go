// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/holomush/muse/internal/plugin"
)

func TestGenerateSchema(t *testing.T) {
	data, err := plugins.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, plugins.SchemaID(), schema["$id"])

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"id", "name", "version", "description", "author", "main", "permissions"}, required)

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	perms, ok := props["permissions"].(map[string]any)
	require.True(t, ok)
	items, ok := perms["items"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"filesystem", "network", "player", "ui", "config"}, items["enum"])
}

func TestValidateSchema_Valid(t *testing.T) {
	tests := map[string]string{
		"minimal": `{"id": "lyrics", "name": "Lyrics", "version": "1.0.0", "description": "d", "author": "a", "main": "main.lua", "permissions": []}`,
		"full": `{
			"$schema": "https://muse.holomush.dev/schemas/plugin.schema.json",
			"id": "discord-rpc",
			"name": "Discord Rich Presence",
			"version": "2.1.0",
			"description": "Shows the current track in Discord",
			"author": "someone",
			"main": "index.js",
			"permissions": ["player", "network"],
			"license": "MIT",
			"hooks": ["track-change", "pause"],
			"ui": {"views": ["status"], "shortcuts": ["ctrl+d"]},
			"dependencies": {"lyrics": "^1.0.0"},
			"configSchema": {"type": "object"}
		}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, plugins.ValidateSchema([]byte(doc)))
		})
	}
}

func TestValidateSchema_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":              ``,
		"not json":           `id: lyrics`,
		"missing id":          `{"name": "x", "version": "1.0.0", "description": "d", "author": "a", "main": "main.lua", "permissions": []}`,
		"missing main":        `{"id": "x", "name": "x", "version": "1.0.0", "description": "d", "author": "a", "permissions": []}`,
		"missing description": `{"id": "x", "name": "x", "version": "1.0.0", "author": "a", "main": "m.lua", "permissions": []}`,
		"missing author":      `{"id": "x", "name": "x", "version": "1.0.0", "description": "d", "main": "m.lua", "permissions": []}`,
		"missing permissions": `{"id": "x", "name": "x", "version": "1.0.0", "description": "d", "author": "a", "main": "m.lua"}`,
		"empty name":          `{"id": "x", "name": "", "version": "1.0.0", "description": "d", "author": "a", "main": "main.lua", "permissions": []}`,
		"empty author":        `{"id": "x", "name": "x", "version": "1.0.0", "description": "d", "author": "", "main": "m.lua", "permissions": []}`,
		"unknown permission":  `{"id": "x", "name": "x", "version": "1.0.0", "description": "d", "author": "a", "main": "m.lua", "permissions": ["root"]}`,
		"unknown hook":        `{"id": "x", "name": "x", "version": "1.0.0", "description": "d", "author": "a", "main": "m.lua", "permissions": [], "hooks": ["explode"]}`,
		"permissions type":    `{"id": "x", "name": "x", "version": "1.0.0", "description": "d", "author": "a", "main": "m.lua", "permissions": "player"}`,
		"null permissions":    `{"id": "x", "name": "x", "version": "1.0.0", "description": "d", "author": "a", "main": "m.lua", "permissions": null}`,
		"unknown field":       `{"id": "x", "name": "x", "version": "1.0.0", "description": "d", "author": "a", "main": "m.lua", "permissions": [], "entry": "m.lua"}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, plugins.ValidateSchema([]byte(doc)))
		})
	}
}

func TestFormatSchemaError(t *testing.T) {
	assert.Empty(t, plugins.FormatSchemaError(nil))
	assert.Equal(t, "bad", plugins.FormatSchemaError(errors.New("schema validation failed: bad")))

	err := plugins.ValidateSchema([]byte(`{"id": "x"}`))
	require.Error(t, err)
	assert.False(t, strings.HasPrefix(plugins.FormatSchemaError(err), "schema validation failed: "))
}
