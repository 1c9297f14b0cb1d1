// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

var (
	schemaOnce     sync.Once
	schemaCompiled *jschema.Schema
	schemaErr      error
)

// SchemaID returns the $id of the plugin.json schema.
func SchemaID() string {
	return "https://muse.holomush.dev/schemas/plugin.schema.json"
}

// GenerateSchema generates a JSON Schema for plugin.json from the Manifest
// struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
		Mapper:         enumMapper,
	}
	schema := r.Reflect(&pluginsdk.Manifest{})

	schema.ID = jsonschema.ID(SchemaID())
	schema.Title = "muse Plugin Manifest"
	schema.Description = "Schema for plugin.json manifest files"
	if schema.Properties != nil {
		schema.Properties.Set("$schema", &jsonschema.Schema{Type: "string"})
	}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("schema").Wrap(err)
	}
	return data, nil
}

// enumMapper pins permission and event type fields to their known values.
func enumMapper(t reflect.Type) *jsonschema.Schema {
	switch t {
	case reflect.TypeOf(pluginsdk.Permission("")):
		perms := pluginsdk.AllPermissions()
		enum := make([]any, len(perms))
		for i, p := range perms {
			enum[i] = string(p)
		}
		return &jsonschema.Schema{Type: "string", Enum: enum}
	case reflect.TypeOf(pluginsdk.EventType("")):
		types := pluginsdk.EventTypes()
		enum := make([]any, len(types))
		for i, et := range types {
			enum[i] = string(et)
		}
		return &jsonschema.Schema{Type: "string", Enum: enum}
	}
	return nil
}

// ValidateSchema validates plugin.json content against the manifest schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return oops.In("schema").Errorf("manifest data is empty")
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return oops.In("schema").Hint("invalid JSON").Wrap(err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return oops.In("schema").Wrapf(err, "schema validation failed")
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaBytes, err := GenerateSchema()
		if err != nil {
			schemaErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			schemaErr = oops.In("schema").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource(SchemaID(), doc); err != nil {
			schemaErr = oops.In("schema").Wrap(err)
			return
		}
		schemaCompiled, schemaErr = c.Compile(SchemaID())
		if schemaErr != nil {
			schemaErr = oops.In("schema").Wrap(schemaErr)
		}
	})
	return schemaCompiled, schemaErr
}

// FormatSchemaError formats a schema validation error for display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	return strings.TrimPrefix(msg, "schema validation failed: ")
}
