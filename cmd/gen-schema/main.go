// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the JSON Schema that muse validates plugin.json
// files against. With --check it only reports whether the file on disk is
// current, for use in CI.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	plugins "github.com/holomush/muse/internal/plugin"
)

// defaultOut is where the schema lives in the repository, next to the
// bundled plugins that reference it.
const defaultOut = "schemas/plugin.schema.json"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("gen-schema", pflag.ContinueOnError)
	out := flags.StringP("out", "o", defaultOut, "schema file to write")
	check := flags.Bool("check", false, "fail if the schema file is missing or stale instead of writing it")
	if err := flags.Parse(args); err != nil {
		return oops.In("gen-schema").Wrap(err)
	}

	schema, err := plugins.GenerateSchema()
	if err != nil {
		return err
	}
	schema = append(schema, '\n')

	if *check {
		current, err := os.ReadFile(*out)
		if errors.Is(err, fs.ErrNotExist) {
			return oops.In("gen-schema").With("path", *out).Errorf("%s does not exist", *out)
		}
		if err != nil {
			return oops.In("gen-schema").With("path", *out).Wrap(err)
		}
		if !bytes.Equal(current, schema) {
			return oops.In("gen-schema").With("path", *out).
				Hint("run gen-schema to regenerate it").
				Errorf("%s is out of date", *out)
		}
		fmt.Fprintf(stdout, "%s is up to date\n", *out)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o750); err != nil {
		return oops.In("gen-schema").With("path", *out).Wrap(err)
	}
	if err := os.WriteFile(*out, schema, 0o600); err != nil {
		return oops.In("gen-schema").With("path", *out).Wrap(err)
	}
	fmt.Fprintf(stdout, "wrote %s\n", *out)
	return nil
}
