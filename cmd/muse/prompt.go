// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/muse/internal/plugin/permission"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// permissionHelp says what each permission lets a plugin do.
var permissionHelp = map[pluginsdk.Permission]string{
	pluginsdk.PermFilesystem: "read and write files in its data directory",
	pluginsdk.PermNetwork:    "make network requests",
	pluginsdk.PermPlayer:     "control playback and the queue",
	pluginsdk.PermUI:         "add views and keyboard shortcuts",
	pluginsdk.PermConfig:     "read and change its settings",
}

// terminalPrompt asks on out and reads y/n answers from in. Questions are
// asked one at a time. Cancelling ctx abandons the question and denies.
func terminalPrompt(in io.Reader, out io.Writer) permission.PromptFunc {
	lines := make(chan string)
	var start sync.Once
	readLines := func() {
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()
	}

	var mu sync.Mutex
	return func(ctx context.Context, pluginID string, perm pluginsdk.Permission) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		start.Do(readLines)

		fmt.Fprintf(out, "Plugin %q wants the %s permission (%s). Allow? [y/N] ",
			pluginID, perm, permissionHelp[perm])
		select {
		case line, ok := <-lines:
			if !ok {
				return false, oops.In("prompt").Errorf("input closed")
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true, nil
			}
			return false, nil
		case <-ctx.Done():
			fmt.Fprintln(out)
			return false, oops.In("prompt").Wrap(ctx.Err())
		}
	}
}
