// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package permission records which capabilities each plugin has been granted.
//
// Decisions are kept in memory and written to a JSON file after every change.
// The in-memory state is authoritative: a failed write is logged and retried on
// the next change, never surfaced to the caller.
package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/afero"

	"github.com/holomush/muse/pkg/errutil"
	pluginsdk "github.com/holomush/muse/pkg/plugin"
)

// FileName is the permission file name inside the config directory.
const FileName = "plugin-permissions.json"

// PromptFunc asks the user whether a plugin may use a permission.
type PromptFunc func(ctx context.Context, pluginID string, perm pluginsdk.Permission) (bool, error)

type record map[pluginsdk.Permission]pluginsdk.PermissionStatus

// Store holds permission decisions per plugin.
//
// Store is safe for concurrent use.
type Store struct {
	path    string
	fs      afero.Fs
	logger  *slog.Logger
	backoff func() retry.Backoff

	mu      sync.RWMutex
	records map[string]record
	prompt  PromptFunc

	persistMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithFs sets the filesystem the permission file lives on.
func WithFs(fsys afero.Fs) Option {
	return func(s *Store) {
		s.fs = fsys
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithPrompt sets the callback used by Request for undecided permissions.
func WithPrompt(fn PromptFunc) Option {
	return func(s *Store) {
		s.prompt = fn
	}
}

// WithRetry sets the backoff used when writing the permission file.
func WithRetry(fn func() retry.Backoff) Option {
	return func(s *Store) {
		s.backoff = fn
	}
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewConstant(25*time.Millisecond))
}

// Open loads the permission file at path. A missing file yields an empty
// store; a corrupt file is logged and treated as empty.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:    path,
		fs:      afero.NewOsFs(),
		logger:  slog.Default(),
		backoff: defaultBackoff,
		records: make(map[string]record),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := afero.ReadFile(s.fs, path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, oops.In("permission").With("path", path).Wrap(err)
	}

	var raw map[string]map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("ignoring corrupt permission file", "path", path, "error", err)
		return s, nil
	}
	for id, perms := range raw {
		rec := make(record, len(perms))
		for p, st := range perms {
			perm, status := pluginsdk.Permission(p), pluginsdk.PermissionStatus(st)
			if !perm.Valid() || !status.Valid() || status == pluginsdk.StatusPrompt {
				s.logger.Warn("ignoring unknown permission entry",
					"plugin_id", id, "permission", p, "status", st)
				continue
			}
			rec[perm] = status
		}
		if len(rec) > 0 {
			s.records[id] = rec
		}
	}
	return s, nil
}

// SetPrompt replaces the prompt callback. A nil callback denies every request.
func (s *Store) SetPrompt(fn PromptFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = fn
}

// Has reports whether perm is granted to the plugin.
func (s *Store) Has(pluginID string, perm pluginsdk.Permission) bool {
	return s.Status(pluginID, perm) == pluginsdk.StatusGranted
}

// Status returns the recorded decision, or StatusPrompt when there is none.
func (s *Store) Status(pluginID string, perm pluginsdk.Permission) pluginsdk.PermissionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.records[pluginID][perm]; ok {
		return st
	}
	return pluginsdk.StatusPrompt
}

// Permissions returns a copy of the decisions recorded for a plugin.
func (s *Store) Permissions(pluginID string) map[pluginsdk.Permission]pluginsdk.PermissionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[pluginsdk.Permission]pluginsdk.PermissionStatus, len(s.records[pluginID]))
	for p, st := range s.records[pluginID] {
		out[p] = st
	}
	return out
}

// PluginIDs returns the ids that have at least one recorded decision, sorted.
func (s *Store) PluginIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Grant records perm as granted.
func (s *Store) Grant(pluginID string, perm pluginsdk.Permission) error {
	return s.set(pluginID, perm, pluginsdk.StatusGranted)
}

// Deny records perm as denied.
func (s *Store) Deny(pluginID string, perm pluginsdk.Permission) error {
	return s.set(pluginID, perm, pluginsdk.StatusDenied)
}

// Revoke forgets the decision for perm, returning it to StatusPrompt.
func (s *Store) Revoke(pluginID string, perm pluginsdk.Permission) error {
	return s.set(pluginID, perm, pluginsdk.StatusPrompt)
}

// GrantAll grants every permission in perms.
func (s *Store) GrantAll(pluginID string, perms []pluginsdk.Permission) error {
	for _, p := range perms {
		if err := validate(pluginID, p); err != nil {
			return err
		}
	}
	if len(perms) == 0 {
		return nil
	}
	s.mu.Lock()
	rec := s.recordFor(pluginID)
	for _, p := range perms {
		rec[p] = pluginsdk.StatusGranted
	}
	s.mu.Unlock()
	s.persist()
	return nil
}

// RevokeAll forgets every decision for a plugin.
func (s *Store) RevokeAll(pluginID string) {
	s.mu.Lock()
	_, had := s.records[pluginID]
	delete(s.records, pluginID)
	s.mu.Unlock()
	if had {
		s.persist()
	}
}

// ResetAll forgets every decision for every plugin.
func (s *Store) ResetAll() {
	s.mu.Lock()
	s.records = make(map[string]record)
	s.mu.Unlock()
	s.persist()
}

// Request resolves whether the plugin may use perm. Recorded decisions are
// returned as-is. Otherwise the prompt callback decides and the answer is
// recorded. Without a callback, or when it fails, the permission is denied.
func (s *Store) Request(ctx context.Context, pluginID string, perm pluginsdk.Permission) bool {
	switch s.Status(pluginID, perm) {
	case pluginsdk.StatusGranted:
		return true
	case pluginsdk.StatusDenied:
		return false
	}

	s.mu.RLock()
	prompt := s.prompt
	s.mu.RUnlock()

	granted := false
	if prompt == nil {
		s.logger.Warn("no permission prompt registered, denying",
			"plugin_id", pluginID, "permission", perm)
	} else {
		var err error
		granted, err = callPrompt(ctx, prompt, pluginID, perm)
		if err != nil {
			errutil.LogError(s.logger, "permission prompt failed, denying", err)
			granted = false
		}
	}

	status := pluginsdk.StatusDenied
	if granted {
		status = pluginsdk.StatusGranted
	}
	if err := s.set(pluginID, perm, status); err != nil {
		errutil.LogError(s.logger, "record permission decision", err)
		return false
	}
	return granted
}

func callPrompt(ctx context.Context, prompt PromptFunc, pluginID string, perm pluginsdk.Permission) (granted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("permission").
				With("plugin_id", pluginID).
				With("permission", string(perm)).
				Errorf("prompt panicked: %v", r)
		}
	}()
	granted, err = prompt(ctx, pluginID, perm)
	if err != nil {
		return false, oops.In("permission").
			With("plugin_id", pluginID).
			With("permission", string(perm)).
			Wrap(err)
	}
	return granted, nil
}

func validate(pluginID string, perm pluginsdk.Permission) error {
	if pluginID == "" {
		return oops.In("permission").Errorf("plugin id is empty")
	}
	if !perm.Valid() {
		return oops.In("permission").
			With("plugin_id", pluginID).
			Errorf("unknown permission %q", perm)
	}
	return nil
}

func (s *Store) set(pluginID string, perm pluginsdk.Permission, status pluginsdk.PermissionStatus) error {
	if err := validate(pluginID, perm); err != nil {
		return err
	}

	s.mu.Lock()
	if status == pluginsdk.StatusPrompt {
		rec, ok := s.records[pluginID]
		if !ok {
			s.mu.Unlock()
			return nil
		}
		delete(rec, perm)
		if len(rec) == 0 {
			delete(s.records, pluginID)
		}
	} else {
		s.recordFor(pluginID)[perm] = status
	}
	s.mu.Unlock()

	s.persist()
	return nil
}

// recordFor must be called with s.mu held.
func (s *Store) recordFor(pluginID string) record {
	rec, ok := s.records[pluginID]
	if !ok {
		rec = make(record)
		s.records[pluginID] = rec
	}
	return rec
}

func (s *Store) snapshot() map[string]map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]string, len(s.records))
	for id, rec := range s.records {
		perms := make(map[string]string, len(rec))
		for p, st := range rec {
			perms[string(p)] = string(st)
		}
		out[id] = perms
	}
	return out
}

// persist writes the current state. Writes are serialized and each one takes
// its snapshot after acquiring the write lock, so the file always ends up
// holding the latest state.
func (s *Store) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	data, err := json.MarshalIndent(s.snapshot(), "", "  ")
	if err != nil {
		errutil.LogError(s.logger, "encode permission file", oops.In("permission").Wrap(err))
		return
	}

	err = retry.Do(context.Background(), s.backoff(), func(_ context.Context) error {
		if err := s.writeFile(data); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		errutil.LogError(s.logger, "persist permission file",
			oops.In("permission").With("path", s.path).Wrap(err))
	}
}

func (s *Store) writeFile(data []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
