// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package store implements the shared typed record store described in
// spec.md §2–§3: a (relation, id) → record map, file-backed and
// mutex-guarded, with atomic persistence and clone-on-read semantics.
//
// Composite fields live as typed Go values on the caller's record type
// for the lifetime of the process; they are JSON-encoded only when the
// store is persisted to disk, never double-encoded as strings inside a
// record (spec.md §9 "stringly-typed composite fields" redesign flag).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by MustGet when the (relation, id) key has no
// record. Get and Delete report a missing key through their boolean
// result instead.
var ErrNotFound = errors.New("store: record not found")

// Store is a file-backed, mutex-guarded map of relation -> id -> record.
// Each record is held on disk and in the in-memory cache as raw JSON;
// typed access goes through the package-level Get/Put/List/Delete
// functions, which marshal/unmarshal at the boundary so every read
// returns an independent copy.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]map[string]json.RawMessage
}

// Open loads a Store from path, creating an empty one if the file does
// not yet exist. The parent directory is created if necessary.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: make(map[string]map[string]json.RawMessage),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read %s: %w", s.path, err)
	}
	if len(b) == 0 {
		return nil
	}
	var data map[string]map[string]json.RawMessage
	if err := json.Unmarshal(b, &data); err != nil {
		return fmt.Errorf("store: decode %s: %w", s.path, err)
	}
	s.data = data
	return nil
}

// save persists the full in-memory map atomically: write to a temp
// file in the same directory, then rename over the target path.
func (s *Store) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// putRaw writes a record's encoded form under (relation, id) and
// persists the store. Callers hold s.mu.
func (s *Store) putRaw(relation, id string, raw json.RawMessage) error {
	rel, ok := s.data[relation]
	if !ok {
		rel = make(map[string]json.RawMessage)
		s.data[relation] = rel
	}
	rel[id] = raw
	return s.save()
}

func (s *Store) getRaw(relation, id string) (json.RawMessage, bool) {
	rel, ok := s.data[relation]
	if !ok {
		return nil, false
	}
	raw, ok := rel[id]
	return raw, ok
}

func (s *Store) listRaw(relation string) []json.RawMessage {
	rel := s.data[relation]
	out := make([]json.RawMessage, 0, len(rel))
	for _, raw := range rel {
		out = append(out, raw)
	}
	return out
}

func (s *Store) deleteRaw(relation, id string) (bool, error) {
	rel, ok := s.data[relation]
	if !ok {
		return false, nil
	}
	if _, ok := rel[id]; !ok {
		return false, nil
	}
	delete(rel, id)
	return true, s.save()
}

// Put encodes rec and writes it under (relation, id), replacing any
// existing record. It is the caller's responsibility to enforce
// relation ownership (spec.md §3 "Ownership").
func Put[T any](s *Store, relation, id string, rec T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal %s/%s: %w", relation, id, err)
	}
	return s.putRaw(relation, id, raw)
}

// Get decodes the record at (relation, id) into a fresh T. The boolean
// result reports whether the key existed.
func Get[T any](s *Store, relation, id string) (T, bool, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.getRaw(relation, id)
	if !ok {
		return zero, false, nil
	}
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return zero, false, fmt.Errorf("store: unmarshal %s/%s: %w", relation, id, err)
	}
	return rec, true, nil
}

// MustGet behaves like Get but returns ErrNotFound instead of a false
// boolean, for call sites that treat a missing key as an error.
func MustGet[T any](s *Store, relation, id string) (T, error) {
	rec, ok, err := Get[T](s, relation, id)
	if err != nil {
		var zero T
		return zero, err
	}
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%s", ErrNotFound, relation, id)
	}
	return rec, nil
}

// List decodes every record in relation into a fresh slice of T. Order
// is unspecified; callers that need determinism should sort by their
// own ID field.
func List[T any](s *Store, relation string) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raws := s.listRaw(relation)
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("store: unmarshal %s: %w", relation, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete removes the record at (relation, id), reporting whether it
// existed.
func Delete(s *Store, relation, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteRaw(relation, id)
}
