// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package dotenv implements the Secret provider contract (spec.md
// §4.3) against a local .env file, for development environments with
// no secret manager. Rotation is a single in-memory version bump: the
// file on disk is the source of truth and is re-read on every fetch.
package dotenv

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/conceptkit/orchestrator/pkg/providers/secret"
)

// ID is the backend name under which this provider registers itself.
const ID = "dotenv"

// Backend reads key-value pairs from a single dotenv file.
type Backend struct {
	path string

	mu       sync.Mutex
	versions map[string]int
}

// New constructs a Backend rooted at envPath.
func New(envPath string) *Backend {
	return &Backend{path: envPath, versions: make(map[string]int)}
}

func (b *Backend) ID() string { return ID }

func (b *Backend) readAll() (map[string]string, error) {
	data, err := os.ReadFile(b.path) //nolint:gosec // G304: envPath is operator-configured, not user input.
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}
	env := make(map[string]string)
	parseEnvFileInto(env, data)
	return env, nil
}

func (b *Backend) Fetch(_ context.Context, name string) (secret.FetchResult, error) {
	env, err := b.readAll()
	if err != nil {
		return secret.FetchResult{}, err
	}
	value, ok := env[name]
	if !ok {
		return secret.FetchResult{Outcome: secret.OutcomeNotFound}, nil
	}

	b.mu.Lock()
	version := b.versions[name]
	if version == 0 {
		version = 1
		b.versions[name] = version
	}
	b.mu.Unlock()

	return secret.FetchResult{Outcome: secret.OutcomeOK, Value: value, Version: version}, nil
}

// Rotate bumps the in-memory version without touching the file: a
// dotenv backend has no rotation authority of its own, it only tracks
// that a rotation was requested so callers seeing version increase
// know to re-fetch.
func (b *Backend) Rotate(_ context.Context, name string) (secret.RotateResult, error) {
	env, err := b.readAll()
	if err != nil {
		return secret.RotateResult{}, err
	}
	if _, ok := env[name]; !ok {
		return secret.RotateResult{Outcome: secret.OutcomeNotFound}, nil
	}

	b.mu.Lock()
	b.versions[name]++
	v := b.versions[name]
	b.mu.Unlock()

	return secret.RotateResult{Outcome: secret.OutcomeOK, NewVersion: v}, nil
}

func (b *Backend) Exists(_ context.Context, name string) (secret.ExistsResult, error) {
	env, err := b.readAll()
	if err != nil {
		return secret.ExistsResult{}, err
	}
	_, ok := env[name]
	return secret.ExistsResult{Outcome: secret.OutcomeOK, Exists: ok}, nil
}

// InvalidateCache is a no-op: dotenv never caches, every Fetch re-reads
// the file.
func (b *Backend) InvalidateCache(_ context.Context, _ string) error { return nil }

// parseEnvFileInto parses a dotenv-format file and merges key-value
// pairs into env. Handles comments, the export keyword, quoted values,
// inline comments, and escaped characters in quoted strings.
func parseEnvFileInto(env map[string]string, data []byte) {
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "export ") {
			line = strings.TrimPrefix(line, "export ")
			line = strings.TrimSpace(line)
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		value := strings.TrimSpace(parts[1])

		commentIdx := -1
		inDoubleQuote := false
		inSingleQuote := false
		for i, r := range value {
			switch {
			case r == '"' && (i == 0 || value[i-1] != '\\'):
				inDoubleQuote = !inDoubleQuote
			case r == '\'' && (i == 0 || value[i-1] != '\\'):
				inSingleQuote = !inSingleQuote
			case r == '#' && !inDoubleQuote && !inSingleQuote:
				commentIdx = i
			}
			if commentIdx >= 0 {
				break
			}
		}
		if commentIdx >= 0 {
			value = strings.TrimSpace(value[:commentIdx])
		}

		if len(value) >= 2 {
			switch {
			case value[0] == '"' && value[len(value)-1] == '"':
				unquoted := value[1 : len(value)-1]
				unquoted = strings.ReplaceAll(unquoted, "\\\\", "\\")
				unquoted = strings.ReplaceAll(unquoted, "\\\"", "\"")
				unquoted = strings.ReplaceAll(unquoted, "\\n", "\n")
				unquoted = strings.ReplaceAll(unquoted, "\\t", "\t")
				unquoted = strings.ReplaceAll(unquoted, "\\r", "\r")
				value = unquoted
			case value[0] == '\'' && value[len(value)-1] == '\'':
				value = value[1 : len(value)-1]
			}
		}

		env[key] = value
	}
}
