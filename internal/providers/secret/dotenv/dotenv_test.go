// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package dotenv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptkit/orchestrator/pkg/providers/secret"
)

func TestBackend_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("API_KEY=\"s3cr3t\"\n# comment\nDB_URL=postgres://localhost\n"), 0o600))

	b := New(path)
	res, err := b.Fetch(context.Background(), "API_KEY")
	require.NoError(t, err)
	assert.Equal(t, secret.OutcomeOK, res.Outcome)
	assert.Equal(t, "s3cr3t", res.Value)
	assert.Equal(t, 1, res.Version)
}

func TestBackend_Fetch_NotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FOO=bar\n"), 0o600))

	b := New(path)
	res, err := b.Fetch(context.Background(), "MISSING")
	require.NoError(t, err)
	assert.Equal(t, secret.OutcomeNotFound, res.Outcome)
}

func TestBackend_Rotate_IncrementsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FOO=bar\n"), 0o600))

	b := New(path)
	ctx := context.Background()
	_, err := b.Fetch(ctx, "FOO")
	require.NoError(t, err)

	res, err := b.Rotate(ctx, "FOO")
	require.NoError(t, err)
	assert.Equal(t, secret.OutcomeOK, res.Outcome)
	assert.Equal(t, 2, res.NewVersion)
}

func TestBackend_Exists(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FOO=bar\n"), 0o600))

	b := New(path)
	ctx := context.Background()

	res, err := b.Exists(ctx, "FOO")
	require.NoError(t, err)
	assert.True(t, res.Exists)

	res, err = b.Exists(ctx, "MISSING")
	require.NoError(t, err)
	assert.False(t, res.Exists)
}
