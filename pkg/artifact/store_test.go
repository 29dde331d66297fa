// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package artifact

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	ctx := context.Background()

	hash, err := s.Store(ctx, []byte("payload"))
	require.NoError(t, err)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, hash)

	exists, err := s.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := s.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestFileStore_Store_IsIdempotent(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	ctx := context.Background()

	h1, err := s.Store(ctx, []byte("same"))
	require.NoError(t, err)
	h2, err := s.Store(ctx, []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestFileStore_Delete(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	ctx := context.Background()

	hash, err := s.Store(ctx, []byte("gone-soon"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, hash))
	exists, err := s.Exists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileStore_Get_InvalidHash(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "not-a-hash")
	assert.Error(t, err)
}
