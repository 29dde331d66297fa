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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/store"
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	blobs, err := NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	records, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	return New(blobs, records, idgen.NewCounterSource(0), nil)
}

func TestIndex_Build_IsIdempotent(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	first, err := idx.Build(ctx, "api", "go", "linux-amd64", []byte("binary-bytes"))
	require.NoError(t, err)

	second, err := idx.Build(ctx, "api", "go", "linux-amd64", []byte("binary-bytes"))
	require.NoError(t, err)

	assert.Equal(t, first.Artifact, second.Artifact)
	assert.Equal(t, first.Hash, second.Hash)
}

func TestIndex_Exists_WithoutCache(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	rec, err := idx.Build(ctx, "api", "go", "linux-amd64", []byte("binary-bytes"))
	require.NoError(t, err)

	exists, err := idx.Exists(ctx, rec.Hash)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = idx.Exists(ctx, "sha256:"+strings.Repeat("0", 64))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIndex_GC_KeepsNewestVersions(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	var hashes []string
	for i := 0; i < 3; i++ {
		rec, err := idx.Build(ctx, "api", "go", "linux-amd64", []byte{byte(i)})
		require.NoError(t, err)
		hashes = append(hashes, rec.Hash)
		time.Sleep(time.Millisecond)
	}

	removed, freedBytes, err := idx.GC(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, int64(2), freedBytes, "two single-byte blobs freed")

	all, err := store.List[store.ArtifactRecord](idx.records, store.RelationArtifact)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, hashes[len(hashes)-1], all[0].Hash)
}

func TestIndex_GC_RespectsOlderThan(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	_, err := idx.Build(ctx, "api", "go", "linux-amd64", []byte("only-one"))
	require.NoError(t, err)

	removed, freedBytes, err := idx.GC(ctx, time.Hour, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "a record created moments ago is never older than a 1h cutoff")
	assert.Equal(t, int64(0), freedBytes)
}
