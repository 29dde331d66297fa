// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)

	rec := ArtifactRecord{Artifact: "art-1", Hash: "sha256:abc", Location: "/a"}
	require.NoError(t, Put(s, RelationArtifact, rec.Artifact, rec))

	got, ok, err := Get[ArtifactRecord](s, RelationArtifact, "art-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestStore_CloneOnRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)

	rec := RuntimeInstanceRecord{Instance: "inst-1", History: []RuntimeInstanceEvent{{Version: "v1"}}}
	require.NoError(t, Put(s, RelationRuntimeInstance, rec.Instance, rec))

	got1, _, err := Get[RuntimeInstanceRecord](s, RelationRuntimeInstance, "inst-1")
	require.NoError(t, err)
	got1.History[0].Version = "mutated"

	got2, _, err := Get[RuntimeInstanceRecord](s, RelationRuntimeInstance, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got2.History[0].Version, "mutating a read record must not affect the store")
}

func TestStore_GetMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)

	_, ok, err := Get[ArtifactRecord](s, RelationArtifact, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = MustGet[ArtifactRecord](s, RelationArtifact, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, Put(s1, RelationBuild, "build-1", BuildRecord{Build: "build-1", Status: BuildCompleted}))

	s2, err := Open(path)
	require.NoError(t, err)
	got, ok, err := Get[BuildRecord](s2, RelationBuild, "build-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, BuildCompleted, got.Status)
}

func TestStore_List(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, Put(s, RelationMigration, "m-1", MigrationRecord{Migration: "m-1"}))
	require.NoError(t, Put(s, RelationMigration, "m-2", MigrationRecord{Migration: "m-2"}))

	all, err := List[MigrationRecord](s, RelationMigration)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, Put(s, RelationSecretLease, "lease-1", SecretLeaseRecord{LeaseID: "lease-1"}))

	deleted, err := Delete(s, RelationSecretLease, "lease-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err := Get[SecretLeaseRecord](s, RelationSecretLease, "lease-1")
	require.NoError(t, err)
	assert.False(t, ok)

	deletedAgain, err := Delete(s, RelationSecretLease, "lease-1")
	require.NoError(t, err)
	assert.False(t, deletedAgain)
}
