// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package local

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	return New(s, idgen.NewCounterSource(0))
}

func TestBackend_Provision_IsIdempotent(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	first, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeOK, first.Outcome)

	second, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeAlreadyProvisioned, second.Outcome)
	assert.Equal(t, first.Instance, second.Instance)
}

func TestBackend_Deploy_StartsProcess(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	prov, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)

	res, err := b.Deploy(ctx, prov.Instance, "/bin/sleep", "v1")
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeOK, res.Outcome)

	health, err := b.HealthCheck(ctx, prov.Instance)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeOK, health.Outcome)

	_, err = b.Destroy(ctx, prov.Instance)
	require.NoError(t, err)
}

func TestBackend_Rollback_NoHistory(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	prov, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)

	res, err := b.Rollback(ctx, prov.Instance)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeNoHistory, res.Outcome)
}

func TestBackend_HealthCheck_UnreachableBeforeDeploy(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	prov, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)

	res, err := b.HealthCheck(ctx, prov.Instance)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeUnreachable, res.Outcome)
}
