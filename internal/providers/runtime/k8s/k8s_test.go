// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package k8s

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	return New(s, idgen.NewCounterSource(0), k8sfake.NewSimpleClientset())
}

func TestProvisionCreatesDeploymentAndService(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	res, err := b.Provision(ctx, runtime.ProvisionConfig{
		Concept:     "User",
		RuntimeType: ID,
		RawOptions: map[string]any{
			"namespace": "default",
			"image":     "registry/user:v1",
			"port":      8080,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeOK, res.Outcome)
	assert.Contains(t, res.Endpoint, "svc.cluster.local")

	again, err := b.Provision(ctx, runtime.ProvisionConfig{
		Concept:     "User",
		RuntimeType: ID,
		RawOptions: map[string]any{
			"namespace": "default",
			"image":     "registry/user:v1",
			"port":      8080,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeAlreadyProvisioned, again.Outcome)
}

func TestDeployAndRollback(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	provRes, err := b.Provision(ctx, runtime.ProvisionConfig{
		Concept:     "User",
		RuntimeType: ID,
		RawOptions:  map[string]any{"namespace": "default", "image": "registry/user:v1", "port": 8080},
	})
	require.NoError(t, err)

	deployRes, err := b.Deploy(ctx, provRes.Instance, "registry/user:v2", "v2")
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeOK, deployRes.Outcome)

	rollbackRes, err := b.Rollback(ctx, provRes.Instance)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeNoHistory, rollbackRes.Outcome)
}
