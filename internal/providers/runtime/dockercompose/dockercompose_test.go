// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package dockercompose

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptkit/orchestrator/pkg/executil"
	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

type fakeRunner struct {
	calls []executil.Command
}

func (f *fakeRunner) Run(_ context.Context, cmd executil.Command) (*executil.Result, error) {
	f.calls = append(f.calls, cmd)
	return &executil.Result{ExitCode: 0}, nil
}

func (f *fakeRunner) RunStream(_ context.Context, cmd executil.Command, _ io.Writer) error {
	f.calls = append(f.calls, cmd)
	return nil
}

func newBackend(t *testing.T) (*Backend, *fakeRunner) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	runner := &fakeRunner{}
	return New(s, runner, idgen.NewCounterSource(0), t.TempDir()), runner
}

func TestBackend_Provision_IsIdempotent(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	first, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeOK, first.Outcome)

	second, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeAlreadyProvisioned, second.Outcome)
	assert.Equal(t, first.Instance, second.Instance)
}

func TestBackend_Deploy_RecordsHistory(t *testing.T) {
	b, runner := newBackend(t)
	ctx := context.Background()

	prov, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)

	res, err := b.Deploy(ctx, prov.Instance, "sha-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeOK, res.Outcome)
	require.Len(t, runner.calls, 1)

	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, prov.Instance)
	require.NoError(t, err)
	assert.Equal(t, "v1", rec.CurrentVersion)
	require.Len(t, rec.History, 1)
}

func TestBackend_SetTrafficWeight_RejectsPartialWeights(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	prov, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)

	res, err := b.SetTrafficWeight(ctx, prov.Instance, 50)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeRuntimeUnsupported, res.Outcome)
}

func TestBackend_Rollback_NoHistory(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	prov, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)

	res, err := b.Rollback(ctx, prov.Instance)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeNoHistory, res.Outcome)
}

func TestBackend_Rollback_RedeploysPreviousVersion(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	prov, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)
	_, err = b.Deploy(ctx, prov.Instance, "sha-1", "v1")
	require.NoError(t, err)
	_, err = b.Deploy(ctx, prov.Instance, "sha-2", "v2")
	require.NoError(t, err)

	res, err := b.Rollback(ctx, prov.Instance)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeOK, res.Outcome)
	assert.Equal(t, "sha-1", res.PreviousVersion)
}

func TestBackend_Destroy(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	prov, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)

	res, err := b.Destroy(ctx, prov.Instance)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeOK, res.Outcome)

	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, prov.Instance)
	require.NoError(t, err)
	assert.Equal(t, store.RuntimeInstanceDestroyed, rec.Status)
}

func TestBackend_HealthCheck(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	prov, err := b.Provision(ctx, runtime.ProvisionConfig{Concept: "api", RuntimeType: ID})
	require.NoError(t, err)

	res, err := b.HealthCheck(ctx, prov.Instance)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeOK, res.Outcome)
}
