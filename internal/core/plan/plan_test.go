// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// fakeRuntime is a minimal in-memory runtime.Provider for exercising the
// planner without a real backend. failOn names a node ID whose Provision
// call should fail, simulating a deploy failure mid-execution.
type fakeRuntime struct {
	mu         sync.Mutex
	id         string
	provisions int
	destroyed  []string
	failOn     string
}

func (f *fakeRuntime) ID() string { return f.id }

func (f *fakeRuntime) Provision(_ context.Context, cfg runtime.ProvisionConfig) (runtime.ProvisionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisions++
	if cfg.Concept == f.failOn {
		return runtime.ProvisionResult{}, fmt.Errorf("fake: provision %s failed", cfg.Concept)
	}
	return runtime.ProvisionResult{Outcome: runtime.OutcomeOK, Instance: "inst-" + cfg.Concept, Endpoint: "http://" + cfg.Concept}, nil
}

func (f *fakeRuntime) Deploy(_ context.Context, instance, artifactHash, version string) (runtime.DeployResult, error) {
	return runtime.DeployResult{Outcome: runtime.OutcomeOK}, nil
}

func (f *fakeRuntime) SetTrafficWeight(_ context.Context, instance string, weight int) (runtime.SetTrafficWeightResult, error) {
	return runtime.SetTrafficWeightResult{Outcome: runtime.OutcomeOK, Instance: instance, NewWeight: weight}, nil
}

func (f *fakeRuntime) Rollback(_ context.Context, instance string) (runtime.RollbackResult, error) {
	return runtime.RollbackResult{Outcome: runtime.OutcomeOK}, nil
}

func (f *fakeRuntime) Destroy(_ context.Context, instance string) (runtime.DestroyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, instance)
	return runtime.DestroyResult{Outcome: runtime.OutcomeOK}, nil
}

func (f *fakeRuntime) HealthCheck(_ context.Context, instance string) (runtime.HealthCheckResult, error) {
	return runtime.HealthCheckResult{Outcome: runtime.OutcomeOK}, nil
}

func newTestPlanner(t *testing.T, fr *fakeRuntime) *Planner {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	lookup := func(id string) (runtime.Provider, bool) {
		if id == fr.id {
			return fr, true
		}
		return nil, false
	}
	return New(s, idgen.NewCounterSource(0), lookup)
}

func TestPlan_InvalidManifest(t *testing.T) {
	fr := &fakeRuntime{id: "fake"}
	p := newTestPlanner(t, fr)

	res, err := p.Plan(context.Background(), Manifest{}, "prod")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidManifest, res.Outcome)

	res, err = p.Plan(context.Background(), Manifest{Nodes: []Node{{ID: "a", RuntimeType: "fake"}}}, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidManifest, res.Outcome)
}

func TestPlan_RejectsCycle(t *testing.T) {
	fr := &fakeRuntime{id: "fake"}
	p := newTestPlanner(t, fr)

	manifest := Manifest{Nodes: []Node{
		{ID: "a", RuntimeType: "fake", DependsOn: []string{"b"}},
		{ID: "b", RuntimeType: "fake", DependsOn: []string{"a"}},
	}}
	res, err := p.Plan(context.Background(), manifest, "prod")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidManifest, res.Outcome)
}

// fakeEnvResolver rejects every name except those in ok.
type fakeEnvResolver struct{ ok map[string]bool }

func (f fakeEnvResolver) Resolve(_ context.Context, name string) error {
	if f.ok[name] {
		return nil
	}
	return fmt.Errorf("environment %q not found", name)
}

// TestPlan_RejectsUnresolvableEnvironment exercises spec.md §6: an
// environment name must be resolvable by the Env sub-service.
func TestPlan_RejectsUnresolvableEnvironment(t *testing.T) {
	fr := &fakeRuntime{id: "fake"}
	p := newTestPlanner(t, fr).WithEnvResolver(fakeEnvResolver{ok: map[string]bool{"prod": true}})

	manifest := Manifest{Nodes: []Node{{ID: "a", RuntimeType: "fake"}}}

	res, err := p.Plan(context.Background(), manifest, "staging")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidManifest, res.Outcome)

	res, err = p.Plan(context.Background(), manifest, "prod")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)
}

// TestPlanExecuteHappyPath exercises spec.md §8 property 1: after plan
// then execute without failure, completedNodes = graphNodes and phase =
// executed.
func TestPlanExecuteHappyPath(t *testing.T) {
	ctx := context.Background()
	fr := &fakeRuntime{id: "fake"}
	p := newTestPlanner(t, fr)

	manifest := Manifest{Nodes: []Node{
		{ID: "a", RuntimeType: "fake"},
		{ID: "b", RuntimeType: "fake", DependsOn: []string{"a"}},
		{ID: "c", RuntimeType: "fake", DependsOn: []string{"a"}},
	}}

	planRes, err := p.Plan(ctx, manifest, "prod")
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, planRes.Outcome)

	valRes, err := p.Validate(ctx, planRes.Plan)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, valRes.Outcome)

	execRes, err := p.Execute(ctx, planRes.Plan)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, execRes.Outcome)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, execRes.NodesDeployed)

	statusRes, err := p.Status(ctx, planRes.Plan)
	require.NoError(t, err)
	assert.Equal(t, store.PlanPhaseExecuted, statusRes.Phase)
	assert.Equal(t, 1.0, statusRes.Progress)
}

// TestExecute_FailureTriggersRollback exercises spec.md §8 property 8:
// a failed execute either cleanly rolls back every completed node or
// leaves a non-empty stuck list.
func TestExecute_FailureTriggersRollback(t *testing.T) {
	ctx := context.Background()
	fr := &fakeRuntime{id: "fake", failOn: "b"}
	p := newTestPlanner(t, fr)

	manifest := Manifest{Nodes: []Node{
		{ID: "a", RuntimeType: "fake"},
		{ID: "b", RuntimeType: "fake", DependsOn: []string{"a"}},
	}}

	planRes, err := p.Plan(ctx, manifest, "prod")
	require.NoError(t, err)

	execRes, err := p.Execute(ctx, planRes.Plan)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRollbackFailed, execRes.Outcome)

	statusRes, err := p.Status(ctx, planRes.Plan)
	require.NoError(t, err)
	assert.Equal(t, store.PlanPhaseRolledBack, statusRes.Phase)
	assert.Contains(t, fr.destroyed, "inst-a")
}
