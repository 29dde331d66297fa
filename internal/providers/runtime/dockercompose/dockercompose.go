// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package dockercompose implements the Runtime provider contract
// (spec.md §4.3) against a docker-compose-managed service: one service
// in the project's compose file per concept, scaled to 0 or 1 replicas
// since compose has no native weighted traffic split.
package dockercompose

import (
	"context"
	"fmt"
	"time"

	"github.com/conceptkit/orchestrator/pkg/executil"
	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// ID is the backend name under which this provider registers itself.
const ID = "dockercompose"

// Backend is a Runtime provider backed by a single compose file. Each
// RuntimeInstance record maps to one compose service named after the
// instance's concept.
type Backend struct {
	store      *store.Store
	runner     executil.Runner
	ids        idgen.Source
	composeDir string
}

// New constructs a Backend. composeDir is the directory containing the
// project's docker-compose.yml, passed to every `docker compose`
// invocation via -f.
func New(s *store.Store, runner executil.Runner, ids idgen.Source, composeDir string) *Backend {
	return &Backend{store: s, runner: runner, ids: ids, composeDir: composeDir}
}

func (b *Backend) ID() string { return ID }

func (b *Backend) composeFile() string {
	return b.composeDir + "/docker-compose.yml"
}

// findActive returns the active instance for (concept, runtimeType), if
// any, satisfying the "idempotent on provision, keyed by (concept,
// runtimeType)" invariant of spec.md §3.
func (b *Backend) findActive(concept, runtimeType string) (store.RuntimeInstanceRecord, bool, error) {
	all, err := store.List[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance)
	if err != nil {
		return store.RuntimeInstanceRecord{}, false, err
	}
	for _, rec := range all {
		if rec.Concept == concept && rec.RuntimeType == runtimeType && rec.Status == store.RuntimeInstanceActive {
			return rec, true, nil
		}
	}
	return store.RuntimeInstanceRecord{}, false, nil
}

func (b *Backend) Provision(_ context.Context, cfg runtime.ProvisionConfig) (runtime.ProvisionResult, error) {
	if existing, ok, err := b.findActive(cfg.Concept, cfg.RuntimeType); err != nil {
		return runtime.ProvisionResult{}, err
	} else if ok {
		return runtime.ProvisionResult{
			Outcome:  runtime.OutcomeAlreadyProvisioned,
			Instance: existing.Instance,
			Endpoint: existing.Endpoint,
		}, nil
	}

	instance := b.ids.New("runtime")
	rec := store.RuntimeInstanceRecord{
		Instance:    instance,
		Concept:     cfg.Concept,
		RuntimeType: cfg.RuntimeType,
		Endpoint:    fmt.Sprintf("http://%s.local", cfg.Concept),
		Status:      store.RuntimeInstanceActive,
	}
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.ProvisionResult{}, err
	}
	return runtime.ProvisionResult{Outcome: runtime.OutcomeOK, Instance: instance, Endpoint: rec.Endpoint}, nil
}

func (b *Backend) Deploy(ctx context.Context, instance, artifactHash, version string) (runtime.DeployResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.DeployResult{}, err
	}

	cmd := executil.NewCommand("docker", "compose", "-f", b.composeFile(), "up", "-d", "--no-deps", rec.Concept)
	if _, err := b.runner.Run(ctx, cmd); err != nil {
		return runtime.DeployResult{Outcome: runtime.OutcomeImagePullBackOff, Errors: []string{err.Error()}}, fmt.Errorf("deploying %s: %w", instance, err)
	}

	rec.CurrentVersion = version
	rec.History = append(rec.History, store.RuntimeInstanceEvent{Version: artifactHash, DeployedAt: time.Now().UTC()})
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.DeployResult{}, err
	}
	return runtime.DeployResult{Outcome: runtime.OutcomeOK, Endpoint: rec.Endpoint}, nil
}

// SetTrafficWeight only supports 0 and 100: compose scales the service
// to 0 or 1 replicas. Any other weight is runtimeUnsupported.
func (b *Backend) SetTrafficWeight(ctx context.Context, instance string, weight int) (runtime.SetTrafficWeightResult, error) {
	if weight != 0 && weight != 100 {
		return runtime.SetTrafficWeightResult{Outcome: runtime.OutcomeRuntimeUnsupported}, nil
	}
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.SetTrafficWeightResult{}, err
	}

	replicas := "0"
	if weight == 100 {
		replicas = "1"
	}
	cmd := executil.NewCommand("docker", "compose", "-f", b.composeFile(), "up", "-d", "--scale", rec.Concept+"="+replicas, "--no-deps", rec.Concept)
	if _, err := b.runner.Run(ctx, cmd); err != nil {
		return runtime.SetTrafficWeightResult{}, fmt.Errorf("scaling %s: %w", instance, err)
	}

	rec.TrafficWeight = weight
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.SetTrafficWeightResult{}, err
	}
	return runtime.SetTrafficWeightResult{Outcome: runtime.OutcomeOK, Instance: instance, NewWeight: weight}, nil
}

func (b *Backend) Rollback(ctx context.Context, instance string) (runtime.RollbackResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.RollbackResult{}, err
	}
	if len(rec.History) < 2 {
		return runtime.RollbackResult{Outcome: runtime.OutcomeNoHistory}, nil
	}

	prev := rec.History[len(rec.History)-2]
	if _, err := b.Deploy(ctx, instance, prev.Version, prev.Version); err != nil {
		return runtime.RollbackResult{Outcome: runtime.OutcomeRollbackFailed, Reason: err.Error()}, fmt.Errorf("rolling back %s: %w", instance, err)
	}
	return runtime.RollbackResult{Outcome: runtime.OutcomeOK, PreviousVersion: prev.Version}, nil
}

func (b *Backend) Destroy(ctx context.Context, instance string) (runtime.DestroyResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.DestroyResult{}, err
	}

	cmd := executil.NewCommand("docker", "compose", "-f", b.composeFile(), "rm", "-sf", rec.Concept)
	if _, err := b.runner.Run(ctx, cmd); err != nil {
		return runtime.DestroyResult{Outcome: runtime.OutcomeDestroyFailed, Reason: err.Error()}, fmt.Errorf("destroying %s: %w", instance, err)
	}

	rec.Status = store.RuntimeInstanceDestroyed
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.DestroyResult{}, err
	}
	return runtime.DestroyResult{Outcome: runtime.OutcomeOK}, nil
}

func (b *Backend) HealthCheck(ctx context.Context, instance string) (runtime.HealthCheckResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.HealthCheckResult{}, err
	}

	start := time.Now()
	cmd := executil.NewCommand("docker", "compose", "-f", b.composeFile(), "ps", "--status", "running", rec.Concept)
	res, err := b.runner.Run(ctx, cmd)
	elapsed := time.Since(start)
	if err != nil || res.ExitCode != 0 {
		return runtime.HealthCheckResult{Outcome: runtime.OutcomeUnreachable, LatencyMs: elapsed.Milliseconds()}, nil
	}
	return runtime.HealthCheckResult{Outcome: runtime.OutcomeOK, LatencyMs: elapsed.Milliseconds()}, nil
}
