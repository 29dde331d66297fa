// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package local implements the Runtime provider contract (spec.md
// §4.3) by running a concept's artifact as a plain local process, for
// single-host development environments with no container runtime.
package local

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// ID is the backend name under which this provider registers itself.
const ID = "local"

// Backend runs one OS process per active instance. Process handles are
// process-table state, not store state: a process dies with the
// orchestrator, so HealthCheck on a record with no live handle reports
// unreachable rather than consulting history.
type Backend struct {
	store *store.Store
	ids   idgen.Source

	mu        sync.Mutex
	processes map[string]*exec.Cmd
}

// New constructs a Backend.
func New(s *store.Store, ids idgen.Source) *Backend {
	return &Backend{store: s, ids: ids, processes: make(map[string]*exec.Cmd)}
}

func (b *Backend) ID() string { return ID }

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
		Endpoint:    "http://127.0.0.1",
		Status:      store.RuntimeInstanceActive,
	}
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.ProvisionResult{}, err
	}
	return runtime.ProvisionResult{Outcome: runtime.OutcomeOK, Instance: instance, Endpoint: rec.Endpoint}, nil
}

// Deploy stops any process currently running for instance and starts
// artifactPath (artifactHash here is a resolved local binary path, the
// only address form a local runtime understands) as a background
// process.
func (b *Backend) Deploy(_ context.Context, instance, artifactPath, version string) (runtime.DeployResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.DeployResult{}, err
	}

	b.mu.Lock()
	if old, ok := b.processes[instance]; ok && old.Process != nil {
		_ = old.Process.Kill()
	}
	//nolint:gosec // G204: artifactPath is a build output resolved by the planner, not raw user input.
	cmd := exec.Command(artifactPath)
	if err := cmd.Start(); err != nil {
		b.mu.Unlock()
		return runtime.DeployResult{Outcome: runtime.OutcomeBuildFailed, Errors: []string{err.Error()}}, fmt.Errorf("starting %s: %w", instance, err)
	}
	b.processes[instance] = cmd
	b.mu.Unlock()

	rec.CurrentVersion = version
	rec.History = append(rec.History, store.RuntimeInstanceEvent{Version: artifactPath, DeployedAt: time.Now().UTC()})
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.DeployResult{}, err
	}
	return runtime.DeployResult{Outcome: runtime.OutcomeOK, Endpoint: rec.Endpoint}, nil
}

// SetTrafficWeight only supports 0 and 100: a local process is either
// running or it is not.
func (b *Backend) SetTrafficWeight(_ context.Context, instance string, weight int) (runtime.SetTrafficWeightResult, error) {
	if weight != 0 && weight != 100 {
		return runtime.SetTrafficWeightResult{Outcome: runtime.OutcomeRuntimeUnsupported}, nil
	}

	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.SetTrafficWeightResult{}, err
	}

	b.mu.Lock()
	proc := b.processes[instance]
	if weight == 0 && proc != nil && proc.Process != nil {
		_ = proc.Process.Kill()
		delete(b.processes, instance)
	}
	b.mu.Unlock()

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

func (b *Backend) Destroy(_ context.Context, instance string) (runtime.DestroyResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.DestroyResult{}, err
	}

	b.mu.Lock()
	if proc, ok := b.processes[instance]; ok && proc.Process != nil {
		_ = proc.Process.Kill()
		delete(b.processes, instance)
	}
	b.mu.Unlock()

	rec.Status = store.RuntimeInstanceDestroyed
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.DestroyResult{}, err
	}
	return runtime.DestroyResult{Outcome: runtime.OutcomeOK}, nil
}

func (b *Backend) HealthCheck(_ context.Context, instance string) (runtime.HealthCheckResult, error) {
	start := time.Now()
	b.mu.Lock()
	proc, ok := b.processes[instance]
	b.mu.Unlock()
	if !ok || proc.Process == nil {
		return runtime.HealthCheckResult{Outcome: runtime.OutcomeUnreachable, LatencyMs: time.Since(start).Milliseconds()}, nil
	}
	if err := proc.Process.Signal(syscall.Signal(0)); err != nil {
		return runtime.HealthCheckResult{Outcome: runtime.OutcomeUnreachable, LatencyMs: time.Since(start).Milliseconds()}, nil
	}
	return runtime.HealthCheckResult{Outcome: runtime.OutcomeOK, LatencyMs: time.Since(start).Milliseconds()}, nil
}
