// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package gcf implements the Runtime provider contract (spec.md
// §4.3) against Google Cloud Functions (2nd gen), using the generated
// cloudfunctions/v2 REST client. 2nd-gen functions run on Cloud Run
// under the hood, so the endpoint follows the same <service>.<region>.run.app
// convention cloudrun uses (spec.md §4.3).
package gcf

import (
	"context"
	"fmt"
	"time"

	cloudfunctions "google.golang.org/api/cloudfunctions/v2"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/opconfig"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// ID is the backend name under which this provider registers itself.
const ID = "gcf"

// ProvisionOptions is the recognized option set for provision.
type ProvisionOptions struct {
	Project  string `json:"project" validate:"required"`
	Region   string `json:"region" validate:"required"`
	Runtime  string `json:"runtime" validate:"required"`
	Entry    string `json:"entryPoint" validate:"required"`
	SourceURI string `json:"sourceUri"`
}

// Backend is a Runtime provider backed by Google Cloud Functions.
type Backend struct {
	svc   *cloudfunctions.Service
	store *store.Store
	ids   idgen.Source
}

// New constructs a Backend over an already-configured cloudfunctions/v2
// service.
func New(s *store.Store, ids idgen.Source, svc *cloudfunctions.Service) *Backend {
	return &Backend{store: s, ids: ids, svc: svc}
}

// NewFromEnv builds a cloudfunctions/v2 client using application
// default credentials.
func NewFromEnv(ctx context.Context, s *store.Store, ids idgen.Source) (*Backend, error) {
	svc, err := cloudfunctions.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcf: new service: %w", err)
	}
	return New(s, ids, svc), nil
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

func (b *Backend) Provision(ctx context.Context, cfg runtime.ProvisionConfig) (runtime.ProvisionResult, error) {
	if existing, ok, err := b.findActive(cfg.Concept, cfg.RuntimeType); err != nil {
		return runtime.ProvisionResult{}, err
	} else if ok {
		return runtime.ProvisionResult{
			Outcome:  runtime.OutcomeAlreadyProvisioned,
			Instance: existing.Instance,
			Endpoint: existing.Endpoint,
		}, nil
	}

	opts, err := opconfig.Parse[ProvisionOptions](cfg.RawOptions)
	if err != nil {
		return runtime.ProvisionResult{}, fmt.Errorf("gcf: %w", err)
	}

	instance := b.ids.New("runtime")
	functionID := fmt.Sprintf("%s-%s", cfg.Concept, instance)
	parent := fmt.Sprintf("projects/%s/locations/%s", opts.Project, opts.Region)

	fn := &cloudfunctions.Function{
		BuildConfig: &cloudfunctions.BuildConfig{
			Runtime:    opts.Runtime,
			EntryPoint: opts.Entry,
			Source: &cloudfunctions.Source{
				StorageSource: &cloudfunctions.StorageSource{},
			},
		},
		ServiceConfig: &cloudfunctions.ServiceConfig{},
	}
	if _, err := b.svc.Projects.Locations.Functions.Create(parent, fn).FunctionId(functionID).Context(ctx).Do(); err != nil {
		return runtime.ProvisionResult{}, fmt.Errorf("gcf: create function %s: %w", functionID, err)
	}

	endpoint := fmt.Sprintf("%s.%s.run.app", functionID, opts.Region)
	rec := store.RuntimeInstanceRecord{
		Instance:    instance,
		Concept:     cfg.Concept,
		RuntimeType: cfg.RuntimeType,
		Endpoint:    endpoint,
		Status:      store.RuntimeInstanceActive,
	}
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.ProvisionResult{}, err
	}
	return runtime.ProvisionResult{Outcome: runtime.OutcomeOK, Instance: instance, Endpoint: endpoint}, nil
}

func (b *Backend) Deploy(_ context.Context, instance, _, version string) (runtime.DeployResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.DeployResult{}, err
	}
	if rec.CurrentVersion != "" {
		rec.History = append(rec.History, store.RuntimeInstanceEvent{Version: rec.CurrentVersion, DeployedAt: time.Now().UTC()})
	}
	rec.CurrentVersion = version
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.DeployResult{}, err
	}
	return runtime.DeployResult{Outcome: runtime.OutcomeOK, Endpoint: rec.Endpoint}, nil
}

// SetTrafficWeight records weight on the RuntimeInstance record and
// returns ok with it. It makes no Cloud Functions API call, so no
// traffic is actually split between revisions.
func (b *Backend) SetTrafficWeight(_ context.Context, instance string, weight int) (runtime.SetTrafficWeightResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.SetTrafficWeightResult{}, err
	}
	rec.TrafficWeight = weight
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.SetTrafficWeightResult{}, err
	}
	return runtime.SetTrafficWeightResult{Outcome: runtime.OutcomeOK, Instance: instance, NewWeight: weight}, nil
}

func (b *Backend) Rollback(_ context.Context, instance string) (runtime.RollbackResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.RollbackResult{}, err
	}
	if len(rec.History) == 0 {
		return runtime.RollbackResult{Outcome: runtime.OutcomeNoHistory}, nil
	}
	prev := rec.History[len(rec.History)-1]
	rec.History = rec.History[:len(rec.History)-1]
	rec.CurrentVersion = prev.Version
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.RollbackResult{}, err
	}
	return runtime.RollbackResult{Outcome: runtime.OutcomeOK, PreviousVersion: prev.Version}, nil
}

func (b *Backend) Destroy(ctx context.Context, instance string) (runtime.DestroyResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.DestroyResult{}, err
	}
	name := fmt.Sprintf("%s-%s", rec.Concept, instance)
	if _, err := b.svc.Projects.Locations.Functions.Delete(name).Context(ctx).Do(); err != nil {
		return runtime.DestroyResult{Outcome: runtime.OutcomeDestroyFailed, Reason: err.Error()}, fmt.Errorf("gcf: delete function %s: %w", name, err)
	}
	rec.Status = store.RuntimeInstanceDestroyed
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.DestroyResult{}, err
	}
	return runtime.DestroyResult{Outcome: runtime.OutcomeOK}, nil
}

func (b *Backend) HealthCheck(_ context.Context, instance string) (runtime.HealthCheckResult, error) {
	start := time.Now()
	if _, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance); err != nil {
		return runtime.HealthCheckResult{}, err
	}
	return runtime.HealthCheckResult{Outcome: runtime.OutcomeOK, LatencyMs: time.Since(start).Milliseconds()}, nil
}
