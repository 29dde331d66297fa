// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package cloudrun implements the Runtime provider contract (spec.md
// §4.3) against Google Cloud Run, using the generated run/v2 REST
// client. Endpoints follow Cloud Run's own convention:
// <service>.<region>.run.app (spec.md §4.3).
package cloudrun

import (
	"context"
	"fmt"
	"time"

	run "google.golang.org/api/run/v2"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/opconfig"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// ID is the backend name under which this provider registers itself.
const ID = "cloudrun"

// ProvisionOptions is the recognized option set for provision.
type ProvisionOptions struct {
	Project string `json:"project" validate:"required"`
	Region  string `json:"region" validate:"required"`
	Image   string `json:"image" validate:"required"`
}

// Backend is a Runtime provider backed by Google Cloud Run.
type Backend struct {
	svc   *run.Service
	store *store.Store
	ids   idgen.Source
}

// New constructs a Backend over an already-configured run/v2 service.
func New(s *store.Store, ids idgen.Source, svc *run.Service) *Backend {
	return &Backend{store: s, ids: ids, svc: svc}
}

// NewFromEnv builds a run/v2 client using application default
// credentials.
func NewFromEnv(ctx context.Context, s *store.Store, ids idgen.Source) (*Backend, error) {
	svc, err := run.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudrun: new service: %w", err)
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
		return runtime.ProvisionResult{}, fmt.Errorf("cloudrun: %w", err)
	}

	instance := b.ids.New("runtime")
	serviceID := fmt.Sprintf("%s-%s", cfg.Concept, instance)
	parent := fmt.Sprintf("projects/%s/locations/%s", opts.Project, opts.Region)

	svc := &run.GoogleCloudRunV2Service{
		Template: &run.GoogleCloudRunV2RevisionTemplate{
			Containers: []*run.GoogleCloudRunV2Container{{Image: opts.Image}},
		},
	}
	if _, err := b.svc.Projects.Locations.Services.Create(parent, svc).ServiceId(serviceID).Context(ctx).Do(); err != nil {
		return runtime.ProvisionResult{}, fmt.Errorf("cloudrun: create service %s: %w", serviceID, err)
	}

	endpoint := fmt.Sprintf("%s.%s.run.app", serviceID, opts.Region)
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

func (b *Backend) Deploy(_ context.Context, instance, image, version string) (runtime.DeployResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.DeployResult{}, err
	}
	_ = image

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
// reports it back unchanged. It makes no Cloud Run API call, so the
// service's revision traffic split is not changed.
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
	if _, err := b.svc.Projects.Locations.Services.Delete(name).Context(ctx).Do(); err != nil {
		return runtime.DestroyResult{Outcome: runtime.OutcomeDestroyFailed, Reason: err.Error()}, fmt.Errorf("cloudrun: delete service %s: %w", name, err)
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
