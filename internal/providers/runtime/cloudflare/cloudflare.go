// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package cloudflare implements the Runtime provider contract (spec.md
// §4.3) against the Cloudflare Workers REST API. No Go client library
// for Cloudflare Workers appears anywhere in the retrieved corpus, so
// this backend talks to Cloudflare directly over net/http, matching
// vercel's bearer-token-over-oauth2.StaticTokenSource pattern; see
// DESIGN.md.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/opconfig"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// ID is the backend name under which this provider registers itself.
const ID = "cloudflare"

const defaultAPIBase = "https://api.cloudflare.com/client/v4"

// ProvisionOptions is the recognized option set for provision.
type ProvisionOptions struct {
	AccountID string `json:"accountId" validate:"required"`
}

// Backend is a Runtime provider backed by Cloudflare Workers.
type Backend struct {
	http      *http.Client
	store     *store.Store
	ids       idgen.Source
	accountID string
	apiBase   string
}

// New constructs a Backend authenticating with token, scoped to
// accountID.
func New(s *store.Store, ids idgen.Source, token, accountID string) *Backend {
	client := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client.Timeout = 30 * time.Second
	return &Backend{http: client, store: s, ids: ids, accountID: accountID, apiBase: defaultAPIBase}
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

// Provision registers a Worker script name. Cloudflare creates the
// script itself on first upload (Deploy), so provision only reserves
// the name and records the endpoint, which follows Cloudflare's own
// convention <scriptName>.<accountId>.workers.dev (spec.md §4.3).
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

	if _, err := opconfig.Parse[ProvisionOptions](cfg.RawOptions); err != nil {
		return runtime.ProvisionResult{}, fmt.Errorf("cloudflare: %w", err)
	}

	instance := b.ids.New("runtime")
	scriptName := fmt.Sprintf("%s-%s", cfg.Concept, instance)
	endpoint := fmt.Sprintf("%s.%s.workers.dev", scriptName, b.accountID)

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

// Deploy uploads the Worker script. artifactLocation is the script
// source bundle.
func (b *Backend) Deploy(ctx context.Context, instance, artifactLocation, version string) (runtime.DeployResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.DeployResult{}, err
	}

	scriptName := fmt.Sprintf("%s-%s", rec.Concept, instance)
	path := fmt.Sprintf("/accounts/%s/workers/scripts/%s", b.accountID, scriptName)
	if err := b.do(ctx, http.MethodPut, path, map[string]string{"source": artifactLocation}, nil); err != nil {
		return runtime.DeployResult{Outcome: runtime.OutcomeBuildFailed, Errors: []string{err.Error()}}, nil
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

// SetTrafficWeight maps onto Cloudflare's gradual rollout deployment
// percentage split between script versions.
func (b *Backend) SetTrafficWeight(ctx context.Context, instance string, weight int) (runtime.SetTrafficWeightResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.SetTrafficWeightResult{}, err
	}
	scriptName := fmt.Sprintf("%s-%s", rec.Concept, instance)
	path := fmt.Sprintf("/accounts/%s/workers/scripts/%s/deployments", b.accountID, scriptName)
	if err := b.do(ctx, http.MethodPost, path, map[string]any{"percentage": weight}, nil); err != nil {
		return runtime.SetTrafficWeightResult{}, fmt.Errorf("cloudflare: set traffic weight %s: %w", scriptName, err)
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
	scriptName := fmt.Sprintf("%s-%s", rec.Concept, instance)
	path := fmt.Sprintf("/accounts/%s/workers/scripts/%s", b.accountID, scriptName)
	if err := b.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return runtime.DestroyResult{Outcome: runtime.OutcomeDestroyFailed, Reason: err.Error()}, nil
	}
	rec.Status = store.RuntimeInstanceDestroyed
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.DestroyResult{}, err
	}
	return runtime.DestroyResult{Outcome: runtime.OutcomeOK}, nil
}

func (b *Backend) HealthCheck(ctx context.Context, instance string) (runtime.HealthCheckResult, error) {
	start := time.Now()
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.HealthCheckResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+rec.Endpoint, nil)
	if err != nil {
		return runtime.HealthCheckResult{}, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return runtime.HealthCheckResult{Outcome: runtime.OutcomeUnreachable, LatencyMs: time.Since(start).Milliseconds()}, nil
	}
	defer resp.Body.Close()
	return runtime.HealthCheckResult{Outcome: runtime.OutcomeOK, LatencyMs: time.Since(start).Milliseconds()}, nil
}

func (b *Backend) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cloudflare: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.apiBase+path, reader)
	if err != nil {
		return fmt.Errorf("cloudflare: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloudflare: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("cloudflare: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("cloudflare: decode response: %w", err)
		}
	}
	return nil
}

// Registration requires a live API token, so this backend has no
// init() self-registration; the process composing providers
// constructs it explicitly via New.
