// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package vault implements the Secret provider contract (spec.md
// §4.3) against HashiCorp Vault's KV v2 and lease APIs over its plain
// REST interface. No client library for Vault appears anywhere in the
// retrieved corpus, so this backend talks to Vault directly over
// net/http rather than introducing an unexercised dependency; see
// DESIGN.md.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/secret"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// ID is the backend name under which this provider registers itself.
const ID = "vault"

// defaultLeaseDuration is the lease TTL assumed when Vault's response
// omits lease_duration, matching spec.md §8 S6's "duration 3600".
const defaultLeaseDuration = 3600

// Backend is a Secret provider backed by a Vault server's HTTP API.
type Backend struct {
	addr  string
	token string
	http  *http.Client
	store *store.Store
	ids   idgen.Source
}

// New constructs a Backend against a Vault server at addr (e.g.
// https://vault.internal:8200), authenticating with token.
func New(s *store.Store, ids idgen.Source, addr, token string) *Backend {
	return &Backend{addr: addr, token: token, http: &http.Client{Timeout: 30 * time.Second}, store: s, ids: ids}
}

func (b *Backend) ID() string { return ID }

func (b *Backend) do(ctx context.Context, method, path string, body any, out any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("vault: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.addr+path, reader)
	if err != nil {
		return nil, fmt.Errorf("vault: build request: %w", err)
	}
	req.Header.Set("X-Vault-Token", b.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("vault: decode response: %w", err)
		}
	}
	return resp, nil
}

type kvReadResponse struct {
	LeaseID       string `json:"lease_id"`
	LeaseDuration int    `json:"lease_duration"`
	Data          struct {
		Data map[string]string `json:"data"`
	} `json:"data"`
}

// Fetch reads name from Vault's KV v2 engine and records a lease for
// later renewLease calls (spec.md §8 S6).
func (b *Backend) Fetch(ctx context.Context, name string) (secret.FetchResult, error) {
	var out kvReadResponse
	resp, err := b.do(ctx, http.MethodGet, "/v1/secret/data/"+name, nil, &out)
	if err != nil {
		return secret.FetchResult{}, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return secret.FetchResult{Outcome: secret.OutcomeNotFound}, nil
	}
	if resp.StatusCode >= 300 {
		return secret.FetchResult{}, fmt.Errorf("vault: fetch %s: status %d", name, resp.StatusCode)
	}

	leaseID := out.LeaseID
	if leaseID == "" {
		leaseID = b.ids.New("lease")
	}
	duration := out.LeaseDuration
	if duration == 0 {
		duration = defaultLeaseDuration
	}

	lease := store.SecretLeaseRecord{
		LeaseID:   leaseID,
		Path:      name,
		Provider:  ID,
		Version:   1,
		ExpiresAt: time.Now().UTC().Add(time.Duration(duration) * time.Second),
	}
	if err := store.Put(b.store, store.RelationSecretLease, leaseID, lease); err != nil {
		return secret.FetchResult{}, err
	}

	value, ok := out.Data.Data["value"]
	if !ok {
		for _, v := range out.Data.Data {
			value = v
			break
		}
	}
	return secret.FetchResult{Outcome: secret.OutcomeOK, Value: value, Version: 1, LeaseID: leaseID}, nil
}

// RenewLease extends an outstanding lease. Returns leaseExpired when
// the lease record is absent (spec.md §4.3, §8 S6).
func (b *Backend) RenewLease(ctx context.Context, leaseID string) (secret.RenewLeaseResult, error) {
	lease, found, err := store.Get[store.SecretLeaseRecord](b.store, store.RelationSecretLease, leaseID)
	if err != nil {
		return secret.RenewLeaseResult{}, err
	}
	if !found {
		return secret.RenewLeaseResult{Outcome: secret.OutcomeLeaseExpired}, nil
	}

	resp, err := b.do(ctx, http.MethodPut, "/v1/sys/leases/renew", map[string]string{"lease_id": leaseID}, nil)
	if err != nil {
		return secret.RenewLeaseResult{}, err
	}
	if resp.StatusCode == http.StatusNotFound {
		if _, delErr := store.Delete(b.store, store.RelationSecretLease, leaseID); delErr != nil {
			return secret.RenewLeaseResult{}, delErr
		}
		return secret.RenewLeaseResult{Outcome: secret.OutcomeLeaseExpired}, nil
	}

	lease.ExpiresAt = time.Now().UTC().Add(defaultLeaseDuration * time.Second)
	if err := store.Put(b.store, store.RelationSecretLease, leaseID, lease); err != nil {
		return secret.RenewLeaseResult{}, err
	}
	return secret.RenewLeaseResult{Outcome: secret.OutcomeOK, DurationSec: defaultLeaseDuration}, nil
}

func (b *Backend) Rotate(ctx context.Context, name string) (secret.RotateResult, error) {
	resp, err := b.do(ctx, http.MethodPost, "/v1/secret/rotate/"+name, nil, nil)
	if err != nil {
		return secret.RotateResult{}, err
	}
	if resp.StatusCode == http.StatusConflict {
		return secret.RotateResult{Outcome: secret.OutcomeRotationInProgress}, nil
	}
	return secret.RotateResult{Outcome: secret.OutcomeOK, NewVersion: 1}, nil
}

func (b *Backend) Exists(ctx context.Context, name string) (secret.ExistsResult, error) {
	resp, err := b.do(ctx, http.MethodGet, "/v1/secret/metadata/"+name, nil, nil)
	if err != nil {
		return secret.ExistsResult{}, err
	}
	return secret.ExistsResult{Outcome: secret.OutcomeOK, Exists: resp.StatusCode < 300}, nil
}

// InvalidateCache is a no-op: this backend never caches secret values
// locally, every Fetch reads Vault live.
func (b *Backend) InvalidateCache(_ context.Context, _ string) error { return nil }

// Registration requires a live Vault address and token, so this
// backend is constructed and registered explicitly by the process
// composing providers (cmd/orchestratord), not self-registered.
