// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/secret"
	"github.com/conceptkit/orchestrator/pkg/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/secret/data/prod/db", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"lease_id":       "lease-abc",
			"lease_duration": 3600,
			"data": map[string]any{
				"data": map[string]string{"value": "s3cr3t"},
			},
		})
	})
	mux.HandleFunc("/v1/sys/leases/renew", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["lease_id"] != "lease-abc" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	srv := newTestServer(t)
	t.Cleanup(srv.Close)
	return New(s, idgen.NewCounterSource(0), srv.URL, "test-token")
}

// TestVaultLeaseScenario covers spec.md §8 S6 end to end.
func TestVaultLeaseScenario(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	fetchRes, err := b.Fetch(ctx, "prod/db")
	require.NoError(t, err)
	assert.Equal(t, secret.OutcomeOK, fetchRes.Outcome)
	assert.Equal(t, "lease-abc", fetchRes.LeaseID)

	renewRes, err := b.RenewLease(ctx, fetchRes.LeaseID)
	require.NoError(t, err)
	assert.Equal(t, secret.OutcomeOK, renewRes.Outcome)
	assert.Equal(t, defaultLeaseDuration, renewRes.DurationSec)

	_, err = store.Delete(b.store, store.RelationSecretLease, fetchRes.LeaseID)
	require.NoError(t, err)

	expiredRes, err := b.RenewLease(ctx, fetchRes.LeaseID)
	require.NoError(t, err)
	assert.Equal(t, secret.OutcomeLeaseExpired, expiredRes.Outcome)
}

func TestRenewLease_UnknownLeaseID(t *testing.T) {
	b := newTestBackend(t)
	res, err := b.RenewLease(context.Background(), "never-issued")
	require.NoError(t, err)
	assert.Equal(t, secret.OutcomeLeaseExpired, res.Outcome)
}
