// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package gcpsm implements the Secret provider contract (spec.md
// §4.3) against Google Cloud Secret Manager.
package gcpsm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/conceptkit/orchestrator/pkg/providers/secret"
)

// ID is the backend name under which this provider registers itself.
const ID = "gcpsm"

// API is the subset of the Secret Manager client this backend depends
// on, narrowed for fakeability in tests.
type API interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)
	GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error)
}

// Backend is a Secret provider backed by Google Cloud Secret Manager.
type Backend struct {
	client  API
	project string
}

// New constructs a Backend over an already-configured Secret Manager
// client, scoped to project.
func New(project string, client API) *Backend {
	return &Backend{client: client, project: project}
}

// NewFromEnv resolves GCP credentials from application default
// credentials.
func NewFromEnv(ctx context.Context, project string) (*Backend, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcpsm: new client: %w", err)
	}
	return New(project, client), nil
}

func (b *Backend) secretName(name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", b.project, name)
}

func (b *Backend) Fetch(ctx context.Context, name string) (secret.FetchResult, error) {
	resp, err := b.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: b.secretName(name) + "/versions/latest",
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return secret.FetchResult{Outcome: secret.OutcomeNotFound}, nil
		}
		return secret.FetchResult{}, fmt.Errorf("gcpsm: access secret version %s: %w", name, err)
	}
	return secret.FetchResult{
		Outcome: secret.OutcomeOK,
		Value:   string(resp.GetPayload().GetData()),
		Version: versionFromName(resp.GetName()),
	}, nil
}

func (b *Backend) Rotate(ctx context.Context, name string) (secret.RotateResult, error) {
	version, err := b.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  b.secretName(name),
		Payload: &secretmanagerpb.SecretPayload{},
	})
	if err != nil {
		if status.Code(err) == codes.FailedPrecondition {
			return secret.RotateResult{Outcome: secret.OutcomeRotationInProgress}, nil
		}
		return secret.RotateResult{}, fmt.Errorf("gcpsm: add secret version %s: %w", name, err)
	}
	return secret.RotateResult{Outcome: secret.OutcomeOK, NewVersion: versionFromName(version.GetName())}, nil
}

func (b *Backend) Exists(ctx context.Context, name string) (secret.ExistsResult, error) {
	_, err := b.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: b.secretName(name)})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return secret.ExistsResult{Outcome: secret.OutcomeOK, Exists: false}, nil
		}
		return secret.ExistsResult{}, fmt.Errorf("gcpsm: get secret %s: %w", name, err)
	}
	return secret.ExistsResult{Outcome: secret.OutcomeOK, Exists: true}, nil
}

// InvalidateCache is a no-op: Secret Manager is always queried live,
// the orchestrator keeps no local cache of secret values.
func (b *Backend) InvalidateCache(_ context.Context, _ string) error { return nil }

// versionFromName extracts the trailing numeric version segment from a
// fully-qualified secret version resource name, falling back to 1 when
// it cannot be parsed (e.g. the literal alias "latest").
func versionFromName(name string) int {
	segment := name[strings.LastIndex(name, "/")+1:]
	n, err := strconv.Atoi(segment)
	if err != nil || n == 0 {
		return 1
	}
	return n
}
