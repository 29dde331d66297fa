// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package gcpsm

import (
	"context"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/conceptkit/orchestrator/pkg/providers/secret"
)

type fakeClient struct {
	secrets   map[string]bool
	versions  map[string][]byte
	rotateErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{secrets: map[string]bool{}, versions: map[string][]byte{}}
}

func (f *fakeClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	data, ok := f.versions[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	}, nil
}

func (f *fakeClient) AddSecretVersion(_ context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	if f.rotateErr != nil {
		return nil, f.rotateErr
	}
	name := req.GetParent() + "/versions/2"
	f.versions[name] = []byte("rotated")
	return &secretmanagerpb.SecretVersion{Name: name}, nil
}

func (f *fakeClient) GetSecret(_ context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error) {
	if !f.secrets[req.GetName()] {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.Secret{Name: req.GetName()}, nil
}

func TestFetchFound(t *testing.T) {
	client := newFakeClient()
	client.versions["projects/proj1/secrets/db-password/versions/latest"] = []byte("hunter2")
	b := New("proj1", client)

	res, err := b.Fetch(context.Background(), "db-password")
	require.NoError(t, err)
	assert.Equal(t, secret.OutcomeOK, res.Outcome)
	assert.Equal(t, "hunter2", res.Value)
}

func TestFetchNotFound(t *testing.T) {
	b := New("proj1", newFakeClient())
	res, err := b.Fetch(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, secret.OutcomeNotFound, res.Outcome)
}

func TestRotate(t *testing.T) {
	b := New("proj1", newFakeClient())
	res, err := b.Rotate(context.Background(), "db-password")
	require.NoError(t, err)
	assert.Equal(t, secret.OutcomeOK, res.Outcome)
	assert.Equal(t, 2, res.NewVersion)
}

func TestRotateInProgress(t *testing.T) {
	client := newFakeClient()
	client.rotateErr = status.Error(codes.FailedPrecondition, "rotation in progress")
	b := New("proj1", client)

	res, err := b.Rotate(context.Background(), "db-password")
	require.NoError(t, err)
	assert.Equal(t, secret.OutcomeRotationInProgress, res.Outcome)
}

func TestExists(t *testing.T) {
	client := newFakeClient()
	client.secrets["projects/proj1/secrets/db-password"] = true
	b := New("proj1", client)

	res, err := b.Exists(context.Background(), "db-password")
	require.NoError(t, err)
	assert.True(t, res.Exists)

	res, err = b.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, res.Exists)
}
