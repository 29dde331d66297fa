// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package flux

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/conceptkit/orchestrator/internal/providers/gitops/gitrepo"
	"github.com/conceptkit/orchestrator/pkg/providers/gitops"
)

func newKustomization(name, namespace string, conditions []any) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]any{}}
	obj.SetAPIVersion("kustomize.toolkit.fluxcd.io/v1")
	obj.SetKind("Kustomization")
	obj.SetName(name)
	obj.SetNamespace(namespace)
	_ = unstructured.SetNestedSlice(obj.Object, conditions, "status", "conditions")
	return obj
}

func readyCondition(status, message string) map[string]any {
	return map[string]any{"type": "Ready", "status": status, "message": message}
}

func newTestBackend(t *testing.T, objs ...runtime.Object) *Backend {
	t.Helper()
	scheme := runtime.NewScheme()
	listKinds := map[schema.GroupVersionResource]string{kustomizationGVR: "KustomizationList"}
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, listKinds, objs...)
	return New(t.TempDir(), gitrepo.Auth{}, client, "flux-system")
}

func TestReconciliationStatusReady(t *testing.T) {
	b := newTestBackend(t, newKustomization("orders", "flux-system", []any{readyCondition("True", "")}))

	res, err := b.ReconciliationStatus(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, gitops.OutcomeOK, res.Outcome)
}

func TestReconciliationStatusFailed(t *testing.T) {
	b := newTestBackend(t, newKustomization("orders", "flux-system", []any{readyCondition("False", "build failed")}))

	res, err := b.ReconciliationStatus(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, gitops.OutcomeFailed, res.Outcome)
	assert.Equal(t, "build failed", res.Reason)
}

func TestReconciliationStatusPending(t *testing.T) {
	b := newTestBackend(t, newKustomization("orders", "flux-system", nil))

	res, err := b.ReconciliationStatus(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, gitops.OutcomePending, res.Outcome)
}
