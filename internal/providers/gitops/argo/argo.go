// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package argo implements the GitOps provider contract (spec.md
// §4.3) for Argo CD: emit writes an Application manifest into a git
// repo for Argo to pick up, and reconciliationStatus reads the
// Application custom resource's sync/health status back from the
// cluster via the dynamic client.
package argo

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"sigs.k8s.io/yaml"

	"github.com/conceptkit/orchestrator/internal/providers/gitops/gitrepo"
	"github.com/conceptkit/orchestrator/pkg/providers/gitops"
)

// ID is the backend name under which this provider registers itself.
const ID = "argo"

var applicationGVR = schema.GroupVersionResource{
	Group:    "argoproj.io",
	Version:  "v1alpha1",
	Resource: "applications",
}

// application is the minimal shape of an Argo CD Application manifest
// this backend writes; Argo CD itself owns the full CRD schema.
type application struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Metadata   struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
	} `json:"metadata"`
	Spec struct {
		Destination struct {
			Namespace string `json:"namespace"`
		} `json:"destination"`
		Source struct {
			Path string `json:"path"`
		} `json:"source"`
	} `json:"spec"`
}

// Backend is a GitOps provider backed by Argo CD.
type Backend struct {
	auth      gitrepo.Auth
	cloneRoot string
	dyn       dynamic.Interface
	namespace string
}

// New constructs a Backend. cloneRoot is the local directory under
// which target repos are checked out; namespace is the Argo CD
// namespace Application CRs are read from.
func New(cloneRoot string, auth gitrepo.Auth, dyn dynamic.Interface, namespace string) *Backend {
	return &Backend{cloneRoot: cloneRoot, auth: auth, dyn: dyn, namespace: namespace}
}

func (b *Backend) ID() string { return ID }

// Emit writes an Application manifest pointing at path in repo, commits,
// and pushes — the mechanism Argo CD's own repo-server polls.
func (b *Backend) Emit(_ context.Context, plan, repo, path string) (gitops.EmitResult, error) {
	localDir := fmt.Sprintf("%s/%s", b.cloneRoot, plan)
	r, err := gitrepo.Checkout(repo, localDir, b.auth)
	if err != nil {
		return gitops.EmitResult{}, err
	}

	var app application
	app.APIVersion = "argoproj.io/v1alpha1"
	app.Kind = "Application"
	app.Metadata.Name = plan
	app.Metadata.Namespace = b.namespace
	app.Spec.Destination.Namespace = b.namespace
	app.Spec.Source.Path = path

	content, err := yaml.Marshal(app)
	if err != nil {
		return gitops.EmitResult{}, fmt.Errorf("argo: marshal application %s: %w", plan, err)
	}

	written, err := gitrepo.WriteAndPush(r, localDir, map[string][]byte{
		fmt.Sprintf("%s/application.yaml", path): content,
	}, fmt.Sprintf("emit Application for %s", plan), b.auth)
	if err != nil {
		return gitops.EmitResult{}, err
	}
	return gitops.EmitResult{Outcome: gitops.OutcomeOK, Files: written}, nil
}

// ReconciliationStatus reads the named Application's sync/health
// status. Argo CD sets status.sync.status and status.health.status;
// "Synced"+"Healthy" maps to ok, a "Degraded" health status maps to
// failed, and every other combination (including "OutOfSync" while
// "Progressing") maps to pending.
func (b *Backend) ReconciliationStatus(ctx context.Context, manifest string) (gitops.ReconciliationStatusResult, error) {
	obj, err := b.dyn.Resource(applicationGVR).Namespace(b.namespace).Get(ctx, manifest, metav1.GetOptions{})
	if err != nil {
		return gitops.ReconciliationStatusResult{}, fmt.Errorf("argo: get application %s: %w", manifest, err)
	}

	syncStatus, _, _ := unstructured.NestedString(obj.Object, "status", "sync", "status")
	healthStatus, _, _ := unstructured.NestedString(obj.Object, "status", "health", "status")

	switch {
	case syncStatus == "Synced" && healthStatus == "Healthy":
		return gitops.ReconciliationStatusResult{Outcome: gitops.OutcomeOK, Status: healthStatus, ReconciledAt: time.Now().UTC()}, nil
	case healthStatus == "Degraded":
		return gitops.ReconciliationStatusResult{Outcome: gitops.OutcomeFailed, Reason: "application degraded"}, nil
	default:
		return gitops.ReconciliationStatusResult{Outcome: gitops.OutcomePending, WaitingOn: []string{manifest}}, nil
	}
}

// Registration requires a live Kubernetes client and a git checkout
// root, so this backend has no init() self-registration; the process
// composing providers constructs it explicitly via New.
