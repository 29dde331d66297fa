// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package flux implements the GitOps provider contract (spec.md
// §4.3) for Flux: emit writes a Kustomization manifest into a git
// repo for Flux's source-controller to pick up, and
// reconciliationStatus reads the Kustomization's Ready condition back
// from the cluster via the dynamic client.
package flux

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
const ID = "flux"

var kustomizationGVR = schema.GroupVersionResource{
	Group:    "kustomize.toolkit.fluxcd.io",
	Version:  "v1",
	Resource: "kustomizations",
}

// kustomization is the minimal shape of a Flux Kustomization manifest
// this backend writes.
type kustomization struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Metadata   struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
	} `json:"metadata"`
	Spec struct {
		Path     string `json:"path"`
		Interval string `json:"interval"`
		Prune    bool   `json:"prune"`
	} `json:"spec"`
}

// Backend is a GitOps provider backed by Flux.
type Backend struct {
	auth      gitrepo.Auth
	cloneRoot string
	dyn       dynamic.Interface
	namespace string
}

// New constructs a Backend. cloneRoot is the local directory under
// which target repos are checked out; namespace is the namespace
// Kustomization CRs are read from.
func New(cloneRoot string, auth gitrepo.Auth, dyn dynamic.Interface, namespace string) *Backend {
	return &Backend{cloneRoot: cloneRoot, auth: auth, dyn: dyn, namespace: namespace}
}

func (b *Backend) ID() string { return ID }

func (b *Backend) Emit(_ context.Context, plan, repo, path string) (gitops.EmitResult, error) {
	localDir := fmt.Sprintf("%s/%s", b.cloneRoot, plan)
	r, err := gitrepo.Checkout(repo, localDir, b.auth)
	if err != nil {
		return gitops.EmitResult{}, err
	}

	var ks kustomization
	ks.APIVersion = "kustomize.toolkit.fluxcd.io/v1"
	ks.Kind = "Kustomization"
	ks.Metadata.Name = plan
	ks.Metadata.Namespace = b.namespace
	ks.Spec.Path = path
	ks.Spec.Interval = "5m"
	ks.Spec.Prune = true

	content, err := yaml.Marshal(ks)
	if err != nil {
		return gitops.EmitResult{}, fmt.Errorf("flux: marshal kustomization %s: %w", plan, err)
	}

	written, err := gitrepo.WriteAndPush(r, localDir, map[string][]byte{
		fmt.Sprintf("%s/kustomization.yaml", path): content,
	}, fmt.Sprintf("emit Kustomization for %s", plan), b.auth)
	if err != nil {
		return gitops.EmitResult{}, err
	}
	return gitops.EmitResult{Outcome: gitops.OutcomeOK, Files: written}, nil
}

// ReconciliationStatus reads the named Kustomization's Ready
// condition. "True" maps to ok, "Unknown" (still reconciling) maps to
// pending, "False" maps to failed.
func (b *Backend) ReconciliationStatus(ctx context.Context, manifest string) (gitops.ReconciliationStatusResult, error) {
	obj, err := b.dyn.Resource(kustomizationGVR).Namespace(b.namespace).Get(ctx, manifest, metav1.GetOptions{})
	if err != nil {
		return gitops.ReconciliationStatusResult{}, fmt.Errorf("flux: get kustomization %s: %w", manifest, err)
	}

	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	for _, c := range conditions {
		cond, ok := c.(map[string]any)
		if !ok || cond["type"] != "Ready" {
			continue
		}
		switch cond["status"] {
		case "True":
			return gitops.ReconciliationStatusResult{Outcome: gitops.OutcomeOK, Status: "Ready", ReconciledAt: time.Now().UTC()}, nil
		case "False":
			reason, _ := cond["message"].(string)
			return gitops.ReconciliationStatusResult{Outcome: gitops.OutcomeFailed, Reason: reason}, nil
		}
	}
	return gitops.ReconciliationStatusResult{Outcome: gitops.OutcomePending, WaitingOn: []string{manifest}}, nil
}

// Registration requires a live Kubernetes client and a git checkout
// root, so this backend has no init() self-registration; the process
// composing providers constructs it explicitly via New.
