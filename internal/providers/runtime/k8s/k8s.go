// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package k8s implements the Runtime provider contract (spec.md §4.3)
// against a Kubernetes cluster: provision creates a Deployment and a
// ClusterIP Service, deploy patches the Deployment's container image,
// and setTrafficWeight scales that single Deployment to zero or back
// up.
package k8s

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/opconfig"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// ID is the backend name under which this provider registers itself.
const ID = "k8s"

// ProvisionOptions is the recognized option set for provision.
type ProvisionOptions struct {
	Namespace string `json:"namespace" validate:"required"`
	Image     string `json:"image" validate:"required"`
	Port      int32  `json:"port" validate:"required,min=1,max=65535"`
	Replicas  int32  `json:"replicas"`
}

// Backend is a Runtime provider backed by a Kubernetes cluster.
type Backend struct {
	client kubernetes.Interface
	store  *store.Store
	ids    idgen.Source
}

// New constructs a Backend over an already-configured clientset.
func New(s *store.Store, ids idgen.Source, client kubernetes.Interface) *Backend {
	return &Backend{store: s, ids: ids, client: client}
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
		return runtime.ProvisionResult{}, fmt.Errorf("k8s: %w", err)
	}
	replicas := opts.Replicas
	if replicas == 0 {
		replicas = 1
	}

	instance := b.ids.New("runtime")
	name := fmt.Sprintf("%s-%s", cfg.Concept, instance)
	labels := map[string]string{"app": name}

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: opts.Namespace, Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  name,
						Image: opts.Image,
						Ports: []corev1.ContainerPort{{ContainerPort: opts.Port}},
					}},
				},
			},
		},
	}
	if _, err := b.client.AppsV1().Deployments(opts.Namespace).Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
		return runtime.ProvisionResult{}, fmt.Errorf("k8s: create deployment %s: %w", name, err)
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: opts.Namespace},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports:    []corev1.ServicePort{{Port: opts.Port, TargetPort: intstr.FromInt32(opts.Port)}},
		},
	}
	if _, err := b.client.CoreV1().Services(opts.Namespace).Create(ctx, service, metav1.CreateOptions{}); err != nil {
		return runtime.ProvisionResult{}, fmt.Errorf("k8s: create service %s: %w", name, err)
	}

	endpoint := fmt.Sprintf("%s.%s.svc.cluster.local", name, opts.Namespace)
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

func (b *Backend) deploymentName(instance string) (string, string, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%s-%s", rec.Concept, instance), rec.Endpoint, nil
}

// Deploy patches the Deployment's container image, history-preserving
// the prior version in the RuntimeInstance record (spec.md §4.3).
func (b *Backend) Deploy(ctx context.Context, instance, image, version string) (runtime.DeployResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.DeployResult{}, err
	}
	name := fmt.Sprintf("%s-%s", rec.Concept, instance)

	dep, err := b.client.AppsV1().Deployments(namespaceOf(rec.Endpoint)).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return runtime.DeployResult{Outcome: runtime.OutcomeImageNotFound}, nil
		}
		return runtime.DeployResult{}, fmt.Errorf("k8s: get deployment %s: %w", name, err)
	}
	if len(dep.Spec.Template.Spec.Containers) == 0 {
		return runtime.DeployResult{Outcome: runtime.OutcomeRuntimeUnsupported}, nil
	}
	dep.Spec.Template.Spec.Containers[0].Image = image
	if _, err := b.client.AppsV1().Deployments(namespaceOf(rec.Endpoint)).Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return runtime.DeployResult{Outcome: runtime.OutcomeBuildFailed, Errors: []string{err.Error()}}, fmt.Errorf("k8s: update deployment %s: %w", name, err)
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

// SetTrafficWeight sets the Deployment's replicas to 0 when weight is
// 0 and otherwise keeps its current replica count (at least 1). Replica
// counts are not scaled in proportion to weight, so any non-zero weight
// sends all traffic to this Deployment.
func (b *Backend) SetTrafficWeight(ctx context.Context, instance string, weight int) (runtime.SetTrafficWeightResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.SetTrafficWeightResult{}, err
	}
	name := fmt.Sprintf("%s-%s", rec.Concept, instance)
	ns := namespaceOf(rec.Endpoint)

	dep, err := b.client.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return runtime.SetTrafficWeightResult{}, fmt.Errorf("k8s: get deployment %s: %w", name, err)
	}
	replicas := int32(1)
	if dep.Spec.Replicas != nil && *dep.Spec.Replicas > 0 {
		replicas = *dep.Spec.Replicas
	}
	if weight == 0 {
		replicas = 0
	}
	dep.Spec.Replicas = &replicas
	if _, err := b.client.AppsV1().Deployments(ns).Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return runtime.SetTrafficWeightResult{}, fmt.Errorf("k8s: scale deployment %s: %w", name, err)
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
	ns := namespaceOf(rec.Endpoint)

	if err := b.client.AppsV1().Deployments(ns).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return runtime.DestroyResult{Outcome: runtime.OutcomeDestroyFailed, Reason: err.Error()}, fmt.Errorf("k8s: delete deployment %s: %w", name, err)
	}
	if err := b.client.CoreV1().Services(ns).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return runtime.DestroyResult{Outcome: runtime.OutcomeDestroyFailed, Reason: err.Error()}, fmt.Errorf("k8s: delete service %s: %w", name, err)
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
	name := fmt.Sprintf("%s-%s", rec.Concept, instance)
	dep, err := b.client.AppsV1().Deployments(namespaceOf(rec.Endpoint)).Get(ctx, name, metav1.GetOptions{})
	if err != nil || dep.Status.ReadyReplicas == 0 {
		return runtime.HealthCheckResult{Outcome: runtime.OutcomeUnreachable, LatencyMs: time.Since(start).Milliseconds()}, nil
	}
	return runtime.HealthCheckResult{Outcome: runtime.OutcomeOK, LatencyMs: time.Since(start).Milliseconds()}, nil
}

func namespaceOf(endpoint string) string {
	// endpoint is "<name>.<namespace>.svc.cluster.local"; namespace is
	// the second dot-separated segment.
	start := -1
	dots := 0
	for i, r := range endpoint {
		if r == '.' {
			dots++
			if dots == 1 {
				start = i + 1
			} else if dots == 2 {
				return endpoint[start:i]
			}
		}
	}
	return "default"
}
