// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package gitops defines the GitOps provider contract of spec.md
// §4.3: emit/reconciliationStatus, implemented by Argo and Flux
// backends.
package gitops

import (
	"context"
	"time"

	"github.com/conceptkit/orchestrator/pkg/providers/registry"
)

// Outcome discriminates a Result's populated payload.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomePending Outcome = "pending"
	OutcomeFailed  Outcome = "failed"
)

// EmitResult is the tagged result of emit: the manifest files written
// for the given plan.
type EmitResult struct {
	Outcome Outcome
	Files   []string
}

// ReconciliationStatusResult is the tagged result of
// reconciliationStatus.
type ReconciliationStatusResult struct {
	Outcome      Outcome
	WaitingOn    []string
	Status       string
	ReconciledAt time.Time
	Reason       string
}

// Provider is the GitOps contract implemented by each backend.
type Provider interface {
	ID() string

	Emit(ctx context.Context, plan, repo, path string) (EmitResult, error)
	ReconciliationStatus(ctx context.Context, manifest string) (ReconciliationStatusResult, error)
}

// DefaultRegistry is the process-wide GitOps provider registry.
var DefaultRegistry = registry.New[Provider]()

// Register adds p to DefaultRegistry.
func Register(p Provider) { DefaultRegistry.Register(p) }

// Get returns the provider registered under id.
func Get(id string) (Provider, bool) { return DefaultRegistry.Get(id) }

// Has reports whether id is registered.
func Has(id string) bool { return DefaultRegistry.Has(id) }

// IDs returns every registered backend ID, sorted.
func IDs() []string { return DefaultRegistry.IDs() }
