// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package secret defines the Secret provider contract of spec.md §4.3:
// fetch/rotate/exists/invalidateCache, implemented by Vault, AWS
// Secrets Manager, GCP Secret Manager, and dotenv backends. Vault
// additionally exposes renewLease.
package secret

import (
	"context"

	"github.com/conceptkit/orchestrator/pkg/providers/registry"
)

// Outcome discriminates a Result's populated payload.
type Outcome string

const (
	OutcomeOK                 Outcome = "ok"
	OutcomeNotFound           Outcome = "notFound"
	OutcomeRotationInProgress Outcome = "rotationInProgress"
	OutcomeLeaseExpired       Outcome = "leaseExpired"
)

// FetchResult is the tagged result of fetch.
type FetchResult struct {
	Outcome Outcome
	Value   string
	Version int
	LeaseID string
}

// RotateResult is the tagged result of rotate.
type RotateResult struct {
	Outcome    Outcome
	NewVersion int
}

// ExistsResult is the tagged result of exists.
type ExistsResult struct {
	Outcome Outcome
	Exists  bool
}

// RenewLeaseResult is the tagged result of renewLease (Vault only).
type RenewLeaseResult struct {
	Outcome     Outcome
	DurationSec int
}

// Provider is the Secret contract implemented by each backend. Exactly
// one active lease exists per (path, provider); version strictly
// increases across rotations (spec.md §3).
type Provider interface {
	ID() string

	Fetch(ctx context.Context, name string) (FetchResult, error)
	Rotate(ctx context.Context, name string) (RotateResult, error)
	Exists(ctx context.Context, name string) (ExistsResult, error)
	InvalidateCache(ctx context.Context, name string) error
}

// LeaseRenewer is implemented by backends exposing renewLease (spec.md
// §4.3 names Vault explicitly).
type LeaseRenewer interface {
	RenewLease(ctx context.Context, leaseID string) (RenewLeaseResult, error)
}

// DefaultRegistry is the process-wide secret provider registry.
var DefaultRegistry = registry.New[Provider]()

// Register adds p to DefaultRegistry.
func Register(p Provider) { DefaultRegistry.Register(p) }

// Get returns the provider registered under id.
func Get(id string) (Provider, bool) { return DefaultRegistry.Get(id) }

// Has reports whether id is registered.
func Has(id string) bool { return DefaultRegistry.Has(id) }

// IDs returns every registered backend ID, sorted.
func IDs() []string { return DefaultRegistry.IDs() }
