// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package runtime defines the Runtime provider contract of spec.md
// §4.3: provision/deploy/setTrafficWeight/rollback/destroy/healthCheck,
// implemented by Lambda, Cloud Run, Cloud Functions, Kubernetes, Vercel,
// Cloudflare, Local and DockerCompose backends.
//
// Every operation returns a tagged result (spec.md §9 "heterogeneous
// return shapes" redesign flag): a struct with an Outcome discriminator
// naming which payload field is meaningful, instead of a stringly-typed
// variant tag.
package runtime

import (
	"context"

	"github.com/conceptkit/orchestrator/pkg/providers/registry"
)

// Outcome discriminates a Result's populated payload.
type Outcome string

const (
	OutcomeOK                 Outcome = "ok"
	OutcomeAlreadyProvisioned Outcome = "alreadyProvisioned"
	OutcomeBuildFailed        Outcome = "buildFailed"
	OutcomeImageNotFound      Outcome = "imageNotFound"
	OutcomeImagePullBackOff   Outcome = "imagePullBackOff"
	OutcomeOOMKilled          Outcome = "oomKilled"
	OutcomeRuntimeUnsupported Outcome = "runtimeUnsupported"
	OutcomeNoHistory          Outcome = "noHistory"
	OutcomeRollbackFailed     Outcome = "rollbackFailed"
	OutcomeDestroyFailed      Outcome = "destroyFailed"
	OutcomeUnreachable        Outcome = "unreachable"
)

// ProvisionConfig carries the recognized options for provision, per
// the "one config struct per operation" redesign (spec.md §9). Backend-
// specific fields (memory, timeout, region, …) are parsed by
// pkg/opconfig from RawOptions against each backend's own struct.
type ProvisionConfig struct {
	Concept     string
	RuntimeType string
	RawOptions  map[string]any
}

// ProvisionResult is the tagged result of provision.
type ProvisionResult struct {
	Outcome  Outcome
	Instance string
	Endpoint string
}

// DeployResult is the tagged result of deploy.
type DeployResult struct {
	Outcome  Outcome
	Endpoint string
	Errors   []string
}

// SetTrafficWeightResult is the tagged result of setTrafficWeight.
type SetTrafficWeightResult struct {
	Outcome   Outcome
	Instance  string
	NewWeight int
}

// RollbackResult is the tagged result of rollback.
type RollbackResult struct {
	Outcome         Outcome
	PreviousVersion string
	Reason          string
}

// DestroyResult is the tagged result of destroy.
type DestroyResult struct {
	Outcome Outcome
	Reason  string
}

// HealthCheckResult is the tagged result of healthCheck.
type HealthCheckResult struct {
	Outcome   Outcome
	LatencyMs int64
}

// Provider is the Runtime contract implemented by each backend. Every
// provider maintains its own store relation (spec.md §3 "Ownership")
// and must be idempotent on provision, keyed by (concept, runtimeType).
type Provider interface {
	ID() string

	Provision(ctx context.Context, cfg ProvisionConfig) (ProvisionResult, error)
	Deploy(ctx context.Context, instance, artifactHash, version string) (DeployResult, error)
	SetTrafficWeight(ctx context.Context, instance string, weight int) (SetTrafficWeightResult, error)
	Rollback(ctx context.Context, instance string) (RollbackResult, error)
	Destroy(ctx context.Context, instance string) (DestroyResult, error)
	HealthCheck(ctx context.Context, instance string) (HealthCheckResult, error)
}

// DefaultRegistry is the process-wide runtime provider registry,
// populated at startup by internal/cli/commands/bootstrap.go.
var DefaultRegistry = registry.New[Provider]()

// Register adds p to DefaultRegistry.
func Register(p Provider) { DefaultRegistry.Register(p) }

// Get returns the provider registered under id.
func Get(id string) (Provider, bool) { return DefaultRegistry.Get(id) }

// Has reports whether id is registered.
func Has(id string) bool { return DefaultRegistry.Has(id) }

// IDs returns every registered backend ID, sorted.
func IDs() []string { return DefaultRegistry.IDs() }
