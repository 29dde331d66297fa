// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package iac defines the IaC provider contract of spec.md §4.3:
// generate/preview/apply/teardown, implemented by Pulumi,
// CloudFormation, and DockerComposeIaC backends.
package iac

import (
	"context"

	"github.com/conceptkit/orchestrator/pkg/providers/registry"
)

// Outcome discriminates a Result's populated payload.
type Outcome string

const (
	OutcomeOK                       Outcome = "ok"
	OutcomeInsufficientCapabilities Outcome = "insufficientCapabilities"
	OutcomeRollbackComplete         Outcome = "rollbackComplete"
)

// GenerateConfig carries the recognized options for generate.
type GenerateConfig struct {
	Plan       string
	RawOptions map[string]any
}

// GenerateResult is the tagged result of generate.
type GenerateResult struct {
	Outcome Outcome
	Stack   string
	Files   []string
}

// PreviewResult is the tagged result of preview.
type PreviewResult struct {
	Outcome         Outcome
	ToCreate        []string
	ToUpdate        []string
	ToDelete        []string
	EstimatedCost   float64
	HasCostEstimate bool
}

// ApplyConfig carries the recognized options for apply. Capabilities is
// meaningful only to backends (CloudFormation) that require the caller
// to acknowledge elevated-privilege resource types.
type ApplyConfig struct {
	Capabilities []string
}

// ApplyResult is the tagged result of apply.
type ApplyResult struct {
	Outcome              Outcome
	Created              []string
	Updated              []string
	RequiredCapabilities []string
	Reason               string
}

// TeardownResult is the tagged result of teardown.
type TeardownResult struct {
	Outcome   Outcome
	Destroyed []string
}

// Provider is the IaC contract implemented by each backend.
type Provider interface {
	ID() string

	Generate(ctx context.Context, cfg GenerateConfig) (GenerateResult, error)
	Preview(ctx context.Context, stack string) (PreviewResult, error)
	Apply(ctx context.Context, stack string, cfg ApplyConfig) (ApplyResult, error)
	Teardown(ctx context.Context, stack string) (TeardownResult, error)
}

// DefaultRegistry is the process-wide IaC provider registry.
var DefaultRegistry = registry.New[Provider]()

// Register adds p to DefaultRegistry.
func Register(p Provider) { DefaultRegistry.Register(p) }

// Get returns the provider registered under id.
func Get(id string) (Provider, bool) { return DefaultRegistry.Get(id) }

// Has reports whether id is registered.
func Has(id string) bool { return DefaultRegistry.Has(id) }

// IDs returns every registered backend ID, sorted.
func IDs() []string { return DefaultRegistry.IDs() }
