// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package toolchain defines the Toolchain collaborator contract of
// spec.md §6: a per-language capability-discovery service, invoked
// through a uniform resolve/register contract. The language-specific
// handlers themselves are out of scope (spec.md §1) — this package only
// fixes the boundary the Build engine (internal/build) dispatches
// through.
package toolchain

import (
	"context"

	"github.com/conceptkit/orchestrator/pkg/providers/registry"
)

// Outcome discriminates a Result's populated payload.
type Outcome string

const (
	OutcomeOK                    Outcome = "ok"
	OutcomeNotInstalled          Outcome = "notInstalled"
	OutcomeTargetMissing         Outcome = "targetMissing"
	OutcomeXcodeRequired         Outcome = "xcodeRequired"
	OutcomeEVMVersionUnsupported Outcome = "evmVersionUnsupported"
)

// ResolveResult is the tagged result of Resolve.
type ResolveResult struct {
	Outcome      Outcome
	Toolchain    string
	CompilerPath string
	Version      string
	Capabilities []string
}

// RegisterResult is the tagged result of Register.
type RegisterResult struct {
	Outcome      Outcome
	Name         string
	Language     string
	Capabilities []string
}

// Handler is the per-language Toolchain contract. Each language
// (go, rust, typescript, solidity, swift, …) registers one Handler
// under its language ID.
type Handler interface {
	ID() string

	// Resolve locates a compiler/toolchain for platform satisfying
	// versionConstraint (e.g. "go1.21" for Go, which the local Go handler
	// matches as a substring of `go version` output).
	Resolve(ctx context.Context, platform, versionConstraint string) (ResolveResult, error)

	// Register reports the handler's own identity and capabilities,
	// used at startup to populate the registry's self-description.
	Register(ctx context.Context) (RegisterResult, error)
}

// DefaultRegistry is the process-wide toolchain handler registry,
// populated by each language handler's init() or explicit Register call.
var DefaultRegistry = registry.New[Handler]()

// Register adds h to DefaultRegistry.
func Register(h Handler) { DefaultRegistry.Register(h) }

// Get returns the handler registered under language.
func Get(language string) (Handler, bool) { return DefaultRegistry.Get(language) }

// Has reports whether language is registered.
func Has(language string) bool { return DefaultRegistry.Has(language) }

// IDs returns every registered language, sorted.
func IDs() []string { return DefaultRegistry.IDs() }
