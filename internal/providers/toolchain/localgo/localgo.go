// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package localgo implements the Toolchain contract (pkg/providers/toolchain)
// for locally-installed Go compilers, the reference handler for concepts
// whose generated language is Go and whose toolchain lives on the same
// host as the orchestrator.
package localgo

import (
	"context"
	"os/exec"
	"strings"

	"github.com/conceptkit/orchestrator/pkg/executil"
	"github.com/conceptkit/orchestrator/pkg/providers/toolchain"
)

// ID is the language this handler registers under.
const ID = "go"

// Handler shells out to the `go` binary on PATH to resolve version and
// capability information, instead of linking go/build at compile time.
type Handler struct {
	runner executil.Runner
}

// New constructs a Handler using the default command runner.
func New() *Handler {
	return &Handler{runner: executil.NewRunner()}
}

func (h *Handler) ID() string { return ID }

// Resolve locates the `go` binary and reports its version. versionConstraint
// is compared as a substring match against `go version` output — the
// reference handler does no semver range parsing, matching the teacher's
// own compiler-discovery calls elsewhere in the provider tree.
func (h *Handler) Resolve(ctx context.Context, platform, versionConstraint string) (toolchain.ResolveResult, error) {
	path, err := exec.LookPath("go")
	if err != nil {
		return toolchain.ResolveResult{Outcome: toolchain.OutcomeNotInstalled}, nil
	}

	res, err := h.runner.Run(ctx, executil.NewCommand("go", "version"))
	if err != nil {
		return toolchain.ResolveResult{Outcome: toolchain.OutcomeNotInstalled}, nil
	}

	version := strings.TrimSpace(string(res.Stdout))
	if versionConstraint != "" && !strings.Contains(version, versionConstraint) {
		return toolchain.ResolveResult{Outcome: toolchain.OutcomeTargetMissing}, nil
	}
	if platform != "" && !supportedPlatform(platform) {
		return toolchain.ResolveResult{Outcome: toolchain.OutcomeTargetMissing}, nil
	}

	return toolchain.ResolveResult{
		Outcome:      toolchain.OutcomeOK,
		Toolchain:    ID,
		CompilerPath: path,
		Version:      version,
		Capabilities: []string{"build", "test", "vet"},
	}, nil
}

func (h *Handler) Register(_ context.Context) (toolchain.RegisterResult, error) {
	return toolchain.RegisterResult{
		Outcome:      toolchain.OutcomeOK,
		Name:         ID,
		Language:     "go",
		Capabilities: []string{"build", "test", "vet"},
	}, nil
}

func supportedPlatform(platform string) bool {
	switch platform {
	case "linux-amd64", "linux-arm64", "darwin-amd64", "darwin-arm64", "windows-amd64", "":
		return true
	default:
		return false
	}
}
