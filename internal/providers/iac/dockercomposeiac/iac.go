// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package dockercomposeiac

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/conceptkit/orchestrator/pkg/executil"
	"github.com/conceptkit/orchestrator/pkg/providers/iac"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

// ID is the backend name under which this provider registers itself.
const ID = "dockercompose"

// Backend implements pkg/providers/iac.Provider against a single
// docker-compose.yml file, shelling out to the compose CLI for apply
// and teardown. One Backend instance owns one compose file path.
type Backend struct {
	path   string
	runner executil.Runner
	loader *Loader
}

// New constructs a Backend rooted at composePath.
func New(composePath string, runner executil.Runner) *Backend {
	return &Backend{path: composePath, runner: runner, loader: NewLoader()}
}

// NewDefault constructs a Backend using the default os/exec runner.
func NewDefault(composePath string) *Backend {
	return New(composePath, executil.NewRunner())
}

func (b *Backend) ID() string { return ID }

// Generate renders a compose document from the plan's graph nodes, one
// service per node, and writes it to the backend's compose path.
func (b *Backend) Generate(_ context.Context, cfg iac.GenerateConfig) (iac.GenerateResult, error) {
	nodes, _ := cfg.RawOptions["nodes"].([]string)
	services := make(map[string]any, len(nodes))
	for _, n := range nodes {
		services[n] = map[string]any{"image": n}
	}

	cf := NewComposeFile(map[string]any{
		"version":  "3.9",
		"services": services,
	})
	out, err := cf.ToYAML()
	if err != nil {
		return iac.GenerateResult{}, fmt.Errorf("rendering compose stack for plan %s: %w", cfg.Plan, err)
	}
	if err := writeFile(b.path, out); err != nil {
		return iac.GenerateResult{}, fmt.Errorf("writing compose stack for plan %s: %w", cfg.Plan, err)
	}

	return iac.GenerateResult{
		Outcome: iac.OutcomeOK,
		Stack:   cfg.Plan,
		Files:   []string{b.path},
	}, nil
}

// Preview reports every service declared in the compose file on disk
// as a creation, sorted by name. It keeps no last-applied record and
// does not check which services are already running, so nothing is
// ever reported as a deletion or update; it carries no cost estimate.
func (b *Backend) Preview(_ context.Context, _ string) (iac.PreviewResult, error) {
	cf, err := b.loader.Load(b.path)
	if err != nil {
		return iac.PreviewResult{}, fmt.Errorf("loading compose file: %w", err)
	}
	services := cf.GetServices()
	sort.Strings(services)
	return iac.PreviewResult{
		Outcome:  iac.OutcomeOK,
		ToCreate: services,
	}, nil
}

// Apply runs `docker compose up -d` against the backend's compose
// file. Capabilities are not meaningful for this backend; any non-empty
// ApplyConfig.Capabilities is reported back as required but unused.
func (b *Backend) Apply(ctx context.Context, stack string, cfg iac.ApplyConfig) (iac.ApplyResult, error) {
	cf, err := b.loader.Load(b.path)
	if err != nil {
		return iac.ApplyResult{}, fmt.Errorf("loading compose file: %w", err)
	}

	cmd := executil.NewCommand("docker", "compose", "-f", b.path, "up", "-d")
	if _, err := b.runner.Run(ctx, cmd); err != nil {
		return iac.ApplyResult{}, fmt.Errorf("applying stack %s: %w", stack, err)
	}

	return iac.ApplyResult{
		Outcome:              iac.OutcomeOK,
		Created:              cf.GetServices(),
		RequiredCapabilities: cfg.Capabilities,
	}, nil
}

// Teardown runs `docker compose down` against the backend's compose
// file.
func (b *Backend) Teardown(ctx context.Context, stack string) (iac.TeardownResult, error) {
	cf, err := b.loader.Load(b.path)
	if err != nil {
		return iac.TeardownResult{}, fmt.Errorf("loading compose file: %w", err)
	}
	destroyed := cf.GetServices()

	cmd := executil.NewCommand("docker", "compose", "-f", b.path, "down")
	if _, err := b.runner.Run(ctx, cmd); err != nil {
		return iac.TeardownResult{}, fmt.Errorf("tearing down stack %s: %w", stack, err)
	}

	return iac.TeardownResult{Outcome: iac.OutcomeOK, Destroyed: destroyed}, nil
}
