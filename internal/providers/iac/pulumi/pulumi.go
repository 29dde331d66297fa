// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package pulumi implements the IaC provider contract (spec.md §4.3)
// against Pulumi's automation API: each generate builds an inline
// program from the plan's graph nodes, and preview/apply/teardown
// drive that program's stack lifecycle without shelling out to the
// pulumi CLI.
package pulumi

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/iac"
)

// ID is the backend name under which this provider registers itself.
const ID = "pulumi"

// GenerateOptions is the recognized option set for generate: the node
// names to render as stack resources and the Pulumi project/backend to
// run the stack against.
type GenerateOptions struct {
	Project string
	Nodes   []string
}

// stackState is the provider's own bookkeeping: the inline program
// backing each stack, keyed by stack name.
type stackState struct {
	project string
	nodes   []string
}

// Backend is an IaC provider backed by the Pulumi automation API.
type Backend struct {
	workDir string
	ids     idgen.Source

	mu     sync.Mutex
	stacks map[string]*stackState
}

// New constructs a Backend rooting generated stack workspaces under
// workDir (a directory the automation API can write Pulumi.yaml/state
// into for the local backend).
func New(workDir string, ids idgen.Source) *Backend {
	return &Backend{workDir: workDir, ids: ids, stacks: make(map[string]*stackState)}
}

func (b *Backend) ID() string { return ID }

// program renders one pulumi.RunFunc per stack: it exports each graph
// node's name as a stack output so preview/apply have something
// concrete to report. It declares no cloud resources.
func program(nodes []string) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		for _, n := range nodes {
			ctx.Export(n, pulumi.String(n))
		}
		return nil
	}
}

func (b *Backend) Generate(ctx context.Context, cfg iac.GenerateConfig) (iac.GenerateResult, error) {
	project, _ := cfg.RawOptions["project"].(string)
	if project == "" {
		project = "concept-kit"
	}
	rawNodes, _ := cfg.RawOptions["nodes"].([]any)
	nodes := make([]string, 0, len(rawNodes))
	for _, n := range rawNodes {
		if s, ok := n.(string); ok {
			nodes = append(nodes, s)
		}
	}

	stackName := b.ids.New("stack")
	b.mu.Lock()
	b.stacks[stackName] = &stackState{project: project, nodes: nodes}
	b.mu.Unlock()

	if _, err := b.upsertStack(ctx, stackName); err != nil {
		return iac.GenerateResult{}, err
	}
	return iac.GenerateResult{Outcome: iac.OutcomeOK, Stack: stackName, Files: []string{fmt.Sprintf("%s/Pulumi.%s.yaml", b.workDir, stackName)}}, nil
}

func (b *Backend) upsertStack(ctx context.Context, stackName string) (auto.Stack, error) {
	b.mu.Lock()
	state, ok := b.stacks[stackName]
	b.mu.Unlock()
	if !ok {
		return auto.Stack{}, fmt.Errorf("pulumi: unknown stack %s", stackName)
	}

	return auto.UpsertStackInlineSource(ctx, stackName, state.project, program(state.nodes),
		auto.WorkDir(b.workDir))
}

func (b *Backend) Preview(ctx context.Context, stack string) (iac.PreviewResult, error) {
	s, err := b.upsertStack(ctx, stack)
	if err != nil {
		return iac.PreviewResult{}, err
	}

	result, err := s.Preview(ctx, optpreview.Diff())
	if err != nil {
		return iac.PreviewResult{}, fmt.Errorf("pulumi: preview %s: %w", stack, err)
	}

	var toCreate, toUpdate, toDelete []string
	for urn, change := range result.ChangeSummary {
		switch string(urn) {
		case "create":
			toCreate = append(toCreate, fmt.Sprintf("%d resources", change))
		case "update":
			toUpdate = append(toUpdate, fmt.Sprintf("%d resources", change))
		case "delete":
			toDelete = append(toDelete, fmt.Sprintf("%d resources", change))
		}
	}
	sort.Strings(toCreate)
	sort.Strings(toUpdate)
	sort.Strings(toDelete)
	return iac.PreviewResult{Outcome: iac.OutcomeOK, ToCreate: toCreate, ToUpdate: toUpdate, ToDelete: toDelete}, nil
}

// Apply runs pulumi up against the stack's inline program. Pulumi has
// no capability-acknowledgement gate of its own (that is CloudFormation's
// concern per spec.md §4.3), so this backend's ApplyConfig.Capabilities
// is accepted but unused.
func (b *Backend) Apply(ctx context.Context, stack string, _ iac.ApplyConfig) (iac.ApplyResult, error) {
	s, err := b.upsertStack(ctx, stack)
	if err != nil {
		return iac.ApplyResult{}, err
	}

	result, err := s.Up(ctx, optup.Diff())
	if err != nil {
		return iac.ApplyResult{Outcome: iac.OutcomeRollbackComplete, Reason: err.Error()}, nil
	}

	var created []string
	for name := range result.Outputs {
		created = append(created, name)
	}
	sort.Strings(created)
	return iac.ApplyResult{Outcome: iac.OutcomeOK, Created: created}, nil
}

func (b *Backend) Teardown(ctx context.Context, stack string) (iac.TeardownResult, error) {
	s, err := b.upsertStack(ctx, stack)
	if err != nil {
		return iac.TeardownResult{}, err
	}

	result, err := s.Destroy(ctx, optdestroy.Diff())
	if err != nil {
		return iac.TeardownResult{}, fmt.Errorf("pulumi: destroy %s: %w", stack, err)
	}

	b.mu.Lock()
	delete(b.stacks, stack)
	b.mu.Unlock()

	_ = result
	return iac.TeardownResult{Outcome: iac.OutcomeOK, Destroyed: []string{stack}}, nil
}

// Registration requires a workDir the automation API can write stack
// state into, so like the other SDK-backed providers this backend has
// no init() self-registration; the process composing providers
// constructs it explicitly via New.
