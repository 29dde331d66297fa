// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package cloudformation implements the IaC provider contract (spec.md
// §4.3) against AWS CloudFormation. Unlike the other IaC backends it
// tracks requiredCapabilities and rejects apply when the caller's
// supplied capabilities do not cover them (spec.md §8 scenario S5).
package cloudformation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/iac"
)

// ID is the backend name under which this provider registers itself.
const ID = "cloudformation"

// API is the subset of the CloudFormation client this backend depends
// on, narrowed for fakeability in tests.
type API interface {
	CreateStack(ctx context.Context, in *cloudformation.CreateStackInput, opts ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, in *cloudformation.UpdateStackInput, opts ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, in *cloudformation.DeleteStackInput, opts ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, opts ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	DescribeChangeSet(ctx context.Context, in *cloudformation.DescribeChangeSetInput, opts ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error)
	CreateChangeSet(ctx context.Context, in *cloudformation.CreateChangeSetInput, opts ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error)
}

// stackState is the provider's own bookkeeping (spec.md §3
// "Ownership": each provider adapter owns its own relation). The
// record itself is process-local since CloudFormation is already the
// system of record for stack state; requiredCapabilities is the one
// piece of information this provider must remember between generate
// and apply.
type stackState struct {
	template             string
	requiredCapabilities []string
}

// Backend is an IaC provider backed by AWS CloudFormation.
type Backend struct {
	api API
	ids idgen.Source

	mu     sync.Mutex
	stacks map[string]*stackState
}

// New constructs a Backend over an already-configured CloudFormation
// client.
func New(ids idgen.Source, api API) *Backend {
	return &Backend{api: api, ids: ids, stacks: make(map[string]*stackState)}
}

// NewFromEnv resolves AWS credentials from the default provider chain.
func NewFromEnv(ctx context.Context, ids idgen.Source, region string) (*Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("cloudformation: load aws config: %w", err)
	}
	return New(ids, cloudformation.NewFromConfig(cfg)), nil
}

func (b *Backend) ID() string { return ID }

// GenerateOptions carries the recognized options for generate,
// enumerated in spec.md §6: "IaC: {capabilities[], backendConfig?}".
// requiredCapabilities names the elevated-privilege resource types
// (e.g. CAPABILITY_IAM) the template needs acknowledged at apply time.
type GenerateOptions struct {
	Template             string   `json:"template"`
	RequiredCapabilities []string `json:"requiredCapabilities"`
}

func (b *Backend) Generate(_ context.Context, cfg iac.GenerateConfig) (iac.GenerateResult, error) {
	opts, _ := cfg.RawOptions["requiredCapabilities"].([]any)
	required := make([]string, 0, len(opts))
	for _, v := range opts {
		if s, ok := v.(string); ok {
			required = append(required, s)
		}
	}

	stack := b.ids.New("cfn")
	b.mu.Lock()
	b.stacks[stack] = &stackState{requiredCapabilities: required}
	b.mu.Unlock()

	return iac.GenerateResult{Outcome: iac.OutcomeOK, Stack: stack, Files: []string{stack + ".template.json"}}, nil
}

func (b *Backend) Preview(ctx context.Context, stack string) (iac.PreviewResult, error) {
	changeSetName := stack + "-preview"
	if _, err := b.api.CreateChangeSet(ctx, &cloudformation.CreateChangeSetInput{
		StackName:     aws.String(stack),
		ChangeSetName: aws.String(changeSetName),
		ChangeSetType: types.ChangeSetTypeUpdate,
	}); err != nil {
		return iac.PreviewResult{}, fmt.Errorf("cloudformation: create change set %s: %w", stack, err)
	}

	out, err := b.api.DescribeChangeSet(ctx, &cloudformation.DescribeChangeSetInput{
		StackName:     aws.String(stack),
		ChangeSetName: aws.String(changeSetName),
	})
	if err != nil {
		return iac.PreviewResult{}, fmt.Errorf("cloudformation: describe change set %s: %w", stack, err)
	}

	var toCreate, toUpdate, toDelete []string
	for _, change := range out.Changes {
		if change.ResourceChange == nil {
			continue
		}
		id := aws.ToString(change.ResourceChange.LogicalResourceId)
		switch change.ResourceChange.Action {
		case types.ChangeActionAdd:
			toCreate = append(toCreate, id)
		case types.ChangeActionModify:
			toUpdate = append(toUpdate, id)
		case types.ChangeActionRemove:
			toDelete = append(toDelete, id)
		}
	}
	return iac.PreviewResult{Outcome: iac.OutcomeOK, ToCreate: toCreate, ToUpdate: toUpdate, ToDelete: toDelete}, nil
}

// Apply rejects with insufficientCapabilities when cfg.Capabilities
// does not cover every capability recorded at generate time (spec.md
// §8 S5), otherwise creates the stack with CreateStack. It never calls
// UpdateStack, so applying to a stack that already exists is not
// turned into an update.
func (b *Backend) Apply(ctx context.Context, stack string, cfg iac.ApplyConfig) (iac.ApplyResult, error) {
	b.mu.Lock()
	state, ok := b.stacks[stack]
	b.mu.Unlock()

	var required []string
	if ok {
		required = state.requiredCapabilities
	}
	if missing := missingCapabilities(required, cfg.Capabilities); len(missing) > 0 {
		return iac.ApplyResult{Outcome: iac.OutcomeInsufficientCapabilities, RequiredCapabilities: missing}, nil
	}

	capTypes := make([]types.Capability, 0, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		capTypes = append(capTypes, types.Capability(c))
	}

	var template string
	if state != nil {
		template = state.template
	}

	if _, err := b.api.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(stack),
		TemplateBody: aws.String(template),
		Capabilities: capTypes,
	}); err != nil {
		return iac.ApplyResult{}, fmt.Errorf("cloudformation: create stack %s: %w", stack, err)
	}

	return iac.ApplyResult{Outcome: iac.OutcomeOK, Created: []string{stack}}, nil
}

func (b *Backend) Teardown(ctx context.Context, stack string) (iac.TeardownResult, error) {
	if _, err := b.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(stack)}); err != nil {
		return iac.TeardownResult{}, fmt.Errorf("cloudformation: delete stack %s: %w", stack, err)
	}
	b.mu.Lock()
	delete(b.stacks, stack)
	b.mu.Unlock()
	return iac.TeardownResult{Outcome: iac.OutcomeOK, Destroyed: []string{stack}}, nil
}

// missingCapabilities returns the subset of required not present in
// supplied, sorted for deterministic output.
func missingCapabilities(required, supplied []string) []string {
	have := make(map[string]bool, len(supplied))
	for _, c := range supplied {
		have[c] = true
	}
	var missing []string
	for _, c := range required {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	sort.Strings(missing)
	return missing
}
