// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/iac"
)

// NewIaCCommand returns the `orchestratord iac` command tree,
// dispatching to the registered IaC provider backends (spec.md §4.3:
// generate/preview/apply/teardown).
func NewIaCCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iac",
		Short: "Generate, preview, apply, and tear down infrastructure-as-code stacks",
	}
	cmd.AddCommand(newIaCGenerateCommand())
	cmd.AddCommand(newIaCPreviewCommand())
	cmd.AddCommand(newIaCApplyCommand())
	cmd.AddCommand(newIaCTeardownCommand())
	return cmd
}

func iacBackend(cmd *cobra.Command, backend string) (iac.Provider, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	ids := idgen.NewUUIDSource()
	registerProviders(cmd.Context(), s, ids, loggerFor(cmd))

	p, ok := iac.Get(backend)
	if !ok {
		return nil, fmt.Errorf("iac backend %q is not registered (available: %v)", backend, iac.IDs())
	}
	return p, nil
}

func newIaCGenerateCommand() *cobra.Command {
	var backend, plan string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate stack or compose files for a deploy plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := iacBackend(cmd, backend)
			if err != nil {
				return err
			}
			res, err := p.Generate(cmd.Context(), iac.GenerateConfig{Plan: plan})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "registered iac backend id (pulumi, cloudformation, dockercomposeiac)")
	cmd.Flags().StringVar(&plan, "plan", "", "deploy plan id to generate infrastructure for")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newIaCPreviewCommand() *cobra.Command {
	var backend, stack string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview the resources a stack apply would create, update, or delete",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := iacBackend(cmd, backend)
			if err != nil {
				return err
			}
			res, err := p.Preview(cmd.Context(), stack)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "registered iac backend id")
	cmd.Flags().StringVar(&stack, "stack", "", "stack or compose file identifier from generate")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("stack")
	return cmd
}

func newIaCApplyCommand() *cobra.Command {
	var backend, stack string
	var capabilities []string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a stack, rejecting with insufficientCapabilities when required capabilities are missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := iacBackend(cmd, backend)
			if err != nil {
				return err
			}
			res, err := p.Apply(cmd.Context(), stack, iac.ApplyConfig{Capabilities: capabilities})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "registered iac backend id")
	cmd.Flags().StringVar(&stack, "stack", "", "stack or compose file identifier from generate")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "acknowledged elevated-privilege capability (repeatable, CloudFormation only)")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("stack")
	return cmd
}

func newIaCTeardownCommand() *cobra.Command {
	var backend, stack string
	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Destroy every resource a stack created",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := iacBackend(cmd, backend)
			if err != nil {
				return err
			}
			res, err := p.Teardown(cmd.Context(), stack)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "registered iac backend id")
	cmd.Flags().StringVar(&stack, "stack", "", "stack or compose file identifier from generate")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("stack")
	return cmd
}
