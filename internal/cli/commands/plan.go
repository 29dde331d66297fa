// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package commands contains Cobra subcommands for the orchestrator
// CLI, wiring the deploy planner, rollout controller, and migration
// engine to the record store and provider registries.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conceptkit/orchestrator/internal/core/env"
	"github.com/conceptkit/orchestrator/internal/core/plan"
	"github.com/conceptkit/orchestrator/pkg/config"
	"github.com/conceptkit/orchestrator/pkg/idgen"
)

// NewPlanCommand returns the `orchestratord plan` command tree.
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build, validate, and execute deploy plans",
	}

	cmd.AddCommand(newPlanCreateCommand())
	cmd.AddCommand(newPlanValidateCommand())
	cmd.AddCommand(newPlanExecuteCommand())
	cmd.AddCommand(newPlanRollbackCommand())
	cmd.AddCommand(newPlanStatusCommand())

	return cmd
}

// envResolverAdapter satisfies plan.EnvResolver by discarding the
// resolved *env.Context plan.Plan has no use for.
type envResolverAdapter struct{ r *env.Resolver }

func (a envResolverAdapter) Resolve(ctx context.Context, name string) error {
	_, err := a.r.Resolve(ctx, name)
	return err
}

func newPlanner(cmd *cobra.Command) (*plan.Planner, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	ids := idgen.NewUUIDSource()
	registerProviders(cmd.Context(), s, ids, loggerFor(cmd))
	p := plan.New(s, ids, nil)

	cfg, err := config.Load(config.DefaultConfigPath())
	if err == nil {
		p = p.WithEnvResolver(envResolverAdapter{r: env.NewResolver(cfg)})
	} else if err != config.ErrConfigNotFound {
		return nil, err
	}
	return p, nil
}

func newPlanCreateCommand() *cobra.Command {
	var manifestPath, environment string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Build a deploy plan's DAG from a manifest file and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				return fmt.Errorf("reading manifest %s: %w", manifestPath, err)
			}
			var manifest plan.Manifest
			if err := json.Unmarshal(data, &manifest); err != nil {
				return fmt.Errorf("parsing manifest %s: %w", manifestPath, err)
			}

			p, err := newPlanner(cmd)
			if err != nil {
				return err
			}

			res, err := p.Plan(cmd.Context(), manifest, environment)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "path to a JSON-encoded plan.Manifest")
	cmd.Flags().StringVar(&environment, "environment", "", "target environment name")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("environment")
	return cmd
}

func newPlanValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan-id>",
		Short: "Check schema compatibility for every node in a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPlanner(cmd)
			if err != nil {
				return err
			}

			res, err := p.Validate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}

func newPlanExecuteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <plan-id>",
		Short: "Run every graph node in topological order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPlanner(cmd)
			if err != nil {
				return err
			}

			res, err := p.Execute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}

func newPlanRollbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <plan-id>",
		Short: "Invoke the inverse of every completed node in reverse order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPlanner(cmd)
			if err != nil {
				return err
			}

			res, err := p.Rollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}

func newPlanStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <plan-id>",
		Short: "Report a plan's phase and completion progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPlanner(cmd)
			if err != nil {
				return err
			}

			res, err := p.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}

// printJSON writes v to the command's output stream as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
