// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package cli wires together the orchestrator's root Cobra command and
// global CLI options.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/conceptkit/orchestrator/internal/cli/commands"
)

// NewRootCommand constructs the orchestrator root Cobra command,
// wiring the plan, rollout, migrate, build, artifact, secret, iac,
// gitops, and serve subcommand trees.
func NewRootCommand() *cobra.Command {
	version := os.Getenv("ORCHESTRATOR_VERSION")
	if version == "" {
		version = "0.0.0-dev"
	}

	cmd := &cobra.Command{
		Use:           "orchestratord",
		Short:         "Concept-Kit Orchestrator - deploy planning, rollout, and provider dispatch",
		Long:          "orchestratord plans and executes deploys across runtime, IaC, secret, and GitOps providers, drives weighted rollouts, runs expand/migrate/contract schema migrations, and resolves per-language toolchains to produce content-addressed build artifacts. The iac, secret, and gitops subcommands dispatch directly to a named backend for operators and external tooling that need those contracts outside a deploy plan.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the orchestrator version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("orchestratord version " + version)
		},
	})

	cmd.AddCommand(commands.NewPlanCommand())
	cmd.AddCommand(commands.NewRolloutCommand())
	cmd.AddCommand(commands.NewMigrateCommand())
	cmd.AddCommand(commands.NewBuildCommand())
	cmd.AddCommand(commands.NewArtifactCommand())
	cmd.AddCommand(commands.NewSecretCommand())
	cmd.AddCommand(commands.NewIaCCommand())
	cmd.AddCommand(commands.NewGitOpsCommand())
	cmd.AddCommand(commands.NewServeCommand())

	return cmd
}
