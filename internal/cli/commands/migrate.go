// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package commands

import (
	"os"

	"github.com/spf13/cobra"

	rawengine "github.com/conceptkit/orchestrator/internal/providers/migration/raw"

	"github.com/conceptkit/orchestrator/internal/migration"
	"github.com/conceptkit/orchestrator/pkg/idgen"
)

// NewMigrateCommand returns the `orchestratord migrate` command tree.
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Plan and drive a concept through expand, migrate, and contract phases",
	}

	cmd.AddCommand(newMigratePlanCommand())
	cmd.AddCommand(newMigrateExpandCommand())
	cmd.AddCommand(newMigrateRunCommand())
	cmd.AddCommand(newMigrateContractCommand())
	cmd.AddCommand(newMigrateStatusCommand())

	return cmd
}

func newMigrationEngine(cmd *cobra.Command) (*migration.Engine, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	ids := idgen.NewUUIDSource()

	migrationPath := os.Getenv("ORCHESTRATOR_MIGRATION_PATH")
	if migrationPath == "" {
		migrationPath = "migrations"
	}
	runner := migration.NewRawRunner(&rawengine.Engine{}, migrationPath, "DATABASE_URL")
	return migration.New(s, ids, runner), nil
}

func newMigratePlanCommand() *cobra.Command {
	var concept string
	var from, to int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Enumerate migration steps and create a migration record in phase planned",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newMigrationEngine(cmd)
			if err != nil {
				return err
			}
			res, err := e.Plan(cmd.Context(), concept, from, to)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&concept, "concept", "", "concept name to migrate")
	cmd.Flags().IntVar(&from, "from", 0, "current schema version")
	cmd.Flags().IntVar(&to, "to", 0, "target schema version")
	_ = cmd.MarkFlagRequired("concept")
	return cmd
}

func newMigrateExpandCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand <migration-id>",
		Short: "Perform additive schema changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newMigrationEngine(cmd)
			if err != nil {
				return err
			}
			res, err := e.Expand(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}

func newMigrateRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <migration-id>",
		Short: "Copy data for the migration's steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newMigrationEngine(cmd)
			if err != nil {
				return err
			}
			res, err := e.Migrate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}

func newMigrateContractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract <migration-id>",
		Short: "Remove legacy fields after verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newMigrationEngine(cmd)
			if err != nil {
				return err
			}
			res, err := e.Contract(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}

func newMigrateStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <migration-id>",
		Short: "Report a migration's phase and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newMigrationEngine(cmd)
			if err != nil {
				return err
			}
			res, err := e.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}
