// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package raw provides the raw SQL migration engine implementation,
// backing the Migration Engine's data-copy step (spec.md §4.4) for
// concepts with a relational store. Run delegates schema application
// to golang-migrate, rather than hand-rolled transaction/tracking-table
// logic, so that concurrent or partially-applied migration directories
// are handled the way the library already solves for.
package raw

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/conceptkit/orchestrator/pkg/providers/migration"
)

// Engine implements a simple SQL file-based migration engine.
type Engine struct{}

// Ensure Engine implements migration.Engine.
var _ migration.Engine = (*Engine)(nil)

// ID returns the engine identifier.
func (e *Engine) ID() string {
	return "raw"
}

// Config represents the raw engine configuration.
type Config struct {
	// Additional engine-specific config can be added here
	// For now, raw engine uses the standard migration path
}

// Plan lists every .sql file directly under the migration directory,
// sorted by name. It does not consult the database, so already-applied
// files are listed too and every entry has Applied false.
func (e *Engine) Plan(ctx context.Context, opts migration.PlanOptions) ([]migration.Migration, error) {
	// For raw engine, we simply list all SQL files in the migration directory
	// In a real implementation, we'd check which ones have been applied

	migrationPath := opts.MigrationPath
	if migrationPath == "" {
		return nil, fmt.Errorf("migration path is required")
	}

	// Read directory
	entries, err := os.ReadDir(migrationPath)
	if err != nil {
		return nil, fmt.Errorf("reading migration directory: %w", err)
	}

	// Sort entries lexicographically for deterministic processing
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var migrations []migration.Migration

	// Collect SQL files
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if !strings.HasSuffix(strings.ToLower(entry.Name()), ".sql") {
			continue
		}

		migrations = append(migrations, migration.Migration{
			ID:          entry.Name(),
			Description: fmt.Sprintf("SQL migration: %s", entry.Name()),
			Applied:     false, // Raw engine doesn't track state in v1
		})
	}

	// Sort by filename (lexicographic)
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].ID < migrations[j].ID
	})

	return migrations, nil
}

// Run migrates opts.MigrationPath via golang-migrate: every pending
// migration up by default, opts.Steps migrations when Steps > 0, and
// down instead of up when Direction is "down". golang-migrate owns its
// own schema_migrations tracking table
// and transactional apply — a real implementation of the tracking this
// engine used to hand-roll.
//
// nolint:gocritic // opts is passed by value to satisfy migration.Engine interface.
func (e *Engine) Run(ctx context.Context, opts migration.RunOptions) error {
	migrationPath := opts.MigrationPath
	if migrationPath == "" {
		return fmt.Errorf("migration path is required")
	}

	if _, err := os.Stat(migrationPath); os.IsNotExist(err) {
		return fmt.Errorf("migration directory does not exist: %s", migrationPath)
	}

	dbURL := os.Getenv(opts.ConnectionEnv)
	if dbURL == "" {
		return fmt.Errorf("connection environment variable %q is not set", opts.ConnectionEnv)
	}

	m, err := migrate.New("file://"+migrationPath, dbURL)
	if err != nil {
		return fmt.Errorf("opening migrator: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	steps := opts.Steps
	switch {
	case opts.Direction == "down" && steps > 0:
		err = m.Steps(-steps)
	case opts.Direction == "down":
		err = m.Down()
	case steps > 0:
		err = m.Steps(steps)
	default:
		err = m.Up()
	}
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func init() {
	migration.Register(&Engine{})
}
