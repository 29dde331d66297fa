// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package migration

import (
	"context"
	"fmt"

	migrationengine "github.com/conceptkit/orchestrator/pkg/providers/migration"
)

// RawRunner adapts pkg/providers/migration's file-based Engine contract
// (internal/providers/migration/raw, backed by golang-migrate) to the
// Runner interface this package's phase machine drives. EstimateRecords
// reports the count of pending migration files as the best proxy for
// estimatedRecords available from a schema-migration backend; Copy
// applies them.
type RawRunner struct {
	Engine        migrationengine.Engine
	MigrationPath string
	ConnectionEnv string
}

// NewRawRunner constructs a RawRunner over a registered
// pkg/providers/migration.Engine (typically the "raw" backend).
func NewRawRunner(engine migrationengine.Engine, migrationPath, connectionEnv string) *RawRunner {
	return &RawRunner{Engine: engine, MigrationPath: migrationPath, ConnectionEnv: connectionEnv}
}

// EstimateRecords reports how many migration files are pending.
func (r *RawRunner) EstimateRecords(ctx context.Context, concept string) (int, error) {
	migs, err := r.Engine.Plan(ctx, migrationengine.PlanOptions{MigrationPath: r.MigrationPath})
	if err != nil {
		return 0, fmt.Errorf("rawrunner: plan %s: %w", concept, err)
	}
	return len(migs), nil
}

// Copy applies every pending migration file via the underlying engine's
// Run. A failure surfaces as a non-fatal per-record error rather than a
// Go error, so the caller can report Migrate's partial{} variant
// instead of aborting the phase machine outright.
func (r *RawRunner) Copy(ctx context.Context, concept string, steps []string, estimated int) (migrated int, errs []string, err error) {
	runErr := r.Engine.Run(ctx, migrationengine.RunOptions{
		MigrationPath: r.MigrationPath,
		ConnectionEnv: r.ConnectionEnv,
		Direction:     "up",
	})
	if runErr != nil {
		return 0, []string{runErr.Error()}, nil
	}
	return estimated, nil, nil
}
