// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package migration implements the Migration Engine of spec.md §4.4:
// expand/migrate/contract schema evolution between concept versions,
// with an idempotent phase machine planned -> expanded -> migrated ->
// contracted.
//
// The phase machine itself is concept-agnostic; the actual data copy
// performed during Migrate is delegated to a Runner, typically backed
// by pkg/providers/migration's raw-SQL engine (golang-migrate + pgx)
// for concepts with a relational store.
//
// Package migration owns relation store.RelationMigration exclusively
// (spec.md §3 "Ownership").
package migration

import (
	"context"
	"fmt"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// Outcome discriminates a result's populated payload, per the tagged-
// variant redesign flag (spec.md §9).
type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeNoMigrationNeeded Outcome = "noMigrationNeeded"
	OutcomeIncompatible      Outcome = "incompatible"
	OutcomePartial           Outcome = "partial"
	OutcomeRollback          Outcome = "rollback"
	OutcomeNotFound          Outcome = "notfound"
)

// Runner performs the actual record-by-record data copy for a
// migration's steps. Implementations live in pkg/providers/migration
// (e.g. the raw-SQL engine backed by golang-migrate/pgx).
type Runner interface {
	// EstimateRecords returns the best-known row/record count for
	// concept, used to seed Migration.estimatedRecords at plan time.
	EstimateRecords(ctx context.Context, concept string) (int, error)

	// Copy performs the data migration for steps and returns how many
	// records were migrated and any per-record errors. A Copy that
	// migrates fewer than estimated records without error is still a
	// full success if it exhausted its input; callers distinguish
	// partial failure via the returned errs slice.
	Copy(ctx context.Context, concept string, steps []string, estimated int) (migrated int, errs []string, err error)
}

// Verifier is optionally consulted by Contract before removing legacy
// fields: a verification failure causes Contract to report rollback
// instead of advancing to contracted.
type Verifier interface {
	Verify(ctx context.Context, concept string, toVersion int) (bool, error)
}

// Engine is the Migration Engine.
type Engine struct {
	store  *store.Store
	ids    idgen.Source
	runner Runner

	verify func(ctx context.Context, concept string, toVersion int) (bool, error)
}

// New constructs an Engine. runner may be nil, in which case Migrate
// simulates a full-success copy of the estimated record count — useful
// for concepts with no relational backing store.
func New(s *store.Store, ids idgen.Source, runner Runner) *Engine {
	return &Engine{store: s, ids: ids, runner: runner}
}

// WithVerifier attaches a verification hook consulted by Contract.
func (e *Engine) WithVerifier(v Verifier) *Engine {
	if v != nil {
		e.verify = v.Verify
	}
	return e
}

// PlanResult is the tagged result of Plan.
type PlanResult struct {
	Outcome          Outcome
	Migration        string
	Steps            []string
	EstimatedRecords int
}

// Plan enumerates migration steps from fromVersion to toVersion and
// creates a Migration record in phase "planned".
func (e *Engine) Plan(ctx context.Context, concept string, fromVersion, toVersion int) (PlanResult, error) {
	if fromVersion == toVersion {
		return PlanResult{Outcome: OutcomeNoMigrationNeeded}, nil
	}
	if toVersion < fromVersion {
		return PlanResult{Outcome: OutcomeIncompatible}, nil
	}

	steps := make([]string, 0, toVersion-fromVersion)
	for v := fromVersion; v < toVersion; v++ {
		steps = append(steps, fmt.Sprintf("v%d-to-v%d", v, v+1))
	}

	estimated := 0
	if e.runner != nil {
		n, err := e.runner.EstimateRecords(ctx, concept)
		if err != nil {
			return PlanResult{}, fmt.Errorf("migration: estimate records for %s: %w", concept, err)
		}
		estimated = n
	}

	id := e.ids.New("migration")
	rec := store.MigrationRecord{
		Migration:        id,
		Concept:          concept,
		FromVersion:      fromVersion,
		ToVersion:        toVersion,
		Steps:            steps,
		Phase:            store.MigrationPlanned,
		Progress:         0,
		EstimatedRecords: estimated,
	}
	if err := store.Put(e.store, store.RelationMigration, id, rec); err != nil {
		return PlanResult{}, err
	}
	return PlanResult{Outcome: OutcomeOK, Migration: id, Steps: steps, EstimatedRecords: estimated}, nil
}

// PhaseResult is the tagged result of Expand and Contract.
type PhaseResult struct {
	Outcome Outcome
}

// Expand performs additive schema changes and advances phase planned
// -> expanded. Re-invoking on an already-expanded (or later-phase)
// migration is a no-op returning ok.
func (e *Engine) Expand(ctx context.Context, migrationID string) (PhaseResult, error) {
	rec, ok, err := store.Get[store.MigrationRecord](e.store, store.RelationMigration, migrationID)
	if err != nil {
		return PhaseResult{}, err
	}
	if !ok {
		return PhaseResult{Outcome: OutcomeNotFound}, nil
	}
	if rec.Phase != store.MigrationPlanned {
		return PhaseResult{Outcome: OutcomeOK}, nil
	}

	rec.Phase = store.MigrationExpanded
	rec.Progress = 1.0 / 3.0
	if err := store.Put(e.store, store.RelationMigration, migrationID, rec); err != nil {
		return PhaseResult{}, err
	}
	return PhaseResult{Outcome: OutcomeOK}, nil
}

// MigrateResult is the tagged result of Migrate.
type MigrateResult struct {
	Outcome         Outcome
	RecordsMigrated int
	Migrated        int
	Failed          int
	Errors          []string
}

// Migrate copies data for the migration's steps and advances phase
// expanded -> migrated. Idempotent once migrated or contracted.
func (e *Engine) Migrate(ctx context.Context, migrationID string) (MigrateResult, error) {
	rec, ok, err := store.Get[store.MigrationRecord](e.store, store.RelationMigration, migrationID)
	if err != nil {
		return MigrateResult{}, err
	}
	if !ok {
		return MigrateResult{Outcome: OutcomeNotFound}, nil
	}
	if rec.Phase == store.MigrationMigrated || rec.Phase == store.MigrationContracted {
		return MigrateResult{Outcome: OutcomeOK, RecordsMigrated: rec.RecordsMigrated}, nil
	}

	var migrated int
	var errs []string
	if e.runner != nil {
		migrated, errs, err = e.runner.Copy(ctx, rec.Concept, rec.Steps, rec.EstimatedRecords)
		if err != nil {
			return MigrateResult{}, fmt.Errorf("migration: copy %s: %w", rec.Concept, err)
		}
	} else {
		migrated = rec.EstimatedRecords
	}

	rec.RecordsMigrated = migrated
	if len(errs) > 0 {
		if err := store.Put(e.store, store.RelationMigration, migrationID, rec); err != nil {
			return MigrateResult{}, err
		}
		return MigrateResult{
			Outcome:  OutcomePartial,
			Migrated: migrated,
			Failed:   rec.EstimatedRecords - migrated,
			Errors:   errs,
		}, nil
	}

	rec.Phase = store.MigrationMigrated
	rec.Progress = 2.0 / 3.0
	if err := store.Put(e.store, store.RelationMigration, migrationID, rec); err != nil {
		return MigrateResult{}, err
	}
	return MigrateResult{Outcome: OutcomeOK, RecordsMigrated: migrated}, nil
}

// ContractResult is the tagged result of Contract.
type ContractResult struct {
	Outcome   Outcome
	Migration string
}

// Contract removes legacy fields and advances phase migrated ->
// contracted. If a Verifier is attached and verification fails, phase
// is left at migrated and rollback is reported instead.
func (e *Engine) Contract(ctx context.Context, migrationID string) (ContractResult, error) {
	rec, ok, err := store.Get[store.MigrationRecord](e.store, store.RelationMigration, migrationID)
	if err != nil {
		return ContractResult{}, err
	}
	if !ok {
		return ContractResult{Outcome: OutcomeNotFound}, nil
	}
	if rec.Phase == store.MigrationContracted {
		return ContractResult{Outcome: OutcomeOK, Migration: migrationID}, nil
	}

	if e.verify != nil {
		ok, err := e.verify(ctx, rec.Concept, rec.ToVersion)
		if err != nil {
			return ContractResult{}, fmt.Errorf("migration: verify %s: %w", rec.Concept, err)
		}
		if !ok {
			return ContractResult{Outcome: OutcomeRollback, Migration: migrationID}, nil
		}
	}

	rec.Phase = store.MigrationContracted
	rec.Progress = 1.0
	if err := store.Put(e.store, store.RelationMigration, migrationID, rec); err != nil {
		return ContractResult{}, err
	}
	return ContractResult{Outcome: OutcomeOK, Migration: migrationID}, nil
}

// StatusResult is the tagged result of Status.
type StatusResult struct {
	Outcome  Outcome
	Phase    store.MigrationPhase
	Progress float64
}

// Status reports a migration's phase and progress.
func (e *Engine) Status(ctx context.Context, migrationID string) (StatusResult, error) {
	rec, ok, err := store.Get[store.MigrationRecord](e.store, store.RelationMigration, migrationID)
	if err != nil {
		return StatusResult{}, err
	}
	if !ok {
		return StatusResult{Outcome: OutcomeNotFound}, nil
	}
	return StatusResult{Outcome: OutcomeOK, Phase: rec.Phase, Progress: rec.Progress}, nil
}
