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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	return New(s, idgen.NewCounterSource(0), nil)
}

// TestPlan covers scenario S4 from spec.md §8.
func TestPlan(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	res, err := e.Plan(ctx, "Entity", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, []string{"v1-to-v2", "v2-to-v3"}, res.Steps)

	noop, err := e.Plan(ctx, "Entity", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMigrationNeeded, noop.Outcome)

	bad, err := e.Plan(ctx, "Entity", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIncompatible, bad.Outcome)
}

func TestPhaseProgressionIsMonotone(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	planRes, err := e.Plan(ctx, "Entity", 1, 2)
	require.NoError(t, err)

	status, err := e.Status(ctx, planRes.Migration)
	require.NoError(t, err)
	assert.Equal(t, store.MigrationPlanned, status.Phase)
	assert.Equal(t, 0.0, status.Progress)

	_, err = e.Expand(ctx, planRes.Migration)
	require.NoError(t, err)
	status, err = e.Status(ctx, planRes.Migration)
	require.NoError(t, err)
	assert.Equal(t, store.MigrationExpanded, status.Phase)

	migRes, err := e.Migrate(ctx, planRes.Migration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, migRes.Outcome)
	status, err = e.Status(ctx, planRes.Migration)
	require.NoError(t, err)
	assert.Equal(t, store.MigrationMigrated, status.Phase)

	contractRes, err := e.Contract(ctx, planRes.Migration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, contractRes.Outcome)
	status, err = e.Status(ctx, planRes.Migration)
	require.NoError(t, err)
	assert.Equal(t, store.MigrationContracted, status.Phase)
	assert.Equal(t, 1.0, status.Progress)
}

func TestExpand_IdempotentNoOp(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	planRes, err := e.Plan(ctx, "Entity", 1, 2)
	require.NoError(t, err)

	_, err = e.Expand(ctx, planRes.Migration)
	require.NoError(t, err)
	again, err := e.Expand(ctx, planRes.Migration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, again.Outcome)

	status, err := e.Status(ctx, planRes.Migration)
	require.NoError(t, err)
	assert.Equal(t, store.MigrationExpanded, status.Phase)
}

func TestContract_RollbackOnFailedVerification(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	planRes, err := e.Plan(ctx, "Entity", 1, 2)
	require.NoError(t, err)
	_, err = e.Expand(ctx, planRes.Migration)
	require.NoError(t, err)
	_, err = e.Migrate(ctx, planRes.Migration)
	require.NoError(t, err)

	e.verify = func(ctx context.Context, concept string, toVersion int) (bool, error) {
		return false, nil
	}

	res, err := e.Contract(ctx, planRes.Migration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRollback, res.Outcome)

	status, err := e.Status(ctx, planRes.Migration)
	require.NoError(t, err)
	assert.Equal(t, store.MigrationMigrated, status.Phase)
}
