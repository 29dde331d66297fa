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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrationengine "github.com/conceptkit/orchestrator/pkg/providers/migration"
)

type fakeMigrationEngine struct {
	pending []migrationengine.Migration
	runErr  error
}

func (f *fakeMigrationEngine) ID() string { return "fake" }

func (f *fakeMigrationEngine) Plan(ctx context.Context, opts migrationengine.PlanOptions) ([]migrationengine.Migration, error) {
	return f.pending, nil
}

func (f *fakeMigrationEngine) Run(ctx context.Context, opts migrationengine.RunOptions) error {
	return f.runErr
}

func TestRawRunner_EstimateRecords(t *testing.T) {
	fe := &fakeMigrationEngine{pending: []migrationengine.Migration{{ID: "001.sql"}, {ID: "002.sql"}}}
	r := NewRawRunner(fe, "/migrations", "DATABASE_URL")

	n, err := r.EstimateRecords(context.Background(), "Entity")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRawRunner_CopySuccess(t *testing.T) {
	fe := &fakeMigrationEngine{}
	r := NewRawRunner(fe, "/migrations", "DATABASE_URL")

	migrated, errs, err := r.Copy(context.Background(), "Entity", []string{"v1-to-v2"}, 5)
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, 5, migrated)
}

func TestRawRunner_CopyFailureIsNonFatal(t *testing.T) {
	fe := &fakeMigrationEngine{runErr: errors.New("connection refused")}
	r := NewRawRunner(fe, "/migrations", "DATABASE_URL")

	migrated, errs, err := r.Copy(context.Background(), "Entity", []string{"v1-to-v2"}, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, migrated)
	assert.Len(t, errs, 1)
}
