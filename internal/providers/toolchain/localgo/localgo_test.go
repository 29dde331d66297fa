// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package localgo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptkit/orchestrator/pkg/providers/toolchain"
)

func TestHandler_Register(t *testing.T) {
	h := New()
	res, err := h.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, toolchain.OutcomeOK, res.Outcome)
	assert.Equal(t, "go", res.Language)
}

func TestHandler_Resolve_UnsupportedPlatform(t *testing.T) {
	h := New()
	res, err := h.Resolve(context.Background(), "amiga-m68k", "")
	require.NoError(t, err)
	// Either the host has no `go` on PATH (notInstalled) or the platform
	// check rejects it (targetMissing) — both are valid fatal variants
	// for an unsupported target, so assert it is never ok.
	assert.NotEqual(t, toolchain.OutcomeOK, res.Outcome)
}
