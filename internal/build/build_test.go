// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package build

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptkit/orchestrator/pkg/artifact"
	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/toolchain"
	"github.com/conceptkit/orchestrator/pkg/store"
)

type fakeHandler struct {
	id     string
	result toolchain.ResolveResult
}

func (f fakeHandler) ID() string { return f.id }
func (f fakeHandler) Resolve(context.Context, string, string) (toolchain.ResolveResult, error) {
	return f.result, nil
}
func (f fakeHandler) Register(context.Context) (toolchain.RegisterResult, error) {
	return toolchain.RegisterResult{Outcome: toolchain.OutcomeOK, Name: f.id}, nil
}

func newEngine(t *testing.T, resolve func(string) (toolchain.Handler, bool)) *Engine {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	blobs, err := artifact.NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	idx := artifact.New(blobs, s, idgen.NewCounterSource(0), nil)
	return New(s, idgen.NewCounterSource(100), idx, resolve)
}

func TestEngine_Build_OK(t *testing.T) {
	handler := fakeHandler{id: "go", result: toolchain.ResolveResult{Outcome: toolchain.OutcomeOK, CompilerPath: "/usr/bin/go"}}
	e := newEngine(t, func(lang string) (toolchain.Handler, bool) {
		if lang == "go" {
			return handler, true
		}
		return nil, false
	})

	res, err := e.Build(context.Background(), Config{Concept: "Password", Source: "s", Language: "go", Platform: "linux-amd64"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.NotEmpty(t, res.ArtifactHash)

	status, err := e.Status(context.Background(), res.Build)
	require.NoError(t, err)
	assert.Equal(t, store.BuildCompleted, status.Status)
}

func TestEngine_Build_SameInputsShareArtifactHash(t *testing.T) {
	handler := fakeHandler{id: "go", result: toolchain.ResolveResult{Outcome: toolchain.OutcomeOK}}
	e := newEngine(t, func(string) (toolchain.Handler, bool) { return handler, true })

	cfg := Config{Concept: "Password", Source: "s", Language: "go", Platform: "linux-amd64", Deps: []string{"d1"}}
	first, err := e.Build(context.Background(), cfg)
	require.NoError(t, err)
	second, err := e.Build(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, first.ArtifactHash, second.ArtifactHash)
}

func TestEngine_Build_ToolchainNotInstalled(t *testing.T) {
	e := newEngine(t, func(string) (toolchain.Handler, bool) { return nil, false })

	res, err := e.Build(context.Background(), Config{Concept: "Password", Source: "s", Language: "cobol", Platform: "mainframe"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotInstalled, res.Outcome)

	status, err := e.Status(context.Background(), res.Build)
	require.NoError(t, err)
	assert.Equal(t, store.BuildFailed, status.Status)
}

func TestEngine_Test_RecordsResultOnCompletedBuild(t *testing.T) {
	handler := fakeHandler{id: "go", result: toolchain.ResolveResult{Outcome: toolchain.OutcomeOK}}
	e := newEngine(t, func(string) (toolchain.Handler, bool) { return handler, true })

	built, err := e.Build(context.Background(), Config{Concept: "Password", Source: "s", Language: "go", Platform: "linux-amd64"})
	require.NoError(t, err)

	result, err := e.Test(context.Background(), built.Build)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, result.Outcome)
	assert.True(t, result.TestsPassed)

	status, err := e.Status(context.Background(), built.Build)
	require.NoError(t, err)
	assert.True(t, status.TestsRun)
	assert.True(t, status.TestsPassed)
}

func TestEngine_History_FiltersByConcept(t *testing.T) {
	handler := fakeHandler{id: "go", result: toolchain.ResolveResult{Outcome: toolchain.OutcomeOK}}
	e := newEngine(t, func(string) (toolchain.Handler, bool) { return handler, true })

	_, err := e.Build(context.Background(), Config{Concept: "Password", Source: "s1", Language: "go", Platform: "linux-amd64"})
	require.NoError(t, err)
	_, err = e.Build(context.Background(), Config{Concept: "User", Source: "s2", Language: "go", Platform: "linux-amd64"})
	require.NoError(t, err)

	history, err := e.History(context.Background(), "Password")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Password", history[0].Concept)
}
