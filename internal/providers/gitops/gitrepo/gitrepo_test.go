// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package gitrepo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRemote(t *testing.T) string {
	t.Helper()
	remoteDir := filepath.Join(t.TempDir(), "remote")
	repo, err := git.PlainInit(remoteDir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "README.md"), []byte("seed"), 0o600))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("seed", &git.CommitOptions{
		Author: &object.Signature{Name: "seed", Email: "seed@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return remoteDir
}

func TestCheckoutClonesThenReopens(t *testing.T) {
	remote := newRemote(t)
	localDir := filepath.Join(t.TempDir(), "checkout")

	repo, err := Checkout(remote, localDir, Auth{})
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.FileExists(t, filepath.Join(localDir, "README.md"))

	reopened, err := Checkout(remote, localDir, Auth{})
	require.NoError(t, err)
	assert.NotNil(t, reopened)
}

func TestWriteAndPush(t *testing.T) {
	remote := newRemote(t)
	localDir := filepath.Join(t.TempDir(), "checkout")

	repo, err := Checkout(remote, localDir, Auth{})
	require.NoError(t, err)

	written, err := WriteAndPush(repo, localDir, map[string][]byte{
		"manifests/app.yaml": []byte("kind: Application\n"),
	}, "emit manifest", Auth{})
	require.NoError(t, err)
	assert.Equal(t, []string{"manifests/app.yaml"}, written)
	assert.FileExists(t, filepath.Join(localDir, "manifests", "app.yaml"))
}
