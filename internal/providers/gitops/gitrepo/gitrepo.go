// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package gitrepo is the git mechanics shared by the Argo and Flux
// GitOps backends (spec.md §4.3): both emit manifest files into a
// clone of the target repo and push a commit for the GitOps controller
// to reconcile. Only the manifest shape and path convention differ
// between the two, so the clone/write/commit/push sequence lives here
// once.
package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	_ "github.com/go-git/go-git/v5/plumbing/transport/file"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Auth carries the credentials used for clone and push. An empty Auth
// falls back to go-git's unauthenticated transport, which is enough
// for local/file-backed test repos.
type Auth struct {
	Username string
	Password string
}

func (a Auth) transport() *http.BasicAuth {
	if a.Username == "" && a.Password == "" {
		return nil
	}
	return &http.BasicAuth{Username: a.Username, Password: a.Password}
}

// Checkout opens repo at localDir if already cloned, or clones it
// fresh from remote.
func Checkout(remote, localDir string, auth Auth) (*git.Repository, error) {
	if _, err := os.Stat(filepath.Join(localDir, ".git")); err == nil {
		return git.PlainOpen(localDir)
	}

	repo, err := git.PlainClone(localDir, false, &git.CloneOptions{
		URL:  remote,
		Auth: auth.transport(),
	})
	if err != nil {
		return nil, fmt.Errorf("gitrepo: clone %s: %w", remote, err)
	}
	return repo, nil
}

// WriteAndPush writes files (relative to the repo root) into repo's
// worktree, commits them, and pushes to the remote. It returns the set
// of file paths written, for the provider's EmitResult.Files.
func WriteAndPush(repo *git.Repository, localDir string, files map[string][]byte, commitMsg string, auth Auth) ([]string, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("gitrepo: worktree: %w", err)
	}

	written := make([]string, 0, len(files))
	for rel, content := range files {
		full := filepath.Join(localDir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
			return nil, fmt.Errorf("gitrepo: mkdir %s: %w", filepath.Dir(full), err)
		}
		if err := os.WriteFile(full, content, 0o600); err != nil {
			return nil, fmt.Errorf("gitrepo: write %s: %w", full, err)
		}
		if _, err := wt.Add(rel); err != nil {
			return nil, fmt.Errorf("gitrepo: add %s: %w", rel, err)
		}
		written = append(written, rel)
	}

	if _, err := wt.Commit(commitMsg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "concept-kit-orchestrator",
			Email: "orchestrator@conceptkit.local",
			When:  time.Now(),
		},
	}); err != nil {
		return nil, fmt.Errorf("gitrepo: commit: %w", err)
	}

	if err := repo.Push(&git.PushOptions{Auth: auth.transport()}); err != nil && err != git.NoErrAlreadyUpToDate {
		return nil, fmt.Errorf("gitrepo: push: %w", err)
	}
	return written, nil
}
