// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/gitops"
)

// NewGitOpsCommand returns the `orchestratord gitops` command tree,
// dispatching to the registered GitOps provider backends (spec.md
// §4.3: emit/reconciliationStatus).
func NewGitOpsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gitops",
		Short: "Emit GitOps manifests for a plan and poll their reconciliation status",
	}
	cmd.AddCommand(newGitOpsEmitCommand())
	cmd.AddCommand(newGitOpsReconciliationStatusCommand())
	return cmd
}

func gitopsBackend(cmd *cobra.Command, backend string) (gitops.Provider, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	ids := idgen.NewUUIDSource()
	registerProviders(cmd.Context(), s, ids, loggerFor(cmd))

	p, ok := gitops.Get(backend)
	if !ok {
		return nil, fmt.Errorf("gitops backend %q is not registered (available: %v)", backend, gitops.IDs())
	}
	return p, nil
}

func newGitOpsEmitCommand() *cobra.Command {
	var backend, plan, repo, path string
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Write GitOps manifest files for a deploy plan into a repo path",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := gitopsBackend(cmd, backend)
			if err != nil {
				return err
			}
			res, err := p.Emit(cmd.Context(), plan, repo, path)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "registered gitops backend id (argo, flux)")
	cmd.Flags().StringVar(&plan, "plan", "", "deploy plan id to emit manifests for")
	cmd.Flags().StringVar(&repo, "repo", "", "git repository URL to clone and commit into")
	cmd.Flags().StringVar(&path, "path", "", "path within the repo to write manifests under")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newGitOpsReconciliationStatusCommand() *cobra.Command {
	var backend, manifest string
	cmd := &cobra.Command{
		Use:   "reconciliation-status",
		Short: "Report whether the cluster has reconciled to an emitted manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := gitopsBackend(cmd, backend)
			if err != nil {
				return err
			}
			res, err := p.ReconciliationStatus(cmd.Context(), manifest)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "registered gitops backend id")
	cmd.Flags().StringVar(&manifest, "manifest", "", "manifest identifier returned by emit")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}
