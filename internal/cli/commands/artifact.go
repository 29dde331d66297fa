// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/conceptkit/orchestrator/pkg/idgen"
)

// gcResult is the printed shape of Artifact.gc (spec.md §9 "ok{removed,
// freedBytes}").
type gcResult struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freedBytes"`
}

// NewArtifactCommand returns the `orchestratord artifact` command tree.
func NewArtifactCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Inspect and reclaim content-addressed build artifacts",
	}
	cmd.AddCommand(newArtifactGCCommand())
	return cmd
}

func newArtifactGCCommand() *cobra.Command {
	var olderThan time.Duration
	var keepVersions int
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove stale artifact records and blobs, keeping the newest versions per (concept, language, platform)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			ids := idgen.NewUUIDSource()
			idx, err := newArtifactIndex(s, ids)
			if err != nil {
				return err
			}
			removed, freedBytes, err := idx.GC(cmd.Context(), olderThan, keepVersions)
			if err != nil {
				return err
			}
			return printJSON(cmd, gcResult{Removed: removed, FreedBytes: freedBytes})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "only remove artifacts created before this long ago")
	cmd.Flags().IntVar(&keepVersions, "keep-versions", 3, "always keep this many newest versions per (concept, language, platform)")
	return cmd
}
