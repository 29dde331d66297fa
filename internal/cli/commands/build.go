// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package commands

import (
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	intbuild "github.com/conceptkit/orchestrator/internal/build"
	"github.com/conceptkit/orchestrator/internal/providers/toolchain/localgo"
	"github.com/conceptkit/orchestrator/pkg/artifact"
	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/toolchain"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// NewBuildCommand returns the `orchestratord build` command tree: the
// Build entity of spec.md §3, resolving a language's Toolchain handler
// and content-addressing the result into the Artifact store.
func NewBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Resolve a toolchain, content-address a build, and record its outcome",
	}

	cmd.AddCommand(newBuildRunCommand())
	cmd.AddCommand(newBuildTestCommand())
	cmd.AddCommand(newBuildStatusCommand())
	cmd.AddCommand(newBuildHistoryCommand())

	return cmd
}

// registerToolchains populates the process-wide toolchain.DefaultRegistry.
// Only the Go handler ships in this repo (spec.md §1 treats the
// language-specific handlers as external collaborators); additional
// languages register the same way at their own call site.
func registerToolchains() {
	if !toolchain.Has(localgo.ID) {
		toolchain.Register(localgo.New())
	}
}

// newArtifactIndex constructs the shared content-addressed Artifact
// index: a FileStore rooted at ORCHESTRATOR_ARTIFACT_PATH (default
// "artifacts"), with an optional Redis hot cache when
// ORCHESTRATOR_REDIS_URL is set.
func newArtifactIndex(s *store.Store, ids idgen.Source) (*artifact.Index, error) {
	blobDir := os.Getenv("ORCHESTRATOR_ARTIFACT_PATH")
	if blobDir == "" {
		blobDir = "artifacts"
	}
	blobs, err := artifact.NewFileStore(blobDir)
	if err != nil {
		return nil, err
	}

	var cache *redis.Client
	if url := os.Getenv("ORCHESTRATOR_REDIS_URL"); url != "" {
		if opts, err := redis.ParseURL(url); err == nil {
			cache = redis.NewClient(opts)
		}
	}

	return artifact.New(blobs, s, ids, cache), nil
}

func newBuildEngine() (*intbuild.Engine, error) {
	registerToolchains()

	s, err := openStore()
	if err != nil {
		return nil, err
	}
	ids := idgen.NewUUIDSource()

	idx, err := newArtifactIndex(s, ids)
	if err != nil {
		return nil, err
	}
	return intbuild.New(s, ids, idx, nil), nil
}

func newBuildRunCommand() *cobra.Command {
	var concept, source, language, platform, versionConstraint string
	var deps []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resolve the toolchain for language/platform and record a completed build",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newBuildEngine()
			if err != nil {
				return err
			}
			res, err := e.Build(cmd.Context(), intbuild.Config{
				Concept:           concept,
				Source:            source,
				Language:          language,
				Platform:          platform,
				Deps:              deps,
				VersionConstraint: versionConstraint,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&concept, "concept", "", "concept name")
	cmd.Flags().StringVar(&source, "source", "", "source identifier or path")
	cmd.Flags().StringVar(&language, "language", "", "target language (toolchain registry key)")
	cmd.Flags().StringVar(&platform, "platform", "", "target platform, e.g. linux-amd64")
	cmd.Flags().StringVar(&versionConstraint, "version-constraint", "", "toolchain version constraint")
	cmd.Flags().StringSliceVar(&deps, "dep", nil, "dependency identifiers folded into the content hash")
	_ = cmd.MarkFlagRequired("concept")
	_ = cmd.MarkFlagRequired("language")
	return cmd
}

func newBuildTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <build-id>",
		Short: "Run the test suite for a completed build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newBuildEngine()
			if err != nil {
				return err
			}
			res, err := e.Test(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}

func newBuildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <build-id>",
		Short: "Report a build's completion and test state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newBuildEngine()
			if err != nil {
				return err
			}
			res, err := e.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}

func newBuildHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <concept>",
		Short: "List every build recorded for a concept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newBuildEngine()
			if err != nil {
				return err
			}
			res, err := e.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}
