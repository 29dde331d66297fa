// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package build implements the Build entity of spec.md §3 and §6: it
// resolves a language's Toolchain handler, content-addresses the
// supplied source against pkg/artifact, and records a Build whose
// artifactHash points at the resulting Artifact. Test runs are recorded
// against the same Build record.
//
// Package build owns relation store.RelationBuild exclusively (spec.md
// §3 "Ownership"). It never invokes a compiler itself — per spec.md §1,
// the language-specific Toolchain handlers are the collaborator that
// does; this package only resolves one and records the outcome.
package build

import (
	"context"
	"fmt"

	"github.com/conceptkit/orchestrator/pkg/artifact"
	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/toolchain"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// Outcome discriminates a Result's populated payload, per the tagged-
// variant redesign flag (spec.md §9).
type Outcome string

const (
	OutcomeOK                    Outcome = "ok"
	OutcomeNotInstalled          Outcome = "notInstalled"
	OutcomeTargetMissing         Outcome = "targetMissing"
	OutcomeXcodeRequired         Outcome = "xcodeRequired"
	OutcomeEVMVersionUnsupported Outcome = "evmVersionUnsupported"
	OutcomeBuildFailed           Outcome = "buildFailed"
	OutcomeNotFound              Outcome = "notfound"
)

// Tester is optionally consulted by Test to actually exercise a built
// artifact. Implementations live alongside each Toolchain handler (a Go
// handler's tester shells out to `go test`, for instance); with a nil
// Tester, Test runs nothing and records the build as tested and passed.
type Tester interface {
	RunTests(ctx context.Context, concept, language string, artifactHash []byte) (passed bool, testType string, err error)
}

// Engine is the Build pipeline.
type Engine struct {
	store   *store.Store
	ids     idgen.Source
	index   *artifact.Index
	resolve func(language string) (toolchain.Handler, bool)
	tester  Tester
}

// New constructs an Engine. idx is the shared Artifact index used to
// content-address each build's source bytes. A nil resolveFn defaults
// to the process-wide toolchain.Get registry.
func New(s *store.Store, ids idgen.Source, idx *artifact.Index, resolveFn func(language string) (toolchain.Handler, bool)) *Engine {
	if resolveFn == nil {
		resolveFn = toolchain.Get
	}
	return &Engine{store: s, ids: ids, index: idx, resolve: resolveFn}
}

// WithTester attaches a Tester consulted by Test.
func (e *Engine) WithTester(t Tester) *Engine {
	e.tester = t
	return e
}

// Config carries the recognized options for Build, per the "one config
// struct per operation" redesign (spec.md §9).
type Config struct {
	Concept           string
	Source            string
	Language          string
	Platform          string
	Deps              []string
	VersionConstraint string
}

// Result is the tagged result of Build.
type Result struct {
	Outcome      Outcome
	Build        string
	ArtifactHash string
	Errors       []string
}

// Build resolves cfg.Language's Toolchain handler for cfg.Platform,
// content-addresses cfg.Source (plus cfg.Deps) into pkg/artifact, and
// records a completed Build. Toolchain fatal variants (notInstalled,
// targetMissing, xcodeRequired, evmVersionUnsupported) are recorded as
// a failed Build and surfaced unchanged to the caller.
func (e *Engine) Build(ctx context.Context, cfg Config) (Result, error) {
	handler, ok := e.resolve(cfg.Language)
	if !ok {
		return e.recordFailure(cfg, OutcomeNotInstalled, []string{fmt.Sprintf("no toolchain registered for language %q", cfg.Language)})
	}

	resolved, err := handler.Resolve(ctx, cfg.Platform, cfg.VersionConstraint)
	if err != nil {
		return Result{}, fmt.Errorf("build: resolve toolchain for %s: %w", cfg.Concept, err)
	}
	switch resolved.Outcome {
	case toolchain.OutcomeNotInstalled:
		return e.recordFailure(cfg, OutcomeNotInstalled, []string{"toolchain not installed"})
	case toolchain.OutcomeTargetMissing:
		return e.recordFailure(cfg, OutcomeTargetMissing, []string{"build target missing"})
	case toolchain.OutcomeXcodeRequired:
		return e.recordFailure(cfg, OutcomeXcodeRequired, []string{"xcode required"})
	case toolchain.OutcomeEVMVersionUnsupported:
		return e.recordFailure(cfg, OutcomeEVMVersionUnsupported, []string{"unsupported EVM version"})
	}

	content := buildInput(cfg)
	rec, err := e.index.Build(ctx, cfg.Concept, cfg.Language, cfg.Platform, content)
	if err != nil {
		return e.recordFailure(cfg, OutcomeBuildFailed, []string{err.Error()})
	}

	id := e.ids.New("build")
	buildRec := store.BuildRecord{
		Build:        id,
		Concept:      cfg.Concept,
		Source:       cfg.Source,
		Language:     cfg.Language,
		Platform:     cfg.Platform,
		ArtifactHash: rec.Hash,
		Status:       store.BuildCompleted,
	}
	if err := store.Put(e.store, store.RelationBuild, id, buildRec); err != nil {
		return Result{}, err
	}

	return Result{Outcome: OutcomeOK, Build: id, ArtifactHash: rec.Hash}, nil
}

// buildInput derives the bytes Build content-addresses: the hash must
// be stable over (concept, source, implementation-bearing deps), per
// spec.md §4.3 "Artifact.build computes a hash over (concept, spec,
// implementation, deps)".
func buildInput(cfg Config) []byte {
	s := cfg.Concept + "\x00" + cfg.Source + "\x00" + cfg.Language + "\x00" + cfg.Platform
	for _, d := range cfg.Deps {
		s += "\x00" + d
	}
	return []byte(s)
}

func (e *Engine) recordFailure(cfg Config, outcome Outcome, errs []string) (Result, error) {
	id := e.ids.New("build")
	rec := store.BuildRecord{
		Build:    id,
		Concept:  cfg.Concept,
		Source:   cfg.Source,
		Language: cfg.Language,
		Platform: cfg.Platform,
		Status:   store.BuildFailed,
	}
	if err := store.Put(e.store, store.RelationBuild, id, rec); err != nil {
		return Result{}, err
	}
	return Result{Outcome: outcome, Build: id, Errors: errs}, nil
}

// TestResult is the tagged result of Test.
type TestResult struct {
	Outcome     Outcome
	TestsPassed bool
	TestType    string
}

// Test runs (or simulates, with no Tester attached) the test suite for
// an existing, successfully completed Build, and records testsRun /
// testsPassed on it (spec.md §3 invariant "testsPassed ⇒ testsRun").
func (e *Engine) Test(ctx context.Context, buildID string) (TestResult, error) {
	rec, ok, err := store.Get[store.BuildRecord](e.store, store.RelationBuild, buildID)
	if err != nil {
		return TestResult{}, err
	}
	if !ok {
		return TestResult{Outcome: OutcomeNotFound}, nil
	}
	if rec.Status != store.BuildCompleted {
		return TestResult{Outcome: OutcomeBuildFailed}, nil
	}

	var passed bool
	testType := "unit"
	if e.tester != nil {
		passed, testType, err = e.tester.RunTests(ctx, rec.Concept, rec.Language, []byte(rec.ArtifactHash))
		if err != nil {
			return TestResult{}, fmt.Errorf("build: run tests for %s: %w", rec.Concept, err)
		}
	} else {
		passed = true
	}

	rec.TestsRun = true
	rec.TestsPassed = passed
	rec.TestType = testType
	if err := store.Put(e.store, store.RelationBuild, buildID, rec); err != nil {
		return TestResult{}, err
	}

	return TestResult{Outcome: OutcomeOK, TestsPassed: passed, TestType: testType}, nil
}

// StatusResult is the tagged result of Status.
type StatusResult struct {
	Outcome     Outcome
	Status      store.BuildStatus
	TestsRun    bool
	TestsPassed bool
}

// Status reports a Build's completion and test state.
func (e *Engine) Status(ctx context.Context, buildID string) (StatusResult, error) {
	rec, ok, err := store.Get[store.BuildRecord](e.store, store.RelationBuild, buildID)
	if err != nil {
		return StatusResult{}, err
	}
	if !ok {
		return StatusResult{Outcome: OutcomeNotFound}, nil
	}
	return StatusResult{
		Outcome:     OutcomeOK,
		Status:      rec.Status,
		TestsRun:    rec.TestsRun,
		TestsPassed: rec.TestsPassed,
	}, nil
}

// History returns every Build recorded for concept, in the unspecified
// order of store.List; it does not sort. BuildRecord carries no
// timestamp, so the result does not reflect build order.
func (e *Engine) History(ctx context.Context, concept string) ([]store.BuildRecord, error) {
	all, err := store.List[store.BuildRecord](e.store, store.RelationBuild)
	if err != nil {
		return nil, err
	}
	var out []store.BuildRecord
	for _, rec := range all {
		if rec.Concept == concept {
			out = append(out, rec)
		}
	}
	return out, nil
}
