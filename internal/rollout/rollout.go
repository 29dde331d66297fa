// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package rollout implements the Rollout Controller of spec.md §4.2: a
// state machine that advances traffic-weight steps between a deploy
// and its live endpoint, with pause/resume/abort and health-gated
// progression.
//
// Package rollout owns relation store.RelationRollout exclusively
// (spec.md §3 "Ownership").
package rollout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// Outcome discriminates a result's populated payload, per the tagged-
// variant redesign flag (spec.md §9).
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeInvalidStrategy Outcome = "invalidStrategy"
	OutcomeComplete        Outcome = "complete"
	OutcomePaused          Outcome = "paused"
	OutcomeAlreadyComplete Outcome = "alreadyComplete"
	OutcomeNotFound        Outcome = "notfound"
)

// defaultSteps maps each recognized strategy to its weight-step
// sequence (spec.md §4.2).
var defaultSteps = map[string][]int{
	"canary":     {10, 25, 50, 100},
	"linear":     {20, 40, 60, 80, 100},
	"blue-green": {0, 100},
	"immediate":  {100},
}

func isRecognizedStrategy(strategy string) bool {
	_, ok := defaultSteps[strategy]
	return ok
}

// Controller is the Rollout Controller.
type Controller struct {
	store *store.Store
	ids   idgen.Source

	// healthCheck is consulted by Advance before shifting weight when
	// instance is non-empty: an unreachable instance translates a would-be
	// advance into a paused{reason: "unhealthy"} result (spec.md §7
	// "Rollouts translate provider unreachable ... into pause").
	healthCheck func(ctx context.Context, runtimeType, instance string) (bool, error)

	mu sync.Mutex
}

// New constructs a Controller. A nil healthCheck disables health
// gating; Advance then always proceeds on weight alone.
func New(s *store.Store, ids idgen.Source, healthCheck func(ctx context.Context, runtimeType, instance string) (bool, error)) *Controller {
	return &Controller{store: s, ids: ids, healthCheck: healthCheck}
}

// DefaultHealthCheck gates on the runtime provider registry's
// HealthCheck operation (pkg/providers/runtime), for callers that want
// the out-of-the-box wiring instead of a custom health predicate.
func DefaultHealthCheck(ctx context.Context, runtimeType, instance string) (bool, error) {
	prov, ok := runtime.Get(runtimeType)
	if !ok {
		return false, fmt.Errorf("rollout: no runtime provider registered for %q", runtimeType)
	}
	res, err := prov.HealthCheck(ctx, instance)
	if err != nil {
		return false, err
	}
	return res.Outcome == runtime.OutcomeOK, nil
}

// BeginResult is the tagged result of Begin.
type BeginResult struct {
	Outcome Outcome
	Rollout string
}

// Begin creates a Rollout attached to plan, with strategy's weight-step
// sequence (or the caller-supplied steps override), status active,
// currentStep 1, currentWeight 0.
func (c *Controller) Begin(ctx context.Context, planID, strategy string, steps []int) (BeginResult, error) {
	if !isRecognizedStrategy(strategy) {
		return BeginResult{Outcome: OutcomeInvalidStrategy}, nil
	}

	weightSteps := steps
	if len(weightSteps) == 0 {
		weightSteps = append([]int(nil), defaultSteps[strategy]...)
	}

	id := c.ids.New("rollout")
	rec := store.RolloutRecord{
		Rollout:       id,
		Plan:          planID,
		Strategy:      strategy,
		WeightSteps:   weightSteps,
		CurrentStep:   1,
		CurrentWeight: 0,
		Status:        store.RolloutActive,
		StartedAt:     time.Now().UTC(),
	}
	if err := store.Put(c.store, store.RelationRollout, id, rec); err != nil {
		return BeginResult{}, err
	}
	return BeginResult{Outcome: OutcomeOK, Rollout: id}, nil
}

// AdvanceResult is the tagged result of Advance.
type AdvanceResult struct {
	Outcome Outcome
	Step    int
	Weight  int
	Reason  string
}

// Advance is serialized per-controller (spec.md §5 "only one step
// increment observable at a time"): it reads the rollout, checks
// status and health, and either shifts to the next weight step or
// returns the appropriate non-ok variant without mutating state twice.
func (c *Controller) Advance(ctx context.Context, rolloutID string, instance string) (AdvanceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok, err := store.Get[store.RolloutRecord](c.store, store.RelationRollout, rolloutID)
	if err != nil {
		return AdvanceResult{}, err
	}
	if !ok {
		return AdvanceResult{Outcome: OutcomeNotFound}, nil
	}

	if rec.Status == store.RolloutComplete {
		return AdvanceResult{Outcome: OutcomeComplete, Step: rec.CurrentStep, Weight: rec.CurrentWeight}, nil
	}
	if rec.Status != store.RolloutActive {
		return AdvanceResult{Outcome: OutcomePaused, Reason: rec.PauseReason}, nil
	}

	if c.healthCheck != nil && instance != "" {
		instRec, ok, err := store.Get[store.RuntimeInstanceRecord](c.store, store.RelationRuntimeInstance, instance)
		if err != nil {
			return AdvanceResult{}, err
		}
		if !ok {
			return AdvanceResult{}, fmt.Errorf("rollout: no runtime instance %q", instance)
		}
		healthy, err := c.healthCheck(ctx, instRec.RuntimeType, instance)
		if err != nil {
			return AdvanceResult{}, err
		}
		if !healthy {
			rec.Status = store.RolloutPaused
			rec.PauseReason = "unhealthy"
			if err := store.Put(c.store, store.RelationRollout, rolloutID, rec); err != nil {
				return AdvanceResult{}, err
			}
			return AdvanceResult{Outcome: OutcomePaused, Reason: "unhealthy"}, nil
		}
	}

	// currentStep is 1 right after Begin and counts completed steps plus
	// one; once it exceeds len(weightSteps) every step has been read back
	// (spec.md §8 property 4: weight 100 reached in exactly len(weightSteps)
	// advances, a fifth call then reports complete).
	if rec.CurrentStep > len(rec.WeightSteps) {
		rec.Status = store.RolloutComplete
		if err := store.Put(c.store, store.RelationRollout, rolloutID, rec); err != nil {
			return AdvanceResult{}, err
		}
		return AdvanceResult{Outcome: OutcomeComplete, Step: rec.CurrentStep, Weight: rec.CurrentWeight}, nil
	}

	rec.CurrentWeight = rec.WeightSteps[rec.CurrentStep-1]
	rec.CurrentStep++

	if err := store.Put(c.store, store.RelationRollout, rolloutID, rec); err != nil {
		return AdvanceResult{}, err
	}
	return AdvanceResult{Outcome: OutcomeOK, Step: rec.CurrentStep, Weight: rec.CurrentWeight}, nil
}

// PauseResult is the tagged result of Pause and Resume.
type PauseResult struct {
	Outcome Outcome
	Status  store.RolloutStatus
}

// Pause flips an active rollout to paused, recording reason. It is a
// no-op (returns the existing state) if already paused.
func (c *Controller) Pause(ctx context.Context, rolloutID, reason string) (PauseResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok, err := store.Get[store.RolloutRecord](c.store, store.RelationRollout, rolloutID)
	if err != nil {
		return PauseResult{}, err
	}
	if !ok {
		return PauseResult{Outcome: OutcomeNotFound}, nil
	}
	if rec.Status == store.RolloutPaused {
		return PauseResult{Outcome: OutcomeOK, Status: rec.Status}, nil
	}
	rec.Status = store.RolloutPaused
	rec.PauseReason = reason
	if err := store.Put(c.store, store.RelationRollout, rolloutID, rec); err != nil {
		return PauseResult{}, err
	}
	return PauseResult{Outcome: OutcomeOK, Status: rec.Status}, nil
}

// Resume flips a paused rollout back to active. It is a no-op if
// already active.
func (c *Controller) Resume(ctx context.Context, rolloutID string) (PauseResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok, err := store.Get[store.RolloutRecord](c.store, store.RelationRollout, rolloutID)
	if err != nil {
		return PauseResult{}, err
	}
	if !ok {
		return PauseResult{Outcome: OutcomeNotFound}, nil
	}
	if rec.Status == store.RolloutActive {
		return PauseResult{Outcome: OutcomeOK, Status: rec.Status}, nil
	}
	rec.Status = store.RolloutActive
	rec.PauseReason = ""
	if err := store.Put(c.store, store.RelationRollout, rolloutID, rec); err != nil {
		return PauseResult{}, err
	}
	return PauseResult{Outcome: OutcomeOK, Status: rec.Status}, nil
}

// AbortResult is the tagged result of Abort.
type AbortResult struct {
	Outcome Outcome
}

// Abort is the only transition that resets currentWeight to 0 (spec.md
// §4.2 invariant). alreadyComplete is returned if the rollout had
// already finished.
func (c *Controller) Abort(ctx context.Context, rolloutID string) (AbortResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok, err := store.Get[store.RolloutRecord](c.store, store.RelationRollout, rolloutID)
	if err != nil {
		return AbortResult{}, err
	}
	if !ok {
		return AbortResult{Outcome: OutcomeNotFound}, nil
	}
	if rec.Status == store.RolloutComplete {
		return AbortResult{Outcome: OutcomeAlreadyComplete}, nil
	}
	rec.Status = store.RolloutAborted
	rec.CurrentWeight = 0
	if err := store.Put(c.store, store.RelationRollout, rolloutID, rec); err != nil {
		return AbortResult{}, err
	}
	return AbortResult{Outcome: OutcomeOK}, nil
}

// StatusResult is the tagged result of Status.
type StatusResult struct {
	Outcome Outcome
	Step    int
	Weight  int
	Status  store.RolloutStatus
	Elapsed time.Duration
}

// Status reports a rollout's current step, weight, status, and elapsed
// time since it began.
func (c *Controller) Status(ctx context.Context, rolloutID string) (StatusResult, error) {
	rec, ok, err := store.Get[store.RolloutRecord](c.store, store.RelationRollout, rolloutID)
	if err != nil {
		return StatusResult{}, err
	}
	if !ok {
		return StatusResult{Outcome: OutcomeNotFound}, nil
	}
	return StatusResult{
		Outcome: OutcomeOK,
		Step:    rec.CurrentStep,
		Weight:  rec.CurrentWeight,
		Status:  rec.Status,
		Elapsed: time.Since(rec.StartedAt),
	}, nil
}
