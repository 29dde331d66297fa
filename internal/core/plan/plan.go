// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package plan implements the Deploy Planner & Executor of spec.md
// §4.1: it turns a kit manifest into a dependency DAG, validates it
// against provider schema-compatibility rules, executes nodes in
// topological order bounded by a per-plan concurrency cap, and rolls
// back the completed prefix on failure.
//
// Package plan owns relation store.RelationDeployPlan exclusively
// (spec.md §3 "Ownership"): no other package writes a DeployPlanRecord.
package plan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// defaultNodeEstimate is the per-node duration used when a provider does
// not implement Estimator (spec.md §4.1 "default 60s").
const defaultNodeEstimate = 60 * time.Second

// defaultConcurrency is the per-plan concurrency cap (spec.md §5).
const defaultConcurrency = 4

// Outcome discriminates a result's populated payload, per the tagged-
// variant redesign flag (spec.md §9).
type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeInvalidManifest   Outcome = "invalidManifest"
	OutcomeSchemaIncompatible Outcome = "schemaIncompatible"
	OutcomeRollbackFailed    Outcome = "rollbackFailed"
	OutcomePartial           Outcome = "partial"
	OutcomeNotFound          Outcome = "notfound"
)

// Node is one concept deployment unit in a kit manifest. DependsOn
// names sibling node IDs that must deploy first (spec.md §4.1 "edge a
// -> b means b depends on a").
type Node struct {
	ID          string
	RuntimeType string
	RuntimeConfig map[string]any
	DependsOn   []string

	// OldSchema/NewSchema/Mode are passed to the runtime provider's
	// Checker.Check during validate, when the provider implements it.
	// Mode is one of "backward", "forward", "full".
	OldSchema string
	NewSchema string
	Mode      string
}

// Manifest is the structured form of the opaque kit manifest string of
// spec.md §6: the set of concept deployment nodes and their edges.
type Manifest struct {
	Nodes []Node
}

func (m Manifest) empty() bool { return len(m.Nodes) == 0 }

// Checker is optionally implemented by a runtime.Provider to back
// validate's schema-compatibility delegation (spec.md §4.1).
type Checker interface {
	Check(ctx context.Context, oldSchema, newSchema, mode string) (bool, error)
}

// Estimator is optionally implemented by a runtime.Provider to supply a
// per-node duration estimate for plan's estimatedDuration sum.
type Estimator interface {
	EstimateDuration(ctx context.Context, cfg runtime.ProvisionConfig) time.Duration
}

// EnvResolver backs the "environment name must be resolvable by the Env
// sub-service" requirement of spec.md §6. internal/core/env.Resolver
// satisfies this through a thin adapter, since its Resolve method
// returns a *env.Context rather than a bare error. A nil EnvResolver
// skips the check, so Plan accepts any non-empty environment name.
type EnvResolver interface {
	Resolve(ctx context.Context, name string) error
}

// Planner is the Deploy Planner & Executor. It dispatches node
// operations through the runtime provider registry (pkg/providers/registry
// via pkg/providers/runtime) and records every mutation in the shared
// record store.
type Planner struct {
	store   *store.Store
	ids     idgen.Source
	runtime func(id string) (runtime.Provider, bool)
	env     EnvResolver

	concurrency int64

	mu        sync.Mutex
	manifests map[string]Manifest
}

// New constructs a Planner. A nil runtimeLookup defaults to the
// process-wide runtime.Get registry.
func New(s *store.Store, ids idgen.Source, runtimeLookup func(id string) (runtime.Provider, bool)) *Planner {
	if runtimeLookup == nil {
		runtimeLookup = runtime.Get
	}
	return &Planner{
		store:       s,
		ids:         ids,
		runtime:     runtimeLookup,
		concurrency: defaultConcurrency,
		manifests:   make(map[string]Manifest),
	}
}

// WithConcurrency overrides the per-plan concurrency cap (default 4).
func (p *Planner) WithConcurrency(n int) *Planner {
	if n > 0 {
		p.concurrency = int64(n)
	}
	return p
}

// WithEnvResolver sets the Env sub-service Plan consults to validate the
// environment name passed to Plan. Without one, any non-empty name is
// accepted.
func (p *Planner) WithEnvResolver(r EnvResolver) *Planner {
	p.env = r
	return p
}

// PlanResult is the tagged result of Plan.
type PlanResult struct {
	Outcome           Outcome
	Plan              string
	GraphNodes        []string
	GraphEdges        []store.DeployPlanEdge
	EstimatedDuration time.Duration
	Errors            []string
}

// Plan builds a plan's DAG from manifest and stores it with phase
// "planned". Cycles and empty inputs are rejected as invalidManifest.
func (p *Planner) Plan(ctx context.Context, manifest Manifest, environment string) (PlanResult, error) {
	if manifest.empty() || environment == "" {
		return PlanResult{Outcome: OutcomeInvalidManifest, Errors: []string{"manifest and environment must be non-empty"}}, nil
	}
	if p.env != nil {
		if err := p.env.Resolve(ctx, environment); err != nil {
			return PlanResult{Outcome: OutcomeInvalidManifest, Errors: []string{fmt.Sprintf("environment %q: %v", environment, err)}}, nil
		}
	}

	nodeIDs := make(map[string]bool, len(manifest.Nodes))
	for _, n := range manifest.Nodes {
		if n.ID == "" {
			return PlanResult{Outcome: OutcomeInvalidManifest, Errors: []string{"node id must not be empty"}}, nil
		}
		if nodeIDs[n.ID] {
			return PlanResult{Outcome: OutcomeInvalidManifest, Errors: []string{fmt.Sprintf("duplicate node id %q", n.ID)}}, nil
		}
		nodeIDs[n.ID] = true
	}

	var edges []store.DeployPlanEdge
	for _, n := range manifest.Nodes {
		for _, dep := range n.DependsOn {
			if !nodeIDs[dep] {
				return PlanResult{Outcome: OutcomeInvalidManifest, Errors: []string{fmt.Sprintf("node %q depends on unknown node %q", n.ID, dep)}}, nil
			}
			edges = append(edges, store.DeployPlanEdge{From: dep, To: n.ID})
		}
	}

	order, err := topoOrder(manifest.Nodes, edges)
	if err != nil {
		return PlanResult{Outcome: OutcomeInvalidManifest, Errors: []string{err.Error()}}, nil
	}

	var estimated time.Duration
	for _, n := range manifest.Nodes {
		estimated += p.nodeEstimate(ctx, n)
	}

	graphNodes := make([]string, 0, len(manifest.Nodes))
	for _, n := range manifest.Nodes {
		graphNodes = append(graphNodes, n.ID)
	}

	id := p.ids.New("dp")
	rec := store.DeployPlanRecord{
		Plan:              id,
		Manifest:          encodeManifest(manifest),
		Environment:       environment,
		GraphNodes:        graphNodes,
		GraphEdges:        edges,
		Phase:             store.PlanPhasePlanned,
		EstimatedDuration: estimated,
		CreatedAt:         time.Now().UTC(),
	}
	if err := store.Put(p.store, store.RelationDeployPlan, id, rec); err != nil {
		return PlanResult{}, err
	}
	p.saveManifest(id, manifest)
	_ = order // order is recomputed at execute time; kept here only to validate acyclicity now

	return PlanResult{
		Outcome:           OutcomeOK,
		Plan:              id,
		GraphNodes:        graphNodes,
		GraphEdges:        edges,
		EstimatedDuration: estimated,
	}, nil
}

func (p *Planner) nodeEstimate(ctx context.Context, n Node) time.Duration {
	prov, ok := p.runtime(n.RuntimeType)
	if !ok {
		return defaultNodeEstimate
	}
	if est, ok := prov.(Estimator); ok {
		if d := est.EstimateDuration(ctx, runtime.ProvisionConfig{RuntimeType: n.RuntimeType, RawOptions: n.RuntimeConfig}); d > 0 {
			return d
		}
	}
	return defaultNodeEstimate
}

// saveManifest keeps the structured Manifest keyed by plan ID: it is
// not itself a store relation (spec.md §6 treats the manifest as an
// opaque string owned by an external collaborator), but the planner
// needs the structured form again at validate/execute time within the
// same process.
func (p *Planner) saveManifest(planID string, m Manifest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.manifests[planID] = m
}

func (p *Planner) loadManifest(planID string) Manifest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manifests[planID]
}

func encodeManifest(m Manifest) string {
	ids := make([]string, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	return fmt.Sprintf("manifest(%d nodes: %v)", len(m.Nodes), ids)
}

// topoOrder returns a stable, lexicographically tie-broken topological
// order over nodes, or an error if edges form a cycle.
func topoOrder(nodes []Node, edges []store.DeployPlanEdge) ([]string, error) {
	indeg := make(map[string]int, len(nodes))
	adj := make(map[string][]string)
	for _, n := range nodes {
		indeg[n.ID] = 0
	}
	for _, e := range edges {
		indeg[e.To]++
		adj[e.From] = append(adj[e.From], e.To)
	}

	var ready []string
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := append([]string(nil), adj[id]...)
		sort.Strings(next)
		for _, to := range next {
			indeg[to]--
			if indeg[to] == 0 {
				ready = append(ready, to)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, fmt.Errorf("plan: manifest graph contains a cycle")
	}
	return order, nil
}

// layers groups nodes into dependency layers: every node in layer k
// depends only on nodes in layers 0..k-1, so nodes within a layer may
// execute concurrently (spec.md §5 "independent DAG nodes may execute
// in parallel").
func layers(nodes []Node, edges []store.DeployPlanEdge) ([][]string, error) {
	indeg := make(map[string]int, len(nodes))
	adj := make(map[string][]string)
	for _, n := range nodes {
		indeg[n.ID] = 0
	}
	for _, e := range edges {
		indeg[e.To]++
		adj[e.From] = append(adj[e.From], e.To)
	}

	var out [][]string
	remaining := len(nodes)
	for remaining > 0 {
		var layer []string
		for id, d := range indeg {
			if d == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return nil, fmt.Errorf("plan: manifest graph contains a cycle")
		}
		sort.Strings(layer)
		out = append(out, layer)
		for _, id := range layer {
			delete(indeg, id)
			remaining--
			next := append([]string(nil), adj[id]...)
			sort.Strings(next)
			for _, to := range next {
				indeg[to]--
			}
		}
	}
	return out, nil
}

// ValidateResult is the tagged result of Validate.
type ValidateResult struct {
	Outcome  Outcome
	Warnings []string
	Details  []string
}

// Validate checks schema compatibility for every node whose runtime
// provider implements Checker, and advances phase planned -> validated.
func (p *Planner) Validate(ctx context.Context, planID string) (ValidateResult, error) {
	rec, ok, err := store.Get[store.DeployPlanRecord](p.store, store.RelationDeployPlan, planID)
	if err != nil {
		return ValidateResult{}, err
	}
	if !ok {
		return ValidateResult{Outcome: OutcomeNotFound}, nil
	}

	manifest := p.loadManifest(planID)
	var warnings, details []string
	for _, n := range manifest.Nodes {
		if n.OldSchema == "" && n.NewSchema == "" {
			continue
		}
		prov, ok := p.runtime(n.RuntimeType)
		if !ok {
			continue
		}
		checker, ok := prov.(Checker)
		if !ok {
			continue
		}
		mode := n.Mode
		if mode == "" {
			mode = "full"
		}
		compatible, err := checker.Check(ctx, n.OldSchema, n.NewSchema, mode)
		if err != nil {
			return ValidateResult{}, fmt.Errorf("plan: schema check node %s: %w", n.ID, err)
		}
		if !compatible {
			details = append(details, fmt.Sprintf("node %s: schema incompatible in %s mode", n.ID, mode))
		}
	}

	if len(details) > 0 {
		return ValidateResult{Outcome: OutcomeSchemaIncompatible, Details: details}, nil
	}

	rec.Phase = store.PlanPhaseValidated
	if err := store.Put(p.store, store.RelationDeployPlan, planID, rec); err != nil {
		return ValidateResult{}, err
	}
	return ValidateResult{Outcome: OutcomeOK, Warnings: warnings}, nil
}

// ExecuteResult is the tagged result of Execute.
type ExecuteResult struct {
	Outcome       Outcome
	Duration      time.Duration
	NodesDeployed []string
	Reason        string
	Stuck         []string
}

// Execute runs every graph node in topological order, bounded by the
// per-plan concurrency cap, and rolls back the completed prefix on any
// node failure.
func (p *Planner) Execute(ctx context.Context, planID string) (ExecuteResult, error) {
	rec, ok, err := store.Get[store.DeployPlanRecord](p.store, store.RelationDeployPlan, planID)
	if err != nil {
		return ExecuteResult{}, err
	}
	if !ok {
		return ExecuteResult{Outcome: OutcomeNotFound}, nil
	}

	manifest := p.loadManifest(planID)
	byID := make(map[string]Node, len(manifest.Nodes))
	for _, n := range manifest.Nodes {
		byID[n.ID] = n
	}

	nodeLayers, err := layers(manifest.Nodes, rec.GraphEdges)
	if err != nil {
		return ExecuteResult{}, err
	}

	rec.Phase = store.PlanPhaseExecuting
	if err := store.Put(p.store, store.RelationDeployPlan, planID, rec); err != nil {
		return ExecuteResult{}, err
	}

	start := time.Now()
	sem := semaphore.NewWeighted(p.concurrency)

	var failedNode string
	var failErr error

layerLoop:
	for _, layer := range nodeLayers {
		g, gctx := errgroup.WithContext(ctx)
		results := make([]struct {
			id       string
			instance string
			backend  string
			err      error
		}, len(layer))

		for i, id := range layer {
			i, id := i, id
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)

				n := byID[id]
				prov, ok := p.runtime(n.RuntimeType)
				if !ok {
					results[i] = struct {
						id       string
						instance string
						backend  string
						err      error
					}{id: id, err: fmt.Errorf("plan: no runtime provider registered for %q", n.RuntimeType)}
					return nil
				}
				res, err := prov.Provision(gctx, runtime.ProvisionConfig{
					Concept:     id,
					RuntimeType: n.RuntimeType,
					RawOptions:  n.RuntimeConfig,
				})
				if err != nil {
					results[i] = struct {
						id       string
						instance string
						backend  string
						err      error
					}{id: id, err: err}
					return nil
				}
				if res.Outcome != runtime.OutcomeOK && res.Outcome != runtime.OutcomeAlreadyProvisioned {
					results[i] = struct {
						id       string
						instance string
						backend  string
						err      error
					}{id: id, err: fmt.Errorf("plan: node %s provision outcome %s", id, res.Outcome)}
					return nil
				}
				results[i] = struct {
					id       string
					instance string
					backend  string
					err      error
				}{id: id, instance: res.Instance, backend: n.RuntimeType}
				return nil
			})
		}
		// errgroup.Wait only returns non-nil for context cancellation; node
		// failures are carried through the results slice so that siblings
		// in the same layer still get a chance to report their own outcome.
		_ = g.Wait()

		for _, r := range results {
			if r.err != nil {
				if failedNode == "" {
					failedNode = r.id
					failErr = r.err
				}
				continue
			}
			rec.CompletedNodes = append(rec.CompletedNodes, r.id)
			rec.RollbackStack = append(rec.RollbackStack, store.InverseOp{
				NodeID:   r.id,
				Family:   "runtime",
				Backend:  r.backend,
				Instance: r.instance,
			})
		}
		if err := store.Put(p.store, store.RelationDeployPlan, planID, rec); err != nil {
			return ExecuteResult{}, err
		}
		if failedNode != "" {
			break layerLoop
		}
	}

	if failedNode != "" {
		rec.FailedNodes = append(rec.FailedNodes, failedNode)
		if err := store.Put(p.store, store.RelationDeployPlan, planID, rec); err != nil {
			return ExecuteResult{}, err
		}

		rbResult, err := p.rollbackStack(ctx, planID, rec)
		if err != nil {
			return ExecuteResult{}, err
		}
		if rbResult.Outcome == OutcomePartial {
			return ExecuteResult{
				Outcome: OutcomeRollbackFailed,
				Reason:  failErr.Error(),
				Stuck:   rbResult.Stuck,
			}, nil
		}
		return ExecuteResult{
			Outcome: OutcomeRollbackFailed,
			Reason:  failErr.Error(),
		}, nil
	}

	rec.Phase = store.PlanPhaseExecuted
	if err := store.Put(p.store, store.RelationDeployPlan, planID, rec); err != nil {
		return ExecuteResult{}, err
	}

	return ExecuteResult{
		Outcome:       OutcomeOK,
		Duration:      time.Since(start),
		NodesDeployed: rec.CompletedNodes,
	}, nil
}

// RollbackResult is the tagged result of Rollback.
type RollbackResult struct {
	Outcome    Outcome
	RolledBack []string
	Stuck      []string
}

// Rollback invokes the inverse of every completed node in reverse
// order. It may be called directly (caller-initiated rollback) or
// internally by Execute on node failure.
func (p *Planner) Rollback(ctx context.Context, planID string) (RollbackResult, error) {
	rec, ok, err := store.Get[store.DeployPlanRecord](p.store, store.RelationDeployPlan, planID)
	if err != nil {
		return RollbackResult{}, err
	}
	if !ok {
		return RollbackResult{Outcome: OutcomeNotFound}, nil
	}
	return p.rollbackStack(ctx, planID, rec)
}

func (p *Planner) rollbackStack(ctx context.Context, planID string, rec store.DeployPlanRecord) (RollbackResult, error) {
	var rolledBack, stuck []string

	for i := len(rec.RollbackStack) - 1; i >= 0; i-- {
		op := rec.RollbackStack[i]
		prov, ok := p.runtime(op.Backend)
		if !ok {
			stuck = append(stuck, op.NodeID)
			continue
		}
		res, err := prov.Destroy(ctx, op.Instance)
		if err != nil || res.Outcome != runtime.OutcomeOK {
			stuck = append(stuck, op.NodeID)
			continue
		}
		rolledBack = append(rolledBack, op.NodeID)
	}

	rec.RollbackStack = nil
	if len(stuck) > 0 {
		rec.Phase = store.PlanPhaseFailed
	} else {
		rec.Phase = store.PlanPhaseRolledBack
	}
	if err := store.Put(p.store, store.RelationDeployPlan, planID, rec); err != nil {
		return RollbackResult{}, err
	}

	if len(stuck) > 0 {
		return RollbackResult{Outcome: OutcomePartial, RolledBack: rolledBack, Stuck: stuck}, nil
	}
	return RollbackResult{Outcome: OutcomeOK, RolledBack: rolledBack}, nil
}

// StatusResult is the tagged result of Status.
type StatusResult struct {
	Outcome     Outcome
	Phase       store.DeployPlanPhase
	Progress    float64
	ActiveNodes []string
}

// Status reports a plan's phase and completion progress.
func (p *Planner) Status(ctx context.Context, planID string) (StatusResult, error) {
	rec, ok, err := store.Get[store.DeployPlanRecord](p.store, store.RelationDeployPlan, planID)
	if err != nil {
		return StatusResult{}, err
	}
	if !ok {
		return StatusResult{Outcome: OutcomeNotFound}, nil
	}

	var progress float64
	if len(rec.GraphNodes) > 0 {
		progress = float64(len(rec.CompletedNodes)) / float64(len(rec.GraphNodes))
	}

	var active []string
	if rec.Phase == store.PlanPhaseExecuting {
		completed := make(map[string]bool, len(rec.CompletedNodes))
		for _, id := range rec.CompletedNodes {
			completed[id] = true
		}
		for _, id := range rec.GraphNodes {
			if !completed[id] {
				active = append(active, id)
			}
		}
	}

	return StatusResult{
		Outcome:     OutcomeOK,
		Phase:       rec.Phase,
		Progress:    progress,
		ActiveNodes: active,
	}, nil
}
