// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package httpapi exposes read-only HTTP status endpoints over the
// Deploy Planner, Rollout Controller, and Migration Engine, alongside
// health and Prometheus metrics endpoints, so external tooling can
// poll plan/rollout/migration status without going through the CLI.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	intbuild "github.com/conceptkit/orchestrator/internal/build"
	"github.com/conceptkit/orchestrator/internal/core/plan"
	"github.com/conceptkit/orchestrator/internal/migration"
	"github.com/conceptkit/orchestrator/internal/rollout"
	"github.com/conceptkit/orchestrator/pkg/telemetry"
)

// Dependencies are the core subsystems the status API reports on. Build
// is optional: a deployment with no registered Toolchain handlers still
// serves plan/rollout/migration status.
type Dependencies struct {
	Planner   *plan.Planner
	Rollout   *rollout.Controller
	Migration *migration.Engine
	Build     *intbuild.Engine
}

// NewRouter builds the chi.Router serving /healthz, /metrics, and the
// per-subsystem status routes.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", telemetry.Handler())

	r.Get("/plans/{id}", statusHandler("plan", func(ctx context.Context, id string) (any, error) {
		return deps.Planner.Status(ctx, id)
	}))
	r.Get("/rollouts/{id}", statusHandler("rollout", func(ctx context.Context, id string) (any, error) {
		return deps.Rollout.Status(ctx, id)
	}))
	r.Get("/migrations/{id}", statusHandler("migration", func(ctx context.Context, id string) (any, error) {
		return deps.Migration.Status(ctx, id)
	}))
	if deps.Build != nil {
		r.Get("/builds/{id}", statusHandler("build", func(ctx context.Context, id string) (any, error) {
			return deps.Build.Status(ctx, id)
		}))
	}

	return r
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		telemetry.OperationDuration.WithLabelValues(chi.RouteContext(r.Context()).RoutePattern()).Observe(time.Since(start).Seconds())
	})
}

func statusHandler(route string, fn func(ctx context.Context, id string) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := fn(r.Context(), id)
		if err != nil {
			telemetry.OperationsTotal.WithLabelValues(route, "error").Inc()
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprintf(w, "%s: %v", route, err)
			return
		}
		telemetry.OperationsTotal.WithLabelValues(route, "ok").Inc()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	}
}
