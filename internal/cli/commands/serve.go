// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	intbuild "github.com/conceptkit/orchestrator/internal/build"
	"github.com/conceptkit/orchestrator/internal/core/env"
	"github.com/conceptkit/orchestrator/internal/core/plan"
	"github.com/conceptkit/orchestrator/internal/httpapi"
	"github.com/conceptkit/orchestrator/internal/migration"
	rawengine "github.com/conceptkit/orchestrator/internal/providers/migration/raw"
	"github.com/conceptkit/orchestrator/internal/rollout"
	"github.com/conceptkit/orchestrator/pkg/config"
	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/logging"
)

// NewServeCommand returns the `orchestratord serve` command: an HTTP
// status/health API over the shared record store, alongside a
// Prometheus /metrics endpoint.
func NewServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP status and metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	return cmd
}

func runServe(cmd *cobra.Command, addr string) error {
	log := loggerFor(cmd)

	s, err := openStore()
	if err != nil {
		return err
	}
	ids := idgen.NewUUIDSource()
	registerProviders(cmd.Context(), s, ids, log)
	registerToolchains()

	idx, err := newArtifactIndex(s, ids)
	if err != nil {
		return err
	}

	planner := plan.New(s, ids, nil)
	if cfg, cfgErr := config.Load(config.DefaultConfigPath()); cfgErr == nil {
		planner = planner.WithEnvResolver(envResolverAdapter{r: env.NewResolver(cfg)})
	} else if cfgErr != config.ErrConfigNotFound {
		return cfgErr
	}

	deps := httpapi.Dependencies{
		Planner:   planner,
		Rollout:   rollout.New(s, ids, rollout.DefaultHealthCheck),
		Migration: migration.New(s, ids, migration.NewRawRunner(&rawengine.Engine{}, "migrations", "DATABASE_URL")),
		Build:     intbuild.New(s, ids, idx, nil),
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving", logging.NewField("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
