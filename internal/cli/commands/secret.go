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
	"github.com/conceptkit/orchestrator/pkg/providers/secret"
)

// NewSecretCommand returns the `orchestratord secret` command tree,
// dispatching directly to the registered Secret provider backends
// (spec.md §4.3: fetch/rotate/exists/invalidateCache, plus Vault's
// renewLease).
func NewSecretCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Fetch, rotate, and inspect secrets across provider backends",
	}
	cmd.AddCommand(newSecretFetchCommand())
	cmd.AddCommand(newSecretRotateCommand())
	cmd.AddCommand(newSecretExistsCommand())
	cmd.AddCommand(newSecretInvalidateCacheCommand())
	cmd.AddCommand(newSecretRenewLeaseCommand())
	return cmd
}

func secretBackend(cmd *cobra.Command, backend string) (secret.Provider, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	ids := idgen.NewUUIDSource()
	registerProviders(cmd.Context(), s, ids, loggerFor(cmd))

	p, ok := secret.Get(backend)
	if !ok {
		return nil, fmt.Errorf("secret backend %q is not registered (available: %v)", backend, secret.IDs())
	}
	return p, nil
}

func newSecretFetchCommand() *cobra.Command {
	var backend, name string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a secret's current value and version",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := secretBackend(cmd, backend)
			if err != nil {
				return err
			}
			res, err := p.Fetch(cmd.Context(), name)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "registered secret backend id (vault, awssm, gcpsm, dotenv)")
	cmd.Flags().StringVar(&name, "name", "", "secret name")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSecretRotateCommand() *cobra.Command {
	var backend, name string
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate a secret, monotonically incrementing its version",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := secretBackend(cmd, backend)
			if err != nil {
				return err
			}
			res, err := p.Rotate(cmd.Context(), name)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "registered secret backend id")
	cmd.Flags().StringVar(&name, "name", "", "secret name")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSecretExistsCommand() *cobra.Command {
	var backend, name string
	cmd := &cobra.Command{
		Use:   "exists",
		Short: "Check whether a secret exists in a backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := secretBackend(cmd, backend)
			if err != nil {
				return err
			}
			res, err := p.Exists(cmd.Context(), name)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "registered secret backend id")
	cmd.Flags().StringVar(&name, "name", "", "secret name")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSecretInvalidateCacheCommand() *cobra.Command {
	var backend, name string
	cmd := &cobra.Command{
		Use:   "invalidate-cache",
		Short: "Invalidate a backend's cached copy of a secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := secretBackend(cmd, backend)
			if err != nil {
				return err
			}
			if err := p.InvalidateCache(cmd.Context(), name); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"outcome": "ok"})
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "registered secret backend id")
	cmd.Flags().StringVar(&name, "name", "", "secret name")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSecretRenewLeaseCommand() *cobra.Command {
	var backend, leaseID string
	cmd := &cobra.Command{
		Use:   "renew-lease",
		Short: "Renew a Vault lease (leaseExpired if the lease record is absent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := secretBackend(cmd, backend)
			if err != nil {
				return err
			}
			renewer, ok := p.(secret.LeaseRenewer)
			if !ok {
				return fmt.Errorf("secret backend %q does not support renewLease", backend)
			}
			res, err := renewer.RenewLease(cmd.Context(), leaseID)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "registered secret backend id (vault)")
	cmd.Flags().StringVar(&leaseID, "lease-id", "", "lease id returned by fetch")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("lease-id")
	return cmd
}
