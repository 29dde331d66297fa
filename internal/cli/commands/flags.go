// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package commands

import (
	"github.com/spf13/cobra"

	"github.com/conceptkit/orchestrator/pkg/logging"
)

// loggerFor builds a Logger honoring the root command's --verbose flag.
func loggerFor(cmd *cobra.Command) logging.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	return logging.NewLogger(verbose)
}
