// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package main

import (
	"fmt"
	"os"

	"github.com/conceptkit/orchestrator/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		// We deliberately avoid printing Cobra's default error twice
		// and centralize exit code handling here.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
