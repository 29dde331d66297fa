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

	"github.com/conceptkit/orchestrator/internal/rollout"
	"github.com/conceptkit/orchestrator/pkg/idgen"
)

// NewRolloutCommand returns the `orchestratord rollout` command tree.
func NewRolloutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Begin, advance, pause, resume, and abort weighted rollouts",
	}

	cmd.AddCommand(newRolloutBeginCommand())
	cmd.AddCommand(newRolloutAdvanceCommand())
	cmd.AddCommand(newRolloutPauseCommand())
	cmd.AddCommand(newRolloutResumeCommand())
	cmd.AddCommand(newRolloutAbortCommand())
	cmd.AddCommand(newRolloutStatusCommand())

	return cmd
}

func newController(cmd *cobra.Command) (*rollout.Controller, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	ids := idgen.NewUUIDSource()
	registerProviders(cmd.Context(), s, ids, loggerFor(cmd))
	return rollout.New(s, ids, rollout.DefaultHealthCheck), nil
}

func newRolloutBeginCommand() *cobra.Command {
	var planID, strategy string
	var steps []int
	cmd := &cobra.Command{
		Use:   "begin",
		Short: "Create a rollout attached to a plan with a weight-step strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newController(cmd)
			if err != nil {
				return err
			}
			res, err := c.Begin(cmd.Context(), planID, strategy, steps)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "deploy plan ID this rollout attaches to")
	cmd.Flags().StringVar(&strategy, "strategy", "canary", "rollout strategy: canary, linear, blue-green, immediate")
	cmd.Flags().IntSliceVar(&steps, "steps", nil, "override the strategy's default weight steps")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newRolloutAdvanceCommand() *cobra.Command {
	var instance string
	cmd := &cobra.Command{
		Use:   "advance <rollout-id>",
		Short: "Shift a rollout to its next weight step after a health check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newController(cmd)
			if err != nil {
				return err
			}
			res, err := c.Advance(cmd.Context(), args[0], instance)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "runtime instance to health-check before advancing")
	return cmd
}

func newRolloutPauseCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "pause <rollout-id>",
		Short: "Flip an active rollout to paused",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newController(cmd)
			if err != nil {
				return err
			}
			res, err := c.Pause(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded for the pause")
	return cmd
}

func newRolloutResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <rollout-id>",
		Short: "Flip a paused rollout back to active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newController(cmd)
			if err != nil {
				return err
			}
			res, err := c.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}

func newRolloutAbortCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abort <rollout-id>",
		Short: "Abort a rollout and reset its weight to 0",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newController(cmd)
			if err != nil {
				return err
			}
			res, err := c.Abort(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}

func newRolloutStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <rollout-id>",
		Short: "Report a rollout's current step, weight, status, and elapsed time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newController(cmd)
			if err != nil {
				return err
			}
			res, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	return cmd
}
