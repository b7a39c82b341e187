// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cloudya/deploy/cmd/cloudya-deploy/cli"
	"github.com/cloudya/deploy/lib/config"
	"github.com/cloudya/deploy/lib/plan"
)

// planReport is the JSON shape of a dry run.
type planReport struct {
	Target  string        `json:"target"`
	Phase   string        `json:"phase"`
	NoOp    bool          `json:"no_op"`
	Actions []plan.Action `json:"actions"`
}

func planCommand() *cli.Command {
	var (
		configPath string
		phaseName  string
		jsonOut    bool
	)

	return &cli.Command{
		Name:    "plan",
		Summary: "Show what a deploy would change, without changing it",
		Description: `Probe the target and print the change set a deploy run would
apply. Nothing is mutated.

Exits 0 when the target already matches the desired state and 1 when
changes are pending, so scripts can gate on drift.`,
		Usage: "cloudya-deploy plan --config <file> [flags]",
		Examples: []cli.Example{
			{
				Description: "Check a node for drift",
				Command:     "cloudya-deploy plan --config deploy.yaml",
			},
			{
				Description: "Machine-readable plan for CI",
				Command:     "cloudya-deploy plan --config deploy.yaml --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("plan", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "deployment configuration file (YAML)")
			flags.StringVar(&phaseName, "phase", "", "override the target phase (bootstrap or integrated)")
			flags.BoolVar(&jsonOut, "json", false, "output the plan as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("plan takes no positional arguments, got %q", args[0])
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if phaseName != "" {
				phase, err := config.ParsePhase(phaseName)
				if err != nil {
					return err
				}
				cfg.TargetPhase = phase
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := cli.NewCommandLogger().With("command", "plan", "target", cfg.TargetID())
			c, err := buildController(cfg, logger)
			if err != nil {
				return err
			}

			changeset, _, err := c.Plan(ctx)
			if err != nil {
				return err
			}

			if jsonOut {
				actions := changeset
				if changeset.IsNoOp() {
					actions = nil
				}
				if err := cli.WriteJSON(planReport{
					Target:  cfg.TargetID(),
					Phase:   cfg.TargetPhase.String(),
					NoOp:    changeset.IsNoOp(),
					Actions: actions,
				}); err != nil {
					return err
				}
			} else {
				renderChangeSet(os.Stdout, cfg.TargetID(), changeset)
			}

			if !changeset.IsNoOp() {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
