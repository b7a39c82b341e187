// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cloudya/deploy/cmd/cloudya-deploy/cli"
	"github.com/cloudya/deploy/lib/config"
	"github.com/cloudya/deploy/lib/controller"
	"github.com/cloudya/deploy/lib/manifest"
)

// runReport is the JSON shape of one target's run outcome.
type runReport struct {
	Target            string `json:"target"`
	Outcome           string `json:"outcome"`
	Phase             string `json:"phase"`
	ActionsApplied    int    `json:"actions_applied"`
	Version           string `json:"version"`
	ConfigFingerprint string `json:"config_fingerprint"`
	Error             string `json:"error,omitempty"`
}

func reportFor(target string, result controller.Result, err error) runReport {
	report := runReport{
		Target:            target,
		Outcome:           result.Outcome.String(),
		Phase:             result.Phase.String(),
		ActionsApplied:    result.Applied.MutationCount(),
		Version:           result.Final.InstalledVersion,
		ConfigFingerprint: result.Final.ConfigFingerprint.String(),
	}
	if err != nil {
		report.Error = err.Error()
	}
	return report
}

func deployCommand() *cli.Command {
	var (
		configPath      string
		manifestPath    string
		phaseName       string
		versionOverride string
		allowDowngrade  bool
		waitLock        bool
		jsonOut         bool
	)

	return &cli.Command{
		Name:    "deploy",
		Summary: "Converge a target (or fleet) to the desired state",
		Description: `Run one full deployment: probe the target, synthesize the desired
configuration, compute the minimal change set, snapshot, apply, and
verify. A second run against an unchanged target applies nothing and
reports "no changes needed".

With --manifest, every target in the manifest is deployed in
parallel. Targets are independent: each holds its own lock and one
failure does not stop the others.`,
		Usage: "cloudya-deploy deploy --config <file> [flags]",
		Examples: []cli.Example{
			{
				Description: "Bootstrap a single node",
				Command:     "cloudya-deploy deploy --config deploy.yaml --phase bootstrap",
			},
			{
				Description: "Transition the node to the integrated phase",
				Command:     "cloudya-deploy deploy --config deploy.yaml --phase integrated",
			},
			{
				Description: "Roll a fleet forward to a new version",
				Command:     "cloudya-deploy deploy --config deploy.yaml --manifest fleet.jsonc --version 1.6.2",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("deploy", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "deployment configuration file (YAML)")
			flags.StringVar(&manifestPath, "manifest", "", "multi-target manifest file (JSONC)")
			flags.StringVar(&phaseName, "phase", "", "override the target phase (bootstrap or integrated)")
			flags.StringVar(&versionOverride, "version", "", "override the target scheduler version")
			flags.BoolVar(&allowDowngrade, "allow-downgrade", false, "permit re-bootstrapping a target that already reached the integrated phase")
			flags.BoolVar(&waitLock, "wait-lock", false, "block on a held target lock instead of failing fast")
			flags.BoolVar(&jsonOut, "json", false, "output results as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("deploy takes no positional arguments, got %q", args[0])
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
			if versionOverride != "" {
				cfg.TargetVersion = versionOverride
			}

			// Interruption cancels between actions; the run rolls
			// back whatever it had already applied.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := cli.NewCommandLogger().With("command", "deploy")

			runOne := func(ctx context.Context, cfg *config.DeployConfig) (controller.Result, error) {
				c, err := buildController(cfg, logger.With("target", cfg.TargetID()))
				if err != nil {
					return controller.Result{}, err
				}
				c.AllowDowngrade = allowDowngrade
				c.WaitForLock = waitLock
				return c.Run(ctx)
			}

			if manifestPath == "" {
				result, runErr := runOne(ctx, cfg)
				if jsonOut {
					if err := cli.WriteJSON(reportFor(cfg.TargetID(), result, runErr)); err != nil {
						return err
					}
				} else {
					renderOutcome(os.Stdout, cfg.TargetID(), result.Applied.MutationCount(), result.Outcome.String())
				}
				return runErr
			}

			m, err := manifest.ReadFile(manifestPath)
			if err != nil {
				return err
			}
			configs, err := m.Configs(cfg)
			if err != nil {
				return err
			}

			var mu sync.Mutex
			reports := make(map[string]runReport, len(configs))
			results := manifest.FanOut(ctx, configs, func(ctx context.Context, cfg *config.DeployConfig) error {
				result, runErr := runOne(ctx, cfg)
				mu.Lock()
				reports[cfg.TargetID()] = reportFor(cfg.TargetID(), result, runErr)
				mu.Unlock()
				return runErr
			})

			failed := 0
			ordered := make([]runReport, 0, len(results))
			for _, r := range results {
				ordered = append(ordered, reports[r.Target])
				if r.Err != nil {
					failed++
				}
			}

			if jsonOut {
				if err := cli.WriteJSON(ordered); err != nil {
					return err
				}
			} else {
				for _, report := range ordered {
					if report.Error != "" && report.Outcome != "rolled-back" {
						renderOutcome(os.Stdout, report.Target, report.ActionsApplied, "failed: "+report.Error)
						continue
					}
					renderOutcome(os.Stdout, report.Target, report.ActionsApplied, report.Outcome)
				}
			}

			if failed > 0 {
				fmt.Fprintf(os.Stderr, "%d of %d targets failed\n", failed, len(results))
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
