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
)

// statusReport is the JSON shape of one observed snapshot.
type statusReport struct {
	Target             string `json:"target"`
	InstalledVersion   string `json:"installed_version"`
	ConfigFingerprint  string `json:"config_fingerprint"`
	ServiceRunning     bool   `json:"service_running"`
	IntegrationEnabled bool   `json:"integration_enabled"`
	SecretsLifecycle   string `json:"secrets_lifecycle"`
}

func statusCommand() *cli.Command {
	var (
		configPath string
		jsonOut    bool
	)

	return &cli.Command{
		Name:    "status",
		Summary: "Probe the target and print its observed state",
		Usage:   "cloudya-deploy status --config <file> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "deployment configuration file (YAML)")
			flags.BoolVar(&jsonOut, "json", false, "output the snapshot as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("status takes no positional arguments, got %q", args[0])
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := cli.NewCommandLogger().With("command", "status", "target", cfg.TargetID())
			c, err := buildController(cfg, logger)
			if err != nil {
				return err
			}

			observed, err := c.Observe(ctx)
			if err != nil {
				return err
			}

			if jsonOut {
				return cli.WriteJSON(statusReport{
					Target:             cfg.TargetID(),
					InstalledVersion:   observed.InstalledVersion,
					ConfigFingerprint:  observed.ConfigFingerprint.String(),
					ServiceRunning:     observed.ServiceRunning,
					IntegrationEnabled: observed.IntegrationEnabled,
					SecretsLifecycle:   observed.SecretsLifecycle.String(),
				})
			}
			renderObserved(os.Stdout, cfg.TargetID(), observed)
			return nil
		},
	}
}
