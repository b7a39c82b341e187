// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/cloudya/deploy/cmd/cloudya-deploy/cli"
	"github.com/cloudya/deploy/lib/backup"
)

func rollbackCommand() *cli.Command {
	var (
		configPath string
		timestamp  string
	)

	return &cli.Command{
		Name:    "rollback",
		Summary: "Restore the target from a pre-run snapshot",
		Description: `Restore the target's scheduler version, configuration, and
integration flag from a backup record. Uses the most recent record
unless --timestamp selects an older one (see "backup list").

Restoring never touches the secrets service: its lifecycle stays
exactly as it is. Restoring to a state the target already matches is
a no-op.`,
		Usage: "cloudya-deploy rollback --config <file> [--timestamp <ts>]",
		Examples: []cli.Example{
			{
				Description: "Undo the most recent deployment",
				Command:     "cloudya-deploy rollback --config deploy.yaml",
			},
			{
				Description: "Restore a specific snapshot",
				Command:     "cloudya-deploy rollback --config deploy.yaml --timestamp 20260314T090000.000000000Z",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("rollback", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "deployment configuration file (YAML)")
			flags.StringVar(&timestamp, "timestamp", "", "backup record timestamp (default: most recent)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("rollback takes no positional arguments, got %q", args[0])
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := cli.NewCommandLogger().With("command", "rollback", "target", cfg.TargetID())
			manager, store, err := buildRestorer(cfg, logger)
			if err != nil {
				return err
			}

			var record *backup.Record
			if timestamp == "" {
				record, err = store.Latest(cfg.TargetID())
			} else {
				var parsed time.Time
				parsed, err = time.Parse(backup.TimestampLayout, timestamp)
				if err != nil {
					return fmt.Errorf("parsing --timestamp: %w", err)
				}
				record, err = store.Read(cfg.TargetID(), parsed)
			}
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := manager.Restore(ctx, record); err != nil {
				return err
			}
			fmt.Printf("%s: restored to version %s (snapshot %s)\n",
				cfg.TargetID(), record.PriorVersion, record.CreatedAt.Format(backup.TimestampLayout))
			return nil
		},
	}
}
