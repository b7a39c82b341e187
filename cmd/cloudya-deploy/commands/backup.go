// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/cloudya/deploy/cmd/cloudya-deploy/cli"
	"github.com/cloudya/deploy/lib/backup"
)

// backupEntry is the JSON shape of one record in "backup list".
type backupEntry struct {
	Timestamp          string `json:"timestamp"`
	PriorVersion       string `json:"prior_version"`
	PriorFingerprint   string `json:"prior_fingerprint"`
	HadConfig          bool   `json:"had_config"`
	Compression        string `json:"compression"`
	IntegrationEnabled bool   `json:"integration_enabled"`
	Lifecycle          string `json:"lifecycle"`
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:    "backup",
		Summary: "Inspect recorded pre-run snapshots",
		Subcommands: []*cli.Command{
			backupListCommand(),
			backupShowCommand(),
		},
	}
}

func backupListCommand() *cli.Command {
	var (
		configPath string
		jsonOut    bool
	)

	return &cli.Command{
		Name:    "list",
		Summary: "List the target's backup records, oldest first",
		Usage:   "cloudya-deploy backup list --config <file> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("backup list", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "deployment configuration file (YAML)")
			flags.BoolVar(&jsonOut, "json", false, "output records as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("backup list takes no positional arguments, got %q", args[0])
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := cli.NewCommandLogger().With("command", "backup list")
			_, store, err := buildRestorer(cfg, logger)
			if err != nil {
				return err
			}

			timestamps, err := store.List(cfg.TargetID())
			if err != nil {
				return err
			}

			entries := make([]backupEntry, 0, len(timestamps))
			for _, ts := range timestamps {
				record, err := store.Read(cfg.TargetID(), ts)
				if err != nil {
					return err
				}
				entries = append(entries, entryFor(record))
			}

			if jsonOut {
				return cli.WriteJSON(entries)
			}

			if len(entries) == 0 {
				fmt.Printf("no backups recorded for %s\n", cfg.TargetID())
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "TIMESTAMP\tVERSION\tCONFIG\tINTEGRATION\tLIFECYCLE")
			for _, entry := range entries {
				configText := "-"
				if entry.HadConfig {
					configText = entry.PriorFingerprint[:12]
				}
				integration := "off"
				if entry.IntegrationEnabled {
					integration = "on"
				}
				versionText := entry.PriorVersion
				if versionText == "" {
					versionText = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					entry.Timestamp, versionText, configText, integration, entry.Lifecycle)
			}
			return tw.Flush()
		},
	}
}

func backupShowCommand() *cli.Command {
	var (
		configPath string
		timestamp  string
		jsonOut    bool
	)

	return &cli.Command{
		Name:    "show",
		Summary: "Show one backup record in full",
		Usage:   "cloudya-deploy backup show --config <file> [--timestamp <ts>] [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("backup show", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "deployment configuration file (YAML)")
			flags.StringVar(&timestamp, "timestamp", "", "record timestamp (default: most recent)")
			flags.BoolVar(&jsonOut, "json", false, "output the record as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("backup show takes no positional arguments, got %q", args[0])
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := cli.NewCommandLogger().With("command", "backup show")
			_, store, err := buildRestorer(cfg, logger)
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

			if jsonOut {
				return cli.WriteJSON(entryFor(record))
			}

			entry := entryFor(record)
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "target\t%s\n", record.Target)
			fmt.Fprintf(tw, "timestamp\t%s\n", entry.Timestamp)
			fmt.Fprintf(tw, "prior version\t%s\n", entry.PriorVersion)
			fmt.Fprintf(tw, "prior fingerprint\t%s\n", entry.PriorFingerprint)
			fmt.Fprintf(tw, "had config\t%v\n", entry.HadConfig)
			fmt.Fprintf(tw, "compression\t%s\n", entry.Compression)
			fmt.Fprintf(tw, "integration enabled\t%v\n", entry.IntegrationEnabled)
			fmt.Fprintf(tw, "secrets lifecycle\t%s\n", entry.Lifecycle)
			fmt.Fprintf(tw, "payload size\t%d bytes\n", record.PayloadSize)
			return tw.Flush()
		},
	}
}

func entryFor(record *backup.Record) backupEntry {
	fingerprintText := ""
	if record.HadConfig {
		fingerprintText = record.PriorFingerprint.String()
	}
	return backupEntry{
		Timestamp:          record.CreatedAt.Format(backup.TimestampLayout),
		PriorVersion:       record.PriorVersion,
		PriorFingerprint:   fingerprintText,
		HadConfig:          record.HadConfig,
		Compression:        record.Compression.String(),
		IntegrationEnabled: record.PriorIntegrationEnabled,
		Lifecycle:          record.PriorLifecycle.String(),
	}
}
