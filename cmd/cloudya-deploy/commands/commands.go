// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete cloudya-deploy CLI command
// tree: deploy, plan, status, rollback, backup, and version.
package commands

import (
	"fmt"

	"github.com/cloudya/deploy/cmd/cloudya-deploy/cli"
	"github.com/cloudya/deploy/lib/version"
)

// Root builds and returns the complete command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "cloudya-deploy",
		Description: `cloudya-deploy: idempotent two-phase scheduler deployment.

Converges a target node to a desired scheduler version and
configuration through its node agent, bootstrapping first without and
then with the secrets service integration. Every run probes, plans
the minimal change set, snapshots before mutating, and rolls back on
failure.`,
		Subcommands: []*cli.Command{
			deployCommand(),
			planCommand(),
			statusCommand(),
			rollbackCommand(),
			backupCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("cloudya-deploy %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Preview what a run would change",
				Command:     "cloudya-deploy plan --config deploy.yaml",
			},
			{
				Description: "Converge a node to the bootstrap phase",
				Command:     "cloudya-deploy deploy --config deploy.yaml --phase bootstrap",
			},
			{
				Description: "Flip a bootstrapped node to the integrated phase",
				Command:     "cloudya-deploy deploy --config deploy.yaml --phase integrated",
			},
			{
				Description: "Deploy a whole fleet from a manifest",
				Command:     "cloudya-deploy deploy --config deploy.yaml --manifest fleet.jsonc",
			},
			{
				Description: "Restore the most recent pre-run snapshot",
				Command:     "cloudya-deploy rollback --config deploy.yaml",
			},
		},
	}
}
