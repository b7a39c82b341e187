// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cloudya/deploy/lib/backup"
	"github.com/cloudya/deploy/lib/clock"
	"github.com/cloudya/deploy/lib/config"
	"github.com/cloudya/deploy/lib/controller"
	"github.com/cloudya/deploy/lib/handoff"
	"github.com/cloudya/deploy/lib/nodeagent"
	"github.com/cloudya/deploy/lib/secrets"
)

// loadConfig loads the deployment configuration from the --config
// path, falling back to the CLOUDYA_DEPLOY_CONFIG environment
// variable when the flag is unset.
func loadConfig(path string) (*config.DeployConfig, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// buildController wires the controller and its collaborators for one
// target configuration.
func buildController(cfg *config.DeployConfig, logger *slog.Logger) (*controller.Controller, error) {
	httpClient := &http.Client{}
	agent := nodeagent.New(cfg.Target.NodeAgentURL, httpClient)

	compression, err := backup.ParseCompressionTag(cfg.Backup.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: backup compression: %v", config.ErrInvalid, err)
	}

	c := &controller.Controller{
		Config: cfg,
		Agent:  agent,
		Store: &backup.Store{
			Dir:         cfg.Backup.Dir,
			Compression: compression,
			Clock:       clock.Real(),
		},
		Restorer: &backup.Manager{
			Agent:        agent,
			ApplyTimeout: cfg.ApplyTimeout(),
			Logger:       logger,
		},
		Clock:  clock.Real(),
		Logger: logger,
	}

	if cfg.Target.SecretsServiceURL != "" {
		c.Secrets = secrets.New(cfg.Target.SecretsServiceURL, httpClient)
	}

	if len(cfg.Handoff.ArtifactPaths) > 0 {
		if len(cfg.Handoff.Recipients) == 0 || cfg.Handoff.Dir == "" {
			return nil, fmt.Errorf("%w: handoff artifact paths configured without recipients and a handoff directory", config.ErrInvalid)
		}
		for _, recipient := range cfg.Handoff.Recipients {
			if err := handoff.ParseRecipient(recipient); err != nil {
				return nil, fmt.Errorf("%w: handoff recipient: %v", config.ErrInvalid, err)
			}
		}
		c.Handoff = &handoff.Handoff{
			Recipients: cfg.Handoff.Recipients,
			Dir:        cfg.Handoff.Dir,
			Logger:     logger,
		}
	}

	return c, nil
}

// buildRestorer wires the standalone rollback manager for the
// rollback command.
func buildRestorer(cfg *config.DeployConfig, logger *slog.Logger) (*backup.Manager, *backup.Store, error) {
	compression, err := backup.ParseCompressionTag(cfg.Backup.Compression)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: backup compression: %v", config.ErrInvalid, err)
	}
	agent := nodeagent.New(cfg.Target.NodeAgentURL, &http.Client{})
	manager := &backup.Manager{
		Agent:        agent,
		ApplyTimeout: cfg.ApplyTimeout(),
		Logger:       logger,
	}
	store := &backup.Store{
		Dir:         cfg.Backup.Dir,
		Compression: compression,
		Clock:       clock.Real(),
	}
	return manager, store, nil
}
