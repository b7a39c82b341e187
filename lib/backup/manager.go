// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudya/deploy/lib/nodeagent"
	"github.com/cloudya/deploy/lib/synth"
)

// ErrRollbackFailed means a restore did not converge back to the
// snapshotted state. This is the one unrecoverable-by-design
// condition: it is surfaced verbatim with pre/post state and requires
// operator intervention. Nothing retries it automatically.
var ErrRollbackFailed = errors.New("rollback failed")

// RestoreAgent is the slice of the node agent surface restore needs.
type RestoreAgent interface {
	GetStatus(ctx context.Context) (nodeagent.Status, error)
	Install(ctx context.Context, version string) error
	WriteConfig(ctx context.Context, doc synth.Document) error
	Restart(ctx context.Context) error
	ToggleIntegration(ctx context.Context, enabled bool) error
}

// Manager restores targets from backup records.
type Manager struct {
	// Agent is the target's node agent.
	Agent RestoreAgent

	// ApplyTimeout bounds each mutating call during restore.
	ApplyTimeout time.Duration

	// Logger is required.
	Logger *slog.Logger
}

// Restore converges the target back to the record's snapshotted
// version, config, and integration flag, then re-probes to confirm.
//
// Restore is no-op safe: when the target already matches the record
// (including a second Restore call in a row), it performs zero
// mutations and returns nil. It never touches the secrets service —
// a lifecycle recorded as unsealed stays however it is now; that is
// outside the orchestrator's authority.
//
// Every failure wraps ErrRollbackFailed and carries the pre-restore
// status for diagnosis.
func (m *Manager) Restore(ctx context.Context, record *Record) error {
	before, err := m.Agent.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("%w: probing target before restore: %v", ErrRollbackFailed, err)
	}

	versionMatches := before.Version == record.PriorVersion
	configMatches := before.ConfigFingerprint == record.PriorFingerprint || !record.HadConfig
	flagMatches := before.IntegrationEnabled == record.PriorIntegrationEnabled

	if versionMatches && configMatches && flagMatches {
		m.Logger.Info("target already matches backup, restore is a no-op",
			"target", record.Target,
			"version", record.PriorVersion,
		)
		return nil
	}

	m.Logger.Info("restoring target from backup",
		"target", record.Target,
		"backup_created_at", record.CreatedAt,
		"from_version", before.Version,
		"to_version", record.PriorVersion,
	)

	mutated := false

	if !versionMatches {
		if err := m.mutate(ctx, func(ctx context.Context) error {
			return m.Agent.Install(ctx, record.PriorVersion)
		}); err != nil {
			return fmt.Errorf("%w: reinstalling version %s: %v", ErrRollbackFailed, record.PriorVersion, err)
		}
		mutated = true
	}

	if !configMatches {
		doc, err := record.Document()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRollbackFailed, err)
		}
		if err := m.mutate(ctx, func(ctx context.Context) error {
			return m.Agent.WriteConfig(ctx, doc)
		}); err != nil {
			return fmt.Errorf("%w: rewriting config: %v", ErrRollbackFailed, err)
		}
		mutated = true
	}

	if !flagMatches {
		if err := m.mutate(ctx, func(ctx context.Context) error {
			return m.Agent.ToggleIntegration(ctx, record.PriorIntegrationEnabled)
		}); err != nil {
			return fmt.Errorf("%w: restoring integration flag: %v", ErrRollbackFailed, err)
		}
	}

	if mutated {
		if err := m.mutate(ctx, m.Agent.Restart); err != nil {
			return fmt.Errorf("%w: restarting service: %v", ErrRollbackFailed, err)
		}
	}

	// Reconfirm: the restore only counts if the target actually
	// converged back.
	after, err := m.Agent.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("%w: probing target after restore: %v", ErrRollbackFailed, err)
	}
	if after.Version != record.PriorVersion {
		return fmt.Errorf("%w: version is %q after restore, want %q (was %q before)",
			ErrRollbackFailed, after.Version, record.PriorVersion, before.Version)
	}
	if record.HadConfig && after.ConfigFingerprint != record.PriorFingerprint {
		return fmt.Errorf("%w: config fingerprint is %s after restore, want %s (was %s before)",
			ErrRollbackFailed, after.ConfigFingerprint, record.PriorFingerprint, before.ConfigFingerprint)
	}

	m.Logger.Info("restore converged",
		"target", record.Target,
		"version", after.Version,
	)
	return nil
}

func (m *Manager) mutate(ctx context.Context, call func(context.Context) error) error {
	if m.ApplyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.ApplyTimeout)
		defer cancel()
	}
	return call(ctx)
}
