// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package plan diffs desired against observed state and produces the
// ordered, minimal change set for one deployment run.
//
// Planning is a pure function over pre-fetched data: the prober has
// already captured the observed snapshot and the synthesizer has
// already produced the desired document. No I/O happens here, which
// is what makes the planner's idempotency property testable in
// isolation — identical inputs always yield an identical change set,
// and matching inputs always yield [NoOp].
//
// The action vocabulary is deliberately closed. There is no action
// that initializes or unseals the secrets service: those operations
// are categorically outside the orchestrator's authority, not merely
// gated off.
package plan

import (
	"fmt"
	"strings"

	"github.com/cloudya/deploy/lib/state"
	"github.com/cloudya/deploy/lib/synth"
)

// Op identifies one kind of deployment action.
type Op int

const (
	// OpNoOp is the sole member of a change set whose desired and
	// observed states already match.
	OpNoOp Op = iota

	// OpInstallBinary stages and swaps the scheduler binary.
	OpInstallBinary

	// OpReplaceConfig replaces the installed config document.
	OpReplaceConfig

	// OpToggleIntegration flips the scheduler's live secrets
	// integration flag. Runtime-reloadable: never implies a restart.
	OpToggleIntegration

	// OpRestartService restarts the scheduler so it picks up a new
	// binary or config. Emitted only when an earlier action requires
	// a running-process reload, or when the service is down.
	OpRestartService
)

// String returns the operator-facing action name.
func (o Op) String() string {
	switch o {
	case OpNoOp:
		return "no-op"
	case OpInstallBinary:
		return "install-binary"
	case OpReplaceConfig:
		return "replace-config"
	case OpToggleIntegration:
		return "toggle-integration"
	case OpRestartService:
		return "restart-service"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Action is one step of a change set. Only the fields relevant to the
// Op are populated.
type Action struct {
	Op Op `json:"op"`

	// Version is the scheduler version to install (OpInstallBinary).
	Version string `json:"version,omitempty"`

	// Document is the config document to write (OpReplaceConfig).
	Document synth.Document `json:"document,omitempty"`

	// Enable is the integration flag value (OpToggleIntegration).
	Enable bool `json:"enable,omitempty"`
}

// describe returns the action's summary fragment.
func (a Action) describe() string {
	switch a.Op {
	case OpInstallBinary:
		return "install " + a.Version
	case OpReplaceConfig:
		return "replace config"
	case OpToggleIntegration:
		if a.Enable {
			return "enable integration"
		}
		return "disable integration"
	case OpRestartService:
		return "restart service"
	default:
		return a.Op.String()
	}
}

// ChangeSet is the ordered action sequence for one run. Built once by
// Compute, consumed exactly once by the controller, applied strictly
// in list order.
type ChangeSet []Action

// IsNoOp reports whether the change set contains no mutating action.
func (cs ChangeSet) IsNoOp() bool {
	return len(cs) == 1 && cs[0].Op == OpNoOp
}

// MutationCount returns the number of mutating actions.
func (cs ChangeSet) MutationCount() int {
	if cs.IsNoOp() {
		return 0
	}
	return len(cs)
}

// Summary returns the operator-facing one-line description, used to
// distinguish "no changes needed" from "converged, N actions applied"
// in run output.
func (cs ChangeSet) Summary() string {
	if cs.IsNoOp() {
		return "no changes needed"
	}
	parts := make([]string, 0, len(cs))
	for _, action := range cs {
		parts = append(parts, action.describe())
	}
	return fmt.Sprintf("%d actions: %s", len(cs), strings.Join(parts, ", "))
}

// Compute diffs desired against observed state field by field. Each
// mismatch contributes exactly one minimal action, in the fixed order
// install < replace-config < toggle-integration < restart. The order
// is load-bearing: later actions assume earlier ones converged (a new
// config may only be valid for the new binary, the integration flag
// may only exist in the new config schema).
//
// Restart is appended only when a produced action requires a
// running-process reload (binary or config change) or when the
// service is down. A toggle-only change set carries no restart — the
// flag reloads live. A sealed secrets service does not suppress the
// restart: sealing blocks credential issuance, not binary or config
// refreshes.
func Compute(desired synth.DesiredState, observed state.ObservedState) ChangeSet {
	var changes ChangeSet

	if desired.Version != observed.InstalledVersion {
		changes = append(changes, Action{Op: OpInstallBinary, Version: desired.Version})
	}
	if desired.Fingerprint != observed.ConfigFingerprint {
		changes = append(changes, Action{Op: OpReplaceConfig, Document: desired.Document})
	}
	if desired.Document.SecretsIntegration.Enabled != observed.IntegrationEnabled {
		changes = append(changes, Action{Op: OpToggleIntegration, Enable: desired.Document.SecretsIntegration.Enabled})
	}

	needsReload := desired.Version != observed.InstalledVersion ||
		desired.Fingerprint != observed.ConfigFingerprint
	if needsReload || !observed.ServiceRunning {
		changes = append(changes, Action{Op: OpRestartService})
	}

	if len(changes) == 0 {
		return ChangeSet{{Op: OpNoOp}}
	}
	return changes
}
