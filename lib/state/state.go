// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package state defines the observed-state snapshot the prober
// captures from a target node. Snapshots are read-only: captured
// fresh each run, never mutated in place, never persisted as truth
// (the next run re-probes).
package state

import (
	"fmt"

	"github.com/cloudya/deploy/lib/fingerprint"
)

// SecretsLifecycle is the three-way classification of the secrets
// service's security state. Uninitialized and Sealed require
// categorically different downstream handling, so this is never
// collapsed into a boolean.
type SecretsLifecycle int

const (
	// LifecycleUnknown means the lifecycle was not probed (no secrets
	// service configured for the target).
	LifecycleUnknown SecretsLifecycle = iota

	// LifecycleUninitialized means the secrets service has never been
	// initialized. Initialization is the service's own step — the
	// orchestrator never performs it.
	LifecycleUninitialized

	// LifecycleSealed means the service is initialized but sealed.
	// A sealed service does not block binary or config refreshes, but
	// the integration flip cannot proceed.
	LifecycleSealed

	// LifecycleUnsealed means the service is initialized and
	// unsealed: the only state in which the integration flip is
	// permitted.
	LifecycleUnsealed
)

// String returns the lifecycle name used in status output and backup
// records.
func (l SecretsLifecycle) String() string {
	switch l {
	case LifecycleUnknown:
		return "unknown"
	case LifecycleUninitialized:
		return "uninitialized"
	case LifecycleSealed:
		return "sealed"
	case LifecycleUnsealed:
		return "unsealed"
	default:
		return fmt.Sprintf("invalid(%d)", int(l))
	}
}

// ParseLifecycle parses a lifecycle name.
func ParseLifecycle(name string) (SecretsLifecycle, error) {
	switch name {
	case "unknown":
		return LifecycleUnknown, nil
	case "uninitialized":
		return LifecycleUninitialized, nil
	case "sealed":
		return LifecycleSealed, nil
	case "unsealed":
		return LifecycleUnsealed, nil
	default:
		return 0, fmt.Errorf("unknown secrets lifecycle %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler so lifecycles appear
// as names in JSON output.
func (l SecretsLifecycle) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *SecretsLifecycle) UnmarshalText(text []byte) error {
	parsed, err := ParseLifecycle(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ObservedState is one probe's snapshot of a target node.
type ObservedState struct {
	// InstalledVersion is the scheduler version the node agent
	// reports. Empty means no binary installed.
	InstalledVersion string `json:"installed_version"`

	// ConfigFingerprint is the fingerprint of the installed config
	// document. Zero means no config installed.
	ConfigFingerprint fingerprint.Hash `json:"config_fingerprint"`

	// ServiceRunning reports whether the scheduler process is
	// running.
	ServiceRunning bool `json:"service_running"`

	// IntegrationEnabled is the scheduler's live secrets integration
	// flag as reported by the node agent.
	IntegrationEnabled bool `json:"integration_enabled"`

	// SecretsLifecycle is the secrets service's security state at
	// probe time. LifecycleUnknown when no secrets service is
	// configured.
	SecretsLifecycle SecretsLifecycle `json:"secrets_lifecycle"`
}
