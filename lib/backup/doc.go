// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package backup snapshots a target's mutable deployment artifacts
// before any change set executes, and restores them when an apply
// fails.
//
// The store is append-only and timestamp-keyed: one CBOR record per
// snapshot, created with O_EXCL, never edited afterward. Retention is
// an external concern — the orchestrator writes and reads records but
// never prunes them.
//
// Restore reverses config and binary only. The secrets service's
// lifecycle is recorded in each snapshot for diagnostics but is never
// restored: the orchestrator cannot roll back an unseal or an
// initialization safely from its position, and does not try. This is
// a documented non-goal, not a gap.
package backup
