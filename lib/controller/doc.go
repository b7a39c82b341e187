// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller drives one deployment run end to end: probe the
// target, synthesize the desired configuration, compute the minimal
// change set, snapshot, apply, and verify — once for the bootstrap
// phase and, when the target phase is integrated, a second time after
// the secrets service readiness gate.
//
// The controller is the only package that mutates a target. Every
// mutation flows through the node agent; the secrets service is only
// ever read. Runs against the same target are serialized by a
// per-target flock, and the reached phase is recorded in a lineage
// file so an accidental re-bootstrap of an integrated target is
// refused rather than silently rolled back.
//
// A run that fails before its first mutation is always safe to
// retry. A run that fails mid-apply restores the pre-run snapshot;
// only a failed restore leaves the run in the terminal Failed state,
// which is never retried automatically.
package controller
