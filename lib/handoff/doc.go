// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package handoff detects security artifacts left on a target by the
// secrets service's own initialization and seals them to operator
// age recipients for transfer into external secure storage.
//
// The orchestrator never generates, rewrites, or deletes this
// material — the secrets service produced it, and only the operator
// may move or destroy it. Handoff is strictly detect-and-forward:
// probe the configured artifact paths, encrypt what exists
// byte-identical to one or more age x25519 recipients, and write the
// sealed copies to the handoff directory with the source's mode bits
// preserved.
//
// Sealing the same artifact twice is a no-op: an existing sealed copy
// is never replaced, because age output is nondeterministic and a
// rewrite would churn the handoff directory on every run.
package handoff
