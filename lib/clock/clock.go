// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the orchestrator. Production code
// uses Real; tests use Fake to drive retry backoff and readiness
// polling deterministically without real sleeps.
package clock

import "time"

// Clock provides the time operations the orchestrator depends on:
// reading the current time, waiting for a duration (retry backoff,
// readiness poll intervals), and sleeping.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)
}
