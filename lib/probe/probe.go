// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package probe captures observed-state snapshots from a target node.
//
// Probing is strictly read-only: the prober calls only the node
// agent's status endpoint and the secrets service's health endpoint.
// It never mutates anything, so retrying a probe is always safe —
// transient unreachability is retried under a bounded policy, while
// ambiguity (a target contradicting itself) fails immediately because
// no retry can make a contradiction trustworthy.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudya/deploy/lib/clock"
	"github.com/cloudya/deploy/lib/nodeagent"
	"github.com/cloudya/deploy/lib/secrets"
	"github.com/cloudya/deploy/lib/state"
)

// Sentinel errors for the probe stage.
var (
	// ErrUnreachable means the target could not be contacted within
	// the bounded retry policy. Retryable at the whole-run level.
	ErrUnreachable = errors.New("probe target unreachable")

	// ErrAmbiguous means the target returned an internally
	// inconsistent status. Fatal — the orchestrator does not guess.
	ErrAmbiguous = errors.New("probe result ambiguous")
)

// AgentStatusReader is the read-only slice of the node agent surface
// the prober needs.
type AgentStatusReader interface {
	GetStatus(ctx context.Context) (nodeagent.Status, error)
}

// LifecycleReader is the read-only slice of the secrets service
// surface the prober needs.
type LifecycleReader interface {
	Health(ctx context.Context) (state.SecretsLifecycle, error)
}

// RetryPolicy bounds probe retries: MaxAttempts tries with Backoff
// doubling between attempts. Distinct from the indefinite-wait
// semantics of readiness polling — probes always terminate.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Prober captures ObservedState snapshots from one target.
type Prober struct {
	// Agent reads node status. Required.
	Agent AgentStatusReader

	// Secrets reads the secrets service lifecycle. Nil when the
	// target has no secrets service configured; the snapshot then
	// carries LifecycleUnknown.
	Secrets LifecycleReader

	// Timeout bounds each individual probe attempt.
	Timeout time.Duration

	// Retry bounds transient-failure retries across attempts.
	Retry RetryPolicy

	// Clock drives retry backoff. Required.
	Clock clock.Clock

	// Logger receives retry warnings. Required.
	Logger *slog.Logger
}

// Probe captures a fresh snapshot of the target. The returned
// snapshot is a value — callers cannot mutate the prober's view of
// the world, and the next run re-probes from scratch.
func (p *Prober) Probe(ctx context.Context) (state.ObservedState, error) {
	attempts := p.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastError error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := p.Retry.Backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return state.ObservedState{}, ctx.Err()
			case <-p.Clock.After(backoff):
			}
		}

		observed, err := p.probeOnce(ctx)
		if err == nil {
			return observed, nil
		}
		if errors.Is(err, ErrAmbiguous) {
			// A contradiction does not become trustworthy on retry.
			return state.ObservedState{}, err
		}
		lastError = err

		p.Logger.Warn("probe attempt failed, retrying",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"error", err,
		)
	}
	return state.ObservedState{}, fmt.Errorf("%w: %d attempts: %v", ErrUnreachable, attempts, lastError)
}

// probeOnce performs one read-only pass over the target's surfaces.
func (p *Prober) probeOnce(ctx context.Context) (state.ObservedState, error) {
	attemptCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	status, err := p.Agent.GetStatus(attemptCtx)
	if err != nil {
		return state.ObservedState{}, fmt.Errorf("node agent status: %w", err)
	}
	if status.Running && status.Version == "" {
		// A running scheduler with no installed binary is a
		// contradiction in the agent's own report.
		return state.ObservedState{}, fmt.Errorf("%w: node agent reports a running service with no installed version", ErrAmbiguous)
	}

	observed := state.ObservedState{
		InstalledVersion:   status.Version,
		ConfigFingerprint:  status.ConfigFingerprint,
		ServiceRunning:     status.Running,
		IntegrationEnabled: status.IntegrationEnabled,
		SecretsLifecycle:   state.LifecycleUnknown,
	}

	if p.Secrets != nil {
		lifecycle, err := p.Secrets.Health(attemptCtx)
		if err != nil {
			if errors.Is(err, secrets.ErrAmbiguous) {
				return state.ObservedState{}, fmt.Errorf("%w: %v", ErrAmbiguous, err)
			}
			return state.ObservedState{}, fmt.Errorf("secrets service health: %w", err)
		}
		observed.SecretsLifecycle = lifecycle
	}

	return observed, nil
}
