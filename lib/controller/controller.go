// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudya/deploy/lib/backup"
	"github.com/cloudya/deploy/lib/clock"
	"github.com/cloudya/deploy/lib/config"
	"github.com/cloudya/deploy/lib/handoff"
	"github.com/cloudya/deploy/lib/nodeagent"
	"github.com/cloudya/deploy/lib/plan"
	"github.com/cloudya/deploy/lib/probe"
	"github.com/cloudya/deploy/lib/state"
	"github.com/cloudya/deploy/lib/synth"
)

// ErrTransitionTimedOut is returned when the secrets service did not
// become ready within the configured readiness timeout. No mutation
// has been performed when this is returned; the run is safe to retry.
var ErrTransitionTimedOut = errors.New("timed out awaiting secrets service readiness")

// State is the controller's position in a run.
type State int

const (
	// StateBootstrapping covers the bootstrap-phase converge pass.
	StateBootstrapping State = iota

	// StateAwaitingSecretsReady is the readiness gate between the
	// bootstrap and integrated passes.
	StateAwaitingSecretsReady

	// StateIntegrating covers the integrated-phase converge pass.
	StateIntegrating

	// StateIntegrated means the target converged to the integrated
	// phase.
	StateIntegrated

	// StateFailed is terminal for the run: an apply failed and the
	// pre-run snapshot could not be restored either. Never retried
	// automatically.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateAwaitingSecretsReady:
		return "awaiting-secrets-ready"
	case StateIntegrating:
		return "integrating"
	case StateIntegrated:
		return "integrated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome classifies a finished run.
type Outcome int

const (
	// OutcomeConverged means the target now matches the desired
	// state and at least one mutation was applied.
	OutcomeConverged Outcome = iota

	// OutcomeNoOp means the target already matched: zero mutations.
	OutcomeNoOp

	// OutcomeRolledBack means an apply failed and the pre-run
	// snapshot was restored. The target is back where it started.
	OutcomeRolledBack

	// OutcomeFailed means the run failed; when a mutation had
	// already been applied, the restore failed too and the target
	// needs operator attention.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConverged:
		return "converged"
	case OutcomeNoOp:
		return "no-op"
	case OutcomeRolledBack:
		return "rolled-back"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the run report.
type Result struct {
	// Outcome classifies the run.
	Outcome Outcome

	// State is the controller state the run ended in.
	State State

	// Phase is the phase the target is in after the run.
	Phase config.Phase

	// Applied lists the mutating actions applied, across both passes
	// when the run transitioned phases.
	Applied plan.ChangeSet

	// Final is the last observed snapshot of the target.
	Final state.ObservedState

	// Reason is a human-readable explanation for non-converged
	// outcomes.
	Reason string
}

// Agent is the full node agent surface the controller drives.
type Agent interface {
	GetStatus(ctx context.Context) (nodeagent.Status, error)
	ReadConfig(ctx context.Context) (synth.Document, error)
	Install(ctx context.Context, version string) error
	WriteConfig(ctx context.Context, doc synth.Document) error
	ToggleIntegration(ctx context.Context, enabled bool) error
	Restart(ctx context.Context) error
}

// SecretsReader is the read-only secrets service surface. The
// controller never initializes, unseals, or writes to the secrets
// service; this interface cannot express those operations.
type SecretsReader interface {
	Health(ctx context.Context) (state.SecretsLifecycle, error)
	PolicyReady(ctx context.Context, role string) (bool, error)
}

// Restorer restores a target from a backup record.
type Restorer interface {
	Restore(ctx context.Context, record *backup.Record) error
}

// Controller drives deployment runs against one target.
type Controller struct {
	// Config is the validated deployment configuration.
	Config *config.DeployConfig

	// Agent is the target's node agent. Required.
	Agent Agent

	// Secrets reads the secrets service. Nil when no secrets service
	// endpoint is configured; the integrated phase then cannot be
	// reached.
	Secrets SecretsReader

	// Store records pre-mutation snapshots. Required.
	Store *backup.Store

	// Restorer restores the pre-run snapshot after a failed apply.
	// Required.
	Restorer Restorer

	// Handoff seals detected security artifacts. Nil disables the
	// handoff step.
	Handoff *handoff.Handoff

	// Clock drives retry backoff and readiness polling. Required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger

	// AllowDowngrade permits a bootstrap-phase run against a target
	// whose lineage already reached the integrated phase.
	AllowDowngrade bool

	// WaitForLock blocks on a held target lock instead of failing
	// fast with ErrDeploymentInProgress.
	WaitForLock bool
}

// Run executes one deployment run to the configured target phase.
// The returned Result is meaningful even when err is non-nil: it
// reports how far the run got and what was applied.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	result := Result{Phase: config.PhaseBootstrap, State: StateBootstrapping}

	lockPath, err := c.Config.StatePath(".lock")
	if err != nil {
		return c.fail(result, err)
	}
	lock, err := acquireRunLock(lockPath, c.WaitForLock)
	if err != nil {
		return c.fail(result, err)
	}
	defer lock.Release()

	lineagePath, err := c.Config.StatePath(".phase")
	if err != nil {
		return c.fail(result, err)
	}
	lineage, err := loadLineage(lineagePath)
	if err != nil {
		return c.fail(result, err)
	}

	lineageIntegrated := false
	if lineage != nil {
		phase, _ := lineage.phase()
		lineageIntegrated = phase == config.PhaseIntegrated
	}
	if c.Config.TargetPhase == config.PhaseBootstrap && lineageIntegrated && !c.AllowDowngrade {
		return c.fail(result, fmt.Errorf(
			"%w: target %s already reached the integrated phase (recorded %s); re-bootstrapping would disable secrets integration, pass --allow-downgrade to proceed",
			config.ErrInvalid, c.Config.TargetID(), lineage.UpdatedAt.Format(time.RFC3339)))
	}

	observed, err := c.probe(ctx)
	if err != nil {
		return c.fail(result, fmt.Errorf("probing target before run: %w", err))
	}
	result.Final = observed

	if c.Config.TargetPhase == config.PhaseBootstrap && observed.IntegrationEnabled && !c.AllowDowngrade {
		return c.fail(result, fmt.Errorf(
			"%w: target %s is live with secrets integration enabled; re-bootstrapping would disable it, pass --allow-downgrade to proceed",
			config.ErrInvalid, c.Config.TargetID()))
	}

	// The bootstrap pass runs unless the target's lineage already
	// reached the integrated phase — converging an integrated target
	// through the bootstrap document would flip integration off and
	// immediately back on for no reason.
	runBootstrapPass := c.Config.TargetPhase == config.PhaseBootstrap ||
		!(lineageIntegrated || observed.IntegrationEnabled)

	if runBootstrapPass {
		applied, after, rolledBack, err := c.converge(ctx, config.PhaseBootstrap, observed)
		result.Applied = append(result.Applied, applied...)
		result.Final = after
		if err != nil {
			return c.finishApplyFailure(result, rolledBack, err)
		}
		observed = after
	}

	c.runHandoff()

	if c.Config.TargetPhase == config.PhaseBootstrap {
		result.Phase = config.PhaseBootstrap
		if !lineageIntegrated || c.AllowDowngrade {
			if err := c.recordLineage(lineagePath, config.PhaseBootstrap); err != nil {
				return c.fail(result, err)
			}
		}
		return c.finishConverged(result)
	}

	// Integrated target phase. Gate the flip on secrets service
	// readiness whenever integration is not already live.
	if !observed.IntegrationEnabled {
		result.State = StateAwaitingSecretsReady
		if err := c.awaitSecretsReady(ctx); err != nil {
			result.Outcome = OutcomeFailed
			result.Reason = err.Error()
			return result, err
		}
	}

	result.State = StateIntegrating
	applied, after, rolledBack, err := c.converge(ctx, config.PhaseIntegrated, observed)
	result.Applied = append(result.Applied, applied...)
	result.Final = after
	if err != nil {
		return c.finishApplyFailure(result, rolledBack, err)
	}

	if err := c.recordLineage(lineagePath, config.PhaseIntegrated); err != nil {
		return c.fail(result, err)
	}
	result.State = StateIntegrated
	result.Phase = config.PhaseIntegrated
	return c.finishConverged(result)
}

// Plan computes the change set a run would apply, without mutating
// anything. For an integrated target phase on a not-yet-integrated
// target it reports the integrated-phase end state; the intermediate
// bootstrap pass is an implementation detail of Run.
func (c *Controller) Plan(ctx context.Context) (plan.ChangeSet, state.ObservedState, error) {
	observed, err := c.probe(ctx)
	if err != nil {
		return nil, state.ObservedState{}, fmt.Errorf("probing target: %w", err)
	}
	desired, err := c.desiredState(c.Config.TargetPhase)
	if err != nil {
		return nil, observed, err
	}
	return plan.Compute(desired, observed), observed, nil
}

// Observe captures a fresh snapshot of the target without mutating
// anything.
func (c *Controller) Observe(ctx context.Context) (state.ObservedState, error) {
	return c.probe(ctx)
}

func (c *Controller) probe(ctx context.Context) (state.ObservedState, error) {
	prober := &probe.Prober{
		Agent:   c.Agent,
		Timeout: c.Config.ProbeTimeout(),
		Retry: probe.RetryPolicy{
			MaxAttempts: c.Config.ProbeAttempts(),
			Backoff:     c.Config.ProbeBackoff(),
		},
		Clock:  c.Clock,
		Logger: c.Logger,
	}
	if c.Secrets != nil {
		prober.Secrets = c.Secrets
	}
	return prober.Probe(ctx)
}

func (c *Controller) desiredState(phase config.Phase) (synth.DesiredState, error) {
	flags := c.Config.FeatureFlags
	flags.SecretsIntegrationEnabled = phase == config.PhaseIntegrated

	synthesizer := synth.Synthesizer{
		SecretsAddr: c.Config.Target.SecretsServiceURL,
		SecretsRole: c.Config.Target.SecretsRole,
	}
	document, print, err := synthesizer.Synthesize(c.Config.Environment, flags, phase)
	if err != nil {
		return synth.DesiredState{}, err
	}
	return synth.DesiredState{
		Version:     c.Config.TargetVersion,
		Document:    document,
		Fingerprint: print,
		Phase:       phase,
	}, nil
}

// converge runs one probe → plan → snapshot → apply → verify pass
// for the given phase. rolledBack reports whether a failed apply was
// successfully restored.
func (c *Controller) converge(ctx context.Context, phase config.Phase, observed state.ObservedState) (applied plan.ChangeSet, after state.ObservedState, rolledBack bool, err error) {
	after = observed

	desired, err := c.desiredState(phase)
	if err != nil {
		return nil, after, false, err
	}

	changeset := plan.Compute(desired, observed)
	c.Logger.Info("computed change set",
		"target", c.Config.TargetID(),
		"phase", phase.String(),
		"plan", changeset.Summary(),
	)
	if changeset.IsNoOp() {
		return nil, after, false, nil
	}

	record, err := c.snapshot(ctx, observed)
	if err != nil {
		return nil, after, false, fmt.Errorf("snapshotting target before apply: %w", err)
	}

	for _, action := range changeset {
		// Cancellation lands between actions only: an action in
		// flight runs to completion under its own timeout.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return applied, after, c.restore(record, fmt.Errorf("run canceled mid-apply: %w", ctxErr)), ctxErr
		}
		if applyErr := c.apply(ctx, action); applyErr != nil {
			applyErr = fmt.Errorf("applying %s: %w", action.Op, applyErr)
			return applied, after, c.restore(record, applyErr), applyErr
		}
		applied = append(applied, action)
	}

	after, err = c.probe(ctx)
	if err != nil {
		return applied, observed, c.restore(record, err), fmt.Errorf("probing target after apply: %w", err)
	}
	if verifyErr := verifyConverged(desired, after); verifyErr != nil {
		return applied, after, c.restore(record, verifyErr), verifyErr
	}
	return applied, after, false, nil
}

// snapshot records the target's pre-apply state, including the
// installed config document when one exists.
func (c *Controller) snapshot(ctx context.Context, observed state.ObservedState) (*backup.Record, error) {
	readCtx, cancel := context.WithTimeout(ctx, c.Config.ProbeTimeout())
	defer cancel()

	hadConfig := true
	document, err := c.Agent.ReadConfig(readCtx)
	if errors.Is(err, nodeagent.ErrNoConfig) {
		hadConfig = false
		document = synth.Document{}
	} else if err != nil {
		return nil, fmt.Errorf("reading installed config: %w", err)
	}

	record, err := c.Store.Snapshot(c.Config.TargetID(), observed, document, hadConfig)
	if err != nil {
		return nil, err
	}
	c.Logger.Info("recorded pre-apply snapshot",
		"target", record.Target,
		"created_at", record.CreatedAt,
		"prior_version", record.PriorVersion,
	)
	return record, nil
}

func (c *Controller) apply(ctx context.Context, action plan.Action) error {
	applyCtx, cancel := context.WithTimeout(ctx, c.Config.ApplyTimeout())
	defer cancel()

	c.Logger.Info("applying action", "target", c.Config.TargetID(), "op", action.Op.String())
	switch action.Op {
	case plan.OpInstallBinary:
		return c.Agent.Install(applyCtx, action.Version)
	case plan.OpReplaceConfig:
		return c.Agent.WriteConfig(applyCtx, action.Document)
	case plan.OpToggleIntegration:
		return c.Agent.ToggleIntegration(applyCtx, action.Enable)
	case plan.OpRestartService:
		return c.Agent.Restart(applyCtx)
	case plan.OpNoOp:
		return nil
	default:
		return fmt.Errorf("unknown action %s", action.Op)
	}
}

// restore rolls the target back to the pre-apply snapshot after
// cause. Reports whether the restore succeeded; a failed restore is
// logged here and resurfaced by the caller as a terminal failure.
func (c *Controller) restore(record *backup.Record, cause error) bool {
	c.Logger.Error("apply failed, restoring pre-run snapshot",
		"target", record.Target,
		"cause", cause.Error(),
	)
	// The run's context may already be canceled; the restore gets its
	// own so a canceled deployment still rolls back.
	restoreCtx, cancel := context.WithTimeout(context.Background(), 2*c.Config.ApplyTimeout())
	defer cancel()

	if err := c.Restorer.Restore(restoreCtx, record); err != nil {
		c.Logger.Error("restore failed, target needs operator attention",
			"target", record.Target,
			"error", err.Error(),
		)
		return false
	}
	return true
}

func verifyConverged(desired synth.DesiredState, observed state.ObservedState) error {
	if observed.InstalledVersion != desired.Version {
		return fmt.Errorf("target reports version %q after apply, want %q", observed.InstalledVersion, desired.Version)
	}
	if observed.ConfigFingerprint != desired.Fingerprint {
		return fmt.Errorf("target reports config fingerprint %s after apply, want %s", observed.ConfigFingerprint, desired.Fingerprint)
	}
	if !observed.ServiceRunning {
		return errors.New("service is not running after apply")
	}
	wantIntegration := desired.Phase == config.PhaseIntegrated
	if observed.IntegrationEnabled != wantIntegration {
		return fmt.Errorf("integration enabled is %v after apply, want %v", observed.IntegrationEnabled, wantIntegration)
	}
	return nil
}

// awaitSecretsReady polls the secrets service until it is unsealed
// and the integration policy exists. Unbounded by default: flipping
// the phase early is worse than waiting.
func (c *Controller) awaitSecretsReady(ctx context.Context) error {
	if c.Secrets == nil {
		return fmt.Errorf("%w: integrated phase requires a secrets service endpoint", config.ErrInvalid)
	}

	var deadline <-chan time.Time
	if timeout := c.Config.ReadinessTimeout(); timeout > 0 {
		deadline = c.Clock.After(timeout)
	}
	interval := c.Config.ReadinessPollInterval()

	for {
		ready, reason := c.secretsReady(ctx)
		if ready {
			c.Logger.Info("secrets service ready", "target", c.Config.TargetID())
			return nil
		}
		c.Logger.Info("secrets service not ready, waiting",
			"target", c.Config.TargetID(),
			"reason", reason,
			"poll_interval", interval.String(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w: last status: %s", ErrTransitionTimedOut, reason)
		case <-c.Clock.After(interval):
		}
	}
}

// secretsReady performs one readiness check. Errors are reported as
// not-ready reasons rather than failures: the service restarting
// mid-poll is expected during its operator-driven initialization.
func (c *Controller) secretsReady(ctx context.Context) (bool, string) {
	checkCtx, cancel := context.WithTimeout(ctx, c.Config.ProbeTimeout())
	defer cancel()

	lifecycle, err := c.Secrets.Health(checkCtx)
	if err != nil {
		return false, fmt.Sprintf("health check: %v", err)
	}
	if lifecycle != state.LifecycleUnsealed {
		return false, "lifecycle is " + lifecycle.String()
	}

	ready, err := c.Secrets.PolicyReady(checkCtx, c.Config.Target.SecretsRole)
	if err != nil {
		return false, fmt.Sprintf("policy check: %v", err)
	}
	if !ready {
		return false, fmt.Sprintf("integration policy %q not installed", c.Config.Target.SecretsRole)
	}
	return true, ""
}

// runHandoff seals any security artifacts the secrets service's own
// initialization left behind. Failures are logged, not fatal: the
// deployment itself has converged, and sealing retries on the next
// run.
func (c *Controller) runHandoff() {
	if c.Handoff == nil || len(c.Config.Handoff.ArtifactPaths) == 0 {
		return
	}
	artifacts, err := handoff.Detect(c.Config.Handoff.ArtifactPaths)
	if err != nil {
		c.Logger.Error("security artifact detection failed", "error", err.Error())
		return
	}
	if len(artifacts) == 0 {
		return
	}
	if _, err := c.Handoff.Seal(artifacts); err != nil {
		c.Logger.Error("security artifact handoff failed", "error", err.Error())
	}
}

func (c *Controller) recordLineage(path string, phase config.Phase) error {
	return storeLineage(path, &lineageRecord{
		Target:    c.Config.TargetID(),
		Phase:     phase.String(),
		Version:   c.Config.TargetVersion,
		UpdatedAt: c.Clock.Now().UTC(),
	})
}

func (c *Controller) finishConverged(result Result) (Result, error) {
	if result.Applied.MutationCount() == 0 {
		result.Outcome = OutcomeNoOp
	} else {
		result.Outcome = OutcomeConverged
	}
	c.Logger.Info("run finished",
		"target", c.Config.TargetID(),
		"outcome", result.Outcome.String(),
		"phase", result.Phase.String(),
		"actions_applied", result.Applied.MutationCount(),
	)
	return result, nil
}

func (c *Controller) finishApplyFailure(result Result, rolledBack bool, cause error) (Result, error) {
	if rolledBack {
		result.Outcome = OutcomeRolledBack
		result.Reason = cause.Error()
		return result, cause
	}
	result.Outcome = OutcomeFailed
	result.State = StateFailed
	result.Reason = cause.Error()
	return result, cause
}

func (c *Controller) fail(result Result, err error) (Result, error) {
	result.Outcome = OutcomeFailed
	result.Reason = err.Error()
	return result, err
}
