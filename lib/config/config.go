// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar is the environment variable naming the config file when
// --config is not passed.
const EnvVar = "CLOUDYA_DEPLOY_CONFIG"

// DeployConfig is the caller-supplied desired-state record for one
// deployment invocation: which environment, which target, which
// version, which phase, and the operational knobs (timeouts, retry,
// backup and state locations).
type DeployConfig struct {
	// Environment describes where the deployment runs.
	Environment Environment `yaml:"environment"`

	// FeatureFlags toggles scheduler features for this run.
	FeatureFlags FeatureFlags `yaml:"feature_flags"`

	// TargetPhase is the phase the run should converge to.
	TargetPhase Phase `yaml:"target_phase"`

	// TargetVersion is the scheduler version to install (e.g. "1.6.2").
	TargetVersion string `yaml:"target_version"`

	// Target identifies the node under deployment and its control
	// surfaces.
	Target TargetConfig `yaml:"target"`

	// Backup configures the snapshot store.
	Backup BackupConfig `yaml:"backup"`

	// Handoff configures forwarding of security artifacts left on the
	// target by the secrets service's own initialization. Optional.
	Handoff HandoffConfig `yaml:"handoff,omitempty"`

	// Timeouts bounds the orchestrator's I/O.
	Timeouts TimeoutConfig `yaml:"timeouts"`

	// Retry bounds probe retries on transient unreachability.
	Retry RetryConfig `yaml:"retry"`

	// StateDir holds per-target lock files and phase lineage markers.
	StateDir string `yaml:"state_dir"`

	// Per-environment override sections, applied after the base
	// values when the environment name matches.
	Develop    *Overrides `yaml:"develop,omitempty"`
	Staging    *Overrides `yaml:"staging,omitempty"`
	Production *Overrides `yaml:"production,omitempty"`
}

// TargetConfig identifies one deployment target and its external
// collaborators.
type TargetConfig struct {
	// Node is the node name within the environment (e.g. "node-01").
	Node string `yaml:"node"`

	// NodeAgentURL is the base URL of the node agent control surface.
	NodeAgentURL string `yaml:"node_agent_url"`

	// SecretsServiceURL is the base URL of the secrets service. Only
	// read-only endpoints are ever called.
	SecretsServiceURL string `yaml:"secrets_service_url"`

	// SecretsRole is the integration policy/role that must exist on
	// the secrets service before the phase-1 → phase-2 flip.
	SecretsRole string `yaml:"secrets_role"`
}

// BackupConfig configures the snapshot store.
type BackupConfig struct {
	// Dir is the append-only, timestamp-keyed backup directory.
	Dir string `yaml:"dir"`

	// Compression selects the payload compression: "zstd" (default)
	// or "lz4".
	Compression string `yaml:"compression,omitempty"`
}

// HandoffConfig configures the secure-storage handoff of security
// artifacts. The orchestrator never creates or rewrites these files;
// it only detects them and forwards sealed copies.
type HandoffConfig struct {
	// ArtifactPaths are filesystem locations the secrets service's
	// initialization may have written artifacts to.
	ArtifactPaths []string `yaml:"artifact_paths,omitempty"`

	// Recipients are age public keys the sealed copies are encrypted
	// to. At least one is required when ArtifactPaths is non-empty.
	Recipients []string `yaml:"recipients,omitempty"`

	// Dir is where sealed copies are written.
	Dir string `yaml:"dir,omitempty"`
}

// TimeoutConfig bounds the orchestrator's I/O. Durations are Go
// duration strings ("30s", "5m"); empty means the listed default.
type TimeoutConfig struct {
	// Probe bounds one probe request. Default 10s.
	Probe string `yaml:"probe,omitempty"`

	// Apply bounds one mutating node agent call. Default 2m
	// (binary installation downloads take a while).
	Apply string `yaml:"apply,omitempty"`

	// ReadinessPoll is the interval between secrets service readiness
	// checks while awaiting the phase flip. Default 5s.
	ReadinessPoll string `yaml:"readiness_poll,omitempty"`

	// Readiness bounds the total wait for secrets service readiness.
	// Empty or "0" means wait indefinitely — premature transition is
	// worse than blocking.
	Readiness string `yaml:"readiness,omitempty"`
}

// RetryConfig bounds probe retries on transient unreachability.
type RetryConfig struct {
	// ProbeAttempts is the number of probe attempts before surfacing
	// unreachability. Default 3.
	ProbeAttempts int `yaml:"probe_attempts,omitempty"`

	// ProbeBackoff is the base backoff between attempts, doubled each
	// retry. Default 1s.
	ProbeBackoff string `yaml:"probe_backoff,omitempty"`
}

// Overrides contains the fields that can be overridden per
// environment section.
type Overrides struct {
	Environment  *Environment   `yaml:"environment,omitempty"`
	FeatureFlags *FeatureFlags  `yaml:"feature_flags,omitempty"`
	Target       *TargetConfig  `yaml:"target,omitempty"`
	Timeouts     *TimeoutConfig `yaml:"timeouts,omitempty"`
}

// TargetID is the lock and backup key for this configuration's
// target: "<environment>/<node>". Two runs against the same TargetID
// are serialized; runs against different TargetIDs are independent.
func (c *DeployConfig) TargetID() string {
	return c.Environment.Name + "/" + c.Target.Node
}

// Load loads configuration from the CLOUDYA_DEPLOY_CONFIG environment
// variable. There are no fallbacks — if the variable is not set, this
// fails. Deterministic, auditable configuration with no hidden
// overrides.
func Load() (*DeployConfig, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%w: %s not set; set it to the path of your deploy.yaml, or use --config", ErrInvalid, EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, applies the
// matching per-environment override section, and validates the
// result. The config file is the single source of truth: environment
// variables never override file values.
func LoadFile(path string) (*DeployConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg DeployConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, path, err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnvironmentOverrides merges the override section matching the
// selected environment name into the base config.
func (c *DeployConfig) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment.Name {
	case "develop":
		overrides = c.Develop
	case "staging":
		overrides = c.Staging
	case "production":
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Environment != nil {
		// The name itself is not overridable — that would change
		// which section applies.
		name := c.Environment.Name
		c.Environment = *overrides.Environment
		c.Environment.Name = name
	}
	if overrides.FeatureFlags != nil {
		c.FeatureFlags = *overrides.FeatureFlags
	}
	if overrides.Target != nil {
		c.Target = *overrides.Target
	}
	if overrides.Timeouts != nil {
		c.Timeouts = *overrides.Timeouts
	}
}

// Validate checks the configuration for completeness and internal
// consistency. All failures wrap ErrInvalid: caller errors, never
// retried.
func (c *DeployConfig) Validate() error {
	if err := c.Environment.Validate(); err != nil {
		return err
	}
	if c.TargetVersion == "" {
		return fmt.Errorf("%w: target_version is required", ErrInvalid)
	}
	if c.Target.Node == "" {
		return fmt.Errorf("%w: target.node is required", ErrInvalid)
	}
	if c.Target.NodeAgentURL == "" {
		return fmt.Errorf("%w: target.node_agent_url is required", ErrInvalid)
	}
	if c.TargetPhase == PhaseIntegrated {
		if c.Target.SecretsServiceURL == "" {
			return fmt.Errorf("%w: target.secrets_service_url is required for the integrated phase", ErrInvalid)
		}
		if c.Target.SecretsRole == "" {
			return fmt.Errorf("%w: target.secrets_role is required for the integrated phase", ErrInvalid)
		}
	}
	if c.Backup.Dir == "" {
		return fmt.Errorf("%w: backup.dir is required", ErrInvalid)
	}
	switch c.Backup.Compression {
	case "", "zstd", "lz4":
	default:
		return fmt.Errorf("%w: unknown backup compression %q (want zstd or lz4)", ErrInvalid, c.Backup.Compression)
	}
	if c.StateDir == "" {
		return fmt.Errorf("%w: state_dir is required", ErrInvalid)
	}
	if len(c.Handoff.ArtifactPaths) > 0 {
		if len(c.Handoff.Recipients) == 0 {
			return fmt.Errorf("%w: handoff.recipients is required when handoff.artifact_paths is set", ErrInvalid)
		}
		if c.Handoff.Dir == "" {
			return fmt.Errorf("%w: handoff.dir is required when handoff.artifact_paths is set", ErrInvalid)
		}
	}
	if c.FeatureFlags.TokenTTL != "" {
		if _, err := time.ParseDuration(c.FeatureFlags.TokenTTL); err != nil {
			return fmt.Errorf("%w: feature_flags.token_ttl %q: %v", ErrInvalid, c.FeatureFlags.TokenTTL, err)
		}
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"timeouts.probe", c.Timeouts.Probe},
		{"timeouts.apply", c.Timeouts.Apply},
		{"timeouts.readiness_poll", c.Timeouts.ReadinessPoll},
		{"timeouts.readiness", c.Timeouts.Readiness},
		{"retry.probe_backoff", c.Retry.ProbeBackoff},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalid, field.name, field.value, err)
		}
	}
	if c.Retry.ProbeAttempts < 0 {
		return fmt.Errorf("%w: retry.probe_attempts must not be negative", ErrInvalid)
	}
	return nil
}

// Duration helpers. Each returns the configured value or the listed
// default. Validate has already guaranteed parseability.

// ProbeTimeout returns the per-probe timeout.
func (c *DeployConfig) ProbeTimeout() time.Duration {
	return durationOr(c.Timeouts.Probe, 10*time.Second)
}

// ApplyTimeout returns the per-action apply timeout.
func (c *DeployConfig) ApplyTimeout() time.Duration {
	return durationOr(c.Timeouts.Apply, 2*time.Minute)
}

// ReadinessPollInterval returns the readiness poll interval.
func (c *DeployConfig) ReadinessPollInterval() time.Duration {
	return durationOr(c.Timeouts.ReadinessPoll, 5*time.Second)
}

// ReadinessTimeout returns the total readiness wait bound; zero means
// wait indefinitely.
func (c *DeployConfig) ReadinessTimeout() time.Duration {
	return durationOr(c.Timeouts.Readiness, 0)
}

// ProbeAttempts returns the bounded probe retry count.
func (c *DeployConfig) ProbeAttempts() int {
	if c.Retry.ProbeAttempts == 0 {
		return 3
	}
	return c.Retry.ProbeAttempts
}

// ProbeBackoff returns the base probe retry backoff.
func (c *DeployConfig) ProbeBackoff() time.Duration {
	return durationOr(c.Retry.ProbeBackoff, time.Second)
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// StatePath returns the path of a per-target state file with the
// given suffix, creating the state directory if needed. The target ID
// contains a slash, so the environment becomes a subdirectory.
func (c *DeployConfig) StatePath(suffix string) (string, error) {
	dir := filepath.Join(c.StateDir, c.Environment.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating state directory %s: %w", dir, err)
	}
	return filepath.Join(dir, c.Target.Node+suffix), nil
}
