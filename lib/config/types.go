// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
)

// ErrInvalid is the sentinel for configuration the caller got wrong:
// contradictory flag/phase combinations, missing required fields,
// unparseable values. Invalid configuration is never retried and
// never silently corrected.
var ErrInvalid = errors.New("configuration invalid")

// Environment is the immutable deployment environment descriptor.
// Created once per invocation from the loaded config file and passed
// by value through every component call; never mutated.
type Environment struct {
	// Name identifies the environment: develop, staging, production.
	Name string `yaml:"name" json:"name"`

	// Datacenter is the scheduler datacenter identifier (e.g. "dc1").
	Datacenter string `yaml:"datacenter" json:"datacenter"`

	// Region is the scheduler region (e.g. "global", "eu-central").
	Region string `yaml:"region" json:"region"`

	// BindAddr is the address the scheduler binds its listeners to.
	BindAddr string `yaml:"bind_addr" json:"bind_addr"`

	// AdvertiseAddr is the address the scheduler advertises to peers.
	// Empty means advertise the bind address.
	AdvertiseAddr string `yaml:"advertise_addr,omitempty" json:"advertise_addr,omitempty"`

	// NodeClass labels the target node for workload placement.
	NodeClass string `yaml:"node_class,omitempty" json:"node_class,omitempty"`
}

// knownEnvironments are the environment names the original CloudYa
// infrastructure deploys to.
var knownEnvironments = map[string]bool{
	"develop":    true,
	"staging":    true,
	"production": true,
}

// Validate checks the descriptor for required fields.
func (e Environment) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: environment name is required", ErrInvalid)
	}
	if !knownEnvironments[e.Name] {
		return fmt.Errorf("%w: unknown environment %q (want develop, staging, or production)", ErrInvalid, e.Name)
	}
	if e.Datacenter == "" {
		return fmt.Errorf("%w: datacenter is required", ErrInvalid)
	}
	if e.Region == "" {
		return fmt.Errorf("%w: region is required", ErrInvalid)
	}
	if e.BindAddr == "" {
		return fmt.Errorf("%w: bind_addr is required", ErrInvalid)
	}
	return nil
}

// FeatureFlags are the caller-supplied toggles and scalar knobs for a
// deployment run. Immutable within a run; passed by value.
type FeatureFlags struct {
	// SecretsIntegrationEnabled turns on the scheduler's secrets
	// service integration. Forbidden in the Bootstrap phase, required
	// in the Integrated phase.
	SecretsIntegrationEnabled bool `yaml:"secrets_integration_enabled" json:"secrets_integration_enabled"`

	// TLSEnabled turns on TLS for the scheduler's RPC and HTTP
	// listeners.
	TLSEnabled bool `yaml:"tls_enabled" json:"tls_enabled"`

	// HAEnabled runs the scheduler server in high-availability mode
	// (bootstrap_expect 3 instead of 1).
	HAEnabled bool `yaml:"ha_enabled" json:"ha_enabled"`

	// TokenTTL is the lease TTL requested for integration tokens, in
	// Go duration syntax (e.g. "1h"). Empty means the synthesizer's
	// default. Kept as a string because it is embedded verbatim in
	// the synthesized config document.
	TokenTTL string `yaml:"token_ttl,omitempty" json:"token_ttl,omitempty"`

	// ListenAddr overrides the HTTP API listen address. Empty means
	// the environment's bind address.
	ListenAddr string `yaml:"listen_addr,omitempty" json:"listen_addr,omitempty"`
}

// Phase is the two-step bootstrap ordering: the scheduler operable
// alone, then the scheduler integrated with the secrets service. The
// transition is monotonic per deployment lineage — reversing it is an
// explicit operator request, never an automatic rollback.
type Phase int

const (
	// PhaseBootstrap deploys the scheduler without any dependency on
	// the secrets service.
	PhaseBootstrap Phase = iota

	// PhaseIntegrated deploys the scheduler with its secrets service
	// integration enabled.
	PhaseIntegrated
)

// String returns the phase name used in config files and CLI flags.
func (p Phase) String() string {
	switch p {
	case PhaseBootstrap:
		return "bootstrap"
	case PhaseIntegrated:
		return "integrated"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParsePhase parses a phase name. Returns ErrInvalid for anything but
// "bootstrap" or "integrated".
func ParsePhase(name string) (Phase, error) {
	switch name {
	case "bootstrap":
		return PhaseBootstrap, nil
	case "integrated":
		return PhaseIntegrated, nil
	default:
		return 0, fmt.Errorf("%w: unknown phase %q (want bootstrap or integrated)", ErrInvalid, name)
	}
}

// MarshalYAML serializes the phase as its name.
func (p Phase) MarshalYAML() (any, error) {
	return p.String(), nil
}

// UnmarshalYAML parses the phase from its name.
func (p *Phase) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParsePhase(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
