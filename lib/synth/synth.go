// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package synth synthesizes the canonical scheduler configuration
// document for a deployment run.
//
// Synthesis is a pure function of (Environment, FeatureFlags, Phase)
// plus the synthesizer's fixed collaborator endpoints: no I/O, no
// clock, no randomness. The same inputs always produce a
// byte-identical canonical encoding and therefore the same
// fingerprint — the planner relies on this to diff desired against
// observed state by fingerprint alone.
//
// Invalid input combinations fail with config.ErrInvalid. The
// synthesizer never silently corrects: a caller asking for the
// integrated phase with integration disabled has made an error that
// must surface, not a preference to be guessed at.
package synth

import (
	"fmt"
	"time"

	"github.com/cloudya/deploy/lib/config"
	"github.com/cloudya/deploy/lib/fingerprint"
)

// defaultTokenTTL is the integration token lease TTL when the caller
// does not set one.
const defaultTokenTTL = "1h"

// Document is the canonical scheduler configuration. Field values are
// fully resolved — no defaults or expansion happen downstream. The
// fingerprint is computed over the document's canonical CBOR
// encoding, so key ordering can never affect it.
type Document struct {
	Datacenter    string `json:"datacenter"`
	Region        string `json:"region"`
	NodeClass     string `json:"node_class,omitempty"`
	BindAddr      string `json:"bind_addr"`
	AdvertiseAddr string `json:"advertise_addr"`
	HTTPAddr      string `json:"http_addr"`

	Server ServerBlock `json:"server"`
	TLS    TLSBlock    `json:"tls"`

	// SecretsIntegration is always present. In the bootstrap phase it
	// is present-but-disabled (all fields empty, Enabled false), not
	// omitted: "present but disabled" and "absent" are distinct
	// states, and synthesis must never flip-flop between them for
	// equal inputs.
	SecretsIntegration SecretsBlock `json:"secrets_integration"`
}

// ServerBlock configures the scheduler server role.
type ServerBlock struct {
	Enabled bool `json:"enabled"`

	// BootstrapExpect is the expected server count for leader
	// election: 3 in HA mode, 1 otherwise.
	BootstrapExpect int `json:"bootstrap_expect"`
}

// TLSBlock configures transport security for the scheduler's RPC and
// HTTP listeners.
type TLSBlock struct {
	Enabled bool `json:"enabled"`

	// Certificate material locations on the target node. The
	// orchestrator does not distribute certificates — provisioning
	// them is a separate channel.
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`

	VerifyServerHostname bool `json:"verify_server_hostname"`
}

// SecretsBlock configures the scheduler's secrets service
// integration.
type SecretsBlock struct {
	Enabled bool `json:"enabled"`

	// Address is the secrets service base URL.
	Address string `json:"address,omitempty"`

	// Role is the integration role the scheduler authenticates as.
	Role string `json:"role,omitempty"`

	// TokenTTL is the requested token lease TTL.
	TokenTTL string `json:"token_ttl,omitempty"`
}

// DesiredState is the per-run deployment goal. Produced fresh every
// run and never persisted: it is always recomputed from its inputs,
// which keeps the synthesizer honest about purity.
type DesiredState struct {
	Version     string
	Document    Document
	Fingerprint fingerprint.Hash
	Phase       config.Phase
}

// Synthesizer holds the fixed collaborator endpoints that the
// integrated phase's document embeds. The endpoints are part of the
// synthesizer's identity, not per-call input, so a synthesizer
// remains a deterministic function of (env, flags, phase).
type Synthesizer struct {
	// SecretsAddr is the secrets service base URL embedded in
	// integrated-phase documents.
	SecretsAddr string

	// SecretsRole is the integration role embedded in
	// integrated-phase documents.
	SecretsRole string
}

// Synthesize produces the canonical config document and its
// fingerprint for the given inputs. Pure and deterministic; all
// invalid combinations fail with config.ErrInvalid.
func (s Synthesizer) Synthesize(env config.Environment, flags config.FeatureFlags, phase config.Phase) (Document, fingerprint.Hash, error) {
	if err := env.Validate(); err != nil {
		return Document{}, fingerprint.Hash{}, err
	}

	switch phase {
	case config.PhaseBootstrap:
		if flags.SecretsIntegrationEnabled {
			return Document{}, fingerprint.Hash{}, fmt.Errorf("%w: secrets integration cannot be enabled in the bootstrap phase", config.ErrInvalid)
		}
	case config.PhaseIntegrated:
		if !flags.SecretsIntegrationEnabled {
			return Document{}, fingerprint.Hash{}, fmt.Errorf("%w: the integrated phase requires secrets integration to be enabled", config.ErrInvalid)
		}
		if s.SecretsAddr == "" {
			return Document{}, fingerprint.Hash{}, fmt.Errorf("%w: integrated phase requires a secrets service address", config.ErrInvalid)
		}
		if s.SecretsRole == "" {
			return Document{}, fingerprint.Hash{}, fmt.Errorf("%w: integrated phase requires a secrets role", config.ErrInvalid)
		}
	default:
		return Document{}, fingerprint.Hash{}, fmt.Errorf("%w: unknown phase %v", config.ErrInvalid, phase)
	}

	tokenTTL := flags.TokenTTL
	if tokenTTL == "" {
		tokenTTL = defaultTokenTTL
	}
	if _, err := time.ParseDuration(tokenTTL); err != nil {
		return Document{}, fingerprint.Hash{}, fmt.Errorf("%w: token TTL %q: %v", config.ErrInvalid, tokenTTL, err)
	}

	advertise := env.AdvertiseAddr
	if advertise == "" {
		advertise = env.BindAddr
	}
	httpAddr := flags.ListenAddr
	if httpAddr == "" {
		httpAddr = env.BindAddr
	}

	bootstrapExpect := 1
	if flags.HAEnabled {
		bootstrapExpect = 3
	}

	doc := Document{
		Datacenter:    env.Datacenter,
		Region:        env.Region,
		NodeClass:     env.NodeClass,
		BindAddr:      env.BindAddr,
		AdvertiseAddr: advertise,
		HTTPAddr:      httpAddr,
		Server: ServerBlock{
			Enabled:         true,
			BootstrapExpect: bootstrapExpect,
		},
	}

	if flags.TLSEnabled {
		doc.TLS = TLSBlock{
			Enabled:              true,
			CertFile:             "/etc/cloudya/tls/scheduler.crt",
			KeyFile:              "/etc/cloudya/tls/scheduler.key",
			CAFile:               "/etc/cloudya/tls/ca.crt",
			VerifyServerHostname: true,
		}
	}

	if phase == config.PhaseIntegrated {
		doc.SecretsIntegration = SecretsBlock{
			Enabled:  true,
			Address:  s.SecretsAddr,
			Role:     s.SecretsRole,
			TokenTTL: tokenTTL,
		}
	}
	// Bootstrap phase: SecretsIntegration stays the zero block —
	// present in the document, disabled, all fields empty.

	hash, err := fingerprint.Config(doc)
	if err != nil {
		return Document{}, fingerprint.Hash{}, fmt.Errorf("fingerprinting synthesized document: %w", err)
	}
	return doc, hash, nil
}
