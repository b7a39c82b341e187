// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest parses multi-target deployment manifests and fans
// a run out across their targets.
//
// Manifests are authored as JSONC (JSON extended with // comments,
// /* block comments */, and trailing commas) so fleet files can carry
// operator annotations. A manifest names an environment and a list
// of target nodes; each entry derives a full per-target deployment
// configuration from the base configuration, overriding only the
// node identity and any per-node version or phase pin.
//
// Targets are independent: FanOut runs them in parallel goroutines,
// and each run takes its own per-target lock. One target failing
// never stops the others.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tidwall/jsonc"

	"github.com/cloudya/deploy/lib/config"
)

// Target is one manifest entry.
type Target struct {
	// Node is the node name within the manifest's environment.
	Node string `json:"node"`

	// NodeAgentURL is the node's agent control surface.
	NodeAgentURL string `json:"node_agent_url"`

	// Version pins this node to a scheduler version, overriding the
	// manifest-level version.
	Version string `json:"version,omitempty"`

	// Phase pins this node to a phase ("bootstrap" or "integrated"),
	// overriding the manifest-level phase.
	Phase string `json:"phase,omitempty"`
}

// Manifest is a multi-target deployment declaration.
type Manifest struct {
	// Environment must match the base configuration's environment:
	// a staging manifest applied with a production configuration is
	// an operator error, not a merge.
	Environment string `json:"environment"`

	// Version is the scheduler version for all targets without their
	// own pin. Empty defers to the base configuration.
	Version string `json:"version,omitempty"`

	// Phase is the target phase for all targets without their own
	// pin. Empty defers to the base configuration.
	Phase string `json:"phase,omitempty"`

	// Targets are the nodes to deploy.
	Targets []Target `json:"targets"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals and validates the manifest.
func Parse(data []byte) (*Manifest, error) {
	stripped := jsonc.ToJSON(data)

	var m Manifest
	if err := json.Unmarshal(stripped, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadFile reads and parses a JSONC manifest from disk.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (m *Manifest) validate() error {
	if m.Environment == "" {
		return fmt.Errorf("%w: manifest has no environment", config.ErrInvalid)
	}
	if len(m.Targets) == 0 {
		return fmt.Errorf("%w: manifest has no targets", config.ErrInvalid)
	}
	if m.Phase != "" {
		if _, err := config.ParsePhase(m.Phase); err != nil {
			return fmt.Errorf("%w: manifest phase: %v", config.ErrInvalid, err)
		}
	}

	seen := make(map[string]bool, len(m.Targets))
	for i, target := range m.Targets {
		if target.Node == "" {
			return fmt.Errorf("%w: manifest target %d has no node name", config.ErrInvalid, i)
		}
		if target.NodeAgentURL == "" {
			return fmt.Errorf("%w: manifest target %q has no node agent URL", config.ErrInvalid, target.Node)
		}
		if seen[target.Node] {
			return fmt.Errorf("%w: manifest lists node %q twice", config.ErrInvalid, target.Node)
		}
		seen[target.Node] = true
		if target.Phase != "" {
			if _, err := config.ParsePhase(target.Phase); err != nil {
				return fmt.Errorf("%w: manifest target %q phase: %v", config.ErrInvalid, target.Node, err)
			}
		}
	}
	return nil
}

// Configs derives one deployment configuration per manifest target
// from the base configuration. The base is not modified.
func (m *Manifest) Configs(base *config.DeployConfig) ([]*config.DeployConfig, error) {
	if m.Environment != base.Environment.Name {
		return nil, fmt.Errorf("%w: manifest is for environment %q, configuration is for %q",
			config.ErrInvalid, m.Environment, base.Environment.Name)
	}

	configs := make([]*config.DeployConfig, 0, len(m.Targets))
	for _, target := range m.Targets {
		derived := *base
		derived.Target.Node = target.Node
		derived.Target.NodeAgentURL = target.NodeAgentURL

		if m.Version != "" {
			derived.TargetVersion = m.Version
		}
		if target.Version != "" {
			derived.TargetVersion = target.Version
		}

		phaseName := m.Phase
		if target.Phase != "" {
			phaseName = target.Phase
		}
		if phaseName != "" {
			phase, err := config.ParsePhase(phaseName)
			if err != nil {
				return nil, fmt.Errorf("%w: target %q: %v", config.ErrInvalid, target.Node, err)
			}
			derived.TargetPhase = phase
		}

		configs = append(configs, &derived)
	}
	return configs, nil
}

// TargetResult is one target's fan-out outcome.
type TargetResult struct {
	// Target is the "<environment>/<node>" identifier.
	Target string

	// Err is the run's error, nil on success.
	Err error
}

// FanOut runs fn for every configuration in parallel and collects
// the per-target outcomes in input order. Each run holds its own
// per-target lock; a failing target does not stop the others.
func FanOut(ctx context.Context, configs []*config.DeployConfig, fn func(context.Context, *config.DeployConfig) error) []TargetResult {
	results := make([]TargetResult, len(configs))

	var wg sync.WaitGroup
	for i, cfg := range configs {
		wg.Add(1)
		go func(i int, cfg *config.DeployConfig) {
			defer wg.Done()
			results[i] = TargetResult{
				Target: cfg.TargetID(),
				Err:    fn(ctx, cfg),
			}
		}(i, cfg)
	}
	wg.Wait()
	return results
}
