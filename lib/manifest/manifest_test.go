// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/cloudya/deploy/lib/config"
)

const fleetManifest = `{
	// develop fleet, rolled forward weekly
	"environment": "develop",
	"version": "1.6.2",
	"phase": "integrated",
	"targets": [
		{"node": "node-1", "node_agent_url": "http://10.0.0.4:9090"},
		{"node": "node-2", "node_agent_url": "http://10.0.0.5:9090", "version": "1.6.1"},
		{"node": "node-3", "node_agent_url": "http://10.0.0.6:9090", "phase": "bootstrap"}, // held back
	]
}`

func baseConfig() *config.DeployConfig {
	return &config.DeployConfig{
		Environment:   config.Environment{Name: "develop"},
		TargetPhase:   config.PhaseBootstrap,
		TargetVersion: "1.5.0",
	}
}

func TestParse(t *testing.T) {
	m, err := Parse([]byte(fleetManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Environment != "develop" {
		t.Errorf("environment = %q, want develop", m.Environment)
	}
	if len(m.Targets) != 3 {
		t.Fatalf("parsed %d targets, want 3", len(m.Targets))
	}
	if m.Targets[1].Version != "1.6.1" {
		t.Errorf("target 2 version = %q, want 1.6.1", m.Targets[1].Version)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"no environment", `{"targets": [{"node": "n", "node_agent_url": "http://x"}]}`},
		{"no targets", `{"environment": "develop", "targets": []}`},
		{"missing node", `{"environment": "develop", "targets": [{"node_agent_url": "http://x"}]}`},
		{"missing agent url", `{"environment": "develop", "targets": [{"node": "n"}]}`},
		{"duplicate node", `{"environment": "develop", "targets": [
			{"node": "n", "node_agent_url": "http://x"},
			{"node": "n", "node_agent_url": "http://y"}
		]}`},
		{"bad phase", `{"environment": "develop", "phase": "phase-three", "targets": [
			{"node": "n", "node_agent_url": "http://x"}
		]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.data)); !errors.Is(err, config.ErrInvalid) {
				t.Errorf("Parse = %v, want config.ErrInvalid", err)
			}
		})
	}
}

func TestConfigs(t *testing.T) {
	m, err := Parse([]byte(fleetManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	configs, err := m.Configs(baseConfig())
	if err != nil {
		t.Fatalf("Configs: %v", err)
	}
	if len(configs) != 3 {
		t.Fatalf("derived %d configs, want 3", len(configs))
	}

	if configs[0].TargetVersion != "1.6.2" || configs[0].TargetPhase != config.PhaseIntegrated {
		t.Errorf("node-1 = %s/%s, want 1.6.2/integrated", configs[0].TargetVersion, configs[0].TargetPhase)
	}
	if configs[1].TargetVersion != "1.6.1" {
		t.Errorf("node-2 version = %q, want the per-node pin 1.6.1", configs[1].TargetVersion)
	}
	if configs[2].TargetPhase != config.PhaseBootstrap {
		t.Errorf("node-3 phase = %s, want the per-node bootstrap pin", configs[2].TargetPhase)
	}
	if configs[1].Target.NodeAgentURL != "http://10.0.0.5:9090" {
		t.Errorf("node-2 agent URL = %q", configs[1].Target.NodeAgentURL)
	}
}

func TestConfigsRejectsEnvironmentMismatch(t *testing.T) {
	m, err := Parse([]byte(fleetManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	base := baseConfig()
	base.Environment.Name = "production"
	if _, err := m.Configs(base); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("Configs with mismatched environment = %v, want config.ErrInvalid", err)
	}
}

func TestFanOut(t *testing.T) {
	m, err := Parse([]byte(fleetManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	configs, err := m.Configs(baseConfig())
	if err != nil {
		t.Fatalf("Configs: %v", err)
	}

	var mu sync.Mutex
	var ran []string
	failing := errors.New("node-2 unreachable")

	results := FanOut(context.Background(), configs, func(ctx context.Context, cfg *config.DeployConfig) error {
		mu.Lock()
		ran = append(ran, cfg.Target.Node)
		mu.Unlock()
		if cfg.Target.Node == "node-2" {
			return failing
		}
		return nil
	})

	sort.Strings(ran)
	if len(ran) != 3 {
		t.Fatalf("fan-out ran %d targets, want 3 (one failure must not stop the rest)", len(ran))
	}

	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("healthy targets reported errors: %v, %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, failing) {
		t.Errorf("node-2 result = %v, want its run error", results[1].Err)
	}
	if results[1].Target != "develop/node-2" {
		t.Errorf("result target = %q, want develop/node-2", results[1].Target)
	}
}
