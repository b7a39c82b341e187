// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"strings"
	"testing"
)

func TestConfigStableAcrossMapOrder(t *testing.T) {
	first := map[string]any{}
	first["datacenter"] = "dc1"
	first["tls"] = map[string]any{"enabled": true, "verify": false}
	first["region"] = "eu-central"

	second := map[string]any{}
	second["region"] = "eu-central"
	second["tls"] = map[string]any{"verify": false, "enabled": true}
	second["datacenter"] = "dc1"

	firstHash, err := Config(first)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	secondHash, err := Config(second)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if firstHash != secondHash {
		t.Errorf("logically equal documents fingerprint differently: %s vs %s", firstHash, secondHash)
	}
}

func TestConfigDistinguishesContent(t *testing.T) {
	base, err := Config(map[string]any{"datacenter": "dc1"})
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	changed, err := Config(map[string]any{"datacenter": "dc2"})
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if base == changed {
		t.Error("different documents share a fingerprint")
	}
}

func TestDomainSeparation(t *testing.T) {
	// The same raw bytes must hash differently in the config and
	// backup domains.
	raw := []byte("identical input")

	configHash := keyedHash(configDomainKey, raw)
	backupHash := Backup(raw)
	if configHash == backupHash {
		t.Error("config and backup domains produced the same hash for identical input")
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := Backup([]byte("some record"))

	parsed, err := Parse(original.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != original {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, original)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"not hex", strings.Repeat("zz", 32)},
		{"too short", "abcd"},
		{"too long", strings.Repeat("ab", 40)},
		{"empty", ""},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := Parse(testCase.input); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", testCase.input)
			}
		})
	}
}

func TestIsZero(t *testing.T) {
	var zero Hash
	if !zero.IsZero() {
		t.Error("zero hash not reported as zero")
	}
	if Backup([]byte("x")).IsZero() {
		t.Error("computed hash reported as zero")
	}
}
