// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package nodeagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudya/deploy/lib/fingerprint"
	"github.com/cloudya/deploy/lib/synth"
)

func TestGetStatus(t *testing.T) {
	wantFingerprint := fingerprint.Backup([]byte("config"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/agent/status" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"version":            "1.6.2",
			"config_fingerprint": wantFingerprint.String(),
			"running":            true,
		})
	}))
	defer server.Close()

	status, err := New(server.URL, nil).GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Version != "1.6.2" {
		t.Errorf("version = %q", status.Version)
	}
	if status.ConfigFingerprint != wantFingerprint {
		t.Errorf("fingerprint = %s, want %s", status.ConfigFingerprint, wantFingerprint)
	}
	if !status.Running {
		t.Error("running = false")
	}
}

func TestReadConfigNotInstalled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no config", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := New(server.URL, nil).ReadConfig(context.Background())
	if !errors.Is(err, ErrNoConfig) {
		t.Fatalf("got %v, want ErrNoConfig", err)
	}
}

func TestInstallSendsVersion(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/agent/install" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
	}))
	defer server.Close()

	if err := New(server.URL, nil).Install(context.Background(), "1.7.0"); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if gotBody["version"] != "1.7.0" {
		t.Errorf("sent version = %q, want 1.7.0", gotBody["version"])
	}
}

func TestWriteConfigRoundTrips(t *testing.T) {
	var got synth.Document
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding document: %v", err)
		}
	}))
	defer server.Close()

	doc := synth.Document{Datacenter: "dc1", Region: "global"}
	if err := New(server.URL, nil).WriteConfig(context.Background(), doc); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	if got.Datacenter != "dc1" || got.Region != "global" {
		t.Errorf("server received %+v", got)
	}
}

func TestMutateFailureIsApplyFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))
	defer server.Close()

	err := New(server.URL, nil).Restart(context.Background())
	if !errors.Is(err, ErrApplyFailed) {
		t.Fatalf("got %v, want ErrApplyFailed", err)
	}
}

func TestMutateDeadlineIsApplyTimeout(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := New(server.URL, nil).Restart(ctx)
	if !errors.Is(err, ErrApplyTimeout) {
		t.Fatalf("got %v, want ErrApplyTimeout", err)
	}
}

func TestConnectionRefusedIsApplyFailed(t *testing.T) {
	// Port 1 is essentially never listening.
	err := New("http://127.0.0.1:1", nil).Restart(context.Background())
	if !errors.Is(err, ErrApplyFailed) {
		t.Fatalf("got %v, want ErrApplyFailed", err)
	}
}
