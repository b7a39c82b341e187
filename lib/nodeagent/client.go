// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package nodeagent is the client for the node agent control surface:
// the remote process manager that installs scheduler binaries, writes
// configuration, restarts the service, and reports node status.
//
// The wire protocol is JSON over HTTP. Every request carries a
// context; mutating calls are expected to run under the
// orchestrator's apply timeout and read-only calls under the probe
// timeout. The client contains no retry logic — retry policy belongs
// to the caller, which knows whether an operation is safe to repeat.
package nodeagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudya/deploy/lib/fingerprint"
	"github.com/cloudya/deploy/lib/synth"
)

// Sentinel errors for the apply stage. ErrApplyTimeout is treated
// exactly like ErrApplyFailed by the controller (both trigger
// rollback); it exists so operators can tell a slow target from a
// broken one.
var (
	ErrApplyFailed  = errors.New("apply failed")
	ErrApplyTimeout = errors.New("apply timed out")

	// ErrNoConfig is returned by ReadConfig when the target has no
	// config document installed yet (first deployment).
	ErrNoConfig = errors.New("no config installed")
)

// Status is the node agent's status report.
type Status struct {
	// Version is the installed scheduler version. Empty when no
	// binary is installed.
	Version string `json:"version"`

	// ConfigFingerprint is the fingerprint of the installed config
	// document. Zero when no config is installed.
	ConfigFingerprint fingerprint.Hash `json:"config_fingerprint"`

	// Running reports whether the scheduler process is running.
	Running bool `json:"running"`

	// IntegrationEnabled reports the scheduler's live secrets
	// integration flag. The flag is runtime-reloadable: toggling it
	// does not require a service restart.
	IntegrationEnabled bool `json:"integration_enabled"`
}

// Client talks to one node agent.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the node agent at baseURL. The supplied
// http.Client controls transport behavior; pass nil for
// http.DefaultClient. Timeouts come from request contexts, not the
// transport.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// GetStatus fetches the node's current status. Read-only.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	var status Status
	if err := c.get(ctx, "/v1/agent/status", &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// ReadConfig fetches the currently installed config document, for
// backup snapshots. Returns ErrNoConfig when none is installed.
func (c *Client) ReadConfig(ctx context.Context) (synth.Document, error) {
	var doc synth.Document
	err := c.get(ctx, "/v1/agent/config", &doc)
	if err != nil {
		var status *statusError
		if errors.As(err, &status) && status.code == http.StatusNotFound {
			return synth.Document{}, ErrNoConfig
		}
		return synth.Document{}, err
	}
	return doc, nil
}

// Install instructs the node agent to install the given scheduler
// version. The agent stages the binary and swaps it atomically; the
// running process keeps its old binary until the next restart.
func (c *Client) Install(ctx context.Context, version string) error {
	body := struct {
		Version string `json:"version"`
	}{Version: version}
	return c.mutate(ctx, http.MethodPost, "/v1/agent/install", body)
}

// WriteConfig replaces the installed config document. The write is
// atomic on the agent side (write to temp file, rename); the running
// process keeps its old config until the next restart.
func (c *Client) WriteConfig(ctx context.Context, doc synth.Document) error {
	return c.mutate(ctx, http.MethodPut, "/v1/agent/config", doc)
}

// ToggleIntegration flips the scheduler's live secrets integration
// flag. The scheduler reloads this setting at runtime, so no restart
// follows a toggle-only change.
func (c *Client) ToggleIntegration(ctx context.Context, enabled bool) error {
	body := struct {
		Enabled bool `json:"enabled"`
	}{Enabled: enabled}
	return c.mutate(ctx, http.MethodPost, "/v1/agent/integration", body)
}

// Restart restarts the scheduler service so it picks up a newly
// installed binary or config.
func (c *Client) Restart(ctx context.Context) error {
	return c.mutate(ctx, http.MethodPost, "/v1/agent/restart", nil)
}

// statusError carries a non-2xx response for callers that
// distinguish specific codes (ReadConfig's 404).
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("node agent returned %d: %s", e.code, e.body)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("node agent request %s: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return &statusError{code: response.StatusCode, body: readBodyPrefix(response.Body)}
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) mutate(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s: %v", ErrApplyTimeout, method, path, err)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrApplyFailed, method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrApplyFailed, method, path, response.StatusCode, readBodyPrefix(response.Body))
	}
	return nil
}

// readBodyPrefix reads up to 512 bytes of an error response body for
// diagnostics. Error bodies are small; truncation protects log lines
// from misbehaving agents.
func readBodyPrefix(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 512))
	return strings.TrimSpace(string(data))
}
