// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package secrets is the read-only client for the secrets service.
//
// The orchestrator observes the secrets service's lifecycle and
// policy readiness; it never changes them. This client therefore has
// no initialize, unseal, or write methods at all — the absence is the
// enforcement. Initialization and unsealing belong exclusively to the
// secrets service's own operational procedures.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudya/deploy/lib/state"
)

// ErrAmbiguous is returned when the service reports an internally
// inconsistent status. The orchestrator never guesses its way past
// this — an ambiguous security state is fatal for the run.
var ErrAmbiguous = errors.New("secrets service status is ambiguous")

// Client reads lifecycle and policy state from one secrets service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a read-only client for the secrets service at baseURL.
// Pass nil for http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// healthResponse is the service's health document. The service
// reports health on every status code, so the body is decoded
// regardless of the response code (sealed services conventionally
// answer 503, uninitialized ones 501).
type healthResponse struct {
	Initialized bool `json:"initialized"`
	Sealed      bool `json:"sealed"`
}

// Health classifies the service's lifecycle. An uninitialized service
// is necessarily sealed; a service claiming to be uninitialized yet
// unsealed is reporting an impossible state and fails with
// ErrAmbiguous.
func (c *Client) Health(ctx context.Context) (state.SecretsLifecycle, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sys/health", nil)
	if err != nil {
		return state.LifecycleUnknown, fmt.Errorf("building health request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return state.LifecycleUnknown, fmt.Errorf("secrets service health request: %w", err)
	}
	defer response.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(response.Body).Decode(&health); err != nil {
		return state.LifecycleUnknown, fmt.Errorf("decoding health response: %w", err)
	}

	switch {
	case !health.Initialized && !health.Sealed:
		return state.LifecycleUnknown, fmt.Errorf("%w: uninitialized yet unsealed", ErrAmbiguous)
	case !health.Initialized:
		return state.LifecycleUninitialized, nil
	case health.Sealed:
		return state.LifecycleSealed, nil
	default:
		return state.LifecycleUnsealed, nil
	}
}

// PolicyReady reports whether the named integration policy exists on
// the service. The phase-1 → phase-2 flip is gated on this: toggling
// integration before the policy exists would point the scheduler at a
// service not yet authorized to issue its credentials.
func (c *Client) PolicyReady(ctx context.Context, role string) (bool, error) {
	if role == "" {
		return false, errors.New("policy role is required")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sys/policies/acl/"+role, nil)
	if err != nil {
		return false, fmt.Errorf("building policy request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return false, fmt.Errorf("secrets service policy request: %w", err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("policy check for %q returned %d", role, response.StatusCode)
	}
}
