// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudya/deploy/lib/state"
)

func healthServer(t *testing.T, code int, initialized, sealed bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sys/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"initialized":%t,"sealed":%t}`, initialized, sealed)
	}))
}

func TestHealthClassification(t *testing.T) {
	cases := []struct {
		name        string
		code        int
		initialized bool
		sealed      bool
		want        state.SecretsLifecycle
	}{
		{"unsealed", http.StatusOK, true, false, state.LifecycleUnsealed},
		{"sealed", http.StatusServiceUnavailable, true, true, state.LifecycleSealed},
		{"uninitialized", http.StatusNotImplemented, false, true, state.LifecycleUninitialized},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			server := healthServer(t, testCase.code, testCase.initialized, testCase.sealed)
			defer server.Close()

			got, err := New(server.URL, nil).Health(context.Background())
			if err != nil {
				t.Fatalf("Health: %v", err)
			}
			if got != testCase.want {
				t.Errorf("lifecycle = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestHealthAmbiguous(t *testing.T) {
	// Uninitialized-yet-unsealed is an impossible combination; the
	// client must refuse to classify it rather than guess.
	server := healthServer(t, http.StatusOK, false, false)
	defer server.Close()

	_, err := New(server.URL, nil).Health(context.Background())
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("got %v, want ErrAmbiguous", err)
	}
}

func TestHealthUnreachable(t *testing.T) {
	_, err := New("http://127.0.0.1:1", nil).Health(context.Background())
	if err == nil {
		t.Fatal("expected error for unreachable service")
	}
}

func TestPolicyReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/sys/policies/acl/cloudya-app":
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"name":"cloudya-app"}`)
		case "/v1/sys/policies/acl/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := New(server.URL, nil)

	t.Run("existing policy", func(t *testing.T) {
		ready, err := client.PolicyReady(context.Background(), "cloudya-app")
		if err != nil {
			t.Fatalf("PolicyReady: %v", err)
		}
		if !ready {
			t.Error("ready = false for existing policy")
		}
	})

	t.Run("missing policy", func(t *testing.T) {
		ready, err := client.PolicyReady(context.Background(), "missing")
		if err != nil {
			t.Fatalf("PolicyReady: %v", err)
		}
		if ready {
			t.Error("ready = true for missing policy")
		}
	})

	t.Run("server error", func(t *testing.T) {
		if _, err := client.PolicyReady(context.Background(), "broken"); err == nil {
			t.Error("expected error for 500 response")
		}
	})

	t.Run("empty role", func(t *testing.T) {
		if _, err := client.PolicyReady(context.Background(), ""); err == nil {
			t.Error("expected error for empty role")
		}
	})
}
