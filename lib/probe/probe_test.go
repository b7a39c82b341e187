// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cloudya/deploy/lib/clock"
	"github.com/cloudya/deploy/lib/fingerprint"
	"github.com/cloudya/deploy/lib/nodeagent"
	"github.com/cloudya/deploy/lib/secrets"
	"github.com/cloudya/deploy/lib/state"
)

// fakeAgent returns queued status results, one per call.
type fakeAgent struct {
	results []func() (nodeagent.Status, error)
	calls   int
}

func (f *fakeAgent) GetStatus(ctx context.Context) (nodeagent.Status, error) {
	if f.calls >= len(f.results) {
		return nodeagent.Status{}, errors.New("no more queued results")
	}
	result := f.results[f.calls]
	f.calls++
	return result()
}

func ok(status nodeagent.Status) func() (nodeagent.Status, error) {
	return func() (nodeagent.Status, error) { return status, nil }
}

func fail(err error) func() (nodeagent.Status, error) {
	return func() (nodeagent.Status, error) { return nodeagent.Status{}, err }
}

type fakeLifecycle struct {
	lifecycle state.SecretsLifecycle
	err       error
}

func (f *fakeLifecycle) Health(ctx context.Context) (state.SecretsLifecycle, error) {
	return f.lifecycle, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProbeSnapshot(t *testing.T) {
	wantFingerprint := fingerprint.Backup([]byte("installed"))
	prober := &Prober{
		Agent: &fakeAgent{results: []func() (nodeagent.Status, error){
			ok(nodeagent.Status{Version: "1.6.2", ConfigFingerprint: wantFingerprint, Running: true}),
		}},
		Secrets: &fakeLifecycle{lifecycle: state.LifecycleUnsealed},
		Clock:   clock.Fake(time.Now()),
		Logger:  testLogger(),
	}

	observed, err := prober.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	want := state.ObservedState{
		InstalledVersion:  "1.6.2",
		ConfigFingerprint: wantFingerprint,
		ServiceRunning:    true,
		SecretsLifecycle:  state.LifecycleUnsealed,
	}
	if observed != want {
		t.Errorf("observed = %+v, want %+v", observed, want)
	}
}

func TestProbeWithoutSecretsService(t *testing.T) {
	prober := &Prober{
		Agent: &fakeAgent{results: []func() (nodeagent.Status, error){
			ok(nodeagent.Status{Version: "1.6.2", Running: true}),
		}},
		Clock:  clock.Fake(time.Now()),
		Logger: testLogger(),
	}

	observed, err := prober.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if observed.SecretsLifecycle != state.LifecycleUnknown {
		t.Errorf("lifecycle = %v, want unknown", observed.SecretsLifecycle)
	}
}

func TestProbeRetriesTransientFailures(t *testing.T) {
	fake := clock.Fake(time.Now())
	agent := &fakeAgent{results: []func() (nodeagent.Status, error){
		fail(errors.New("connection refused")),
		fail(errors.New("connection refused")),
		ok(nodeagent.Status{Version: "1.6.2", Running: true}),
	}}
	prober := &Prober{
		Agent:  agent,
		Retry:  RetryPolicy{MaxAttempts: 3, Backoff: time.Second},
		Clock:  fake,
		Logger: testLogger(),
	}

	type result struct {
		observed state.ObservedState
		err      error
	}
	done := make(chan result, 1)
	go func() {
		observed, err := prober.Probe(context.Background())
		done <- result{observed, err}
	}()

	// Two retries: backoff 1s then 2s.
	fake.AwaitWaiters(1)
	fake.Advance(time.Second)
	fake.AwaitWaiters(1)
	fake.Advance(2 * time.Second)

	got := <-done
	if got.err != nil {
		t.Fatalf("Probe: %v", got.err)
	}
	if got.observed.InstalledVersion != "1.6.2" {
		t.Errorf("version = %q", got.observed.InstalledVersion)
	}
	if agent.calls != 3 {
		t.Errorf("agent calls = %d, want 3", agent.calls)
	}
}

func TestProbeExhaustedRetriesIsUnreachable(t *testing.T) {
	fake := clock.Fake(time.Now())
	prober := &Prober{
		Agent: &fakeAgent{results: []func() (nodeagent.Status, error){
			fail(errors.New("connection refused")),
			fail(errors.New("connection refused")),
		}},
		Retry:  RetryPolicy{MaxAttempts: 2, Backoff: time.Second},
		Clock:  fake,
		Logger: testLogger(),
	}

	done := make(chan error, 1)
	go func() {
		_, err := prober.Probe(context.Background())
		done <- err
	}()

	fake.AwaitWaiters(1)
	fake.Advance(time.Second)

	if err := <-done; !errors.Is(err, ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
}

func TestProbeAmbiguousIsNotRetried(t *testing.T) {
	agent := &fakeAgent{results: []func() (nodeagent.Status, error){
		// Running service with no version: self-contradictory.
		ok(nodeagent.Status{Running: true}),
		ok(nodeagent.Status{Version: "1.6.2", Running: true}),
	}}
	prober := &Prober{
		Agent:  agent,
		Retry:  RetryPolicy{MaxAttempts: 3, Backoff: time.Second},
		Clock:  clock.Fake(time.Now()),
		Logger: testLogger(),
	}

	_, err := prober.Probe(context.Background())
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("got %v, want ErrAmbiguous", err)
	}
	if agent.calls != 1 {
		t.Errorf("agent calls = %d, want 1 (no retry on ambiguity)", agent.calls)
	}
}

func TestProbeAmbiguousLifecycle(t *testing.T) {
	prober := &Prober{
		Agent: &fakeAgent{results: []func() (nodeagent.Status, error){
			ok(nodeagent.Status{Version: "1.6.2", Running: true}),
		}},
		Secrets: &fakeLifecycle{err: fmt.Errorf("%w: uninitialized yet unsealed", secrets.ErrAmbiguous)},
		Clock:   clock.Fake(time.Now()),
		Logger:  testLogger(),
	}

	_, err := prober.Probe(context.Background())
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("got %v, want ErrAmbiguous", err)
	}
}

func TestProbeCancelledDuringBackoff(t *testing.T) {
	fake := clock.Fake(time.Now())
	prober := &Prober{
		Agent: &fakeAgent{results: []func() (nodeagent.Status, error){
			fail(errors.New("connection refused")),
			ok(nodeagent.Status{Version: "1.6.2"}),
		}},
		Retry:  RetryPolicy{MaxAttempts: 2, Backoff: time.Minute},
		Clock:  fake,
		Logger: testLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := prober.Probe(ctx)
		done <- err
	}()

	fake.AwaitWaiters(1)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
