// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudya/deploy/lib/clock"
	"github.com/cloudya/deploy/lib/fingerprint"
	"github.com/cloudya/deploy/lib/state"
	"github.com/cloudya/deploy/lib/synth"
)

func testDocument() synth.Document {
	return synth.Document{
		Datacenter:    "dc1",
		Region:        "global",
		NodeClass:     "cloudya-app",
		BindAddr:      "10.0.0.4",
		AdvertiseAddr: "10.0.0.4",
		HTTPAddr:      "10.0.0.4:4646",
		Server: synth.ServerBlock{
			Enabled:         true,
			BootstrapExpect: 1,
		},
	}
}

func testObserved(doc synth.Document) state.ObservedState {
	payload, err := fingerprint.Config(doc)
	if err != nil {
		panic(err)
	}
	return state.ObservedState{
		InstalledVersion:   "1.0.0",
		ConfigFingerprint:  payload,
		ServiceRunning:     true,
		IntegrationEnabled: false,
		SecretsLifecycle:   state.LifecycleSealed,
	}
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	doc := testObserved(testDocument())
	store := &Store{
		Dir:   t.TempDir(),
		Clock: clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)),
	}

	document := testDocument()
	record, err := store.Snapshot("develop/node-1", doc, document, true)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if record.FormatVersion != recordFormatVersion {
		t.Errorf("record format version = %d, want %d", record.FormatVersion, recordFormatVersion)
	}
	if record.PriorVersion != "1.0.0" {
		t.Errorf("record prior version = %q, want %q", record.PriorVersion, "1.0.0")
	}
	if record.PriorLifecycle != state.LifecycleSealed {
		t.Errorf("record prior lifecycle = %v, want %v", record.PriorLifecycle, state.LifecycleSealed)
	}

	loaded, err := store.Latest("develop/node-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if loaded.PriorFingerprint != record.PriorFingerprint {
		t.Errorf("loaded fingerprint = %s, want %s", loaded.PriorFingerprint, record.PriorFingerprint)
	}

	restored, err := loaded.Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if restored != document {
		t.Errorf("restored document = %+v, want %+v", restored, document)
	}
}

func TestStoreSnapshotWithoutConfig(t *testing.T) {
	observed := state.ObservedState{SecretsLifecycle: state.LifecycleUnknown}
	store := &Store{
		Dir:   t.TempDir(),
		Clock: clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)),
	}

	record, err := store.Snapshot("develop/node-1", observed, synth.Document{}, false)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if record.HadConfig {
		t.Error("record claims a config payload for a bare target")
	}
	if len(record.Payload) != 0 {
		t.Errorf("record payload has %d bytes, want empty", len(record.Payload))
	}

	loaded, err := store.Latest("develop/node-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if _, err := loaded.Document(); err == nil {
		t.Error("Document on a config-less record succeeded, want error")
	}
}

func TestStoreListChronological(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	store := &Store{Dir: t.TempDir(), Clock: fake}
	observed := testObserved(testDocument())

	var want []time.Time
	for i := 0; i < 3; i++ {
		record, err := store.Snapshot("staging/node-2", observed, testDocument(), true)
		if err != nil {
			t.Fatalf("Snapshot %d: %v", i, err)
		}
		want = append(want, record.CreatedAt)
		fake.Advance(17 * time.Minute)
	}

	got, err := store.List("staging/node-2")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("List returned %d timestamps, want %d", len(got), len(want))
	}
	for i := range got {
		if !got[i].Equal(want[i]) {
			t.Errorf("List[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	latest, err := store.Latest("staging/node-2")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !latest.CreatedAt.Equal(want[len(want)-1]) {
		t.Errorf("Latest created at %v, want %v", latest.CreatedAt, want[len(want)-1])
	}
}

func TestStoreLatestNoBackups(t *testing.T) {
	store := &Store{Dir: t.TempDir(), Clock: clock.Real()}
	_, err := store.Latest("production/node-9")
	if !errors.Is(err, ErrNoBackups) {
		t.Errorf("Latest on empty store = %v, want ErrNoBackups", err)
	}

	timestamps, err := store.List("production/node-9")
	if err != nil {
		t.Fatalf("List on empty store: %v", err)
	}
	if len(timestamps) != 0 {
		t.Errorf("List on empty store returned %d entries", len(timestamps))
	}
}

func TestCompressPayloadFallback(t *testing.T) {
	t.Run("compressible", func(t *testing.T) {
		payload := bytes.Repeat([]byte("datacenter bind advertise "), 64)
		compressed, tag, err := compressPayload(payload, CompressionZstd)
		if err != nil {
			t.Fatalf("compressPayload: %v", err)
		}
		if tag != CompressionZstd {
			t.Errorf("tag = %v, want zstd", tag)
		}
		if len(compressed) >= len(payload) {
			t.Errorf("compressed %d bytes to %d, expected a reduction", len(payload), len(compressed))
		}
		round, err := decompressPayload(compressed, tag, len(payload))
		if err != nil {
			t.Fatalf("decompressPayload: %v", err)
		}
		if !bytes.Equal(round, payload) {
			t.Error("round trip mismatch")
		}
	})

	t.Run("incompressible stored raw", func(t *testing.T) {
		// Hash output is effectively random and will not shrink.
		seed := fingerprint.Backup([]byte("entropy"))
		payload := seed[:]
		compressed, tag, err := compressPayload(payload, CompressionLZ4)
		if err != nil {
			t.Fatalf("compressPayload: %v", err)
		}
		if tag != CompressionNone {
			t.Errorf("tag = %v, want none for incompressible payload", tag)
		}
		if !bytes.Equal(compressed, payload) {
			t.Error("raw-stored payload was altered")
		}
	})

	t.Run("size mismatch rejected", func(t *testing.T) {
		payload := bytes.Repeat([]byte("x"), 128)
		compressed, tag, err := compressPayload(payload, CompressionZstd)
		if err != nil {
			t.Fatalf("compressPayload: %v", err)
		}
		if _, err := decompressPayload(compressed, tag, len(payload)+1); err == nil {
			t.Error("decompressPayload accepted a wrong uncompressed size")
		}
	})
}

func TestRecordDocumentIntegrity(t *testing.T) {
	store := &Store{
		Dir:   t.TempDir(),
		Clock: clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)),
	}
	record, err := store.Snapshot("develop/node-1", testObserved(testDocument()), testDocument(), true)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// Corrupt the recorded hash and confirm the read side refuses the
	// payload.
	record.PayloadHash[0] ^= 0xff
	_, err = record.Document()
	if err == nil || !strings.Contains(err.Error(), "integrity") {
		t.Errorf("Document on corrupted record = %v, want integrity failure", err)
	}
}

func TestStoreSnapshotAppendOnly(t *testing.T) {
	// A frozen clock produces the same record path twice; the second
	// write must refuse rather than overwrite.
	store := &Store{
		Dir:   t.TempDir(),
		Clock: clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)),
	}
	observed := testObserved(testDocument())
	if _, err := store.Snapshot("develop/node-1", observed, testDocument(), true); err != nil {
		t.Fatalf("first Snapshot: %v", err)
	}
	if _, err := store.Snapshot("develop/node-1", observed, testDocument(), true); err == nil {
		t.Error("second Snapshot at the same timestamp succeeded, want refusal")
	}
}
