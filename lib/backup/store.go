// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cloudya/deploy/lib/clock"
	"github.com/cloudya/deploy/lib/codec"
	"github.com/cloudya/deploy/lib/fingerprint"
	"github.com/cloudya/deploy/lib/state"
	"github.com/cloudya/deploy/lib/synth"
)

// ErrNoBackups is returned by Latest when the target has no recorded
// snapshots.
var ErrNoBackups = errors.New("no backups recorded for target")

// recordFormatVersion is bumped when the record layout changes
// incompatibly. The reader rejects versions it does not know.
const recordFormatVersion = 1

// TimestampLayout names record files and is the timestamp format the
// CLI accepts for selecting a record. Nanosecond precision keeps the
// names unique and lexical order equal to chronological order.
const TimestampLayout = "20060102T150405.000000000Z"

// Record is one snapshot of a target's mutable artifacts, taken
// immediately before the first mutating action of a run.
type Record struct {
	// FormatVersion is the record layout version.
	FormatVersion int `json:"format_version"`

	// CreatedAt is the snapshot time (UTC).
	CreatedAt time.Time `json:"created_at"`

	// Target is the "<environment>/<node>" identifier.
	Target string `json:"target"`

	// PriorVersion is the scheduler version installed at snapshot
	// time. Empty on a first deployment.
	PriorVersion string `json:"prior_version"`

	// PriorFingerprint is the installed config's fingerprint at
	// snapshot time. Zero when no config was installed.
	PriorFingerprint fingerprint.Hash `json:"prior_fingerprint"`

	// PriorIntegrationEnabled is the live integration flag at
	// snapshot time.
	PriorIntegrationEnabled bool `json:"prior_integration_enabled"`

	// PriorLifecycle is the secrets service lifecycle at snapshot
	// time. Recorded for diagnostics only — restore never changes
	// the live lifecycle.
	PriorLifecycle state.SecretsLifecycle `json:"prior_lifecycle"`

	// HadConfig reports whether a config document was installed at
	// snapshot time. When false, the payload is empty and restore
	// does not rewrite config.
	HadConfig bool `json:"had_config"`

	// Compression is the tag the payload was stored with.
	Compression CompressionTag `json:"compression"`

	// PayloadSize is the uncompressed payload length.
	PayloadSize int `json:"payload_size"`

	// Payload is the compressed canonical CBOR encoding of the prior
	// config document.
	Payload []byte `json:"payload,omitempty"`

	// PayloadHash is the backup-domain integrity hash of the
	// uncompressed payload, verified on read.
	PayloadHash fingerprint.Hash `json:"payload_hash"`
}

// Document decodes the snapshotted config document after integrity
// verification.
func (r *Record) Document() (synth.Document, error) {
	if !r.HadConfig {
		return synth.Document{}, errors.New("record has no config payload")
	}

	payload, err := decompressPayload(r.Payload, r.Compression, r.PayloadSize)
	if err != nil {
		return synth.Document{}, fmt.Errorf("record payload: %w", err)
	}
	if got := fingerprint.Backup(payload); got != r.PayloadHash {
		return synth.Document{}, fmt.Errorf("record payload integrity check failed: got %s, recorded %s", got, r.PayloadHash)
	}

	var doc synth.Document
	if err := codec.Unmarshal(payload, &doc); err != nil {
		return synth.Document{}, fmt.Errorf("decoding record payload: %w", err)
	}
	return doc, nil
}

// Store reads and writes backup records under a base directory:
// <dir>/<environment>/<node>/<timestamp>.backup.
type Store struct {
	// Dir is the base directory.
	Dir string

	// Compression is the payload compression requested for new
	// snapshots.
	Compression CompressionTag

	// Clock provides snapshot timestamps.
	Clock clock.Clock
}

// Snapshot records the given observed state and config document for
// target. The record file is created with O_EXCL — an existing file
// is never overwritten, keeping the store append-only.
func (s *Store) Snapshot(target string, observed state.ObservedState, doc synth.Document, hadConfig bool) (*Record, error) {
	record := &Record{
		FormatVersion:           recordFormatVersion,
		CreatedAt:               s.Clock.Now().UTC(),
		Target:                  target,
		PriorVersion:            observed.InstalledVersion,
		PriorFingerprint:        observed.ConfigFingerprint,
		PriorIntegrationEnabled: observed.IntegrationEnabled,
		PriorLifecycle:          observed.SecretsLifecycle,
		HadConfig:               hadConfig,
	}

	if hadConfig {
		payload, err := codec.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encoding config document: %w", err)
		}
		compressed, tag, err := compressPayload(payload, s.Compression)
		if err != nil {
			return nil, fmt.Errorf("compressing config document: %w", err)
		}
		record.Compression = tag
		record.PayloadSize = len(payload)
		record.Payload = compressed
		record.PayloadHash = fingerprint.Backup(payload)
	}

	data, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding backup record: %w", err)
	}

	dir := filepath.Join(s.Dir, filepath.FromSlash(target))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, record.CreatedAt.Format(TimestampLayout)+".backup")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating backup record %s: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing backup record %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("closing backup record %s: %w", path, err)
	}

	return record, nil
}

// List returns the target's record timestamps in chronological order.
func (s *Store) List(target string) ([]time.Time, error) {
	dir := filepath.Join(s.Dir, filepath.FromSlash(target))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing backups in %s: %w", dir, err)
	}

	var timestamps []time.Time
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".backup") {
			continue
		}
		parsed, err := time.Parse(TimestampLayout, strings.TrimSuffix(name, ".backup"))
		if err != nil {
			// Foreign files in the store directory are skipped, not
			// fatal.
			continue
		}
		timestamps = append(timestamps, parsed)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })
	return timestamps, nil
}

// Read loads and decodes the record for the given target and
// timestamp.
func (s *Store) Read(target string, timestamp time.Time) (*Record, error) {
	path := filepath.Join(s.Dir, filepath.FromSlash(target), timestamp.UTC().Format(TimestampLayout)+".backup")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading backup record %s: %w", path, err)
	}

	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding backup record %s: %w", path, err)
	}
	if record.FormatVersion != recordFormatVersion {
		return nil, fmt.Errorf("backup record %s has format version %d, want %d", path, record.FormatVersion, recordFormatVersion)
	}
	return &record, nil
}

// Latest loads the target's most recent record. Returns ErrNoBackups
// when none exist.
func (s *Store) Latest(target string) (*Record, error) {
	timestamps, err := s.List(target)
	if err != nil {
		return nil, err
	}
	if len(timestamps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBackups, target)
	}
	return s.Read(target, timestamps[len(timestamps)-1])
}
