// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package handoff

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
)

func writeArtifact(t *testing.T, dir, name string, data []byte, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, mode); err != nil {
		t.Fatalf("writing artifact fixture: %v", err)
	}
	return path
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	present := writeArtifact(t, dir, "root-token", []byte("hvs.fixture"), 0o600)
	missing := filepath.Join(dir, "recovery-keys")

	artifacts, err := Detect([]string{present, missing})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("Detect found %d artifacts, want 1", len(artifacts))
	}
	if artifacts[0].Path != present {
		t.Errorf("detected path = %q, want %q", artifacts[0].Path, present)
	}
	if artifacts[0].Mode != 0o600 {
		t.Errorf("detected mode = %v, want 0600", artifacts[0].Mode)
	}
}

func TestDetectRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := Detect([]string{dir}); err == nil {
		t.Error("Detect accepted a directory as an artifact path")
	}
}

func TestSealRoundTrip(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generating test identity: %v", err)
	}

	sourceDir := t.TempDir()
	plaintext := []byte("hvs.CAESIFixtureRootToken")
	writeArtifact(t, sourceDir, "root-token", plaintext, 0o600)

	h := &Handoff{
		Recipients: []string{identity.Recipient().String()},
		Dir:        t.TempDir(),
		Logger:     slog.New(slog.DiscardHandler),
	}

	artifacts, err := Detect([]string{filepath.Join(sourceDir, "root-token")})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	sealed, err := h.Seal(artifacts)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(sealed) != 1 || sealed[0].Skipped {
		t.Fatalf("sealed = %+v, want one fresh copy", sealed)
	}

	info, err := os.Stat(sealed[0].SealedPath)
	if err != nil {
		t.Fatalf("stat sealed copy: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("sealed copy mode = %v, want 0600", info.Mode().Perm())
	}

	// The operator must be able to open the sealed copy.
	ciphertext, err := os.ReadFile(sealed[0].SealedPath)
	if err != nil {
		t.Fatalf("reading sealed copy: %v", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		t.Fatalf("decrypting sealed copy: %v", err)
	}
	decrypted, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("reading decrypted plaintext: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted plaintext = %q, want %q", decrypted, plaintext)
	}

	// The source artifact is read, never modified.
	source, err := os.ReadFile(filepath.Join(sourceDir, "root-token"))
	if err != nil {
		t.Fatalf("re-reading source artifact: %v", err)
	}
	if !bytes.Equal(source, plaintext) {
		t.Error("source artifact was modified during sealing")
	}
}

func TestSealTwiceSkipsExisting(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generating test identity: %v", err)
	}

	sourceDir := t.TempDir()
	path := writeArtifact(t, sourceDir, "recovery-keys", []byte("key-shares"), 0o400)

	h := &Handoff{
		Recipients: []string{identity.Recipient().String()},
		Dir:        t.TempDir(),
		Logger:     slog.New(slog.DiscardHandler),
	}

	artifacts, err := Detect([]string{path})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	first, err := h.Seal(artifacts)
	if err != nil {
		t.Fatalf("first Seal: %v", err)
	}
	original, err := os.ReadFile(first[0].SealedPath)
	if err != nil {
		t.Fatalf("reading sealed copy: %v", err)
	}

	second, err := h.Seal(artifacts)
	if err != nil {
		t.Fatalf("second Seal: %v", err)
	}
	if !second[0].Skipped {
		t.Error("second Seal did not report the existing copy as skipped")
	}
	after, err := os.ReadFile(second[0].SealedPath)
	if err != nil {
		t.Fatalf("re-reading sealed copy: %v", err)
	}
	if !bytes.Equal(original, after) {
		t.Error("second Seal rewrote the sealed copy")
	}
}

func TestSealRequiresRecipients(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "root-token", []byte("x"), 0o600)
	artifacts, err := Detect([]string{path})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	h := &Handoff{Dir: t.TempDir(), Logger: slog.New(slog.DiscardHandler)}
	if _, err := h.Seal(artifacts); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("Seal without recipients = %v, want ErrNoRecipients", err)
	}
}

func TestSealNothingDetected(t *testing.T) {
	h := &Handoff{Dir: t.TempDir(), Logger: slog.New(slog.DiscardHandler)}
	sealed, err := h.Seal(nil)
	if err != nil {
		t.Fatalf("Seal with no artifacts: %v", err)
	}
	if sealed != nil {
		t.Errorf("Seal with no artifacts returned %+v", sealed)
	}
}

func TestParseRecipient(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generating test identity: %v", err)
	}
	if err := ParseRecipient(identity.Recipient().String()); err != nil {
		t.Errorf("ParseRecipient rejected a valid key: %v", err)
	}
	if err := ParseRecipient("age1notakey"); err == nil {
		t.Error("ParseRecipient accepted a malformed key")
	}
}
