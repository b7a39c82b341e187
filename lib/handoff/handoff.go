// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package handoff

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"filippo.io/age"
)

// ErrNoRecipients is returned when sealing is requested without any
// operator recipient keys configured.
var ErrNoRecipients = errors.New("no handoff recipients configured")

// Artifact is one detected security artifact.
type Artifact struct {
	// Path is the artifact's location on the orchestrator host.
	Path string

	// Mode is the artifact file's permission bits, preserved on the
	// sealed copy.
	Mode fs.FileMode

	// Size is the plaintext size in bytes.
	Size int64

	// SealedPath is the sealed copy's location, empty until Seal has
	// run for this artifact.
	SealedPath string

	// Skipped reports that the sealed copy already existed and was
	// left untouched.
	Skipped bool
}

// Handoff seals detected security artifacts to operator recipients.
type Handoff struct {
	// Recipients are the operator age public keys (age1... format)
	// every sealed copy is encrypted to.
	Recipients []string

	// Dir is the directory sealed copies are written to.
	Dir string

	// Logger is required.
	Logger *slog.Logger
}

// ParseRecipient validates an operator public key string. Used at
// config load time so a typo fails before any deployment work starts.
func ParseRecipient(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

// Detect probes the given paths and reports which artifacts exist.
// Missing paths are not errors: before the secrets service has
// initialized itself there is simply nothing to hand off.
func Detect(paths []string) ([]Artifact, error) {
	var found []Artifact
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("probing artifact %s: %w", path, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("artifact path %s is a directory", path)
		}
		found = append(found, Artifact{
			Path: path,
			Mode: info.Mode().Perm(),
			Size: info.Size(),
		})
	}
	return found, nil
}

// Seal encrypts each detected artifact to the configured recipients
// and writes the sealed copy to <dir>/<basename>.age with the
// source's mode bits. Artifacts whose sealed copy already exists are
// skipped. The source files are read, never modified.
func (h *Handoff) Seal(artifacts []Artifact) ([]Artifact, error) {
	if len(artifacts) == 0 {
		return nil, nil
	}
	if len(h.Recipients) == 0 {
		return nil, ErrNoRecipients
	}

	recipients := make([]age.Recipient, 0, len(h.Recipients))
	for _, key := range h.Recipients {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key: %w", err)
		}
		recipients = append(recipients, recipient)
	}

	if err := os.MkdirAll(h.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating handoff directory %s: %w", h.Dir, err)
	}

	sealed := make([]Artifact, 0, len(artifacts))
	for _, artifact := range artifacts {
		artifact.SealedPath = filepath.Join(h.Dir, filepath.Base(artifact.Path)+".age")

		if _, err := os.Stat(artifact.SealedPath); err == nil {
			artifact.Skipped = true
			sealed = append(sealed, artifact)
			h.Logger.Info("sealed artifact already present, leaving it untouched",
				"artifact", artifact.Path,
				"sealed", artifact.SealedPath,
			)
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("probing sealed copy %s: %w", artifact.SealedPath, err)
		}

		plaintext, err := os.ReadFile(artifact.Path)
		if err != nil {
			return nil, fmt.Errorf("reading artifact %s: %w", artifact.Path, err)
		}

		ciphertext, err := encrypt(plaintext, recipients)
		zero(plaintext)
		if err != nil {
			return nil, fmt.Errorf("sealing artifact %s: %w", artifact.Path, err)
		}

		if err := writeExclusive(artifact.SealedPath, ciphertext, artifact.Mode); err != nil {
			return nil, err
		}
		sealed = append(sealed, artifact)
		h.Logger.Info("sealed security artifact for operator handoff",
			"artifact", artifact.Path,
			"sealed", artifact.SealedPath,
			"recipients", len(recipients),
		)
	}
	return sealed, nil
}

func encrypt(plaintext []byte, recipients []age.Recipient) ([]byte, error) {
	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// writeExclusive creates the sealed copy with O_EXCL so a concurrent
// run cannot clobber a copy written between the existence probe and
// the write.
func writeExclusive(path string, data []byte, mode fs.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("creating sealed copy %s: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("writing sealed copy %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing sealed copy %s: %w", path, err)
	}
	return nil
}

// zero scrubs the heap copy of artifact plaintext after sealing.
func zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
