// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint computes content fingerprints for the
// orchestrator. A fingerprint is a 32-byte keyed BLAKE3 digest over
// the canonical CBOR encoding of a value, so two documents that are
// semantically equal (same fields, any ordering) always share a
// fingerprint.
//
// Domain separation keys ensure the same bytes hash differently in
// different contexts: a config document fingerprint can never collide
// with a backup record integrity hash.
package fingerprint

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/cloudya/deploy/lib/codec"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. The byte
// values are the ASCII encoding of the domain name, zero-padded to 32
// bytes: readable in hex dumps without sacrificing any cryptographic
// property (keyed mode treats the key as opaque).
type domainKey [32]byte

// Domain separation keys. Fixed protocol constants — changing them
// invalidates every stored fingerprint in that domain.
var (
	configDomainKey = domainKey{
		'c', 'l', 'o', 'u', 'd', 'y', 'a', '.',
		'c', 'o', 'n', 'f', 'i', 'g', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	backupDomainKey = domainKey{
		'c', 'l', 'o', 'u', 'd', 'y', 'a', '.',
		'b', 'a', 'c', 'k', 'u', 'p', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Config computes the config-domain fingerprint of a value's
// canonical CBOR encoding. This is the fingerprint compared between
// desired and observed state during planning.
func Config(v any) (Hash, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return Hash{}, fmt.Errorf("encoding value for fingerprinting: %w", err)
	}
	return keyedHash(configDomainKey, data), nil
}

// Backup computes the backup-domain integrity hash of raw record
// bytes. Stored alongside each backup record and verified on read.
func Backup(data []byte) Hash {
	return keyedHash(backupDomainKey, data)
}

func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on wrong key length; domainKey is
		// always 32 bytes.
		panic("fingerprint: keyed hasher initialization failed: " + err.Error())
	}
	hasher.Write(data)

	var digest Hash
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// String returns the hex encoding of the hash. This is the canonical
// format used in node agent status responses, backup records, and log
// output.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the zero value, which the prober
// uses to represent "no config installed".
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler so hashes appear as
// hex strings in JSON output instead of 32-element byte arrays.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string
// decodes to the zero hash (no config installed).
func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*h = Hash{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Parse parses a hex-encoded fingerprint string into a Hash. Returns
// an error if the string is not a valid 64-character hex encoding of
// 32 bytes.
func Parse(hexString string) (Hash, error) {
	var digest Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing fingerprint: %w", err)
	}
	if len(decoded) != 32 {
		return digest, fmt.Errorf("fingerprint is %d bytes, want 32", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}
