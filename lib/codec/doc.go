// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the orchestrator's standard CBOR encoding
// configuration.
//
// The orchestrator uses two serialization formats with a clear
// boundary:
//
//   - JSON for external interfaces: the node agent control surface,
//     the secrets service health API, and CLI --json output.
//   - CBOR for internal artifacts: backup records on disk and the
//     canonical byte form of config documents that fingerprints are
//     computed over.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC
// 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes — the property that makes config fingerprints stable across
// field ordering and makes backup records byte-reproducible.
package codec
