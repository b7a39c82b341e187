// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command tree framework for the
// cloudya-deploy binary: command dispatch with typo suggestions,
// structured help output, pflag-based flag parsing, exit-code
// plumbing, and logger construction. Commands are assembled into a
// tree in cmd/cloudya-deploy/commands and executed from main.
package cli
