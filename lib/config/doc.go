// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the deployment
// orchestrator.
//
// Configuration is loaded from a single YAML file specified by:
//   - CLOUDYA_DEPLOY_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides —
// the orchestrator's planning stage must be reproducible from the
// file alone.
//
// The config file may contain environment-specific sections (develop,
// staging, production) that override base values when the selected
// environment matches.
//
// The package also defines the immutable value types threaded through
// every component call: Environment, FeatureFlags, and Phase. These
// replace ambient process-global state — no component reads
// configuration from anywhere but its arguments.
package config
