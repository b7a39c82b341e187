// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/cloudya/deploy/lib/plan"
	"github.com/cloudya/deploy/lib/state"
)

// Styles for terminal output. Lipgloss degrades to plain text when
// stdout is not a terminal, so these are safe to use unconditionally.
var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	changeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// renderChangeSet writes the planned actions as a table.
func renderChangeSet(w io.Writer, target string, changeset plan.ChangeSet) {
	fmt.Fprintln(w, headingStyle.Render("Plan for "+target))
	if changeset.IsNoOp() {
		fmt.Fprintln(w, okStyle.Render("no changes needed"))
		return
	}

	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	for i, action := range changeset {
		detail := ""
		switch action.Op {
		case plan.OpInstallBinary:
			detail = "version " + action.Version
		case plan.OpReplaceConfig:
			detail = "synthesized document"
		case plan.OpToggleIntegration:
			if action.Enable {
				detail = "enable"
			} else {
				detail = "disable"
			}
		}
		fmt.Fprintf(tw, "  %d.\t%s\t%s\n", i+1, changeStyle.Render(action.Op.String()), faintStyle.Render(detail))
	}
	tw.Flush()
	fmt.Fprintf(w, "%d actions pending\n", changeset.MutationCount())
}

// renderObserved writes one observed-state snapshot.
func renderObserved(w io.Writer, target string, observed state.ObservedState) {
	fmt.Fprintln(w, headingStyle.Render("Status of "+target))

	running := failStyle.Render("stopped")
	if observed.ServiceRunning {
		running = okStyle.Render("running")
	}
	versionText := observed.InstalledVersion
	if versionText == "" {
		versionText = faintStyle.Render("not installed")
	}
	fingerprintText := observed.ConfigFingerprint.String()
	if observed.ConfigFingerprint.IsZero() {
		fingerprintText = faintStyle.Render("no config")
	}
	integration := faintStyle.Render("disabled")
	if observed.IntegrationEnabled {
		integration = okStyle.Render("enabled")
	}

	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "  service\t%s\n", running)
	fmt.Fprintf(tw, "  version\t%s\n", versionText)
	fmt.Fprintf(tw, "  config fingerprint\t%s\n", fingerprintText)
	fmt.Fprintf(tw, "  secrets integration\t%s\n", integration)
	fmt.Fprintf(tw, "  secrets lifecycle\t%s\n", observed.SecretsLifecycle)
	tw.Flush()
}

// renderOutcome writes a run outcome line. The no-op wording is
// deliberately distinct from the mutating-run wording so operators
// can audit whether a run actually did anything.
func renderOutcome(w io.Writer, target string, mutations int, outcome string) {
	switch outcome {
	case "no-op":
		fmt.Fprintf(w, "%s: %s\n", target, okStyle.Render("no changes needed"))
	case "converged":
		fmt.Fprintf(w, "%s: %s\n", target, okStyle.Render(fmt.Sprintf("converged, %d actions applied", mutations)))
	case "rolled-back":
		fmt.Fprintf(w, "%s: %s\n", target, failStyle.Render(fmt.Sprintf("rolled back after failure, %d actions undone", mutations)))
	default:
		fmt.Fprintf(w, "%s: %s\n", target, failStyle.Render(outcome))
	}
}
