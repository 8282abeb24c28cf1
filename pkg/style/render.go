package style

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/resolver"
	"github.com/arthur-debert/formulary/pkg/types"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// SetColor turns styled output on or off for every renderer in the package.
func SetColor(enabled bool) {
	if enabled {
		lipgloss.SetColorProfile(termenv.EnvColorProfile())
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	renderIndicators()
}

// PhaseIndicator returns the status glyph for a phase result.
func PhaseIndicator(status types.PhaseStatus) string {
	switch status {
	case types.PhaseSucceeded:
		return SuccessIndicator
	case types.PhaseFailed:
		return ErrorIndicator
	case types.PhaseTimedOut:
		return WarningIndicator
	case types.PhaseSkipped:
		return SkippedIndicator
	case types.PhaseDryRun:
		return PendingIndicator
	default:
		return InfoIndicator
	}
}

// RenderPlan shows the dependency closure in install order, marking what
// is already satisfied.
func RenderPlan(plan *resolver.Plan, options string) string {
	var b strings.Builder
	b.WriteString(FormulaStyle.Render(plan.Root()))
	if options != "" {
		b.WriteString(" " + MutedStyle.Render(options))
	}
	b.WriteString("\n")

	for _, step := range plan.Steps() {
		var line string
		switch {
		case step.Root:
			line = fmt.Sprintf("%s %s %s", ProgressIndicator, Bold(step.Name), step.Version)
		case step.Action == resolver.ActionSatisfied:
			line = fmt.Sprintf("%s %s %s", SuccessIndicator, step.Name, MutedStyle.Render(step.Installed+" installed"))
		default:
			line = fmt.Sprintf("%s %s %s", PendingIndicator, step.Name, step.Version)
		}
		var notes []string
		if step.Kind != "" {
			notes = append(notes, string(step.Kind))
		}
		if step.Gate != "" {
			notes = append(notes, "with "+string(step.Gate))
		}
		if step.Constraint != "" {
			notes = append(notes, step.Constraint)
		}
		if len(notes) > 0 {
			line += " " + MutedStyle.Render("("+strings.Join(notes, ", ")+")")
		}
		b.WriteString(Indent(line, 1) + "\n")
	}
	return b.String()
}

// RenderPhases lists phase results one per line.
func RenderPhases(phases []types.PhaseResult) string {
	var b strings.Builder
	for _, p := range phases {
		line := fmt.Sprintf("%s %-16s", PhaseIndicator(p.Status), p.Name)
		switch p.Status {
		case types.PhaseSkipped:
			line += SkippedStyle.Render("skipped")
		case types.PhaseDryRun:
			line += DryRunStyle.Render(strings.Join(p.Argv, " "))
		case types.PhaseFailed:
			line += ErrorStyle.Render(fmt.Sprintf("exit %d", p.ExitCode))
		case types.PhaseTimedOut:
			line += WarningStyle.Render("timed out")
		default:
			line += MutedStyle.Render(p.Duration.Round(time.Millisecond).String())
		}
		b.WriteString(Indent(line, 1) + "\n")
	}
	return b.String()
}

// RenderRecord summarizes an installation.
func RenderRecord(rec *types.InstallationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", FormulaStyle.Render(rec.Formula), rec.Version)
	b.WriteString(RenderPhases(rec.Phases))

	if len(rec.PostInstall) > 0 {
		b.WriteString(SubtitleStyle.Render("post-install") + "\n")
		b.WriteString(RenderPhases(rec.PostInstall))
	}

	edits := 0
	for _, p := range rec.Patches {
		edits += len(p.Entries)
	}
	if edits > 0 {
		b.WriteString(Indent(fmt.Sprintf("%s patched %d lines in %d files", InfoIndicator, edits, len(rec.Patches)), 1) + "\n")
	}
	if n := len(rec.Links.Links); n > 0 {
		b.WriteString(Indent(fmt.Sprintf("%s linked %d files", InfoIndicator, n), 1) + "\n")
	}
	if rec.Tests != nil {
		b.WriteString(RenderTestReport(*rec.Tests))
	}
	if rec.Root != "" {
		b.WriteString(Indent(PathStyle.Render(rec.Root), 1) + "\n")
	}
	return b.String()
}

// RenderTestReport shows every assertion with its outcome.
func RenderTestReport(report types.TestReport) string {
	var b strings.Builder
	passed := len(report.Results) - len(report.Failed())
	header := fmt.Sprintf("tests %d/%d passed", passed, len(report.Results))
	if report.Passed() {
		b.WriteString(SuccessStyle.Render(header) + "\n")
	} else {
		b.WriteString(ErrorStyle.Render(header) + "\n")
	}
	for _, r := range report.Results {
		if r.Passed {
			b.WriteString(Indent(fmt.Sprintf("%s %s", SuccessIndicator, r.Name), 1) + "\n")
			continue
		}
		b.WriteString(Indent(fmt.Sprintf("%s %s %s", ErrorIndicator, r.Name, MutedStyle.Render(r.Kind)), 1) + "\n")
		if r.Error != "" {
			b.WriteString(Indent(r.Error, 3) + "\n")
		}
		if r.Expected != "" {
			b.WriteString(Indent("expected: "+r.Expected, 3) + "\n")
			b.WriteString(Indent("actual:   "+r.Actual, 3) + "\n")
		}
	}
	return b.String()
}

// RenderError formats an error with its details. Captured output and
// validation problems are already part of the message.
func RenderError(err error) string {
	var b strings.Builder
	b.WriteString(ErrorIndicator + " " + ErrorStyle.Render(err.Error()) + "\n")

	details := errors.GetErrorDetails(err)
	keys := make([]string, 0, len(details))
	for k := range details {
		if k == "stdout" || k == "stderr" || k == "problems" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(details[k])
		if strings.Contains(v, "\n") {
			b.WriteString(Indent(MutedStyle.Render(k+":"), 1) + "\n")
			b.WriteString(Indent(v, 2) + "\n")
			continue
		}
		b.WriteString(Indent(MutedStyle.Render(k+": ")+v, 1) + "\n")
	}
	return b.String()
}

// RenderMarkdown renders formula prose such as caveats. It falls back to
// the raw text if glamour cannot render it.
func RenderMarkdown(content string, color bool, width int) string {
	var opts []glamour.TermRendererOption
	if color {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle("notty"))
	}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}

	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
