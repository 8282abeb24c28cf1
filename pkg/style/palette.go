// Package style renders formulary's terminal output with lipgloss: install
// plans, phase results, receipts, test reports, errors and the markdown
// of caveats and help topics.
package style

import (
	"github.com/charmbracelet/lipgloss"
)

// Colors adapt to light and dark terminals.
var (
	HeadingColor = lipgloss.AdaptiveColor{Light: "#212529", Dark: "#F8F9FA"}
	MutedColor   = lipgloss.AdaptiveColor{Light: "#6C757D", Dark: "#ADB5BD"}
	PathColor    = lipgloss.AdaptiveColor{Light: "#6C757D", Dark: "#A0A8B0"}

	SuccessColor = lipgloss.AdaptiveColor{Light: "#28A745", Dark: "#4CDD76"}
	ErrorColor   = lipgloss.AdaptiveColor{Light: "#DC3545", Dark: "#FF6B7D"}
	WarningColor = lipgloss.AdaptiveColor{Light: "#FFC107", Dark: "#FFD54F"}
	InfoColor    = lipgloss.AdaptiveColor{Light: "#17A2B8", Dark: "#4DD0E1"}

	// Phase and formula colors
	RunningColor = lipgloss.AdaptiveColor{Light: "#0EA5E9", Dark: "#38BDF8"}
	SkippedColor = lipgloss.AdaptiveColor{Light: "#8B5CF6", Dark: "#A78BFA"}
	DryRunColor  = lipgloss.AdaptiveColor{Light: "#F59E0B", Dark: "#FBBF24"}
	FormulaColor = lipgloss.AdaptiveColor{Light: "#10B981", Dark: "#34D399"}
)

var (
	SubtitleStyle = lipgloss.NewStyle().Foreground(HeadingColor).Bold(true)
	MutedStyle    = lipgloss.NewStyle().Foreground(MutedColor)
	PathStyle     = lipgloss.NewStyle().Foreground(PathColor).Italic(true)

	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	InfoStyle    = lipgloss.NewStyle().Foreground(InfoColor)

	FormulaStyle = lipgloss.NewStyle().Foreground(FormulaColor).Bold(true)
	RunningStyle = lipgloss.NewStyle().Foreground(RunningColor)
	SkippedStyle = lipgloss.NewStyle().Foreground(SkippedColor)
	DryRunStyle  = lipgloss.NewStyle().Foreground(DryRunColor).Bold(true)
)

// Status indicators, one per phase status and report line. They are
// re-rendered by SetColor.
var (
	SuccessIndicator  string
	ErrorIndicator    string
	WarningIndicator  string
	InfoIndicator     string
	PendingIndicator  string
	ProgressIndicator string
	SkippedIndicator  string
)

func init() {
	renderIndicators()
}

func renderIndicators() {
	SuccessIndicator = SuccessStyle.Render("✓")
	ErrorIndicator = ErrorStyle.Render("✗")
	WarningIndicator = WarningStyle.Render("!")
	InfoIndicator = InfoStyle.Render("•")
	PendingIndicator = MutedStyle.Render("○")
	ProgressIndicator = RunningStyle.Render("⟳")
	SkippedIndicator = SkippedStyle.Render("-")
}

// Indent pads s by two spaces per level.
func Indent(s string, level int) string {
	return lipgloss.NewStyle().PaddingLeft(level * 2).Render(s)
}

func Bold(s string) string {
	return lipgloss.NewStyle().Bold(true).Render(s)
}
