package style

import (
	"regexp"
	"sort"

	"github.com/charmbracelet/lipgloss"
)

// markupTags are the inline tags understood by Markup, e.g.
// "[formula]hello[/formula]".
var markupTags = map[string]lipgloss.Style{
	"formula": FormulaStyle,
	"path":    PathStyle,
	"muted":   MutedStyle,
	"success": SuccessStyle,
	"error":   ErrorStyle,
	"warning": WarningStyle,
	"dryrun":  DryRunStyle,
	"skipped": SkippedStyle,
	"bold":    lipgloss.NewStyle().Bold(true),
}

type markupRule struct {
	pattern *regexp.Regexp
	style   lipgloss.Style
}

var markupRules = compileMarkup()

func compileMarkup() []markupRule {
	tags := make([]string, 0, len(markupTags))
	for tag := range markupTags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	rules := make([]markupRule, len(tags))
	for i, tag := range tags {
		rules[i] = markupRule{
			pattern: regexp.MustCompile(`\[` + tag + `\](.*?)\[/` + tag + `\]`),
			style:   markupTags[tag],
		}
	}
	return rules
}

// Markup replaces tagged spans with their styled rendering. Tags may nest;
// unknown tags are left alone.
func Markup(text string) string {
	for {
		before := text
		for _, r := range markupRules {
			text = r.pattern.ReplaceAllStringFunc(text, func(match string) string {
				return r.style.Render(r.pattern.FindStringSubmatch(match)[1])
			})
		}
		if text == before {
			return text
		}
	}
}
