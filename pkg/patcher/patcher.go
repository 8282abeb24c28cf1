// Package patcher applies line-wise textual substitutions to installed
// files and can undo them from the patch log it produces.
package patcher

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/arthur-debert/formulary/pkg/environment"
	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/arthur-debert/formulary/pkg/logging"
	"github.com/arthur-debert/formulary/pkg/types"
)

// Rule is a compiled substitution.
type Rule struct {
	// Index is the rule's position in the formula, recorded in the log.
	Index   int
	pattern *regexp.Regexp
	literal string
	replace string
}

// NewRule compiles a single rule. Literal rules match text exactly.
func NewRule(index int, pattern, replace string, literal bool) (Rule, error) {
	if strings.Contains(replace, "\n") {
		return Rule{}, errors.Newf(errors.ErrFormulaInvalid, "patch rule %d: replacement contains a newline", index)
	}
	r := Rule{Index: index, replace: replace}
	if literal {
		r.literal = pattern
		return r, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, errors.Wrapf(err, errors.ErrFormulaInvalid, "patch rule %d: bad pattern", index)
	}
	r.pattern = re
	return r, nil
}

func (r Rule) apply(line string) string {
	if r.pattern == nil {
		if r.literal == "" {
			return line
		}
		return strings.ReplaceAll(line, r.literal, r.replace)
	}
	return r.pattern.ReplaceAllString(line, r.replace)
}

// FilePatch is the ordered rules targeting one file.
type FilePatch struct {
	File  string
	Rules []Rule
}

// Compile expands and compiles the formula's patch rules whose condition
// holds, grouped by file in order of first appearance. Files are relative
// to root.
func Compile(rules []formula.PatchRule, root string, scope environment.Scope, opts formula.OptionSet) ([]FilePatch, error) {
	var patches []FilePatch
	byFile := map[string]int{}

	for i, pr := range rules {
		if !pr.When.Holds(opts) {
			continue
		}
		var pattern string
		var err error
		if pr.Literal {
			pattern, err = scope.Expand(pr.Pattern)
		} else {
			pattern, err = scope.ExpandPattern(pr.Pattern)
		}
		if err != nil {
			return nil, err
		}
		replace := pr.Replace
		if pr.Literal {
			replace, err = scope.Expand(replace)
		} else {
			replace, err = scope.ExpandReplacement(replace)
		}
		if err != nil {
			return nil, err
		}
		rule, err := NewRule(i, pattern, replace, pr.Literal)
		if err != nil {
			return nil, err
		}

		file := filepath.Join(root, pr.File)
		idx, ok := byFile[file]
		if !ok {
			idx = len(patches)
			byFile[file] = idx
			patches = append(patches, FilePatch{File: file})
		}
		patches[idx].Rules = append(patches[idx].Rules, rule)
	}
	return patches, nil
}

// Patch applies rules to file in order. Each rule runs over every line
// before the next rule starts, and every changed line is logged. A missing
// file fails with PATCH_TARGET_MISSING.
func Patch(fsys types.FS, file string, rules []Rule) (types.PatchLog, error) {
	logger := logging.GetLogger("patcher")
	log := types.PatchLog{File: file}

	info, err := fsys.Stat(file)
	if err != nil || info.IsDir() {
		return log, errors.PatchTargetMissing(file)
	}
	data, err := fsys.ReadFile(file)
	if err != nil {
		return log, errors.Wrapf(err, errors.ErrFileAccess, "cannot read %s", file)
	}

	lines := strings.Split(string(data), "\n")
	for _, rule := range rules {
		matched := false
		for n, line := range lines {
			after := rule.apply(line)
			if after == line {
				continue
			}
			matched = true
			log.Entries = append(log.Entries, types.PatchEntry{
				Rule:   rule.Index,
				Line:   n + 1,
				Before: line,
				After:  after,
			})
			lines[n] = after
		}
		if !matched {
			logger.Warn().Str("file", file).Int("rule", rule.Index).Msg("Patch rule matched nothing")
		}
	}

	if !log.Changed() {
		return log, nil
	}
	if err := fsys.WriteFile(file, []byte(strings.Join(lines, "\n")), info.Mode().Perm()); err != nil {
		return log, errors.Wrapf(err, errors.ErrFileWrite, "cannot write %s", file)
	}
	logger.Debug().Str("file", file).Int("changes", len(log.Entries)).Msg("Patched file")
	return log, nil
}

// Revert undoes a patch log, newest change first. It fails if the file
// was modified in between.
func Revert(fsys types.FS, log types.PatchLog) error {
	if !log.Changed() {
		return nil
	}
	info, err := fsys.Stat(log.File)
	if err != nil {
		return errors.PatchTargetMissing(log.File)
	}
	data, err := fsys.ReadFile(log.File)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "cannot read %s", log.File)
	}

	lines := strings.Split(string(data), "\n")
	for i := len(log.Entries) - 1; i >= 0; i-- {
		e := log.Entries[i]
		if e.Line < 1 || e.Line > len(lines) || lines[e.Line-1] != e.After {
			return errors.Newf(errors.ErrFileWrite, "%s line %d changed since it was patched", log.File, e.Line).
				WithDetail("path", log.File).
				WithDetail("line", e.Line)
		}
		lines[e.Line-1] = e.Before
	}

	if err := fsys.WriteFile(log.File, []byte(strings.Join(lines, "\n")), info.Mode().Perm()); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "cannot write %s", log.File)
	}
	return nil
}
