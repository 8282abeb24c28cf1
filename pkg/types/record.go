package types

import (
	"time"

	"github.com/arthur-debert/formulary/pkg/errors"
)

// PhaseStatus is the outcome of a single build phase.
type PhaseStatus string

const (
	PhaseSucceeded PhaseStatus = "succeeded"
	PhaseFailed    PhaseStatus = "failed"
	PhaseTimedOut  PhaseStatus = "timed-out"
	PhaseSkipped   PhaseStatus = "skipped"
	PhaseDryRun    PhaseStatus = "dry-run"
)

// PhaseResult records what the executor did for one phase.
type PhaseResult struct {
	Name     string        `json:"name"`
	Argv     []string      `json:"argv,omitempty"`
	Dir      string        `json:"dir,omitempty"`
	Status   PhaseStatus   `json:"status"`
	ExitCode int           `json:"exit_code"`
	Jobs     int           `json:"jobs,omitempty"`
	Duration time.Duration `json:"duration"`
	LogPath  string        `json:"log_path,omitempty"`
}

// ExecutionRecord is the ordered list of phase results of one executor run.
type ExecutionRecord struct {
	Phases []PhaseResult `json:"phases"`
}

// Ran returns the names of phases that actually spawned a process.
func (r ExecutionRecord) Ran() []string {
	var names []string
	for _, p := range r.Phases {
		switch p.Status {
		case PhaseSucceeded, PhaseFailed, PhaseTimedOut:
			names = append(names, p.Name)
		}
	}
	return names
}

// Skipped returns the names of phases whose condition did not hold.
func (r ExecutionRecord) Skipped() []string {
	var names []string
	for _, p := range r.Phases {
		if p.Status == PhaseSkipped {
			names = append(names, p.Name)
		}
	}
	return names
}

// PatchEntry is one line rewritten by one patch rule.
type PatchEntry struct {
	Rule   int    `json:"rule"`
	Line   int    `json:"line"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// PatchLog is the audit trail of the rules applied to a single file.
// Entries are in application order, so reverting walks them backwards.
type PatchLog struct {
	File    string       `json:"file"`
	Entries []PatchEntry `json:"entries"`
}

// Changed reports whether any rule matched.
func (l PatchLog) Changed() bool {
	return len(l.Entries) > 0
}

// Link is a symlink created by the linker.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// LinkLog lists every symlink created for a keg.
type LinkLog struct {
	Links []Link `json:"links"`
}

// AssertionResult is the outcome of one smoke-test assertion.
type AssertionResult struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Passed   bool          `json:"passed"`
	Expected string        `json:"expected,omitempty"`
	Actual   string        `json:"actual,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// TestReport aggregates all assertion results of a formula test run.
type TestReport struct {
	Formula string            `json:"formula"`
	Results []AssertionResult `json:"results"`
}

// Passed is true only when every assertion passed.
func (r TestReport) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Failed returns the names of failing assertions in declaration order.
func (r TestReport) Failed() []string {
	var names []string
	for _, res := range r.Results {
		if !res.Passed {
			names = append(names, res.Name)
		}
	}
	return names
}

// Err returns a TEST_ASSERTION_FAILED error when any assertion failed.
func (r TestReport) Err() error {
	if failed := r.Failed(); len(failed) > 0 {
		return errors.TestAssertionFailed(failed).WithDetail("formula", r.Formula)
	}
	return nil
}

// InstallationRecord is the final artifact of a successful build run. It is
// written once into the keg as its receipt and never modified afterwards.
type InstallationRecord struct {
	RunID        string          `json:"run_id"`
	Formula      string          `json:"formula"`
	Version      string          `json:"version"`
	Root         string          `json:"root"`
	Source       string          `json:"source,omitempty"`
	Options      map[string]bool `json:"options"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Phases       []PhaseResult   `json:"phases"`
	PostInstall  []PhaseResult   `json:"post_install,omitempty"`
	Patches      []PatchLog      `json:"patches,omitempty"`
	Links        LinkLog         `json:"links"`
	Tests        *TestReport     `json:"tests,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}
