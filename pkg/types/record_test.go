// pkg/types/record_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: None
// PURPOSE: Test the derived views of build run records

package types_test

import (
	"testing"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionRecordRanAndSkipped(t *testing.T) {
	rec := types.ExecutionRecord{Phases: []types.PhaseResult{
		{Name: "configure", Status: types.PhaseSucceeded},
		{Name: "docs", Status: types.PhaseSkipped},
		{Name: "build", Status: types.PhaseFailed, ExitCode: 2},
		{Name: "install", Status: types.PhaseDryRun},
		{Name: "check", Status: types.PhaseTimedOut},
	}}

	assert.Equal(t, []string{"configure", "build", "check"}, rec.Ran())
	assert.Equal(t, []string{"docs"}, rec.Skipped())
	assert.Empty(t, types.ExecutionRecord{}.Ran())
}

func TestPatchLogChanged(t *testing.T) {
	assert.False(t, types.PatchLog{File: "Makefile"}.Changed())
	assert.True(t, types.PatchLog{
		File:    "Makefile",
		Entries: []types.PatchEntry{{Rule: 0, Line: 3, Before: "CC=gcc", After: "CC=cc"}},
	}.Changed())
}

func TestTestReport(t *testing.T) {
	t.Run("all passing", func(t *testing.T) {
		report := types.TestReport{Formula: "hello", Results: []types.AssertionResult{
			{Name: "version", Passed: true},
			{Name: "greets", Passed: true},
		}}
		assert.True(t, report.Passed())
		assert.Empty(t, report.Failed())
		assert.NoError(t, report.Err())
	})

	t.Run("empty report passes", func(t *testing.T) {
		assert.True(t, types.TestReport{}.Passed())
	})

	t.Run("failures keep declaration order", func(t *testing.T) {
		report := types.TestReport{Formula: "hello", Results: []types.AssertionResult{
			{Name: "greets", Passed: false, Expected: "Hello", Actual: "Bye"},
			{Name: "version", Passed: true},
			{Name: "exits", Passed: false},
		}}
		assert.False(t, report.Passed())
		assert.Equal(t, []string{"greets", "exits"}, report.Failed())

		err := report.Err()
		require.Error(t, err)
		assert.True(t, errors.IsErrorCode(err, errors.ErrTestAssertionFailed))
		assert.Equal(t, errors.ExitTest, errors.ExitCode(err))
		assert.Contains(t, err.Error(), "greets, exits")
	})
}
