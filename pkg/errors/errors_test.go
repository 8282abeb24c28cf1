// pkg/errors/errors_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: None
// PURPOSE: Test error creation, wrapping, typed constructors and exit codes

package errors_test

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    errors.ErrorCode
		message string
		wantStr string
	}{
		{
			name:    "not_found_error",
			code:    errors.ErrNotFound,
			message: "file not found",
			wantStr: "[NOT_FOUND] file not found",
		},
		{
			name:    "invalid_formula",
			code:    errors.ErrFormulaInvalid,
			message: "missing name",
			wantStr: "[FORMULA_INVALID] missing name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errors.New(tt.code, tt.message)

			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.message, err.Message)
			assert.NotNil(t, err.Details)
			assert.Equal(t, tt.wantStr, err.Error())
		})
	}
}

func TestWrap(t *testing.T) {
	t.Run("wraps_error", func(t *testing.T) {
		base := stderrors.New("disk full")
		err := errors.Wrap(base, errors.ErrFileWrite, "cannot write receipt")

		assert.Equal(t, errors.ErrFileWrite, err.Code)
		assert.ErrorIs(t, err, base)
		assert.Equal(t, "[FILE_WRITE] cannot write receipt: disk full", err.Error())
	})

	t.Run("nil_error_returns_nil", func(t *testing.T) {
		assert.Nil(t, errors.Wrap(nil, errors.ErrInternal, "internal"))
		assert.Nil(t, errors.Wrapf(nil, errors.ErrInternal, "internal %d", 1))
	})
}

func TestIsMatchesByCode(t *testing.T) {
	err1 := errors.New(errors.ErrPhaseFailed, "one")
	err2 := errors.New(errors.ErrPhaseFailed, "two")
	err3 := errors.New(errors.ErrPhaseTimedOut, "three")

	assert.True(t, stderrors.Is(err1, err2))
	assert.False(t, stderrors.Is(err1, err3))

	wrapped := fmt.Errorf("installing r: %w", err1)
	assert.True(t, errors.IsErrorCode(wrapped, errors.ErrPhaseFailed))
	assert.Equal(t, errors.ErrPhaseFailed, errors.GetErrorCode(wrapped))
	assert.Equal(t, errors.ErrUnknown, errors.GetErrorCode(stderrors.New("plain")))
	assert.Nil(t, errors.GetErrorDetails(stderrors.New("plain")))
}

func TestTypedConstructors(t *testing.T) {
	t.Run("cyclic_dependency", func(t *testing.T) {
		err := errors.CyclicDependency([]string{"a", "b", "a"})
		assert.Equal(t, errors.ErrCyclicDependency, err.Code)
		assert.Contains(t, err.Error(), "a -> b -> a")
		assert.Equal(t, []string{"a", "b", "a"}, err.Details["path"])
	})

	t.Run("conflicting_package", func(t *testing.T) {
		err := errors.ConflictingPackage("r", "both install `r` binaries")
		assert.Equal(t, "r", err.Details["package"])
		assert.Contains(t, err.Error(), "both install")
	})

	t.Run("phase_failed_keeps_output_tail", func(t *testing.T) {
		var stderr strings.Builder
		for i := 0; i < 50; i++ {
			fmt.Fprintf(&stderr, "line %d\n", i)
		}
		err := errors.PhaseFailed("configure", 2, "", stderr.String())

		require.Equal(t, errors.ErrPhaseFailed, err.Code)
		assert.Equal(t, 2, err.Details["exit_code"])
		assert.Equal(t, stderr.String(), err.Details["stderr"])
		assert.Contains(t, err.Error(), "line 49")
		assert.NotContains(t, err.Error(), "line 29\n")
	})

	t.Run("phase_failed_falls_back_to_stdout", func(t *testing.T) {
		err := errors.PhaseFailed("build", 1, "cc: error\n", "")
		assert.Contains(t, err.Error(), "cc: error")
	})
}

func TestTail(t *testing.T) {
	assert.Equal(t, "", errors.Tail("", 3))
	assert.Equal(t, "b\nc", errors.Tail("a\nb\nc\n", 2))
	assert.Equal(t, "a\nb", errors.Tail("a\nb", 5))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, errors.ExitOK},
		{"plain", stderrors.New("boom"), errors.ExitGeneric},
		{"unknown_option", errors.UnknownOption("x"), errors.ExitResolution},
		{"conflict", errors.ConflictingPackage("r", ""), errors.ExitResolution},
		{"cycle", errors.CyclicDependency([]string{"a", "a"}), errors.ExitResolution},
		{"phase", errors.PhaseFailed("make", 2, "", ""), errors.ExitBuild},
		{"timeout", errors.PhaseTimedOut("make", "", ""), errors.ExitBuild},
		{"patch", errors.PatchTargetMissing("/x"), errors.ExitBuild},
		{"tests", errors.TestAssertionFailed([]string{"t1"}), errors.ExitTest},
		{"wrapped", fmt.Errorf("ctx: %w", errors.TestAssertionFailed(nil)), errors.ExitTest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.ExitCode(tt.err))
		})
	}
}
