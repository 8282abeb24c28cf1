package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error code for stable testing
type ErrorCode string

// Error codes for different error categories
const (
	// General errors
	ErrUnknown        ErrorCode = "UNKNOWN"
	ErrInternal       ErrorCode = "INTERNAL"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	ErrNotImplemented ErrorCode = "NOT_IMPLEMENTED"

	// Configuration errors
	ErrConfigLoad  ErrorCode = "CONFIG_LOAD"
	ErrConfigParse ErrorCode = "CONFIG_PARSE"
	ErrConfigValid ErrorCode = "CONFIG_INVALID"

	// Formula errors
	ErrFormulaNotFound ErrorCode = "FORMULA_NOT_FOUND"
	ErrFormulaParse    ErrorCode = "FORMULA_PARSE"
	ErrFormulaInvalid  ErrorCode = "FORMULA_INVALID"
	ErrSelfDependency  ErrorCode = "SELF_DEPENDENCY"

	// Resolution errors
	ErrCyclicDependency   ErrorCode = "CYCLIC_DEPENDENCY"
	ErrConflictingPackage ErrorCode = "CONFLICTING_PACKAGE"
	ErrVersionConflict    ErrorCode = "VERSION_CONFLICT"
	ErrUnknownOption      ErrorCode = "UNKNOWN_OPTION"
	ErrConflictingOptions ErrorCode = "CONFLICTING_OPTIONS"
	ErrUnresolvedVariable ErrorCode = "UNRESOLVED_VARIABLE"

	// Build errors
	ErrPrefixLocked       ErrorCode = "PREFIX_LOCKED"
	ErrFetchFailed        ErrorCode = "FETCH_FAILED"
	ErrChecksumMismatch   ErrorCode = "CHECKSUM_MISMATCH"
	ErrPhaseFailed        ErrorCode = "PHASE_FAILED"
	ErrPhaseTimedOut      ErrorCode = "PHASE_TIMED_OUT"
	ErrPatchTargetMissing ErrorCode = "PATCH_TARGET_MISSING"
	ErrLinkConflict       ErrorCode = "LINK_CONFLICT"

	// Verification errors
	ErrTestAssertionFailed ErrorCode = "TEST_ASSERTION_FAILED"

	// FileSystem errors
	ErrFileAccess ErrorCode = "FILE_ACCESS"
	ErrFileWrite  ErrorCode = "FILE_WRITE"
)

// FormularyError represents a structured error with code and details
type FormularyError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implements the error interface
func (e *FormularyError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *FormularyError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface
func (e *FormularyError) Is(target error) bool {
	var targetErr *FormularyError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// New creates a new FormularyError with the given code and message
func New(code ErrorCode, message string) *FormularyError {
	return &FormularyError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates a new FormularyError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *FormularyError {
	return &FormularyError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a FormularyError
func Wrap(err error, code ErrorCode, message string) *FormularyError {
	if err == nil {
		return nil
	}
	return &FormularyError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *FormularyError {
	if err == nil {
		return nil
	}
	return &FormularyError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// WithDetail adds a detail to the error
func (e *FormularyError) WithDetail(key string, value interface{}) *FormularyError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithDetails adds multiple details to the error
func (e *FormularyError) WithDetails(details map[string]interface{}) *FormularyError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var fe *FormularyError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrUnknown if not a FormularyError
func GetErrorCode(err error) ErrorCode {
	var fe *FormularyError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrUnknown
}

// GetErrorDetails returns the details from an error, or nil if not a FormularyError
func GetErrorDetails(err error) map[string]interface{} {
	var fe *FormularyError
	if errors.As(err, &fe) {
		return fe.Details
	}
	return nil
}

// CyclicDependency reports a dependency cycle. path starts and ends with the
// same package.
func CyclicDependency(path []string) *FormularyError {
	return Newf(ErrCyclicDependency, "dependency cycle: %s", strings.Join(path, " -> ")).
		WithDetail("path", path)
}

// ConflictingPackage reports an installed package the formula conflicts with.
func ConflictingPackage(name, because string) *FormularyError {
	msg := fmt.Sprintf("conflicts with installed package %q", name)
	if because != "" {
		msg += " (" + because + ")"
	}
	return New(ErrConflictingPackage, msg).WithDetail("package", name)
}

// UnknownOption reports an override for an option the formula does not declare.
func UnknownOption(name string) *FormularyError {
	return Newf(ErrUnknownOption, "unknown option %q", name).WithDetail("option", name)
}

// ConflictingOptions reports options that cannot be enabled together.
func ConflictingOptions(group string, names []string) *FormularyError {
	return Newf(ErrConflictingOptions, "options %s conflict in %q", strings.Join(names, ", "), group).
		WithDetail("group", group).
		WithDetail("options", names)
}

// outputTailLines bounds how much captured output goes into an error message.
const outputTailLines = 20

// PhaseFailed reports a build phase that exited non-zero. The full captured
// streams are kept in the details.
func PhaseFailed(phase string, exitCode int, stdout, stderr string) *FormularyError {
	msg := fmt.Sprintf("phase %q exited with status %d", phase, exitCode)
	if tail := Tail(stderr, outputTailLines); tail != "" {
		msg += "\n" + tail
	} else if tail := Tail(stdout, outputTailLines); tail != "" {
		msg += "\n" + tail
	}
	return New(ErrPhaseFailed, msg).WithDetails(map[string]interface{}{
		"phase":     phase,
		"exit_code": exitCode,
		"stdout":    stdout,
		"stderr":    stderr,
	})
}

// PhaseTimedOut reports a phase killed after exceeding its wall-clock budget.
func PhaseTimedOut(phase string, stdout, stderr string) *FormularyError {
	return Newf(ErrPhaseTimedOut, "phase %q timed out", phase).WithDetails(map[string]interface{}{
		"phase":  phase,
		"stdout": stdout,
		"stderr": stderr,
	})
}

// PatchTargetMissing reports a patch rule whose file does not exist.
func PatchTargetMissing(path string) *FormularyError {
	return Newf(ErrPatchTargetMissing, "patch target %s does not exist", path).WithDetail("path", path)
}

// TestAssertionFailed reports failing assertions by name.
func TestAssertionFailed(failed []string) *FormularyError {
	return Newf(ErrTestAssertionFailed, "%d test assertion(s) failed: %s", len(failed), strings.Join(failed, ", ")).
		WithDetail("assertions", failed)
}

// Tail returns the last n non-empty-trailing lines of s.
func Tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
