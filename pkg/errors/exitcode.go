package errors

// Process exit codes used by the CLI.
const (
	ExitOK         = 0
	ExitGeneric    = 1
	ExitResolution = 2
	ExitBuild      = 3
	ExitTest       = 4
)

var exitCodes = map[ErrorCode]int{
	ErrFormulaNotFound:    ExitResolution,
	ErrFormulaParse:       ExitResolution,
	ErrFormulaInvalid:     ExitResolution,
	ErrSelfDependency:     ExitResolution,
	ErrCyclicDependency:   ExitResolution,
	ErrConflictingPackage: ExitResolution,
	ErrVersionConflict:    ExitResolution,
	ErrUnknownOption:      ExitResolution,
	ErrConflictingOptions: ExitResolution,
	ErrUnresolvedVariable: ExitResolution,

	ErrPrefixLocked:       ExitBuild,
	ErrFetchFailed:        ExitBuild,
	ErrChecksumMismatch:   ExitBuild,
	ErrPhaseFailed:        ExitBuild,
	ErrPhaseTimedOut:      ExitBuild,
	ErrPatchTargetMissing: ExitBuild,
	ErrLinkConflict:       ExitBuild,

	ErrTestAssertionFailed: ExitTest,
}

// ExitCode maps an error to the process exit code for its failure category.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if code, ok := exitCodes[GetErrorCode(err)]; ok {
		return code
	}
	return ExitGeneric
}
