package exitcodes

// ErrorWithExitCode pairs an error with the process exit code the application should terminate with when the error
// reaches the top level. The wrapped error may be nil when only the exit code carries meaning, as with a completed
// run that detected protocol violations.
type ErrorWithExitCode struct {
	err      error
	exitCode int
}

// NewErrorWithExitCode wraps the given error, which may be nil, with the given exit code.
func NewErrorWithExitCode(err error, exitCode int) *ErrorWithExitCode {
	return &ErrorWithExitCode{
		err:      err,
		exitCode: exitCode,
	}
}

// Error implements the error interface, rendering the wrapped error's message or an empty string for a nil one.
func (e *ErrorWithExitCode) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

// GetInnerErrorAndExitCode resolves an error bubbled to the top level into the error to report and the exit code to
// terminate with: ExitCodeSuccess for nil, the wrapped pair for an ErrorWithExitCode, and ExitCodeGeneralError for
// anything else.
func GetInnerErrorAndExitCode(err error) (error, int) {
	if err == nil {
		return nil, ExitCodeSuccess
	} else if unwrappedErr, ok := err.(*ErrorWithExitCode); ok {
		return unwrappedErr.err, unwrappedErr.exitCode
	}
	return err, ExitCodeGeneralError
}
