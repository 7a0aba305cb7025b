package exitcodes

const (
	// ================================
	// Platform-universal exit codes
	// ================================

	// ExitCodeSuccess indicates no errors or failures had occurred.
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates some type of general error occurred.
	ExitCodeGeneralError = 1

	// ================================
	// Application-specific exit codes
	// ================================
	// Note: Despite not being standardized, exit codes 2-5 are often used for common use cases, so we avoid them.

	// ExitCodeBacktestError indicates that there was an error during the execution of a backtest run. Note that an
	// error with error code ExitCodeGeneralError and ExitCodeBacktestError are mutually exclusive errors.
	ExitCodeBacktestError = 6

	// ExitCodeProtocolViolation indicates a backtest run completed and detected at least one assertion failure.
	ExitCodeProtocolViolation = 7

	// ExitCodeHandledError indicates the error was already logged by the command itself, so the top-level handler
	// should exit without printing it again.
	ExitCodeHandledError = 8
)
