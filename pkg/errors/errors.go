package errors

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes errors
type ErrorCode string

const (
	ErrCodeToolMissing ErrorCode = "TOOL_MISSING"
	ErrCodeSpawn       ErrorCode = "SPAWN_ERROR"
	ErrCodeProcess     ErrorCode = "PROCESS_ERROR"
	ErrCodeParse       ErrorCode = "PARSE_ERROR"
	ErrCodeValidation  ErrorCode = "VALIDATION_ERROR"
	ErrCodeTimeout     ErrorCode = "TIMEOUT_ERROR"
	ErrCodeCanceled    ErrorCode = "CANCELED_ERROR"
)

// ErrNotReady is returned when playback is requested before a preview is loaded.
var ErrNotReady = errors.New("preview not ready")

// StackerError is the base structured error
type StackerError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *StackerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *StackerError) Unwrap() error {
	return e.Cause
}

// ToolMissingError reports that an external executable could not be located.
// It is expected in normal operation and disables the feature that needs it.
type ToolMissingError struct {
	StackerError
	Tool string
}

func NewToolMissingError(tool string) *ToolMissingError {
	return &ToolMissingError{
		StackerError: StackerError{
			Code:    ErrCodeToolMissing,
			Message: fmt.Sprintf("%s not found. Please install FFmpeg.", tool),
		},
		Tool: tool,
	}
}

// SpawnError means the subprocess could not be started at all.
type SpawnError struct {
	StackerError
	Tool string
}

func NewSpawnError(tool string, cause error) *SpawnError {
	return &SpawnError{
		StackerError: StackerError{
			Code:    ErrCodeSpawn,
			Message: fmt.Sprintf("failed to start %s process", tool),
			Cause:   cause,
		},
		Tool: tool,
	}
}

// ProcessError represents a subprocess that ran but exited non-zero
type ProcessError struct {
	StackerError
	Tool     string
	Args     []string
	ExitCode int
	Output   string
}

func NewProcessError(tool string, args []string, exitCode int, output string, cause error) *ProcessError {
	return &ProcessError{
		StackerError: StackerError{
			Code:    ErrCodeProcess,
			Message: fmt.Sprintf("%s returned error code %d", tool, exitCode),
			Cause:   cause,
		},
		Tool:     tool,
		Args:     args,
		ExitCode: exitCode,
		Output:   output,
	}
}

func (e *ProcessError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, truncate(e.Output, 200))
}

// TimeoutError is a subprocess killed after exceeding its time budget.
type TimeoutError struct {
	StackerError
	Tool   string
	Output string
}

func NewTimeoutError(tool string, output string, cause error) *TimeoutError {
	return &TimeoutError{
		StackerError: StackerError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("%s timed out", tool),
			Cause:   cause,
		},
		Tool:   tool,
		Output: output,
	}
}

// ParseError represents malformed structured output, as distinct from a
// well-formed but empty result.
type ParseError struct {
	StackerError
}

func NewParseError(message string, cause error) *ParseError {
	return &ParseError{
		StackerError: StackerError{
			Code:    ErrCodeParse,
			Message: message,
			Cause:   cause,
		},
	}
}

// ValidationError represents input validation failure
type ValidationError struct {
	StackerError
	Field string
	Value interface{}
}

func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		StackerError: StackerError{
			Code:    ErrCodeValidation,
			Message: message,
		},
		Field: field,
		Value: value,
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] field=%s value=%v: %s", e.Code, e.Field, e.Value, e.Message)
}

// ExitCode extracts the subprocess exit code carried by err, or -1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if pe, ok := As[*ProcessError](err); ok {
		return pe.ExitCode
	}
	return -1
}

// Output extracts captured diagnostic text carried by err, if any.
func Output(err error) string {
	if pe, ok := As[*ProcessError](err); ok {
		return pe.Output
	}
	if te, ok := As[*TimeoutError](err); ok {
		return te.Output
	}
	return ""
}

// Is enables errors.Is checks
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As enables errors.As checks
func As[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
