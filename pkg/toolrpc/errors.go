package toolrpc

import (
	"errors"
	"fmt"
)

// Error codes carried in error responses.
const (
	CodeParseError      = "parse_error"
	CodeMethodNotFound  = "method_not_found"
	CodeToolNotFound    = "tool_not_found"
	CodeInvalidParams   = "invalid_params"
	CodeExecutionFailed = "execution_failed"
	CodeInternal        = "internal_error"
)

// NotFoundError is returned when no tool has the requested name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("toolrpc: tool %q not found", e.Name)
}

// ValidationError is returned when arguments do not match the tool's
// schema. The tool was not executed.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("toolrpc: invalid arguments for %q: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ExecutionError wraps a failure raised by a tool.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("toolrpc: %q failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// RemoteError is an error response received by Client.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("toolrpc: remote %s: %s", e.Code, e.Message)
}

// Code maps an error to its wire code.
func Code(err error) string {
	var (
		nf *NotFoundError
		ve *ValidationError
		ee *ExecutionError
		re *RemoteError
	)
	switch {
	case errors.As(err, &nf):
		return CodeToolNotFound
	case errors.As(err, &ve):
		return CodeInvalidParams
	case errors.As(err, &ee):
		return CodeExecutionFailed
	case errors.As(err, &re):
		return re.Code
	}
	return CodeInternal
}
