// Package nebulaerrors provides structured error handling for nebula-extract with
// rich context, stack traces, and error categorization.
//
// # Overview
//
// Every failure raised by the extraction engine is an *Error carrying:
//   - a Type used to decide how far the failure propagates
//   - a human readable Message, which for query failures includes the SQL text
//     and the cursor values involved
//   - optional Details (sql, lower, upper, partition, ...)
//   - the Cause it wraps and the call stack where it was created
//
// # Basic Usage
//
//	err := nebulaerrors.New(nebulaerrors.ErrorTypeInvalidCursorFormat, "cannot parse cursor").
//	    WithDetail("raw", raw).
//	    WithDetail("domain", "numeric")
//
//	if err := conn.Ping(ctx); err != nil {
//	    return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnection, "liveness probe failed")
//	}
//
// # Propagation
//
// The extraction engine maps types onto the failure scope:
//   - ErrorTypeMaxValueQueryFailed aborts the whole job
//   - ErrorTypeInvalidCursorFormat, ErrorTypeConnectivityLost and
//     ErrorTypeUnmappedColumn abort the owning partition
//   - ErrorTypeTimeout raised while the job is still alive is transient
//
// # Thread Safety
//
// Error instances are not thread-safe for modification. Use WithDetail before
// sharing an error across goroutines.
package nebulaerrors

import (
	"errors"
	"runtime"

	stringpool "github.com/ajitpratap0/nebula-extract/pkg/strings"
)

// ErrorType represents the category of error, used to decide retry and
// propagation behaviour.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents data decoding errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeQuery represents query execution errors
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeFile represents checkpoint and sink file errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeInvalidCursorFormat is raised when a raw position cannot be
	// interpreted in the declared cursor domain
	ErrorTypeInvalidCursorFormat ErrorType = "invalid_cursor_format"
	// ErrorTypeMaxValueQueryFailed is raised when the leader's upper bound
	// probe fails; fatal for the whole job
	ErrorTypeMaxValueQueryFailed ErrorType = "max_value_query_failed"
	// ErrorTypeConnectivityLost is raised when a polling partition cannot
	// re-establish a live connection
	ErrorTypeConnectivityLost ErrorType = "connectivity_lost"
	// ErrorTypeUnmappedColumn is raised when a configured column is missing
	// from the source schema
	ErrorTypeUnmappedColumn ErrorType = "unmapped_column"
)

// Error is a typed failure. Details hold the values a reader needs to replay
// the failing statement: sql, lower, upper, partition.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is one caller recorded when the error was created.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return stringpool.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return stringpool.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. It can be chained.
//
// Example:
//
//	err := nebulaerrors.New(nebulaerrors.ErrorTypeQuery, "scan failed").
//	    WithDetail("sql", query).
//	    WithDetail("lower", lower.String())
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message, capturing the call
// stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a format string.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: stringpool.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context, preserving the original
// error as the cause. If the error is already a structured Error, its stack
// trace is preserved. Returns nil if the input error is nil.
//
// Example:
//
//	rows, err := conn.Query(ctx, sql)
//	if err != nil {
//	    return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeQuery, "failed to open scan").
//	        WithDetail("sql", sql)
//	}
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is retryable based on its type.
// Timeout and connection errors are considered retryable.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType reports whether any error in err's chain is a structured Error of the
// given type.
//
// Example:
//
//	if nebulaerrors.IsType(err, nebulaerrors.ErrorTypeMaxValueQueryFailed) {
//	    cancelJob()
//	}
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsJobFatal reports whether err must abort every partition of the job, not
// only the partition that raised it.
func IsJobFatal(err error) bool {
	return IsType(err, ErrorTypeMaxValueQueryFailed)
}

const maxStackDepth = 32

// captureStack records up to maxStackDepth callers. skip counts frames from
// captureStack itself, so 2 starts at the caller of New.
func captureStack(skip int) []StackFrame {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return nil
	}

	frames := make([]StackFrame, 0, n)
	iter := runtime.CallersFrames(pcs[:n])
	for {
		f, more := iter.Next()
		if f.Function != "" {
			frames = append(frames, StackFrame{Function: f.Function, File: f.File, Line: f.Line})
		}
		if !more {
			return frames
		}
	}
}
