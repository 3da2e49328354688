// Package errors provides the unified error type and factory functions for the
// discovery engine. Every layer (domain, application, infrastructure,
// interfaces) uses AppError as the single carrier for structured error
// information, so HTTP responses, CLI output, logs and metrics all agree on the
// failure category.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// stackDepth is the maximum number of frames captured per error.
const stackDepth = 32

// captureStack returns a formatted call stack starting above the caller.
func captureStack(skip int) string {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		f, more := frames.Next()
		if !strings.Contains(f.File, "runtime/") {
			fmt.Fprintf(&sb, "\n\t%s:%d %s", f.File, f.Line, f.Function)
		}
		if !more {
			break
		}
	}
	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// AppError
// ─────────────────────────────────────────────────────────────────────────────

// AppError is the structured error type used throughout the engine. It
// supports wrapping so errors.Is / errors.As traverse the full chain.
//
// Usage:
//
//	return errors.New(errors.CodeGuardViolation, "cannot leave protein selection")
//	return errors.Wrap(err, errors.CodeDatabaseError, "upsert session")
//	return errors.SessionNotFound(id).WithDetail("backend=sqlite")
type AppError struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Message is the primary human-readable description.
	Message string

	// Detail carries supplementary context (ids, stage names).
	Detail string

	// Cause is the underlying error, if any.
	Cause error

	// Stack is the call stack captured at creation. Not part of Error().
	Stack string
}

// Error implements the error interface.
// Format: "[<code>] <message>: <detail>"; the detail segment is omitted when
// empty, and the cause is appended after " -> " when present.
func (e *AppError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code.String(), e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Cause != nil {
		sb.WriteString(" -> ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *AppError with the same code. This lets
// sentinel values such as ErrAlreadyInProgress match freshly created errors.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a shallow copy with Detail set. Safe on nil.
func (e *AppError) WithDetail(detail string) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Detail = detail
	return &clone
}

// WithCause returns a shallow copy with Cause set. Safe on nil.
func (e *AppError) WithCause(err error) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Cause = err
	return &clone
}

// ─────────────────────────────────────────────────────────────────────────────
// Primary factory functions
// ─────────────────────────────────────────────────────────────────────────────

// New constructs an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Newf is New with a format string.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(1),
	}
}

// Wrap constructs an AppError around err. It returns nil when err is nil.
// When code is CodeUnknown and err already carries an AppError, the original
// code is preserved.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	if code == CodeUnknown {
		var ae *AppError
		if errors.As(err, &ae) {
			code = ae.Code
		}
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Stack:   captureStack(1),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Error-chain inspection helpers
// ─────────────────────────────────────────────────────────────────────────────

// IsCode reports whether any error in err's chain is an *AppError with code.
func IsCode(err error, code ErrorCode) bool {
	var ae *AppError
	for err != nil {
		if errors.As(err, &ae) && ae.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsNotFound reports whether err's chain carries CodeNotFound or
// CodeSessionNotFound.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound) || IsCode(err, CodeSessionNotFound)
}

// GetCode extracts the code of the first AppError in err's chain. nil yields
// CodeOK, a foreign error yields CodeUnknown.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// ─────────────────────────────────────────────────────────────────────────────
// Convenience factories
// ─────────────────────────────────────────────────────────────────────────────

// NotFound constructs a CodeNotFound AppError.
func NotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Stack: captureStack(1)}
}

// InvalidParam constructs a CodeInvalidParam AppError.
func InvalidParam(message string) *AppError {
	return &AppError{Code: CodeInvalidParam, Message: message, Stack: captureStack(1)}
}

// Internal constructs a CodeInternal AppError.
func Internal(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Stack: captureStack(1)}
}

// Conflict constructs a CodeConflict AppError.
func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, Stack: captureStack(1)}
}

// GuardViolation reports a rejected workflow transition.
func GuardViolation(message string) *AppError {
	return &AppError{Code: CodeGuardViolation, Message: message, Stack: captureStack(1)}
}

// SessionNotFound reports a SessionStore miss for id.
func SessionNotFound(id string) *AppError {
	return &AppError{
		Code:    CodeSessionNotFound,
		Message: DefaultMessageForCode(CodeSessionNotFound),
		Detail:  "id=" + id,
		Stack:   captureStack(1),
	}
}

// SessionClosed reports a write to a session that was closed by a save.
func SessionClosed(id string) *AppError {
	return &AppError{
		Code:    CodeSessionClosed,
		Message: DefaultMessageForCode(CodeSessionClosed),
		Detail:  "id=" + id,
		Stack:   captureStack(1),
	}
}

// Sentinels for errors.Is checks. AppError.Is compares codes, so any error
// built with the same code matches.
var (
	ErrGuardViolation       = &AppError{Code: CodeGuardViolation, Message: DefaultMessageForCode(CodeGuardViolation)}
	ErrFetch                = &AppError{Code: CodeFetchError, Message: DefaultMessageForCode(CodeFetchError)}
	ErrNoStructureAvailable = &AppError{Code: CodeNoStructureAvailable, Message: DefaultMessageForCode(CodeNoStructureAvailable)}
	ErrDockingFailed        = &AppError{Code: CodeDockingFailed, Message: DefaultMessageForCode(CodeDockingFailed)}
	ErrVisualizationFailed  = &AppError{Code: CodeVisualizationFailed, Message: DefaultMessageForCode(CodeVisualizationFailed)}
	ErrSelectionIncomplete  = &AppError{Code: CodeSelectionIncomplete, Message: DefaultMessageForCode(CodeSelectionIncomplete)}
	ErrAlreadyInProgress    = &AppError{Code: CodeAlreadyInProgress, Message: DefaultMessageForCode(CodeAlreadyInProgress)}
	ErrSessionNotFound      = &AppError{Code: CodeSessionNotFound, Message: DefaultMessageForCode(CodeSessionNotFound)}
	ErrSessionClosed        = &AppError{Code: CodeSessionClosed, Message: DefaultMessageForCode(CodeSessionClosed)}
	ErrInvalidConfig        = &AppError{Code: CodeInvalidConfig, Message: DefaultMessageForCode(CodeInvalidConfig)}
)
