package nnrt

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured runtime error with the context needed to
// diagnose which operation, session, and correlation id it came from.
type Error struct {
	Op          string        // Operation that failed (e.g. "INFERENCE_CREATE")
	SessionID   string        // Session this error belongs to ("" if not applicable)
	Correlation int64         // Correlation id (-1 if not applicable)
	Code        ErrorKind     // High-level error category
	Errno       syscall.Errno // Underlying transport errno (0 if not applicable)
	Msg         string        // Human-readable message
	Inner       error         // Wrapped error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.Correlation >= 0 {
		parts = append(parts, fmt.Sprintf("correlation=%d", e.Correlation))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("nnrt: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("nnrt: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support, matching by error kind against both
// structured errors and the legacy sentinel values below.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if se, ok := target.(SentinelError); ok {
		return e.Code == ErrorKind(se)
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorKind enumerates the user-observable error categories this runtime
// reports (§7).
type ErrorKind string

const (
	ErrInvalidArgument ErrorKind = "invalid argument"
	ErrOutOfMemory     ErrorKind = "out of memory"
	ErrFaulted         ErrorKind = "faulted"
	ErrNoDevice        ErrorKind = "no device"
	ErrInterrupted     ErrorKind = "interrupted"
	ErrTimeout         ErrorKind = "timeout"
	ErrBadMessage      ErrorKind = "bad message"
	ErrProtocolError   ErrorKind = "protocol error"
	ErrBadFile         ErrorKind = "bad file"
	ErrTooManyFiles    ErrorKind = "too many files"
	ErrMessageTooLong  ErrorKind = "message too long"
	ErrKindMismatch    ErrorKind = "kind mismatch"
	ErrNotFound        ErrorKind = "not found"
)

// SentinelError lets callers compare against a bare ErrorKind with
// errors.Is, without constructing a full *Error.
type SentinelError ErrorKind

func (e SentinelError) Error() string { return string(e) }

// Sentinel values for the legacy errors.Is(err, nnrt.ErrXxxSentinel) style.
const (
	SentinelInvalidArgument = SentinelError(ErrInvalidArgument)
	SentinelOutOfMemory     = SentinelError(ErrOutOfMemory)
	SentinelNoDevice        = SentinelError(ErrNoDevice)
	SentinelTimeout         = SentinelError(ErrTimeout)
)

// NewError creates a structured error with no session/correlation context.
func NewError(op string, code ErrorKind, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg, Correlation: -1}
}

// NewErrorWithErrno creates a structured error carrying a transport errno.
func NewErrorWithErrno(op string, code ErrorKind, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error(), Correlation: -1}
}

// NewSessionError creates an error scoped to a session.
func NewSessionError(op string, sessionID string, code ErrorKind, msg string) *Error {
	return &Error{Op: op, SessionID: sessionID, Code: code, Msg: msg, Correlation: -1}
}

// NewRequestError creates an error scoped to a session and correlation id.
func NewRequestError(op string, sessionID string, correlation int64, code ErrorKind, msg string) *Error {
	return &Error{Op: op, SessionID: sessionID, Correlation: correlation, Code: code, Msg: msg}
}

// WrapError wraps an existing error with operation context, mapping
// syscall.Errno values to the nearest error kind.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ne, ok := inner.(*Error); ok {
		return &Error{
			Op:          op,
			SessionID:   ne.SessionID,
			Correlation: ne.Correlation,
			Code:        ne.Code,
			Errno:       ne.Errno,
			Msg:         ne.Msg,
			Inner:       ne.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:          op,
			Code:        mapErrnoToCode(errno),
			Errno:       errno,
			Msg:         errno.Error(),
			Inner:       inner,
			Correlation: -1,
		}
	}

	return &Error{Op: op, Code: ErrFaulted, Msg: inner.Error(), Inner: inner, Correlation: -1}
}

func mapErrnoToCode(errno syscall.Errno) ErrorKind {
	switch errno {
	case syscall.EAGAIN:
		return ErrTimeout
	case syscall.EINVAL, syscall.E2BIG:
		return ErrInvalidArgument
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrOutOfMemory
	case syscall.ETIMEDOUT:
		return ErrTimeout
	case syscall.ENODEV, syscall.EPIPE, syscall.ECONNRESET:
		return ErrNoDevice
	case syscall.EINTR:
		return ErrInterrupted
	case syscall.EFAULT:
		return ErrFaulted
	default:
		return ErrFaulted
	}
}

// IsCode reports whether err is a structured *Error with the given kind.
func IsCode(err error, code ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno reports whether err is a structured *Error carrying the given errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}
