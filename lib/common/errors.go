package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                       // 1: Operation failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the backend or handle.
	RetCInvalidArgument                     // 3: Invalid argument.
	RetCKeyNotFound                         // 4: The key does not exist.
	RetCLockError                           // 5: A lock could not be obtained.
	RetCCorruption                          // 6: Stored bytes could not be decoded.
	RetCAlreadyInitialized                  // 7: The index properties already exist.
	RetCNotInitialized                      // 8: The index properties are missing.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidArgument:
		return "InvalidArgument"
	case RetCKeyNotFound:
		return "KeyNotFound"
	case RetCLockError:
		return "LockError"
	case RetCCorruption:
		return "CorruptionError"
	case RetCAlreadyInitialized:
		return "AlreadyInitialized"
	case RetCNotInitialized:
		return "NotInitialized"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code, a message and an optional cause.
// Two errors match with errors.Is when their codes are equal, so callers
// compare against the sentinels below instead of type switching.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
	Err  error   // The underlying error (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geokv (%s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("geokv (%s): %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code wrapping err.
func WrapError(code RetCode, err error, format string, args ...interface{}) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
		Err:  err,
	}
}

// Code returns the RetCode carried by err, RetCSuccess for nil and
// RetCInternalError for foreign errors.
func Code(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Sentinels
// --------------------------------------------------------------------------

var (
	ErrUnsupportedOperation = NewError(RetCUnsupportedOperation, "unsupported operation")
	ErrInvalidArgument      = NewError(RetCInvalidArgument, "invalid argument")
	ErrKeyNotFound          = NewError(RetCKeyNotFound, "key not found")
	ErrLock                 = NewError(RetCLockError, "lock error")
	ErrCorruption           = NewError(RetCCorruption, "corrupted data")
	ErrAlreadyInitialized   = NewError(RetCAlreadyInitialized, "index already initialized")
	ErrNotInitialized       = NewError(RetCNotInitialized, "index not initialized")
)
