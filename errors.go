// Defines the structured error type returned by the store.

package octaviadb

import (
	"errors"
	"fmt"
	"maps"

	"github.com/maruel/octaviadb/internal/envelope"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// CodeInvalidArgument is returned when an operation receives a value of the
	// wrong shape, such as a nil query or a value not representable as JSON.
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// CodeInvalidName is returned for an empty or unsafe database or entity name.
	CodeInvalidName ErrorCode = "INVALID_NAME"
	// CodeInvalidPassword is returned for an empty password.
	CodeInvalidPassword ErrorCode = "INVALID_PASSWORD"
	// CodeCreateFailed is returned when the database directory cannot be created.
	CodeCreateFailed ErrorCode = "CREATE_FAILED"
	// CodeSchemaMismatch is returned when a value violates a schema.
	CodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"

	// CodeEncryptionFailed is returned when a cache snapshot cannot be sealed.
	CodeEncryptionFailed ErrorCode = "ENCRYPTION_FAILED"
	// CodeDecryptionFailed is returned when an entity file, encrypted or plain,
	// is malformed or damaged.
	CodeDecryptionFailed ErrorCode = "DECRYPTION_FAILED"
	// CodeIncorrectPassword is returned when a file was sealed with another
	// password. It is a kind of CodeDecryptionFailed.
	CodeIncorrectPassword ErrorCode = "INCORRECT_PASSWORD"
	// CodeIOFailure is returned when the filesystem rejects a read, write or
	// delete.
	CodeIOFailure ErrorCode = "IO_FAILURE"

	// CodeDeleted is returned by operations on a deleted entity or database.
	CodeDeleted ErrorCode = "DELETED"
	// CodeClosed is returned by operations on a closed entity or database.
	CodeClosed ErrorCode = "CLOSED"
)

// Sentinel errors for use with errors.Is. They match any *Error with the same
// code.
var (
	ErrInvalidArgument   = &Error{code: CodeInvalidArgument, message: "invalid argument"}
	ErrInvalidName       = &Error{code: CodeInvalidName, message: "invalid name"}
	ErrInvalidPassword   = &Error{code: CodeInvalidPassword, message: "invalid password"}
	ErrCreateFailed      = &Error{code: CodeCreateFailed, message: "create failed"}
	ErrSchemaMismatch    = &Error{code: CodeSchemaMismatch, message: "schema mismatch"}
	ErrEncryptionFailed  = &Error{code: CodeEncryptionFailed, message: "encryption failed"}
	ErrDecryptionFailed  = &Error{code: CodeDecryptionFailed, message: "decryption failed"}
	ErrIncorrectPassword = &Error{code: CodeIncorrectPassword, message: "incorrect password"}
	ErrIOFailure         = &Error{code: CodeIOFailure, message: "i/o failure"}
	ErrDeleted           = &Error{code: CodeDeleted, message: "deleted"}
	ErrClosed            = &Error{code: CodeClosed, message: "closed"}
)

// Error is the concrete error type returned by the public API.
type Error struct {
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Details returns a copy of the additional error details.
func (e *Error) Details() map[string]any {
	return maps.Clone(e.details)
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Is reports whether target is an *Error with the same code. An incorrect
// password error also matches ErrDecryptionFailed.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code || (t.code == CodeDecryptionFailed && e.code == CodeIncorrectPassword)
}

// codecError classifies an error returned by the envelope package.
func codecError(path string, err error) *Error {
	switch {
	case errors.Is(err, envelope.ErrIncorrectPassword):
		return newError(CodeIncorrectPassword, "incorrect database password for %s", path).Wrap(err)
	case errors.Is(err, envelope.ErrDecryptionFailed):
		return newError(CodeDecryptionFailed, "failed to decrypt %s", path).Wrap(err)
	case errors.Is(err, envelope.ErrEncryptionFailed):
		return newError(CodeEncryptionFailed, "failed to encrypt %s", path).Wrap(err)
	default:
		return newError(CodeDecryptionFailed, "malformed content in %s", path).Wrap(err)
	}
}

func ioError(op, path string, err error) *Error {
	return newError(CodeIOFailure, "failed to %s %s", op, path).Wrap(err)
}
