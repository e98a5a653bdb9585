// Package xerrors provides error types and handling for transfer operations.
// It wraps underlying AWS SDK errors with the operation, bucket, and key that
// failed, and defines the typed errors the transfer engine distinguishes.
package xerrors

import (
	"errors"
	"fmt"
)

// Error represents a transfer operation error with context about what failed.
type Error struct {
	// Op is the operation that failed (e.g., "upload", "initiate", "completeMultipart")
	Op string

	// Bucket is the S3 bucket name (if applicable)
	Bucket string

	// Key is the S3 object key (if applicable)
	Key string

	// Err is the underlying error from the AWS SDK or other source
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Bucket != "" && e.Key != "" {
		return fmt.Sprintf("s3mp.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("s3mp.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("s3mp.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithBucket adds bucket context to an existing error.
func (e *Error) WithBucket(bucket string) *Error {
	e.Bucket = bucket
	return e
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// Sentinel errors for common failures. Check with errors.Is.
var (
	// ErrObjectNotFound indicates that the requested object does not exist.
	ErrObjectNotFound = errors.New("s3mp: object not found")

	// ErrInvalidLocator indicates that a source or destination is not a valid s3:// URL.
	ErrInvalidLocator = errors.New("s3mp: invalid object locator")

	// ErrInvalidSize indicates invalid planner inputs (zero object size or a
	// target part size below the service minimum).
	ErrInvalidSize = errors.New("s3mp: invalid size")

	// ErrInvalidStateTransition indicates a multipart session method was
	// called in a state that does not permit it.
	ErrInvalidStateTransition = errors.New("s3mp: invalid session state transition")

	// ErrUploadNotFound indicates that no multipart transaction with the
	// given id exists on the service.
	ErrUploadNotFound = errors.New("s3mp: multipart upload not found")
)

// PreconditionError is a fatal error detected before any transfer work
// begins: destination exists without force, source missing, or similar.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "s3mp: precondition failed: " + e.Reason
}

// PartTransferFailedError is returned when the retry policy for a single
// part is exhausted. It is fatal to that part but not to sibling parts.
type PartTransferFailedError struct {
	PartIndex int32
	Attempts  uint
	LastErr   error
}

func (e *PartTransferFailedError) Error() string {
	return fmt.Sprintf("s3mp: part %d failed after %d attempts: %v", e.PartIndex, e.Attempts, e.LastErr)
}

func (e *PartTransferFailedError) Unwrap() error {
	return e.LastErr
}

// FinalizeError is returned when the complete or abort call for a multipart
// transaction itself fails. It is never retried automatically: completing is
// not idempotent, and aborting a transaction the service may have committed
// risks losing the object. The transaction is left for external cleanup.
type FinalizeError struct {
	Op       string // "complete" or "abort"
	UploadID string
	Err      error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("s3mp: %s of multipart transaction %s failed: %v", e.Op, e.UploadID, e.Err)
}

func (e *FinalizeError) Unwrap() error {
	return e.Err
}

// IsObjectNotFound checks if an error indicates that an object was not found.
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
