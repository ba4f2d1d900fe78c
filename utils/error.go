package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// Upload validation failures. User-facing and recoverable: the customer
// retries with a different file.
var (
	ErrMissingFile = errors.New("no file was uploaded")
	ErrFileType    = errors.New("invalid file type, please upload a valid JPG or PNG file")
	ErrFileSize    = errors.New("file size exceeds the maximum limit")
)

// Token failures. Treated as authorization failures, not validation.
var (
	ErrTokenExpired  = errors.New("upload link has expired")
	ErrTokenMismatch = errors.New("upload link is not valid")
)

// Staging failures.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyConsumed = errors.New("staged upload already consumed")
)

// ErrPathEscapesRoot is returned when a stored path resolves outside the
// secure root. Always a bug or tampering, never shown to users verbatim.
var ErrPathEscapesRoot = errors.New("storage path escapes secure root")

// StorageError wraps an operational filesystem/object-store failure. The
// cause is logged and recorded on the ledger; callers surface a generic
// "upload failed" to users.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

func NewStorageError(op string, cause error) *StorageError {
	return &StorageError{Op: op, Cause: cause}
}

// IsValidationError reports whether err is one of the user-facing upload
// validation failures.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingFile) || errors.Is(err, ErrFileType) || errors.Is(err, ErrFileSize)
}
