package core

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/formexport/internal/export"
)

var (
	// ErrNotFound reports a missing form, form version, reservation or file.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a unique constraint violation.
	ErrConflict = errors.New("conflict")

	// ErrInvalidRequest reports export parameters that cannot be honored.
	ErrInvalidRequest = export.ErrInvalidRequest

	// ErrNotReady is returned when downloading a reservation whose artifact
	// has not been stored yet.
	ErrNotReady = errors.New("reservation not ready")

	// ErrExportStalled is recorded on reservations that stayed pending past
	// the stall timeout.
	ErrExportStalled = errors.New("export stalled")
)

// FormatError reports a failed transform. See export.FormatError.
type FormatError = export.FormatError

// StorageError reports a failed blob store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("blob storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
