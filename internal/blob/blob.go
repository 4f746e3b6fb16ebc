// Package blob stores export artifacts. Backends share the Store interface
// so the export service does not care whether files live on local disk or
// in MongoDB GridFS.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Open for an unknown id.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value store for artifact bytes. Ids are chosen by the
// caller; uploading to an existing id replaces its content.
type Store interface {
	Upload(ctx context.Context, id, name string, data []byte) error
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	// Delete removes a blob and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// Name identifies the backend in file metadata.
	Name() string
}
