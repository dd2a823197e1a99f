package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned when the remote object no longer exists.
var ErrNotFound = errors.New("remote object not found")

// ErrInvalidCredentials is returned when a connection test against the
// shared storage account fails.
var ErrInvalidCredentials = errors.New("invalid remote storage credentials")

// StorageError wraps a backend SDK failure. No retry is attempted; callers
// see the composite operation fail and may reset the connection manager if
// they suspect stale credentials.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("remote storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Object describes the physical remote object backing a file record.
// ID is the backend's identifier and the sole link between a local File
// row and the remote content.
type Object struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Link string `json:"link,omitempty"`
}

// Storage is the behavior required from the shared remote storage account.
// Implementations must treat every call as independent: no retries, no
// reconnects, errors surface to the caller as-is.
type Storage interface {
	// Upload stores content under the directory given by remotePath and
	// returns the resulting object.
	Upload(ctx context.Context, r io.Reader, name, remotePath string) (Object, error)

	// Open returns a reader for the object's content.
	Open(ctx context.Context, id string) (io.ReadCloser, error)

	// Stat returns the object without its content.
	Stat(ctx context.Context, id string) (Object, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, id string) error

	// Replace deletes the old object and uploads new content in its place,
	// returning the replacement object.
	Replace(ctx context.Context, id string, r io.Reader, name, remotePath string) (Object, error)

	// Move reparents the object under a new directory and returns the
	// relocated object.
	Move(ctx context.Context, id, newRemotePath string) (Object, error)

	// Mkdir materializes the directory chain for remotePath.
	Mkdir(ctx context.Context, remotePath string) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}
