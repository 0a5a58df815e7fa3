// Package remote abstracts the storage service that holds the authoritative
// copy of the price-history document. Clients are single-shot: they perform
// one transfer attempt and classify failures into error kinds. All retry and
// backoff policy lives with the caller.
package remote

import "context"

// Client is one remote storage backend.
type Client interface {
	// Download fetches the object at path. A missing object is reported
	// as an *Error with KindNotFound wrapping ErrNotFound.
	Download(ctx context.Context, path string) ([]byte, error)
	// Upload stores data at path, replacing any existing object. The tag
	// describes the operation for backend-side bookkeeping.
	Upload(ctx context.Context, path string, data []byte, tag string) error
	// Close releases backend resources. Safe to call more than once.
	Close() error
}
