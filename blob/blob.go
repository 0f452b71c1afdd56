// Package blob defines the content-addressed payload store.
//
// Contract:
//   - Put MUST be idempotent: re-storing identical bytes yields the same id.
//   - Stored objects are immutable; overwrites are never relied upon.
//   - Content ids are CIDv1 (raw + sha2-256) derived from the stored bytes.
//   - Access is gated by a secret derived from the recipient's identity;
//     Get MUST return ErrAccessDenied for a wrong secret.
package blob

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound     = errors.New("blob: not found")
	ErrAccessDenied = errors.New("blob: access denied")
)

// Store is the payload store interface.
type Store interface {
	// Put streams r to storage and returns the content id and the number of
	// bytes consumed.
	Put(ctx context.Context, r io.Reader, filename, contentType, accessSecret string) (contentID string, size int64, err error)

	// Get opens the stored object. The caller owns the returned reader.
	Get(ctx context.Context, contentID, accessSecret string) (io.ReadCloser, error)

	// Delete removes the object. Deleting an absent object is not an error.
	Delete(ctx context.Context, contentID string) error
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
