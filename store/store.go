// Package store defines the control-plane key-value store consumed by the
// ledgers and upload indexes.
package store

import "context"

// Store is the control-plane key-value interface.
//
// Contract:
//   - Values are opaque bytes; namespaces partition the key space.
//   - SetIfAbsent MUST be atomic: exactly one of N concurrent calls for the
//     same (namespace, key) succeeds. Reservation logic depends on this.
//   - Get reports absence via ok=false, not an error; errors are reserved for
//     infrastructure failures.
//   - GetAll returns a point-in-time snapshot copy.
type Store interface {
	Get(ctx context.Context, namespace, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	SetIfAbsent(ctx context.Context, namespace, key string, value []byte) (bool, error)
	Delete(ctx context.Context, namespace, key string) error
	GetAll(ctx context.Context, namespace string) (map[string][]byte, error)
}
