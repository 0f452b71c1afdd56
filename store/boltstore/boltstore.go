// Package boltstore backs the control-plane store with a local bbolt file,
// one bucket per namespace.
package boltstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"3send.xyz/send/store"
)

// Store is a bbolt-backed store.Store.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
	noSync bool
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithNoSync disables fsync per transaction.
// WARNING: risks data loss on crash; tests and benchmarks only.
func WithNoSync(noSync bool) Option {
	return func(s *Store) { s.noSync = noSync }
}

// Open opens (creating if needed) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  s.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	s.db = db
	s.logger.Debug("opened control-plane store", "path", path, "noSync", s.noSync)
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("boltstore: get: %w", err)
	}
	return out, found, nil
}

func (s *Store) Set(_ context.Context, ns, key string, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("boltstore: set: %w", err)
	}
	return nil
}

// SetIfAbsent is atomic: the existence check and the write share one
// serialized bbolt update transaction.
func (s *Store) SetIfAbsent(_ context.Context, ns, key string, value []byte) (bool, error) {
	var won bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		if b.Get([]byte(key)) != nil {
			return nil
		}
		won = true
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return false, fmt.Errorf("boltstore: set-if-absent: %w", err)
	}
	return won, nil
}

func (s *Store) Delete(_ context.Context, ns, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("boltstore: delete: %w", err)
	}
	return nil
}

func (s *Store) GetAll(_ context.Context, ns string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: get-all: %w", err)
	}
	return out, nil
}
