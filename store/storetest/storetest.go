// Package storetest provides an in-memory Store and a conformance suite for
// Store implementations.
package storetest

import (
	"context"
	"sync"
	"testing"

	"3send.xyz/send/store"
)

// MemStore is a mutex-guarded in-memory Store for tests.
type MemStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

var _ store.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string][]byte)}
}

func (m *MemStore) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[ns][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemStore) Set(_ context.Context, ns, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[ns] == nil {
		m.data[ns] = make(map[string][]byte)
	}
	m.data[ns][key] = append([]byte(nil), value...)
	return nil
}

func (m *MemStore) SetIfAbsent(_ context.Context, ns, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[ns][key]; exists {
		return false, nil
	}
	if m.data[ns] == nil {
		m.data[ns] = make(map[string][]byte)
	}
	m.data[ns][key] = append([]byte(nil), value...)
	return true, nil
}

func (m *MemStore) Delete(_ context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[ns], key)
	return nil
}

func (m *MemStore) GetAll(_ context.Context, ns string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.data[ns]))
	for k, v := range m.data[ns] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

// NewStore constructs a fresh, empty Store instance for a test.
// The returned Store MUST be isolated from other tests.
type NewStore func(t *testing.T) store.Store

// RunStoreConformance exercises the Store contract against an implementation.
func RunStoreConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetSetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		if _, ok, err := s.Get(ctx, "ns", "missing"); err != nil || ok {
			t.Fatalf("Get missing: ok=%v err=%v", ok, err)
		}
		if err := s.Set(ctx, "ns", "k", []byte("v1")); err != nil {
			t.Fatalf("Set: %v", err)
		}
		v, ok, err := s.Get(ctx, "ns", "k")
		if err != nil || !ok || string(v) != "v1" {
			t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
		}
		if err := s.Set(ctx, "ns", "k", []byte("v2")); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		v, _, _ = s.Get(ctx, "ns", "k")
		if string(v) != "v2" {
			t.Fatalf("overwrite lost: %q", v)
		}
	})

	t.Run("NamespaceIsolation", func(t *testing.T) {
		s := newStore(t)
		if err := s.Set(ctx, "a", "k", []byte("x")); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if _, ok, _ := s.Get(ctx, "b", "k"); ok {
			t.Fatalf("key leaked across namespaces")
		}
	})

	t.Run("SetIfAbsentExactlyOnce", func(t *testing.T) {
		s := newStore(t)
		const workers = 8
		var wg sync.WaitGroup
		wins := make(chan int, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.SetIfAbsent(ctx, "ns", "ref", []byte{byte(i)})
				if err != nil {
					t.Errorf("SetIfAbsent: %v", err)
					return
				}
				if ok {
					wins <- i
				}
			}(i)
		}
		wg.Wait()
		close(wins)
		count := 0
		for range wins {
			count++
		}
		if count != 1 {
			t.Fatalf("expected exactly one winner, got %d", count)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		if err := s.Set(ctx, "ns", "k", []byte("v")); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Delete(ctx, "ns", "k"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, ok, _ := s.Get(ctx, "ns", "k"); ok {
			t.Fatalf("key survived delete")
		}
		// Deleting an absent key is not an error.
		if err := s.Delete(ctx, "ns", "k"); err != nil {
			t.Fatalf("Delete absent: %v", err)
		}
		// A deleted key can be reserved again.
		if ok, err := s.SetIfAbsent(ctx, "ns", "k", []byte("v2")); err != nil || !ok {
			t.Fatalf("SetIfAbsent after delete: ok=%v err=%v", ok, err)
		}
	})

	t.Run("GetAllSnapshot", func(t *testing.T) {
		s := newStore(t)
		want := map[string]string{"a": "1", "b": "2", "c": "3"}
		for k, v := range want {
			if err := s.Set(ctx, "ns", k, []byte(v)); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}
		all, err := s.GetAll(ctx, "ns")
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(all) != len(want) {
			t.Fatalf("GetAll size: got %d want %d", len(all), len(want))
		}
		for k, v := range want {
			if string(all[k]) != v {
				t.Fatalf("GetAll[%s]: got %q want %q", k, all[k], v)
			}
		}
		empty, err := s.GetAll(ctx, "empty-ns")
		if err != nil {
			t.Fatalf("GetAll empty: %v", err)
		}
		if len(empty) != 0 {
			t.Fatalf("expected empty namespace, got %d entries", len(empty))
		}
	})
}
