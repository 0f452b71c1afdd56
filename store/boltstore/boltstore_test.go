package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"3send.xyz/send/store"
	"3send.xyz/send/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "control.db"), WithNoSync(true))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStore_Conformance(t *testing.T) {
	storetest.RunStoreConformance(t, func(t *testing.T) store.Store {
		t.Helper()
		return newTestStore(t)
	})
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "control.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Set(ctx, "payment-refs", "0xabc", []byte(`{"state":"used"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	v, ok, err := reopened.Get(ctx, "payment-refs", "0xabc")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if string(v) != `{"state":"used"}` {
		t.Fatalf("value after reopen: %q", v)
	}
}
