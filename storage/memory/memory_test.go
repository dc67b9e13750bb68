package memory

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jmcleod/ironlink/storage"
)

func TestMemoryStore(t *testing.T) {
	s := NewStore()
	ctx := t.Context()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := s.Set(ctx, "k1", []byte("value")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := s.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, []byte("value")) {
			t.Errorf("Get returned %q", got)
		}

		// Returned slices must not alias the stored value.
		got[0] = 'X'
		got2, _ := s.Get(ctx, "k1")
		if got2[0] == 'X' {
			t.Error("memory store should return copies")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(ctx, "k1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := s.Delete(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("second Delete should return ErrNotFound, got %v", err)
		}
		if s.Len() != 0 {
			t.Errorf("expected empty store, got %d keys", s.Len())
		}
	})
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewStore()
	ctx := t.Context()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k := fmt.Sprintf("k%d", i)
			_ = s.Set(ctx, k, []byte(k))
			_, _ = s.Get(ctx, k)
		}()
	}
	wg.Wait()
	if s.Len() != 20 {
		t.Errorf("expected 20 keys, got %d", s.Len())
	}
}

func TestItemHelpers(t *testing.T) {
	type item struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	s := NewStore()
	ctx := t.Context()

	if _, ok, err := storage.GetItem[item](ctx, s, "it"); err != nil || ok {
		t.Fatalf("missing item: ok=%v err=%v", ok, err)
	}
	if err := storage.SetItem(ctx, s, "it", item{Name: "a", Count: 2}); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	got, ok, err := storage.GetItem[item](ctx, s, "it")
	if err != nil || !ok {
		t.Fatalf("GetItem: ok=%v err=%v", ok, err)
	}
	if got.Name != "a" || got.Count != 2 {
		t.Errorf("GetItem returned %+v", got)
	}
	if err := storage.RemoveItem(ctx, s, "it"); err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}
	if err := storage.RemoveItem(ctx, s, "it"); err != nil {
		t.Errorf("RemoveItem of missing key should succeed, got %v", err)
	}

	_ = s.Set(ctx, "bad", []byte("{not json"))
	if _, _, err := storage.GetItem[item](ctx, s, "bad"); err == nil {
		t.Error("expected decode error")
	}
}
