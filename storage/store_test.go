package storage

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteAndGet(t *testing.T) {
	s := openTestStore(t)

	batch := NewWriteBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	if batch.Len() != 2 {
		t.Fatalf("expected 2 staged operations, got %d", batch.Len())
	}
	if err := s.Write(batch); err != nil {
		t.Fatalf("writing batch: %v", err)
	}

	v, err := s.Get([]byte("a"))
	if err != nil {
		t.Fatalf("getting a: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("expected value 1, got %q", v)
	}

	if _, err := s.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteBatchDelete(t *testing.T) {
	s := openTestStore(t)

	put := NewWriteBatch()
	put.Put([]byte("k"), []byte("v"))
	if err := s.Write(put); err != nil {
		t.Fatalf("writing: %v", err)
	}

	del := NewWriteBatch()
	del.Delete([]byte("k"))
	if err := s.Write(del); err != nil {
		t.Fatalf("deleting: %v", err)
	}

	if _, err := s.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected key to be gone, got %v", err)
	}
}

func TestReadBatchSnapshot(t *testing.T) {
	s := openTestStore(t)

	put := NewWriteBatch()
	put.Put([]byte("x"), []byte("10"))
	put.Put([]byte("y"), []byte("20"))
	if err := s.Write(put); err != nil {
		t.Fatalf("writing: %v", err)
	}

	result, err := s.Read(NewReadBatch([]byte("x"), []byte("y"), []byte("z")))
	if err != nil {
		t.Fatalf("reading batch: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 resolved keys, got %d", len(result))
	}
	if string(result["x"]) != "10" || string(result["y"]) != "20" {
		t.Fatalf("unexpected batch contents: %v", result)
	}
	if _, ok := result["z"]; ok {
		t.Fatalf("missing key z should be absent from the result")
	}
}

func TestCursorPrefixScan(t *testing.T) {
	s := openTestStore(t)

	batch := NewWriteBatch()
	batch.Put([]byte("p:1"), []byte("one"))
	batch.Put([]byte("p:2"), []byte("two"))
	batch.Put([]byte("q:1"), []byte("other"))
	if err := s.Write(batch); err != nil {
		t.Fatalf("writing: %v", err)
	}

	c := s.Cursor([]byte("p:"))
	defer c.Close()

	var keys []string
	for ok := c.First(); ok; ok = c.Next() {
		keys = append(keys, string(c.Key()))
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under prefix p:, got %v", keys)
	}
	if keys[0] != "1" || keys[1] != "2" {
		t.Fatalf("expected trimmed keys [1 2], got %v", keys)
	}
}
