package blobstore

import (
	"bytes"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	key := make([]byte, 32)
	s, err := Open(t.TempDir(), key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	content := []byte("the quick brown fox jumps over the lazy dog, repeated for compression: " +
		"the quick brown fox jumps over the lazy dog")

	hash, err := s.Put(content)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.Has(hash) {
		t.Fatalf("expected Has to report true after Put")
	}

	got, err := s.Get(hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, content)
	}
}

func TestGetUnknownHashFails(t *testing.T) {
	s := openTestStore(t)
	var hash [32]byte
	if _, err := s.Get(hash); err == nil {
		t.Fatalf("expected error for unknown hash")
	}
}
