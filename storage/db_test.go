package storage

import (
	"errors"
	"testing"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("missing key: got %v, want ErrKeyNotFound", err)
	}
	if err := db.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "v1" {
		t.Fatalf("value: got %q, want v1", value)
	}
	has, err := db.Has([]byte("k"))
	if err != nil || !has {
		t.Fatalf("has: got %v, %v", has, err)
	}

	if err := db.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, _ = db.Get([]byte("k"))
	if string(value) != "v2" {
		t.Fatalf("overwritten value: got %q", value)
	}

	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("deleted key: got %v, want ErrKeyNotFound", err)
	}
	// Deleting an absent key is not an error.
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("double delete: %v", err)
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	buf := []byte("original")
	if err := db.Put([]byte("k"), buf); err != nil {
		t.Fatalf("put: %v", err)
	}
	buf[0] = 'X'
	stored, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(stored) != "original" {
		t.Fatalf("stored value aliased caller buffer: %q", stored)
	}
	stored[0] = 'Y'
	again, _ := db.Get([]byte("k"))
	if string(again) != "original" {
		t.Fatalf("returned value aliased store: %q", again)
	}
}
