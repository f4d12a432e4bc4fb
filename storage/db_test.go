package storage

import "testing"

func TestMemDBPutGetDelete(t *testing.T) {
	db := NewMemDB()
	key := []byte("k1")

	if _, err := db.Get(key); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound for missing key, got %v", err)
	}

	if err := db.Put(key, []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}

	if err := db.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get(key); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestMemDBPutCopiesValueOnWrite(t *testing.T) {
	db := NewMemDB()
	value := []byte("original")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'

	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("expected stored value to be unaffected by later mutation of the caller's slice, got %q", got)
	}
}

func TestMemDBScanRespectsPrefixAndOrder(t *testing.T) {
	db := NewMemDB()
	entries := map[string]string{
		"user/b": "2",
		"user/a": "1",
		"group/a": "3",
	}
	for k, v := range entries {
		if err := db.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	var keys []string
	err := db.Scan([]byte("user/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 2 || keys[0] != "user/a" || keys[1] != "user/b" {
		t.Fatalf("expected lexicographically ordered user/ keys, got %v", keys)
	}
}

func TestMemDBScanStopsOnCallbackError(t *testing.T) {
	db := NewMemDB()
	_ = db.Put([]byte("a/1"), []byte("1"))
	_ = db.Put([]byte("a/2"), []byte("2"))

	sentinel := errInScan
	visited := 0
	err := db.Scan([]byte("a/"), func(key, value []byte) error {
		visited++
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected scan to propagate the callback error, got %v", err)
	}
	if visited != 1 {
		t.Fatalf("expected scan to stop after the first error, visited %d", visited)
	}
}

var errInScan = errScan{}

type errScan struct{}

func (errScan) Error() string { return "stop scan" }
