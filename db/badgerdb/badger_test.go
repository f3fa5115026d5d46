package badgerdb

import (
	"bytes"
	"testing"

	dbpkg "github.com/openmantle/stagekv/db"
)

var keys = [3]string{"Hello", "Yellow", "Mellow"}
var values = [3]string{"World", "Furled", "Burled"}

func TestWriteTx(t *testing.T) {
	eng, err := New(t.TempDir())
	if err != nil {
		t.Fatalf(err.Error())
	}
	defer eng.Close()

	txn, err := eng.Begin(true)
	if err != nil {
		t.Fatalf(err.Error())
	}
	dbi, err := txn.OpenDBI("data", dbpkg.DBIDefault)
	if err != nil {
		t.Fatalf(err.Error())
	}
	for i := 0; i <= len(keys)-1; i++ {
		if err := txn.Put(dbi, []byte(keys[i]), []byte(values[i]), 0); err != nil {
			t.Fatalf(err.Error())
		}
	}
	for i := 0; i <= len(keys)-1; i++ {
		val, err := txn.Get(dbi, []byte(keys[i]))
		if err != nil {
			t.Fatalf(err.Error())
		}
		if !bytes.Equal(val, []byte(values[i])) {
			t.Errorf("Unexpected value for %s", keys[i])
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf(err.Error())
	}

	txn, err = eng.Begin(false)
	if err != nil {
		t.Fatalf(err.Error())
	}
	defer txn.Abort()
	if err := txn.Put(dbi, []byte("Goodbuy"), []byte("Horses"), 0); err != dbpkg.ErrReadOnly {
		t.Errorf("Expected error calling Put() inside read tx")
	}
	for i := 0; i <= len(keys)-1; i++ {
		val, err := txn.Get(dbi, []byte(keys[i]))
		if err != nil {
			t.Fatalf(err.Error())
		}
		if !bytes.Equal(val, []byte(values[i])) {
			t.Errorf("Unexpected value for %s", keys[i])
		}
	}
}

func TestPrefixIsolation(t *testing.T) {
	eng, err := New(t.TempDir())
	if err != nil {
		t.Fatalf(err.Error())
	}
	defer eng.Close()

	txn, err := eng.Begin(true)
	if err != nil {
		t.Fatalf(err.Error())
	}
	one, err := txn.OpenDBI("one", dbpkg.DBIDefault)
	if err != nil {
		t.Fatalf(err.Error())
	}
	two, err := txn.OpenDBI("two", dbpkg.DBIDefault)
	if err != nil {
		t.Fatalf(err.Error())
	}
	if err := txn.Put(one, []byte("k"), []byte("in one"), 0); err != nil {
		t.Fatalf(err.Error())
	}
	// the same key in the other sub-database stays invisible
	if _, err := txn.Get(two, []byte("k")); err != dbpkg.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := txn.Put(two, []byte("k"), []byte("in two"), 0); err != nil {
		t.Fatalf(err.Error())
	}
	val, err := txn.Get(one, []byte("k"))
	if err != nil {
		t.Fatalf(err.Error())
	}
	if string(val) != "in one" {
		t.Errorf("Unexpected value %q", val)
	}
	txn.Abort()
}

func TestNoOverwrite(t *testing.T) {
	eng, err := New(t.TempDir())
	if err != nil {
		t.Fatalf(err.Error())
	}
	defer eng.Close()

	txn, err := eng.Begin(true)
	if err != nil {
		t.Fatalf(err.Error())
	}
	defer txn.Abort()
	dbi, err := txn.OpenDBI("data", dbpkg.DBIDefault)
	if err != nil {
		t.Fatalf(err.Error())
	}
	if err := txn.Put(dbi, []byte("k"), []byte("v1"), dbpkg.NoOverwrite); err != nil {
		t.Fatalf(err.Error())
	}
	if err := txn.Put(dbi, []byte("k"), []byte("v2"), dbpkg.NoOverwrite); err != dbpkg.ErrKeyExist {
		t.Errorf("expected ErrKeyExist, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	eng, err := New(t.TempDir())
	if err != nil {
		t.Fatalf(err.Error())
	}
	defer eng.Close()

	txn, err := eng.Begin(true)
	if err != nil {
		t.Fatalf(err.Error())
	}
	dbi, err := txn.OpenDBI("data", dbpkg.DBIDefault)
	if err != nil {
		t.Fatalf(err.Error())
	}
	if err := txn.Put(dbi, []byte("k"), []byte("v"), 0); err != nil {
		t.Fatalf(err.Error())
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf(err.Error())
	}

	txn, err = eng.Begin(true)
	if err != nil {
		t.Fatalf(err.Error())
	}
	if err := txn.Del(dbi, []byte("k"), nil); err != nil {
		t.Fatalf(err.Error())
	}
	if err := txn.Del(dbi, []byte("k"), nil); err != dbpkg.ErrNotFound {
		t.Errorf("expected ErrNotFound deleting a deleted key, got %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf(err.Error())
	}
}
