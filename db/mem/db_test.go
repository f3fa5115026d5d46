package mem

import (
  "testing"

  dbpkg "github.com/openmantle/stagekv/db"
)

func openTxn(t *testing.T, eng *Engine, write bool) dbpkg.Txn {
  t.Helper()
  txn, err := eng.Begin(write)
  if err != nil {
    t.Fatalf(err.Error())
  }
  return txn
}

func TestPutGetDel(t *testing.T) {
  eng := New(1 << 20)
  txn := openTxn(t, eng, true)
  dbi, err := txn.OpenDBI("things", dbpkg.DBIDefault)
  if err != nil {
    t.Fatalf(err.Error())
  }
  if err := txn.Put(dbi, []byte("k"), []byte("v"), 0); err != nil {
    t.Fatalf(err.Error())
  }
  // staged writes visible inside the txn
  val, err := txn.Get(dbi, []byte("k"))
  if err != nil {
    t.Fatalf(err.Error())
  }
  if string(val) != "v" {
    t.Errorf("unexpected value %q", val)
  }
  if err := txn.Commit(); err != nil {
    t.Fatalf(err.Error())
  }

  txn = openTxn(t, eng, true)
  if err := txn.Del(dbi, []byte("k"), nil); err != nil {
    t.Fatalf(err.Error())
  }
  if _, err := txn.Get(dbi, []byte("k")); err != dbpkg.ErrNotFound {
    t.Errorf("expected ErrNotFound after staged delete, got %v", err)
  }
  if err := txn.Commit(); err != nil {
    t.Fatalf(err.Error())
  }

  txn = openTxn(t, eng, false)
  defer txn.Abort()
  if _, err := txn.Get(dbi, []byte("k")); err != dbpkg.ErrNotFound {
    t.Errorf("expected ErrNotFound after commit, got %v", err)
  }
}

func TestAbortDiscardsWrites(t *testing.T) {
  eng := New(1 << 20)
  txn := openTxn(t, eng, true)
  dbi, err := txn.OpenDBI("things", dbpkg.DBIDefault)
  if err != nil {
    t.Fatalf(err.Error())
  }
  if err := txn.Commit(); err != nil {
    t.Fatalf(err.Error())
  }

  txn = openTxn(t, eng, true)
  if err := txn.Put(dbi, []byte("k"), []byte("v"), 0); err != nil {
    t.Fatalf(err.Error())
  }
  txn.Abort()

  txn = openTxn(t, eng, false)
  defer txn.Abort()
  if _, err := txn.Get(dbi, []byte("k")); err != dbpkg.ErrNotFound {
    t.Errorf("aborted write leaked: %v", err)
  }
}

func TestAbortDropsCreatedTables(t *testing.T) {
  eng := New(1 << 20)
  txn := openTxn(t, eng, true)
  if _, err := txn.OpenDBI("one", dbpkg.DBIDefault); err != nil {
    t.Fatalf(err.Error())
  }
  if _, err := txn.OpenDBI("two", dbpkg.DBIDefault); err != nil {
    t.Fatalf(err.Error())
  }
  txn.Abort()

  txn = openTxn(t, eng, false)
  defer txn.Abort()
  for _, name := range []string{"one", "two"} {
    if _, err := txn.OpenDBI(name, dbpkg.DBIDefault); err != dbpkg.ErrNotFound {
      t.Errorf("table %q survived the abort: %v", name, err)
    }
  }
}

func TestMapFull(t *testing.T) {
  eng := New(8)
  txn := openTxn(t, eng, true)
  dbi, err := txn.OpenDBI("things", dbpkg.DBIDefault)
  if err != nil {
    t.Fatalf(err.Error())
  }
  if err := txn.Commit(); err != nil {
    t.Fatalf(err.Error())
  }

  txn = openTxn(t, eng, true)
  if err := txn.Put(dbi, []byte("hello"), []byte("world"), 0); err != dbpkg.ErrMapFull {
    t.Fatalf("expected ErrMapFull, got %v", err)
  }
  txn.Abort()

  if err := eng.SetMapSize(32); err != nil {
    t.Fatalf(err.Error())
  }
  txn = openTxn(t, eng, true)
  if err := txn.Put(dbi, []byte("hello"), []byte("world"), 0); err != nil {
    t.Fatalf("expected put to fit after resize: %v", err)
  }
  if err := txn.Commit(); err != nil {
    t.Fatalf(err.Error())
  }
}

func TestTxnOpLimit(t *testing.T) {
  eng := New(1 << 20)
  eng.TxnOpLimit = 2
  txn := openTxn(t, eng, true)
  dbi, err := txn.OpenDBI("things", dbpkg.DBIDefault)
  if err != nil {
    t.Fatalf(err.Error())
  }
  if err := txn.Put(dbi, []byte("a"), []byte("1"), 0); err != nil {
    t.Fatalf(err.Error())
  }
  if err := txn.Put(dbi, []byte("b"), []byte("2"), 0); err != nil {
    t.Fatalf(err.Error())
  }
  if err := txn.Put(dbi, []byte("c"), []byte("3"), 0); err != dbpkg.ErrTxnFull {
    t.Errorf("expected ErrTxnFull, got %v", err)
  }
  txn.Abort()
}

func TestNoOverwrite(t *testing.T) {
  eng := New(1 << 20)
  txn := openTxn(t, eng, true)
  dbi, err := txn.OpenDBI("things", dbpkg.DBIDefault)
  if err != nil {
    t.Fatalf(err.Error())
  }
  if err := txn.Put(dbi, []byte("k"), []byte("v1"), dbpkg.NoOverwrite); err != nil {
    t.Fatalf(err.Error())
  }
  if err := txn.Put(dbi, []byte("k"), []byte("v2"), dbpkg.NoOverwrite); err != dbpkg.ErrKeyExist {
    t.Errorf("expected ErrKeyExist, got %v", err)
  }
  txn.Abort()
}

func TestDupSort(t *testing.T) {
  eng := New(1 << 20)
  txn := openTxn(t, eng, true)
  dbi, err := txn.OpenDBI("dups", dbpkg.DBIDupSort)
  if err != nil {
    t.Fatalf(err.Error())
  }
  flags, err := txn.Flags(dbi)
  if err != nil {
    t.Fatalf(err.Error())
  }
  if flags&FlagDupSort == 0 {
    t.Errorf("expected dup-sort flag, got %#x", flags)
  }
  for _, v := range []string{"b", "a", "c"} {
    if err := txn.Put(dbi, []byte("k"), []byte(v), 0); err != nil {
      t.Fatalf(err.Error())
    }
  }
  if err := txn.Put(dbi, []byte("k"), []byte("a"), dbpkg.NoDupData); err != dbpkg.ErrKeyExist {
    t.Errorf("expected ErrKeyExist for a duplicate pair, got %v", err)
  }
  if err := txn.Commit(); err != nil {
    t.Fatalf(err.Error())
  }

  txn = openTxn(t, eng, true)
  if err := txn.Del(dbi, []byte("k"), []byte("a")); err != nil {
    t.Fatalf(err.Error())
  }
  if err := txn.Commit(); err != nil {
    t.Fatalf(err.Error())
  }

  txn = openTxn(t, eng, false)
  defer txn.Abort()
  val, err := txn.Get(dbi, []byte("k"))
  if err != nil {
    t.Fatalf(err.Error())
  }
  // values kept sorted; "a" removed leaves "b" first
  if string(val) != "b" {
    t.Errorf("unexpected first duplicate %q", val)
  }
}

func TestReadOnlyTxnRejectsWrites(t *testing.T) {
  eng := New(1 << 20)
  txn := openTxn(t, eng, true)
  dbi, err := txn.OpenDBI("things", dbpkg.DBIDefault)
  if err != nil {
    t.Fatalf(err.Error())
  }
  if err := txn.Commit(); err != nil {
    t.Fatalf(err.Error())
  }

  txn = openTxn(t, eng, false)
  defer txn.Abort()
  if err := txn.Put(dbi, []byte("k"), []byte("v"), 0); err != dbpkg.ErrReadOnly {
    t.Errorf("expected ErrReadOnly, got %v", err)
  }
  if err := txn.Del(dbi, []byte("k"), nil); err != dbpkg.ErrReadOnly {
    t.Errorf("expected ErrReadOnly, got %v", err)
  }
}

func TestFailNext(t *testing.T) {
  eng := New(1 << 20)
  txn := openTxn(t, eng, true)
  dbi, err := txn.OpenDBI("things", dbpkg.DBIDefault)
  if err != nil {
    t.Fatalf(err.Error())
  }
  eng.FailNext(dbpkg.ErrMapResized)
  if err := txn.Put(dbi, []byte("k"), []byte("v"), 0); err != dbpkg.ErrMapResized {
    t.Errorf("expected injected fault, got %v", err)
  }
  // the fault fires once
  if err := txn.Put(dbi, []byte("k"), []byte("v"), 0); err != nil {
    t.Errorf("second put should succeed: %v", err)
  }
  txn.Abort()
}
