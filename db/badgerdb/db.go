package badgerdb

import (
  "encoding/binary"
  "sync"

  badger "github.com/dgraph-io/badger/v3"
  dbpkg "github.com/openmantle/stagekv/db"
)

// Engine adapts badger to the engine boundary. Badger has no named
// sub-databases, so each DBI becomes a key prefix; it also has no bounded
// map, so the exhaustion statuses never occur and SetMapSize is a no-op.
// Duplicate-key DBI types degrade to unique keys.
type Engine struct {
  db *badger.DB

  mu    sync.Mutex
  names []string
  index map[string]dbpkg.DBI
}

func New(path string) (*Engine, error) {
  opt := badger.DefaultOptions(path)
  if path == "" {
    opt = opt.WithInMemory(true)
  }
  db, err := badger.Open(opt)
  if err != nil {
    return nil, err
  }
  return &Engine{db: db, index: make(map[string]dbpkg.DBI)}, nil
}

func (e *Engine) SetMapSize(n uint64) error {
  return nil
}

func (e *Engine) MapSize() (uint64, error) {
  lsm, vlog := e.db.Size()
  return uint64(lsm + vlog), nil
}

func (e *Engine) Close() error {
  return e.db.Close()
}

func (e *Engine) Begin(write bool) (dbpkg.Txn, error) {
  return &badgerTxn{eng: e, tx: e.db.NewTransaction(write), write: write}, nil
}

type badgerTxn struct {
  eng   *Engine
  tx    *badger.Txn
  write bool
}

// prefixed returns key namespaced under the DBI's prefix.
func (tx *badgerTxn) prefixed(dbi dbpkg.DBI, key []byte) []byte {
  p := make([]byte, 4, 4+len(key))
  binary.BigEndian.PutUint32(p, uint32(dbi)+1)
  return append(p, key...)
}

func (tx *badgerTxn) OpenDBI(name string, t dbpkg.DBIType) (dbpkg.DBI, error) {
  tx.eng.mu.Lock()
  defer tx.eng.mu.Unlock()
  if dbi, ok := tx.eng.index[name]; ok {
    return dbi, nil
  }
  tx.eng.names = append(tx.eng.names, name)
  dbi := dbpkg.DBI(len(tx.eng.names) - 1)
  tx.eng.index[name] = dbi
  return dbi, nil
}

func (tx *badgerTxn) Flags(dbi dbpkg.DBI) (uint, error) {
  tx.eng.mu.Lock()
  defer tx.eng.mu.Unlock()
  if int(dbi) >= len(tx.eng.names) {
    return 0, dbpkg.ErrNotFound
  }
  return 0, nil
}

func (tx *badgerTxn) Get(dbi dbpkg.DBI, key []byte) ([]byte, error) {
  item, err := tx.tx.Get(tx.prefixed(dbi, key))
  if err == badger.ErrKeyNotFound {
    return nil, dbpkg.ErrNotFound
  }
  if err != nil {
    return nil, err
  }
  return item.ValueCopy(nil)
}

func (tx *badgerTxn) Put(dbi dbpkg.DBI, key, val []byte, flags dbpkg.PutFlag) error {
  if !tx.write {
    return dbpkg.ErrReadOnly
  }
  pk := tx.prefixed(dbi, key)
  if flags&dbpkg.NoOverwrite != 0 {
    if _, err := tx.tx.Get(pk); err == nil {
      return dbpkg.ErrKeyExist
    } else if err != badger.ErrKeyNotFound {
      return err
    }
  }
  return tx.tx.Set(pk, val)
}

func (tx *badgerTxn) Del(dbi dbpkg.DBI, key, val []byte) error {
  if !tx.write {
    return dbpkg.ErrReadOnly
  }
  pk := tx.prefixed(dbi, key)
  if _, err := tx.tx.Get(pk); err == badger.ErrKeyNotFound {
    return dbpkg.ErrNotFound
  } else if err != nil {
    return err
  }
  return tx.tx.Delete(pk)
}

func (tx *badgerTxn) Commit() error {
  if !tx.write {
    tx.tx.Discard()
    return nil
  }
  return tx.tx.Commit()
}

func (tx *badgerTxn) Abort() {
  tx.tx.Discard()
}
