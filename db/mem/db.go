package mem

import (
  "sort"
  "sync"

  dbpkg "github.com/openmantle/stagekv/db"
)

// Flag bits reported by Flags(), matching the LMDB on-disk constants so
// callers can share flag-inspection code across engines.
const (
  FlagDupSort  = 0x04
  FlagDupFixed = 0x10
)

type table struct {
  name    string
  typ     dbpkg.DBIType
  entries map[string][][]byte // dup values kept sorted
}

// Engine is an in-memory engine with real map accounting: the total bytes
// of live keys and values may not exceed the map size, so map-full and the
// grow-and-retry path behave as they do against a real environment.
type Engine struct {
  mu      sync.Mutex
  tables  []*table
  byName  map[string]dbpkg.DBI
  mapSize uint64
  used    uint64
  closed  bool

  // TxnOpLimit, when positive, fails any write transaction that stages
  // more than this many operations with ErrTxnFull.
  TxnOpLimit int

  // failNext, when non-nil, is returned once by the next matching
  // primitive. Tests use it to exercise unclassified engine failures.
  failNext error
}

// New returns an engine with the given map size in bytes.
func New(mapSize uint64) *Engine {
  return &Engine{
    byName:  make(map[string]dbpkg.DBI),
    mapSize: mapSize,
  }
}

// FailNext arranges for the next Get/Put/Del to return err once.
func (e *Engine) FailNext(err error) {
  e.failNext = err
}

func (e *Engine) takeFault() error {
  err := e.failNext
  e.failNext = nil
  return err
}

func (e *Engine) SetMapSize(n uint64) error {
  e.mu.Lock()
  defer e.mu.Unlock()
  if e.closed {
    return dbpkg.ErrReadOnly
  }
  e.mapSize = n
  return nil
}

func (e *Engine) MapSize() (uint64, error) {
  e.mu.Lock()
  defer e.mu.Unlock()
  return e.mapSize, nil
}

func (e *Engine) Close() error {
  e.mu.Lock()
  defer e.mu.Unlock()
  e.closed = true
  e.tables = nil
  e.byName = make(map[string]dbpkg.DBI)
  e.used = 0
  return nil
}

func (e *Engine) Begin(write bool) (dbpkg.Txn, error) {
  e.mu.Lock()
  defer e.mu.Unlock()
  if e.closed {
    return nil, dbpkg.ErrReadOnly
  }
  return &memTxn{
    eng:     e,
    write:   write,
    changes: make(map[dbpkg.DBI]map[string][][]byte),
    deletes: make(map[dbpkg.DBI]map[string][][]byte),
  }, nil
}

type memTxn struct {
  eng     *Engine
  write   bool
  done    bool
  nops    int
  created []*table
  // staged values per dbi; deletes map key -> exact dup values, or nil
  // slice meaning the whole key
  changes map[dbpkg.DBI]map[string][][]byte
  deletes map[dbpkg.DBI]map[string][][]byte
}

func (tx *memTxn) table(dbi dbpkg.DBI) *table {
  if int(dbi) >= len(tx.eng.tables) {
    return nil
  }
  return tx.eng.tables[dbi]
}

func (tx *memTxn) OpenDBI(name string, t dbpkg.DBIType) (dbpkg.DBI, error) {
  if tx.done {
    return 0, dbpkg.ErrReadOnly
  }
  if dbi, ok := tx.eng.byName[name]; ok {
    return dbi, nil
  }
  if !tx.write {
    return 0, dbpkg.ErrNotFound
  }
  tbl := &table{name: name, typ: t, entries: make(map[string][][]byte)}
  tx.eng.tables = append(tx.eng.tables, tbl)
  dbi := dbpkg.DBI(len(tx.eng.tables) - 1)
  tx.eng.byName[name] = dbi
  tx.created = append(tx.created, tbl)
  return dbi, nil
}

func (tx *memTxn) Flags(dbi dbpkg.DBI) (uint, error) {
  tbl := tx.table(dbi)
  if tbl == nil {
    return 0, dbpkg.ErrNotFound
  }
  var flags uint
  switch tbl.typ {
  case dbpkg.DBIDupSort:
    flags = FlagDupSort
  case dbpkg.DBIDupFixed:
    flags = FlagDupSort | FlagDupFixed
  }
  return flags, nil
}

func (tx *memTxn) Get(dbi dbpkg.DBI, key []byte) ([]byte, error) {
  if err := tx.eng.takeFault(); err != nil {
    return nil, err
  }
  tbl := tx.table(dbi)
  if tbl == nil {
    return nil, dbpkg.ErrNotFound
  }
  k := string(key)
  if dels, ok := tx.deletes[dbi]; ok {
    if _, gone := dels[k]; gone {
      return nil, dbpkg.ErrNotFound
    }
  }
  if staged, ok := tx.changes[dbi]; ok {
    if vals, ok := staged[k]; ok && len(vals) > 0 {
      return vals[0], nil
    }
  }
  if vals, ok := tbl.entries[k]; ok && len(vals) > 0 {
    return vals[0], nil
  }
  return nil, dbpkg.ErrNotFound
}

func (tx *memTxn) Put(dbi dbpkg.DBI, key, val []byte, flags dbpkg.PutFlag) error {
  if !tx.write || tx.done {
    return dbpkg.ErrReadOnly
  }
  if err := tx.eng.takeFault(); err != nil {
    return err
  }
  tbl := tx.table(dbi)
  if tbl == nil {
    return dbpkg.ErrNotFound
  }
  tx.nops++
  if tx.eng.TxnOpLimit > 0 && tx.nops > tx.eng.TxnOpLimit {
    return dbpkg.ErrTxnFull
  }
  k := string(key)
  _, existing := tbl.entries[k]
  if staged, ok := tx.changes[dbi][k]; ok && len(staged) > 0 {
    existing = true
  }
  if dels, ok := tx.deletes[dbi]; ok {
    if _, gone := dels[k]; gone {
      existing = false
    }
  }
  if existing {
    if flags&dbpkg.NoOverwrite != 0 && tbl.typ == dbpkg.DBIDefault {
      return dbpkg.ErrKeyExist
    }
    if flags&dbpkg.NoDupData != 0 && tx.hasDup(tbl, dbi, k, val) {
      return dbpkg.ErrKeyExist
    }
  }
  if tx.eng.used+tx.stagedBytes()+uint64(len(key)+len(val)) > tx.eng.mapSize {
    return dbpkg.ErrMapFull
  }
  if tx.changes[dbi] == nil {
    tx.changes[dbi] = make(map[string][][]byte)
  }
  v := append([]byte(nil), val...)
  if tbl.typ == dbpkg.DBIDefault {
    tx.changes[dbi][k] = [][]byte{v}
  } else {
    tx.changes[dbi][k] = append(tx.changes[dbi][k], v)
  }
  if dels, ok := tx.deletes[dbi]; ok {
    delete(dels, k)
  }
  return nil
}

func (tx *memTxn) hasDup(tbl *table, dbi dbpkg.DBI, k string, val []byte) bool {
  for _, v := range tbl.entries[k] {
    if string(v) == string(val) {
      return true
    }
  }
  for _, v := range tx.changes[dbi][k] {
    if string(v) == string(val) {
      return true
    }
  }
  return false
}

func (tx *memTxn) stagedBytes() uint64 {
  var n uint64
  for _, staged := range tx.changes {
    for k, vals := range staged {
      for _, v := range vals {
        n += uint64(len(k) + len(v))
      }
    }
  }
  return n
}

func (tx *memTxn) Del(dbi dbpkg.DBI, key, val []byte) error {
  if !tx.write || tx.done {
    return dbpkg.ErrReadOnly
  }
  if err := tx.eng.takeFault(); err != nil {
    return err
  }
  tbl := tx.table(dbi)
  if tbl == nil {
    return dbpkg.ErrNotFound
  }
  tx.nops++
  k := string(key)
  if _, err := tx.Get(dbi, key); err != nil {
    return err
  }
  if tx.deletes[dbi] == nil {
    tx.deletes[dbi] = make(map[string][][]byte)
  }
  if val != nil {
    tx.deletes[dbi][k] = append(tx.deletes[dbi][k], append([]byte(nil), val...))
  } else {
    tx.deletes[dbi][k] = nil
  }
  if staged, ok := tx.changes[dbi]; ok {
    delete(staged, k)
  }
  return nil
}

func (tx *memTxn) Commit() error {
  if tx.done {
    return dbpkg.ErrReadOnly
  }
  tx.done = true
  if !tx.write {
    return nil
  }
  eng := tx.eng
  eng.mu.Lock()
  defer eng.mu.Unlock()
  for dbi, dels := range tx.deletes {
    tbl := eng.tables[dbi]
    for k, exact := range dels {
      if exact == nil {
        for _, v := range tbl.entries[k] {
          eng.used -= uint64(len(k) + len(v))
        }
        delete(tbl.entries, k)
        continue
      }
      kept := tbl.entries[k][:0]
      for _, v := range tbl.entries[k] {
        removed := false
        for _, d := range exact {
          if string(d) == string(v) {
            removed = true
            break
          }
        }
        if removed {
          eng.used -= uint64(len(k) + len(v))
        } else {
          kept = append(kept, v)
        }
      }
      tbl.entries[k] = kept
    }
  }
  for dbi, staged := range tx.changes {
    tbl := eng.tables[dbi]
    for k, vals := range staged {
      if tbl.typ == dbpkg.DBIDefault {
        for _, old := range tbl.entries[k] {
          eng.used -= uint64(len(k) + len(old))
        }
        tbl.entries[k] = nil
      }
      for _, v := range vals {
        tbl.entries[k] = append(tbl.entries[k], v)
        eng.used += uint64(len(k) + len(v))
      }
      sort.Slice(tbl.entries[k], func(i, j int) bool {
        return string(tbl.entries[k][i]) < string(tbl.entries[k][j])
      })
    }
  }
  return nil
}

func (tx *memTxn) Abort() {
  if tx.done {
    return
  }
  tx.done = true
  if tx.write && len(tx.created) > 0 {
    // drop tables created by this txn
    eng := tx.eng
    eng.mu.Lock()
    defer eng.mu.Unlock()
    for i := len(tx.created) - 1; i >= 0; i-- {
      tbl := tx.created[i]
      if dbi, ok := eng.byName[tbl.name]; ok && int(dbi) == len(eng.tables)-1 {
        eng.tables = eng.tables[:len(eng.tables)-1]
      }
      delete(eng.byName, tbl.name)
    }
  }
}
