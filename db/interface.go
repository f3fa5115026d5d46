package db

// Engine is the boundary to an LMDB-style transactional key-value store:
// named sub-databases (DBIs), ACID transactions, and a fixed virtual
// address-space map that can be exhausted and resized. Engines translate
// their native status codes into the sentinel errors declared in this
// package so the safety layer never sees backend-specific values.
type Engine interface {
  // Begin opens a transaction. Write transactions are exclusive.
  Begin(write bool) (Txn, error)
  // SetMapSize grows (or sets) the environment map. Must not be called
  // while any transaction is open.
  SetMapSize(n uint64) error
  // MapSize reports the current map size in bytes.
  MapSize() (uint64, error)
  Close() error
}

// Txn is a single engine transaction. Key and value arguments are
// non-owning; implementations must not retain or free them.
type Txn interface {
  // OpenDBI opens (creating if needed) a named sub-database of the
  // declared type and returns its handle.
  OpenDBI(name string, t DBIType) (DBI, error)
  // Flags returns the engine's resolved flag bits for an open DBI.
  Flags(dbi DBI) (uint, error)
  Get(dbi DBI, key []byte) ([]byte, error)
  Put(dbi DBI, key, val []byte, flags PutFlag) error
  // Del removes key. For duplicate-key DBIs a non-nil val removes only
  // the exact (key, val) pair.
  Del(dbi DBI, key, val []byte) error
  Commit() error
  Abort()
}

// DBI is an opaque sub-database handle, valid for the life of the engine.
type DBI uint32

// DBIType is the declared type of a sub-database. Values are validated
// before they reach an engine; backends map them to native flag bits.
type DBIType int

const (
  // DBIDefault holds unique keys; puts do not overwrite existing entries.
  DBIDefault DBIType = iota
  // DBIDupSort allows sorted duplicate values per key.
  DBIDupSort
  // DBIDupFixed is DBIDupSort with fixed-size values.
  DBIDupFixed
)

func (t DBIType) String() string {
  switch t {
  case DBIDefault:
    return "default"
  case DBIDupSort:
    return "dupsort"
  case DBIDupFixed:
    return "dupfixed"
  }
  return "unknown"
}

// DBIDecl declares one named sub-database to open at environment init.
type DBIDecl struct {
  Name string
  Type DBIType
}

// PutFlag modifies put behavior.
type PutFlag uint

const (
  // NoOverwrite rejects a put for a key that already exists.
  NoOverwrite PutFlag = 1 << iota
  // NoDupData rejects an exact (key, value) duplicate in a dupsort DBI.
  NoDupData
)
