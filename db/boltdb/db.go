package boltdb

import (
	"os"
	"sync"

	bolt "github.com/boltdb/bolt"
	dbpkg "github.com/openmantle/stagekv/db"
)

// Engine adapts bolt to the engine boundary. Buckets stand in for named
// sub-databases. Bolt grows its data file on demand, so the map-exhaustion
// statuses never occur and SetMapSize is a no-op; duplicate-key DBI types
// degrade to plain buckets.
type Engine struct {
	db *bolt.DB

	mu    sync.Mutex
	names []string
	index map[string]dbpkg.DBI
}

func Open(path string, mode os.FileMode, options *bolt.Options) (*Engine, error) {
	db, err := bolt.Open(path, mode, options)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db, index: make(map[string]dbpkg.DBI)}, nil
}

func (e *Engine) SetMapSize(n uint64) error {
	return nil
}

func (e *Engine) MapSize() (uint64, error) {
	fi, err := os.Stat(e.db.Path())
	if err != nil {
		return 0, err
	}
	return uint64(fi.Size()), nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) Begin(write bool) (dbpkg.Txn, error) {
	tx, err := e.db.Begin(write)
	if err != nil {
		return nil, err
	}
	return &boltTxn{eng: e, tx: tx, write: write}, nil
}

type boltTxn struct {
	eng   *Engine
	tx    *bolt.Tx
	write bool
}

func (tx *boltTxn) bucket(dbi dbpkg.DBI) *bolt.Bucket {
	tx.eng.mu.Lock()
	defer tx.eng.mu.Unlock()
	if int(dbi) >= len(tx.eng.names) {
		return nil
	}
	return tx.tx.Bucket([]byte(tx.eng.names[dbi]))
}

func (tx *boltTxn) OpenDBI(name string, t dbpkg.DBIType) (dbpkg.DBI, error) {
	tx.eng.mu.Lock()
	defer tx.eng.mu.Unlock()
	if dbi, ok := tx.eng.index[name]; ok {
		return dbi, nil
	}
	if !tx.write {
		if tx.tx.Bucket([]byte(name)) == nil {
			return 0, dbpkg.ErrNotFound
		}
	} else if _, err := tx.tx.CreateBucketIfNotExists([]byte(name)); err != nil {
		return 0, err
	}
	tx.eng.names = append(tx.eng.names, name)
	dbi := dbpkg.DBI(len(tx.eng.names) - 1)
	tx.eng.index[name] = dbi
	return dbi, nil
}

func (tx *boltTxn) Flags(dbi dbpkg.DBI) (uint, error) {
	if tx.bucket(dbi) == nil {
		return 0, dbpkg.ErrNotFound
	}
	return 0, nil
}

func (tx *boltTxn) Get(dbi dbpkg.DBI, key []byte) ([]byte, error) {
	b := tx.bucket(dbi)
	if b == nil {
		return nil, dbpkg.ErrNotFound
	}
	val := b.Get(key)
	if val == nil {
		return nil, dbpkg.ErrNotFound
	}
	return val, nil
}

func (tx *boltTxn) Put(dbi dbpkg.DBI, key, val []byte, flags dbpkg.PutFlag) error {
	if !tx.write {
		return dbpkg.ErrReadOnly
	}
	b := tx.bucket(dbi)
	if b == nil {
		return dbpkg.ErrNotFound
	}
	if flags&dbpkg.NoOverwrite != 0 && b.Get(key) != nil {
		return dbpkg.ErrKeyExist
	}
	return b.Put(key, val)
}

func (tx *boltTxn) Del(dbi dbpkg.DBI, key, val []byte) error {
	if !tx.write {
		return dbpkg.ErrReadOnly
	}
	b := tx.bucket(dbi)
	if b == nil {
		return dbpkg.ErrNotFound
	}
	if b.Get(key) == nil {
		return dbpkg.ErrNotFound
	}
	return b.Delete(key)
}

func (tx *boltTxn) Commit() error {
	if !tx.write {
		return tx.tx.Rollback()
	}
	return tx.tx.Commit()
}

func (tx *boltTxn) Abort() {
	tx.tx.Rollback()
}
