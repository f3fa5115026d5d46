package lmdb

import (
	"os"
	"runtime"

	lmdb "github.com/bmatsuo/lmdb-go/lmdb"
	dbpkg "github.com/openmantle/stagekv/db"
)

// Engine wraps an LMDB environment. The canonical backend: the db package's
// error vocabulary and resize semantics are LMDB's own.
type Engine struct {
	env *lmdb.Env
}

// Open creates the environment at path with the given file mode. The
// directory must already exist; the staging layer owns directory creation
// and permission policy.
func Open(path string, mode os.FileMode, maxDBs int, mapSize uint64) (*Engine, error) {
	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, err
	}
	if err := env.SetMaxDBs(maxDBs); err != nil {
		env.Close()
		return nil, err
	}
	if err := env.SetMapSize(int64(mapSize)); err != nil {
		env.Close()
		return nil, err
	}
	if err := env.Open(path, 0, mode); err != nil {
		env.Close()
		return nil, err
	}
	return &Engine{env: env}, nil
}

func (e *Engine) SetMapSize(n uint64) error {
	return mapErr(e.env.SetMapSize(int64(n)))
}

func (e *Engine) MapSize() (uint64, error) {
	info, err := e.env.Info()
	if err != nil {
		return 0, mapErr(err)
	}
	return uint64(info.MapSize), nil
}

func (e *Engine) Close() error {
	return e.env.Close()
}

func (e *Engine) Begin(write bool) (dbpkg.Txn, error) {
	flags := uint(lmdb.Readonly)
	if write {
		flags = 0
		// LMDB write transactions are bound to their OS thread.
		runtime.LockOSThread()
	}
	txn, err := e.env.BeginTxn(nil, flags)
	if err != nil {
		if write {
			runtime.UnlockOSThread()
		}
		return nil, mapErr(err)
	}
	txn.RawRead = true
	return &lmdbTxn{txn: txn, write: write}, nil
}

type lmdbTxn struct {
	txn   *lmdb.Txn
	write bool
	done  bool
}

func (tx *lmdbTxn) release() {
	if tx.write && !tx.done {
		runtime.UnlockOSThread()
	}
	tx.done = true
}

func (tx *lmdbTxn) OpenDBI(name string, t dbpkg.DBIType) (dbpkg.DBI, error) {
	flags := uint(0)
	if tx.write {
		flags |= lmdb.Create
	}
	switch t {
	case dbpkg.DBIDupSort:
		flags |= lmdb.DupSort
	case dbpkg.DBIDupFixed:
		flags |= lmdb.DupSort | lmdb.DupFixed
	}
	dbi, err := tx.txn.OpenDBI(name, flags)
	if err != nil {
		return 0, mapErr(err)
	}
	return dbpkg.DBI(dbi), nil
}

func (tx *lmdbTxn) Flags(dbi dbpkg.DBI) (uint, error) {
	flags, err := tx.txn.Flags(lmdb.DBI(dbi))
	if err != nil {
		return 0, mapErr(err)
	}
	return flags, nil
}

func (tx *lmdbTxn) Get(dbi dbpkg.DBI, key []byte) ([]byte, error) {
	val, err := tx.txn.Get(lmdb.DBI(dbi), key)
	if err != nil {
		return nil, mapErr(err)
	}
	return val, nil
}

func (tx *lmdbTxn) Put(dbi dbpkg.DBI, key, val []byte, flags dbpkg.PutFlag) error {
	var mdbFlags uint
	if flags&dbpkg.NoOverwrite != 0 {
		mdbFlags |= lmdb.NoOverwrite
	}
	if flags&dbpkg.NoDupData != 0 {
		mdbFlags |= lmdb.NoDupData
	}
	return mapErr(tx.txn.Put(lmdb.DBI(dbi), key, val, mdbFlags))
}

func (tx *lmdbTxn) Del(dbi dbpkg.DBI, key, val []byte) error {
	return mapErr(tx.txn.Del(lmdb.DBI(dbi), key, val))
}

func (tx *lmdbTxn) Commit() error {
	err := tx.txn.Commit()
	tx.release()
	return mapErr(err)
}

func (tx *lmdbTxn) Abort() {
	if tx.done {
		return
	}
	tx.txn.Abort()
	tx.release()
}

// mapErr folds LMDB status codes into the db package's sentinel set.
// Unrecognized errors pass through for the classifier to treat as fatal.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case lmdb.IsNotFound(err):
		return dbpkg.ErrNotFound
	case lmdb.IsErrno(err, lmdb.KeyExist):
		return dbpkg.ErrKeyExist
	case lmdb.IsMapFull(err):
		return dbpkg.ErrMapFull
	case lmdb.IsErrno(err, lmdb.TxnFull):
		return dbpkg.ErrTxnFull
	case lmdb.IsMapResized(err):
		return dbpkg.ErrMapResized
	case lmdb.IsErrno(err, lmdb.ReadersFull):
		return dbpkg.ErrReadersFull
	}
	return err
}
