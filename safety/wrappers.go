package safety

import (
	"errors"

	log "github.com/inconshreveable/log15"
	stagekv "github.com/openmantle/stagekv"
	"github.com/openmantle/stagekv/db"
)

// Grower grows the environment map between transactions. Implemented by
// staging.Env; it must never be called while a transaction is open.
type Grower interface {
	GrowMap() error
}

// BeginSafe opens a transaction, retrying transient begin failures (map
// resized by another process, reader table full) within the budget.
func BeginSafe(eng db.Engine, write bool, budget *uint) (db.Txn, error) {
	if budget == nil {
		b := RetryTxn
		budget = &b
	}
	for {
		txn, err := eng.Begin(write)
		act, mapped := Check(err, write, budget)
		switch act {
		case OK:
			return txn, nil
		case Retry:
			log.Warn("begin retrying", "write", write, "budget", *budget, "err", mapped)
		default:
			return nil, mapped
		}
	}
}

// OpenDBISafe opens a named sub-database, retrying within the same
// transaction. The handle is only valid on a nil error.
func OpenDBISafe(txn db.Txn, name string, t db.DBIType, budget *uint) (db.DBI, error) {
	if budget == nil {
		b := RetryDBIOpen
		budget = &b
	}
	for {
		dbi, err := txn.OpenDBI(name, t)
		act, mapped := Check(err, true, budget)
		switch act {
		case OK:
			return dbi, nil
		case Retry:
			log.Warn("dbi open retrying", "name", name, "budget", *budget, "err", mapped)
		default:
			return 0, mapped
		}
	}
}

// DBIFlagsSafe fetches the resolved flag bits for an open sub-database,
// retrying within the same transaction.
func DBIFlagsSafe(txn db.Txn, dbi db.DBI, budget *uint) (uint, error) {
	if budget == nil {
		b := RetryDBIFlags
		budget = &b
	}
	for {
		flags, err := txn.Flags(dbi)
		act, mapped := Check(err, true, budget)
		switch act {
		case OK:
			return flags, nil
		case Retry:
			log.Warn("dbi flags retrying", "dbi", dbi, "budget", *budget, "err", mapped)
		default:
			return 0, mapped
		}
	}
}

// GetSafe looks a key up in an open transaction. A missing key fails with
// ErrNotFound like any other failure; there is no "empty" success, so a
// caller can never mistake absence for data.
func GetSafe(txn db.Txn, dbi db.DBI, key []byte) ([]byte, error) {
	val, err := txn.Get(dbi, key)
	if _, mapped := Check(err, false, nil); mapped != nil {
		return nil, mapped
	}
	return val, nil
}

// PutSafe writes one key in its own write transaction. Each retry runs in
// a fresh transaction: on space exhaustion the previous transaction is
// aborted, the map grown through g, and the put replayed, until the budget
// runs out. The key and value are borrowed from the caller, never copied.
func PutSafe(eng db.Engine, g Grower, dbi db.DBI, key, val []byte, flags db.PutFlag, budget *uint) error {
	if budget == nil {
		b := RetryTxn
		budget = &b
	}
	for {
		txn, err := BeginSafe(eng, true, budget)
		if err != nil {
			return err
		}
		err = txn.Put(dbi, key, val, flags)
		if err == nil {
			err = txn.Commit()
		} else {
			txn.Abort()
		}
		act, mapped := Check(err, true, budget)
		switch act {
		case OK:
			return nil
		case Retry:
			// The failed transaction is already gone; grow before the
			// replay if we ran out of room.
			if errors.Is(mapped, stagekv.ErrOutOfSpace) {
				if gerr := g.GrowMap(); gerr != nil {
					return gerr
				}
			}
			log.Warn("put retrying", "dbi", dbi, "budget", *budget, "err", mapped)
		default:
			return mapped
		}
	}
}
