package staging

import (
	"fmt"

	stagekv "github.com/openmantle/stagekv"
	"github.com/openmantle/stagekv/safety"
)

// One-shot helpers. Each runs in its own transaction through the safe
// wrappers, bypassing the operation cache. They exist for callers with a
// single operation in hand; anything batched belongs in Admit/Flush.

// Put writes one key/value pair, honoring the sub-database's default put
// flags (no-overwrite for unique keys, no-dup-data for duplicate sets).
// Space exhaustion is absorbed by growing the map and retrying in a fresh
// transaction until the transaction budget runs out.
func (e *Env) Put(dbi int, key, val []byte) error {
	if !e.initialized {
		return stagekv.ErrNotInitialized
	}
	if err := e.validateOp(dbi, stagekv.OpPut, stagekv.Present(key), stagekv.Present(val)); err != nil {
		return err
	}
	desc := &e.dbis[dbi]
	if err := safety.PutSafe(e.eng, e, desc.dbi, key, val, desc.putFlags, nil); err != nil {
		return err
	}
	if e.reads != nil {
		e.reads.Remove(readKey(dbi, key))
	}
	return nil
}

// Get returns a copy of the value stored for key. The copy outlives the
// transaction and is safe to retain. A missing key is a failure
// (ErrNotFound), never an empty success. Results are served from a small
// read cache that every write path invalidates.
func (e *Env) Get(dbi int, key []byte) ([]byte, error) {
	if !e.initialized {
		return nil, stagekv.ErrNotInitialized
	}
	if err := e.validateOp(dbi, stagekv.OpGet, stagekv.Present(key), stagekv.Absent); err != nil {
		return nil, err
	}
	ck := readKey(dbi, key)
	if e.reads != nil {
		if cached, ok := e.reads.Get(ck); ok {
			readHitCount.Inc()
			return cached.([]byte), nil
		}
	}
	txn, err := safety.BeginSafe(e.eng, false, nil)
	if err != nil {
		return nil, err
	}
	defer txn.Abort()
	val, err := safety.GetSafe(txn, e.dbis[dbi].dbi, key)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), val...)
	if e.reads != nil {
		e.reads.Add(ck, out)
	}
	return out, nil
}

// Delete removes key from the sub-database; for duplicate-key
// sub-databases a non-nil val removes only the exact pair. Deleting an
// absent key fails with ErrNotFound.
func (e *Env) Delete(dbi int, key, val []byte) error {
	if !e.initialized {
		return stagekv.ErrNotInitialized
	}
	slot := stagekv.Absent
	if val != nil {
		slot = stagekv.Present(val)
	}
	if err := e.validateOp(dbi, stagekv.OpDelete, stagekv.Present(key), slot); err != nil {
		return err
	}
	desc := &e.dbis[dbi]
	budget := safety.RetryTxn
	for {
		txn, err := safety.BeginSafe(e.eng, true, &budget)
		if err != nil {
			return err
		}
		var exact []byte
		if desc.dupSort {
			exact = val
		}
		err = txn.Del(desc.dbi, key, exact)
		if err == nil {
			err = txn.Commit()
		} else {
			txn.Abort()
		}
		act, mapped := safety.Check(err, true, &budget)
		switch act {
		case safety.OK:
			if e.reads != nil {
				e.reads.Remove(readKey(dbi, key))
			}
			return nil
		case safety.Retry:
			e.log.Warn("delete retrying", "dbi", dbi, "budget", budget, "err", mapped)
		default:
			return mapped
		}
	}
}

func readKey(dbi int, key []byte) string {
	return fmt.Sprintf("%d\x00%s", dbi, key)
}
