package staging

import (
	"errors"

	stagekv "github.com/openmantle/stagekv"
	"github.com/openmantle/stagekv/db"
	"github.com/openmantle/stagekv/safety"
)

// Flush drains the operation cache in admission order inside a single
// engine transaction. A batch of nothing but gets runs read-only and is
// aborted rather than committed. Space exhaustion aborts the transaction,
// grows the map, and replays the whole batch in a fresh transaction,
// bounded by the flush retry budget. Whatever the outcome, the cache is
// cleared: a failed batch is not silently retried on the next call.
func (e *Env) Flush() error {
	if !e.initialized {
		return stagekv.ErrNotInitialized
	}
	if len(e.cache.ops) == 0 {
		return nil
	}
	defer e.cache.clear()
	flushCounter.Inc()

	write := e.cache.write
	budget := safety.RetryFlush
	for {
		err := e.tryFlush(write, &budget)
		if err == nil {
			if write && e.reads != nil {
				e.reads.Purge()
			}
			return nil
		}
		var replay *replayError
		if !errors.As(err, &replay) {
			e.log.Error("flush failed", "ops", len(e.cache.ops), "err", err)
			return err
		}
		if replay.grow {
			if gerr := e.GrowMap(); gerr != nil {
				return gerr
			}
		}
		e.log.Warn("replaying batch", "ops", len(e.cache.ops), "budget", budget)
	}
}

// replayError tells the flush loop to run the batch again in a fresh
// transaction, growing the map first when the transient was space
// exhaustion.
type replayError struct {
	cause error
	grow  bool
}

func (r *replayError) Error() string { return r.cause.Error() }
func (r *replayError) Unwrap() error { return r.cause }

func (e *Env) tryFlush(write bool, budget *uint) error {
	txn, err := safety.BeginSafe(e.eng, write, budget)
	if err != nil {
		return err
	}
	for i := range e.cache.ops {
		op := &e.cache.ops[i]
		act, mapped := safety.Check(e.execOp(txn, op), write, budget)
		switch act {
		case safety.OK:
		case safety.Retry:
			txn.Abort()
			return &replayError{cause: mapped, grow: errors.Is(mapped, stagekv.ErrOutOfSpace)}
		default:
			txn.Abort()
			return mapped
		}
	}
	if !write {
		txn.Abort()
		return nil
	}
	act, mapped := safety.Check(txn.Commit(), true, budget)
	switch act {
	case safety.OK:
		return nil
	case safety.Retry:
		// A failed commit has already torn the transaction down.
		return &replayError{cause: mapped, grow: errors.Is(mapped, stagekv.ErrOutOfSpace)}
	default:
		return mapped
	}
}

func (e *Env) execOp(txn db.Txn, op *stagekv.Operation) error {
	desc := &e.dbis[op.DBI]
	switch op.Kind {
	case stagekv.OpGet:
		val, err := txn.Get(desc.dbi, op.Key.Data)
		if err != nil {
			return err
		}
		if op.Value.IsPresent() {
			copy(op.Value.Data, val)
		}
		return nil
	case stagekv.OpPut:
		return txn.Put(desc.dbi, op.Key.Data, op.Value.Data, desc.putFlags)
	case stagekv.OpDelete:
		var exact []byte
		if desc.dupSort && op.Value.IsPresent() {
			exact = op.Value.Data
		}
		return txn.Del(desc.dbi, op.Key.Data, exact)
	}
	// Admission filters kinds; anything else here is a bug.
	return stagekv.ErrInvalidArgument
}
