package staging

import (
	"fmt"

	stagekv "github.com/openmantle/stagekv"
)

// opCache is the bounded staging area for pending operations. Append-only
// between flushes, FIFO, and never mutated by a rejected admission.
type opCache struct {
	ops   []stagekv.Operation
	limit int
	write bool
}

func newOpCache(limit int) opCache {
	return opCache{ops: make([]stagekv.Operation, 0, limit), limit: limit}
}

func (c *opCache) full() bool {
	return len(c.ops) >= c.limit
}

func (c *opCache) push(op stagekv.Operation) {
	c.ops = append(c.ops, op)
	if op.Kind != stagekv.OpGet {
		c.write = true
	}
}

func (c *opCache) clear() {
	c.ops = c.ops[:0]
	c.write = false
}

// Admit validates one pending operation and appends it to the cache.
// Validation happens here, not at flush: a malformed slot never enters
// the cache. The cache is left untouched by any failed admission, and a
// rejection for a full cache keeps failing identically until a flush
// frees capacity.
func (e *Env) Admit(dbi int, kind stagekv.OpKind, key, value stagekv.Slot) error {
	if !e.initialized {
		rejectCounter.Inc()
		return stagekv.ErrNotInitialized
	}
	if err := e.validateOp(dbi, kind, key, value); err != nil {
		rejectCounter.Inc()
		return err
	}
	if e.cache.full() {
		rejectCounter.Inc()
		e.log.Error("operation cache full", "limit", e.cache.limit)
		return stagekv.ErrCacheFull
	}
	e.cache.push(stagekv.Operation{DBI: dbi, Kind: kind, Key: key, Value: value})
	admitCounter.Inc()
	e.log.Debug("operation admitted", "dbi", dbi, "kind", kind,
		"key", key, "value", value, "pending", len(e.cache.ops))
	return nil
}

// Pending returns the number of staged operations.
func (e *Env) Pending() int {
	return len(e.cache.ops)
}

func (e *Env) validateOp(dbi int, kind stagekv.OpKind, key, value stagekv.Slot) error {
	if kind < stagekv.OpGet {
		return fmt.Errorf("%w: inadmissible operation kind %s", stagekv.ErrInvalidArgument, kind)
	}
	if kind > stagekv.OpDelete {
		return fmt.Errorf("%w: unknown operation kind %s", stagekv.ErrInvalidArgument, kind)
	}
	if dbi < 0 || dbi >= len(e.dbis) {
		return fmt.Errorf("%w: sub-database index %d of %d", stagekv.ErrInvalidArgument, dbi, len(e.dbis))
	}
	if !key.Valid() {
		return fmt.Errorf("%w: key slot %s", stagekv.ErrInvalidArgument, key)
	}
	// A present-but-empty value is always malformed; beyond that only a
	// put requires a value. For a get a present value is the caller's
	// destination buffer, for a delete it selects an exact duplicate.
	if value.IsPresent() && !value.Valid() {
		return fmt.Errorf("%w: value slot %s", stagekv.ErrInvalidArgument, value)
	}
	if kind == stagekv.OpPut && !value.Valid() {
		return fmt.Errorf("%w: put requires a value, got %s", stagekv.ErrInvalidArgument, value)
	}
	return nil
}
