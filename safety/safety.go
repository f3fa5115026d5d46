// Package safety centralizes the policy for raw engine status codes: one
// classifier turns every non-nil engine error into a succeed / retry /
// fail decision with a bounded retry budget, and a small set of wrappers
// drive the engine primitives through it so call sites never repeat the
// status switch.
package safety

import (
	"errors"
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	stagekv "github.com/openmantle/stagekv"
	"github.com/openmantle/stagekv/db"
)

// Action is the classifier's decision.
type Action int

const (
	OK Action = iota
	// Retry means the caller must abort the current transaction, grow the
	// map if the mapped error is ErrOutOfSpace, and replay in a fresh
	// transaction. The budget has already been decremented.
	Retry
	Fail
)

func (a Action) String() string {
	switch a {
	case OK:
		return "ok"
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	}
	return "unknown"
}

// Default per-operation retry budgets.
const (
	RetryTxn      uint = 2
	RetryDBIOpen  uint = 3
	RetryDBIFlags uint = 3
	RetryFlush    uint = 3
)

var (
	retryCounter = metrics.GetOrCreateCounter("stagekv_engine_retries_total")
	failCounter  = metrics.GetOrCreateCounter("stagekv_engine_failures_total")
)

// Check classifies an engine status. write reports whether the failed
// operation ran under a write transaction; read transactions cannot resize,
// so space exhaustion is terminal for them. budget may be nil, which
// forbids retries outright. Check mutates *budget only on a Retry decision
// and touches nothing else.
func Check(err error, write bool, budget *uint) (Action, error) {
	if err == nil {
		return OK, nil
	}
	switch {
	case errors.Is(err, db.ErrNotFound):
		// Absence is not transient; never retried.
		return Fail, stagekv.ErrNotFound
	case errors.Is(err, db.ErrKeyExist):
		return Fail, stagekv.ErrKeyExist
	case errors.Is(err, db.ErrMapFull), errors.Is(err, db.ErrTxnFull):
		if !write {
			failCounter.Inc()
			return Fail, stagekv.ErrOutOfSpace
		}
		return spend(budget, stagekv.ErrOutOfSpace)
	case errors.Is(err, db.ErrMapResized), errors.Is(err, db.ErrReadersFull):
		// Transient on any transaction kind; no resize needed.
		return spend(budget, stagekv.ErrBusy)
	}
	failCounter.Inc()
	return Fail, fmt.Errorf("%w: %v", stagekv.ErrIO, err)
}

func spend(budget *uint, mapped error) (Action, error) {
	if budget == nil || *budget == 0 {
		failCounter.Inc()
		return Fail, mapped
	}
	*budget--
	retryCounter.Inc()
	return Retry, mapped
}
