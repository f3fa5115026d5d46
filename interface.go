package stagekv

import (
  "fmt"
)

// Slot is one side (key or value) of a staged operation. A slot either
// carries bytes or it does not; a present slot with nil or empty bytes is a
// caller bug and is rejected at admission time, not at flush.
type Slot struct {
  Data    []byte
  present bool
}

// Present wraps caller bytes in a slot. The bytes are not copied; they must
// stay alive until the operation is flushed.
func Present(b []byte) Slot {
  return Slot{Data: b, present: true}
}

// Absent is the empty slot.
var Absent = Slot{}

func (s Slot) IsPresent() bool {
  return s.present
}

// Valid reports whether a present slot actually carries bytes.
func (s Slot) Valid() bool {
  return s.present && len(s.Data) > 0
}

func (s Slot) String() string {
  if !s.present {
    return "absent"
  }
  return fmt.Sprintf("%d bytes", len(s.Data))
}

// OpKind identifies a staged operation. The ordering matters: only kinds at
// or above OpGet may be admitted to the cache.
type OpKind int

const (
  OpNone OpKind = iota
  OpGet
  OpPut
  OpDelete
)

func (k OpKind) String() string {
  switch k {
  case OpNone:
    return "none"
  case OpGet:
    return "get"
  case OpPut:
    return "put"
  case OpDelete:
    return "delete"
  default:
    return fmt.Sprintf("opkind(%d)", int(k))
  }
}

// Operation is a validated entry in the operation cache. DBI is an index
// into the environment's descriptor table; it is resolved to an engine
// handle at flush time. For a get, a present value slot is a caller
// destination buffer that flush fills up to its length.
type Operation struct {
  DBI   int
  Kind  OpKind
  Key   Slot
  Value Slot
}
