package stagekv

import (
  "errors"
)

var (
  // ErrNotFound is returned when a key is absent. Absence is terminal: the
  // safety layer never retries a lookup that the engine answered.
  ErrNotFound = errors.New("no such entry")
  // ErrKeyExist is returned for a put that violates a unique-key constraint.
  ErrKeyExist = errors.New("key already exists")
  // ErrNotInitialized is returned for any staged operation attempted before
  // a successful Init or after Shutdown.
  ErrNotInitialized = errors.New("environment not initialized")
  // ErrAlreadyInitialized is returned by Init on an environment that is
  // already open.
  ErrAlreadyInitialized = errors.New("environment already initialized")
  ErrInvalidArgument = errors.New("invalid argument")
  // ErrCacheFull is returned when the operation cache is at capacity. The
  // rejected admission leaves the cache unchanged.
  ErrCacheFull = errors.New("operation cache full")
  // ErrOutOfSpace is returned once the map-growth budget is exhausted or the
  // map size cap has been reached.
  ErrOutOfSpace = errors.New("out of space")
  // ErrBusy is returned when a transient engine condition (map resized by
  // another process, reader table full) outlives its retry budget.
  ErrBusy = errors.New("engine busy")
  // ErrIO covers any unclassified engine failure.
  ErrIO = errors.New("i/o failure")
)
