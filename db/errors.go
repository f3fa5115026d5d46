package db

import (
  "errors"
)

// Engine status errors. These are the whole vocabulary the safety layer
// classifies; backends fold their native codes into this set and pass
// anything unrecognized through untouched.
var (
  ErrNotFound = errors.New("mdb: key not found")
  ErrKeyExist = errors.New("mdb: key exists")
  // ErrMapFull means the environment map is exhausted. Recoverable on a
  // write transaction by growing the map and retrying in a fresh txn.
  ErrMapFull = errors.New("mdb: map full")
  // ErrTxnFull means the transaction has too many dirty pages. Recoverable
  // by replaying in a fresh (smaller or post-resize) transaction.
  ErrTxnFull = errors.New("mdb: transaction full")
  // ErrMapResized means another process grew the map; reopening the
  // transaction picks up the new size.
  ErrMapResized = errors.New("mdb: map resized")
  ErrReadersFull = errors.New("mdb: reader table full")
  ErrReadOnly = errors.New("mdb: write on read-only transaction")
)
