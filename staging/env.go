// Package staging owns the environment lifecycle and the bounded
// operation cache that sits between application code and the engine. An
// Env moves Uninitialized -> Initialized -> Uninitialized; nothing is
// admitted outside the Initialized state.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/VictoriaMetrics/metrics"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/inconshreveable/log15"
	stagekv "github.com/openmantle/stagekv"
	"github.com/openmantle/stagekv/db"
	"github.com/openmantle/stagekv/safety"
)

// Defaults mirror a modest embedded deployment: a quarter-gigabyte map
// that may double up to a gigabyte, and a small staging batch.
const (
	DefaultMapSize    = 256 << 20
	DefaultMaxMapSize = 1 << 30
	DefaultCacheSize  = 8
	readCacheEntries  = 1024
)

var (
	growCounter   = metrics.GetOrCreateCounter("stagekv_map_grow_total")
	admitCounter  = metrics.GetOrCreateCounter("stagekv_admit_total")
	rejectCounter = metrics.GetOrCreateCounter("stagekv_admit_rejected_total")
	flushCounter  = metrics.GetOrCreateCounter("stagekv_flush_total")
	readHitCount  = metrics.GetOrCreateCounter("stagekv_read_cache_hits_total")
)

// Opener opens the engine after the lifecycle has prepared the
// environment directory. The resolver package supplies openers for the
// bundled backends.
type Opener func(path string, mode os.FileMode, maxDBs int, mapSize uint64) (db.Engine, error)

type Config struct {
	// Path is the environment directory. Created if absent, always with
	// group/other permission bits cleared.
	Path string
	// Mode is the permission mode for created files. Only the owner bits
	// are honored.
	Mode os.FileMode
	// DBIs declares the fixed set of sub-databases, opened in order at
	// Init. Indices into this slice address operations.
	DBIs []db.DBIDecl
	// MapSize and MaxMapSize bound the engine map. GrowMap doubles the
	// current size until MaxMapSize.
	MapSize    uint64
	MaxMapSize uint64
	// CacheSize is the operation cache capacity.
	CacheSize int
	// Open supplies the engine backend.
	Open Opener
}

type dbiDesc struct {
	name     string
	typ      db.DBIType
	dbi      db.DBI
	flags    uint
	putFlags db.PutFlag
	dupSort  bool
}

// Env is the owning handle for one environment. It is not internally
// synchronized: single-threaded use, or external mutual exclusion, is
// assumed throughout.
type Env struct {
	cfg  Config
	log  log.Logger
	eng  db.Engine
	dbis []dbiDesc

	initialized bool
	cache       opCache
	reads       *lru.Cache
}

func New(cfg Config) *Env {
	return &Env{
		cfg: cfg,
		log: log.New("module", "staging"),
	}
}

// Init validates the configuration, prepares the environment directory
// with owner-only permissions, opens the engine, and opens every declared
// sub-database in declared order. On any failure the environment is left
// closed with no externally observable partial state. Calling Init on an
// environment that is already initialized fails with
// ErrAlreadyInitialized; it is not a no-op.
func (e *Env) Init() error {
	if e.initialized {
		return stagekv.ErrAlreadyInitialized
	}
	if err := e.validate(); err != nil {
		return err
	}
	cfg := &e.cfg
	if cfg.Mode == 0 {
		cfg.Mode = 0600
	}
	if cfg.MapSize == 0 {
		cfg.MapSize = DefaultMapSize
	}
	if cfg.MaxMapSize == 0 {
		cfg.MaxMapSize = DefaultMaxMapSize
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	if err := prepareDir(cfg.Path, cfg.Mode); err != nil {
		return err
	}
	// One extra slot for the reserved manifest sub-database.
	eng, err := cfg.Open(cfg.Path, cfg.Mode&0600, len(cfg.DBIs)+1, cfg.MapSize)
	if err != nil {
		e.log.Error("engine open failed", "path", cfg.Path, "err", err)
		return err
	}
	e.eng = eng
	if err := e.openDBIs(); err != nil {
		e.eng.Close()
		e.eng = nil
		e.dbis = nil
		return err
	}
	// The engine may have created its data and lock files with looser
	// bits than requested; force them owner-only.
	if err := restrictFiles(cfg.Path, cfg.Mode); err != nil {
		e.eng.Close()
		e.eng = nil
		e.dbis = nil
		return err
	}

	e.cache = newOpCache(cfg.CacheSize)
	e.reads, _ = lru.New(readCacheEntries)
	e.initialized = true
	e.log.Info("environment initialized", "path", cfg.Path, "dbis", len(cfg.DBIs),
		"mapsize", cfg.MapSize, "maxmapsize", cfg.MaxMapSize)
	return nil
}

func (e *Env) validate() error {
	cfg := &e.cfg
	if cfg.Path == "" {
		return fmt.Errorf("%w: empty path", stagekv.ErrInvalidArgument)
	}
	if len(cfg.DBIs) == 0 {
		return fmt.Errorf("%w: no sub-databases declared", stagekv.ErrInvalidArgument)
	}
	if cfg.Open == nil {
		return fmt.Errorf("%w: no engine opener", stagekv.ErrInvalidArgument)
	}
	seen := make(map[string]struct{}, len(cfg.DBIs))
	for _, decl := range cfg.DBIs {
		if decl.Name == "" {
			return fmt.Errorf("%w: empty sub-database name", stagekv.ErrInvalidArgument)
		}
		if _, dup := seen[decl.Name]; dup {
			return fmt.Errorf("%w: duplicate sub-database %q", stagekv.ErrInvalidArgument, decl.Name)
		}
		seen[decl.Name] = struct{}{}
	}
	return nil
}

// openDBIs opens every declared sub-database inside one write
// transaction, caching handles and resolved flags into the descriptor
// table. A commit-time transient replays the whole transaction.
func (e *Env) openDBIs() error {
	txnBudget := safety.RetryTxn
	openBudget := safety.RetryDBIOpen
	flagsBudget := safety.RetryDBIFlags
	for {
		dbis, err := e.tryOpenDBIs(&txnBudget, &openBudget, &flagsBudget)
		if err == nil {
			e.dbis = dbis
			return nil
		}
		if !errors.Is(err, errReplay) {
			return err
		}
		e.log.Warn("replaying dbi open transaction", "budget", txnBudget)
	}
}

// errReplay is an internal marker: the init transaction died to a
// transient and must be replayed from the top.
var errReplay = errors.New("replay init transaction")

func (e *Env) tryOpenDBIs(txnBudget, openBudget, flagsBudget *uint) ([]dbiDesc, error) {
	txn, err := safety.BeginSafe(e.eng, true, txnBudget)
	if err != nil {
		return nil, err
	}
	dbis := make([]dbiDesc, 0, len(e.cfg.DBIs))
	for _, decl := range e.cfg.DBIs {
		dbi, err := safety.OpenDBISafe(txn, decl.Name, decl.Type, openBudget)
		if err != nil {
			txn.Abort()
			return nil, fmt.Errorf("open %q: %w", decl.Name, err)
		}
		flags, err := safety.DBIFlagsSafe(txn, dbi, flagsBudget)
		if err != nil {
			txn.Abort()
			return nil, fmt.Errorf("flags %q: %w", decl.Name, err)
		}
		dbis = append(dbis, describe(decl, dbi, flags))
	}
	if err := e.checkManifest(txn, dbis); err != nil {
		txn.Abort()
		return nil, err
	}
	act, mapped := safety.Check(txn.Commit(), true, txnBudget)
	switch act {
	case safety.OK:
		return dbis, nil
	case safety.Retry:
		return nil, errReplay
	default:
		return nil, mapped
	}
}

func describe(decl db.DBIDecl, dbi db.DBI, flags uint) dbiDesc {
	d := dbiDesc{
		name:    decl.Name,
		typ:     decl.Type,
		dbi:     dbi,
		flags:   flags,
		dupSort: decl.Type == db.DBIDupSort || decl.Type == db.DBIDupFixed,
	}
	if d.dupSort {
		d.putFlags = db.NoDupData
	} else {
		d.putFlags = db.NoOverwrite
	}
	return d
}

// Shutdown closes the environment and returns its final map size in
// bytes. Idempotent: shutting down an environment that was never
// initialized (or is already shut down) is a no-op returning 0. The
// operation cache and read cache are invalidated either way.
func (e *Env) Shutdown() uint64 {
	if !e.initialized {
		return 0
	}
	var size uint64
	if s, err := e.eng.MapSize(); err == nil {
		size = s
	} else {
		e.log.Warn("map size unavailable at shutdown", "err", err)
	}
	if err := e.eng.Close(); err != nil {
		e.log.Warn("engine close failed", "err", err)
	}
	e.eng = nil
	e.dbis = nil
	e.cache.clear()
	if e.reads != nil {
		e.reads.Purge()
		e.reads = nil
	}
	e.initialized = false
	e.log.Info("environment shut down", "mapsize", size)
	return size
}

// GrowMap doubles the current map size, up to the configured maximum.
// Must only be called between transactions.
func (e *Env) GrowMap() error {
	if e.eng == nil {
		return stagekv.ErrNotInitialized
	}
	current, err := e.eng.MapSize()
	if err != nil {
		return fmt.Errorf("%w: %v", stagekv.ErrIO, err)
	}
	if current == 0 {
		current = e.cfg.MapSize
	}
	desired := current * 2
	if desired > e.cfg.MaxMapSize {
		e.log.Error("map size cap reached", "current", current, "max", e.cfg.MaxMapSize)
		return stagekv.ErrOutOfSpace
	}
	if err := e.eng.SetMapSize(desired); err != nil {
		return fmt.Errorf("%w: %v", stagekv.ErrIO, err)
	}
	growCounter.Inc()
	e.log.Info("map grown", "from", current, "to", desired)
	return nil
}

// prepareDir creates the environment directory with only-owner access.
// The explicit Chmod clears group/other bits even when the process umask
// (or a pre-existing directory) would leave them set.
func prepareDir(path string, mode os.FileMode) error {
	dirMode := (mode | 0700) & 0700
	if err := os.MkdirAll(path, dirMode); err != nil {
		return err
	}
	return os.Chmod(path, dirMode)
}

// restrictFiles forces every file in the environment directory (the data
// store and its lock file) to owner-only permissions.
func restrictFiles(path string, mode os.FileMode) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	fileMode := mode & 0600
	if fileMode == 0 {
		fileMode = 0600
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		if err := os.Chmod(filepath.Join(path, ent.Name()), fileMode); err != nil {
			return err
		}
	}
	return nil
}
