package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	stagekv "github.com/openmantle/stagekv"
	dbpkg "github.com/openmantle/stagekv/db"
	"github.com/openmantle/stagekv/db/badgerdb"
	"github.com/openmantle/stagekv/db/boltdb"
	"github.com/openmantle/stagekv/db/lmdb"
	"github.com/openmantle/stagekv/db/mem"
	"github.com/openmantle/stagekv/staging"
)

// ResolveOpener maps a storage URL onto an engine opener and the cleaned
// environment path. Recognized schemes are lmdb://, bolt://, badger://
// and mem://; a bare path behaves like lmdb://path. The opener is handed
// to staging.Config, which prepares the directory before calling it.
func ResolveOpener(path string) (staging.Opener, string, error) {
	scheme := "lmdb"
	if i := strings.Index(path, "://"); i >= 0 {
		scheme = path[:i]
		path = path[i+3:]
	}
	switch scheme {
	case "lmdb":
		return openLMDB, path, nil
	case "bolt":
		return openBolt, path, nil
	case "badger":
		return openBadger, path, nil
	case "mem":
		return openMem, path, nil
	}
	return nil, "", fmt.Errorf("%w: unknown storage scheme %q", stagekv.ErrInvalidArgument, scheme)
}

func openLMDB(path string, mode os.FileMode, maxDBs int, mapSize uint64) (dbpkg.Engine, error) {
	return lmdb.Open(path, mode, maxDBs, mapSize)
}

// Bolt stores everything in a single file, so the engine lives in a file
// inside the prepared environment directory.
func openBolt(path string, mode os.FileMode, maxDBs int, mapSize uint64) (dbpkg.Engine, error) {
	return boltdb.Open(filepath.Join(path, "stage.db"), mode, nil)
}

func openBadger(path string, mode os.FileMode, maxDBs int, mapSize uint64) (dbpkg.Engine, error) {
	return badgerdb.New(path)
}

func openMem(path string, mode os.FileMode, maxDBs int, mapSize uint64) (dbpkg.Engine, error) {
	return mem.New(mapSize), nil
}
