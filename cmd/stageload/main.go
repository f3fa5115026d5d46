package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"flag"
	"os"
	"strings"

	log "github.com/inconshreveable/log15"
	stagekv "github.com/openmantle/stagekv"
	"github.com/openmantle/stagekv/db"
	"github.com/openmantle/stagekv/resolver"
	"github.com/openmantle/stagekv/staging"
)

// Record is one line of input. Keys and values are hex encoded so binary
// data survives the JSON framing. An absent value turns a put into a
// delete.
type Record struct {
	DBI   string `json:"dbi"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

func main() {
	storage := flag.String("storage", "", "storage URL (lmdb://, bolt://, badger://, mem:// or a bare path)")
	dbiList := flag.String("dbis", "data", "comma separated sub-database declarations, name or name:dup")
	batch := flag.Int("batch", staging.DefaultCacheSize, "operations staged per flush")
	mapSize := flag.Uint64("mapsize", 0, "initial map size in bytes (0 = default)")

	flag.CommandLine.Parse(os.Args[1:])

	if *storage == "" {
		log.Crit("no -storage given")
		os.Exit(1)
	}
	open, path, err := resolver.ResolveOpener(*storage)
	if err != nil {
		panic(err.Error())
	}
	decls, index := parseDBIs(*dbiList)
	env := staging.New(staging.Config{
		Path:      path,
		DBIs:      decls,
		MapSize:   *mapSize,
		CacheSize: *batch,
		Open:      open,
	})
	if err := env.Init(); err != nil {
		panic(err.Error())
	}
	defer env.Shutdown()

	reader := bufio.NewReader(os.Stdin)
	record := []byte{}
	counter := 0
	for {
		line, isPrefix, err := reader.ReadLine()
		if err != nil {
			break
		}
		record = append(record, line...)
		if isPrefix {
			continue
		}
		r := Record{}
		if err := json.Unmarshal(record, &r); err != nil {
			panic(err.Error())
		}
		record = []byte{}
		dbi, ok := index[r.DBI]
		if !ok {
			log.Crit("unknown sub-database", "name", r.DBI)
			os.Exit(1)
		}
		key, err := hex.DecodeString(r.Key)
		if err != nil {
			panic(err.Error())
		}
		kind := stagekv.OpDelete
		value := stagekv.Absent
		if r.Value != "" {
			val, err := hex.DecodeString(r.Value)
			if err != nil {
				panic(err.Error())
			}
			kind = stagekv.OpPut
			value = stagekv.Present(val)
		}
		if err := env.Admit(dbi, kind, stagekv.Present(key), value); err == stagekv.ErrCacheFull {
			if err := env.Flush(); err != nil {
				panic(err.Error())
			}
			err = env.Admit(dbi, kind, stagekv.Present(key), value)
			if err != nil {
				panic(err.Error())
			}
		} else if err != nil {
			panic(err.Error())
		}
		counter++
		if counter%100000 == 0 {
			log.Info("Lines", "count", counter)
		}
	}
	if err := env.Flush(); err != nil {
		panic(err.Error())
	}
	log.Info("Load complete", "records", counter)
}

func parseDBIs(list string) ([]db.DBIDecl, map[string]int) {
	var decls []db.DBIDecl
	index := make(map[string]int)
	for _, item := range strings.Split(list, ",") {
		name := item
		typ := db.DBIDefault
		if i := strings.Index(item, ":"); i >= 0 {
			name = item[:i]
			if item[i+1:] == "dup" {
				typ = db.DBIDupSort
			}
		}
		index[name] = len(decls)
		decls = append(decls, db.DBIDecl{Name: name, Type: typ})
	}
	return decls, index
}
