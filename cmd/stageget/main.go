package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"os"
	"strings"

	"github.com/openmantle/stagekv/db"
	"github.com/openmantle/stagekv/resolver"
	"github.com/openmantle/stagekv/staging"
)

type Output struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// stageget looks hex-encoded keys up in an existing environment and
// writes one JSON object per key to stdout.
func main() {
	storage := flag.String("storage", "", "storage URL (lmdb://, bolt://, badger://, mem:// or a bare path)")
	dbiList := flag.String("dbis", "data", "comma separated sub-database declarations, name or name:dup")
	dbiName := flag.String("dbi", "data", "sub-database to read")

	flag.CommandLine.Parse(os.Args[1:])

	if *storage == "" {
		panic("no -storage given")
	}
	open, path, err := resolver.ResolveOpener(*storage)
	if err != nil {
		panic(err.Error())
	}
	decls, index := parseDBIs(*dbiList)
	env := staging.New(staging.Config{Path: path, DBIs: decls, Open: open})
	if err := env.Init(); err != nil {
		panic(err.Error())
	}
	defer env.Shutdown()

	dbi, ok := index[*dbiName]
	if !ok {
		panic("unknown sub-database " + *dbiName)
	}
	jsonStream := json.NewEncoder(os.Stdout)
	for _, arg := range flag.Args() {
		key, err := hex.DecodeString(arg)
		if err != nil {
			jsonStream.Encode(Output{Key: arg, Error: err.Error()})
			continue
		}
		val, err := env.Get(dbi, key)
		if err != nil {
			jsonStream.Encode(Output{Key: arg, Error: err.Error()})
			continue
		}
		jsonStream.Encode(Output{Key: arg, Value: hex.EncodeToString(val)})
	}
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
