package staging

import (
	"fmt"

	"github.com/hamba/avro"
	stagekv "github.com/openmantle/stagekv"
	"github.com/openmantle/stagekv/db"
	"github.com/openmantle/stagekv/safety"
)

// The manifest records the declared sub-database layout in a reserved
// sub-database. Re-initializing an existing environment with a different
// declaration order, name set, or type set would silently re-bind indices
// to the wrong data, so Init verifies the stored manifest and fails on
// any mismatch.

const manifestDBIName = "__stagekv"

var manifestKey = []byte("manifest")

var manifestSchema = avro.MustParse(`{
	"type": "record",
	"name": "manifest",
	"namespace": "io.openmantle.stagekv",
	"fields": [
		{"name": "version", "type": "int"},
		{"name": "dbis", "type": {
			"type": "array",
			"items": {
				"name": "dbi",
				"type": "record",
				"fields": [
					{"name": "name", "type": "string"},
					{"name": "type", "type": "int"}
				]
			}
		}}
	]
}`)

const manifestVersion = 1

type manifestDBI struct {
	Name string `avro:"name"`
	Type int    `avro:"type"`
}

type manifest struct {
	Version int           `avro:"version"`
	DBIs    []manifestDBI `avro:"dbis"`
}

func (e *Env) checkManifest(txn db.Txn, dbis []dbiDesc) error {
	want := manifest{Version: manifestVersion}
	for _, d := range dbis {
		want.DBIs = append(want.DBIs, manifestDBI{Name: d.name, Type: int(d.typ)})
	}
	mdbi, err := safety.OpenDBISafe(txn, manifestDBIName, db.DBIDefault, nil)
	if err != nil {
		return err
	}
	raw, err := safety.GetSafe(txn, mdbi, manifestKey)
	switch {
	case err == nil:
		var have manifest
		if err := avro.Unmarshal(manifestSchema, raw, &have); err != nil {
			return fmt.Errorf("%w: corrupt manifest: %v", stagekv.ErrIO, err)
		}
		if err := want.matches(have); err != nil {
			return err
		}
		return nil
	case err == stagekv.ErrNotFound:
		raw, err := avro.Marshal(manifestSchema, want)
		if err != nil {
			return fmt.Errorf("%w: encode manifest: %v", stagekv.ErrIO, err)
		}
		return txn.Put(mdbi, manifestKey, raw, 0)
	default:
		return err
	}
}

func (m manifest) matches(have manifest) error {
	if have.Version != m.Version {
		return fmt.Errorf("%w: manifest version %d, want %d",
			stagekv.ErrInvalidArgument, have.Version, m.Version)
	}
	if len(have.DBIs) != len(m.DBIs) {
		return fmt.Errorf("%w: environment declares %d sub-databases, config declares %d",
			stagekv.ErrInvalidArgument, len(have.DBIs), len(m.DBIs))
	}
	for i, d := range m.DBIs {
		if have.DBIs[i] != d {
			return fmt.Errorf("%w: sub-database %d is %s(%d), config declares %s(%d)",
				stagekv.ErrInvalidArgument, i, have.DBIs[i].Name, have.DBIs[i].Type, d.Name, d.Type)
		}
	}
	return nil
}
