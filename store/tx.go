package store

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/livedb"
)

type Tx struct {
	db      *DB
	stx     storageTx
	touched map[string]bool
}

func (db *DB) newTx(stx storageTx) *Tx {
	return &Tx{db: db, stx: stx}
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) IsWritable() bool {
	return tx.stx.Writable()
}

// Version is the version of the data this transaction reads.
func (tx *Tx) Version() livedb.Version {
	meta := tx.stx.Bucket(metaBucket)
	if meta == nil {
		return livedb.VersionNone
	}
	return must(decodeVersion(meta.Get(versionKey)))
}

func (tx *Tx) markTouched(table string) {
	if tx.touched == nil {
		tx.touched = make(map[string]bool)
	}
	tx.touched[table] = true
}

// Put stores row under key, encoded with msgpack. Storing data identical to
// what is already there is a no-op and does not count as a change.
func (tx *Tx) Put(table, key string, row any) error {
	if table == "" || key == "" {
		return rowErrf(table, key, nil, "empty table name or key")
	}
	if strings.HasPrefix(table, "_") && !strings.HasPrefix(table, systemTablePrefix) {
		return rowErrf(table, key, nil, "table names starting with _ are reserved")
	}
	data, err := msgpack.Marshal(row)
	if err != nil {
		return rowErrf(table, key, err, "encoding")
	}

	b, err := tx.stx.CreateBucket(tableBucket(table))
	if err != nil {
		return rowErrf(table, key, err, "creating table")
	}

	keyRaw := []byte(key)
	var old value
	oldRaw := b.Get(keyRaw)
	if oldRaw != nil {
		if err := old.decode(oldRaw); err != nil {
			return rowErrf(table, key, err, "decoding old value")
		}
		if bytes.Equal(old.Data, data) {
			if tx.db.verbose {
				tx.db.logger.Debug().Str("table", table).Str("key", key).Msg("store: PUT.NOOP")
			}
			return nil
		}
	}

	// Write holds the write lock, so this is the version the commit will get.
	stamp := uint64(tx.db.Version() + 1)
	if err := b.Put(keyRaw, appendValue(nil, stamp, data)); err != nil {
		return rowErrf(table, key, err, "put")
	}
	tx.markTouched(table)
	if tx.db.verbose {
		tx.db.logger.Debug().Str("table", table).Str("key", key).Uint64("stamp", stamp).Msg("store: PUT")
	}
	return nil
}

// Delete removes a row and reports whether it existed.
func (tx *Tx) Delete(table, key string) (bool, error) {
	b := tx.stx.Bucket(tableBucket(table))
	if b == nil {
		return false, nil
	}
	keyRaw := []byte(key)
	if b.Get(keyRaw) == nil {
		return false, nil
	}
	if err := b.Delete(keyRaw); err != nil {
		return false, rowErrf(table, key, err, "delete")
	}
	tx.markTouched(table)
	if tx.db.verbose {
		tx.db.logger.Debug().Str("table", table).Str("key", key).Msg("store: DELETE")
	}
	return true, nil
}

// Get decodes the row stored under key into out and reports whether it exists.
func (tx *Tx) Get(table, key string, out any) (bool, error) {
	b := tx.stx.Bucket(tableBucket(table))
	if b == nil {
		return false, nil
	}
	raw := b.Get([]byte(key))
	if raw == nil {
		return false, nil
	}
	var vle value
	if err := vle.decode(raw); err != nil {
		return false, rowErrf(table, key, err, "decoding")
	}
	if err := msgpack.Unmarshal(vle.Data, out); err != nil {
		return false, rowErrf(table, key, err, "decoding")
	}
	return true, nil
}

// Keys lists the keys of a table in key order.
func (tx *Tx) Keys(table string) []string {
	b := tx.stx.Bucket(tableBucket(table))
	if b == nil {
		return nil
	}
	keys := make([]string, 0, b.KeyCount())
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, string(k))
	}
	return keys
}

func (tx *Tx) Count(table string) int {
	b := tx.stx.Bucket(tableBucket(table))
	if b == nil {
		return 0
	}
	return b.KeyCount()
}

// Tables lists the tables that have ever been written to.
func (tx *Tx) Tables() []string {
	var result []string
	for _, name := range tx.stx.BucketNames() {
		if tbl, ok := strings.CutPrefix(name, tablePrefix); ok {
			result = append(result, tbl)
		}
	}
	return result
}

// DropTable deletes a table with all its rows.
func (tx *Tx) DropTable(table string) error {
	err := tx.stx.DeleteBucket(tableBucket(table))
	if err == ErrBucketNotFound {
		return nil
	} else if err != nil {
		return fmt.Errorf("store: dropping %s: %w", table, err)
	}
	tx.markTouched(table)
	return nil
}
