package store

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/andreyvit/livedb"
)

const (
	metaBucket  = "meta"
	tablePrefix = "t:"
)

var versionKey = []byte("version")

// AnyTable subscribes a watcher to commits touching any table.
const AnyTable = ""

// MemoryPath opens a transient in-memory database.
const MemoryPath = ":memory:"

type DB struct {
	st      storage
	logger  zerolog.Logger
	verbose bool

	version atomic.Int64

	// writeLock serializes writers, so watchers see commits in version order
	writeLock sync.Mutex

	watchLock   sync.Mutex
	watchers    map[string][]*watcher
	lastWatchID uint64

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

type Options struct {
	Logger    *zerolog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int
}

type watcher struct {
	id uint64
	fn func(ver livedb.Version)
}

// Open opens a Bolt database at path, or an in-memory one if path is empty
// or MemoryPath.
func Open(path string, opt Options) (*DB, error) {
	var st storage
	if path == "" || path == MemoryPath {
		st = newMemStorage()
	} else {
		var err error
		st, err = openBoltStorage(path, opt)
		if err != nil {
			return nil, err
		}
	}

	db := &DB{
		st:       st,
		verbose:  opt.Verbose,
		watchers: make(map[string][]*watcher),
	}
	if opt.Logger != nil {
		db.logger = *opt.Logger
	} else {
		db.logger = zerolog.Nop()
	}

	stx, err := st.BeginTx(true)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	defer stx.Rollback()
	meta, err := stx.CreateBucket(metaBucket)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("store: creating meta: %w", err)
	}
	ver, err := decodeVersion(meta.Get(versionKey))
	if err != nil {
		st.Close()
		return nil, err
	}
	if err := stx.Commit(); err != nil {
		st.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	db.version.Store(int64(ver))
	return db, nil
}

func (db *DB) Close() {
	err := db.st.Close()
	if err != nil {
		panic(fmt.Errorf("store: closing: %w", err))
	}
}

// Version is the version of the last committed write.
func (db *DB) Version() livedb.Version {
	return livedb.Version(db.version.Load())
}

func (db *DB) Read(f func(tx *Tx) error) error {
	stx, err := db.st.BeginTx(false)
	if err != nil {
		return fmt.Errorf("store: begin read: %w", err)
	}
	defer stx.Rollback()
	db.ReadCount.Add(1)
	return f(db.newTx(stx))
}

// Write runs f in a writable transaction and commits it unless f fails.
// A commit that changed anything gets the next version, and watchers of the
// touched tables are notified on the calling goroutine before Write returns.
// Watchers must not start another Write synchronously.
func (db *DB) Write(f func(tx *Tx) error) error {
	db.writeLock.Lock()
	defer db.writeLock.Unlock()

	stx, err := db.st.BeginTx(true)
	if err != nil {
		return fmt.Errorf("store: begin write: %w", err)
	}
	defer stx.Rollback()
	tx := db.newTx(stx)
	if err := f(tx); err != nil {
		return err
	}
	if len(tx.touched) == 0 {
		return nil
	}

	ver := db.Version() + 1
	meta := stx.Bucket(metaBucket)
	ensure(meta.Put(versionKey, binary.AppendUvarint(nil, uint64(ver))))
	if err := stx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	db.version.Store(int64(ver))
	db.WriteCount.Add(1)

	tables := make([]string, 0, len(tx.touched))
	for tbl := range tx.touched {
		tables = append(tables, tbl)
	}
	slices.Sort(tables)
	if db.verbose {
		db.logger.Debug().Int64("version", int64(ver)).Strs("tables", tables).Msg("store: COMMIT")
	}
	db.notify(tables, ver)
	return nil
}

// Watch calls fn after every commit touching table (or any table, for
// AnyTable). fn runs on the committing goroutine.
func (db *DB) Watch(table string, fn func(ver livedb.Version)) (unwatch func()) {
	db.watchLock.Lock()
	defer db.watchLock.Unlock()
	db.lastWatchID++
	w := &watcher{id: db.lastWatchID, fn: fn}
	db.watchers[table] = append(slices.Clip(db.watchers[table]), w)

	var once sync.Once
	return func() {
		once.Do(func() {
			db.watchLock.Lock()
			defer db.watchLock.Unlock()
			db.watchers[table] = slices.DeleteFunc(slices.Clone(db.watchers[table]), func(x *watcher) bool {
				return x == w
			})
			if len(db.watchers[table]) == 0 {
				delete(db.watchers, table)
			}
		})
	}
}

func (db *DB) notify(tables []string, ver livedb.Version) {
	db.watchLock.Lock()
	var targets []*watcher
	seen := make(map[uint64]bool)
	for _, tbl := range append(tables, AnyTable) {
		for _, w := range db.watchers[tbl] {
			if !seen[w.id] {
				seen[w.id] = true
				targets = append(targets, w)
			}
		}
	}
	db.watchLock.Unlock()

	slices.SortFunc(targets, func(a, b *watcher) int {
		return cmp.Compare(a.id, b.id)
	})
	for _, w := range targets {
		w.fn(ver)
	}
}

func decodeVersion(raw []byte) (livedb.Version, error) {
	if raw == nil {
		return livedb.VersionNone, nil
	}
	v, n := binary.Uvarint(raw)
	if n <= 0 || n != len(raw) {
		return 0, dataErrf(raw, 0, nil, "invalid version")
	}
	return livedb.Version(v), nil
}

func tableBucket(table string) string {
	return tablePrefix + table
}
