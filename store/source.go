package store

import (
	"fmt"

	"github.com/andreyvit/livedb"
)

// Source returns q as a full (non-partial) live query source: its data is
// always locally authoritative, so remote data counts as loaded.
func (db *DB) Source(q Query) livedb.Source {
	return &source{db: db, q: q}
}

type source struct {
	db *DB
	q  Query
}

func (s *source) Watch(notify func()) func() {
	return s.db.Watch(s.q.Table, func(livedb.Version) {
		notify()
	})
}

func (s *source) Evaluate(prev livedb.Snapshot) (livedb.Evaluation, error) {
	var eval livedb.Evaluation
	err := s.db.Read(func(tx *Tx) error {
		snap, diff, err := tx.Evaluate(s.q, AsSnapshot(prev))
		if err != nil {
			return err
		}
		eval = livedb.Evaluation{
			Snapshot:         snap,
			Diff:             diff,
			RemoteDataLoaded: true,
		}
		return nil
	})
	return eval, err
}

func (s *source) String() string {
	return s.q.String()
}

// AsSnapshot unwraps a snapshot produced by this package.
func AsSnapshot(snap livedb.Snapshot) *Snapshot {
	if snap == nil {
		return nil
	}
	s, ok := snap.(*Snapshot)
	if !ok {
		panic(fmt.Errorf("store: foreign snapshot %T", snap))
	}
	return s
}
