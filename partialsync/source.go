package partialsync

import (
	"github.com/andreyvit/livedb"
	"github.com/andreyvit/livedb/store"
)

// source is a partial query: its rows are only meaningful once the
// subscription download has completed. It is bound to one subscription
// record; once that record is removed, even if the same query is subscribed
// again, the source fails for good.
type source struct {
	db   *store.DB
	name string
	id   string
	q    store.Query
}

func (s *source) Watch(notify func()) func() {
	onCommit := func(livedb.Version) { notify() }
	unwatchRows := s.db.Watch(s.q.Table, onCommit)
	unwatchSub := s.db.Watch(subscriptionsTable, onCommit)
	return func() {
		unwatchRows()
		unwatchSub()
	}
}

// Evaluate reads the subscription and the rows in one transaction, so a
// completed download is never observed without its rows.
func (s *source) Evaluate(prev livedb.Snapshot) (livedb.Evaluation, error) {
	eval := livedb.Evaluation{Partial: true}
	err := s.db.Read(func(tx *store.Tx) error {
		sub, err := loadSubscription(tx, s.name)
		if err != nil {
			return err
		}
		if sub == nil || sub.ID != s.id {
			return livedb.QueryErrf(s.q.String(), nil, "subscription %s was removed", s.name)
		}

		switch sub.Status {
		case StatusError:
			return livedb.QueryErrf(s.q.String(), nil, "rejected by server: %s", sub.Error)
		case StatusComplete:
			snap, diff, err := tx.Evaluate(s.q, store.AsSnapshot(prev))
			if err != nil {
				return err
			}
			eval.Snapshot, eval.Diff, eval.RemoteDataLoaded = snap, diff, true
		default:
			eval.Snapshot = store.EmptySnapshot(s.q, tx.Version())
		}
		return nil
	})
	return eval, err
}

func (s *source) String() string {
	return s.name + ": " + s.q.String()
}
