package livedb

// Snapshot is one materialized query result, owned by the engine that
// produced it. A Results holds on to its latest snapshot until the next one
// supersedes it.
type Snapshot interface {
	Version() Version
	Len() int
}

// Source is the engine side of one live query.
type Source interface {
	// Watch arranges for notify to be called, on any goroutine, whenever the
	// query may have changed. Calls may be coalesced.
	Watch(notify func()) (unwatch func())

	// Evaluate materializes the query and diffs it against prev, which is nil
	// for the first evaluation. On error the returned Evaluation still
	// carries the Partial flag.
	Evaluate(prev Snapshot) (Evaluation, error)
}

type Evaluation struct {
	Snapshot Snapshot
	Diff     RawDiff

	Partial          bool
	RemoteDataLoaded bool
}

func snapshotVersion(snap Snapshot) Version {
	if snap == nil {
		return VersionNone
	}
	return snap.Version()
}
