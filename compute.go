package livedb

import (
	"errors"
	"fmt"
	"slices"
)

// RawDiff is the difference between two snapshots as reported by the engine.
// Deletions are positions in the old snapshot; insertions and modifications
// are positions in the new one. Each slice must be sorted and duplicate-free.
type RawDiff struct {
	Deletions     []int
	Insertions    []int
	Modifications []int
}

func (d RawDiff) IsEmpty() bool {
	return len(d.Deletions) == 0 && len(d.Insertions) == 0 && len(d.Modifications) == 0
}

// Notification is one engine evaluation of a query, ready to be turned into
// a ChangeSet.
type Notification struct {
	OldVersion Version
	NewVersion Version

	Diff RawDiff
	Err  error

	// Partial is set for queries backed by a server-side subscription.
	Partial bool
	// RemoteDataLoaded is maintained by the sync client; always true for
	// non-partial queries.
	RemoteDataLoaded bool
}

// ComputeChangeSet wraps an engine notification into a ChangeSet, given what
// the result set has delivered before.
func ComputeChangeSet(prev Progress, n Notification) ChangeSet {
	if prev.Delivered && prev.State.IsTerminal() {
		panic(fmt.Errorf("livedb: change set requested after %s", prev.State))
	}
	if n.NewVersion < n.OldVersion {
		panic(fmt.Errorf("livedb: version went back from %d to %d", n.OldVersion, n.NewVersion))
	}

	cs := ChangeSet{
		oldVersion:       n.OldVersion,
		newVersion:       n.NewVersion,
		partial:          n.Partial,
		remoteDataLoaded: n.RemoteDataLoaded,
		firstAsync:       !prev.Delivered,
	}

	if n.Err != nil {
		cs.kind = kindFailed
		cs.state = StateError
		cs.err = asQueryError(n.Err)
		return cs
	}

	cs.kind = kindComputed
	if n.Partial && !n.RemoteDataLoaded {
		cs.state = StateInitial
	} else {
		if !n.Partial && !prev.Delivered {
			cs.state = StateInitial
		} else {
			cs.state = StateLoaded
		}
		cs.deletions, cs.deletionRanges = cloneIndices(n.Diff.Deletions)
		cs.insertions, cs.insertionRanges = cloneIndices(n.Diff.Insertions)
		cs.modifications, cs.modificationRanges = cloneIndices(n.Diff.Modifications)
	}
	cs.transition = !prev.Delivered || prev.State != cs.state || prev.RemoteDataLoaded != cs.remoteDataLoaded
	return cs
}

func cloneIndices(indices []int) ([]int, []Range) {
	if len(indices) == 0 {
		return noIndices, noRanges
	}
	ranges := CompressRanges(indices)
	return slices.Clip(slices.Clone(indices)), ranges
}

func asQueryError(err error) error {
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	return &QueryError{Err: err}
}
