package livedb

import (
	"encoding/json"
	"fmt"
	"strings"
)

type (
	// Version identifies one committed state of the data a query was
	// evaluated against. Versions only grow.
	Version int64

	State int

	changeSetKind uint8
)

const (
	// VersionNone is the version of a result set that has no snapshot yet.
	VersionNone Version = 0

	// VersionUndefined stands in for both versions of a change set that was
	// not produced by diffing two snapshots (see EmptyLoadChangeSet).
	VersionUndefined Version = -3
)

const (
	// StateInitial: no confirmed complete result yet.
	StateInitial State = iota
	// StateError: the query was rejected or failed to evaluate. Terminal.
	StateError
	// StateLoaded: an ordinary delta against a useful prior state.
	StateLoaded
)

const (
	kindComputed changeSetKind = iota
	kindFailed
	kindEmptyLoad
)

var (
	noIndices = []int{}
	noRanges  = []Range{}
)

// ChangeSet describes how one snapshot of a query result differs from the
// previous one. Deletions index the previous snapshot; insertions and
// modifications index the new one.
//
// ChangeSet is immutable. The slices it returns are shared between all
// listeners and must not be modified.
type ChangeSet struct {
	kind  changeSetKind
	state State

	deletions     []int
	insertions    []int
	modifications []int

	deletionRanges     []Range
	insertionRanges    []Range
	modificationRanges []Range

	err error

	oldVersion Version
	newVersion Version

	partial          bool
	remoteDataLoaded bool
	firstAsync       bool
	transition       bool
}

var emptyLoadChangeSet = ChangeSet{
	kind:       kindEmptyLoad,
	state:      StateInitial,
	oldVersion: VersionUndefined,
	newVersion: VersionUndefined,
	firstAsync: true,
}

// EmptyLoadChangeSet returns the change set reported when a result set is
// materialized synchronously via Results.Load instead of by the async pipeline.
func EmptyLoadChangeSet() ChangeSet {
	return emptyLoadChangeSet
}

func (cs ChangeSet) State() State {
	switch cs.kind {
	case kindFailed:
		return StateError
	case kindEmptyLoad:
		return StateInitial
	default:
		return cs.state
	}
}

func (cs ChangeSet) Deletions() []int {
	if cs.kind != kindComputed || cs.deletions == nil {
		return noIndices
	}
	return cs.deletions
}

func (cs ChangeSet) Insertions() []int {
	if cs.kind != kindComputed || cs.insertions == nil {
		return noIndices
	}
	return cs.insertions
}

func (cs ChangeSet) Modifications() []int {
	if cs.kind != kindComputed || cs.modifications == nil {
		return noIndices
	}
	return cs.modifications
}

func (cs ChangeSet) DeletionRanges() []Range {
	if cs.kind != kindComputed || cs.deletionRanges == nil {
		return noRanges
	}
	return cs.deletionRanges
}

func (cs ChangeSet) InsertionRanges() []Range {
	if cs.kind != kindComputed || cs.insertionRanges == nil {
		return noRanges
	}
	return cs.insertionRanges
}

func (cs ChangeSet) ModificationRanges() []Range {
	if cs.kind != kindComputed || cs.modificationRanges == nil {
		return noRanges
	}
	return cs.modificationRanges
}

// Err is the query failure, nil unless State() is StateError.
func (cs ChangeSet) Err() error {
	if cs.kind != kindFailed {
		return nil
	}
	return cs.err
}

func (cs ChangeSet) IsEmpty() bool {
	switch cs.kind {
	case kindEmptyLoad:
		return true
	case kindFailed:
		return false
	default:
		return !cs.transition && len(cs.deletions) == 0 && len(cs.insertions) == 0 && len(cs.modifications) == 0
	}
}

// IsFirstAsyncCallback reports whether this is the first change set delivered
// to the listener receiving it.
func (cs ChangeSet) IsFirstAsyncCallback() bool {
	return cs.firstAsync
}

func (cs ChangeSet) RemoteDataLoaded() bool {
	if cs.kind == kindEmptyLoad {
		return false
	}
	return cs.remoteDataLoaded
}

// IsCompleteResult reports whether the result reflects all data the server
// has for the query. For every query this is RemoteDataLoaded.
func (cs ChangeSet) IsCompleteResult() bool {
	return cs.RemoteDataLoaded()
}

func (cs ChangeSet) IsPartial() bool {
	return cs.partial
}

func (cs ChangeSet) OldVersion() Version {
	return cs.oldVersion
}

func (cs ChangeSet) NewVersion() Version {
	return cs.newVersion
}

func (cs ChangeSet) withFirstAsync(v bool) ChangeSet {
	cs.firstAsync = v
	return cs
}

func (cs ChangeSet) String() string {
	var buf strings.Builder
	buf.WriteString(cs.State().String())
	switch cs.kind {
	case kindEmptyLoad:
		buf.WriteString(" load")
	case kindFailed:
		fmt.Fprintf(&buf, " v%d->v%d: %v", cs.oldVersion, cs.newVersion, cs.err)
	default:
		fmt.Fprintf(&buf, " v%d->v%d", cs.oldVersion, cs.newVersion)
		writeRanges(&buf, " -", cs.deletionRanges)
		writeRanges(&buf, " +", cs.insertionRanges)
		writeRanges(&buf, " ~", cs.modificationRanges)
	}
	if cs.remoteDataLoaded {
		buf.WriteString(" remote")
	}
	if cs.firstAsync {
		buf.WriteString(" first")
	}
	return buf.String()
}

func writeRanges(buf *strings.Builder, prefix string, ranges []Range) {
	if len(ranges) == 0 {
		return
	}
	fmt.Fprintf(buf, "%s%d", prefix, countIndices(ranges))
	for _, r := range ranges {
		buf.WriteString(r.String())
	}
}

type changeSetJSON struct {
	State            string  `json:"state"`
	OldVersion       Version `json:"old_version"`
	NewVersion       Version `json:"new_version"`
	Deletions        []Range `json:"deletions"`
	Insertions       []Range `json:"insertions"`
	Modifications    []Range `json:"modifications"`
	Error            string  `json:"error,omitempty"`
	Empty            bool    `json:"empty,omitempty"`
	Partial          bool    `json:"partial,omitempty"`
	RemoteDataLoaded bool    `json:"remote_data_loaded"`
	FirstAsync       bool    `json:"first_async,omitempty"`
}

func (cs ChangeSet) MarshalJSON() ([]byte, error) {
	v := changeSetJSON{
		State:            cs.State().String(),
		OldVersion:       cs.oldVersion,
		NewVersion:       cs.newVersion,
		Deletions:        cs.DeletionRanges(),
		Insertions:       cs.InsertionRanges(),
		Modifications:    cs.ModificationRanges(),
		Empty:            cs.IsEmpty(),
		Partial:          cs.partial,
		RemoteDataLoaded: cs.RemoteDataLoaded(),
		FirstAsync:       cs.firstAsync,
	}
	if err := cs.Err(); err != nil {
		v.Error = err.Error()
	}
	return json.Marshal(&v)
}

func (v State) String() string {
	switch v {
	case StateInitial:
		return "initial"
	case StateError:
		return "error"
	case StateLoaded:
		return "loaded"
	default:
		return fmt.Sprintf("invalid state %d", int(v))
	}
}
