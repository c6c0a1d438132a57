package store

import (
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/livedb"
)

// Snapshot is a materialized query result at one version. It owns copies of
// its rows and stays valid after the transaction that produced it ends.
type Snapshot struct {
	query   Query
	version livedb.Version
	keys    []string
	stamps  []uint64
	data    [][]byte
	rows    []map[string]any
}

func (s *Snapshot) Version() livedb.Version { return s.version }
func (s *Snapshot) Len() int                { return len(s.keys) }
func (s *Snapshot) Query() Query            { return s.query }
func (s *Snapshot) Key(i int) string        { return s.keys[i] }
func (s *Snapshot) Stamp(i int) uint64      { return s.stamps[i] }

func (s *Snapshot) Keys() []string {
	return slices.Clone(s.keys)
}

// Row returns the generic decoding of row i. The map must not be modified.
func (s *Snapshot) Row(i int) map[string]any {
	return s.rows[i]
}

// Raw returns the msgpack encoding of row i. The bytes must not be modified.
func (s *Snapshot) Raw(i int) []byte {
	return s.data[i]
}

// Decode unmarshals row i into out.
func (s *Snapshot) Decode(i int, out any) error {
	return msgpack.Unmarshal(s.data[i], out)
}

// EmptySnapshot is a result of q with no rows at version ver, for sources
// that have nothing to show yet.
func EmptySnapshot(q Query, ver livedb.Version) *Snapshot {
	return &Snapshot{query: q, version: ver}
}

// Evaluate materializes q and diffs the result against prev (nil for the
// first evaluation, in which case every row is an insertion).
func (tx *Tx) Evaluate(q Query, prev *Snapshot) (*Snapshot, livedb.RawDiff, error) {
	if err := q.Validate(); err != nil {
		return nil, livedb.RawDiff{}, err
	}
	snap := &Snapshot{
		query:   q,
		version: tx.Version(),
	}

	if b := tx.stx.Bucket(tableBucket(q.Table)); b != nil {
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var vle value
			if err := vle.decode(v); err != nil {
				return nil, livedb.RawDiff{}, rowErrf(q.Table, string(k), err, "decoding")
			}
			var row map[string]any
			if err := msgpack.Unmarshal(vle.Data, &row); err != nil {
				return nil, livedb.RawDiff{}, rowErrf(q.Table, string(k), err, "decoding")
			}
			if !q.match(row) {
				continue
			}
			snap.keys = append(snap.keys, string(k))
			snap.stamps = append(snap.stamps, vle.Stamp)
			snap.data = append(snap.data, slices.Clone(vle.Data))
			snap.rows = append(snap.rows, row)
		}
	}
	snap.sort()
	if q.Limit > 0 && snap.Len() > q.Limit {
		snap.keys = snap.keys[:q.Limit]
		snap.stamps = snap.stamps[:q.Limit]
		snap.data = snap.data[:q.Limit]
		snap.rows = snap.rows[:q.Limit]
	}

	if prev != nil && prev.version > snap.version {
		panic("store: snapshot diffed against a newer one")
	}
	return snap, diffSnapshots(prev, snap), nil
}

func (s *Snapshot) sort() {
	if s.query.SortBy == "" {
		return // bucket order is key order
	}
	perm := make([]int, len(s.keys))
	for i := range perm {
		perm[i] = i
	}
	field := s.query.SortBy
	slices.SortStableFunc(perm, func(a, b int) int {
		r := sortValues(s.rows[a][field], s.rows[b][field])
		if s.query.Desc {
			r = -r
		}
		return r
	})
	s.keys = permute(s.keys, perm)
	s.stamps = permute(s.stamps, perm)
	s.data = permute(s.data, perm)
	s.rows = permute(s.rows, perm)
}

func permute[T any](items []T, perm []int) []T {
	result := make([]T, len(perm))
	for i, j := range perm {
		result[i] = items[j]
	}
	return result
}

// diffSnapshots matches rows by key. Rows present in both that keep their
// relative order (the longest such run) stay in place and are reported as
// modified if their stamp changed; every other surviving row is reported
// as moved, i.e. deleted at its old position and inserted at its new one.
func diffSnapshots(old, cur *Snapshot) livedb.RawDiff {
	var diff livedb.RawDiff
	if old == nil {
		for i := range cur.keys {
			diff.Insertions = append(diff.Insertions, i)
		}
		return diff
	}

	oldPos := make(map[string]int, len(old.keys))
	for i, k := range old.keys {
		oldPos[k] = i
	}

	// survivors in new order, with their old positions
	var survNew, survOld []int
	inNew := make([]bool, len(old.keys))
	for j, k := range cur.keys {
		if i, ok := oldPos[k]; ok {
			survNew = append(survNew, j)
			survOld = append(survOld, i)
			inNew[i] = true
		} else {
			diff.Insertions = append(diff.Insertions, j)
		}
	}
	for i, ok := range inNew {
		if !ok {
			diff.Deletions = append(diff.Deletions, i)
		}
	}

	stable := make([]bool, len(survOld))
	for _, s := range longestIncreasing(survOld) {
		stable[s] = true
	}
	for s, j := range survNew {
		i := survOld[s]
		if !stable[s] {
			diff.Deletions = append(diff.Deletions, i)
			diff.Insertions = append(diff.Insertions, j)
		} else if old.stamps[i] != cur.stamps[j] {
			diff.Modifications = append(diff.Modifications, j)
		}
	}

	slices.Sort(diff.Deletions)
	slices.Sort(diff.Insertions)
	return diff
}

// longestIncreasing returns the positions in seq of one longest strictly
// increasing subsequence, in order.
func longestIncreasing(seq []int) []int {
	if len(seq) == 0 {
		return nil
	}
	// tails[k] is the position of the smallest tail of an increasing run of length k+1
	var tails []int
	prev := make([]int, len(seq))
	for i, v := range seq {
		k, _ := slices.BinarySearchFunc(tails, v, func(pos, target int) int {
			return seq[pos] - target
		})
		if k > 0 {
			prev[i] = tails[k-1]
		} else {
			prev[i] = -1
		}
		if k == len(tails) {
			tails = append(tails, i)
		} else {
			tails[k] = i
		}
	}

	result := make([]int, len(tails))
	for i, k := len(tails)-1, tails[len(tails)-1]; i >= 0; i, k = i-1, prev[k] {
		result[i] = k
	}
	return result
}
