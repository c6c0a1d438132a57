package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/livedb"
)

type Person struct {
	Name string `msgpack:"name"`
	Age  int    `msgpack:"age"`
	City string `msgpack:"city,omitempty"`
}

func putPeople(t testing.TB, db *DB, people ...Person) {
	t.Helper()
	require.NoError(t, db.Write(func(tx *Tx) error {
		for _, p := range people {
			if err := tx.Put("people", p.Name, p); err != nil {
				return err
			}
		}
		return nil
	}))
}

func evaluate(t testing.TB, db *DB, q Query, prev *Snapshot) (*Snapshot, livedb.RawDiff) {
	t.Helper()
	var snap *Snapshot
	var diff livedb.RawDiff
	require.NoError(t, db.Read(func(tx *Tx) error {
		var err error
		snap, diff, err = tx.Evaluate(q, prev)
		return err
	}))
	return snap, diff
}

func TestEvaluate_filterSortLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		putPeople(t, db,
			Person{"alice", 31, "Paris"},
			Person{"bob", 17, "Oslo"},
			Person{"carol", 45, ""},
			Person{"dave", 25, "Porto"},
			Person{"erin", 31, "Pune"},
		)

		snap, diff := evaluate(t, db, Query{Table: "people"}, nil)
		assert.Equal(t, []string{"alice", "bob", "carol", "dave", "erin"}, snap.Keys())
		assert.Equal(t, []int{0, 1, 2, 3, 4}, diff.Insertions)
		assert.Empty(t, diff.Deletions)
		assert.Equal(t, livedb.Version(1), snap.Version())

		q := Query{
			Table:  "people",
			Where:  []Cond{{Field: "age", Op: OpGe, Value: 18}},
			SortBy: "age",
			Desc:   true,
			Limit:  3,
		}
		snap, _ = evaluate(t, db, q, nil)
		assert.Equal(t, []string{"carol", "alice", "erin"}, snap.Keys())
		assert.Equal(t, q, snap.Query())

		var p Person
		require.NoError(t, snap.Decode(1, &p))
		assert.Equal(t, Person{"alice", 31, "Paris"}, p)
		assert.EqualValues(t, 31, snap.Row(2)["age"])

		snap, _ = evaluate(t, db, Query{Table: "people", Where: []Cond{{Field: "city", Op: OpContains, Value: "P"}}}, nil)
		assert.Equal(t, []string{"alice", "dave", "erin"}, snap.Keys())

		snap, _ = evaluate(t, db, Query{Table: "people", Where: []Cond{{Field: "city", Op: OpEq, Value: nil}}}, nil)
		assert.Equal(t, []string{"carol"}, snap.Keys())

		snap, diff = evaluate(t, db, Query{Table: "nothing"}, nil)
		assert.Equal(t, 0, snap.Len())
		assert.True(t, diff.IsEmpty())
	})
}

func TestEvaluate_diffsAgainstPrevious(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		q := Query{Table: "people", SortBy: "age"}
		putPeople(t, db, Person{"alice", 30, ""}, Person{"bob", 20, ""}, Person{"carol", 40, ""})
		snap1, _ := evaluate(t, db, q, nil)
		assert.Equal(t, []string{"bob", "alice", "carol"}, snap1.Keys())

		putPeople(t, db, Person{"bob", 50, ""}, Person{"carol", 40, "Rome"}, Person{"dave", 10, ""})
		snap2, diff := evaluate(t, db, q, snap1)
		assert.Equal(t, []string{"dave", "alice", "carol", "bob"}, snap2.Keys())
		assert.Equal(t, livedb.RawDiff{
			Deletions:     []int{0},
			Insertions:    []int{0, 3},
			Modifications: []int{2},
		}, diff)

		snap3, diff := evaluate(t, db, q, snap2)
		assert.True(t, diff.IsEmpty())
		assert.Equal(t, snap2.Version(), snap3.Version())
	})
}

func TestEvaluate_deleteAndRecreate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		q := Query{Table: "people"}
		putPeople(t, db, Person{"alice", 30, ""}, Person{"bob", 20, ""})
		snap1, _ := evaluate(t, db, q, nil)

		require.NoError(t, db.Write(func(tx *Tx) error {
			if _, err := tx.Delete("people", "alice"); err != nil {
				return err
			}
			return tx.Put("people", "alice", Person{"alice", 99, ""})
		}))
		snap2, diff := evaluate(t, db, q, snap1)
		assert.Equal(t, livedb.RawDiff{Modifications: []int{0}}, diff)
		assert.EqualValues(t, 99, snap2.Row(0)["age"])
		assert.Greater(t, snap2.Stamp(0), snap1.Stamp(0))

		// two commits seen by one evaluation
		require.NoError(t, db.Write(func(tx *Tx) error {
			_, err := tx.Delete("people", "bob")
			return err
		}))
		putPeople(t, db, Person{"bob", 21, ""})
		snap3, diff := evaluate(t, db, q, snap2)
		assert.Equal(t, livedb.RawDiff{Modifications: []int{1}}, diff)
		assert.EqualValues(t, 21, snap3.Row(1)["age"])
	})
}

func TestEvaluate_rejectsInvalidQueries(t *testing.T) {
	db := setup(t, "mem")
	tests := []struct {
		q   Query
		msg string
	}{
		{Query{Table: "people", Where: []Cond{{Field: "owner.name", Op: OpEq, Value: "x"}}}, "key path resolution failed"},
		{Query{Table: "people", SortBy: "owner.age"}, "key path resolution failed"},
		{Query{}, "no table"},
		{Query{Table: "people", Limit: -1}, "negative limit"},
		{Query{Table: "people", Where: []Cond{{Field: "name", Op: "~", Value: "x"}}}, "unsupported operator"},
		{Query{Table: "people", Where: []Cond{{Field: "name", Op: OpContains, Value: 1}}}, "requires a string"},
		{Query{Table: "people", Where: []Cond{{Op: OpEq, Value: 1}}}, "empty key path"},
	}
	for _, tt := range tests {
		t.Run(tt.q.String(), func(t *testing.T) {
			err := db.Read(func(tx *Tx) error {
				_, _, err := tx.Evaluate(tt.q, nil)
				return err
			})
			var qe *livedb.QueryError
			require.ErrorAs(t, err, &qe)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Equal(t, tt.q.String(), qe.Query)
		})
	}
}

func TestQuery_String(t *testing.T) {
	q := Query{
		Table:  "objects",
		Where:  []Cond{{Field: "number", Op: OpGt, Value: 5}, {Field: "string", Op: OpContains, Value: "a"}},
		SortBy: "name",
		Desc:   true,
		Limit:  3,
	}
	assert.Equal(t, `objects where number > 5 and string contains "a" sort by name desc limit 3`, q.String())
	assert.Equal(t, "objects", Query{Table: "objects"}.String())
	assert.Equal(t, "objects where x != null", Query{Table: "objects", Where: []Cond{{Field: "x", Op: OpNe}}}.String())
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		a, b any
		r    int
		ok   bool
	}{
		{int8(1), 2.5, -1, true},
		{uint64(3), int64(3), 0, true},
		{"b", "a", 1, true},
		{true, false, 1, true},
		{nil, nil, 0, true},
		{nil, 1, 0, false},
		{"1", 1, 0, false},
	}
	for _, tt := range tests {
		r, ok := compareValues(tt.a, tt.b)
		assert.Equal(t, tt.r, r, "%v vs %v", tt.a, tt.b)
		assert.Equal(t, tt.ok, ok, "%v vs %v", tt.a, tt.b)
	}

	assert.Equal(t, -1, sortValues(nil, 0))
	assert.Equal(t, -1, sortValues(100, "a"))
	assert.Equal(t, 1, sortValues(true, "z"))
}

func fakeSnapshot(keys string, stamps ...uint64) *Snapshot {
	s := &Snapshot{stamps: stamps}
	for _, k := range keys {
		s.keys = append(s.keys, string(k))
	}
	return s
}

func TestDiffSnapshots(t *testing.T) {
	tests := []struct {
		name     string
		old, cur *Snapshot
		diff     livedb.RawDiff
	}{
		{"initial", nil, fakeSnapshot("ab", 1, 1), livedb.RawDiff{Insertions: []int{0, 1}}},
		{"unchanged", fakeSnapshot("abc", 1, 1, 1), fakeSnapshot("abc", 1, 1, 1), livedb.RawDiff{}},
		{"modified", fakeSnapshot("abc", 1, 1, 1), fakeSnapshot("abc", 1, 2, 1), livedb.RawDiff{Modifications: []int{1}}},
		{"inserted", fakeSnapshot("ac", 1, 1), fakeSnapshot("abc", 1, 1, 1), livedb.RawDiff{Insertions: []int{1}}},
		{"deleted", fakeSnapshot("abc", 1, 1, 1), fakeSnapshot("c", 1), livedb.RawDiff{Deletions: []int{0, 1}}},
		{
			"moved and modified",
			fakeSnapshot("abcd", 1, 1, 1, 1),
			fakeSnapshot("bdae", 1, 2, 1, 1),
			livedb.RawDiff{Deletions: []int{0, 2}, Insertions: []int{2, 3}, Modifications: []int{1}},
		},
		{"swapped", fakeSnapshot("ab", 1, 1), fakeSnapshot("ba", 1, 5), livedb.RawDiff{Deletions: []int{1}, Insertions: []int{0}, Modifications: []int{1}}},
		{"cleared", fakeSnapshot("ab", 1, 1), fakeSnapshot(""), livedb.RawDiff{Deletions: []int{0, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.diff, diffSnapshots(tt.old, tt.cur))
		})
	}
}

func TestLongestIncreasing(t *testing.T) {
	assert.Nil(t, longestIncreasing(nil))
	assert.Equal(t, []int{0}, longestIncreasing([]int{7}))
	assert.Equal(t, []int{1, 2, 4}, longestIncreasing([]int{3, 1, 2, 0, 4}))
	assert.Equal(t, []int{0, 1, 2}, longestIncreasing([]int{0, 1, 2}))
	assert.Len(t, longestIncreasing([]int{2, 1, 0}), 1)
}
