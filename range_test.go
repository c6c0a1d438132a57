package livedb

import (
	"math/rand/v2"
	"slices"
	"testing"
)

func TestCompressRanges(t *testing.T) {
	isempty(t, CompressRanges(nil))
	isempty(t, CompressRanges([]int{}))
	deepEqual(t, CompressRanges([]int{7}), []Range{{7, 1}})
	deepEqual(t, CompressRanges(seq(0, 10)), []Range{{0, 10}})
	deepEqual(t, CompressRanges([]int{0, 1, 3, 4, 5, 9}), []Range{{0, 2}, {3, 3}, {9, 1}})
	deepEqual(t, CompressRanges([]int{2, 4, 6}), []Range{{2, 1}, {4, 1}, {6, 1}})
}

func TestCompressRanges_misuse(t *testing.T) {
	panics(t, nil, func() { CompressRanges([]int{3, 2}) })
	panics(t, nil, func() { CompressRanges([]int{1, 1}) })
	panics(t, nil, func() { CompressRanges([]int{-1, 0}) })
}

func TestExpandRanges(t *testing.T) {
	isempty(t, ExpandRanges(nil))
	isempty(t, ExpandRanges([]Range{{5, 0}}))
	deepEqual(t, ExpandRanges([]Range{{0, 2}, {3, 3}, {9, 1}}), []int{0, 1, 3, 4, 5, 9})
}

func TestCompressRanges_roundTrip(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	for iter := 0; iter < 500; iter++ {
		var indices []int
		for i := 0; i < 200; i++ {
			if rnd.IntN(3) == 0 {
				indices = append(indices, i)
			}
		}

		ranges := CompressRanges(indices)
		if got := ExpandRanges(ranges); !slices.Equal(got, indices) {
			t.Fatalf("** expand(compress(%v)) = %v", indices, got)
		}
		for i := 1; i < len(ranges); i++ {
			if ranges[i-1].End() >= ranges[i].Start {
				t.Fatalf("** ranges %v and %v are adjacent or overlapping", ranges[i-1], ranges[i])
			}
		}
		for _, r := range ranges {
			if r.Length <= 0 {
				t.Fatalf("** empty range %v", r)
			}
		}
		deepEqual(t, CompressRanges(ExpandRanges(ranges)), ranges)
	}
}

func TestRange(t *testing.T) {
	r := Range{Start: 3, Length: 2}
	deepEqual(t, r.End(), 5)
	deepEqual(t, r.String(), "[3,5)")
	if !r.Contains(3) || !r.Contains(4) || r.Contains(5) || r.Contains(2) {
		t.Errorf("** Contains is wrong for %v", r)
	}
}
