package livedb

import "fmt"

// Range is a closed-open run of indices [Start, Start+Length).
type Range struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

func (r Range) End() int {
	return r.Start + r.Length
}

func (r Range) Contains(i int) bool {
	return i >= r.Start && i < r.End()
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End())
}

// CompressRanges turns a sorted, duplicate-free sequence of indices into the
// minimal sequence of ranges covering exactly those indices.
func CompressRanges(indices []int) []Range {
	if len(indices) == 0 {
		return noRanges
	}
	result := make([]Range, 0, 4)
	cur := Range{Start: indices[0], Length: 1}
	if cur.Start < 0 {
		panic(fmt.Errorf("livedb: negative index %d", cur.Start))
	}
	prev := indices[0]
	for _, i := range indices[1:] {
		if i <= prev {
			panic(fmt.Errorf("livedb: indices not sorted and unique: %d after %d", i, prev))
		}
		if i == prev+1 {
			cur.Length++
		} else {
			result = append(result, cur)
			cur = Range{Start: i, Length: 1}
		}
		prev = i
	}
	return append(result, cur)
}

// ExpandRanges is the inverse of CompressRanges.
func ExpandRanges(ranges []Range) []int {
	var n int
	for _, r := range ranges {
		n += r.Length
	}
	if n == 0 {
		return noIndices
	}
	result := make([]int, 0, n)
	for _, r := range ranges {
		for i := r.Start; i < r.End(); i++ {
			result = append(result, i)
		}
	}
	return result
}

func countIndices(ranges []Range) int {
	var n int
	for _, r := range ranges {
		n += r.Length
	}
	return n
}
