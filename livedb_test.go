package livedb

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
	if a == nil {
		t.Helper()
		t.Errorf("** got nil slice, wanted empty non-nil slice")
	}
}

func panics(t testing.TB, target error, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		p := recover()
		if p == nil {
			t.Fatalf("** no panic, wanted one")
		}
		if target != nil {
			err, ok := p.(error)
			if !ok || !errors.Is(err, target) {
				t.Fatalf("** panicked with %v, wanted %v", p, target)
			}
		}
	}()
	f()
}

func seq(start, end int) []int {
	result := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		result = append(result, i)
	}
	return result
}

type fakeSnapshot struct {
	ver Version
	n   int
}

func (s *fakeSnapshot) Version() Version { return s.ver }
func (s *fakeSnapshot) Len() int         { return s.n }

func (s *fakeSnapshot) String() string {
	return fmt.Sprintf("v%d/%d", s.ver, s.n)
}

type fakeStep struct {
	eval Evaluation
	err  error
}

// fakeSource replays queued evaluations; with an empty queue it reports the
// last snapshot again with an empty diff.
type fakeSource struct {
	mu        sync.Mutex
	notifyFn  func()
	steps     []fakeStep
	last      Evaluation
	prevs     []Version
	watches   int
	unwatches int
}

func (s *fakeSource) Watch(notify func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches++
	s.notifyFn = notify
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.unwatches++
		s.notifyFn = nil
	}
}

func (s *fakeSource) Evaluate(prev Snapshot) (Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevs = append(s.prevs, snapshotVersion(prev))
	if len(s.steps) == 0 {
		eval := s.last
		eval.Diff = RawDiff{}
		return eval, nil
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.err == nil {
		s.last = step.eval
	}
	return step.eval, step.err
}

func (s *fakeSource) push(ver Version, n int, diff RawDiff, partial, remote bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, fakeStep{eval: Evaluation{
		Snapshot:         &fakeSnapshot{ver, n},
		Diff:             diff,
		Partial:          partial,
		RemoteDataLoaded: remote,
	}})
}

func (s *fakeSource) pushErr(partial bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, fakeStep{eval: Evaluation{Partial: partial}, err: err})
}

func (s *fakeSource) fire() {
	s.mu.Lock()
	fn := s.notifyFn
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type recorder struct {
	changes []ChangeSet
	snaps   []Snapshot
}

func (rec *recorder) listener(snap Snapshot, cs ChangeSet) {
	rec.changes = append(rec.changes, cs)
	rec.snaps = append(rec.snaps, snap)
}

func (rec *recorder) states() []State {
	var result []State
	for _, cs := range rec.changes {
		result = append(result, cs.State())
	}
	return result
}
