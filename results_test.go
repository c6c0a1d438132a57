package livedb

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func setupResults(t testing.TB, opt Options) (*Loop, *fakeSource, *Results) {
	t.Helper()
	loop := NewLoop(LoopOptions{})
	src := &fakeSource{}
	r := NewResults(loop, src, opt)
	t.Cleanup(r.Close)
	return loop, src, r
}

func TestResults_partialQueryLoads(t *testing.T) {
	loop, src, r := setupResults(t, Options{Name: "partial"})
	var rec recorder

	src.push(1, 10, RawDiff{Insertions: seq(0, 10)}, true, false)
	r.AddListener(rec.listener)
	loop.Drain()

	src.push(2, 10, RawDiff{Insertions: seq(0, 10)}, true, true)
	src.fire()
	loop.Drain()

	deepEqual(t, rec.states(), []State{StateInitial, StateLoaded})

	first := rec.changes[0]
	checkNoIndices(t, first)
	deepEqual(t, first.IsFirstAsyncCallback(), true)
	deepEqual(t, first.IsCompleteResult(), false)

	second := rec.changes[1]
	deepEqual(t, second.InsertionRanges(), []Range{{0, 10}})
	deepEqual(t, second.IsFirstAsyncCallback(), false)
	deepEqual(t, second.IsCompleteResult(), true)
	deepEqual(t, second.OldVersion(), Version(1))
	deepEqual(t, second.NewVersion(), Version(2))

	deepEqual(t, r.State(), StateLoaded)
	deepEqual(t, r.Version(), Version(2))
	deepEqual(t, rec.snaps[1].Len(), 10)
}

func TestResults_errorOnFirstNotification(t *testing.T) {
	loop, src, r := setupResults(t, Options{})
	var rec recorder

	failure := errors.New("key path resolution failed")
	src.pushErr(true, failure)
	src.push(2, 1, RawDiff{Insertions: []int{0}}, true, true)
	r.AddListener(rec.listener)
	loop.Drain()

	deepEqual(t, rec.states(), []State{StateError})
	cs := rec.changes[0]
	if !errors.Is(cs.Err(), failure) {
		t.Errorf("** Err = %v, wanted %v", cs.Err(), failure)
	}
	deepEqual(t, cs.IsFirstAsyncCallback(), true)
	checkNoIndices(t, cs)
	deepEqual(t, src.unwatches, 1)

	// late notifications from the engine are ignored
	src.fire()
	r.notify()
	loop.Drain()
	deepEqual(t, len(rec.changes), 1)
	deepEqual(t, len(src.prevs), 1)
	if !errors.Is(r.Err(), failure) {
		t.Errorf("** r.Err() = %v", r.Err())
	}

	// a listener added after the failure never hears anything
	var late recorder
	r.AddListener(late.listener)
	loop.Drain()
	deepEqual(t, len(late.changes), 0)
	deepEqual(t, src.watches, 1)
}

func TestResults_errorAfterLoaded(t *testing.T) {
	loop, src, r := setupResults(t, Options{})
	var rec recorder

	src.push(1, 2, RawDiff{Insertions: []int{0, 1}}, false, true)
	r.AddListener(rec.listener)
	loop.Drain()

	src.push(2, 3, RawDiff{Insertions: []int{2}}, false, true)
	src.fire()
	loop.Drain()

	src.pushErr(false, QueryErrf("q", nil, "subscription rejected"))
	src.fire()
	loop.Drain()

	deepEqual(t, rec.states(), []State{StateInitial, StateLoaded, StateError})
	deepEqual(t, rec.changes[0].InsertionRanges(), []Range{{0, 2}})
	deepEqual(t, rec.changes[1].InsertionRanges(), []Range{{2, 1}})
	deepEqual(t, src.unwatches, 1)
}

func TestResults_coalescedNotifications(t *testing.T) {
	loop, src, r := setupResults(t, Options{})
	var rec recorder

	src.push(1, 1, RawDiff{Insertions: []int{0}}, false, true)
	r.AddListener(rec.listener)
	loop.Drain()

	// the engine moved from v1 to v5 through several commits; the source is
	// asked once, against v1
	src.push(5, 3, RawDiff{Insertions: []int{1, 2}}, false, true)
	src.fire()
	src.fire()
	src.fire()
	deepEqual(t, loop.Pending(), 1)
	loop.Drain()

	deepEqual(t, src.prevs, []Version{VersionNone, 1})
	deepEqual(t, len(rec.changes), 2)
	deepEqual(t, rec.changes[1].OldVersion(), Version(1))
	deepEqual(t, rec.changes[1].NewVersion(), Version(5))
}

func TestResults_unchangedVersionDeliversNothing(t *testing.T) {
	loop, src, r := setupResults(t, Options{})
	var rec recorder

	src.push(1, 1, RawDiff{Insertions: []int{0}}, false, true)
	r.AddListener(rec.listener)
	loop.Drain()

	src.fire()
	loop.Drain()
	deepEqual(t, len(rec.changes), 1)
	deepEqual(t, len(src.prevs), 2)
}

func TestResults_versionGoingBackPanics(t *testing.T) {
	loop, src, r := setupResults(t, Options{})
	src.push(3, 1, RawDiff{}, false, true)
	r.AddListener(func(Snapshot, ChangeSet) {})
	loop.Drain()

	src.push(2, 1, RawDiff{}, false, true)
	src.fire()
	panics(t, nil, func() { loop.Drain() })
}

func TestResults_Load(t *testing.T) {
	loop, src, r := setupResults(t, Options{})
	var rec recorder
	r.AddListener(rec.listener)

	src.push(1, 4, RawDiff{Insertions: seq(0, 4)}, false, true)
	cs := r.Load()
	deepEqual(t, cs.State(), StateInitial)
	deepEqual(t, cs.IsEmpty(), true)
	deepEqual(t, cs.OldVersion(), VersionUndefined)
	deepEqual(t, r.IsLoaded(), true)
	deepEqual(t, r.Snapshot().Len(), 4)
	deepEqual(t, len(rec.changes), 1)
	deepEqual(t, rec.changes[0].IsFirstAsyncCallback(), true)

	// loading again is a no-op
	r.Load()
	deepEqual(t, len(rec.changes), 1)

	// the pending async refresh diffs against the loaded snapshot
	src.push(2, 5, RawDiff{Insertions: []int{4}}, false, true)
	loop.Drain()
	deepEqual(t, src.prevs, []Version{VersionNone, 1})
	deepEqual(t, len(rec.changes), 2)
	deepEqual(t, rec.changes[1].State(), StateLoaded)
	deepEqual(t, rec.changes[1].InsertionRanges(), []Range{{4, 1}})
	deepEqual(t, rec.changes[1].IsFirstAsyncCallback(), false)
}

func TestResults_LoadFailure(t *testing.T) {
	_, src, r := setupResults(t, Options{})
	var rec recorder
	r.AddListener(rec.listener)

	src.pushErr(false, errors.New("boom"))
	cs := r.Load()
	deepEqual(t, cs.State(), StateError)
	deepEqual(t, rec.states(), []State{StateError})

	again := r.Load()
	deepEqual(t, again.State(), StateError)
	deepEqual(t, again.Err(), cs.Err())
	deepEqual(t, len(rec.changes), 1)
}

func TestResults_remoteDataLostAfterLoaded(t *testing.T) {
	loop, src, r := setupResults(t, Options{Name: "partial"})
	var rec recorder

	src.push(1, 2, RawDiff{Insertions: []int{0, 1}}, true, true)
	r.AddListener(rec.listener)
	loop.Drain()

	src.push(2, 0, RawDiff{}, true, false)
	src.fire()
	loop.Drain()

	deepEqual(t, rec.states(), []State{StateLoaded, StateError})
	var qe *QueryError
	if !errors.As(rec.changes[1].Err(), &qe) {
		t.Fatalf("** Err = %v, wanted a *QueryError", rec.changes[1].Err())
	}
	deepEqual(t, rec.snaps[1].Len(), 2)
	deepEqual(t, r.Version(), Version(1))
	deepEqual(t, src.unwatches, 1)

	src.fire()
	r.notify()
	loop.Drain()
	deepEqual(t, len(rec.changes), 2)
}

func TestResults_listeners(t *testing.T) {
	loop, src, r := setupResults(t, Options{})
	var a, b recorder

	src.push(1, 1, RawDiff{Insertions: []int{0}}, false, true)
	ha := Register(r, a.listener)
	hb := r.AddListener(b.listener)
	deepEqual(t, r.ListenerCount(), 2)
	loop.Drain()

	Unregister(ha)
	src.push(2, 2, RawDiff{Insertions: []int{1}}, false, true)
	src.fire()
	loop.Drain()

	deepEqual(t, len(a.changes), 1)
	deepEqual(t, len(b.changes), 2)

	panics(t, ErrUnknownHandle, func() { Unregister(ha) })
	panics(t, ErrUnknownHandle, func() { Unregister(Handle{}) })

	// removing the last listener stops watching; a new one resumes against
	// the last observed snapshot
	r.RemoveListener(hb)
	deepEqual(t, src.unwatches, 1)
	src.push(4, 3, RawDiff{Insertions: []int{2}}, false, true)
	var c recorder
	r.AddListener(c.listener)
	loop.Drain()
	deepEqual(t, src.watches, 2)
	deepEqual(t, src.prevs[len(src.prevs)-1], Version(2))
	deepEqual(t, len(c.changes), 1)
	deepEqual(t, c.changes[0].IsFirstAsyncCallback(), true)
	deepEqual(t, c.changes[0].InsertionRanges(), []Range{{2, 1}})
}

func TestResults_handleOfOtherResults(t *testing.T) {
	_, _, r1 := setupResults(t, Options{})
	_, _, r2 := setupResults(t, Options{})
	h := r1.AddListener(func(Snapshot, ChangeSet) {})
	panics(t, ErrUnknownHandle, func() { r2.RemoveListener(h) })
}

func TestResults_Close(t *testing.T) {
	loop, src, r := setupResults(t, Options{})
	var rec recorder
	src.push(1, 1, RawDiff{Insertions: []int{0}}, false, true)
	r.AddListener(rec.listener)
	r.Close()
	loop.Drain()

	deepEqual(t, len(rec.changes), 0)
	deepEqual(t, src.unwatches, 1)
	panics(t, ErrClosed, func() { r.AddListener(rec.listener) })
}

func TestResults_metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	loop, src, r := setupResults(t, Options{Metrics: m, Verbose: true})

	src.push(1, 1, RawDiff{Insertions: []int{0}}, false, true)
	r.AddListener(func(Snapshot, ChangeSet) {})
	r.AddListener(func(Snapshot, ChangeSet) {})
	loop.Drain()
	src.pushErr(false, errors.New("boom"))
	src.fire()
	loop.Drain()

	deepEqual(t, testutil.ToFloat64(m.changeSets.WithLabelValues("initial")), 1.0)
	deepEqual(t, testutil.ToFloat64(m.changeSets.WithLabelValues("error")), 1.0)
	deepEqual(t, testutil.ToFloat64(m.deliveries), 4.0)
	deepEqual(t, testutil.ToFloat64(m.refreshes), 2.0)
	deepEqual(t, testutil.ToFloat64(m.listeners), 2.0)
	deepEqual(t, testutil.ToFloat64(m.unwatchedErr), 1.0)
}
