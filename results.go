package livedb

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Options struct {
	Name    string
	Logger  *zerolog.Logger
	Verbose bool
	Metrics *Metrics
}

// Results is a live query result. It keeps the latest snapshot produced by
// its Source and turns every change into a ChangeSet delivered to its
// listeners on the owning Loop.
//
// Except for the notification path, every method must be called on the
// owning loop's goroutine (or, before the loop runs, on the goroutine that
// will pump it).
type Results struct {
	loop    *Loop
	src     Source
	name    string
	logger  zerolog.Logger
	verbose bool
	metrics *Metrics

	listeners registry

	snapshot Snapshot
	version  Version
	progress Progress
	partial  bool
	loaded   bool
	err      error
	failure  ChangeSet
	closed   bool

	unwatch func()
	pending atomic.Bool
}

func NewResults(loop *Loop, src Source, opt Options) *Results {
	if loop == nil || src == nil {
		panic("livedb: NewResults requires a loop and a source")
	}
	r := &Results{
		loop:    loop,
		src:     src,
		name:    opt.Name,
		verbose: opt.Verbose,
		metrics: opt.Metrics,
	}
	if opt.Logger != nil {
		r.logger = opt.Logger.With().Str("results", opt.Name).Logger()
	} else {
		r.logger = zerolog.Nop()
	}
	return r
}

func (r *Results) Snapshot() Snapshot {
	return r.snapshot
}

func (r *Results) Version() Version {
	return r.version
}

func (r *Results) State() State {
	return r.progress.State
}

func (r *Results) IsLoaded() bool {
	return r.loaded
}

func (r *Results) Err() error {
	return r.err
}

func (r *Results) ListenerCount() int {
	return r.listeners.len()
}

// AddListener registers fn. The first registration starts watching the
// source and schedules an evaluation.
func (r *Results) AddListener(fn Listener) Handle {
	if r.closed {
		panic(fmt.Errorf("livedb: AddListener on %s: %w", r, ErrClosed))
	}
	id := r.listeners.add(fn)
	r.metrics.listenerAdded(1)
	if r.unwatch == nil && !r.failed() {
		r.unwatch = r.src.Watch(r.notify)
		r.notify()
	}
	return Handle{results: r, id: id}
}

// RemoveListener unregisters a listener. Removing a handle twice panics.
func (r *Results) RemoveListener(h Handle) {
	if h.IsZero() || h.results != r {
		panic(fmt.Errorf("%w: %v", ErrUnknownHandle, h))
	}
	r.listeners.remove(h.id)
	r.metrics.listenerAdded(-1)
	if r.listeners.len() == 0 {
		r.stopWatching()
	}
}

func Register(r *Results, fn Listener) Handle {
	return r.AddListener(fn)
}

func Unregister(h Handle) {
	if h.results == nil {
		panic(fmt.Errorf("%w: %v", ErrUnknownHandle, h))
	}
	h.results.RemoveListener(h)
}

// Load materializes the query synchronously if no snapshot exists yet and
// delivers EmptyLoadChangeSet to the listeners, since there is no earlier
// snapshot to diff against. If the query fails, the error change set is
// delivered and returned instead. Once failed, Load keeps returning that
// error change set without delivering it again.
func (r *Results) Load() ChangeSet {
	if r.closed {
		panic(fmt.Errorf("livedb: Load on %s: %w", r, ErrClosed))
	}
	if r.failed() {
		return r.failure
	}
	if r.loaded {
		return EmptyLoadChangeSet()
	}
	eval, err := r.src.Evaluate(nil)
	if err != nil {
		return r.fail(eval.Partial, err)
	}
	r.snapshot = eval.Snapshot
	r.version = snapshotVersion(eval.Snapshot)
	r.partial = eval.Partial
	r.loaded = true

	cs := EmptyLoadChangeSet()
	r.deliver(cs)
	return cs
}

// Close stops watching the source and drops every listener.
func (r *Results) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.stopWatching()
	r.metrics.listenerAdded(-r.listeners.len())
	r.listeners.removeAll()
}

func (r *Results) String() string {
	name := r.name
	if name == "" {
		name = "results"
	}
	return fmt.Sprintf("%s@v%d(%s)", name, r.version, r.progress.State)
}

// notify may run on any goroutine.
func (r *Results) notify() {
	if r.pending.CompareAndSwap(false, true) {
		if !r.loop.Post(r.refresh) {
			r.pending.Store(false)
		}
	}
}

func (r *Results) refresh() {
	r.pending.Store(false)
	if r.closed || r.failed() || r.unwatch == nil {
		return
	}
	r.metrics.refresh()

	eval, err := r.src.Evaluate(r.snapshot)
	if err != nil {
		r.fail(eval.Partial, err)
		return
	}

	newVersion := snapshotVersion(eval.Snapshot)
	if newVersion < r.version {
		panic(fmt.Errorf("livedb: %s: source went back to version %d", r, newVersion))
	}
	if r.progress.Delivered && newVersion == r.version && eval.Diff.IsEmpty() &&
		eval.Partial == r.partial && eval.RemoteDataLoaded == r.progress.RemoteDataLoaded {
		return
	}

	// Loaded remote data cannot be taken back. A source that tries (say, a
	// subscription replaced behind its back) ends the result set instead of
	// the loop.
	if r.progress.Delivered && r.progress.State == StateLoaded && eval.Partial && !eval.RemoteDataLoaded {
		r.fail(true, QueryErrf(r.name, nil, "remote data is no longer loaded"))
		return
	}

	cs := ComputeChangeSet(r.progress, Notification{
		OldVersion:       r.version,
		NewVersion:       newVersion,
		Diff:             eval.Diff,
		Partial:          eval.Partial,
		RemoteDataLoaded: eval.RemoteDataLoaded,
	})
	r.snapshot = eval.Snapshot
	r.version = newVersion
	r.partial = eval.Partial
	r.loaded = true
	r.deliver(cs)
}

func (r *Results) fail(partial bool, err error) ChangeSet {
	cs := ComputeChangeSet(r.progress, Notification{
		OldVersion:       r.version,
		NewVersion:       r.version,
		Err:              err,
		Partial:          partial,
		RemoteDataLoaded: r.progress.RemoteDataLoaded,
	})
	r.partial = partial
	r.err = cs.Err()
	r.failure = cs
	r.stopWatching()
	r.logger.Warn().Err(r.err).Msg("query failed")
	r.deliver(cs)
	return cs
}

func (r *Results) deliver(cs ChangeSet) {
	r.progress = r.progress.Advance(cs)
	n := r.listeners.deliver(r.snapshot, cs)
	r.metrics.changeSet(cs, n)
	if r.verbose {
		r.logger.Debug().Stringer("change", cs).Int("listeners", n).Msg("delivered")
	}
}

func (r *Results) failed() bool {
	return r.progress.Delivered && r.progress.State.IsTerminal()
}

func (r *Results) stopWatching() {
	if r.unwatch != nil {
		r.unwatch()
		r.unwatch = nil
	}
}
