package livedb

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Loop is the single logical thread that owns a group of result sets. Engine
// notifications arrive on arbitrary goroutines and are posted to the loop as
// tasks; change set construction and listener delivery run on the loop only.
type Loop struct {
	logger zerolog.Logger

	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	closed  bool
	running bool
}

type LoopOptions struct {
	Logger *zerolog.Logger
}

func NewLoop(opt LoopOptions) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
	}
	if opt.Logger != nil {
		l.logger = *opt.Logger
	} else {
		l.logger = zerolog.Nop()
	}
	return l
}

// Post schedules task to run on the loop after every task posted before it.
// Safe to call from any goroutine. Returns false if the loop is closed.
func (l *Loop) Post(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes posted tasks on the calling goroutine until ctx is done or
// the loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		panic("livedb: Loop.Run called twice")
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		l.Drain()

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return ErrClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Drain runs every task that is pending when it is called, plus the tasks
// those tasks post, and returns how many ran. Owners that pump the loop
// themselves call Drain instead of Run.
func (l *Loop) Drain() int {
	var n int
	for {
		l.mu.Lock()
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			return n
		}
		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		task()
		n++
	}
}

func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Close stops accepting tasks. Tasks already posted are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	dropped := len(l.tasks)
	l.tasks = nil
	l.mu.Unlock()

	if dropped > 0 {
		l.logger.Debug().Int("dropped", dropped).Msg("loop closed with pending tasks")
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
