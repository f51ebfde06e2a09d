// Package fetch is the asynchronous data-loading primitive behind every
// dashboard view: a tri-state loader that re-runs its producer when its
// dependencies change by value, keeps only the latest result, and can poll.
package fetch

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// Producer yields a value or an error. It must honor ctx cancellation.
type Producer[T any] func(ctx context.Context) (T, error)

// State is the tri-state view of a loader. At most one of Data, Loading and
// Err is set.
type State[T any] struct {
	Data    *T     `json:"data,omitempty"`
	Loading bool   `json:"loading"`
	Err     string `json:"error,omitempty"`
	Cause   error  `json:"-"`
}

// Option configures a Loader.
type Option[T any] func(*Loader[T])

// OnChange registers fn to receive every committed state. fn runs with the
// loader locked and must not call back into it.
func OnChange[T any](fn func(State[T])) Option[T] {
	return func(l *Loader[T]) { l.onChange = fn }
}

// WithFallback lets fn turn a producer error into data. Returning false
// keeps the error.
func WithFallback[T any](fn func(error) (T, bool)) Option[T] {
	return func(l *Loader[T]) { l.fallback = fn }
}

// WithErrorText sets how errors are rendered into State.Err.
func WithErrorText[T any](fn func(error) string) Option[T] {
	return func(l *Loader[T]) { l.errText = fn }
}

// Loader runs one producer at a time on behalf of a single owner. A newer
// call always supersedes an older one: the older call is cancelled and its
// result, should it still arrive, is dropped.
type Loader[T any] struct {
	parent   context.Context
	onChange func(State[T])
	fallback func(error) (T, bool)
	errText  func(error) string

	mu       sync.Mutex
	state    State[T]
	seq      uint64
	cancel   context.CancelFunc
	produce  Producer[T]
	deps     []any
	started  bool
	closed   bool
	stopPoll chan struct{}

	wg sync.WaitGroup
}

// New creates an idle loader. Cancelling ctx has the same effect as Close
// on in-flight work.
func New[T any](ctx context.Context, opts ...Option[T]) *Loader[T] {
	l := &Loader[T]{
		parent:  ctx,
		errText: func(err error) string { return err.Error() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load runs produce on the first call and whenever deps differ by value
// from the previous call. It reports whether a new call was started. When
// deps are unchanged the producer is still remembered for Refetch and Poll.
func (l *Loader[T]) Load(produce Producer[T], deps ...any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.produce = produce
	if l.started && reflect.DeepEqual(l.deps, deps) {
		return false
	}
	l.deps = deps
	l.start()
	return true
}

// Refetch re-runs the last producer regardless of deps.
func (l *Loader[T]) Refetch() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.produce == nil {
		return false
	}
	l.start()
	return true
}

// Poll refetches every interval until Close or the parent context ends. A
// tick that finds a call still in flight is skipped. Calling Poll again
// replaces the previous interval.
func (l *Loader[T]) Poll(interval time.Duration) {
	if interval <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if l.stopPoll != nil {
		close(l.stopPoll)
	}
	stop := make(chan struct{})
	l.stopPoll = stop

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-l.parent.Done():
				return
			case <-ticker.C:
				l.tick()
			}
		}
	}()
}

func (l *Loader[T]) tick() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.produce == nil || l.state.Loading {
		return
	}
	l.start()
}

// State returns the current state.
func (l *Loader[T]) State() State[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Close cancels in-flight work and stops polling. No state change is
// committed after Close returns.
func (l *Loader[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.stopPoll != nil {
		close(l.stopPoll)
		l.stopPoll = nil
	}
}

// Wait blocks until every goroutine started by the loader has returned.
// With polling active it only returns after Close.
func (l *Loader[T]) Wait() {
	l.wg.Wait()
}

// start must be called with mu held.
func (l *Loader[T]) start() {
	if l.cancel != nil {
		l.cancel()
	}
	ctx, cancel := context.WithCancel(l.parent)
	l.cancel = cancel
	l.seq++
	seq := l.seq
	produce := l.produce
	l.started = true
	l.commit(State[T]{Loading: true})

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		v, err := produce(ctx)
		l.settle(seq, v, err)
	}()
}

func (l *Loader[T]) settle(seq uint64, v T, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || seq != l.seq || l.parent.Err() != nil {
		return
	}
	l.cancel()
	l.cancel = nil

	if err != nil && l.fallback != nil {
		if fb, ok := l.fallback(err); ok {
			v, err = fb, nil
		}
	}
	if err != nil {
		l.commit(State[T]{Err: l.errText(err), Cause: err})
		return
	}
	l.commit(State[T]{Data: &v})
}

func (l *Loader[T]) commit(s State[T]) {
	l.state = s
	if l.onChange != nil {
		l.onChange(s)
	}
}
