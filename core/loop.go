// Package core provides the I/O collaborators the supervision core
// drives: a poll-based event loop and the listener binder/acceptor.
package core

import (
	"sort"
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/utils/clock"
)

// DefaultPollTimeout bounds one loop iteration so the caller gets
// control back regularly to observe its quit flag.
const DefaultPollTimeout = 500 * time.Millisecond

// slowIterationThreshold is how long one dispatch pass may take before
// it is worth complaining about. Handlers are expected to be short; a
// slow pass stalls every other registered source.
const slowIterationThreshold = time.Second

// Loop is a single-threaded poll loop. One RunOnce call performs one
// cooperative iteration: poll every registered descriptor, dispatch
// readable ones, return.
type Loop struct {
	l       log15.Logger
	clock   clock.PassiveClock
	timeout time.Duration

	mu       sync.Mutex
	handlers map[int]func() error
	closed   bool
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPollTimeout sets the maximum time one iteration blocks waiting
// for readiness. Zero or negative restores the default.
func WithPollTimeout(d time.Duration) LoopOption {
	return func(lp *Loop) {
		lp.timeout = d
		if lp.timeout <= 0 {
			lp.timeout = DefaultPollTimeout
		}
	}
}

// WithClock substitutes the clock used for iteration timing.
func WithClock(c clock.PassiveClock) LoopOption {
	return func(lp *Loop) {
		lp.clock = c
	}
}

// NewLoop constructs an empty loop.
func NewLoop(l log15.Logger, opts ...LoopOption) *Loop {
	if l == nil {
		l = log15.New()
		l.SetHandler(log15.DiscardHandler())
	}
	lp := &Loop{
		l:        l,
		clock:    clock.RealClock{},
		timeout:  DefaultPollTimeout,
		handlers: make(map[int]func() error),
	}
	for _, opt := range opts {
		opt(lp)
	}
	return lp
}

// Register adds a descriptor and its readable-event handler.
func (lp *Loop) Register(fd uintptr, onReadable func() error) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.closed {
		return errors.New("event loop is closed")
	}
	if _, ok := lp.handlers[int(fd)]; ok {
		return errors.Errorf("fd %d is already registered", fd)
	}
	lp.handlers[int(fd)] = onReadable
	return nil
}

// Deregister removes a descriptor. Removing an unknown descriptor is an
// error: it means ownership bookkeeping has gone wrong somewhere.
func (lp *Loop) Deregister(fd uintptr) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if _, ok := lp.handlers[int(fd)]; !ok {
		return errors.Errorf("fd %d is not registered", fd)
	}
	delete(lp.handlers, int(fd))
	return nil
}

// RunOnce performs one iteration: wait for readiness on every
// registered descriptor, then run the handler of each readable one. An
// interrupted poll is not an error. A handler error is an engine
// failure and is returned to the caller.
func (lp *Loop) RunOnce() error {
	lp.mu.Lock()
	if lp.closed {
		lp.mu.Unlock()
		return errors.New("event loop is closed")
	}
	fds := make([]int, 0, len(lp.handlers))
	for fd := range lp.handlers {
		fds = append(fds, fd)
	}
	lp.mu.Unlock()
	sort.Ints(fds)

	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	n, err := unix.Poll(pfds, int(lp.timeout.Milliseconds()))
	if err == unix.EINTR {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "poll failed")
	}
	if n == 0 {
		return nil
	}

	start := lp.clock.Now()
	for _, pfd := range pfds {
		if pfd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
			continue
		}
		lp.mu.Lock()
		handler := lp.handlers[int(pfd.Fd)]
		lp.mu.Unlock()
		if handler == nil {
			// deregistered by an earlier handler in this same pass
			continue
		}
		if err := handler(); err != nil {
			return err
		}
	}
	if dur := lp.clock.Since(start); dur > slowIterationThreshold {
		lp.l.Warn("slow event loop iteration", "duration", dur)
	}
	return nil
}

// Close drops every registration and rejects further use.
func (lp *Loop) Close() error {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.closed = true
	lp.handlers = nil
	return nil
}
