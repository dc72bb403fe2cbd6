package process

import "sync/atomic"

// Process-wide supervision flags. They are set from asynchronous
// contexts (signal handlers, watchers) and only ever cleared by the
// loop that consumes them. Plain atomic writes, no allocation: safe to
// call from a signal-delivery goroutine at any time. They live for the
// whole process and are never torn down.
var (
	pmReload  atomic.Bool
	pmRespawn atomic.Bool
	pmQuit    atomic.Bool

	// wakeC wakes a master blocked between control-loop passes. A
	// one-slot buffer coalesces bursts of signals into a single wake,
	// mirroring the level-triggered flags.
	wakeC = make(chan struct{}, 1)
)

// RequestReload asks the master to rebuild its configuration and
// listener generation. Multiple requests delivered before the master
// observes the flag coalesce into one reload pass.
func RequestReload() {
	pmReload.Store(true)
	wake()
}

// RequestRespawn asks the master to respawn workers for the currently
// active generation, without a configuration change.
func RequestRespawn() {
	pmRespawn.Store(true)
	wake()
}

// RequestQuit asks the running cycle (master, worker, or
// single-process) to stop.
func RequestQuit() {
	pmQuit.Store(true)
	wake()
}

// QuitRequested reports whether a quit has been requested in this
// process.
func QuitRequested() bool {
	return pmQuit.Load()
}

func wake() {
	select {
	case wakeC <- struct{}{}:
	default:
	}
}

// resetFlags clears all supervision flags. Test helper.
func resetFlags() {
	pmReload.Store(false)
	pmRespawn.Store(false)
	pmQuit.Store(false)
	select {
	case <-wakeC:
	default:
	}
}
