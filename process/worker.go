package process

import (
	"io"
	"os"
	"os/signal"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/zhanglei/twemproxy-1/internal/proto"
)

// Worker is the supervision side of one worker process: the instance
// rebuilt from the inherited manifest, the command channel's read end,
// and the run loop that drives the event engine until quit.
type Worker struct {
	l          log15.Logger
	ins        *Instance
	newLoop    LoopFactory
	listenerFn ListenerFunc

	chanFile *file
}

// NewWorker reconstructs this process's worker instance from its spawn
// manifest. Descriptors inherited for sibling workers are closed here —
// they belong logically to other processes and must not be held open —
// so after NewWorker only this worker's own listeners and channel end
// remain.
func NewWorker(l log15.Logger, man *WorkerManifest, newLoop LoopFactory, listenerFn ListenerFunc) (*Worker, error) {
	if l == nil {
		l = log15.New()
		l.SetHandler(log15.DiscardHandler())
	}
	if newLoop == nil {
		return nil, errors.New("nil loop factory")
	}
	if listenerFn == nil {
		return nil, errors.New("nil listener func")
	}

	ins := &Instance{
		Role: RoleWorker,
		ID:   man.WorkerID,
		Pid:  os.Getpid(),
	}

	var pools []*ProxyPool
	for _, mw := range man.Workers {
		if mw.ID != man.WorkerID {
			// prune: close the siblings' inherited listeners
			for _, mp := range mw.Pools {
				if f := os.NewFile(uintptr(mp.Fd), mp.Name); f != nil {
					f.Close()
				}
			}
			continue
		}
		for _, mp := range mw.Pools {
			pool := &ProxyPool{Name: mp.Name, Addr: mp.Addr, Servers: mp.Servers}
			conn, err := newProxyConnectionFromFd(uintptr(mp.Fd), mp.Name)
			if err != nil {
				return nil, err
			}
			if err := pool.Adopt(conn); err != nil {
				return nil, err
			}
			pools = append(pools, pool)
		}
	}
	if len(pools) == 0 {
		return nil, errors.Errorf("manifest has no pools for worker %d", man.WorkerID)
	}
	ins.Ctx = &Context{Pools: pools}

	chanFile := newFile(uintptr(man.ChannelFd), "channel-worker")
	if chanFile == nil {
		return nil, errors.Errorf("invalid channel fd %d", man.ChannelFd)
	}

	return &Worker{
		l:          l.New("worker", man.WorkerID),
		ins:        ins,
		newLoop:    newLoop,
		listenerFn: listenerFn,
		chanFile:   chanFile,
	}, nil
}

// Instance returns this worker's process descriptor.
func (w *Worker) Instance() *Instance { return w.ins }

// Run is the worker run loop. It detaches from the master's signals,
// stands up the event loop, registers the inherited listeners and the
// command channel, then drives the engine one iteration at a time until
// a quit command arrives or the engine fails.
//
// The returned value is the process exit status: 0 for a clean quit, 1
// when the engine failed or initialization did, so a supervisor can
// tell a crash from a graceful stop.
func (w *Worker) Run() int {
	// Reload and friends are aimed at the master; the worker's only
	// command path is its channel.
	signal.Reset()

	loop, err := w.newLoop()
	if err != nil {
		w.l.Error("failed to initialize event loop", "err", err)
		return 1
	}
	w.ins.Ctx.Loop = loop

	if err := w.listenerFn(w.ins); err != nil {
		w.l.Error("failed to initialize listeners", "err", err)
		return 1
	}

	if err := loop.Register(w.chanFile.fd, w.onChannelReadable); err != nil {
		w.l.Error("failed to add channel event", "err", err)
		return 1
	}

	engineFailed := false
	for !QuitRequested() {
		if err := loop.RunOnce(); err != nil {
			w.l.Error("event engine failed", "err", err)
			engineFailed = true
			break
		}
	}
	w.l.Warn("worker terminating", "quit", QuitRequested(), "engine_failed", engineFailed)

	w.ins.Ctx.Destroy(w.l)
	w.chanFile.Close()

	if engineFailed {
		return 1
	}
	return 0
}

// onChannelReadable consumes one command record from the master. EOF
// means the master released the channel; the quit command is always
// written before that happens, so either way the worker stops.
func (w *Worker) onChannelReadable() error {
	cmd, err := proto.ReadCommand(w.chanFile)
	if err == io.EOF {
		w.l.Warn("command channel closed by master, quitting")
		RequestQuit()
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "command channel read failed")
	}
	switch cmd {
	case proto.CmdQuit:
		w.l.Info("received quit command")
		RequestQuit()
	default:
		w.l.Warn("ignoring unknown command", "command", uint32(cmd))
	}
	return nil
}
