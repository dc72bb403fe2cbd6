package process

import (
	"os"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/zhanglei/twemproxy-1/config"
	"github.com/zhanglei/twemproxy-1/stats"
)

// Master supervises the worker-process pool: it reacts to the sticky
// reload/respawn/quit flags, builds listener generations, spawns
// workers, and otherwise blocks waiting for the next request.
type Master struct {
	l          log15.Logger
	parent     *Instance
	configFn   func() (*config.Config, error)
	listenerFn ListenerFunc
	spawnFn    spawnFunc
}

// Option configures a Master.
// See Rob Pike's post on the topic for more information on this pattern:
// https://commandcenter.blogspot.com/2014/01/self-referential-functions-and-design.html
type Option func(m *Master)

// WithLogger configures the logger for master operations. By default,
// nothing will be logged.
func WithLogger(l log15.Logger) Option {
	return func(m *Master) {
		m.l = l
	}
}

// WithConfigFunc sets the configuration loader invoked on every reload
// pass. By default a reload reuses the configuration the master was
// constructed with.
func WithConfigFunc(fn func() (*config.Config, error)) Option {
	return func(m *Master) {
		m.configFn = fn
	}
}

// withSpawnFunc replaces the process-creation step. Test seam.
func withSpawnFunc(fn spawnFunc) Option {
	return func(m *Master) {
		m.spawnFn = fn
	}
}

// NewMaster builds a master around an initial configuration. listenerFn
// binds (or re-registers) a worker instance's pools; workers are spawned
// by re-executing the current binary.
func NewMaster(cfg *config.Config, listenerFn ListenerFunc, opts ...Option) (*Master, error) {
	if listenerFn == nil {
		return nil, errors.New("nil listener func")
	}
	ctx, err := NewContext(cfg)
	if err != nil {
		return nil, err
	}
	noopLogger := log15.New()
	noopLogger.SetHandler(log15.DiscardHandler())
	m := &Master{
		l: noopLogger,
		parent: &Instance{
			Role: RoleMaster,
			Pid:  os.Getpid(),
			Ctx:  ctx,
		},
		listenerFn: listenerFn,
		spawnFn:    execSpawn,
	}
	m.configFn = func() (*config.Config, error) { return cfg, nil }
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Instance returns the master's own process descriptor.
func (m *Master) Instance() *Instance { return m.parent }

// Run is the master control loop. It builds the initial generation,
// then loops: handle a pending reload, handle a pending respawn, block
// until the next request. It returns nil after a requested quit and an
// error when a spawn pass fails; a failed reload is logged and the
// previous generation stays active.
func (m *Master) Run() error {
	if m.parent.Ctx.Config.WorkerProcesses < 1 {
		return errors.New("master cycle needs at least one worker process configured")
	}

	RequestRespawn() // spawn workers upon start
	if err := m.setupListeners(false); err != nil {
		return errors.Wrap(err, "failed to set up listeners")
	}

	for {
		if pmQuit.Load() {
			m.l.Info("quit requested, shutting down workers")
			m.shutdownWorkers(&m.parent.Workers)
			m.parent.Ctx.Destroy(m.l)
			return nil
		}

		if pmReload.CompareAndSwap(true, false) {
			m.reloadPass()
		}

		if pmRespawn.CompareAndSwap(true, false) {
			stats.Respawns.Inc()
			if err := m.spawnWorkers(m.parent.Workers); err != nil {
				// starting zero workers is not a degraded-but-running state
				return errors.Wrap(err, "failed to spawn workers")
			}
		}

		// block until the next signal; no polling, no timer
		<-wakeC
	}
}

// reloadPass attempts one configuration reload. Every failure path
// leaves the previous context and generation fully active: reload is
// all-or-nothing as seen from the outside.
func (m *Master) reloadPass() {
	m.l.Info("reloading config")

	cfg, err := m.configFn()
	if err != nil {
		m.l.Error("failed to reload config, keeping current generation", "err", err)
		stats.ReloadFailures.Inc()
		return
	}
	if cfg.WorkerProcesses < 1 {
		m.l.Error("reloaded config has no worker processes, keeping current generation")
		stats.ReloadFailures.Inc()
		return
	}
	ctx, err := NewContext(cfg)
	if err != nil {
		m.l.Error("failed to recreate context, keeping current generation", "err", err)
		stats.ReloadFailures.Inc()
		return
	}

	prevCtx := m.parent.Ctx
	m.parent.Ctx = ctx

	if err := m.setupListeners(true); err != nil {
		m.l.Error("failed to set up listeners, skipping reload", "err", err)
		m.parent.Ctx = prevCtx
		ctx.Destroy(m.l)
		stats.ReloadFailures.Inc()
		return
	}

	// the new generation is live; release the superseded context
	prevCtx.Destroy(m.l)
	stats.Reloads.Inc()
	pmRespawn.Store(true) // restart workers
}
