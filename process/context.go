package process

import (
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/zhanglei/twemproxy-1/config"
)

// EventLoop is the per-process I/O engine this core drives. One call to
// RunOnce performs a single cooperative iteration: wait for readiness,
// dispatch handlers, return.
type EventLoop interface {
	Register(fd uintptr, onReadable func() error) error
	Deregister(fd uintptr) error
	RunOnce() error
	Close() error
}

// LoopFactory creates the event loop for a worker or single-process
// instance.
type LoopFactory func() (EventLoop, error)

// ListenerFunc binds an instance's pools: a pool that already owns a
// (migrated or inherited) connection is only re-registered under the
// instance context's event loop, a pool without one gets a freshly
// bound listening socket. It must be safe to call once per pool per
// generation.
type ListenerFunc func(ins *Instance) error

// Context is one configuration generation: the parsed configuration,
// the pools built from it, and the owning process's event loop. A
// Context is never mutated in place; every reload builds a fresh one.
type Context struct {
	Config *config.Config
	Pools  []*ProxyPool

	// Loop is nil in the master: listener events are only driven inside
	// the worker process that owns the socket.
	Loop EventLoop
}

// NewContext builds a fresh generation context from a configuration.
func NewContext(cfg *config.Config) (*Context, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "can't create context")
	}
	pools := make([]*ProxyPool, 0, len(cfg.Pools))
	for i := range cfg.Pools {
		p := &cfg.Pools[i]
		pools = append(pools, &ProxyPool{
			Name:    p.Name,
			Addr:    p.Listen,
			Servers: p.Servers,
		})
	}
	return &Context{Config: cfg, Pools: pools}, nil
}

// Destroy releases everything the context owns: every pool's remaining
// connection is closed, the event loop is shut down, and the pool
// collection is dropped so the context cannot be reused. Connections
// that were migrated out of this context are untouched; their slots
// are already nil.
func (c *Context) Destroy(l log15.Logger) {
	for _, pool := range c.Pools {
		if pool.Conn == nil {
			continue
		}
		if err := pool.Conn.Close(); err != nil {
			l.Error("error closing pool listener", "pool", pool.Name, "addr", pool.Addr, "err", err)
		}
		pool.Conn = nil
	}
	if c.Loop != nil {
		if err := c.Loop.Close(); err != nil {
			l.Error("error closing event loop", "err", err)
		}
		c.Loop = nil
	}
	c.Pools = nil
}
