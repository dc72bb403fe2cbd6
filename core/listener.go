package core

import (
	"context"
	"io"
	"net"
	"syscall"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/zhanglei/twemproxy-1/process"
)

// DefaultConnLimit caps concurrently served connections per process.
const DefaultConnLimit = 1024

// ConnHandler serves one accepted connection and closes it.
type ConnHandler func(c net.Conn) error

// DiscardHandler drains and closes the connection. It stands in for the
// proxy protocol engine, which lives downstream of the supervision
// core.
func DiscardHandler(c net.Conn) error {
	defer c.Close()
	_, err := io.Copy(io.Discard, c)
	return err
}

// Binder binds an instance's pools and accepts their connections. It
// implements the listener-initialization collaborator: a pool that
// already owns a connection — migrated across a reload or inherited at
// spawn — is only re-registered under the instance's event loop; a pool
// without one gets a freshly bound listening socket.
type Binder struct {
	l       log15.Logger
	handler ConnHandler
	eg      *errgroup.Group
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithConnHandler sets the handler for accepted connections.
func WithConnHandler(h ConnHandler) BinderOption {
	return func(b *Binder) {
		b.handler = h
	}
}

// WithConnLimit bounds concurrently served connections. Connections
// over the limit are dropped at accept.
func WithConnLimit(n int) BinderOption {
	return func(b *Binder) {
		b.eg = &errgroup.Group{}
		b.eg.SetLimit(n)
	}
}

// NewBinder constructs a binder.
func NewBinder(l log15.Logger, opts ...BinderOption) *Binder {
	if l == nil {
		l = log15.New()
		l.SetHandler(log15.DiscardHandler())
	}
	b := &Binder{
		l:       l,
		handler: DiscardHandler,
	}
	b.eg = &errgroup.Group{}
	b.eg.SetLimit(DefaultConnLimit)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// InitListener binds or re-registers every pool of the instance. Safe
// to call once per pool per generation: bound pools are never rebound.
func (b *Binder) InitListener(ins *process.Instance) error {
	for _, pool := range ins.Ctx.Pools {
		if pool.Conn == nil {
			ln, err := listenReuse(pool.Addr)
			if err != nil {
				return errors.Wrapf(err, "can't bind pool %q on %q", pool.Name, pool.Addr)
			}
			conn, err := process.NewProxyConnection(ln, pool.Name)
			if err != nil {
				ln.Close()
				return err
			}
			if err := pool.Adopt(conn); err != nil {
				conn.Close()
				return err
			}
			b.l.Info("bound listener", "pool", pool.Name, "addr", pool.Addr)
		} else {
			b.l.Info("reusing live listener", "pool", pool.Name, "addr", pool.Addr)
		}
		if err := pool.Conn.Rebind(ins.Ctx.Loop, b.acceptReady(pool)); err != nil {
			return errors.Wrapf(err, "pool %q", pool.Name)
		}
	}
	return nil
}

// acceptReady returns the readable-event handler for a pool's listener.
func (b *Binder) acceptReady(pool *process.ProxyPool) func() error {
	return func() error {
		c, err := pool.Conn.Listener().Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return errors.Wrapf(err, "accept failed on %q", pool.Addr)
		}
		ok := b.eg.TryGo(func() error {
			if err := b.handler(c); err != nil {
				b.l.Debug("connection handler error", "pool", pool.Name, "err", err)
			}
			return nil
		})
		if !ok {
			b.l.Warn("connection limit reached, dropping", "pool", pool.Name, "remote", c.RemoteAddr())
			c.Close()
		}
		return nil
	}
}

// listenReuse binds a TCP listener with SO_REUSEADDR and SO_REUSEPORT:
// every worker in a generation binds the same pool addresses, and a new
// generation binds addresses the outgoing one has not released yet.
func listenReuse(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), "tcp", addr)
}
