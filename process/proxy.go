package process

import (
	"net"
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// ProxyPool is one logical listening endpoint: a human-readable name,
// the bind address that identifies it across configuration changes,
// and at most one live listening connection.
type ProxyPool struct {
	Name    string
	Addr    string
	Servers []string

	// Conn is the pool's live listening socket, or nil if the pool is
	// not bound. A ProxyConnection is owned by exactly one pool at a
	// time; migration moves it and clears the source slot.
	Conn *ProxyConnection
}

// Adopt installs a connection into an unbound pool and points the
// connection's back-reference at its new owner.
func (p *ProxyPool) Adopt(c *ProxyConnection) error {
	if p.Conn != nil {
		return errors.Errorf("pool %q already owns a connection", p.Name)
	}
	p.Conn = c
	c.owner = p
	return nil
}

// ProxyConnection is the live resource behind a pool: the bound
// listening socket, a duplicated descriptor used to pass the socket to
// spawned workers, and the event-loop registration (worker side).
type ProxyConnection struct {
	ln    net.Listener
	file  *file
	owner *ProxyPool
	loop  EventLoop
}

// NewProxyConnection wraps a freshly bound listener. The listener's
// descriptor is duplicated so it can be inherited by spawned worker
// processes without disturbing the listener's blocking mode.
func NewProxyConnection(ln net.Listener, name string) (*ProxyConnection, error) {
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return nil, errors.Errorf("%T does not expose its descriptor", ln)
	}
	f, err := dupConnFile(sc, name)
	if err != nil {
		return nil, errors.Wrapf(err, "can't dup listener %q", name)
	}
	return &ProxyConnection{ln: ln, file: f}, nil
}

// newProxyConnectionFromFd reconstructs a connection from a descriptor
// inherited at exec time, in a worker process.
func newProxyConnectionFromFd(fd uintptr, name string) (*ProxyConnection, error) {
	f := newFile(fd, name)
	if f == nil {
		return nil, errors.Errorf("invalid inherited fd %d for %q", fd, name)
	}
	ln, err := net.FileListener(f.File)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "can't inherit listener %q", name)
	}
	return &ProxyConnection{ln: ln, file: f}, nil
}

// Listener returns the live listening socket.
func (c *ProxyConnection) Listener() net.Listener { return c.ln }

// File returns the duplicated descriptor for passing to a worker.
func (c *ProxyConnection) File() *os.File { return c.file.File }

// Fd returns the raw duplicated descriptor.
func (c *ProxyConnection) Fd() uintptr { return c.file.fd }

// Owner returns the pool currently owning this connection.
func (c *ProxyConnection) Owner() *ProxyPool { return c.owner }

// Addr returns the listener's bound address.
func (c *ProxyConnection) Addr() net.Addr {
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

// Rebind re-registers the connection under a new event loop. The
// previous registration, if any, is dropped first. A nil loop leaves
// the connection registered nowhere, which is the master's case: only
// the worker process that owns the socket drives events for it.
func (c *ProxyConnection) Rebind(loop EventLoop, onReadable func() error) error {
	if c.loop != nil {
		if err := c.loop.Deregister(c.file.fd); err != nil {
			return errors.Wrap(err, "can't drop old event registration")
		}
		c.loop = nil
	}
	if loop == nil {
		return nil
	}
	if err := loop.Register(c.file.fd, onReadable); err != nil {
		return errors.Wrap(err, "can't register listener with event loop")
	}
	c.loop = loop
	return nil
}

// Close releases the listening socket and its duplicated descriptor.
func (c *ProxyConnection) Close() error {
	var firstErr error
	if c.loop != nil {
		if err := c.loop.Deregister(c.file.fd); err != nil && firstErr == nil {
			firstErr = err
		}
		c.loop = nil
	}
	if c.ln != nil {
		if err := c.ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.ln = nil
	}
	if c.file != nil {
		if err := c.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.file = nil
	}
	return firstErr
}
