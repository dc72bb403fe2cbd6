package process

import (
	"net"
	"testing"

	"github.com/inconshreveable/log15"

	"github.com/zhanglei/twemproxy-1/config"
)

var l = log15.New()

// newTestConn binds a real listener on a loopback port and wraps it.
func newTestConn(t *testing.T, name string) *ProxyConnection {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	conn, err := NewProxyConnection(ln, name)
	if err != nil {
		ln.Close()
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestPool returns a bound pool. The addr is the pool's migration
// identity and need not match the listener's real port.
func newTestPool(t *testing.T, name, addr string) *ProxyPool {
	t.Helper()
	pool := &ProxyPool{Name: name, Addr: addr}
	if err := pool.Adopt(newTestConn(t, name)); err != nil {
		t.Fatal(err)
	}
	return pool
}

func testConfig(workers int, pools ...config.Pool) *config.Config {
	return &config.Config{WorkerProcesses: workers, Pools: pools}
}

// bindTestListeners is a ListenerFunc for tests: fresh pools get a real
// loopback listener, migrated pools are left as they are.
func bindTestListeners(t *testing.T) ListenerFunc {
	return func(ins *Instance) error {
		for _, pool := range ins.Ctx.Pools {
			if pool.Conn != nil {
				continue
			}
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return err
			}
			conn, err := NewProxyConnection(ln, pool.Name)
			if err != nil {
				ln.Close()
				return err
			}
			if err := pool.Adopt(conn); err != nil {
				conn.Close()
				return err
			}
		}
		return nil
	}
}

// fakeLoop is an EventLoop whose iterations are driven by a callback.
type fakeLoop struct {
	registered map[uintptr]func() error
	onRun      func(*fakeLoop) error
	iterations int
	closed     bool
}

func newFakeLoop(onRun func(*fakeLoop) error) *fakeLoop {
	return &fakeLoop{
		registered: make(map[uintptr]func() error),
		onRun:      onRun,
	}
}

func (f *fakeLoop) Register(fd uintptr, onReadable func() error) error {
	f.registered[fd] = onReadable
	return nil
}

func (f *fakeLoop) Deregister(fd uintptr) error {
	delete(f.registered, fd)
	return nil
}

func (f *fakeLoop) RunOnce() error {
	f.iterations++
	if f.onRun != nil {
		return f.onRun(f)
	}
	return nil
}

func (f *fakeLoop) Close() error {
	f.closed = true
	return nil
}
