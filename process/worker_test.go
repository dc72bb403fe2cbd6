package process

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/zhanglei/twemproxy-1/internal/proto"
)

// inheritedFd binds a listener and returns a dup of its descriptor,
// standing in for an fd inherited at exec time.
func inheritedFd(t *testing.T, name string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	conn, err := NewProxyConnection(ln, name)
	require.NoError(t, err)
	dup, err := dupFd(conn.Fd(), name)
	require.NoError(t, err)
	return int(dup.fd)
}

func testManifest(t *testing.T, selfFd, siblingFd, chanFd int) *WorkerManifest {
	t.Helper()
	return &WorkerManifest{
		WorkerID:  0,
		ChannelFd: chanFd,
		Workers: []ManifestWorker{
			{ID: 0, Pools: []ManifestPool{{Name: "p1", Addr: "0.0.0.0:11211", Fd: selfFd}}},
			{ID: 1, Pools: []ManifestPool{{Name: "p1", Addr: "0.0.0.0:11211", Fd: siblingFd}}},
		},
	}
}

func newTestWorker(t *testing.T, man *WorkerManifest, loop *fakeLoop) *Worker {
	t.Helper()
	w, err := NewWorker(l, man,
		func() (EventLoop, error) { return loop, nil },
		func(ins *Instance) error {
			for _, pool := range ins.Ctx.Pools {
				if pool.Conn == nil {
					t.Fatalf("worker pool %q lost its inherited connection", pool.Name)
				}
			}
			return nil
		})
	require.NoError(t, err)
	return w
}

func TestNewWorkerPrunesSiblings(t *testing.T) {
	selfFd := inheritedFd(t, "self")
	siblingFd := inheritedFd(t, "sibling")
	ch, err := NewChannel()
	require.NoError(t, err)
	defer ch.Release()

	w := newTestWorker(t, testManifest(t, selfFd, siblingFd, int(ch.WorkerFile().Fd())), newFakeLoop(nil))

	require.Equal(t, RoleWorker, w.ins.Role)
	require.Len(t, w.ins.Ctx.Pools, 1, "only this worker's own pools remain")
	require.NotNil(t, w.ins.Ctx.Pools[0].Conn)

	// the sibling's inherited descriptor must be closed
	_, err = unix.FcntlInt(uintptr(siblingFd), unix.F_GETFD, 0)
	require.Error(t, err, "sibling fd should be closed after pruning")

	_, err = unix.FcntlInt(uintptr(selfFd), unix.F_GETFD, 0)
	require.NoError(t, err, "own fd must stay open")
}

func TestWorkerRunQuitsCleanly(t *testing.T) {
	resetFlags()
	t.Cleanup(resetFlags)

	selfFd := inheritedFd(t, "self")
	siblingFd := inheritedFd(t, "sibling")
	ch, err := NewChannel()
	require.NoError(t, err)

	loop := newFakeLoop(func(f *fakeLoop) error {
		if f.iterations == 2 {
			RequestQuit()
		}
		return nil
	})
	w := newTestWorker(t, testManifest(t, selfFd, siblingFd, int(ch.WorkerFile().Fd())), loop)

	require.Equal(t, 0, w.Run(), "a clean quit exits 0")
	require.GreaterOrEqual(t, loop.iterations, 2)
	require.True(t, loop.closed, "the context teardown must close the loop")
}

func TestWorkerRunEngineFailureExitsNonZero(t *testing.T) {
	resetFlags()
	t.Cleanup(resetFlags)

	selfFd := inheritedFd(t, "self")
	siblingFd := inheritedFd(t, "sibling")
	ch, err := NewChannel()
	require.NoError(t, err)

	loop := newFakeLoop(func(f *fakeLoop) error {
		return unix.EBADF
	})
	w := newTestWorker(t, testManifest(t, selfFd, siblingFd, int(ch.WorkerFile().Fd())), loop)

	require.Equal(t, 1, w.Run(), "an engine failure must be distinguishable from a clean quit")
}

func TestWorkerChannelQuitCommand(t *testing.T) {
	resetFlags()
	t.Cleanup(resetFlags)

	selfFd := inheritedFd(t, "self")
	siblingFd := inheritedFd(t, "sibling")
	ch, err := NewChannel()
	require.NoError(t, err)

	w := newTestWorker(t, testManifest(t, selfFd, siblingFd, int(ch.WorkerFile().Fd())), newFakeLoop(nil))

	require.NoError(t, ch.Send(proto.CmdQuit))
	require.NoError(t, w.onChannelReadable())
	require.True(t, QuitRequested(), "the quit command must set the quit flag")
}

func TestWorkerChannelEOFQuits(t *testing.T) {
	resetFlags()
	t.Cleanup(resetFlags)

	selfFd := inheritedFd(t, "self")
	siblingFd := inheritedFd(t, "sibling")
	ch, err := NewChannel()
	require.NoError(t, err)

	// the worker must keep its own copy of the read end
	dupFdNum, err := dupFd(ch.WorkerFile().Fd(), "worker-copy")
	require.NoError(t, err)
	w := newTestWorker(t, testManifest(t, selfFd, siblingFd, int(dupFdNum.fd)), newFakeLoop(nil))

	ch.Release()
	require.NoError(t, w.onChannelReadable())
	require.True(t, QuitRequested(), "a closed channel means the master is gone; quit")
}
