package process

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/zhanglei/twemproxy-1/internal/proto"
)

// Channel is the master→worker command channel: a socket pair created
// before the worker process is started. The master keeps the control
// end; the worker end travels to the child through descriptor
// inheritance and is registered with the worker's event loop.
type Channel struct {
	control *os.File // master-held write side
	worker  *os.File // worker-held read side
}

// NewChannel allocates a fresh socket pair. Both ends are close-on-exec
// in the allocating process; the worker end reaches the child only via
// the spawner's explicit descriptor list.
func NewChannel() (*Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "can't allocate channel socket pair")
	}
	return &Channel{
		control: os.NewFile(uintptr(fds[0]), "channel-control"),
		worker:  os.NewFile(uintptr(fds[1]), "channel-worker"),
	}, nil
}

// Send writes one command record to the worker.
func (c *Channel) Send(cmd proto.Command) error {
	if c.control == nil {
		return errors.New("channel control end is closed")
	}
	return proto.WriteCommand(c.control, cmd)
}

// WorkerFile returns the worker-side end for descriptor inheritance.
func (c *Channel) WorkerFile() *os.File { return c.worker }

// closeWorkerEnd drops the master's copy of the worker-side end once
// the child holds its own.
func (c *Channel) closeWorkerEnd() {
	if c.worker != nil {
		c.worker.Close()
		c.worker = nil
	}
}

// Release closes whatever ends this process still holds.
func (c *Channel) Release() {
	if c.control != nil {
		c.control.Close()
		c.control = nil
	}
	c.closeWorkerEnd()
}
