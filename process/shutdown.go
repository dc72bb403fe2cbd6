package process

import (
	"github.com/zhanglei/twemproxy-1/internal/proto"
)

// shutdownWorkers drains a superseded generation: in order, each worker
// is sent a quit command over its channel (best effort; a write failure
// is logged, not retried), the channel is released, and the worker's
// context is destroyed, closing any listeners migration left behind.
// The collection is emptied last.
//
// The quit command is always written before its channel is released and
// before the owning context is destroyed, so a worker that observes the
// command never races the sending side's teardown. The worker process
// itself is not waited for: it observes the command asynchronously and
// exits on its own.
func (m *Master) shutdownWorkers(workers *[]*Instance) {
	for _, worker := range *workers {
		if worker.Chan != nil {
			if err := worker.Chan.Send(proto.CmdQuit); err != nil {
				m.l.Error("failed to send quit command", "worker", worker.ID, "pid", worker.Pid, "err", err)
			}
			worker.Chan.Release()
			worker.Chan = nil
		}
		if worker.Ctx != nil {
			worker.Ctx.Destroy(m.l)
			worker.Ctx = nil
		}
	}
	*workers = nil
}
