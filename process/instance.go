package process

import (
	"github.com/pkg/errors"
)

// Role identifies which half of the process model an Instance runs.
type Role int8

const (
	RoleMaster Role = iota
	RoleWorker
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleWorker:
		return "worker"
	default:
		return "unknown"
	}
}

// Instance is a process descriptor. The master's Instance owns the
// current generation's worker Instances; a worker Instance owns its
// Context and its command channel, never other Instances.
type Instance struct {
	Role Role

	// ID is the worker's index within its generation. Zero for the
	// master.
	ID int

	// Pid is set in the parent once the worker process has been
	// started, and to the process's own pid inside a worker.
	Pid int

	Ctx  *Context
	Chan *Channel

	// Workers is the master's current generation, in spawn order.
	Workers []*Instance
}

// cloneWorker derives worker descriptor i of a new generation from the
// master instance: base fields are copied, and the worker gets its own
// fresh Context built from the master's current configuration. Workers
// never share a Context with the master or with each other.
func cloneWorker(parent *Instance, id int) (*Instance, error) {
	if parent == nil || parent.Ctx == nil {
		return nil, errors.New("no parent context to clone from")
	}
	ctx, err := NewContext(parent.Ctx.Config)
	if err != nil {
		return nil, err
	}
	return &Instance{
		Role: RoleWorker,
		ID:   id,
		Ctx:  ctx,
	}, nil
}
