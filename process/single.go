package process

import (
	"os"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/zhanglei/twemproxy-1/config"
)

// RunSingle runs the proxy without worker processes: the calling
// process binds its own listeners and drives the event engine inline
// until a quit is requested or the engine fails. Reload is not
// supported in this mode.
func RunSingle(l log15.Logger, cfg *config.Config, newLoop LoopFactory, listenerFn ListenerFunc) error {
	if l == nil {
		l = log15.New()
		l.SetHandler(log15.DiscardHandler())
	}
	if newLoop == nil || listenerFn == nil {
		return errors.New("nil loop factory or listener func")
	}

	ctx, err := NewContext(cfg)
	if err != nil {
		return err
	}
	ins := &Instance{
		Role: RoleMaster,
		Pid:  os.Getpid(),
		Ctx:  ctx,
	}

	loop, err := newLoop()
	if err != nil {
		return errors.Wrap(err, "failed to initialize event loop")
	}
	ctx.Loop = loop
	defer ctx.Destroy(l)

	if err := listenerFn(ins); err != nil {
		return errors.Wrap(err, "failed to initialize listeners")
	}

	for !QuitRequested() {
		if err := loop.RunOnce(); err != nil {
			return errors.Wrap(err, "event engine failed")
		}
	}
	l.Info("single-process cycle stopped")
	return nil
}
