package process

import (
	"github.com/pkg/errors"
)

// setupListeners builds one complete listener generation: exactly N
// worker descriptors for the configured worker-process count, each with
// its own fresh Context and bound pools. On reload, worker i of the new
// generation is matched positionally against worker i of the old one
// and live listeners are migrated before binding; indexes past the end
// of the old generation simply bind fresh.
//
// The new generation is installed only after every worker has bound
// successfully. On any failure the build is rejected whole: migrated
// connections are returned to the old generation, everything freshly
// created is destroyed, and the previous generation stays active. Only
// after a successful install is the old generation handed to the
// shutdown sequencer.
func (m *Master) setupListeners(reloading bool) error {
	cfg := m.parent.Ctx.Config
	n := cfg.WorkerProcesses

	var old []*Instance
	if reloading {
		old = m.parent.Workers
	}

	workers := make([]*Instance, 0, n)
	var moves []migration

	reject := func(err error) error {
		rollbackMigrations(moves, m.l)
		for _, w := range workers {
			w.Ctx.Destroy(m.l)
		}
		return err
	}

	for i := 0; i < n; i++ {
		worker, err := cloneWorker(m.parent, i)
		if err != nil {
			m.l.Error("failed to create worker context", "worker", i, "err", err)
			return reject(err)
		}
		workers = append(workers, worker)

		if reloading && i < len(old) {
			moves = append(moves, migrateProxies(worker.Ctx, old[i].Ctx, m.l)...)
		}

		if err := m.listenerFn(worker); err != nil {
			m.l.Error("failed to bind worker listeners", "worker", i, "err", err)
			return reject(errors.Wrapf(err, "worker %d", i))
		}
	}

	m.parent.Workers = workers
	if reloading {
		m.shutdownWorkers(&old)
	}
	return nil
}
