package process

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/zhanglei/twemproxy-1/stats"
)

// spawnFunc starts one worker process and returns its pid. Seam for
// tests; the real implementation re-executes the current binary.
type spawnFunc func(m *Master, worker *Instance, envManifest string, extra []*os.File) (int, error)

// spawnWorkers starts one OS process per worker descriptor, in order.
// A channel-allocation or process-start failure aborts the whole pass;
// the control loop treats that as fatal. In the parent, the child's pid
// is recorded on the descriptor and the parent's copy of the worker-side
// channel end is dropped. The child's half of the protocol — pruning
// sibling descriptors and entering the run loop — happens in the worker
// entry point once the child observes its manifest.
func (m *Master) spawnWorkers(workers []*Instance) error {
	for _, worker := range workers {
		ch, err := NewChannel()
		if err != nil {
			return err
		}
		worker.Chan = ch

		envManifest, extra, err := buildWorkerEnv(workers, worker)
		if err != nil {
			return err
		}

		pid, err := m.spawnFn(m, worker, envManifest, extra)
		if err != nil {
			m.l.Error("failed to spawn worker", "worker", worker.ID, "err", err)
			return err
		}
		worker.Pid = pid
		ch.closeWorkerEnd()
		stats.WorkersSpawned.Inc()
		m.l.Info("worker started", "worker", worker.ID, "pid", pid)
	}
	return nil
}

// execSpawn re-executes the current binary with the same arguments; the
// manifest in the environment switches the child onto the worker path.
func execSpawn(m *Master, worker *Instance, envManifest string, extra []*os.File) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, errors.Wrap(err, "can't determine own executable")
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), workerManifestEnv+"="+envManifest)
	cmd.ExtraFiles = extra
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, errors.Wrapf(err, "can't start worker %d", worker.ID)
	}
	// Reap the child when it exits. Its fate is not otherwise monitored:
	// there is no restart-on-crash policy here.
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid, nil
}
