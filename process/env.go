package process

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// workerManifestEnv carries the generation manifest into a spawned
// worker process. Its presence is what marks a process as a worker.
const workerManifestEnv = "NC_WORKER_MANIFEST"

// extraFdStart is the descriptor number the first inherited file lands
// on in the child: 0/1/2 are the standard streams.
const extraFdStart = 3

// WorkerManifest describes the whole generation to one spawned worker:
// every worker's pools with the descriptor each bound listener was
// inherited on, plus the worker's own identity and command-channel
// descriptor. The worker needs the full set so it can close every
// sibling's descriptors before running.
type WorkerManifest struct {
	WorkerID  int              `json:"worker_id"`
	ChannelFd int              `json:"channel_fd"`
	Workers   []ManifestWorker `json:"workers"`
}

// ManifestWorker is one worker's slice of the generation.
type ManifestWorker struct {
	ID    int            `json:"id"`
	Pools []ManifestPool `json:"pools"`
}

// ManifestPool is one inherited pool: its identity plus the descriptor
// its listening socket arrives on. Servers are carried opaquely for the
// engine downstream of this core.
type ManifestPool struct {
	Name    string   `json:"name"`
	Addr    string   `json:"addr"`
	Servers []string `json:"servers,omitempty"`
	Fd      int      `json:"fd"`
}

// buildWorkerEnv lays out the env manifest and matching inherited-file
// list for spawning the given worker: every bound pool of every worker
// in generation order, then the worker's own channel end last. The
// descriptor numbers in the manifest correspond to the returned files'
// positions.
func buildWorkerEnv(workers []*Instance, self *Instance) (string, []*os.File, error) {
	var extra []*os.File
	manifest := WorkerManifest{
		WorkerID: self.ID,
		Workers:  make([]ManifestWorker, 0, len(workers)),
	}

	for _, worker := range workers {
		mw := ManifestWorker{ID: worker.ID}
		for _, pool := range worker.Ctx.Pools {
			if pool.Conn == nil {
				return "", nil, errors.Errorf("pool %q of worker %d is not bound", pool.Name, worker.ID)
			}
			mw.Pools = append(mw.Pools, ManifestPool{
				Name:    pool.Name,
				Addr:    pool.Addr,
				Servers: pool.Servers,
				Fd:      extraFdStart + len(extra),
			})
			extra = append(extra, pool.Conn.File())
		}
		manifest.Workers = append(manifest.Workers, mw)
	}

	if self.Chan == nil || self.Chan.WorkerFile() == nil {
		return "", nil, errors.Errorf("worker %d has no channel to inherit", self.ID)
	}
	manifest.ChannelFd = extraFdStart + len(extra)
	extra = append(extra, self.Chan.WorkerFile())

	data, err := json.Marshal(&manifest)
	if err != nil {
		return "", nil, errors.Wrap(err, "can't encode worker manifest")
	}
	return string(data), extra, nil
}

// InWorkerProcess reports whether this process was spawned as a worker.
func InWorkerProcess() bool {
	return os.Getenv(workerManifestEnv) != ""
}

// LoadWorkerManifest parses the manifest a worker was spawned with.
func LoadWorkerManifest() (*WorkerManifest, error) {
	raw := os.Getenv(workerManifestEnv)
	if raw == "" {
		return nil, errors.Errorf("%s is not set; not a worker process", workerManifestEnv)
	}
	var m WorkerManifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, errors.Wrap(err, "can't decode worker manifest")
	}
	return &m, nil
}
