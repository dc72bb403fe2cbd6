package process

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/euank/filelock"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

// PidFile is an exclusively locked pid file in the run directory. The
// lock guarantees a single master per run directory; the recorded pid
// lets operators address reload/quit signals at the right process.
type PidFile struct {
	path string
	lock *filelock.FileLock
	l    log15.Logger
}

func touchFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

// LockPidFile takes the master lock for the given run directory and
// records this process's pid. It fails immediately, rather than
// blocking, if another master already holds the lock.
func LockPidFile(l log15.Logger, dir string) (*PidFile, error) {
	path := filepath.Join(dir, "nutcracker.pid")
	if err := touchFile(path); err != nil {
		return nil, errors.Wrapf(err, "can't create pid file %q", path)
	}
	lock, err := filelock.TryExclusiveLock(path, filelock.RegFile)
	if err != nil {
		return nil, errors.Wrapf(err, "another master may hold %q", path)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		lock.Close()
		return nil, errors.Wrapf(err, "can't write pid to %q", path)
	}
	l.Info("locked pid file", "path", path, "pid", os.Getpid())
	return &PidFile{path: path, lock: lock, l: l}, nil
}

// Path returns the pid file's location.
func (p *PidFile) Path() string { return p.path }

// Release unlocks and removes the pid file.
func (p *PidFile) Release() {
	if p.lock != nil {
		if err := p.lock.Close(); err != nil {
			p.l.Error("error releasing pid file lock", "err", err)
		}
		p.lock = nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		p.l.Error("error removing pid file", "err", err)
	}
}
