package process

import (
	"fmt"
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// file works around the fact that it's not possible to get the fd from
// an os.File without putting it into blocking mode. The raw descriptor
// is captured at creation time instead.
type file struct {
	*os.File
	fd uintptr
}

func (f *file) String() string {
	name := "<nil>"
	if f != nil && f.File != nil {
		name = f.Name()
	}
	return fmt.Sprintf("File(name=%q,fd=%v)", name, f.fd)
}

func newFile(fd uintptr, name string) *file {
	f := os.NewFile(fd, name)
	if f == nil {
		return nil
	}
	return &file{f, fd}
}

// dupConnFile duplicates the descriptor behind a socket without
// touching the original's blocking mode.
func dupConnFile(conn syscall.Conn, name string) (*file, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	var dup *file
	var duperr error
	err = raw.Control(func(fd uintptr) {
		dup, duperr = dupFd(fd, name)
	})
	if err != nil {
		return nil, errors.Wrap(err, "can't access fd")
	}
	return dup, duperr
}

func dupFd(fd uintptr, name string) (*file, error) {
	dupfd, err := unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "can't dup fd using fcntl")
	}
	return newFile(uintptr(dupfd), name), nil
}
