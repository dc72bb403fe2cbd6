package proto

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Command is a control-channel command code.
type Command uint32

const (
	// CmdQuit instructs a worker to stop driving its event loop and exit.
	CmdQuit Command = 1
)

// RecordSize is the size of one encoded command record.
const RecordSize = 4

func (c Command) String() string {
	switch c {
	case CmdQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// WriteCommand writes one command record to w. A short write is
// reported as an error; records are never partially delivered to a
// well-behaved reader.
func WriteCommand(w io.Writer, cmd Command) error {
	var buf [RecordSize]byte
	binary.BigEndian.PutUint32(buf[:], uint32(cmd))
	n, err := w.Write(buf[:])
	if err != nil {
		return errors.Wrap(err, "can't write command record")
	}
	if n != RecordSize {
		return errors.Errorf("short command record write: %d of %d bytes", n, RecordSize)
	}
	return nil
}

// ReadCommand reads one command record from r. io.EOF is returned
// unwrapped when the channel was closed cleanly before any bytes of a
// record arrived.
func ReadCommand(r io.Reader) (Command, error) {
	var buf [RecordSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, errors.Wrap(err, "can't read command record")
	}
	return Command(binary.BigEndian.Uint32(buf[:])), nil
}
