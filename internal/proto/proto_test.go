package proto

import (
	"bytes"
	"io"
	"testing"
)

func TestCommandRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCommand(&buf, CmdQuit); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != RecordSize {
		t.Fatalf("record is %d bytes, want %d", buf.Len(), RecordSize)
	}
	cmd, err := ReadCommand(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if cmd != CmdQuit {
		t.Fatalf("got command %v, want %v", cmd, CmdQuit)
	}
}

func TestReadCommandEOF(t *testing.T) {
	_, err := ReadCommand(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestReadCommandShortRecord(t *testing.T) {
	_, err := ReadCommand(bytes.NewReader([]byte{0, 0}))
	if err == nil || err == io.EOF {
		t.Fatalf("got %v, want a framing error", err)
	}
}
