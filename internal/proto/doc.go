// Package proto implements the wire format of the master→worker command
// channel.
//
// Each message is one fixed-size record: a 4-byte big-endian command
// code. Records are fixed-size so a single read on the worker side
// always yields a whole command and partial writes can be detected on
// the sending side. Only the quit command is defined today; new codes
// may be added without changing the framing.
package proto
