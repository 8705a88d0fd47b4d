// Package protocol defines the wire-level constants shared by the
// replsend server and its peers: the binary command framing used on
// the control connection, and the response status codes the server
// writes back to it.
package protocol

import (
	"errors"
	"time"
)

const (
	DefaultPort         = ":6380"
	DefaultReadTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	IdleTimeout         = 3 * 60 * time.Second
	ShutdownTimeout     = 10 * time.Second
	MaxCommandSize      = 64 * 1024 * 1024 // 64MB limit, must fit in uint32

	// ProtoHeaderSize is the fixed 5-byte request/response header:
	// [ OpCode/Status (1 byte) | PayloadLength (4 bytes) ].
	ProtoHeaderSize = 5
)

// OpCodes define the commands accepted on the control connection.
const (
	OpCodePing                 uint8 = 0x01
	OpCodeQuit                 uint8 = 0xFF
	OpCodeReplMakeSnapshot     uint8 = 0x60
	OpCodeReplTransferSnapshot uint8 = 0x61
)

// Response status codes written in the reply header.
const (
	ResStatusOK             = 0x00
	ResStatusErr            = 0x01
	ResStatusEntityTooLarge = 0x08
	ResStatusServerBusy     = 0x07
)

var (
	ErrCommandTooLarge = errors.New("command payload too large")
	ErrBusy            = errors.New("server busy")
)
