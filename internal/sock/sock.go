// Package sock is the length-free, fixed-record wire protocol to the
// macro daemon: a connection-oriented UNIX domain socket over which the
// input daemon sends one KBDAction per passthrough key and receives zero
// or more back, terminated by a record with Done set.
package sock

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hawck-project/hawck-inputd/internal/kbd"
)

// recordSize is the fixed wire layout: type:u16, code:u16, value:i32,
// done:u8, padded to a round size agreed with the macro daemon peer.
const recordSize = 16

// KBDAction is one wire record: a key event plus the reply-stream
// terminator flag.
type KBDAction struct {
	Ev   kbd.KeyEvent
	Done uint8
}

func encode(a KBDAction) []byte {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint16(buf[0:2], a.Ev.Type)
	binary.LittleEndian.PutUint16(buf[2:4], a.Ev.Code)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(a.Ev.Value))
	buf[8] = a.Done
	return buf
}

func decode(buf []byte) KBDAction {
	return KBDAction{
		Ev: kbd.KeyEvent{
			Type:  binary.LittleEndian.Uint16(buf[0:2]),
			Code:  binary.LittleEndian.Uint16(buf[2:4]),
			Value: int32(binary.LittleEndian.Uint32(buf[4:8])),
		},
		Done: buf[8],
	}
}

// Error wraps a permanent socket failure.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("socket: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Endpoint is a connection to the macro daemon.
type Endpoint struct {
	conn net.Conn
}

// Dial connects to the macro daemon's UNIX domain socket at path.
func Dial(path string) (*Endpoint, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, &Error{Err: err}
	}
	return &Endpoint{conn: conn}, nil
}

// New wraps an already-established connection (used directly in tests
// via net.Pipe, and would back a future non-UNIX-socket transport).
func New(conn net.Conn) *Endpoint {
	return &Endpoint{conn: conn}
}

// Send serialises action and writes it, retrying until the full record
// is out.
func (e *Endpoint) Send(action KBDAction) error {
	buf := encode(action)
	for len(buf) > 0 {
		n, err := e.conn.Write(buf)
		if err != nil {
			return &Error{Err: err}
		}
		buf = buf[n:]
	}
	return nil
}

// Recv reads exactly one record, blocking until ctx's deadline. A
// deadline exceeded is surfaced the same as any other permanent read
// failure.
func (e *Endpoint) Recv(ctx context.Context, action *KBDAction) error {
	if dl, ok := ctx.Deadline(); ok {
		if err := e.conn.SetReadDeadline(dl); err != nil {
			return &Error{Err: err}
		}
		defer e.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, recordSize)
	if _, err := io.ReadFull(e.conn, buf); err != nil {
		return &Error{Err: err}
	}
	*action = decode(buf)
	return nil
}

// Close shuts down the connection.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
