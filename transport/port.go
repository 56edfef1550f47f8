// Package transport provides the opaque byte-stream abstraction UartCAT rides
// on. spec.md deliberately scopes physical UART configuration out of the
// protocol core (baud rate, parity, stop bits) and treats the bus as a
// bidirectional byte stream with a per-read timeout; this package is that
// external collaborator, plus the one concrete adapter (serial.go) needed to
// actually open a UART.
package transport

import (
	"io"
	"time"
)

// Port is the bidirectional byte stream a Master or Slave is built on top of.
// A real UART, a loopback pipe for tests, or any transport satisfying
// per-read deadlines can implement it.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
	// SetReadTimeout bounds the next Read call(s); a timed-out Read returns
	// os.ErrDeadlineExceeded (or an equivalent wrapping error).
	SetReadTimeout(timeout time.Duration) error
}
