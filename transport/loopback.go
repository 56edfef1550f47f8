package transport

import (
	"net"
	"time"
)

// Loopback returns two connected, in-memory Ports, each one's writes visible
// as the other's reads -- the test double standing in for a real UART,
// modelled on the teacher's connection.go `network` type but backed by
// net.Pipe instead of a TCP socket, since no listener/dialer is needed for a
// synchronous in-memory pair. Used to drive a Master and Slave against each
// other without hardware, the same way master/tests/single.rs in
// original_source exercises both ends over an in-process channel.
func Loopback() (a, b Port) {
	ca, cb := net.Pipe()
	return &pipePort{Conn: ca}, &pipePort{Conn: cb}
}

type pipePort struct {
	net.Conn
}

func (p *pipePort) SetReadTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return p.Conn.SetReadDeadline(time.Time{})
	}
	return p.Conn.SetReadDeadline(time.Now().Add(timeout))
}
