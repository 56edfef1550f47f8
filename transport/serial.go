package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// StopBits selects how many stop bits a serial adapter is configured with.
// Master deployments default to two; slave deployments default to one -- both
// ends of a given link must agree (spec.md §6). The zero value means "not
// set" and opens the port with one stop bit.
type StopBits int

const (
	OneStopBit StopBits = iota + 1
	TwoStopBits
)

func (s StopBits) toLib() serial.StopBits {
	if s == TwoStopBits {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}

// OpenSerial opens a real UART at path, configured per spec.md §6: 8 data
// bits, even parity, raw mode, the given baud rate and stop-bit count. It
// wraps go.bug.st/serial, the ecosystem library used by most Go serial
// tooling.
func OpenSerial(path string, baud int, stop StopBits) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: stop.toLib(),
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("uartcat: opening serial port %q: %w", path, err)
	}
	return &serialPort{Port: port}, nil
}

// serialPort adapts go.bug.st/serial's Port to this package's Port. The
// library's SetReadTimeout already takes a time.Duration, so the method
// simply forwards; the wrapper type exists so callers aren't tied to the
// upstream type.
type serialPort struct {
	serial.Port
}

func (p *serialPort) SetReadTimeout(timeout time.Duration) error {
	return p.Port.SetReadTimeout(timeout)
}
