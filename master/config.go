package master

import (
	"time"

	"github.com/GoAethereal/uartcat"
	"github.com/GoAethereal/uartcat/transport"
)

// Config configures a Master, following the shape of the teacher's
// Config/Options types (config.go, options.go): a small struct of transport
// parameters validated up front by Verify.
type Config struct {
	// Port is the path to the UART device, e.g. "/dev/ttyUSB0".
	Port string
	// Baud is the bus baud rate.
	Baud int
	// StopBits defaults to transport.TwoStopBits, matching spec.md §6's
	// master default.
	StopBits transport.StopBits
	// Timeout bounds every command's end-to-end round trip. Defaults to
	// 100ms (spec.md §5) when zero.
	Timeout time.Duration
}

// Verify validates cfg, returning a MasterError describing the first
// violated constraint.
func (cfg Config) Verify() error {
	switch {
	case cfg.Port == "":
		return uartcat.MasterError("port path must not be empty")
	case cfg.Baud <= 0:
		return uartcat.MasterError("baud rate must be positive")
	case cfg.Timeout < 0:
		return uartcat.MasterError("timeout must not be negative")
	}
	return nil
}

func (cfg Config) timeout() time.Duration {
	if cfg.Timeout <= 0 {
		return defaultTimeout
	}
	return cfg.Timeout
}

// defaultTimeout is the default end-to-end deadline for a master command
// (spec.md §5).
const defaultTimeout = 100 * time.Millisecond
