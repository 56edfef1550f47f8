package slave

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/GoAethereal/uartcat"
	"github.com/GoAethereal/uartcat/transport"
)

// errAlreadyRunning is returned by a second call to Run on the same Slave.
var errAlreadyRunning = errors.New("uartcat: slave already running")

// Slave is one UartCAT slave: a memory buffer guarded by a busy mutex so
// application code can read or mutate it between bus cycles, and the
// control state (bus handle, mapping table, fixed address, scratch buffers)
// owned exclusively by the single Run loop -- the same split as
// original_source's Slave<B, MEM>.
type Slave struct {
	buffer  *uartcat.Mutex[*Buffer]
	control *uartcat.Mutex[*control]
	log     *logrus.Entry
}

// control holds everything only the receive loop touches.
type control struct {
	bus        transport.Port
	mapping    []uartcat.MappingEntry
	address    uint16
	receive    []byte
	send       []byte
	sendHeader uartcat.Header
}

// New builds a Slave with a MEM-byte buffer, pre-populating the standard
// registers (spec.md §4.2): VERSION, DEVICE, LOSS and ADDRESS (starting
// unconfigured at 0, topological-only, until a master assigns a fixed
// address).
func New(bus transport.Port, device uartcat.Device, mem int) *Slave {
	buf := NewBuffer(mem)
	Set(buf, uartcat.VERSION, uartcat.ProtocolVersion)
	Set(buf, uartcat.DEVICE, device)
	Set(buf, uartcat.LOSS, uint16(0))
	Set(buf, uartcat.ADDRESS, uint16(0))

	return &Slave{
		buffer: uartcat.NewMutex(buf),
		control: uartcat.NewMutex(&control{
			bus:     bus,
			receive: make([]byte, uartcat.MaxCommand),
			send:    make([]byte, uartcat.MaxCommand),
		}),
		log: logrus.WithField("component", "uartcat.slave"),
	}
}

// Lock blocks until the application can access the slave's buffer, e.g. to
// read a sensor register written by the master or to update an application
// register for the master to read.
func (s *Slave) Lock(ctx context.Context) (*uartcat.Guard[*Buffer], error) {
	return s.buffer.Lock(ctx)
}

// TryLock acquires the buffer without blocking.
func (s *Slave) TryLock() (*uartcat.Guard[*Buffer], bool) {
	return s.buffer.TryLock()
}

// Run drives the slave's receive loop until ctx is cancelled; a bus error
// does not end it. It must be called at most once per Slave; a second
// concurrent call returns errAlreadyRunning immediately. Per-command
// failures (a failed or truncated bus read or write) are not fatal: they
// increment LOSS and the loop continues, following original_source's
// "TODO implement loss recovery" comment, which already treats every
// receive error as transient.
func (s *Slave) Run(ctx context.Context) error {
	guard, ok := s.control.TryLock()
	if !ok {
		return errAlreadyRunning
	}
	ctl := *guard.Value()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := ctl.receiveCommand(ctx, s); err != nil {
			s.recordLoss()
		}
	}
}

// recordLoss increments LOSS with saturation at uint16's maximum, matching
// saturating_add in original_source.
func (s *Slave) recordLoss() {
	guard, err := s.buffer.Lock(context.Background())
	if err != nil {
		return
	}
	buf := *guard.Value()
	count := Get(buf, uartcat.LOSS)
	if count != ^uint16(0) {
		count++
	}
	Set(buf, uartcat.LOSS, count)
	guard.Unlock()
	s.log.WithField("loss", count).Warn("frame lost, LOSS incremented")
}
