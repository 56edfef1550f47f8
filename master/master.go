// Package master implements the UartCAT master's asynchronous request/
// response engine (spec.md §4.3): a pending-request table keyed by token, a
// receive coroutine that owns the bus's read half and resynchronizes on
// header checksum, and topic objects that reserve a token, send, and await.
package master

import (
	"context"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/GoAethereal/uartcat"
	"github.com/GoAethereal/uartcat/transport"
)

// Master is the UartCAT master: one shared pending-request table keyed by
// 16-bit tokens, a transmit lock serializing senders, and a receive
// coroutine (Run) that owns the bus's read half for its entire lifetime.
type Master struct {
	port    transport.Port
	transmit *uartcat.Mutex[struct{}]
	pending  *uartcat.Mutex[map[uint16]*pendingEntry]
	timeout  time.Duration
	metrics  *Metrics
	log      *logrus.Entry

	running atomic.Bool
}

// pendingEntry holds the bookkeeping for one outstanding command (spec.md
// §3's "Pending-request record"): the originally issued header (to verify
// the eventual response is consistent), the caller-owned buffer the Topic
// embeds, and a completion signal.
type pendingEntry struct {
	header uartcat.Header
	buffer []byte

	done   chan struct{}
	result pendingResult
}

type pendingResult struct {
	executed uint8
	err      error
}

func newPendingEntry(header uartcat.Header, buffer []byte) *pendingEntry {
	return &pendingEntry{
		header: header,
		buffer: buffer,
		done:   make(chan struct{}),
	}
}

func (e *pendingEntry) complete(executed uint8, err error) {
	e.result = pendingResult{executed: executed, err: err}
	close(e.done)
}

// New opens a Master on the serial port described by cfg.
func New(cfg Config) (*Master, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = transport.TwoStopBits
	}
	port, err := transport.OpenSerial(cfg.Port, cfg.Baud, cfg.StopBits)
	if err != nil {
		return nil, &uartcat.BusError{Err: err}
	}
	return NewWithPort(port, cfg), nil
}

// NewWithPort builds a Master on top of an already-open Port, bypassing
// transport.OpenSerial. Primarily useful for tests driving a Master over a
// transport.Loopback pair.
func NewWithPort(port transport.Port, cfg Config) *Master {
	return &Master{
		port:     port,
		transmit: uartcat.NewMutex(struct{}{}),
		pending:  uartcat.NewMutex(make(map[uint16]*pendingEntry)),
		timeout:  cfg.timeout(),
		log:      logrus.WithField("component", "uartcat.master"),
	}
}

// UseMetrics attaches optional Prometheus instrumentation.
func (m *Master) UseMetrics(metrics *Metrics) { m.metrics = metrics }

// Run is the master's receive coroutine. It must execute exactly once for
// the lifetime of the Master and owns the bus's read half for as long as it
// runs. Run returns only when the bus fails or ctx is done; a bus I/O
// failure is non-recoverable (spec.md §9) -- the caller must build a new
// Master to retry.
func (m *Master) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return uartcat.MasterError("run invoked twice")
	}
	scratch := make([]byte, uartcat.CatchFrameSize+uartcat.MaxCommand)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.receiveOne(ctx, scratch); err != nil {
			return &uartcat.BusError{Err: err}
		}
	}
}

// receiveOne performs one catch-up-and-dispatch cycle of the receive
// coroutine (spec.md §4.3 steps 1-9).
func (m *Master) receiveOne(ctx context.Context, scratch []byte) error {
	var frame [uartcat.CatchFrameSize]byte
	if _, err := io.ReadFull(m.port, frame[:]); err != nil {
		return err
	}
	for !uartcat.ValidHeader(frame) {
		m.metrics.incResyncs()
		m.log.Debug("skipping one byte to resynchronize on a valid header")
		copy(frame[:], frame[1:])
		if _, err := io.ReadFull(m.port, frame[uartcat.CatchFrameSize-1:]); err != nil {
			return err
		}
	}
	var headerBytes [uartcat.HeaderSize]byte
	copy(headerBytes[:], frame[:uartcat.HeaderSize])
	header := uartcat.DecodeHeader(headerBytes)

	data := scratch[:header.Size]
	if _, err := io.ReadFull(m.port, data); err != nil {
		return err
	}

	guard, err := m.pending.Lock(ctx)
	if err != nil {
		return nil
	}
	entry, ok := (*guard.Value())[header.Token]
	if !ok {
		guard.Unlock()
		m.log.WithField("token", header.Token).Debug("dropping response for unknown token")
		return nil
	}

	switch {
	case !headerMatches(entry.header, header):
		entry.complete(0, uartcat.MasterError("response header mismatch"))
	case header.Access.Error():
		entry.complete(0, &uartcat.SlaveError{Cause: uartcat.ErrorUnknown})
	case uartcat.Checksum(data) != header.DataChecksum:
		m.metrics.incChecksumMismatches()
		entry.complete(0, uartcat.MasterError("data checksum mismatch"))
	default:
		copy(entry.buffer, data)
		entry.complete(header.Executed, nil)
		m.metrics.incCompleted()
	}
	guard.Unlock()
	return nil
}

// headerMatches compares the stored original header against a received one
// for consistency, per spec.md §4.3 step 5: token, access.fixed,
// access.topological, access.read, size and address must agree, except that
// for topological addresses the slave field legitimately differs (it was
// decremented by every hop), so only the register half is compared there.
func headerMatches(sent, got uartcat.Header) bool {
	if sent.Token != got.Token ||
		sent.Access.Fixed() != got.Access.Fixed() ||
		sent.Access.Topological() != got.Access.Topological() ||
		sent.Access.Read() != got.Access.Read() ||
		sent.Size != got.Size {
		return false
	}
	if sent.Access.Topological() {
		return sent.Address.Register() == got.Address.Register()
	}
	return sent.Address == got.Address
}

// freeToken picks an unused 16-bit token, preferring a random starting
// offset to reduce the chance of matching a stale/garbled frame still
// propagating on the bus (spec.md §4.3 "Send path").
func freeToken(pending map[uint16]*pendingEntry) (uint16, error) {
	if len(pending) >= 1<<16 {
		return 0, uartcat.MasterError("no free token")
	}
	first := uint16(rand.Intn(1 << 16))
	for i := 0; i <= len(pending); i++ {
		token := first + uint16(i)
		if _, taken := pending[token]; !taken {
			return token, nil
		}
	}
	return 0, uartcat.MasterError("no free token")
}

// sizeToMessage validates a byte count against MaxCommand, matching the
// teacher's usize_to_message helper (master/mod.rs in original_source).
func sizeToMessage(size int) (uint16, error) {
	if size > uartcat.MaxCommand {
		return 0, uartcat.MasterError("data is longer than maximum allowed message")
	}
	return uint16(size), nil
}
