package master

import (
	"context"
	"time"

	"github.com/GoAethereal/uartcat"
)

// Topic is one reserved command token together with the buffer its response
// will land in. It is the master-side half of a single request/response
// exchange: Send transmits, Receive blocks for the matching response (or
// ctx/timeout), and Close always releases the token, win or lose -- the
// pending-table entry must never outlive the Topic that created it (spec.md
// §9's "the topic owns the buffer").
type Topic struct {
	master *Master
	token  uint16
	entry  *pendingEntry
}

// NewTopic reserves a free token and registers buffer as the destination for
// its eventual response. buffer is retained, not copied.
func NewTopic(m *Master, header uartcat.Header, buffer []byte) (*Topic, error) {
	guard, err := m.pending.Lock(context.Background())
	if err != nil {
		return nil, err
	}
	defer guard.Unlock()

	table := *guard.Value()
	token, err := freeToken(table)
	if err != nil {
		return nil, err
	}
	header.Token = token
	entry := newPendingEntry(header, buffer)
	table[token] = entry
	m.metrics.addPending(1)

	return &Topic{master: m, token: token, entry: entry}, nil
}

// Close releases the token unconditionally, removing it from the pending
// table whether or not a response ever arrived.
func (t *Topic) Close() {
	guard, err := t.master.pending.Lock(context.Background())
	if err != nil {
		return
	}
	delete(*guard.Value(), t.token)
	guard.Unlock()
	t.master.metrics.addPending(-1)
}

// Send serializes the header (with this Topic's token) and data, writes them
// to the bus under the master's transmit lock, after stamping the data
// checksum into the header. A nil data defaults to the Topic's own response buffer, the same
// substitution original_source's Topic::send performs
// (`data.unwrap_or(buffer.buffer)`) so that a pure read -- which has no
// payload of its own to send -- still puts Size bytes on the wire for the
// slave to read, rather than leaving it blocked in io.ReadFull forever.
func (t *Topic) Send(ctx context.Context, data []byte) error {
	return t.send(ctx, t.entry.header.Access.Read(), t.entry.header.Access.Write(), data)
}

// send is the shared implementation behind Send and Stream's direction-
// specific Send* calls: it resolves a nil data to the Topic's buffer, stamps
// the header's read/write bits and data checksum fresh for this call (so a
// Stream may alternate directions call to call over the same token), re-arms
// the pending entry's completion signal so the next Receive waits for this
// call's response, and writes header, header checksum and data to the bus
// under the transmit lock.
func (t *Topic) send(ctx context.Context, read, write bool, data []byte) error {
	if data == nil {
		data = t.entry.buffer
	}
	header := t.entry.header
	header.Access = header.Access.WithRead(read).WithWrite(write)
	header.DataChecksum = uartcat.Checksum(data)

	pending, err := t.master.pending.Lock(ctx)
	if err != nil {
		return err
	}
	t.entry.header = header
	t.entry.done = make(chan struct{})
	pending.Unlock()

	guard, err := t.master.transmit.Lock(ctx)
	if err != nil {
		return err
	}
	defer guard.Unlock()

	encoded := uartcat.EncodeHeader(header)
	frame := make([]byte, 0, uartcat.HeaderSize+1+len(data))
	frame = append(frame, encoded[:]...)
	frame = append(frame, uartcat.Checksum(encoded[:]))
	frame = append(frame, data...)
	_, err = t.master.port.Write(frame)
	return err
}

// get copies the Topic's current buffer contents into dst under the pending
// table lock, without waiting for (or requiring) a fresh response --
// original_source's Topic::get, used to inspect the last-received value
// between polls.
func (t *Topic) get(ctx context.Context, dst []byte) error {
	guard, err := t.master.pending.Lock(ctx)
	if err != nil {
		return err
	}
	defer guard.Unlock()
	copy(dst, t.entry.buffer)
	return nil
}

// Receive blocks until the receive coroutine completes this Topic's
// pending-entry, ctx is cancelled, or timeout elapses (a non-positive timeout
// disables the deadline and waits on ctx alone). On success it returns the
// executed-hop count the response carried; the response payload itself has
// already been copied into the buffer given to NewTopic.
func (t *Topic) Receive(ctx context.Context, timeout time.Duration) (uint8, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-t.entry.done:
		return t.entry.result.executed, t.entry.result.err
	case <-ctx.Done():
		t.master.metrics.incTimeouts()
		return 0, uartcat.ErrTimeout
	}
}

// Exchange reserves a token, sends data, waits for the response (copied into
// buffer by the time Exchange returns), and always releases the token
// afterward -- the common case where a caller has no need to pipeline
// multiple outstanding requests under one Topic.
func Exchange(ctx context.Context, m *Master, header uartcat.Header, data, buffer []byte) (uint8, error) {
	topic, err := NewTopic(m, header, buffer)
	if err != nil {
		return 0, err
	}
	defer topic.Close()

	if err := topic.Send(ctx, data); err != nil {
		return 0, err
	}
	return topic.Receive(ctx, m.timeout)
}

// Stream is a long-lived Topic reused across repeated, independently
// directed exchanges against the same address, avoiding a token allocation
// per call -- the Go analogue of original_source's register-typed Stream,
// trimmed to the byte-level primitives spec.md §6 names for the external
// API surface: SendRead, SendWrite, SendExchange, Receive and Get.
type Stream struct {
	topic *Topic
}

// NewStream reserves a token for repeated use against header's address.
// buffer is retained as both the write-payload default and the destination
// for every response; the caller must not read or write it concurrently
// with a Send*/Receive/Get call in flight.
func NewStream(m *Master, header uartcat.Header, buffer []byte) (*Stream, error) {
	topic, err := NewTopic(m, header, buffer)
	if err != nil {
		return nil, err
	}
	return &Stream{topic: topic}, nil
}

// SendRead issues a read-only request over the stream's token. The response,
// once awaited with Receive, lands in the buffer given to NewStream.
func (s *Stream) SendRead(ctx context.Context) error {
	return s.topic.send(ctx, true, false, nil)
}

// SendWrite issues a write-only request carrying data over the stream's
// token.
func (s *Stream) SendWrite(ctx context.Context, data []byte) error {
	return s.topic.send(ctx, false, true, data)
}

// SendExchange issues a combined read+write request carrying data; the
// response Receive later returns holds the slave's pre-write contents.
func (s *Stream) SendExchange(ctx context.Context, data []byte) error {
	return s.topic.send(ctx, true, true, data)
}

// Receive blocks for the response to whichever Send* call is currently
// outstanding, returning the executed-hop count.
func (s *Stream) Receive(ctx context.Context) (uint8, error) {
	return s.topic.Receive(ctx, s.topic.master.timeout)
}

// Get copies the stream's current buffer contents into dst without waiting
// for a response -- a cache-only read of whatever was last received (or the
// zero value, if nothing has arrived yet).
func (s *Stream) Get(ctx context.Context, dst []byte) error {
	return s.topic.get(ctx, dst)
}

// Close releases the stream's token.
func (s *Stream) Close() { s.topic.Close() }
