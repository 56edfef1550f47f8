package slave

import (
	"context"
	"io"
	"sort"

	"github.com/GoAethereal/uartcat"
)

// receiveCommand performs one full bus cycle: catch a resynchronized header,
// read its payload, process it, and always transmit a response header plus
// whatever data the command produced (spec.md §4.4, §4.3 step 3's "a slave
// always answers, even a refusal, so the master's token is freed").
func (c *control) receiveCommand(ctx context.Context, s *Slave) error {
	header, err := c.catchHeader()
	if err != nil {
		return err
	}
	size := int(header.Size)
	if _, err := io.ReadFull(c.bus, c.receive[:size]); err != nil {
		return err
	}

	c.sendHeader = header
	if cause := c.processCommand(ctx, s, header); cause != uartcat.ErrorNone {
		if guard, err := s.buffer.Lock(ctx); err == nil {
			(*guard.Value()).setError(cause)
			guard.Unlock()
		}
		c.sendHeader.Access = c.sendHeader.Access.WithError(true)
	}

	encoded := uartcat.EncodeHeader(c.sendHeader)
	if _, err := c.bus.Write(encoded[:]); err != nil {
		return err
	}
	if _, err := c.bus.Write([]byte{uartcat.Checksum(encoded[:])}); err != nil {
		return err
	}
	if _, err := c.bus.Write(c.send[:size]); err != nil {
		return err
	}
	return nil
}

// catchHeader reads CatchFrameSize bytes and then rotates in one byte at a
// time until the trailing byte validates the header's running checksum,
// exactly mirroring the master's own resync loop (spec.md §4.3 step 1) so
// that either end of the bus can recover from a corrupted or mid-stream
// start.
func (c *control) catchHeader() (uartcat.Header, error) {
	window := c.receive[:uartcat.CatchFrameSize]
	if _, err := io.ReadFull(c.bus, window); err != nil {
		return uartcat.Header{}, err
	}
	var frame [uartcat.CatchFrameSize]byte
	copy(frame[:], window)
	for !uartcat.ValidHeader(frame) {
		copy(frame[:], frame[1:])
		if _, err := io.ReadFull(c.bus, frame[uartcat.CatchFrameSize-1:]); err != nil {
			return uartcat.Header{}, err
		}
	}
	var headerBytes [uartcat.HeaderSize]byte
	copy(headerBytes[:], frame[:uartcat.HeaderSize])
	return uartcat.DecodeHeader(headerBytes), nil
}

// processCommand dispatches header to the slave buffer, the virtual mapping,
// or a pure pass-through, per spec.md §4.4's three command classes. It
// returns ErrorNone on success (including on a write whose data checksum
// does not match: the write is dropped, counted in LOSS and the payload is
// forwarded unchanged rather than refused) or the CommandError the caller
// should latch into ERROR.
func (c *control) processCommand(ctx context.Context, s *Slave, header uartcat.Header) uartcat.CommandError {
	size := int(header.Size)
	if size > uartcat.MaxCommand {
		return uartcat.ErrorInvalidSize
	}
	if header.Access.Fixed() && header.Access.Topological() {
		return uartcat.ErrorInvalidCommand
	}

	if header.Access.Topological() {
		hop := header.Address.Slave()
		c.sendHeader.Address = c.sendHeader.Address.WithSlave(hop - 1)
	}

	switch {
	case (header.Access.Fixed() && header.Address.Slave() == c.address) ||
		(header.Access.Topological() && header.Address.Slave() == 0):
		if header.Access.Write() && header.DataChecksum != uartcat.Checksum(c.receive[:size]) {
			copy(c.send[:size], c.receive[:size])
			s.recordLoss()
			return uartcat.ErrorNone
		}
		c.sendHeader.Executed++
		return c.exchangeSlave(ctx, s, header)

	case header.Access.Virtual():
		if header.Access.Write() && header.DataChecksum != uartcat.Checksum(c.receive[:size]) {
			copy(c.send[:size], c.receive[:size])
			s.recordLoss()
			return uartcat.ErrorNone
		}
		c.sendHeader.Executed++
		c.exchangeVirtual(ctx, s, header)
		return uartcat.ErrorNone

	default:
		// Addressed to neither this slave (fixed/topological) nor virtual
		// memory: pass the payload through unchanged for the next hop.
		copy(c.send[:size], c.receive[:size])
		return uartcat.ErrorNone
	}
}

// exchangeSlave reads and/or writes the addressed range of this slave's own
// buffer under a single lock acquisition, running the ADDRESS/MAPPING side
// effects via onWrite (spec.md §4.2's "writing ADDRESS takes effect
// immediately").
func (c *control) exchangeSlave(ctx context.Context, s *Slave, header uartcat.Header) uartcat.CommandError {
	size := int(header.Size)
	register := header.Address.Register()

	guard, err := s.buffer.Lock(ctx)
	if err != nil {
		return uartcat.ErrorUnknown
	}
	defer guard.Unlock()
	buf := *guard.Value()

	if header.Access.Read() {
		c.onRead(buf, register)
		copy(c.send[:size], buf.Raw()[int(register):int(register)+size])
		c.sendHeader.DataChecksum = uartcat.Checksum(c.send[:size])
	} else {
		copy(c.send[:size], c.receive[:size])
	}
	if header.Access.Write() {
		copy(buf.Raw()[int(register):int(register)+size], c.receive[:size])
		c.onWrite(buf, register)
	}
	return uartcat.ErrorNone
}

// onRead runs side effects triggered by reading a special register. No
// register has one: reading CLOCK does not sample a clock, it returns
// whatever was last stored there.
func (c *control) onRead(buf *Buffer, address uint16) {}

// onWrite runs side effects triggered by writing a special register:
// ADDRESS reconfigures this slave's fixed address, and MAPPING replaces the
// active mapping table after validating every entry (spec.md §4.4's mapping
// validation rules). A table whose count exceeds the capacity, or that holds
// an invalid entry, sets ERROR to ErrorInvalidMapping and leaves the previous
// mapping active.
func (c *control) onWrite(buf *Buffer, address uint16) {
	switch address {
	case uartcat.ADDRESS.Address():
		c.address = Get(buf, uartcat.ADDRESS)
	case uartcat.MAPPING.Address():
		table := Get(buf, uartcat.MAPPING)
		if int(table.Count) > uartcat.MaxMappingEntries {
			buf.setError(uartcat.ErrorInvalidMapping)
			return
		}
		mapping := make([]uartcat.MappingEntry, 0, table.Count)
		for i := 0; i < int(table.Count); i++ {
			if e := table.Entries[i]; e.Size != 0 {
				mapping = append(mapping, e)
			}
		}
		sort.Slice(mapping, func(i, j int) bool {
			return mapping[i].VirtualStart < mapping[j].VirtualStart
		})
		for _, e := range mapping {
			if int(e.SlaveStart)+int(e.Size) > buf.Len() ||
				int(e.SlaveStart) > buf.Len() ||
				^uint32(0)-e.VirtualStart < uint32(e.Size) {
				buf.setError(uartcat.ErrorInvalidMapping)
				return
			}
		}
		c.mapping = mapping
	}
}

// exchangeVirtual splices this slave's mapped registers into the frame's
// virtual-address range. Only the overlapping mapping entries are visited,
// found by bisecting the (address-sorted) mapping table, and the buffer is
// locked only when at least one entry actually overlaps -- an unaffected
// frame never blocks on this slave's buffer (spec.md §9's concurrency note).
func (c *control) exchangeVirtual(ctx context.Context, s *Slave, header uartcat.Header) {
	size := int(header.Size)
	address := header.Address.Virtual()
	end := address + uint32(header.Size)

	// Lower bound: first entry whose end (virtual_start+size) exceeds the
	// request's start -- not merely the first entry whose start exceeds it,
	// which would skip an entry that starts before the request but still
	// overlaps it (spec.md §9's corrected bisect bounds).
	start := bisect(c.mapping, func(e uartcat.MappingEntry) bool {
		return e.VirtualStart+uint32(e.Size) <= address
	})
	// Upper bound: first entry whose start reaches or passes the request's end.
	stop := start + bisect(c.mapping[start:], func(e uartcat.MappingEntry) bool {
		return e.VirtualStart < end
	})

	copy(c.send[:size], c.receive[:size])
	if stop <= start {
		return
	}

	guard, err := s.buffer.Lock(ctx)
	if err != nil {
		return
	}
	defer guard.Unlock()
	buf := *guard.Value()

	if header.Access.Read() {
		for _, mapped := range c.mapping[start:stop] {
			if frameRange, slaveRange, ok := mapFrameSlave(mapped, header); ok {
				copy(c.send[frameRange.start:frameRange.stop], buf.Raw()[slaveRange.start:slaveRange.stop])
			}
		}
		c.sendHeader.DataChecksum = uartcat.Checksum(c.send[:size])
	}
	if header.Access.Write() {
		for _, mapped := range c.mapping[start:stop] {
			if frameRange, slaveRange, ok := mapFrameSlave(mapped, header); ok {
				copy(buf.Raw()[slaveRange.start:slaveRange.stop], c.receive[frameRange.start:frameRange.stop])
			}
		}
	}
}

// bisect returns the number of leading elements of s for which threshold
// holds, assuming threshold is true on a prefix and false on the remainder
// (s is sorted by virtual start, so this is the index of the first entry
// for which threshold is false; exchangeVirtual's two predicates make that
// the lower and upper bound of the entries overlapping a request).
func bisect(s []uartcat.MappingEntry, threshold func(uartcat.MappingEntry) bool) int {
	start, end := 0, len(s)
	for start < end {
		mid := (start + end) / 2
		if threshold(s[mid]) {
			start = mid + 1
		} else {
			end = mid
		}
	}
	return start
}

type interval struct{ start, stop int }

// mapFrameSlave intersects mapped's virtual range with the frame's
// requested virtual range, returning the corresponding byte ranges within
// the frame's data buffer and within the slave's own buffer. ok is false
// when the two ranges do not actually overlap (possible at the boundary
// entries bisect returns).
func mapFrameSlave(mapped uartcat.MappingEntry, frame uartcat.Header) (frameRange, slaveRange interval, ok bool) {
	address := frame.Address.Virtual()
	virtualStart, virtualEnd := mapped.VirtualStart, mapped.VirtualStart+uint32(mapped.Size)
	requestStart, requestEnd := address, address+uint32(frame.Size)

	intersectStart := max(virtualStart, requestStart)
	intersectEnd := min(virtualEnd, requestEnd)
	if intersectEnd <= intersectStart {
		return interval{}, interval{}, false
	}
	frameRange = interval{
		start: int(intersectStart - address),
		stop:  int(intersectEnd - address),
	}
	slaveRange = interval{
		start: int(intersectStart-virtualStart) + int(mapped.SlaveStart),
		stop:  int(intersectEnd-virtualStart) + int(mapped.SlaveStart),
	}
	return frameRange, slaveRange, true
}
