package master

import (
	"context"

	"github.com/GoAethereal/uartcat"
)

// Mapping assembles a flat virtual address space out of per-slave register
// ranges, following original_source's master/mapping.rs: callers reserve a
// Buffer of some packed type T, then within it register() one or more
// slave-local ranges that together must exactly cover T's size. Configure
// then writes the accumulated per-slave ranges to each slave's MAPPING
// register so every slave knows which of its bytes to splice into which
// virtual offset (spec.md §4.4, §9).
type Mapping struct {
	perSlave map[Host][]uartcat.MappingEntry
	end      uint32
}

// NewMapping returns an empty Mapping starting at virtual address 0.
func NewMapping() *Mapping {
	return &Mapping{perSlave: make(map[Host][]uartcat.MappingEntry)}
}

// Buffer reserves size contiguous virtual bytes for a packed value of type T
// and returns a builder for describing which slave registers back it.
func Buffer[T any](m *Mapping, size int) *BufferMapping[T] {
	start := m.end
	m.end += uint32(size)
	return &BufferMapping[T]{mapping: m, start: start, end: start, size: uint32(size)}
}

// BufferMapping accumulates the slave-register ranges that back one Buffer
// reservation, in virtual-address order.
type BufferMapping[T any] struct {
	mapping *Mapping
	start   uint32
	end     uint32
	size    uint32
}

// Padding advances the cursor by size bytes without attaching a backing
// register, leaving that sub-range unmapped (reads as whatever the slave
// transport leaves there). Mirrors original_source's padding() escape hatch
// for alignment gaps inside a packed struct.
func (b *BufferMapping[T]) Padding(size uint16) *BufferMapping[T] {
	b.end += uint32(size)
	return b
}

// RegisterN appends a reg.Size()-byte slave-local register range, owned by
// host, at the builder's current virtual cursor, then advances the cursor by
// that range's size.
func RegisterN[T, R any](b *BufferMapping[T], host Host, reg uartcat.Register[R]) *BufferMapping[T] {
	start := b.end
	if end := start + uint32(reg.Size()); end > b.start+b.size {
		panic("uartcat: mapping set is bigger than its packed type")
	} else {
		b.end = end
	}
	b.mapping.perSlave[host] = append(b.mapping.perSlave[host], uartcat.MappingEntry{
		VirtualStart: start,
		SlaveStart:   reg.Address(),
		Size:         uint16(reg.Size()),
	})
	return b
}

// Build finalizes the buffer, panicking if the registered ranges (and any
// padding) do not exactly cover the reserved size -- the same invariant
// original_source enforces with an assert in BufferMapping::build. The
// returned register carries the reserved address and size; its codec has no
// Encode or Decode functions.
func Build[T any](b *BufferMapping[T]) uartcat.VirtualRegister[T] {
	if b.end != b.start+b.size {
		panic("uartcat: mapping set has different size than its packed type")
	}
	return uartcat.VirtualRegister[T]{Addr: b.start, Codec: uartcat.Codec[T]{Size: int(b.size)}}
}

// Entries returns the accumulated mapping entries for host, in the order
// they were registered.
func (m *Mapping) Entries(host Host) []uartcat.MappingEntry {
	return m.perSlave[host]
}

// Hosts returns every host that has at least one mapping entry.
func (m *Mapping) Hosts() []Host {
	hosts := make([]Host, 0, len(m.perSlave))
	for h := range m.perSlave {
		hosts = append(hosts, h)
	}
	return hosts
}

// Configure writes host's accumulated mapping entries to its MAPPING
// register. It writes only the count byte plus the entries themselves
// (1+8*len(entries) bytes), not the register's full 1025-byte span: the
// slave's buffer was zero-initialized at construction, so every unwritten
// entry slot already decodes as a zero-size (inactive) entry, and a typical
// mapping set comfortably fits under MAX_COMMAND even though the full table
// does not (see DESIGN.md).
func (m *Mapping) Configure(ctx context.Context, master *Master, host Host) (uint8, error) {
	entries := m.perSlave[host]
	if len(entries) > uartcat.MaxMappingEntries {
		return 0, uartcat.MasterError("mapping set exceeds a slave's mapping table capacity")
	}
	buf := make([]byte, 1+len(entries)*8)
	buf[0] = byte(len(entries))
	for i, e := range entries {
		entryBuf := buf[1+i*8:]
		uartcat.Uint32Codec.Encode(e.VirtualStart, entryBuf[0:4])
		uartcat.Uint16Codec.Encode(e.SlaveStart, entryBuf[4:6])
		uartcat.Uint16Codec.Encode(e.Size, entryBuf[6:8])
	}
	return SlaveWriteBytes(ctx, master, host, uartcat.MAPPING.Address(), buf)
}
