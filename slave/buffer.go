// Package slave implements the UartCAT slave side: a fixed-size memory
// buffer addressable by register, a mapping table translating virtual
// addresses into slices of that buffer, and the command processor that
// drives both off the shared byte stream (spec.md §4.4).
package slave

import "github.com/GoAethereal/uartcat"

// Buffer is a slave's flat memory: MEM bytes addressed by 16-bit register
// offset, following original_source's SlaveBuffer<const MEM: usize>. Get and
// Set are free functions (not methods) because Go methods cannot carry their
// own type parameter beyond the receiver's.
type Buffer struct {
	data []byte
}

// NewBuffer allocates a zeroed buffer of mem bytes.
func NewBuffer(mem int) *Buffer {
	return &Buffer{data: make([]byte, mem)}
}

// Len returns the buffer's total byte capacity.
func (b *Buffer) Len() int { return len(b.data) }

// Raw exposes the buffer's backing bytes directly, for the command
// processor's bulk slave-buffer and mapped-virtual exchanges.
func (b *Buffer) Raw() []byte { return b.data }

// Get decodes reg's current value out of the buffer.
func Get[T any](b *Buffer, reg uartcat.Register[T]) T {
	start := int(reg.Address())
	return reg.Codec.Decode(b.data[start : start+reg.Size()])
}

// Set encodes value into reg's span of the buffer.
func Set[T any](b *Buffer, reg uartcat.Register[T], value T) {
	start := int(reg.Address())
	reg.Codec.Encode(value, b.data[start:start+reg.Size()])
}

// setError records err in the ERROR register, but only if it is not already
// holding an earlier, unacknowledged refusal -- mirrors
// SlaveBuffer::set_error, which is sticky until a master writes ErrorNone.
func (b *Buffer) setError(err uartcat.CommandError) {
	if Get(b, uartcat.ERROR) == uartcat.ErrorNone {
		Set(b, uartcat.ERROR, err)
	}
}
