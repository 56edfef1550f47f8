package master

import (
	"context"

	"github.com/GoAethereal/uartcat"
)

// Host selects which slave (or slaves) a fixed- or topological-addressed
// command targets, mirroring original_source's Host enum (master/mod.rs).
// The zero value is invalid; build one with Fixed or Topological.
type Host struct {
	topological bool
	id          uint16
}

// Fixed addresses the single slave configured with this fixed address.
func Fixed(address uint16) Host { return Host{topological: false, id: address} }

// Topological addresses the slave at this rank in the daisy chain, counting
// from the master's end (spec.md §2).
func Topological(rank uint16) Host { return Host{topological: true, id: rank} }

func (h Host) access() uartcat.Access {
	if h.topological {
		return uartcat.AccessTopological
	}
	return uartcat.AccessFixed
}

// Answer is the result of a completed command: the decoded (or raw) payload
// together with the number of slaves that executed it. A virtual access
// normally expects Exact(1); a fixed or topological broadcast may expect Any
// or a specific count.
type Answer[T any] struct {
	Data     T
	Executed uint8
}

// Any reports whether at least one slave executed the command.
func (a Answer[T]) Any() bool { return a.Executed > 0 }

// Exact reports whether exactly n slaves executed the command.
func (a Answer[T]) Exact(n uint8) bool { return a.Executed == n }

// Once reports whether exactly one slave executed the command -- the
// expected case for any fixed, topological or mapped-virtual single-register
// access.
func (a Answer[T]) Once() bool { return a.Exact(1) }

// Read performs a virtual read of reg and decodes the response.
func Read[T any](ctx context.Context, m *Master, reg uartcat.VirtualRegister[T]) (Answer[T], error) {
	raw, executed, err := ReadBytes(ctx, m, reg.Address(), reg.Size())
	if err != nil {
		return Answer[T]{}, err
	}
	return Answer[T]{Data: reg.Codec.Decode(raw), Executed: executed}, nil
}

// Write performs a virtual write of value to reg.
func Write[T any](ctx context.Context, m *Master, reg uartcat.VirtualRegister[T], value T) (Answer[T], error) {
	buf := make([]byte, reg.Size())
	reg.Codec.Encode(value, buf)
	executed, err := WriteBytes(ctx, m, reg.Address(), buf)
	if err != nil {
		return Answer[T]{}, err
	}
	return Answer[T]{Data: value, Executed: executed}, nil
}

// ExchangeRegister performs a virtual read-modify-write: value is written and the
// slave's pre-write contents are read back in the same command, per spec.md
// §4.4's combined read+write access.
func ExchangeRegister[T any](ctx context.Context, m *Master, reg uartcat.VirtualRegister[T], value T) (Answer[T], error) {
	buf := make([]byte, reg.Size())
	reg.Codec.Encode(value, buf)
	raw, executed, err := ExchangeBytes(ctx, m, reg.Address(), buf)
	if err != nil {
		return Answer[T]{}, err
	}
	return Answer[T]{Data: reg.Codec.Decode(raw), Executed: executed}, nil
}

// ReadBytes issues a raw virtual read of size bytes at address.
func ReadBytes(ctx context.Context, m *Master, address uint32, size int) ([]byte, uint8, error) {
	encodedSize, err := sizeToMessage(size)
	if err != nil {
		return nil, 0, err
	}
	header := uartcat.Header{
		Access:  uartcat.AccessRead,
		Address: uartcat.NewVirtualAddress(address),
		Size:    encodedSize,
	}
	buffer := make([]byte, size)
	executed, err := Exchange(ctx, m, header, nil, buffer)
	return buffer, executed, err
}

// WriteBytes issues a raw virtual write of data at address.
func WriteBytes(ctx context.Context, m *Master, address uint32, data []byte) (uint8, error) {
	encodedSize, err := sizeToMessage(len(data))
	if err != nil {
		return 0, err
	}
	header := uartcat.Header{
		Access:       uartcat.AccessWrite,
		Address:      uartcat.NewVirtualAddress(address),
		Size:         encodedSize,
		DataChecksum: uartcat.Checksum(data),
	}
	return Exchange(ctx, m, header, data, nil)
}

// ExchangeBytes issues a combined raw virtual read+write at address,
// returning the pre-write contents.
func ExchangeBytes(ctx context.Context, m *Master, address uint32, data []byte) ([]byte, uint8, error) {
	encodedSize, err := sizeToMessage(len(data))
	if err != nil {
		return nil, 0, err
	}
	header := uartcat.Header{
		Access:       uartcat.AccessRead | uartcat.AccessWrite,
		Address:      uartcat.NewVirtualAddress(address),
		Size:         encodedSize,
		DataChecksum: uartcat.Checksum(data),
	}
	buffer := make([]byte, len(data))
	executed, err := Exchange(ctx, m, header, data, buffer)
	return buffer, executed, err
}

// SlaveRead performs a fixed- or topological-addressed read of reg against
// host, decoding the response.
func SlaveRead[T any](ctx context.Context, m *Master, host Host, reg uartcat.Register[T]) (Answer[T], error) {
	raw, executed, err := SlaveReadBytes(ctx, m, host, reg.Address(), reg.Size())
	if err != nil {
		return Answer[T]{}, err
	}
	return Answer[T]{Data: reg.Codec.Decode(raw), Executed: executed}, nil
}

// SlaveWrite performs a fixed- or topological-addressed write of value to reg
// against host.
func SlaveWrite[T any](ctx context.Context, m *Master, host Host, reg uartcat.Register[T], value T) (Answer[T], error) {
	buf := make([]byte, reg.Size())
	reg.Codec.Encode(value, buf)
	executed, err := SlaveWriteBytes(ctx, m, host, reg.Address(), buf)
	if err != nil {
		return Answer[T]{}, err
	}
	return Answer[T]{Data: value, Executed: executed}, nil
}

// SlaveReadBytes issues a raw fixed/topological read of size bytes at
// register against host.
func SlaveReadBytes(ctx context.Context, m *Master, host Host, register uint16, size int) ([]byte, uint8, error) {
	encodedSize, err := sizeToMessage(size)
	if err != nil {
		return nil, 0, err
	}
	header := uartcat.Header{
		Access:  uartcat.AccessRead | host.access(),
		Address: uartcat.NewSlaveAddress(host.id, register),
		Size:    encodedSize,
	}
	buffer := make([]byte, size)
	executed, err := Exchange(ctx, m, header, nil, buffer)
	return buffer, executed, err
}

// SlaveWriteBytes issues a raw fixed/topological write of data at register
// against host.
func SlaveWriteBytes(ctx context.Context, m *Master, host Host, register uint16, data []byte) (uint8, error) {
	encodedSize, err := sizeToMessage(len(data))
	if err != nil {
		return 0, err
	}
	header := uartcat.Header{
		Access:       uartcat.AccessWrite | host.access(),
		Address:      uartcat.NewSlaveAddress(host.id, register),
		Size:         encodedSize,
		DataChecksum: uartcat.Checksum(data),
	}
	return Exchange(ctx, m, header, data, nil)
}
