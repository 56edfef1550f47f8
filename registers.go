package uartcat

import (
	"encoding/binary"
	"errors"
)

// Codec describes how a register value of type T is serialized to and from a
// big-endian byte buffer. Complex registers (Device, MappingTable) compose
// simpler codecs the same way the teacher's helper.go put() composes byte,
// uint16 and bool encodings.
type Codec[T any] struct {
	Size   int
	Encode func(v T, dst []byte)
	Decode func(src []byte) T
}

// Register is a compile-time-typed (address, codec) pair over a 16-bit
// slave-local address. Registers are value types: creating, copying and
// discarding one has no runtime cost and no bus effect.
type Register[T any] struct {
	Addr  uint16
	Codec Codec[T]
}

// NewRegister builds a Register at the given slave-local address.
func NewRegister[T any](addr uint16, codec Codec[T]) Register[T] {
	return Register[T]{Addr: addr, Codec: codec}
}

// Address returns the register's slave-local address.
func (r Register[T]) Address() uint16 { return r.Addr }

// Size returns the register's encoded size in bytes.
func (r Register[T]) Size() int { return r.Codec.Size }

// VirtualRegister is a Register addressed by a flat 32-bit virtual address,
// built master-side by a Mapping (see mapping.go in package master).
type VirtualRegister[T any] struct {
	Addr  uint32
	Codec Codec[T]
}

// Address returns the register's virtual address.
func (r VirtualRegister[T]) Address() uint32 { return r.Addr }

// Size returns the register's encoded size in bytes.
func (r VirtualRegister[T]) Size() int { return r.Codec.Size }

// Primitive codecs, all big-endian.

var Uint8Codec = Codec[uint8]{
	Size:   1,
	Encode: func(v uint8, dst []byte) { dst[0] = v },
	Decode: func(src []byte) uint8 { return src[0] },
}

var Uint16Codec = Codec[uint16]{
	Size:   2,
	Encode: func(v uint16, dst []byte) { binary.BigEndian.PutUint16(dst, v) },
	Decode: func(src []byte) uint16 { return binary.BigEndian.Uint16(src) },
}

var Uint32Codec = Codec[uint32]{
	Size:   4,
	Encode: func(v uint32, dst []byte) { binary.BigEndian.PutUint32(dst, v) },
	Decode: func(src []byte) uint32 { return binary.BigEndian.Uint32(src) },
}

var Uint64Codec = Codec[uint64]{
	Size:   8,
	Encode: func(v uint64, dst []byte) { binary.BigEndian.PutUint64(dst, v) },
	Decode: func(src []byte) uint64 { return binary.BigEndian.Uint64(src) },
}

// CommandErrorCodec encodes the slave ERROR register.
var CommandErrorCodec = Codec[CommandError]{
	Size:   1,
	Encode: func(v CommandError, dst []byte) { dst[0] = byte(v) },
	Decode: func(src []byte) CommandError { return CommandError(src[0]) },
}

// ErrInputTooLong is returned by NewStringArray when the source string does
// not fit in a StringArray's 31-byte payload.
var ErrInputTooLong = errors.New("uartcat: input too long for a 31-byte StringArray")

// stringArraySize is the wire size of a StringArray: one length-prefix byte
// plus 31 payload bytes.
const stringArraySize = 32
const stringArrayPayload = stringArraySize - 1

// StringArray is a length-prefixed string register value: one byte of length
// followed by 31 bytes of payload. It is how the DEVICE register's model,
// hardware_version, software_version and serial fields are stored.
type StringArray struct {
	Length byte
	Bytes  [stringArrayPayload]byte
}

// NewStringArray builds a StringArray from s, failing with ErrInputTooLong
// when s is longer than 31 bytes.
func NewStringArray(s string) (StringArray, error) {
	if len(s) > stringArrayPayload {
		return StringArray{}, ErrInputTooLong
	}
	var sa StringArray
	sa.Length = byte(len(s))
	copy(sa.Bytes[:], s)
	return sa, nil
}

// String returns the StringArray's payload decoded as a Go string.
func (s StringArray) String() string {
	n := int(s.Length)
	if n > len(s.Bytes) {
		n = len(s.Bytes)
	}
	return string(s.Bytes[:n])
}

var StringArrayCodec = Codec[StringArray]{
	Size: stringArraySize,
	Encode: func(v StringArray, dst []byte) {
		dst[0] = v.Length
		copy(dst[1:stringArraySize], v.Bytes[:])
	},
	Decode: func(src []byte) StringArray {
		var sa StringArray
		sa.Length = src[0]
		copy(sa.Bytes[:], src[1:stringArraySize])
		return sa
	},
}

// Device is the slave's standard identification block (the DEVICE register):
// four length-prefixed strings. spec.md names model, hardware_version and
// software_version explicitly and describes "four length-prefixed strings up
// to 31 bytes" for the register's 128-byte span; the fourth slot is kept for
// a device serial number, following original_source's intent for per-unit
// identification without a dedicated EEPROM interface.
type Device struct {
	Model           StringArray
	HardwareVersion StringArray
	SoftwareVersion StringArray
	Serial          StringArray
}

const deviceSize = 4 * stringArraySize

var DeviceCodec = Codec[Device]{
	Size: deviceSize,
	Encode: func(v Device, dst []byte) {
		StringArrayCodec.Encode(v.Model, dst[0*stringArraySize:])
		StringArrayCodec.Encode(v.HardwareVersion, dst[1*stringArraySize:])
		StringArrayCodec.Encode(v.SoftwareVersion, dst[2*stringArraySize:])
		StringArrayCodec.Encode(v.Serial, dst[3*stringArraySize:])
	},
	Decode: func(src []byte) Device {
		return Device{
			Model:           StringArrayCodec.Decode(src[0*stringArraySize:]),
			HardwareVersion: StringArrayCodec.Decode(src[1*stringArraySize:]),
			SoftwareVersion: StringArrayCodec.Decode(src[2*stringArraySize:]),
			Serial:          StringArrayCodec.Decode(src[3*stringArraySize:]),
		}
	},
}

// MaxMappingEntries is the fixed capacity of a slave's mapping table.
const MaxMappingEntries = 128

// mappingEntrySize is the wire size of one MappingEntry: virtual_start(4) +
// slave_start(2) + size(2).
const mappingEntrySize = 8

// MappingEntry is one virtual-to-slave-register translation: a slave-local
// register range of Size bytes starting at SlaveStart corresponds to the
// virtual range [VirtualStart, VirtualStart+Size).
type MappingEntry struct {
	VirtualStart uint32
	SlaveStart   uint16
	Size         uint16
}

var mappingEntryCodec = Codec[MappingEntry]{
	Size: mappingEntrySize,
	Encode: func(v MappingEntry, dst []byte) {
		binary.BigEndian.PutUint32(dst[0:4], v.VirtualStart)
		binary.BigEndian.PutUint16(dst[4:6], v.SlaveStart)
		binary.BigEndian.PutUint16(dst[6:8], v.Size)
	},
	Decode: func(src []byte) MappingEntry {
		return MappingEntry{
			VirtualStart: binary.BigEndian.Uint32(src[0:4]),
			SlaveStart:   binary.BigEndian.Uint16(src[4:6]),
			Size:         binary.BigEndian.Uint16(src[6:8]),
		}
	},
}

// MappingTable is the slave's MAPPING register: a count followed by a fixed
// 128-entry array, padded with zero-size (inactive) entries past Count.
type MappingTable struct {
	Count   uint8
	Entries [MaxMappingEntries]MappingEntry
}

const mappingTableSize = 1 + MaxMappingEntries*mappingEntrySize

var MappingTableCodec = Codec[MappingTable]{
	Size: mappingTableSize,
	Encode: func(v MappingTable, dst []byte) {
		dst[0] = v.Count
		for i, e := range v.Entries {
			mappingEntryCodec.Encode(e, dst[1+i*mappingEntrySize:])
		}
	},
	Decode: func(src []byte) MappingTable {
		var t MappingTable
		t.Count = src[0]
		for i := range t.Entries {
			t.Entries[i] = mappingEntryCodec.Decode(src[1+i*mappingEntrySize:])
		}
		return t
	},
}

// Standard register offsets, fixed for every UartCAT slave. Application
// registers start at UserBase. CLOCK is placed immediately after DEVICE's
// four 32-byte StringArray slots (0x20 + 4*32 = 0xA0), rather than at the
// overlapping 0x86 offset found in an earlier draft of this layout -- see
// DESIGN.md for the reasoning -- which keeps MAPPING at 0xFF and the user
// area starting exactly at 0x500, as required.
const (
	addressAddr = 0x00
	errorAddr   = 0x02
	lossAddr    = 0x03
	versionAddr = 0x05
	deviceAddr  = 0x20
	clockAddr   = 0xA0
	mappingAddr = 0xFF

	// UserBase is the first slave-local address available to application
	// registers. MEM must be at least UserBase.
	UserBase = 0x500
)

// ADDRESS holds the slave's configured fixed address.
var ADDRESS = NewRegister(uint16(addressAddr), Uint16Codec)

// ERROR holds the slave's first non-None refusal cause since it was last
// reset (write ErrorNone to clear).
var ERROR = NewRegister(uint16(errorAddr), CommandErrorCodec)

// LOSS counts frames lost by the slave: writes dropped for a bad data
// checksum, and failed bus reads or writes. Header resynchronization is not
// counted.
var LOSS = NewRegister(uint16(lossAddr), Uint16Codec)

// VERSION holds the protocol version implemented by the slave (1).
var VERSION = NewRegister(uint16(versionAddr), Uint8Codec)

// DEVICE holds the slave's standard identification strings.
var DEVICE = NewRegister(uint16(deviceAddr), DeviceCodec)

// CLOCK holds the slave's clock value. The slave does not update it itself:
// a read returns whatever was last written to it.
var CLOCK = NewRegister(uint16(clockAddr), Uint64Codec)

// MAPPING holds the slave's virtual-memory mapping table.
var MAPPING = NewRegister(uint16(mappingAddr), MappingTableCodec)

// ProtocolVersion is the protocol version this package implements.
const ProtocolVersion uint8 = 1
