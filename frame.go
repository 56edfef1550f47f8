package uartcat

import "encoding/binary"

// MaxCommand is the largest data payload (in bytes) a single command may carry.
// With the 11-byte header, its checksum byte and the payload, the largest wire
// frame is MaxCommand+12 bytes.
const MaxCommand = 1024

// HeaderSize is the encoded size, in bytes, of Header: token(2) + access(1) +
// executed(1) + address(4) + size(2) + data checksum(1).
const HeaderSize = 11

// FrameChecksumSize is the single trailing byte used to resynchronize on a
// byte stream: the running checksum transform over the HeaderSize header
// bytes. It immediately follows the header and precedes the data payload.
const FrameChecksumSize = 1

// Access is the command header's memory-access bitfield.
type Access uint8

const (
	// AccessRead requests the addressed memory be read back in the response.
	AccessRead Access = 1 << iota
	// AccessWrite requests the payload be written to the addressed memory.
	AccessWrite
	// AccessFixed selects a slave by its configured fixed address. Mutually
	// exclusive with AccessTopological; if neither is set, the address is
	// virtual.
	AccessFixed
	// AccessTopological selects a slave by rank in the daisy chain.
	AccessTopological
	_reservedBit4
	_reservedBit5
	_reservedBit6
	// AccessError is set by a slave on a response to signal it refused the
	// command. The precise cause is read back from the slave's ERROR
	// register.
	AccessError
)

// Read reports whether the read bit is set.
func (a Access) Read() bool { return a&AccessRead != 0 }

// Write reports whether the write bit is set.
func (a Access) Write() bool { return a&AccessWrite != 0 }

// Fixed reports whether this is a fixed-address command.
func (a Access) Fixed() bool { return a&AccessFixed != 0 }

// Topological reports whether this is a topological-address command.
func (a Access) Topological() bool { return a&AccessTopological != 0 }

// Error reports whether the slave that produced this response refused the
// command.
func (a Access) Error() bool { return a&AccessError != 0 }

// Virtual reports whether neither Fixed nor Topological is set, meaning the
// address is a flat virtual-memory address.
func (a Access) Virtual() bool { return !a.Fixed() && !a.Topological() }

// WithError returns a copy of a with the error bit set or cleared.
func (a Access) WithError(set bool) Access {
	if set {
		return a | AccessError
	}
	return a &^ AccessError
}

// WithRead returns a copy of a with the read bit set or cleared.
func (a Access) WithRead(set bool) Access {
	if set {
		return a | AccessRead
	}
	return a &^ AccessRead
}

// WithWrite returns a copy of a with the write bit set or cleared.
func (a Access) WithWrite(set bool) Access {
	if set {
		return a | AccessWrite
	}
	return a &^ AccessWrite
}

// Address is the command header's 32-bit address field. Depending on Access,
// it is read either as a flat virtual address (Virtual) or as a packed
// (slave, register) pair (Slave/Register) for fixed or topological commands.
type Address uint32

// NewSlaveAddress packs a 16-bit slave identifier (or rank) and a 16-bit
// slave-local register address into an Address.
func NewSlaveAddress(slave, register uint16) Address {
	return Address(uint32(slave)<<16 | uint32(register))
}

// NewVirtualAddress returns a flat virtual Address.
func NewVirtualAddress(address uint32) Address {
	return Address(address)
}

// Slave returns the packed slave identifier/rank half of the address.
func (a Address) Slave() uint16 { return uint16(a >> 16) }

// Register returns the packed slave-local register half of the address.
func (a Address) Register() uint16 { return uint16(a) }

// Virtual returns the address interpreted as a flat 32-bit virtual address.
func (a Address) Virtual() uint32 { return uint32(a) }

// WithSlave returns a copy of a with its slave/rank half replaced, keeping
// the register half unchanged.
func (a Address) WithSlave(slave uint16) Address {
	return NewSlaveAddress(slave, a.Register())
}

// Header is the 11-byte command header, serialized big-endian, that precedes
// every frame on the wire.
type Header struct {
	// Token is the request identifier chosen by the master; echoed
	// unchanged by every slave that forwards the frame.
	Token uint16
	// Access selects the kind of memory operation.
	Access Access
	// Executed counts the slaves that matched and executed this command.
	Executed uint8
	// Address is either a flat virtual address or a packed (slave, register)
	// pair, depending on Access.
	Address Address
	// Size is the byte count of the data payload following the header and
	// its checksum byte.
	Size uint16
	// DataChecksum is the running checksum of the data payload.
	DataChecksum byte
}

// EncodeHeader serializes h into a HeaderSize-byte big-endian buffer.
func EncodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], h.Token)
	buf[2] = byte(h.Access)
	buf[3] = h.Executed
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Address))
	binary.BigEndian.PutUint16(buf[8:10], h.Size)
	buf[10] = h.DataChecksum
	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer into a Header. It performs no
// validation: callers must verify the frame with Checksum before trusting any
// field (see ValidHeader).
func DecodeHeader(buf [HeaderSize]byte) Header {
	return Header{
		Token:        binary.BigEndian.Uint16(buf[0:2]),
		Access:       Access(buf[2]),
		Executed:     buf[3],
		Address:      Address(binary.BigEndian.Uint32(buf[4:8])),
		Size:         binary.BigEndian.Uint16(buf[8:10]),
		DataChecksum: buf[10],
	}
}

// checksumInitial is the standard neutral starting value for the running
// checksum transform used for both the header resync byte and the data
// checksum field.
const checksumInitial byte = 0b010110111

// Checksum computes the protocol's running checksum over data: starting from
// checksumInitial, for each byte b the accumulator becomes (accumulator+b)<<1
// with 8-bit wraparound. It is a pure function of the bytes alone, used both
// to validate the header (ValidHeader) and to validate/produce the
// DataChecksum field.
func Checksum(data []byte) byte {
	c := checksumInitial
	for _, b := range data {
		c = (c + b) << 1
	}
	return c
}

// CatchFrameSize is the number of bytes that must be read from the byte
// stream before a header can be validated: the HeaderSize header bytes plus
// its trailing resync checksum byte.
const CatchFrameSize = HeaderSize + FrameChecksumSize

// ValidHeader reports whether buf's trailing byte matches the running
// checksum of its first HeaderSize bytes, i.e. whether buf holds a
// resynchronized, trustworthy header.
func ValidHeader(buf [CatchFrameSize]byte) bool {
	return Checksum(buf[:HeaderSize]) == buf[HeaderSize]
}
