package uartcat

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Token:        0xBEEF,
		Access:       AccessRead | AccessWrite,
		Executed:     3,
		Address:      NewSlaveAddress(42, 0x20),
		Size:         128,
		DataChecksum: 0x5A,
	}
	got := DecodeHeader(EncodeHeader(h))
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestAddressPacking(t *testing.T) {
	a := NewSlaveAddress(7, 0x0304)
	if a.Slave() != 7 {
		t.Fatalf("Slave() = %d, want 7", a.Slave())
	}
	if a.Register() != 0x0304 {
		t.Fatalf("Register() = %#x, want 0x0304", a.Register())
	}
	b := a.WithSlave(9)
	if b.Slave() != 9 || b.Register() != 0x0304 {
		t.Fatalf("WithSlave changed register: got slave=%d register=%#x", b.Slave(), b.Register())
	}

	v := NewVirtualAddress(0x00112233)
	if v.Virtual() != 0x00112233 {
		t.Fatalf("Virtual() = %#x, want 0x00112233", v.Virtual())
	}
}

func TestAccessBits(t *testing.T) {
	a := AccessRead | AccessWrite
	if !a.Read() || !a.Write() {
		t.Fatalf("expected both read and write set: %#b", a)
	}
	if a.Fixed() || a.Topological() || a.Error() {
		t.Fatalf("unexpected bit set: %#b", a)
	}
	if !a.Virtual() {
		t.Fatalf("expected Virtual() true when neither Fixed nor Topological set")
	}

	fixed := a | AccessFixed
	if fixed.Virtual() {
		t.Fatalf("Virtual() should be false once Fixed is set")
	}

	withErr := a.WithError(true)
	if !withErr.Error() {
		t.Fatalf("WithError(true) did not set the error bit")
	}
	cleared := withErr.WithError(false)
	if cleared.Error() {
		t.Fatalf("WithError(false) did not clear the error bit")
	}
}

func TestChecksumDeterministic(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	if Checksum(data) != Checksum(data) {
		t.Fatalf("Checksum is not deterministic")
	}
	if Checksum(nil) != checksumInitial {
		t.Fatalf("Checksum(nil) = %#x, want initial value %#x", Checksum(nil), checksumInitial)
	}
}

func TestValidHeaderCatchesResync(t *testing.T) {
	h := Header{Token: 1, Access: AccessRead, Address: NewVirtualAddress(0x10), Size: 4}
	encoded := EncodeHeader(h)

	var frame [CatchFrameSize]byte
	copy(frame[:HeaderSize], encoded[:])
	frame[HeaderSize] = Checksum(encoded[:])
	if !ValidHeader(frame) {
		t.Fatalf("expected a freshly encoded header to validate")
	}

	// Shifting the window by one byte (as if we started reading mid-stream)
	// must invalidate the checksum, the property the resync loop relies on.
	var shifted [CatchFrameSize]byte
	copy(shifted[:], frame[1:])
	shifted[CatchFrameSize-1] = 0xFF
	if ValidHeader(shifted) {
		t.Fatalf("did not expect a misaligned window to validate")
	}
}
