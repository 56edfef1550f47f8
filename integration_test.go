package uartcat_test

import (
	"context"
	"testing"
	"time"

	"github.com/GoAethereal/uartcat"
	"github.com/GoAethereal/uartcat/master"
	"github.com/GoAethereal/uartcat/slave"
	"github.com/GoAethereal/uartcat/transport"
)

var (
	testCounter  = uartcat.NewRegister(uint16(0x500), uartcat.Uint32Codec)
	testOffset   = uartcat.NewRegister(uint16(0x504), uartcat.Uint16Codec)
	testOffseted = uartcat.NewRegister(uint16(0x512), uartcat.Uint32Codec)
)

const testSlaveMem = 0x520

func newHarness(t *testing.T) (*master.Master, *slave.Slave, context.Context, context.CancelFunc) {
	t.Helper()
	portA, portB := transport.Loopback()
	t.Cleanup(func() { portA.Close(); portB.Close() })

	device := uartcat.Device{}
	device.Model, _ = uartcat.NewStringArray("esp32-test")
	device.HardwareVersion, _ = uartcat.NewStringArray("0.1")
	device.SoftwareVersion, _ = uartcat.NewStringArray("0.2")

	sl := slave.New(portB, device, testSlaveMem)
	ma := master.NewWithPort(portA, master.Config{Timeout: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go sl.Run(ctx)
	go ma.Run(ctx)

	return ma, sl, ctx, cancel
}

func TestFixedAddressRoundTrip(t *testing.T) {
	m, _, ctx, cancel := newHarness(t)
	defer cancel()

	topological0 := master.Topological(0)
	if _, err := master.SlaveWrite(ctx, m, topological0, uartcat.ADDRESS, uint16(1)); err != nil {
		t.Fatalf("writing ADDRESS: %v", err)
	}

	fixed1 := master.Fixed(1)
	answer, err := master.SlaveRead(ctx, m, fixed1, uartcat.VERSION)
	if err != nil {
		t.Fatalf("reading VERSION: %v", err)
	}
	if !answer.Once() {
		t.Fatalf("expected exactly one slave to answer, executed=%d", answer.Executed)
	}
	if answer.Data != uartcat.ProtocolVersion {
		t.Fatalf("VERSION = %d, want %d", answer.Data, uartcat.ProtocolVersion)
	}
}

func TestDeviceInfo(t *testing.T) {
	m, _, ctx, cancel := newHarness(t)
	defer cancel()

	answer, err := master.SlaveRead(ctx, m, master.Topological(0), uartcat.DEVICE)
	if err != nil {
		t.Fatalf("reading DEVICE: %v", err)
	}
	if answer.Data.Model.String() != "esp32-test" {
		t.Fatalf("Model = %q, want %q", answer.Data.Model.String(), "esp32-test")
	}
	if answer.Data.SoftwareVersion.String() != "0.2" {
		t.Fatalf("SoftwareVersion = %q, want %q", answer.Data.SoftwareVersion.String(), "0.2")
	}
	if answer.Data.HardwareVersion.String() != "0.1" {
		t.Fatalf("HardwareVersion = %q, want %q", answer.Data.HardwareVersion.String(), "0.1")
	}
}

func TestCounterMonotonicity(t *testing.T) {
	m, sl, ctx, cancel := newHarness(t)
	defer cancel()

	if _, err := master.SlaveWrite(ctx, m, master.Topological(0), uartcat.ADDRESS, uint16(1)); err != nil {
		t.Fatalf("writing ADDRESS: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				guard, err := sl.Lock(ctx)
				if err != nil {
					return
				}
				v := slave.Get(*guard.Value(), testCounter)
				slave.Set(*guard.Value(), testCounter, v+1)
				guard.Unlock()
			}
		}
	}()

	fixed1 := master.Fixed(1)
	var last uint32
	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		answer, err := master.SlaveRead(ctx, m, fixed1, testCounter)
		if err != nil {
			t.Fatalf("reading COUNTER: %v", err)
		}
		if i > 0 {
			delta := answer.Data - last
			if delta > 2 {
				t.Fatalf("COUNTER delta = %d, want one of {0,1,2}", delta)
			}
		}
		last = answer.Data
	}
}

func TestCounterReset(t *testing.T) {
	m, _, ctx, cancel := newHarness(t)
	defer cancel()

	if _, err := master.SlaveWrite(ctx, m, master.Topological(0), uartcat.ADDRESS, uint16(1)); err != nil {
		t.Fatalf("writing ADDRESS: %v", err)
	}
	fixed1 := master.Fixed(1)
	if _, err := master.SlaveWrite(ctx, m, fixed1, testCounter, uint32(1042)); err != nil {
		t.Fatalf("writing COUNTER: %v", err)
	}

	deadline := time.Now().Add(20 * time.Millisecond)
	var got uint32
	for time.Now().Before(deadline) {
		answer, err := master.SlaveRead(ctx, m, fixed1, testCounter)
		if err != nil {
			t.Fatalf("reading COUNTER: %v", err)
		}
		got = answer.Data
	}
	if delta := got - 1042; delta > 1 {
		t.Fatalf("COUNTER-1042 = %d, want 0 or 1", delta)
	}
}

func TestVirtualStreaming(t *testing.T) {
	m, sl, ctx, cancel := newHarness(t)
	defer cancel()

	if _, err := master.SlaveWrite(ctx, m, master.Topological(0), uartcat.ADDRESS, uint16(1)); err != nil {
		t.Fatalf("writing ADDRESS: %v", err)
	}
	fixed1 := master.Fixed(1)

	mapping := master.NewMapping()
	buf := master.Buffer[[6]byte](mapping, 6)
	master.RegisterN(buf, fixed1, testOffset)
	master.RegisterN(buf, fixed1, testOffseted)
	vreg := master.Build(buf)

	if _, err := mapping.Configure(ctx, m, fixed1); err != nil {
		t.Fatalf("configuring mapping: %v", err)
	}

	// A user task on the slave continuously recomputes OFFSETED from the
	// current OFFSET and COUNTER, standing in for application logic driven
	// off the mapped registers.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				guard, err := sl.Lock(ctx)
				if err != nil {
					return
				}
				b := *guard.Value()
				counter := slave.Get(b, testCounter)
				offset := slave.Get(b, testOffset)
				slave.Set(b, testOffseted, counter+uint32(offset))
				guard.Unlock()
			}
		}
	}()

	if _, err := master.WriteBytes(ctx, m, vreg.Address(), []byte{0, 100}); err != nil {
		t.Fatalf("writing mapped OFFSET: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	answer, err := master.SlaveRead(ctx, m, fixed1, testCounter)
	if err != nil {
		t.Fatalf("reading COUNTER: %v", err)
	}
	offsetedAnswer, err := master.SlaveRead(ctx, m, fixed1, testOffseted)
	if err != nil {
		t.Fatalf("reading OFFSETED: %v", err)
	}
	if offsetedAnswer.Data != answer.Data+100 {
		t.Fatalf("OFFSETED = %d, want counter(%d)+100", offsetedAnswer.Data, answer.Data)
	}
}

func TestChecksumCatchUp(t *testing.T) {
	portA, portB := transport.Loopback()
	defer portA.Close()
	defer portB.Close()

	device := uartcat.Device{}
	device.Model, _ = uartcat.NewStringArray("esp32-test")
	sl := slave.New(portB, device, testSlaveMem)
	m := master.NewWithPort(portA, master.Config{Timeout: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sl.Run(ctx)
	go m.Run(ctx)

	// Inject noise onto the wire ahead of a real command; the slave's
	// catchHeader resync loop (the same algorithm the master's Run uses in
	// the other direction) must skip these bytes and still deliver the
	// following real command exactly once.
	if _, err := portA.Write([]byte{0x11, 0x22, 0x33, 0x44, 0x55}); err != nil {
		t.Fatalf("writing noise: %v", err)
	}

	if _, err := master.SlaveWrite(ctx, m, master.Topological(0), uartcat.ADDRESS, uint16(1)); err != nil {
		t.Fatalf("writing ADDRESS: %v", err)
	}
	answer, err := master.SlaveRead(ctx, m, master.Fixed(1), uartcat.VERSION)
	if err != nil {
		t.Fatalf("reading VERSION after noise: %v", err)
	}
	if answer.Data != uartcat.ProtocolVersion {
		t.Fatalf("VERSION = %d, want %d", answer.Data, uartcat.ProtocolVersion)
	}
}

func TestOversizeCommandRejectedLocally(t *testing.T) {
	m, _, ctx, cancel := newHarness(t)
	defer cancel()

	_, err := master.WriteBytes(ctx, m, 0, make([]byte, uartcat.MaxCommand+1))
	if err == nil {
		t.Fatalf("expected an oversize write to be rejected before any bus write")
	}
}

func TestCancelledExchangeLeavesNoStaleToken(t *testing.T) {
	m, _, _, cancel := newHarness(t)
	defer cancel()

	abortCtx, abortCancel := context.WithCancel(context.Background())
	abortCancel()
	if _, err := master.ReadBytes(abortCtx, m, 0, 4); err == nil {
		t.Fatalf("expected a read on an already-cancelled context to fail")
	}

	// The aborted exchange released its token via Topic.Close; a fresh
	// command must still go through normally afterward.
	if _, err := master.SlaveRead(context.Background(), m, master.Topological(0), uartcat.VERSION); err != nil {
		t.Fatalf("read after aborted exchange: %v", err)
	}
}
