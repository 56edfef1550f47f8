package transport

import (
	"testing"
	"time"
)

func TestLoopbackRoundTrip(t *testing.T) {
	a, b := Loopback()
	defer a.Close()
	defer b.Close()

	want := []byte("uartcat")
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := a.Write(want); err != nil {
			t.Errorf("Write: %v", err)
		}
	}()

	got := make([]byte, len(want))
	if _, err := b.Read(got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	<-done
	if string(got) != string(want) {
		t.Fatalf("Read() = %q, want %q", got, want)
	}
}

func TestLoopbackReadTimeout(t *testing.T) {
	a, b := Loopback()
	defer a.Close()
	defer b.Close()

	if err := b.SetReadTimeout(10 * time.Millisecond); err != nil {
		t.Fatalf("SetReadTimeout: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := b.Read(buf); err == nil {
		t.Fatalf("expected Read to time out with nothing written")
	}
}
