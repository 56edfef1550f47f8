package uartcat

import (
	"context"
	"testing"
	"time"
)

func TestMutexLockUnlock(t *testing.T) {
	m := NewMutex(0)

	guard, err := m.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	*guard.Value() = 5
	guard.Unlock()

	guard2, err := m.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer guard2.Unlock()
	if got := *guard2.Value(); got != 5 {
		t.Fatalf("Value() = %d, want 5", got)
	}
}

func TestMutexTryLockContended(t *testing.T) {
	m := NewMutex(struct{}{})
	guard, ok := m.TryLock()
	if !ok {
		t.Fatalf("expected TryLock to succeed on an unlocked mutex")
	}
	if _, ok := m.TryLock(); ok {
		t.Fatalf("expected TryLock to fail while already held")
	}
	guard.Unlock()
	if _, ok := m.TryLock(); !ok {
		t.Fatalf("expected TryLock to succeed after Unlock")
	}
}

func TestMutexLockRespectsContext(t *testing.T) {
	m := NewMutex(0)
	guard, _ := m.Lock(context.Background())
	defer guard.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx); err == nil {
		t.Fatalf("expected Lock to fail while the mutex is held and ctx expires")
	}
}
