package wbq

import (
	"testing"

	"github.com/wbqueue/wbq/backend"
)

func keepAlways(error) bool { return true }

func TestRoundTripWriteFlushRead(t *testing.T) {
	mem := backend.NewMemory(4096)
	q := NewQueue(mem, keepAlways, DefaultOptions())
	ctx := q.NewContext()

	payload := []byte("write-back block queue")
	if err := ctx.Write(128, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := q.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	raw, err := mem.SyncPread(128, len(payload))
	if err != nil {
		t.Fatalf("SyncPread: %v", err)
	}
	if string(raw) != string(payload) {
		t.Errorf("round trip mismatch: got %q, want %q", raw, payload)
	}
}

func TestReadObservesOwnWrite(t *testing.T) {
	mem := backend.NewMemory(4096)
	q := NewQueue(mem, keepAlways, DefaultOptions())
	ctx := q.NewContext()

	if err := ctx.Write(0, []byte{0x12, 0x12}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := make([]byte, 4)
	if err := ctx.Read(0, out); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out[0] != 0x12 || out[1] != 0x12 {
		t.Errorf("Read did not observe own write: %v", out)
	}
}

func TestBarrierIdempotence(t *testing.T) {
	mem := backend.NewMemory(4096)
	q := NewQueue(mem, keepAlways, DefaultOptions())
	ctx := q.NewContext()

	if err := ctx.Barrier(); err != nil {
		t.Fatalf("Barrier: %v", err)
	}
	first := ctx.Section()
	if err := ctx.Barrier(); err != nil {
		t.Fatalf("Barrier: %v", err)
	}
	if ctx.Section() != first {
		t.Errorf("second immediate barrier should not advance section further: got %d, want %d", ctx.Section(), first)
	}
}

func TestAioFlushFiresAfterDrain(t *testing.T) {
	mem := backend.NewMemory(4096)
	q := NewQueue(mem, keepAlways, DefaultOptions())
	ctx := q.NewContext()

	if err := ctx.Write(0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	fired := make(chan error, 1)
	ctx.AioFlush(func(err error) { fired <- err })

	if err := q.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	select {
	case err := <-fired:
		if err != nil {
			t.Errorf("aio_flush callback error: %v", err)
		}
	default:
		t.Fatal("aio_flush callback never fired")
	}
}

// heldFlushBackend is a memory backend whose AsyncFlush completions are
// held until release is called, so a Barrier stays in flight while the
// test acts on its waiter.
type heldFlushBackend struct {
	*backend.Memory
	held []func(error)
}

func (b *heldFlushBackend) AsyncFlush(cb func(error)) error {
	b.held = append(b.held, cb)
	return nil
}

func (b *heldFlushBackend) release() {
	held := b.held
	b.held = nil
	for _, cb := range held {
		cb(nil)
	}
}

func TestFlushWaiterCancelSuppressesCallback(t *testing.T) {
	mem := &heldFlushBackend{Memory: backend.NewMemory(4096)}
	q := NewQueue(mem, keepAlways, DefaultOptions())
	ctx := q.NewContext()

	called := false
	waiter := ctx.AioFlush(func(error) { called = true })
	waiter.Cancel()
	mem.release()

	if err := q.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if called {
		t.Error("canceled FlushWaiter callback fired")
	}
}

func TestWriteThroughBypassesQueue(t *testing.T) {
	mock := NewMockBackend(4096)
	mock.SetWriteThrough(true)
	q := NewQueue(mock, keepAlways, DefaultOptions())
	ctx := q.NewContext()

	if err := ctx.Write(0, []byte{0xAA}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !q.IsEmpty() {
		t.Error("write-through queue should never hold pending requests")
	}
	if mock.CallCounts()["write"] != 1 {
		t.Errorf("expected backend write to be called directly, got %v", mock.CallCounts())
	}
}
