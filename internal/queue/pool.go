package queue

import "sync"

// BufferPool provides pooled byte slices to avoid hot-path allocations when
// the Queue Core copies write payloads on enqueue and when the table cache
// stages flush buffers. Uses size-bucketed pools sized for this queue's
// actual traffic: small producer writes (tens of bytes), table-cache-sized
// writebacks (4KB), and larger bulk writes (64KB, 1MB) up to whatever a
// caller batches.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.

// Buffer size thresholds
const (
	size64b = 64
	size4k  = 4 * 1024
	size64k = 64 * 1024
	size1m  = 1024 * 1024
)

// globalPool is the shared buffer pool for all queues.
// Uses pointer-to-slice pattern for efficient sync.Pool usage.
var globalPool = struct {
	pool64b sync.Pool
	pool4k  sync.Pool
	pool64k sync.Pool
	pool1m  sync.Pool
}{
	pool64b: sync.Pool{New: func() any { b := make([]byte, size64b); return &b }},
	pool4k:  sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool64k: sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool1m:  sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// GetBuffer returns a pooled buffer of at least the requested size.
// Caller must call PutBuffer when done.
func GetBuffer(size uint32) []byte {
	switch {
	case size <= size64b:
		return (*globalPool.pool64b.Get().(*[]byte))[:size]
	case size <= size4k:
		return (*globalPool.pool4k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*globalPool.pool64k.Get().(*[]byte))[:size]
	default:
		if size > size1m {
			// Larger than the biggest bucket: allocate directly. PutBuffer
			// does not pool it, since its capacity matches no bucket.
			return make([]byte, size)
		}
		return (*globalPool.pool1m.Get().(*[]byte))[:size]
	}
}

// PutBuffer returns a buffer to the pool.
// The buffer's capacity determines which pool it goes to.
func PutBuffer(buf []byte) {
	c := cap(buf)
	// Restore full capacity before returning to pool
	buf = buf[:c]
	switch c {
	case size64b:
		globalPool.pool64b.Put(&buf)
	case size4k:
		globalPool.pool4k.Put(&buf)
	case size64k:
		globalPool.pool64k.Put(&buf)
	case size1m:
		globalPool.pool1m.Put(&buf)
		// Buffers with non-standard capacity are not returned to pool
	}
}
