// Package interfaces provides internal interface definitions for wbq.
// These are separate from the public interfaces to avoid circular imports
// between the root package and the internal packages that need them.
package interfaces

// Backend is the thin contract the queue has with the backing device: a
// synchronous read, an asynchronous write, an asynchronous flush, and a
// way to probe whether the device wants write-through semantics.
//
// AsyncPwrite and AsyncFlush must not wait for the I/O to finish; cb is
// invoked exactly once, with a nil error on success, either inline before
// the call returns or later, possibly from a different goroutine.
type Backend interface {
	SyncPread(offset int64, size int) ([]byte, error)
	AsyncPwrite(offset int64, buf []byte, cb func(error)) error
	AsyncFlush(cb func(error)) error
	OpenFlags() OpenFlags
}

// OpenFlags reveals backend-level I/O mode. WriteThrough signals that the
// queue must bypass itself and call the backend directly.
type OpenFlags struct {
	WriteThrough bool
}

// Logger is the logging contract shared by the queue core, the table
// cache and the backend adapters.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives operation counters for metrics collection.
// Implementations must be thread-safe: methods are called from whatever
// goroutine happens to be holding the Queue's lock at the time.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveBarrier(latencyNs uint64, success bool)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveQueueDepth(depth uint32)
}
