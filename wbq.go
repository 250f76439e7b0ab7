// Package wbq implements an in-memory write-back block queue that sits
// in front of a block device and reorders, coalesces and batches write
// I/O while preserving per-context write ordering through explicit
// barriers.
//
// The Producer API is deliberately small: open a Context on a Queue,
// then call Write/Read/Barrier/AioFlush from it. The Queue decides when
// to submit queued requests to the Backend, tolerates transient backend
// errors via the supplied ErrorHandler, and lets concurrent producers
// observe their own (and later) pending writes via read-through.
package wbq

import (
	"github.com/wbqueue/wbq/internal/interfaces"
	"github.com/wbqueue/wbq/internal/logging"
	"github.com/wbqueue/wbq/internal/queue"
)

// Backend is the thin contract the queue has with the backing device:
// a synchronous read, an asynchronous write, an asynchronous flush, and
// an open-flags probe used to decide the write-through bypass.
type Backend = interfaces.Backend

// OpenFlags reveals backend-level I/O mode.
type OpenFlags = interfaces.OpenFlags

// Logger is the logging contract the Queue and its collaborators use.
type Logger = interfaces.Logger

// Observer receives operation counters for metrics collection.
type Observer = interfaces.Observer

// ErrorHandler decides what happens to a failed in-flight request: true
// keeps the queue and retries (the request is reinserted at the head of
// pending and the latched error is cleared), false fails forward (the
// error stays latched and pending flush waiters observe it).
type ErrorHandler = queue.ErrorHandler

// Options configures a Queue via field-by-field defaulting: zero values
// are replaced with package defaults by NewQueue.
type Options struct {
	// BarrierThreshold is the minimum pending queue size below which a
	// Barrier at the head of pending is deferred, unless the queue is
	// flushing or has aio-flush waiters outstanding.
	BarrierThreshold int
	Logger           Logger
	Observer         Observer
}

// DefaultOptions returns an Options with the package defaults.
func DefaultOptions() Options {
	def := queue.DefaultConfig()
	return Options{BarrierThreshold: def.BarrierThreshold}
}

func (o Options) toConfig() queue.Config {
	return queue.Config{
		BarrierThreshold: o.BarrierThreshold,
		Logger:           o.Logger,
		Observer:         o.Observer,
	}
}

// Queue is a process-wide write-back queue for one backing device.
type Queue struct {
	inner *queue.Queue
}

// NewQueue creates a Queue bound to backend, with errHandler consulted on
// every failed completion. If the backend's OpenFlags() reports
// write-through, every operation bypasses the queue and calls the
// backend directly.
func NewQueue(backend Backend, errHandler ErrorHandler, opts Options) *Queue {
	if opts.BarrierThreshold <= 0 {
		opts.BarrierThreshold = DefaultOptions().BarrierThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Queue{inner: queue.NewQueue(backend, errHandler, opts.toConfig())}
}

// NewContext opens a Context with section 0.
func (q *Queue) NewContext() *Context {
	return &Context{queue: q, inner: q.inner.NewContext()}
}

// Flush blocks until both pending and in-flight are empty, or an
// unrecoverable error is latched. It returns nil or the latched error.
func (q *Queue) Flush() error { return q.inner.Flush() }

// Destroy drains the queue via Flush and, unless an error is latched,
// asserts both lists are empty. With an error latched it returns that
// error and leaves any remaining requests in place.
func (q *Queue) Destroy() error { return q.inner.Destroy() }

// IsEmpty reports whether both the pending and in-flight lists are empty.
func (q *Queue) IsEmpty() bool { return q.inner.IsEmpty() }

// ClearError clears a latched error without retrying the failed request,
// letting a caller resume a queue that fail-forwarded.
func (q *Queue) ClearError() { q.inner.ClearError() }

// Stats is a snapshot of the queue's counters.
type Stats = queue.Stats

// Stats reports a point-in-time snapshot of the queue's counters.
func (q *Queue) Stats() Stats { return q.inner.Stats() }

// Context is a per-producer view onto a Queue.
type Context struct {
	queue *Queue
	inner *queue.Context
}

// Write enqueues a write request, or calls the backend directly if the
// queue is in write-through bypass mode.
func (c *Context) Write(offset int64, buf []byte) error {
	return c.queue.inner.Write(c.inner, offset, buf)
}

// Read services a read through the overlap resolver, falling through to
// the backend for any unfulfilled portion.
func (c *Context) Read(offset int64, out []byte) error {
	return c.queue.inner.Read(c.inner, offset, out)
}

// Barrier closes the context's current section, merging with an existing
// qualifying Barrier where possible.
func (c *Context) Barrier() error {
	return c.queue.inner.Barrier(c.inner)
}

// AioFlush attaches cb to a tail Barrier, creating one if necessary; cb
// fires when that Barrier completes or the queue fails. It never blocks.
func (c *Context) AioFlush(cb func(error)) *FlushWaiter {
	return &FlushWaiter{inner: c.queue.inner.AioFlush(c.inner, cb)}
}

// Section reports the context's current epoch, for diagnostics.
func (c *Context) Section() uint64 { return c.inner.Section() }

// FlushWaiter is an externally visible completion handle for AioFlush.
type FlushWaiter struct {
	inner *queue.FlushWaiter
}

// Cancel prevents the attached callback from firing. The Barrier it is
// attached to is unaffected and still proceeds.
func (w *FlushWaiter) Cancel() { w.inner.Cancel() }
