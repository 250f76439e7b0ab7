// Package queue implements the write-back block queue's core: the
// pending/in-flight/sections lists and their invariants, the read/write
// overlap resolver, the asynchronous completion driver, and the
// error/flush state machine. It owns pending/inFlight/sections lists
// driven by Backend callbacks, configured through a
// Config-struct-plus-constructor with pluggable Logger/Observer.
package queue

import (
	"sync"

	"github.com/wbqueue/wbq/internal/interfaces"
	"github.com/wbqueue/wbq/internal/logging"
)

// Queue holds the process-wide state for one backing device: the
// pending and in-flight request lists, the barrier index, counters,
// mode flags, and its fixed backend/error-handler references.
//
// All mutable state is protected by a single mutex. This is the Go
// re-expression of "single-threaded cooperative within one Queue, owned
// by one event loop": rather than funnel every producer call through a
// dedicated goroutine's channel, the mutex is the loop's exclusion
// boundary, and drive() runs synchronously at the end of every
// state-changing call, matching "continuously submits" without a
// dedicated goroutine — Backend calls are non-blocking, with completions
// delivered via callback, either inline or later from a different
// goroutine, like a real proactor.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	backend      interfaces.Backend
	errHandler   ErrorHandler
	logger       interfaces.Logger
	observer     interfaces.Observer
	cfg          Config
	writeThrough bool

	pending  []*Request
	inFlight []*Request
	sections []*Request

	barriersRequested uint64
	barriersSubmitted uint64
	inFlightNum       int
	flushing          bool
	errorRet          error
	numWaitingForCB   int

	destroyed bool
}

// NewQueue creates a Queue bound to backend, with errHandler consulted
// on every failed completion.
func NewQueue(backend interfaces.Backend, errHandler ErrorHandler, cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BarrierThreshold <= 0 {
		def := DefaultConfig()
		cfg.BarrierThreshold = def.BarrierThreshold
	}
	q := &Queue{
		backend:      backend,
		errHandler:   errHandler,
		logger:       logger,
		observer:     cfg.Observer,
		cfg:          cfg,
		writeThrough: backend.OpenFlags().WriteThrough,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Context is a per-producer view onto a Queue: a back-reference to the
// queue and the producer's current section, a monotone epoch counter
// that barrier() increments and pwrite/pread may advance when they
// observe a newer write on an overlapping range.
type Context struct {
	queue   *Queue
	section uint64
}

// NewContext opens a Context with section 0.
func (q *Queue) NewContext() *Context {
	return &Context{queue: q}
}

// Section reports the context's current epoch, for diagnostics/tests.
func (c *Context) Section() uint64 {
	c.queue.mu.Lock()
	defer c.queue.mu.Unlock()
	return c.section
}

func (q *Queue) queueSizeLocked() int { return len(q.pending) }

// IsEmpty reports whether both the pending and in-flight lists are
// empty.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && q.inFlightNum == 0
}

// Stats is a snapshot of the queue's counters.
type Stats struct {
	QueueSize         int
	InFlightNum       int
	BarriersRequested uint64
	BarriersSubmitted uint64
	NumWaitingForCB   int
	Flushing          bool
	ErrorLatched      bool
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		QueueSize:         len(q.pending),
		InFlightNum:       q.inFlightNum,
		BarriersRequested: q.barriersRequested,
		BarriersSubmitted: q.barriersSubmitted,
		NumWaitingForCB:   q.numWaitingForCB,
		Flushing:          q.flushing,
		ErrorLatched:      q.errorRet != nil,
	}
}

// pop removes the head of pending; if it is a Barrier, it is also the
// head of sections and is removed from both.
func (q *Queue) pop() *Request {
	if len(q.pending) == 0 {
		return nil
	}
	head := q.pending[0]
	q.pending = q.pending[1:]
	if head.Kind == KindBarrier {
		if len(q.sections) == 0 || q.sections[0] != head {
			panic("queue: invariant violation: barrier at pending head is not sections head")
		}
		q.sections = q.sections[1:]
	}
	return head
}

// insertWrite inserts req immediately before the first Barrier in
// sections whose section is >= req.Section; if none exists it is
// appended to the tail.
func (q *Queue) insertWrite(req *Request) {
	var target *Request
	for _, b := range q.sections {
		if b.Section >= req.Section {
			target = b
			break
		}
	}
	if target == nil {
		q.pending = append(q.pending, req)
		return
	}
	idx := q.indexOfPending(target)
	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = req
}

func (q *Queue) indexOfPending(target *Request) int {
	for i, r := range q.pending {
		if r == target {
			return i
		}
	}
	panic("queue: invariant violation: sections entry not found in pending")
}

func (q *Queue) removeInFlight(req *Request) {
	for i, r := range q.inFlight {
		if r == req {
			q.inFlight = append(q.inFlight[:i], q.inFlight[i+1:]...)
			return
		}
	}
}

// reinsertHead puts req back at the head of pending (and sections, if
// it is a Barrier) for retry.
func (q *Queue) reinsertHead(req *Request) {
	q.pending = append([]*Request{req}, q.pending...)
	if req.Kind == KindBarrier {
		q.sections = append([]*Request{req}, q.sections...)
	}
}
