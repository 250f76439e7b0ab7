package queue

// Kind distinguishes the two request variants the Queue Core handles.
type Kind int

const (
	KindWrite Kind = iota
	KindBarrier
)

func (k Kind) String() string {
	if k == KindBarrier {
		return "BARRIER"
	}
	return "WRITE"
}

// Request is the fundamental queued unit: a tagged variant over
// {Write, Barrier}. It carries its producer's section, lives on exactly
// one of a Queue's pending/inFlight lists at a time, and (for Barriers)
// a list of attached FlushWaiters.
type Request struct {
	Kind    Kind
	Section uint64
	Offset  int64
	Size    int
	// Buf is the owned copy of the write payload; nil for Barriers.
	Buf []byte

	waiters []*FlushWaiter
	queue   *Queue
}

func newWrite(queue *Queue, section uint64, offset int64, buf []byte) *Request {
	owned := GetBuffer(uint32(len(buf)))
	copy(owned, buf)
	return &Request{
		Kind:    KindWrite,
		Section: section,
		Offset:  offset,
		Size:    len(buf),
		Buf:     owned,
		queue:   queue,
	}
}

func newBarrier(queue *Queue, section uint64) *Request {
	return &Request{
		Kind:    KindBarrier,
		Section: section,
		queue:   queue,
	}
}

func (r *Request) release() {
	if r.Kind == KindWrite && r.Buf != nil {
		PutBuffer(r.Buf)
		r.Buf = nil
	}
}

func (r *Request) end() int64 { return r.Offset + int64(r.Size) }

// attach registers a waiter on this (Barrier) request.
func (r *Request) attach(w *FlushWaiter) {
	w.req = r
	r.waiters = append(r.waiters, w)
}

// fireWaiters invokes every still-live waiter callback with err, then
// clears the list. It returns how many waiters it retired, canceled ones
// included, so numWaitingForCB drops by as much as AioFlush raised it.
func (r *Request) fireWaiters(err error) int {
	retired := 0
	for _, w := range r.waiters {
		if !w.delivered {
			retired++
		}
		w.fire(err)
	}
	r.waiters = nil
	return retired
}

// FlushWaiter is an externally visible completion handle attached to a
// Barrier request by aio_flush. Canceling it only suppresses the
// callback; the Barrier itself still proceeds.
type FlushWaiter struct {
	cb        func(error)
	canceled  bool
	delivered bool
	req       *Request
}

func newFlushWaiter(cb func(error)) *FlushWaiter {
	return &FlushWaiter{cb: cb}
}

// Cancel prevents the attached callback from firing. The Barrier it is
// attached to is unaffected. Safe to call concurrently with the Barrier's
// completion arriving on the backend's own goroutine.
func (w *FlushWaiter) Cancel() {
	if w.req != nil && w.req.queue != nil {
		w.req.queue.mu.Lock()
		defer w.req.queue.mu.Unlock()
	}
	w.canceled = true
}

// fire invokes the callback unless canceled, and reports whether it did.
func (w *FlushWaiter) fire(err error) bool {
	if w.delivered {
		return false
	}
	w.delivered = true
	if w.canceled || w.cb == nil {
		return false
	}
	w.cb(err)
	return true
}
