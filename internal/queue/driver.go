package queue

// driveLocked repeatedly submits the pending head until submission
// refuses. Must be entered and left with q.mu held; it releases the
// lock around each backend dispatch so a synchronous (same-goroutine)
// completion callback can re-acquire it without deadlocking, exactly as
// it would if the completion arrived later from the backend's own
// goroutine. Called at the end of every state-changing operation
// (Write, Barrier, AioFlush, onComplete) so the queue "continuously
// submits" without a dedicated goroutine.
func (q *Queue) driveLocked() {
	for {
		req, ok := q.popForSubmitLocked()
		if !ok {
			return
		}
		q.mu.Unlock()
		q.dispatch(req)
		q.mu.Lock()
	}
}

// popForSubmitLocked decides whether the pending head may be submitted
// and, if so, pops it into in-flight. A barrier at the head is refused
// until the queue is flushing, has grown past the barrier threshold, or
// has aio-flush waiters outstanding — submitting it any earlier would
// stall writes behind it for no benefit. Must be called with q.mu held.
func (q *Queue) popForSubmitLocked() (*Request, bool) {
	if len(q.pending) == 0 {
		return nil, false
	}
	if q.errorRet != nil {
		return nil, false
	}
	if q.inFlightNum > 0 {
		return nil, false
	}
	head := q.pending[0]
	if head.Kind == KindBarrier {
		if !q.flushing && q.queueSizeLocked() < q.cfg.BarrierThreshold && q.numWaitingForCB == 0 {
			return nil, false
		}
	}

	req := q.pop()
	q.inFlight = append(q.inFlight, req)
	q.inFlightNum++
	if req.Kind == KindBarrier {
		q.barriersSubmitted++
	}
	return req, true
}

// dispatch hands req to the backend. Must be called without q.mu held:
// the callback may fire inline, and it always re-acquires the lock via
// onComplete. On a synchronous dispatch failure, an immediate completion
// is synthesized with that error.
func (q *Queue) dispatch(req *Request) {
	switch req.Kind {
	case KindWrite:
		if err := q.backend.AsyncPwrite(req.Offset, req.Buf, func(err error) { q.onComplete(req, err) }); err != nil {
			q.onComplete(req, err)
		}
	case KindBarrier:
		if err := q.backend.AsyncFlush(func(err error) { q.onComplete(req, err) }); err != nil {
			q.onComplete(req, err)
		}
	}
}

// onComplete is the callback entry point a Backend invokes — inline
// during dispatch, or later from its own goroutine.
func (q *Queue) onComplete(req *Request, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onCompleteLocked(req, err)
}

// onCompleteLocked retires an in-flight request: it fires waiters,
// latches any error, consults the error handler to decide whether to
// retry or give up, and re-drives the queue. Must be called with q.mu
// held.
func (q *Queue) onCompleteLocked(req *Request, err error) {
	q.removeInFlight(req)
	q.inFlightNum--

	if err != nil {
		q.latchError(err)
	}

	fired := req.fireWaiters(q.errorRet)
	q.numWaitingForCB -= fired

	if q.observer != nil {
		q.observeCompletion(req, err)
	}

	if err != nil {
		keep := true
		if q.errHandler != nil {
			keep = q.errHandler(err)
		}
		if keep {
			q.reinsertHead(req)
			q.errorRet = nil
		} else {
			req.release()
			q.failAllWaitersLocked()
		}
	} else {
		req.release()
	}

	q.driveLocked()
	q.cond.Broadcast()
}

// failAllWaitersLocked fires every still-queued Barrier's waiters with
// the latched error. Once error_ret is set and the queue is failing
// forward, popForSubmitLocked refuses all further submission, so any
// Barrier still sitting in pending (e.g. one created by an earlier
// AioFlush) would otherwise never reach a completion that could fire
// its callback. Must be called with q.mu held.
func (q *Queue) failAllWaitersLocked() {
	for _, b := range q.sections {
		fired := b.fireWaiters(q.errorRet)
		q.numWaitingForCB -= fired
	}
}

func (q *Queue) observeCompletion(req *Request, err error) {
	switch req.Kind {
	case KindWrite:
		q.observer.ObserveWrite(uint64(req.Size), 0, err == nil)
	case KindBarrier:
		q.observer.ObserveBarrier(0, err == nil)
	}
	q.observer.ObserveQueueDepth(uint32(len(q.pending)))
}

// noSpacer lets a backend's error type mark itself as a no-space
// condition without internal/queue importing the root error package.
type noSpacer interface {
	IsNoSpace() bool
}

func isNoSpace(err error) bool {
	ns, ok := err.(noSpacer)
	return ok && ns.IsNoSpace()
}

// latchError stores err in error_ret unless a no-space error is already
// latched and the new error is not itself no-space: no-space errors win
// preferentially so the first reported error is the most actionable one.
func (q *Queue) latchError(err error) {
	if q.errorRet != nil && isNoSpace(q.errorRet) && !isNoSpace(err) {
		return
	}
	q.errorRet = err
}
