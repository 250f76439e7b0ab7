package queue

// Flush blocks until both pending and in-flight are empty, or an
// unrecoverable error is latched (error_ret set and nothing in flight to
// drive further progress). It returns nil or the latched error. While
// blocked, Barriers are submitted regardless of the barrier threshold.
func (q *Queue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.flushing = true
	q.driveLocked()

	for {
		if len(q.pending) == 0 && q.inFlightNum == 0 {
			break
		}
		if q.errorRet != nil && q.inFlightNum == 0 {
			// Nothing in flight to resolve the latch; no further
			// progress will happen without caller-side recovery.
			break
		}
		q.cond.Wait()
	}

	q.flushing = false
	return q.errorRet
}

// Destroy drains the queue via Flush. If Flush returns with no error
// latched, it asserts both lists are empty; a non-empty list at that point
// is a logical-misuse bug, not a runtime condition, so it panics. If an
// error is latched, requests may remain in the lists; Destroy does not
// drop them and returns the latched error.
func (q *Queue) Destroy() error {
	err := q.Flush()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.errorRet == nil && (len(q.pending) != 0 || q.inFlightNum != 0) {
		panic("queue: destroy invariant violated: pending/in-flight not empty")
	}
	q.destroyed = true
	return err
}

// ClearError clears a latched error without retrying the failed
// request, letting a caller resume a queue that fail-forwarded. Any
// Writes left in pending from before the failure remain and will be
// retried by the next drive.
func (q *Queue) ClearError() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.errorRet = nil
	q.driveLocked()
	q.cond.Broadcast()
}
