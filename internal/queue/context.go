package queue

// Write enqueues a write request with section = ctx.section, or bypasses
// the queue entirely if the backend is write-through.
func (q *Queue) Write(ctx *Context, offset int64, buf []byte) error {
	if q.writeThrough {
		return q.writeThroughPwrite(offset, buf)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.resolveWriteMerge(ctx, offset, buf) {
		q.driveLocked()
		return nil
	}

	req := newWrite(q, ctx.section, offset, buf)
	q.insertWrite(req)
	q.driveLocked()
	return nil
}

// Read services a read through the overlap resolver, falling through to
// the backend for any unfulfilled portion, or bypasses the queue
// entirely if the backend is write-through.
func (q *Queue) Read(ctx *Context, offset int64, out []byte) error {
	if q.writeThrough {
		data, err := q.backend.SyncPread(offset, len(out))
		if err != nil {
			return err
		}
		copy(out, data)
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resolveRead(ctx, offset, out)
}

// Barrier attempts to merge with an existing Barrier closing a section
// >= ctx.section; otherwise it appends a new one. When the tail of
// pending is the Barrier that closed ctx's previous section (nothing has
// been queued since), the call neither allocates a request nor advances
// ctx.section.
func (q *Queue) Barrier(ctx *Context) error {
	if q.writeThrough {
		return q.writeThroughFlush()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.pending); n > 0 {
		if tail := q.pending[n-1]; tail.Kind == KindBarrier && tail.Section+1 == ctx.section {
			return nil
		}
	}

	for _, b := range q.sections {
		if b.Section >= ctx.section {
			ctx.section = b.Section + 1
			return nil
		}
	}

	b := newBarrier(q, ctx.section)
	q.pending = append(q.pending, b)
	q.sections = append(q.sections, b)
	q.barriersRequested++
	ctx.section++
	q.driveLocked()
	return nil
}

// AioFlush attaches cb to the tail Barrier if one exists there, or
// appends a new tail Barrier; it explicitly refuses to merge with any
// Barrier that is not the last entry of pending, so the callback fires
// only after the whole queue drains.
func (q *Queue) AioFlush(ctx *Context, cb func(error)) *FlushWaiter {
	waiter := newFlushWaiter(cb)

	if q.writeThrough {
		// The waiter sits on an unqueued Barrier so that Cancel and the
		// completion synchronize on q.mu as they do for a queued one.
		b := newBarrier(q, ctx.section)
		b.attach(waiter)
		done := func(err error) {
			q.mu.Lock()
			defer q.mu.Unlock()
			b.fireWaiters(err)
		}
		if err := q.backend.AsyncFlush(done); err != nil {
			done(err)
		}
		return waiter
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var tail *Request
	if n := len(q.pending); n > 0 {
		tail = q.pending[n-1]
	}

	if tail != nil && tail.Kind == KindBarrier {
		tail.attach(waiter)
	} else {
		b := newBarrier(q, ctx.section)
		q.pending = append(q.pending, b)
		q.sections = append(q.sections, b)
		q.barriersRequested++
		ctx.section++
		b.attach(waiter)
	}

	q.numWaitingForCB++
	q.driveLocked()
	return waiter
}

func (q *Queue) writeThroughPwrite(offset int64, buf []byte) error {
	done := make(chan error, 1)
	if err := q.backend.AsyncPwrite(offset, buf, func(err error) { done <- err }); err != nil {
		return err
	}
	return <-done
}

func (q *Queue) writeThroughFlush() error {
	done := make(chan error, 1)
	if err := q.backend.AsyncFlush(func(err error) { done <- err }); err != nil {
		return err
	}
	return <-done
}
