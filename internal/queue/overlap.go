package queue

// interval is a half-open absolute byte range [start, end) still
// unresolved by the scan in progress.
type interval struct {
	start, end int64
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// resolveRead services a read against pending then in-flight, reverse
// order (most-recent-first), then falls through to the backend for
// whatever remains unresolved. Every Write whose range intersects the
// read advances ctx.section, recording the read's dependency on that
// write so a later barrier in this context cannot complete ahead of it.
// Full-containment, tail, head, and write-inside-read overlaps are all
// instances of one interval-splitting scan: each intersecting Write
// narrows the set of still-unfulfilled sub-ranges, and whatever is left
// after scanning both lists is read synchronously.
func (q *Queue) resolveRead(ctx *Context, offset int64, out []byte) error {
	holes := []interval{{offset, offset + int64(len(out))}}
	holes = q.scanListForRead(ctx, q.pending, holes, out, offset)
	holes = q.scanListForRead(ctx, q.inFlight, holes, out, offset)

	for _, h := range holes {
		if h.start >= h.end {
			continue
		}
		data, err := q.backend.SyncPread(h.start, int(h.end-h.start))
		if err != nil {
			return err
		}
		copy(out[h.start-offset:h.end-offset], data)
	}
	return nil
}

func (q *Queue) scanListForRead(ctx *Context, list []*Request, holes []interval, out []byte, base int64) []interval {
	for i := len(list) - 1; i >= 0 && len(holes) > 0; i-- {
		req := list[i]
		if req.Kind != KindWrite {
			continue
		}
		ws, we := req.Offset, req.end()
		var next []interval
		touched := false
		for _, h := range holes {
			if we <= h.start || ws >= h.end {
				next = append(next, h)
				continue
			}
			touched = true
			lo, hi := max64(h.start, ws), min64(h.end, we)
			copy(out[lo-base:hi-base], req.Buf[lo-ws:hi-ws])
			if h.start < lo {
				next = append(next, interval{h.start, lo})
			}
			if hi < h.end {
				next = append(next, interval{hi, h.end})
			}
		}
		if touched && req.Section > ctx.section {
			ctx.section = req.Section
		}
		holes = next
	}
	return holes
}

// resolveWriteMerge attempts to absorb an incoming write entirely by
// updating in place the buffers of existing queued writes, using
// ctx.section as a floor: only writes in the same or a later section
// are eligible, since older sections must not be retroactively mutated.
// Any overlap with a later-section write advances ctx.section, the same
// dependency-recording symmetric to scanListForRead's read-side bump,
// regardless of whether the write ends up fully absorbed. It reports
// whether the write was fully absorbed; if not, no mutation is
// performed and the caller must allocate a fresh Request for the whole
// write, using the (possibly now-advanced) ctx.section.
func (q *Queue) resolveWriteMerge(ctx *Context, offset int64, buf []byte) bool {
	size := int64(len(buf))
	floor := ctx.section

	holes := []interval{{offset, offset + size}}
	for i := len(q.pending) - 1; i >= 0 && len(holes) > 0; i-- {
		req := q.pending[i]
		if req.Kind != KindWrite || req.Section < floor {
			continue
		}
		next, touched := splitHoles(holes, req.Offset, req.end())
		if touched && req.Section > ctx.section {
			ctx.section = req.Section
		}
		holes = next
	}
	if len(holes) != 0 {
		return false
	}

	remaining := []interval{{offset, offset + size}}
	for i := len(q.pending) - 1; i >= 0 && len(remaining) > 0; i-- {
		req := q.pending[i]
		if req.Kind != KindWrite || req.Section < floor {
			continue
		}
		ws, we := req.Offset, req.end()
		var next []interval
		for _, h := range remaining {
			if we <= h.start || ws >= h.end {
				next = append(next, h)
				continue
			}
			lo, hi := max64(h.start, ws), min64(h.end, we)
			copy(req.Buf[lo-ws:hi-ws], buf[lo-offset:hi-offset])
			if h.start < lo {
				next = append(next, interval{h.start, lo})
			}
			if hi < h.end {
				next = append(next, interval{hi, h.end})
			}
		}
		remaining = next
	}
	return true
}

// splitHoles narrows holes by removing the portion covered by [ws, we),
// reporting whether any hole actually intersected that range.
func splitHoles(holes []interval, ws, we int64) ([]interval, bool) {
	var next []interval
	touched := false
	for _, h := range holes {
		if we <= h.start || ws >= h.end {
			next = append(next, h)
			continue
		}
		touched = true
		lo, hi := max64(h.start, ws), min64(h.end, we)
		if h.start < lo {
			next = append(next, interval{h.start, lo})
		}
		if hi < h.end {
			next = append(next, interval{hi, h.end})
		}
	}
	return next, touched
}
