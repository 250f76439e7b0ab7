package wbq

import "sync/atomic"

// Metrics tracks performance and operational statistics for a Queue
// using lock-free atomic counters safe for concurrent producers.
type Metrics struct {
	ReadOps    atomic.Uint64
	WriteOps   atomic.Uint64
	BarrierOps atomic.Uint64
	FlushOps   atomic.Uint64

	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	ReadErrors    atomic.Uint64
	WriteErrors   atomic.Uint64
	BarrierErrors atomic.Uint64
	FlushErrors   atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32
}

// NewMetrics creates a zeroed Metrics instance.
func NewMetrics() *Metrics { return &Metrics{} }

// MetricsSnapshot is a point-in-time copy of a Metrics instance's
// counters, safe to read without further synchronization.
type MetricsSnapshot struct {
	ReadOps    uint64
	WriteOps   uint64
	BarrierOps uint64
	FlushOps   uint64

	ReadBytes  uint64
	WriteBytes uint64

	ReadErrors    uint64
	WriteErrors   uint64
	BarrierErrors uint64
	FlushErrors   uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32
}

// Snapshot takes a consistent-enough point-in-time copy of m's counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:       m.ReadOps.Load(),
		WriteOps:      m.WriteOps.Load(),
		BarrierOps:    m.BarrierOps.Load(),
		FlushOps:      m.FlushOps.Load(),
		ReadBytes:     m.ReadBytes.Load(),
		WriteBytes:    m.WriteBytes.Load(),
		ReadErrors:    m.ReadErrors.Load(),
		WriteErrors:   m.WriteErrors.Load(),
		BarrierErrors: m.BarrierErrors.Load(),
		FlushErrors:   m.FlushErrors.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
	}
	if count := m.QueueDepthCount.Load(); count > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(count)
	}
	return snap
}

// MetricsObserver adapts a *Metrics into an Observer; pass it as
// Options.Observer to have a Queue record into that Metrics.
type MetricsObserver struct {
	m *Metrics
}

// NewMetricsObserver wraps m as an Observer.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{m: m} }

func (o *MetricsObserver) ObserveRead(bytes uint64, _ uint64, success bool) {
	o.m.ReadOps.Add(1)
	if success {
		o.m.ReadBytes.Add(bytes)
	} else {
		o.m.ReadErrors.Add(1)
	}
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, _ uint64, success bool) {
	o.m.WriteOps.Add(1)
	if success {
		o.m.WriteBytes.Add(bytes)
	} else {
		o.m.WriteErrors.Add(1)
	}
}

func (o *MetricsObserver) ObserveBarrier(_ uint64, success bool) {
	o.m.BarrierOps.Add(1)
	if !success {
		o.m.BarrierErrors.Add(1)
	}
}

func (o *MetricsObserver) ObserveFlush(_ uint64, success bool) {
	o.m.FlushOps.Add(1)
	if !success {
		o.m.FlushErrors.Add(1)
	}
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.m.QueueDepthTotal.Add(uint64(depth))
	o.m.QueueDepthCount.Add(1)
	for {
		current := o.m.MaxQueueDepth.Load()
		if depth <= current {
			return
		}
		if o.m.MaxQueueDepth.CompareAndSwap(current, depth) {
			return
		}
	}
}

// NoOpObserver discards every observation. NewQueue does not install it:
// with a nil Options.Observer the Queue makes no observer calls at all.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveBarrier(uint64, bool)       {}
func (NoOpObserver) ObserveFlush(uint64, bool)         {}
func (NoOpObserver) ObserveQueueDepth(uint32)          {}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)
