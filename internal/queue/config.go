package queue

import (
	"github.com/wbqueue/wbq/internal/constants"
	"github.com/wbqueue/wbq/internal/interfaces"
)

// ErrorHandler decides what happens to a failed in-flight request. It
// returns true to keep the queue and retry (the request is reinserted at
// the head of pending and error_ret is cleared), or false to fail
// forward (error_ret stays latched and pending FlushWaiters observe it).
type ErrorHandler func(err error) (keepQueue bool)

// Config holds a Queue's tunables, built up via a Config struct and
// constructor the way callers expect to configure a long-lived service.
type Config struct {
	// BarrierThreshold is the minimum pending queue size below which a
	// Barrier at the head of pending is deferred, unless the queue is
	// flushing or has aio-flush waiters outstanding.
	BarrierThreshold int
	Logger           interfaces.Logger
	Observer         interfaces.Observer
}

// DefaultConfig returns a Config with the package defaults.
func DefaultConfig() Config {
	return Config{
		BarrierThreshold: constants.DefaultBarrierThreshold,
	}
}
