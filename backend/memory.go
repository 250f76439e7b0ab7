// Package backend provides concrete wbq.Backend adapters.
package backend

import (
	"fmt"
	"sync"

	"github.com/wbqueue/wbq/internal/interfaces"
)

// ShardSize is the size of each memory shard (64KB). This provides good
// parallelism for concurrent readers/writers while keeping lock overhead
// reasonable. With 64KB shards a 256MB device has 4096 shards.
const ShardSize = 64 * 1024

// Memory is a RAM-backed Backend using a sharded RWMutex: the
// synchronous byte-slice operation runs inline and the callback is
// invoked before AsyncPwrite/AsyncFlush return, making it a zero-latency
// backend useful for tests and benchmarks.
type Memory struct {
	data   []byte
	size   int64
	shards []sync.RWMutex
}

// NewMemory creates a new memory backend of the specified size.
func NewMemory(size int64) *Memory {
	numShards := (size + ShardSize - 1) / ShardSize
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// SyncPread implements interfaces.Backend.
func (m *Memory) SyncPread(offset int64, size int) ([]byte, error) {
	out := make([]byte, size)
	if offset >= m.size {
		return out, nil
	}

	available := m.size - offset
	readLen := int64(size)
	if readLen > available {
		readLen = available
	}

	startShard, endShard := m.shardRange(offset, readLen)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}
	copy(out, m.data[offset:offset+readLen])
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}
	return out, nil
}

// AsyncPwrite implements interfaces.Backend: it writes synchronously and
// invokes cb before returning.
func (m *Memory) AsyncPwrite(offset int64, buf []byte, cb func(error)) error {
	if offset+int64(len(buf)) > m.size {
		err := fmt.Errorf("backend/memory: write [%d, %d) beyond device size %d", offset, offset+int64(len(buf)), m.size)
		cb(err)
		return nil
	}

	startShard, endShard := m.shardRange(offset, int64(len(buf)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	copy(m.data[offset:offset+int64(len(buf))], buf)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}

	cb(nil)
	return nil
}

// AsyncFlush implements interfaces.Backend. Memory has nothing to flush.
func (m *Memory) AsyncFlush(cb func(error)) error {
	cb(nil)
	return nil
}

// OpenFlags implements interfaces.Backend; memory is never write-through.
func (m *Memory) OpenFlags() interfaces.OpenFlags {
	return interfaces.OpenFlags{WriteThrough: false}
}

// Size returns the device size in bytes.
func (m *Memory) Size() int64 { return m.size }

// Close releases the backing storage.
func (m *Memory) Close() error {
	m.data = nil
	return nil
}

// Stats reports a snapshot for diagnostics/logging.
func (m *Memory) Stats() map[string]any {
	return map[string]any{
		"type":       "memory",
		"size":       m.size,
		"allocated":  len(m.data),
		"num_shards": len(m.shards),
		"shard_size": ShardSize,
	}
}

var _ interfaces.Backend = (*Memory)(nil)
