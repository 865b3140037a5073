package batch

import (
	"sync"
)

// Pool recycles batches between bulk commits to cut allocation churn.
type Pool struct {
	pool   sync.Pool
	budget int64

	stats PoolStats
	mu    sync.Mutex
}

// PoolStats tracks pool usage statistics.
type PoolStats struct {
	Gets      uint64 // Total Get() calls
	Hits      uint64 // Reused from pool
	Misses    uint64 // Newly allocated
	Puts      uint64 // Returned to pool
	Discarded uint64 // Too large, discarded
}

// DefaultMaxPooledItems is the largest batch capacity returned to the pool.
// Larger batches are left for the GC.
const DefaultMaxPooledItems = 64 * 1024

// NewPool creates a pool whose batches carry budget.
func NewPool(budget int64) *Pool {
	return &Pool{budget: budget}
}

// Get returns an empty batch with room for at least capacity items.
func (p *Pool) Get(capacity int) *Batch {
	p.mu.Lock()
	p.stats.Gets++
	p.mu.Unlock()

	if b, ok := p.pool.Get().(*Batch); ok && b.Cap() >= capacity {
		b.Reset()
		b.budget = p.budget
		p.mu.Lock()
		p.stats.Hits++
		p.mu.Unlock()
		return b
	}

	p.mu.Lock()
	p.stats.Misses++
	p.mu.Unlock()
	return New(capacity, p.budget)
}

// Put returns b to the pool.
func (p *Pool) Put(b *Batch) {
	if b == nil {
		return
	}
	p.mu.Lock()
	p.stats.Puts++
	if b.Cap() > DefaultMaxPooledItems {
		p.stats.Discarded++
		p.mu.Unlock()
		b.Release()
		return
	}
	p.mu.Unlock()

	b.Reset()
	p.pool.Put(b)
}

// Stats returns a copy of the pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
