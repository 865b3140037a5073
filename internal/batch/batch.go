// Package batch implements the bulk batch: an ordered list of document writes
// accumulated by a caller and applied by a single commit.
//
// Append copies everything it is given, so callers may reuse their buffers as
// soon as it returns. A batch carries a memory budget; an append that would
// exceed it fails with ErrOutOfMemory and poisons the batch, so the whole
// batch is rejected rather than committed with entries missing.
package batch

import (
	"errors"
	"fmt"

	"github.com/aalhour/couchyard/internal/dbformat"
)

// ErrOutOfMemory is returned when a batch exceeds its memory budget.
var ErrOutOfMemory = errors.New("batch: out of memory")

// GrowthStep is the minimum number of slots added when a batch grows.
const GrowthStep = 8

// itemOverhead approximates the fixed per-item cost charged to the budget.
const itemOverhead = 96

// Item is one pending write.
type Item struct {
	Info dbformat.DocInfo
	Body []byte
}

// Batch is an ordered list of pending writes. It is not safe for concurrent
// use.
type Batch struct {
	items  []Item
	bytes  int64
	budget int64
	err    error
}

// New creates a batch with room for capacity items. budget caps the memory
// the batch may hold; zero or negative means unlimited.
func New(capacity int, budget int64) *Batch {
	if capacity < 0 {
		capacity = 0
	}
	b := &Batch{budget: budget}
	if capacity > 0 {
		if err := b.charge(int64(capacity) * itemOverhead); err != nil {
			return b
		}
		b.items = make([]Item, 0, capacity)
	}
	return b
}

// charge accounts n more bytes against the budget, poisoning the batch if the
// budget is exceeded.
func (b *Batch) charge(n int64) error {
	if b.budget > 0 && b.bytes+n > b.budget {
		b.err = fmt.Errorf("%w: %d bytes held, %d more requested, budget %d", ErrOutOfMemory, b.bytes, n, b.budget)
		return b.err
	}
	b.bytes += n
	return nil
}

// grow makes room for at least one more item: GrowthStep slots while small,
// doubling once the batch is larger than that.
func (b *Batch) grow() error {
	old := cap(b.items)
	newCap := old + max(GrowthStep, old)
	if err := b.charge(int64(newCap-old) * itemOverhead); err != nil {
		return err
	}
	items := make([]Item, len(b.items), newCap)
	copy(items, b.items)
	b.items = items
	return nil
}

// Append adds a write of body under info. info.ID must be set; body may be
// empty (tombstones). Both are copied.
func (b *Batch) Append(info *dbformat.DocInfo, body []byte) error {
	if b.err != nil {
		return b.err
	}
	if info == nil || len(info.ID) == 0 {
		return errors.New("batch: document ID is required")
	}
	if err := b.charge(int64(len(info.ID) + len(info.RevMeta) + len(body))); err != nil {
		return err
	}
	if len(b.items) == cap(b.items) {
		if err := b.grow(); err != nil {
			return err
		}
	}
	item := Item{Info: *info.Clone()}
	if len(body) > 0 {
		item.Body = append([]byte(nil), body...)
	}
	b.items = append(b.items, item)
	return nil
}

// Len returns the number of items.
func (b *Batch) Len() int {
	return len(b.items)
}

// Latest returns the last pending write for id.
func (b *Batch) Latest(id []byte) (dbformat.DocInfo, bool) {
	for i := len(b.items) - 1; i >= 0; i-- {
		if string(b.items[i].Info.ID) == string(id) {
			return b.items[i].Info, true
		}
	}
	return dbformat.DocInfo{}, false
}

// Cap returns the number of items the batch holds without growing.
func (b *Batch) Cap() int {
	return cap(b.items)
}

// Items returns the items in append order. The slice is owned by the batch.
func (b *Batch) Items() []Item {
	return b.items
}

// Bytes returns the memory charged to the budget.
func (b *Batch) Bytes() int64 {
	return b.bytes
}

// Err returns the error that poisoned the batch, if any.
func (b *Batch) Err() error {
	return b.err
}

// Reset empties the batch and clears any poison, keeping its capacity.
func (b *Batch) Reset() {
	clear(b.items)
	b.items = b.items[:0]
	b.bytes = int64(cap(b.items)) * itemOverhead
	b.err = nil
}

// Release drops all memory held by the batch.
func (b *Batch) Release() {
	b.items = nil
	b.bytes = 0
	b.err = nil
}
