package batch

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aalhour/couchyard/internal/dbformat"
)

func info(id string) *dbformat.DocInfo {
	return &dbformat.DocInfo{ID: []byte(id), Rev: 1}
}

func TestAppendCopiesInput(t *testing.T) {
	b := New(0, 0)
	id := []byte("doc")
	body := []byte("body")
	if err := b.Append(&dbformat.DocInfo{ID: id}, body); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	id[0] = 'X'
	body[0] = 'X'
	got := b.Items()[0]
	if string(got.Info.ID) != "doc" || string(got.Body) != "body" {
		t.Errorf("batch item = %q/%q, want doc/body unaffected by caller reuse", got.Info.ID, got.Body)
	}
}

func TestGrowth(t *testing.T) {
	tests := []struct {
		name     string
		initial  int
		appends  int
		wantCaps []int
	}{
		{"from zero", 0, 20, []int{8, 8, 8, 8, 8, 8, 8, 8, 16, 16, 16, 16, 16, 16, 16, 16, 32, 32, 32, 32}},
		{"presized", 3, 4, []int{3, 3, 3, 11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.initial, 0)
			for i := range tt.appends {
				if err := b.Append(info(fmt.Sprint(i)), nil); err != nil {
					t.Fatalf("Append(%d) error = %v", i, err)
				}
				if b.Cap() != tt.wantCaps[i] {
					t.Errorf("after %d appends Cap() = %d, want %d", i+1, b.Cap(), tt.wantCaps[i])
				}
			}
			if b.Len() != tt.appends {
				t.Errorf("Len() = %d, want %d", b.Len(), tt.appends)
			}
		})
	}
}

func TestOrderPreserved(t *testing.T) {
	b := New(1, 0)
	for i := range 100 {
		if err := b.Append(info(fmt.Sprintf("d%03d", i)), []byte{byte(i)}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	for i, it := range b.Items() {
		if want := fmt.Sprintf("d%03d", i); string(it.Info.ID) != want || it.Body[0] != byte(i) {
			t.Fatalf("item %d = %s, want %s", i, it.Info.ID, want)
		}
	}
}

func TestBudgetPoisonsBatch(t *testing.T) {
	b := New(0, 2000)
	var err error
	n := 0
	for ; n < 1000; n++ {
		if err = b.Append(info("doc"), make([]byte, 100)); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Append() error = %v, want ErrOutOfMemory", err)
	}
	if b.Len() != n {
		t.Errorf("Len() = %d, want the %d items appended before the failure", b.Len(), n)
	}
	// Even a tiny append is refused once poisoned.
	if err := b.Append(info("x"), nil); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Append() after poisoning error = %v, want ErrOutOfMemory", err)
	}
	if !errors.Is(b.Err(), ErrOutOfMemory) {
		t.Errorf("Err() = %v, want ErrOutOfMemory", b.Err())
	}

	b.Reset()
	if b.Err() != nil || b.Len() != 0 {
		t.Errorf("after Reset() Err()/Len() = %v/%d, want nil/0", b.Err(), b.Len())
	}
	if err := b.Append(info("again"), nil); err != nil {
		t.Errorf("Append() after Reset() error = %v", err)
	}
}

func TestOversizedCapacityIsPoisoned(t *testing.T) {
	b := New(1000, 1000)
	if err := b.Append(info("a"), nil); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Append() error = %v, want ErrOutOfMemory", err)
	}
}

func TestAppendRequiresID(t *testing.T) {
	b := New(0, 0)
	if err := b.Append(&dbformat.DocInfo{}, []byte("x")); err == nil {
		t.Error("Append() without an ID succeeded")
	}
	if err := b.Append(nil, nil); err == nil {
		t.Error("Append(nil) succeeded")
	}
	if b.Err() != nil {
		t.Errorf("validation failure poisoned the batch: %v", b.Err())
	}
}

func TestRelease(t *testing.T) {
	b := New(16, 0)
	_ = b.Append(info("a"), []byte("x"))
	b.Release()
	if b.Len() != 0 || b.Cap() != 0 || b.Bytes() != 0 {
		t.Errorf("after Release() Len/Cap/Bytes = %d/%d/%d, want 0/0/0", b.Len(), b.Cap(), b.Bytes())
	}
}

func TestPoolReuse(t *testing.T) {
	pool := NewPool(0)
	b := pool.Get(4)
	_ = b.Append(info("a"), []byte("x"))
	pool.Put(b)

	got := pool.Get(2)
	if got.Len() != 0 || got.Err() != nil {
		t.Errorf("pooled batch Len()/Err() = %d/%v, want 0/nil", got.Len(), got.Err())
	}
	stats := pool.Stats()
	if stats.Gets != 2 || stats.Puts != 1 {
		t.Errorf("stats = %+v, want 2 gets and 1 put", stats)
	}
	if stats.Hits+stats.Misses != stats.Gets {
		t.Errorf("hits %d + misses %d != gets %d", stats.Hits, stats.Misses, stats.Gets)
	}
}

func TestPoolDiscardsHugeBatches(t *testing.T) {
	pool := NewPool(0)
	pool.Put(New(DefaultMaxPooledItems+1, 0))
	if s := pool.Stats(); s.Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", s.Discarded)
	}
}

func TestPoolConcurrent(t *testing.T) {
	pool := NewPool(1 << 20)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				b := pool.Get(8)
				if err := b.Append(info(fmt.Sprintf("%d-%d", w, i)), nil); err != nil {
					t.Errorf("Append() error = %v", err)
				}
				pool.Put(b)
			}
		}()
	}
	wg.Wait()
	if s := pool.Stats(); s.Gets != 800 || s.Puts != 800 {
		t.Errorf("stats = %+v, want 800 gets and puts", s)
	}
}

func TestLatest(t *testing.T) {
	b := New(0, 0)
	for i, rev := range []uint64{1, 2, 3} {
		id := "a"
		if i == 1 {
			id = "b"
		}
		if err := b.Append(&dbformat.DocInfo{ID: []byte(id), Rev: rev}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if info, ok := b.Latest([]byte("a")); !ok || info.Rev != 3 {
		t.Errorf("Latest(a) = %v, %v; want rev 3", info, ok)
	}
	if info, ok := b.Latest([]byte("b")); !ok || info.Rev != 2 {
		t.Errorf("Latest(b) = %v, %v; want rev 2", info, ok)
	}
	if _, ok := b.Latest([]byte("c")); ok {
		t.Error("Latest(c) found a write that was never staged")
	}
}
