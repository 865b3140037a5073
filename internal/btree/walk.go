package btree

import (
	"errors"
	"fmt"
	"iter"
)

// ErrStopIteration may be returned by a WalkFunc to end a walk early. Walk
// then returns nil.
var ErrStopIteration = errors.New("btree: stop iteration")

// WalkFunc is called for each leaf entry in key order. The slices are only
// valid during the call.
type WalkFunc func(key, value []byte) error

// Walk calls fn for every entry with key >= start (all entries if start is
// nil), in key order. Subtrees wholly below start are never read, and no node
// is read after fn stops the walk.
func (t *Tree) Walk(root *Pointer, start []byte, fn WalkFunc) error {
	if root == nil {
		return nil
	}
	err := t.walk(root.Offset, start, fn)
	if errors.Is(err, ErrStopIteration) {
		return nil
	}
	return err
}

func (t *Tree) walk(offset int64, start []byte, fn WalkFunc) error {
	n, err := t.Store.ReadNode(offset)
	if err != nil {
		return err
	}
	i := 0
	if start != nil {
		i = t.search(n.Entries, start)
	}
	switch n.Kind {
	case KindLeaf:
		for _, e := range n.Entries[i:] {
			if err := fn(e.Key, e.Value); err != nil {
				return err
			}
		}
		return nil

	case KindInterior:
		for k, e := range n.Entries[i:] {
			child, err := DecodePointer(e.Value)
			if err != nil {
				return err
			}
			if child == nil {
				return fmt.Errorf("%w: empty child pointer", ErrCorruptNode)
			}
			// Only the first visited child can straddle start.
			childStart := start
			if k > 0 {
				childStart = nil
			}
			if err := t.walk(child.Offset, childStart, fn); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown kind %d", ErrCorruptNode, n.Kind)
	}
}

// All returns an iterator over the entries with key >= start. A read error is
// yielded once as the final element with a zero Entry.
func (t *Tree) All(root *Pointer, start []byte) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		err := t.Walk(root, start, func(key, value []byte) error {
			if !yield(Entry{Key: key, Value: value}, nil) {
				return ErrStopIteration
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, err)
		}
	}
}
