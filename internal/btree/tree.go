package btree

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultChunkThreshold is the encoded node size above which a node is split.
const DefaultChunkThreshold = 1279

// ErrNotFound is returned by Find when the key is absent.
var ErrNotFound = errors.New("btree: key not found")

// Tree binds a node store to a key order and an optional reducer. It holds no
// root: every operation takes the root to work from, and Modify returns the
// new one.
type Tree struct {
	Store  NodeStore
	Cmp    Compare
	Reduce Reducer

	// ChunkThreshold bounds encoded node size; zero means
	// DefaultChunkThreshold.
	ChunkThreshold int
}

func (t *Tree) threshold() int {
	if t.ChunkThreshold > 0 {
		return t.ChunkThreshold
	}
	return DefaultChunkThreshold
}

// Find returns the value stored under key.
func (t *Tree) Find(root *Pointer, key []byte) ([]byte, error) {
	if root == nil {
		return nil, ErrNotFound
	}
	offset := root.Offset
	for {
		n, err := t.Store.ReadNode(offset)
		if err != nil {
			return nil, err
		}
		switch n.Kind {
		case KindLeaf:
			i := t.search(n.Entries, key)
			if i < len(n.Entries) && t.Cmp(n.Entries[i].Key, key) == 0 {
				return n.Entries[i].Value, nil
			}
			return nil, ErrNotFound

		case KindInterior:
			// Interior keys are subtree maxima, so the first key >= key
			// names the only child that can hold it.
			i := t.search(n.Entries, key)
			if i == len(n.Entries) {
				return nil, ErrNotFound
			}
			child, err := DecodePointer(n.Entries[i].Value)
			if err != nil {
				return nil, err
			}
			if child == nil {
				return nil, fmt.Errorf("%w: empty child pointer", ErrCorruptNode)
			}
			offset = child.Offset

		default:
			return nil, fmt.Errorf("%w: unknown kind %d", ErrCorruptNode, n.Kind)
		}
	}
}

// Insert stores value under key, replacing any previous value.
func (t *Tree) Insert(root *Pointer, key, value []byte) (*Pointer, error) {
	return t.Modify(root, []Action{{Op: OpInsert, Key: key, Value: value}})
}

// Remove deletes key if present.
func (t *Tree) Remove(root *Pointer, key []byte) (*Pointer, error) {
	return t.Modify(root, []Action{{Op: OpRemove, Key: key}})
}

// search returns the index of the first entry whose key is >= key.
func (t *Tree) search(entries []Entry, key []byte) int {
	return sort.Search(len(entries), func(i int) bool {
		return t.Cmp(entries[i].Key, key) >= 0
	})
}

// Depth returns the number of levels below root, counting the leaf level.
func (t *Tree) Depth(root *Pointer) (int, error) {
	depth := 0
	for root != nil {
		n, err := t.Store.ReadNode(root.Offset)
		if err != nil {
			return 0, err
		}
		depth++
		if n.Kind == KindLeaf || len(n.Entries) == 0 {
			break
		}
		if root, err = DecodePointer(n.Entries[0].Value); err != nil {
			return 0, err
		}
	}
	return depth, nil
}
