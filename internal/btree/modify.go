package btree

import (
	"bytes"
	"fmt"
	"slices"
)

// Op is the kind of a modification.
type Op uint8

const (
	OpInsert Op = iota
	OpRemove
)

// Action is one insert or remove in a Modify batch.
type Action struct {
	Op    Op
	Key   []byte
	Value []byte
}

// Modify applies actions and returns the new root. Actions may arrive in any
// order; for duplicate keys the last one wins. Only nodes on touched paths are
// rewritten, so root stays valid and unchanged.
func (t *Tree) Modify(root *Pointer, actions []Action) (*Pointer, error) {
	acts := t.normalize(actions)
	if len(acts) == 0 {
		return root, nil
	}

	var (
		ptrs    []Entry
		changed bool
		err     error
	)
	if root == nil {
		ptrs, changed, err = t.modifyLeaf(nil, acts)
	} else {
		ptrs, changed, err = t.modifyNode(root.Offset, acts)
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return root, nil
	}

	// Grow: pack pointer entries into new interior levels until one remains.
	for len(ptrs) > 1 {
		if ptrs, err = t.writeNodes(KindInterior, ptrs); err != nil {
			return nil, err
		}
	}
	if len(ptrs) == 0 {
		return nil, nil
	}
	newRoot, err := DecodePointer(ptrs[0].Value)
	if err != nil {
		return nil, err
	}
	return t.collapse(newRoot)
}

// normalize sorts a copy of actions by key and keeps the last action per key.
func (t *Tree) normalize(actions []Action) []Action {
	if len(actions) == 0 {
		return nil
	}
	acts := slices.Clone(actions)
	slices.SortStableFunc(acts, func(a, b Action) int { return t.Cmp(a.Key, b.Key) })
	out := acts[:0]
	for i := range acts {
		if len(out) > 0 && t.Cmp(out[len(out)-1].Key, acts[i].Key) == 0 {
			out[len(out)-1] = acts[i]
			continue
		}
		out = append(out, acts[i])
	}
	return out
}

// collapse shrinks the tree while the root is an interior node with a single
// child.
func (t *Tree) collapse(root *Pointer) (*Pointer, error) {
	for root != nil {
		n, err := t.Store.ReadNode(root.Offset)
		if err != nil {
			return nil, err
		}
		if n.Kind != KindInterior || len(n.Entries) != 1 {
			return root, nil
		}
		if root, err = DecodePointer(n.Entries[0].Value); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// modifyNode applies sorted acts to the subtree at offset. It returns the
// pointer entries replacing the subtree in its parent: none if the subtree
// became empty, several if it split.
func (t *Tree) modifyNode(offset int64, acts []Action) ([]Entry, bool, error) {
	n, err := t.Store.ReadNode(offset)
	if err != nil {
		return nil, false, err
	}
	switch n.Kind {
	case KindLeaf:
		return t.modifyLeaf(n.Entries, acts)
	case KindInterior:
		return t.modifyInterior(n.Entries, acts)
	default:
		return nil, false, fmt.Errorf("%w: unknown kind %d", ErrCorruptNode, n.Kind)
	}
}

func (t *Tree) modifyLeaf(entries []Entry, acts []Action) ([]Entry, bool, error) {
	merged := make([]Entry, 0, len(entries)+len(acts))
	changed := false
	i, j := 0, 0
	for i < len(entries) || j < len(acts) {
		var c int
		switch {
		case i == len(entries):
			c = 1
		case j == len(acts):
			c = -1
		default:
			c = t.Cmp(entries[i].Key, acts[j].Key)
		}

		switch {
		case c < 0:
			merged = append(merged, entries[i])
			i++
		case c > 0:
			if acts[j].Op == OpInsert {
				merged = append(merged, Entry{Key: acts[j].Key, Value: acts[j].Value})
				changed = true
			}
			j++
		default:
			if acts[j].Op == OpInsert {
				merged = append(merged, Entry{Key: acts[j].Key, Value: acts[j].Value})
				if !bytes.Equal(entries[i].Value, acts[j].Value) {
					changed = true
				}
			} else {
				changed = true
			}
			i++
			j++
		}
	}
	if !changed {
		return nil, false, nil
	}
	ptrs, err := t.writeNodes(KindLeaf, merged)
	return ptrs, true, err
}

func (t *Tree) modifyInterior(entries []Entry, acts []Action) ([]Entry, bool, error) {
	out := make([]Entry, 0, len(entries)+1)
	changed := false
	j := 0
	for i, e := range entries {
		// Route every action up to this child's max key here; the last
		// child also takes everything beyond the current maximum.
		k := j
		if i == len(entries)-1 {
			k = len(acts)
		} else {
			for k < len(acts) && t.Cmp(acts[k].Key, e.Key) <= 0 {
				k++
			}
		}
		if k == j {
			out = append(out, e)
			continue
		}
		child, err := DecodePointer(e.Value)
		if err != nil {
			return nil, false, err
		}
		if child == nil {
			return nil, false, fmt.Errorf("%w: empty child pointer", ErrCorruptNode)
		}
		repl, childChanged, err := t.modifyNode(child.Offset, acts[j:k])
		if err != nil {
			return nil, false, err
		}
		if childChanged {
			out = append(out, repl...)
			changed = true
		} else {
			out = append(out, e)
		}
		j = k
	}
	if !changed {
		return nil, false, nil
	}
	ptrs, err := t.writeNodes(KindInterior, out)
	return ptrs, true, err
}

// writeNodes splits entries into nodes no larger than the chunk threshold,
// writes them, and returns one pointer entry per written node.
func (t *Tree) writeNodes(kind Kind, entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	limit := t.threshold()
	// Interior nodes take at least two children so that packing a level
	// always shrinks it.
	minEntries := 1
	if kind == KindInterior {
		minEntries = 2
	}
	var ptrs []Entry
	start, size := 0, 0
	for i, e := range entries {
		es := entrySize(e)
		if i-start >= minEntries && size+es > limit {
			p, err := t.writeNode(kind, entries[start:i])
			if err != nil {
				return nil, err
			}
			ptrs = append(ptrs, p)
			start, size = i, 0
		}
		size += es
	}
	p, err := t.writeNode(kind, entries[start:])
	if err != nil {
		return nil, err
	}
	return append(ptrs, p), nil
}

func (t *Tree) writeNode(kind Kind, entries []Entry) (Entry, error) {
	n := &Node{Kind: kind, Entries: entries}
	offset, size, err := t.Store.WriteNode(n)
	if err != nil {
		return Entry{}, err
	}
	ptr := Pointer{Offset: offset, Size: size}
	if kind == KindLeaf {
		if t.Reduce != nil {
			ptr.Reduction = t.Reduce.Reduce(entries)
		}
	} else {
		reductions := make([][]byte, 0, len(entries))
		for _, e := range entries {
			child, err := DecodePointer(e.Value)
			if err != nil {
				return Entry{}, err
			}
			if child == nil {
				return Entry{}, fmt.Errorf("%w: empty child pointer", ErrCorruptNode)
			}
			ptr.Size += child.Size
			reductions = append(reductions, child.Reduction)
		}
		if t.Reduce != nil {
			ptr.Reduction = t.Reduce.Rereduce(reductions)
		}
	}
	last := entries[len(entries)-1].Key
	return Entry{Key: last, Value: EncodePointer(&ptr)}, nil
}
