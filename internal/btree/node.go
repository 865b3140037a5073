// Package btree implements the append-only copy-on-write B-tree used for the
// by-ID and by-sequence indexes.
//
// Nodes are immutable once written. A modification rewrites only the nodes on
// the paths it touches and returns a new root Pointer; every older root stays
// valid and keeps describing the tree exactly as it was, which is what makes
// snapshots free.
//
// Concurrency: readers may use any root concurrently with each other and with
// a single writer. Modify must be externally serialized.
package btree

import (
	"errors"
	"fmt"

	"github.com/aalhour/couchyard/internal/encoding"
)

// ErrCorruptNode is returned when a node fails to decode.
var ErrCorruptNode = errors.New("btree: corrupt node")

// Kind distinguishes leaf from interior nodes.
type Kind uint8

const (
	// KindLeaf nodes hold the indexed key/value pairs.
	KindLeaf Kind = 1
	// KindInterior nodes hold (max key of child, encoded child Pointer).
	KindInterior Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindInterior:
		return "interior"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Entry is one key/value pair of a node.
type Entry struct {
	Key   []byte
	Value []byte
}

// Node is the decoded form of a B-tree node.
type Node struct {
	Kind    Kind
	Entries []Entry
}

// entrySize is the encoded size of e inside a node.
func entrySize(e Entry) int {
	return encoding.VarintLength(uint64(len(e.Key))) +
		encoding.VarintLength(uint64(len(e.Value))) +
		len(e.Key) + len(e.Value)
}

// EncodeNode serializes n as
//
//	[kind:1][count:uvarint]{[klen:uvarint][vlen:uvarint][key][value]}*
func EncodeNode(n *Node) []byte {
	size := 1 + encoding.VarintLength(uint64(len(n.Entries)))
	for _, e := range n.Entries {
		size += entrySize(e)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, byte(n.Kind))
	buf = encoding.AppendVarint64(buf, uint64(len(n.Entries)))
	for _, e := range n.Entries {
		buf = encoding.AppendVarint64(buf, uint64(len(e.Key)))
		buf = encoding.AppendVarint64(buf, uint64(len(e.Value)))
		buf = append(buf, e.Key...)
		buf = append(buf, e.Value...)
	}
	return buf
}

// DecodeNode parses a node produced by EncodeNode. The returned entries alias
// data, which must not be modified afterwards.
func DecodeNode(data []byte) (*Node, error) {
	s := encoding.NewSlice(data)
	kind, ok := s.GetByte()
	if !ok {
		return nil, fmt.Errorf("%w: empty", ErrCorruptNode)
	}
	if k := Kind(kind); k != KindLeaf && k != KindInterior {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrCorruptNode, kind)
	}
	count, ok := s.GetVarint64()
	if !ok {
		return nil, fmt.Errorf("%w: bad entry count", ErrCorruptNode)
	}
	// Every entry needs at least two length bytes.
	if count > uint64(s.Remaining())/2 {
		return nil, fmt.Errorf("%w: count %d exceeds %d remaining bytes", ErrCorruptNode, count, s.Remaining())
	}
	n := &Node{Kind: Kind(kind), Entries: make([]Entry, count)}
	for i := range n.Entries {
		klen, ok1 := s.GetVarint64()
		vlen, ok2 := s.GetVarint64()
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: entry %d: bad lengths", ErrCorruptNode, i)
		}
		if klen+vlen > uint64(s.Remaining()) || klen+vlen < klen {
			return nil, fmt.Errorf("%w: entry %d: %d+%d bytes, %d remaining", ErrCorruptNode, i, klen, vlen, s.Remaining())
		}
		key, _ := s.GetBytes(int(klen))
		val, _ := s.GetBytes(int(vlen))
		n.Entries[i] = Entry{Key: key, Value: val}
	}
	if s.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptNode, s.Remaining())
	}
	return n, nil
}
