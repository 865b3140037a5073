package btree

import (
	"bytes"
	"encoding/binary"
)

// Compare orders keys: negative if a < b, zero if equal, positive if a > b.
type Compare func(a, b []byte) int

// CompareIDs orders document IDs bytewise.
func CompareIDs(a, b []byte) int {
	return bytes.Compare(a, b)
}

// CompareSeqs orders 8-byte big-endian sequence keys numerically. Keys of any
// other length sort after well-formed ones, bytewise among themselves.
func CompareSeqs(a, b []byte) int {
	if len(a) == 8 && len(b) == 8 {
		x, y := binary.BigEndian.Uint64(a), binary.BigEndian.Uint64(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	switch {
	case len(a) == 8:
		return -1
	case len(b) == 8:
		return 1
	}
	return bytes.Compare(a, b)
}

// SeqKey encodes a sequence number as a by-sequence key.
func SeqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), seq)
}

// ParseSeqKey reverses SeqKey; ok is false for malformed keys.
func ParseSeqKey(key []byte) (seq uint64, ok bool) {
	if len(key) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key), true
}

// Reducer computes the summary stored in interior pointers.
type Reducer interface {
	// Reduce summarizes the entries of one leaf.
	Reduce(entries []Entry) []byte
	// Rereduce combines child summaries into their parent's.
	Rereduce(reductions [][]byte) []byte
}
