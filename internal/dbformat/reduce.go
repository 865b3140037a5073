package dbformat

import (
	"github.com/aalhour/couchyard/internal/btree"
	"github.com/aalhour/couchyard/internal/encoding"
)

// IDReduction summarizes a by-ID subtree.
type IDReduction struct {
	Live    uint64
	Deleted uint64
	// Size is the summed physical size of the bodies.
	Size uint64
}

// Encode serializes r as three varints.
func (r IDReduction) Encode() []byte {
	dst := make([]byte, 0, 3*encoding.MaxVarint64Length)
	dst = encoding.AppendVarint64(dst, r.Live)
	dst = encoding.AppendVarint64(dst, r.Deleted)
	return encoding.AppendVarint64(dst, r.Size)
}

// DecodeIDReduction parses an encoded IDReduction. Empty input decodes to
// the zero reduction.
func DecodeIDReduction(data []byte) (IDReduction, bool) {
	if len(data) == 0 {
		return IDReduction{}, true
	}
	s := encoding.NewSlice(data)
	live, ok1 := s.GetVarint64()
	del, ok2 := s.GetVarint64()
	size, ok3 := s.GetVarint64()
	if !ok1 || !ok2 || !ok3 || s.Remaining() != 0 {
		return IDReduction{}, false
	}
	return IDReduction{Live: live, Deleted: del, Size: size}, true
}

// IDReducer maintains IDReduction in by-ID interior pointers.
type IDReducer struct{}

var _ btree.Reducer = IDReducer{}

// Reduce implements btree.Reducer.
func (IDReducer) Reduce(entries []btree.Entry) []byte {
	var r IDReduction
	for _, e := range entries {
		deleted, size, ok := entryFlags(e.Value)
		if !ok {
			continue
		}
		if deleted {
			r.Deleted++
		} else {
			r.Live++
		}
		r.Size += size
	}
	return r.Encode()
}

// Rereduce implements btree.Reducer.
func (IDReducer) Rereduce(reductions [][]byte) []byte {
	var total IDReduction
	for _, data := range reductions {
		r, _ := DecodeIDReduction(data)
		total.Live += r.Live
		total.Deleted += r.Deleted
		total.Size += r.Size
	}
	return total.Encode()
}

// SeqReducer counts by-seq entries.
type SeqReducer struct{}

var _ btree.Reducer = SeqReducer{}

// Reduce implements btree.Reducer.
func (SeqReducer) Reduce(entries []btree.Entry) []byte {
	return encoding.AppendVarint64(nil, uint64(len(entries)))
}

// Rereduce implements btree.Reducer.
func (SeqReducer) Rereduce(reductions [][]byte) []byte {
	var total uint64
	for _, data := range reductions {
		total += DecodeSeqCount(data)
	}
	return encoding.AppendVarint64(nil, total)
}

// DecodeSeqCount parses a SeqReducer reduction; malformed input counts as 0.
func DecodeSeqCount(data []byte) uint64 {
	n, _, err := encoding.DecodeVarint64(data)
	if err != nil {
		return 0
	}
	return n
}
