package btree

import (
	"fmt"

	"github.com/aalhour/couchyard/internal/encoding"
)

// Pointer references a written node. A nil *Pointer is the empty tree.
type Pointer struct {
	// Offset is the chunk offset of the node.
	Offset int64
	// Size is the on-disk size of the whole subtree's nodes.
	Size uint64
	// Reduction summarizes the subtree's leaf entries; see Reducer.
	Reduction []byte
}

// EncodePointer serializes p; nil encodes as an empty slice.
func EncodePointer(p *Pointer) []byte {
	if p == nil {
		return nil
	}
	buf := make([]byte, 0, 2*encoding.MaxVarint64Length+len(p.Reduction)+2)
	return appendPointer(buf, p)
}

func appendPointer(dst []byte, p *Pointer) []byte {
	dst = encoding.AppendVarint64(dst, uint64(p.Offset))
	dst = encoding.AppendVarint64(dst, p.Size)
	return encoding.AppendLengthPrefixed(dst, p.Reduction)
}

// DecodePointer reverses EncodePointer. An empty input decodes to nil.
func DecodePointer(data []byte) (*Pointer, error) {
	if len(data) == 0 {
		return nil, nil
	}
	s := encoding.NewSlice(data)
	off, ok1 := s.GetVarint64()
	size, ok2 := s.GetVarint64()
	red, ok3 := s.GetLengthPrefixed()
	if !ok1 || !ok2 || !ok3 || s.Remaining() != 0 || int64(off) < 0 {
		return nil, fmt.Errorf("%w: bad child pointer", ErrCorruptNode)
	}
	return &Pointer{Offset: int64(off), Size: size, Reduction: red}, nil
}
