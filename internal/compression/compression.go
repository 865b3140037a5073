// Package compression implements the pluggable body codec.
//
// A compressed document body is stored as a one-byte codec tag followed by
// the codec output, so a reader never needs to know which codec the writer
// was configured with.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrDecompression is returned when a stored payload cannot be decoded.
var ErrDecompression = errors.New("compression: corrupt compressed payload")

// ErrUnsupported is returned for unknown codec tags.
var ErrUnsupported = errors.New("compression: unsupported codec")

// Type identifies a codec. These values are stored on disk and MUST NOT change.
type Type uint8

const (
	// NoCompression stores bodies as-is.
	NoCompression Type = 0x0
	// SnappyCompression uses Snappy block format. This is the default,
	// matching libcouchstore.
	SnappyCompression Type = 0x1
	// ZlibCompression uses zlib with header.
	ZlibCompression Type = 0x2
	// LZ4Compression uses LZ4 frame format, fast level.
	LZ4Compression Type = 0x4
	// LZ4HCCompression uses LZ4 frame format, level 9.
	LZ4HCCompression Type = 0x5
	// ZstdCompression uses Zstandard.
	ZstdCompression Type = 0x7
)

// String returns the human-readable name of the codec.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	case ZlibCompression:
		return "Zlib"
	case LZ4Compression:
		return "LZ4"
	case LZ4HCCompression:
		return "LZ4HC"
	case ZstdCompression:
		return "ZSTD"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// IsSupported returns true if the codec is implemented.
func (t Type) IsSupported() bool {
	switch t {
	case NoCompression, SnappyCompression, ZlibCompression, LZ4Compression, LZ4HCCompression, ZstdCompression:
		return true
	default:
		return false
	}
}

// ParseType maps a codec name (case-sensitive, as printed by String) back to
// its Type.
func ParseType(name string) (Type, error) {
	for _, t := range []Type{NoCompression, SnappyCompression, ZlibCompression, LZ4Compression, LZ4HCCompression, ZstdCompression} {
		if t.String() == name {
			return t, nil
		}
	}
	switch name {
	case "none", "":
		return NoCompression, nil
	case "snappy":
		return SnappyCompression, nil
	case "zlib":
		return ZlibCompression, nil
	case "lz4":
		return LZ4Compression, nil
	case "lz4hc":
		return LZ4HCCompression, nil
	case "zstd":
		return ZstdCompression, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupported, name)
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

// zstdCodecs lazily builds a shared encoder/decoder pair. Both are safe for
// concurrent EncodeAll/DecodeAll calls.
func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdInitErr
}

// Compress compresses data with codec t. The result does not carry the tag;
// see Encode for the tagged form.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil

	case SnappyCompression:
		return snappy.Encode(nil, data), nil

	case ZlibCompression:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("zlib write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib close: %w", err)
		}
		return buf.Bytes(), nil

	case LZ4Compression:
		return compressLZ4(data, lz4.Fast)

	case LZ4HCCompression:
		return compressLZ4(data, lz4.Level9)

	case ZstdCompression:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
}

func compressLZ4(data []byte, level lz4.CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(level)); err != nil {
		return nil, fmt.Errorf("lz4 apply level: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Every decoding failure wraps ErrDecompression.
func Decompress(t Type, data []byte) ([]byte, error) {
	out, err := decompress(t, data)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDecompression, t, err)
	}
	return out, nil
}

func decompress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil

	case SnappyCompression:
		return snappy.Decode(nil, data)

	case ZlibCompression:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)

	case LZ4Compression, LZ4HCCompression:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))

	case ZstdCompression:
		_, dec, err := zstdCodecs()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(data, nil)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
}

// Encode compresses data and prefixes the codec tag.
func Encode(t Type, data []byte) ([]byte, error) {
	c, err := Compress(t, data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(c)+1)
	out = append(out, byte(t))
	return append(out, c...), nil
}

// Decode reads the codec tag written by Encode and decompresses the rest.
func Decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: missing codec tag", ErrDecompression)
	}
	t := Type(data[0])
	if !t.IsSupported() {
		return nil, fmt.Errorf("%w: tag %d", ErrDecompression, data[0])
	}
	return Decompress(t, data[1:])
}
