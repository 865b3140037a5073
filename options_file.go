package couchyard

// options_file.go reads and writes Options as YAML.
//
// Format:
//
//	create_if_missing: true
//	compression: zstd
//	checksum: xxh3
//	chunk_threshold: 4096
//	node_cache_size: 67108864
//	sync_on_commit: true
//	log_level: info
//
// Keys left out keep their DefaultOptions value. Unknown keys are rejected.

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/aalhour/couchyard/internal/checksum"
	"github.com/aalhour/couchyard/internal/compression"
	"github.com/aalhour/couchyard/internal/logging"
	"github.com/aalhour/couchyard/internal/vfs"
)

// optionsFile is the YAML form of Options. Pointer fields distinguish an
// absent key from a zero value.
type optionsFile struct {
	CreateIfMissing     *bool   `yaml:"create_if_missing,omitempty"`
	ErrorIfExists       *bool   `yaml:"error_if_exists,omitempty"`
	ReadOnly            *bool   `yaml:"read_only,omitempty"`
	MmapReads           *bool   `yaml:"mmap_reads,omitempty"`
	Compression         *string `yaml:"compression,omitempty"`
	CompressBodies      *bool   `yaml:"compress_bodies,omitempty"`
	Checksum            *string `yaml:"checksum,omitempty"`
	ChunkThreshold      *int    `yaml:"chunk_threshold,omitempty"`
	NodeCacheSize       *uint64 `yaml:"node_cache_size,omitempty"`
	NodeCacheShards     *int    `yaml:"node_cache_shards,omitempty"`
	MaxBatchBytes       *int64  `yaml:"max_batch_bytes,omitempty"`
	CompressionWorkers  *int    `yaml:"compression_workers,omitempty"`
	SyncOnCommit        *bool   `yaml:"sync_on_commit,omitempty"`
	TreatCorruptAsEmpty *bool   `yaml:"treat_corrupt_as_empty,omitempty"`
	LogLevel            *string `yaml:"log_level,omitempty"`
}

// ParseOptionsFile reads YAML options from r on top of DefaultOptions.
func ParseOptionsFile(r io.Reader) (*Options, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var f optionsFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	opts := DefaultOptions()
	setIf(&opts.CreateIfMissing, f.CreateIfMissing)
	setIf(&opts.ErrorIfExists, f.ErrorIfExists)
	setIf(&opts.ReadOnly, f.ReadOnly)
	setIf(&opts.MmapReads, f.MmapReads)
	setIf(&opts.CompressBodies, f.CompressBodies)
	setIf(&opts.ChunkThreshold, f.ChunkThreshold)
	setIf(&opts.NodeCacheSize, f.NodeCacheSize)
	setIf(&opts.NodeCacheShards, f.NodeCacheShards)
	setIf(&opts.MaxBatchBytes, f.MaxBatchBytes)
	setIf(&opts.CompressionWorkers, f.CompressionWorkers)
	setIf(&opts.SyncOnCommit, f.SyncOnCommit)
	setIf(&opts.TreatCorruptAsEmpty, f.TreatCorruptAsEmpty)

	if f.Compression != nil {
		if opts.Compression, err = compression.ParseType(*f.Compression); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}
	if f.Checksum != nil {
		if opts.ChecksumType, err = checksum.ParseType(*f.Checksum); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}
	if f.LogLevel != nil {
		level, err := logging.ParseLevel(*f.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
		opts.Logger = logging.NewDefaultLogger(level)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// ReadOptionsFile parses the YAML options file at path.
func ReadOptionsFile(fs FS, path string) (*Options, error) {
	if fs == nil {
		fs = vfs.Default()
	}
	f, err := fs.OpenRandomAccess(path)
	if err != nil {
		return nil, fmt.Errorf("couchyard: open options file: %w", err)
	}
	defer f.Close()
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	return ParseOptionsFile(io.NewSectionReader(f, 0, size))
}

// MarshalOptions renders every file-representable option as YAML.
func MarshalOptions(opts *Options) ([]byte, error) {
	codec := strings.ToLower(opts.Compression.String())
	if opts.Compression == NoCompression {
		codec = "none"
	}
	sum := strings.ToLower(opts.ChecksumType.String())
	f := optionsFile{
		CreateIfMissing:     &opts.CreateIfMissing,
		ErrorIfExists:       &opts.ErrorIfExists,
		ReadOnly:            &opts.ReadOnly,
		MmapReads:           &opts.MmapReads,
		Compression:         &codec,
		CompressBodies:      &opts.CompressBodies,
		Checksum:            &sum,
		ChunkThreshold:      &opts.ChunkThreshold,
		NodeCacheSize:       &opts.NodeCacheSize,
		NodeCacheShards:     &opts.NodeCacheShards,
		MaxBatchBytes:       &opts.MaxBatchBytes,
		CompressionWorkers:  &opts.CompressionWorkers,
		SyncOnCommit:        &opts.SyncOnCommit,
		TreatCorruptAsEmpty: &opts.TreatCorruptAsEmpty,
	}
	return yaml.Marshal(&f)
}

// WriteOptionsFile writes opts to path as YAML and syncs it.
func WriteOptionsFile(fs FS, path string, opts *Options) error {
	if fs == nil {
		fs = vfs.Default()
	}
	data, err := MarshalOptions(opts)
	if err != nil {
		return err
	}
	w, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("couchyard: create options file: %w", err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Sync(); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
