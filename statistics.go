package couchyard

// statistics.go implements the Statistics interface for collecting database metrics.

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// TickerType represents different types of counters.
type TickerType int

const (
	// TickerDocsWritten is the count of document revisions committed.
	TickerDocsWritten TickerType = iota
	// TickerDocsRead is the count of document lookups that found a document.
	TickerDocsRead
	// TickerDocsNotFound is the count of lookups that found nothing.
	TickerDocsNotFound
	// TickerBodyBytesWritten is the stored (post-compression) body bytes written.
	TickerBodyBytesWritten
	// TickerBodyBytesRead is the decompressed body bytes returned to callers.
	TickerBodyBytesRead
	// TickerCommits is the count of headers written.
	TickerCommits
	// TickerCommitSyncs is the count of durability barriers issued.
	TickerCommitSyncs
	// TickerWriterBusy is the count of commits rejected with ErrWriterBusy.
	TickerWriterBusy
	// TickerNodeReads is the count of index nodes read from the file.
	TickerNodeReads
	// TickerNodeWrites is the count of index nodes written.
	TickerNodeWrites
	// TickerNodeBytesWritten is the compressed index node bytes written.
	TickerNodeBytesWritten
	// TickerNodeCacheHit is the count of node cache hits.
	TickerNodeCacheHit
	// TickerNodeCacheMiss is the count of node cache misses.
	TickerNodeCacheMiss
	// TickerHeadersScanned is the count of blocks examined looking for a header.
	TickerHeadersScanned
	// TickerCompactions is the count of completed compactions.
	TickerCompactions
	// TickerBatchPoolHit is the count of write batches reused from the pool.
	TickerBatchPoolHit
	// TickerBatchPoolMiss is the count of write batches newly allocated.
	TickerBatchPoolMiss

	// TickerEnumMax is the maximum ticker type for sizing arrays.
	TickerEnumMax
)

// String returns the name of the ticker type.
func (t TickerType) String() string {
	names := []string{
		"couchyard.docs.written",
		"couchyard.docs.read",
		"couchyard.docs.notfound",
		"couchyard.body.bytes.written",
		"couchyard.body.bytes.read",
		"couchyard.commits",
		"couchyard.commit.syncs",
		"couchyard.writer.busy",
		"couchyard.node.reads",
		"couchyard.node.writes",
		"couchyard.node.bytes.written",
		"couchyard.node.cache.hit",
		"couchyard.node.cache.miss",
		"couchyard.headers.scanned",
		"couchyard.compactions",
		"couchyard.batch.pool.hit",
		"couchyard.batch.pool.miss",
	}
	if t >= 0 && int(t) < len(names) {
		return names[t]
	}
	return "unknown"
}

// HistogramType represents different types of histograms.
type HistogramType int

const (
	// HistogramGetMicros is the latency of document lookups.
	HistogramGetMicros HistogramType = iota
	// HistogramCommitMicros is the latency of commits, barrier included.
	HistogramCommitMicros
	// HistogramCommitDocs is the number of documents per commit.
	HistogramCommitDocs
	// HistogramCompactionMicros is the duration of compactions.
	HistogramCompactionMicros

	// HistogramEnumMax is the maximum histogram type for sizing arrays.
	HistogramEnumMax
)

// String returns the name of the histogram type.
func (h HistogramType) String() string {
	names := []string{
		"couchyard.get.micros",
		"couchyard.commit.micros",
		"couchyard.commit.docs",
		"couchyard.compaction.micros",
	}
	if h >= 0 && int(h) < len(names) {
		return names[h]
	}
	return "unknown"
}

// HistogramData contains histogram statistics.
type HistogramData struct {
	Average float64
	Max     float64
	Min     float64
	Count   uint64
	Sum     uint64
}

// Statistics collects and reports database metrics.
type Statistics interface {
	// GetTickerCount returns the current value of a ticker.
	GetTickerCount(tickerType TickerType) uint64

	// RecordTick increments a ticker by count.
	RecordTick(tickerType TickerType, count uint64)

	// SetTickerCount sets the ticker to a specific value.
	SetTickerCount(tickerType TickerType, count uint64)

	// GetHistogramData returns histogram statistics.
	GetHistogramData(histogramType HistogramType) HistogramData

	// MeasureTime records a value to a histogram.
	MeasureTime(histogramType HistogramType, value uint64)

	// Reset clears all statistics.
	Reset()

	// String returns a formatted string of all statistics.
	String() string
}

// statisticsImpl is the default implementation of Statistics.
type statisticsImpl struct {
	tickers    [TickerEnumMax]atomic.Uint64
	histograms [HistogramEnumMax]atomic.Pointer[histogramImpl]
}

// histogramImpl is a simple min/max/sum histogram.
type histogramImpl struct {
	min   atomic.Uint64
	max   atomic.Uint64
	sum   atomic.Uint64
	count atomic.Uint64
}

func newHistogram() *histogramImpl {
	h := &histogramImpl{}
	h.min.Store(^uint64(0))
	return h
}

// NewStatistics creates a new Statistics instance.
func NewStatistics() Statistics {
	s := &statisticsImpl{}
	for i := range s.histograms {
		s.histograms[i].Store(newHistogram())
	}
	return s
}

// GetTickerCount returns the current value of a ticker.
func (s *statisticsImpl) GetTickerCount(tickerType TickerType) uint64 {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return 0
	}
	return s.tickers[tickerType].Load()
}

// RecordTick increments a ticker by count.
func (s *statisticsImpl) RecordTick(tickerType TickerType, count uint64) {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return
	}
	s.tickers[tickerType].Add(count)
}

// SetTickerCount sets the ticker to a specific value.
func (s *statisticsImpl) SetTickerCount(tickerType TickerType, count uint64) {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return
	}
	s.tickers[tickerType].Store(count)
}

// GetHistogramData returns histogram statistics.
func (s *statisticsImpl) GetHistogramData(histogramType HistogramType) HistogramData {
	if histogramType < 0 || histogramType >= HistogramEnumMax {
		return HistogramData{}
	}

	h := s.histograms[histogramType].Load()
	count := h.count.Load()
	if count == 0 {
		return HistogramData{}
	}

	sum := h.sum.Load()
	return HistogramData{
		Count:   count,
		Sum:     sum,
		Min:     float64(h.min.Load()),
		Max:     float64(h.max.Load()),
		Average: float64(sum) / float64(count),
	}
}

// MeasureTime records a value to a histogram.
func (s *statisticsImpl) MeasureTime(histogramType HistogramType, value uint64) {
	if histogramType < 0 || histogramType >= HistogramEnumMax {
		return
	}

	h := s.histograms[histogramType].Load()
	h.count.Add(1)
	h.sum.Add(value)

	for {
		old := h.min.Load()
		if value >= old || h.min.CompareAndSwap(old, value) {
			break
		}
	}
	for {
		old := h.max.Load()
		if value <= old || h.max.CompareAndSwap(old, value) {
			break
		}
	}
}

// Reset clears all statistics.
func (s *statisticsImpl) Reset() {
	for i := range s.tickers {
		s.tickers[i].Store(0)
	}
	for i := range s.histograms {
		s.histograms[i].Store(newHistogram())
	}
}

// String returns a formatted string of all statistics.
func (s *statisticsImpl) String() string {
	var b strings.Builder

	b.WriteString("TICKERS:\n")
	for i := range TickerEnumMax {
		if count := s.GetTickerCount(i); count > 0 {
			b.WriteString("  " + i.String() + " : " + strconv.FormatUint(count, 10) + "\n")
		}
	}

	b.WriteString("\nHISTOGRAMS:\n")
	for i := range HistogramEnumMax {
		data := s.GetHistogramData(i)
		if data.Count == 0 {
			continue
		}
		b.WriteString("  " + i.String() + " :\n")
		b.WriteString("    Count: " + strconv.FormatUint(data.Count, 10) + "\n")
		b.WriteString("    Avg: " + strconv.FormatFloat(data.Average, 'f', 2, 64) + "\n")
		b.WriteString("    Min: " + strconv.FormatFloat(data.Min, 'f', 2, 64) + "\n")
		b.WriteString("    Max: " + strconv.FormatFloat(data.Max, 'f', 2, 64) + "\n")
	}

	return b.String()
}
