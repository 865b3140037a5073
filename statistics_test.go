package couchyard

// statistics_test.go implements tests for statistics.

import (
	"strings"
	"sync"
	"testing"
)

func TestStatisticsBasic(t *testing.T) {
	stats := NewStatistics()

	stats.RecordTick(TickerBodyBytesWritten, 100)
	stats.RecordTick(TickerBodyBytesWritten, 50)
	stats.RecordTick(TickerDocsWritten, 1)

	if got := stats.GetTickerCount(TickerBodyBytesWritten); got != 150 {
		t.Errorf("TickerBodyBytesWritten = %d, want 150", got)
	}
	if got := stats.GetTickerCount(TickerDocsWritten); got != 1 {
		t.Errorf("TickerDocsWritten = %d, want 1", got)
	}
}

func TestStatisticsSetTicker(t *testing.T) {
	stats := NewStatistics()

	stats.SetTickerCount(TickerNodeReads, 1000)
	if got := stats.GetTickerCount(TickerNodeReads); got != 1000 {
		t.Errorf("TickerNodeReads = %d, want 1000", got)
	}

	stats.SetTickerCount(TickerNodeReads, 500)
	if got := stats.GetTickerCount(TickerNodeReads); got != 500 {
		t.Errorf("TickerNodeReads = %d, want 500", got)
	}
}

func TestStatisticsHistogram(t *testing.T) {
	stats := NewStatistics()

	// Values in non-sorted order
	for _, v := range []uint64{500, 100, 900, 200, 300} {
		stats.MeasureTime(HistogramGetMicros, v)
	}

	data := stats.GetHistogramData(HistogramGetMicros)
	if data.Count != 5 {
		t.Errorf("Count = %d, want 5", data.Count)
	}
	if data.Sum != 2000 {
		t.Errorf("Sum = %d, want 2000", data.Sum)
	}
	if data.Min != 100 {
		t.Errorf("Min = %f, want 100", data.Min)
	}
	if data.Max != 900 {
		t.Errorf("Max = %f, want 900", data.Max)
	}
	if data.Average != 400 {
		t.Errorf("Average = %f, want 400", data.Average)
	}
}

func TestStatisticsReset(t *testing.T) {
	stats := NewStatistics()

	stats.RecordTick(TickerCommits, 100)
	stats.MeasureTime(HistogramCommitMicros, 100)

	stats.Reset()

	if got := stats.GetTickerCount(TickerCommits); got != 0 {
		t.Errorf("After reset, TickerCommits = %d, want 0", got)
	}
	if data := stats.GetHistogramData(HistogramCommitMicros); data.Count != 0 {
		t.Errorf("After reset, histogram count = %d, want 0", data.Count)
	}

	stats.MeasureTime(HistogramCommitMicros, 7)
	if data := stats.GetHistogramData(HistogramCommitMicros); data.Min != 7 {
		t.Errorf("Min after reset = %f, want 7", data.Min)
	}
}

func TestStatisticsConcurrent(t *testing.T) {
	stats := NewStatistics()

	const numGoroutines = 10
	const numOps = 1000

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			for range numOps {
				stats.RecordTick(TickerDocsRead, 1)
				stats.MeasureTime(HistogramGetMicros, 100)
			}
		}()
	}
	wg.Wait()

	expected := uint64(numGoroutines * numOps)
	if got := stats.GetTickerCount(TickerDocsRead); got != expected {
		t.Errorf("TickerDocsRead = %d, want %d", got, expected)
	}
	if data := stats.GetHistogramData(HistogramGetMicros); data.Count != expected {
		t.Errorf("Histogram count = %d, want %d", data.Count, expected)
	}
}

func TestStatisticsInvalidTypes(t *testing.T) {
	stats := NewStatistics()

	// Invalid types must not panic
	stats.RecordTick(TickerEnumMax, 100)
	stats.RecordTick(-1, 100)
	stats.SetTickerCount(-1, 100)
	_ = stats.GetTickerCount(TickerEnumMax)
	_ = stats.GetTickerCount(-1)

	stats.MeasureTime(HistogramEnumMax, 100)
	stats.MeasureTime(-1, 100)
	_ = stats.GetHistogramData(HistogramEnumMax)
	_ = stats.GetHistogramData(-1)
}

func TestTickerTypeString(t *testing.T) {
	tests := []struct {
		ticker TickerType
		want   string
	}{
		{TickerDocsWritten, "couchyard.docs.written"},
		{TickerNodeCacheHit, "couchyard.node.cache.hit"},
		{TickerHeadersScanned, "couchyard.headers.scanned"},
		{TickerCompactions, "couchyard.compactions"},
	}
	for _, tt := range tests {
		if got := tt.ticker.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.ticker, got, tt.want)
		}
	}
	if got := TickerEnumMax.String(); got != "unknown" {
		t.Errorf("TickerEnumMax.String() = %q, want 'unknown'", got)
	}
}

func TestHistogramTypeString(t *testing.T) {
	tests := []struct {
		histogram HistogramType
		want      string
	}{
		{HistogramGetMicros, "couchyard.get.micros"},
		{HistogramCommitDocs, "couchyard.commit.docs"},
		{HistogramCompactionMicros, "couchyard.compaction.micros"},
	}
	for _, tt := range tests {
		if got := tt.histogram.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.histogram, got, tt.want)
		}
	}
	if got := HistogramEnumMax.String(); got != "unknown" {
		t.Errorf("HistogramEnumMax.String() = %q, want 'unknown'", got)
	}
}

func TestStatisticsString(t *testing.T) {
	stats := NewStatistics()

	stats.RecordTick(TickerCommits, 3)
	stats.MeasureTime(HistogramCommitDocs, 100)

	str := stats.String()
	if !strings.Contains(str, "couchyard.commits : 3") {
		t.Errorf("String() missing ticker: %s", str)
	}
	if !strings.Contains(str, "couchyard.commit.docs") {
		t.Errorf("String() missing histogram: %s", str)
	}
	if strings.Contains(str, "couchyard.compactions") {
		t.Errorf("String() lists a zero ticker: %s", str)
	}
}

func TestStatisticsEmptyHistogram(t *testing.T) {
	stats := NewStatistics()

	data := stats.GetHistogramData(HistogramGetMicros)
	if data.Count != 0 || data.Sum != 0 || data.Average != 0 {
		t.Errorf("empty histogram = %+v, want zero", data)
	}
}

func TestAllTickerTypes(t *testing.T) {
	stats := NewStatistics()

	for i := range TickerEnumMax {
		stats.RecordTick(i, 1)
		if got := stats.GetTickerCount(i); got != 1 {
			t.Errorf("GetTickerCount(%d) = %d, want 1", i, got)
		}
		if i.String() == "unknown" {
			t.Errorf("ticker %d has no name", i)
		}
	}
}

func TestAllHistogramTypes(t *testing.T) {
	stats := NewStatistics()

	for i := range HistogramEnumMax {
		stats.MeasureTime(i, 100)
		if data := stats.GetHistogramData(i); data.Count != 1 {
			t.Errorf("GetHistogramData(%d).Count = %d, want 1", i, data.Count)
		}
		if i.String() == "unknown" {
			t.Errorf("histogram %d has no name", i)
		}
	}
}
