// Package metrics exports couchyard statistics to Prometheus.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(metrics.NewCollector(db, "orders"))
//
// Every ticker becomes a counter and every histogram a summary carrying
// count and sum. The latest commit adds gauges for document counts, the
// update sequence and file space.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aalhour/couchyard"
)

const namespace = "couchyard"

// Collector is a prometheus.Collector over one database.
type Collector struct {
	db         *couchyard.DB
	tickers    [couchyard.TickerEnumMax]*prometheus.Desc
	histograms [couchyard.HistogramEnumMax]*prometheus.Desc

	docs      *prometheus.Desc
	deleted   *prometheus.Desc
	updateSeq *prometheus.Desc
	fileSize  *prometheus.Desc
	spaceUsed *prometheus.Desc
}

// NewCollector returns a collector for db. name is attached to every
// series as the "db" label.
func NewCollector(db *couchyard.DB, name string) *Collector {
	labels := prometheus.Labels{"db": name}
	c := &Collector{db: db}
	for i := range couchyard.TickerEnumMax {
		c.tickers[i] = prometheus.NewDesc(metricName(i.String())+"_total",
			"couchyard ticker "+i.String(), nil, labels)
	}
	for i := range couchyard.HistogramEnumMax {
		c.histograms[i] = prometheus.NewDesc(metricName(i.String()),
			"couchyard histogram "+i.String(), nil, labels)
	}
	c.docs = prometheus.NewDesc(namespace+"_documents", "Live documents in the latest commit.", nil, labels)
	c.deleted = prometheus.NewDesc(namespace+"_tombstones", "Tombstones in the latest commit.", nil, labels)
	c.updateSeq = prometheus.NewDesc(namespace+"_update_seq", "Update sequence of the latest commit.", nil, labels)
	c.fileSize = prometheus.NewDesc(namespace+"_file_size_bytes", "File length at the latest commit.", nil, labels)
	c.spaceUsed = prometheus.NewDesc(namespace+"_space_used_bytes", "Bytes referenced by the latest commit.", nil, labels)
	return c
}

// metricName maps "couchyard.node.cache.hit" to "couchyard_node_cache_hit".
func metricName(s string) string {
	return strings.ReplaceAll(s, ".", "_")
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.tickers {
		ch <- d
	}
	for _, d := range c.histograms {
		ch <- d
	}
	ch <- c.docs
	ch <- c.deleted
	ch <- c.updateSeq
	ch <- c.fileSize
	ch <- c.spaceUsed
}

// Collect implements prometheus.Collector. A closed database reports
// its counters but no commit gauges.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.db.Statistics()
	for i, d := range c.tickers {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue,
			float64(stats.GetTickerCount(couchyard.TickerType(i))))
	}
	for i, d := range c.histograms {
		h := stats.GetHistogramData(couchyard.HistogramType(i))
		ch <- prometheus.MustNewConstSummary(d, h.Count, float64(h.Sum), nil)
	}

	info, err := c.db.Info()
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.docs, prometheus.GaugeValue, float64(info.DocCount))
	ch <- prometheus.MustNewConstMetric(c.deleted, prometheus.GaugeValue, float64(info.DeletedCount))
	ch <- prometheus.MustNewConstMetric(c.updateSeq, prometheus.GaugeValue, float64(info.UpdateSeq))
	ch <- prometheus.MustNewConstMetric(c.fileSize, prometheus.GaugeValue, float64(info.FileSize))
	ch <- prometheus.MustNewConstMetric(c.spaceUsed, prometheus.GaugeValue, float64(info.SpaceUsed))
}
