package prometheus

import (
	"errors"
	"time"

	"github.com/hupe1980/numindex"
	"github.com/hupe1980/numindex/pagecache"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector records accessor metrics into Prometheus vectors.
type Collector struct {
	sessions           *prometheus.CounterVec
	updates            *prometheus.CounterVec
	checkpoints        *prometheus.CounterVec
	checkpointPages    prometheus.Counter
	checkpointBytes    prometheus.Counter
	checkpointDuration prometheus.Histogram
	reads              *prometheus.CounterVec
	readResults        *prometheus.CounterVec
	readDuration       *prometheus.HistogramVec
}

var _ numindex.MetricsCollector = (*Collector)(nil)

// NewCollector creates the metrics under namespace and registers them with
// reg. A nil reg uses prometheus.DefaultRegisterer.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updater_sessions_total",
			Help:      "Closed updater sessions.",
		}, []string{"mode"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Processed index entry updates.",
		}, []string{"mode", "result"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoints by result.",
		}, []string{"result"}),
		checkpointPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_pages_total",
			Help:      "Data pages written by checkpoints.",
		}),
		checkpointBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_bytes_total",
			Help:      "Encoded bytes written by checkpoints.",
		}),
		checkpointDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Checkpoint latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_total",
			Help:      "Reader queries.",
		}, []string{"op"}),
		readResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_results_total",
			Help:      "Entities returned by reader queries.",
		}, []string{"op"}),
		readDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_duration_seconds",
			Help:      "Reader query latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	for _, m := range []prometheus.Collector{
		c.sessions, c.updates, c.checkpoints, c.checkpointPages, c.checkpointBytes,
		c.checkpointDuration, c.reads, c.readResults, c.readDuration,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordUpdaterSession implements numindex.MetricsCollector.
func (c *Collector) RecordUpdaterSession(mode numindex.UpdateMode, processed, failed int, _ time.Duration) {
	m := mode.String()
	c.sessions.WithLabelValues(m).Inc()
	c.updates.WithLabelValues(m, "ok").Add(float64(processed))
	c.updates.WithLabelValues(m, "failed").Add(float64(failed))
}

// RecordCheckpoint implements numindex.MetricsCollector.
func (c *Collector) RecordCheckpoint(pages, bytes int64, duration time.Duration, err error) {
	c.checkpointDuration.Observe(duration.Seconds())
	if err != nil {
		c.checkpoints.WithLabelValues("error").Inc()
		return
	}
	if pages == 0 {
		c.checkpoints.WithLabelValues("skipped").Inc()
		return
	}
	c.checkpoints.WithLabelValues("ok").Inc()
	c.checkpointPages.Add(float64(pages))
	c.checkpointBytes.Add(float64(bytes))
}

// RecordRead implements numindex.MetricsCollector.
func (c *Collector) RecordRead(op numindex.ReadOp, results int64, duration time.Duration) {
	c.reads.WithLabelValues(string(op)).Inc()
	c.readResults.WithLabelValues(string(op)).Add(float64(results))
	c.readDuration.WithLabelValues(string(op)).Observe(duration.Seconds())
}

type pageCacheStats struct {
	pc     *pagecache.PageCache
	hits   *prometheus.Desc
	misses *prometheus.Desc
	bytes  *prometheus.Desc
}

// RegisterPageCache exposes the statistics of pc under namespace. Repeated
// registration of the same namespace is ignored.
func RegisterPageCache(namespace string, pc *pagecache.PageCache, reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &pageCacheStats{
		pc:     pc,
		hits:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "pagecache", "hits_total"), "Page cache hits.", nil, nil),
		misses: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pagecache", "misses_total"), "Page cache misses.", nil, nil),
		bytes:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "pagecache", "bytes"), "Cached page bytes.", nil, nil),
	}
	if err := reg.Register(c); err != nil {
		if are := (prometheus.AlreadyRegisteredError{}); errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

func (c *pageCacheStats) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.bytes
}

func (c *pageCacheStats) Collect(ch chan<- prometheus.Metric) {
	hits, misses, bytes := c.pc.Stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(misses))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(bytes))
}
