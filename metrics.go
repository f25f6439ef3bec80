package numindex

import (
	"sync/atomic"
	"time"
)

// ReadOp names a read operation in metrics.
type ReadOp string

const (
	ReadLookup ReadOp = "lookup"
	ReadRange  ReadOp = "range"
	ReadCount  ReadOp = "count"
	ReadSample ReadOp = "sample"
	ReadScan   ReadOp = "scan"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; see
// metrics/prometheus for a Prometheus implementation.
type MetricsCollector interface {
	// RecordUpdaterSession is called when an updater session closes.
	// processed counts applied updates, failed counts rejected ones.
	RecordUpdaterSession(mode UpdateMode, processed, failed int, duration time.Duration)

	// RecordCheckpoint is called after each Force. pages and bytes are zero
	// when nothing changed.
	RecordCheckpoint(pages, bytes int64, duration time.Duration, err error)

	// RecordRead is called after each reader query with the number of
	// entities it returned.
	RecordRead(op ReadOp, results int64, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordUpdaterSession(UpdateMode, int, int, time.Duration) {}
func (NoopMetricsCollector) RecordCheckpoint(int64, int64, time.Duration, error)     {}
func (NoopMetricsCollector) RecordRead(ReadOp, int64, time.Duration)                 {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SessionCount         atomic.Int64
	UpdatesProcessed     atomic.Int64
	UpdatesFailed        atomic.Int64
	CheckpointCount      atomic.Int64
	CheckpointErrors     atomic.Int64
	CheckpointPages      atomic.Int64
	CheckpointBytes      atomic.Int64
	CheckpointTotalNanos atomic.Int64
	ReadCount            atomic.Int64
	ReadResults          atomic.Int64
	ReadTotalNanos       atomic.Int64
}

// RecordUpdaterSession implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdaterSession(_ UpdateMode, processed, failed int, _ time.Duration) {
	b.SessionCount.Add(1)
	b.UpdatesProcessed.Add(int64(processed))
	b.UpdatesFailed.Add(int64(failed))
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(pages, bytes int64, duration time.Duration, err error) {
	b.CheckpointCount.Add(1)
	b.CheckpointTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CheckpointErrors.Add(1)
		return
	}
	b.CheckpointPages.Add(pages)
	b.CheckpointBytes.Add(bytes)
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(_ ReadOp, results int64, duration time.Duration) {
	b.ReadCount.Add(1)
	b.ReadResults.Add(results)
	b.ReadTotalNanos.Add(duration.Nanoseconds())
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SessionCount:       b.SessionCount.Load(),
		UpdatesProcessed:   b.UpdatesProcessed.Load(),
		UpdatesFailed:      b.UpdatesFailed.Load(),
		CheckpointCount:    b.CheckpointCount.Load(),
		CheckpointErrors:   b.CheckpointErrors.Load(),
		CheckpointPages:    b.CheckpointPages.Load(),
		CheckpointBytes:    b.CheckpointBytes.Load(),
		CheckpointAvgNanos: avg(b.CheckpointTotalNanos.Load(), b.CheckpointCount.Load()),
		ReadCount:          b.ReadCount.Load(),
		ReadResults:        b.ReadResults.Load(),
		ReadAvgNanos:       avg(b.ReadTotalNanos.Load(), b.ReadCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SessionCount       int64
	UpdatesProcessed   int64
	UpdatesFailed      int64
	CheckpointCount    int64
	CheckpointErrors   int64
	CheckpointPages    int64
	CheckpointBytes    int64
	CheckpointAvgNanos int64
	ReadCount          int64
	ReadResults        int64
	ReadAvgNanos       int64
}
