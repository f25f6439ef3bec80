// Package prometheus exports index metrics to Prometheus.
//
// [Collector] implements numindex.MetricsCollector:
//
//	reg := prometheus.NewRegistry()
//	mc, _ := numprom.NewCollector("numidx", reg)
//	acc, _ := numindex.Open(pc, path, l, collector, numindex.WithMetricsCollector(mc))
//
// [RegisterPageCache] exposes the hit, miss and size counters of a page cache.
package prometheus
