package download

import "github.com/prometheus/client_golang/prometheus"

// Collector exports a Manager's CacheStats as Prometheus counters, for
// cmd/srtmpack-serve's /metrics endpoint (SPEC_FULL.md's domain-stack
// wiring for prometheus/client_golang, grounded on quay/claircore's
// libindex metrics and APTlantis-Mirror-Crates' counter-per-subsystem
// layout).
type Collector struct {
	manager *Manager

	hits       *prometheus.Desc
	misses     *prometheus.Desc
	errorsDesc *prometheus.Desc
	writeErrs  *prometheus.Desc
}

// NewCollector wraps m for registration against a prometheus.Registerer.
func NewCollector(m *Manager) *Collector {
	return &Collector{
		manager:    m,
		hits:       prometheus.NewDesc("srtmpack_cache_hits_total", "Cache reads that found the requested tile.", nil, nil),
		misses:     prometheus.NewDesc("srtmpack_cache_misses_total", "Cache reads that did not find the requested tile.", nil, nil),
		errorsDesc: prometheus.NewDesc("srtmpack_cache_read_errors_total", "Cache reads that failed outright.", nil, nil),
		writeErrs:  prometheus.NewDesc("srtmpack_cache_write_errors_total", "Best-effort cache writes that failed.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.errorsDesc
	ch <- c.writeErrs
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	hits, misses, readErrs, writeErrs := c.manager.cacheStats.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(misses))
	ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(readErrs))
	ch <- prometheus.MustNewConstMetric(c.writeErrs, prometheus.CounterValue, float64(writeErrs))
}
