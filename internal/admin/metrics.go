package admin

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhukovaskychina/keycache/internal/certifier"
	"github.com/zhukovaskychina/keycache/internal/keycache"
)

// metricsCollector exposes the cache and certifier stats surface to
// Prometheus by implementing prometheus.Collector directly: each scrape
// reads a fresh Controller.Stats()/Certifier.Stats() snapshot rather
// than a periodically-updated gauge, so /metrics never lags the live
// state. Grounded on the pack's metric-namespacing convention
// (2lar-b2's internal/infrastructure/observability/metrics.go) adapted
// from pre-built gauge fields to an on-demand Collect, since the
// teacher repo has no metrics surface of its own to imitate directly.
const namespace = "keycache"

type metricsCollector struct {
	cache     *keycache.Controller
	certifier *certifier.Certifier
	registry  *prometheus.Registry

	blocksTotal   *prometheus.Desc
	blocksUsed    *prometheus.Desc
	blocksWarm    *prometheus.Desc
	blocksHot     *prometheus.Desc
	readRequests  *prometheus.Desc
	readMisses    *prometheus.Desc
	writeRequests *prometheus.Desc
	writeIOs      *prometheus.Desc
	flushes       *prometheus.Desc
	flushFailures *prometheus.Desc
	evictions     *prometheus.Desc
	errors        *prometheus.Desc
	hitRatio      *prometheus.Desc
	canBeUsed     *prometheus.Desc

	certPositive *prometheus.Desc
	certNegative *prometheus.Desc
	certInfoSize *prometheus.Desc
}

func newMetricsCollector(cache *keycache.Controller, cert *certifier.Certifier) *metricsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(namespace+"_"+name, help, nil, nil)
	}
	m := &metricsCollector{
		cache:     cache,
		certifier: cert,

		blocksTotal:   desc("blocks_total", "Total blocks allocated in the key cache."),
		blocksUsed:    desc("blocks_used", "Blocks currently holding cached data."),
		blocksWarm:    desc("blocks_warm", "Blocks in the warm (recently-evictable) sub-chain."),
		blocksHot:     desc("blocks_hot", "Blocks in the hot sub-chain."),
		readRequests:  desc("read_requests_total", "Read requests served by the key cache."),
		readMisses:    desc("read_misses_total", "Reads that required an I/O fill."),
		writeRequests: desc("write_requests_total", "Write requests served by the key cache."),
		writeIOs:      desc("write_ios_total", "Writes that performed immediate I/O."),
		flushes:       desc("flushes_total", "Flush operations performed."),
		flushFailures: desc("flush_failures_total", "Flush operations that failed."),
		evictions:     desc("evictions_total", "Blocks evicted to make room."),
		errors:        desc("errors_total", "I/O errors observed by the key cache."),
		hitRatio:      desc("hit_ratio", "Read hit ratio since the last reset_counters."),
		canBeUsed:     desc("enabled", "1 if the key cache is enabled, 0 if disabled."),

		certPositive: desc("certifier_positive_certified_total", "Transactions certified without conflict."),
		certNegative: desc("certifier_negative_certified_total", "Transactions rejected for a write-write conflict."),
		certInfoSize: desc("certifier_certification_info_size", "Rows currently held in the certification database."),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(m)
	m.registry = registry
	return m
}

func (m *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.blocksTotal
	ch <- m.blocksUsed
	ch <- m.blocksWarm
	ch <- m.blocksHot
	ch <- m.readRequests
	ch <- m.readMisses
	ch <- m.writeRequests
	ch <- m.writeIOs
	ch <- m.flushes
	ch <- m.flushFailures
	ch <- m.evictions
	ch <- m.errors
	ch <- m.hitRatio
	ch <- m.canBeUsed
	ch <- m.certPositive
	ch <- m.certNegative
	ch <- m.certInfoSize
}

func (m *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := m.cache.Stats()

	ch <- prometheus.MustNewConstMetric(m.blocksTotal, prometheus.GaugeValue, float64(snap.BlocksTotal))
	ch <- prometheus.MustNewConstMetric(m.blocksUsed, prometheus.GaugeValue, float64(snap.BlocksUsed))
	ch <- prometheus.MustNewConstMetric(m.blocksWarm, prometheus.GaugeValue, float64(snap.BlocksWarm))
	ch <- prometheus.MustNewConstMetric(m.blocksHot, prometheus.GaugeValue, float64(snap.BlocksHot))
	ch <- prometheus.MustNewConstMetric(m.readRequests, prometheus.CounterValue, float64(snap.ReadRequests))
	ch <- prometheus.MustNewConstMetric(m.readMisses, prometheus.CounterValue, float64(snap.ReadMisses))
	ch <- prometheus.MustNewConstMetric(m.writeRequests, prometheus.CounterValue, float64(snap.WriteRequests))
	ch <- prometheus.MustNewConstMetric(m.writeIOs, prometheus.CounterValue, float64(snap.WriteIOs))
	ch <- prometheus.MustNewConstMetric(m.flushes, prometheus.CounterValue, float64(snap.Flushes))
	ch <- prometheus.MustNewConstMetric(m.flushFailures, prometheus.CounterValue, float64(snap.FlushFailures))
	ch <- prometheus.MustNewConstMetric(m.evictions, prometheus.CounterValue, float64(snap.Evictions))
	ch <- prometheus.MustNewConstMetric(m.errors, prometheus.CounterValue, float64(snap.Errors))
	ch <- prometheus.MustNewConstMetric(m.hitRatio, prometheus.GaugeValue, snap.HitRatio)
	ch <- prometheus.MustNewConstMetric(m.canBeUsed, prometheus.GaugeValue, boolToFloat(snap.CanBeUsed))

	if m.certifier != nil {
		cstats := m.certifier.Stats()
		ch <- prometheus.MustNewConstMetric(m.certPositive, prometheus.CounterValue, float64(cstats.PositiveCertified))
		ch <- prometheus.MustNewConstMetric(m.certNegative, prometheus.CounterValue, float64(cstats.NegativeCertified))
		ch <- prometheus.MustNewConstMetric(m.certInfoSize, prometheus.GaugeValue, float64(cstats.CertificationInfoSize))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
