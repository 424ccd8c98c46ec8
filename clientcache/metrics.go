/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package clientcache

import "github.com/prometheus/client_golang/prometheus"

// cacheMetrics mirrors the cache counters in Prometheus. A nil *cacheMetrics
// records nothing.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(reg prometheus.Registerer, prefix string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"cache": prefix}
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tablestore",
			Subsystem:   "client_cache",
			Name:        "hits_total",
			ConstLabels: labels,
			Help:        "Total number of table client cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tablestore",
			Subsystem:   "client_cache",
			Name:        "misses_total",
			ConstLabels: labels,
			Help:        "Total number of table client cache misses",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tablestore",
			Subsystem:   "client_cache",
			Name:        "evictions_total",
			ConstLabels: labels,
			Help:        "Total number of table clients evicted",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "tablestore",
			Subsystem:   "client_cache",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of cached table clients",
		}),
	}

	for _, c := range []prometheus.Collector{m.hits, m.misses, m.evictions, m.size} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *cacheMetrics) recordHit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *cacheMetrics) recordMiss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *cacheMetrics) recordEviction() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *cacheMetrics) updateSize(size int) {
	if m != nil {
		m.size.Set(float64(size))
	}
}
