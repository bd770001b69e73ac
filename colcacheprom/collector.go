// Package colcacheprom exports colcache.Stats as Prometheus counters.
package colcacheprom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/andreyvit/colcache"
)

type counter struct {
	desc  *prometheus.Desc
	value func(s colcache.StatsSnapshot) uint64
}

type collector struct {
	stats    *colcache.Stats
	counters []counter
}

// NewCollector returns a collector reading stats on every scrape. Several
// Envs may share one Stats to be reported together.
func NewCollector(namespace string, stats *colcache.Stats) prometheus.Collector {
	if stats == nil {
		panic("colcacheprom: nil stats")
	}
	newCounter := func(name, help string, value func(s colcache.StatsSnapshot) uint64) counter {
		return counter{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name+"_total"), help, nil, nil),
			value: value,
		}
	}
	return &collector{
		stats: stats,
		counters: []counter{
			newCounter("writes", "Number of values written by users and compute routines.",
				func(s colcache.StatsSnapshot) uint64 { return s.Writes }),
			newCounter("bulk_loaded", "Number of values bulk-loaded into the cache.",
				func(s colcache.StatsSnapshot) uint64 { return s.BulkLoaded }),
			newCounter("recomputes", "Number of compute routine invocations.",
				func(s colcache.StatsSnapshot) uint64 { return s.Recomputes }),
			newCounter("recomputed_records", "Number of records passed to compute routines.",
				func(s colcache.StatsSnapshot) uint64 { return s.RecomputedRecords }),
			newCounter("loads", "Number of completed backend loads.",
				func(s colcache.StatsSnapshot) uint64 { return s.Loads }),
			newCounter("flushes", "Number of completed flushes.",
				func(s colcache.StatsSnapshot) uint64 { return s.Flushes }),
			newCounter("flushed_values", "Number of values handed to the backend by flushes.",
				func(s colcache.StatsSnapshot) uint64 { return s.FlushedValues }),
		},
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, ctr := range c.counters {
		ch <- ctr.desc
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	for _, ctr := range c.counters {
		ch <- prometheus.MustNewConstMetric(ctr.desc, prometheus.CounterValue, float64(ctr.value(snap)))
	}
}
