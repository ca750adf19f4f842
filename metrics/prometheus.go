package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsCollector exports the collection counters of every instance.
// The counters wrap, which Prometheus treats as a counter reset.
type StatsCollector struct {
	stats   StatsSource
	success *prometheus.Desc
	failure *prometheus.Desc
}

func NewStatsCollector(stats StatsSource) *StatsCollector {
	return &StatsCollector{
		stats: stats,
		success: prometheus.NewDesc("cmcd_collections_success_total",
			"Collection cycles that delivered every sample", []string{"instance"}, nil),
		failure: prometheus.NewDesc("cmcd_collections_failure_total",
			"Collection cycles that failed", []string{"instance"}, nil),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.success
	ch <- c.failure
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.stats.Snapshot()
	for _, name := range snapshot.Names() {
		counts := snapshot[name]
		ch <- prometheus.MustNewConstMetric(c.success, prometheus.CounterValue, float64(counts.Successes), name)
		ch <- prometheus.MustNewConstMetric(c.failure, prometheus.CounterValue, float64(counts.Failures), name)
	}
}

// Handler serves the collection counters and the go runtime metrics
// of this process.
func Handler(stats StatsSource) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewStatsCollector(stats),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
