package statetree

import (
	"github.com/prometheus/client_golang/prometheus"
)

type NetworkCollector struct {
	net *Network

	// Prometheus descriptors for tracking state
	trackedContainers *prometheus.Desc
	digests           *prometheus.Desc

	// Prometheus descriptors for replication traffic
	appliedCommits  *prometheus.Desc
	rejectedCommits *prometheus.Desc
	emittedDeltas   *prometheus.Desc
	flushSize       *prometheus.Desc
}

func NewNetworkCollector(net *Network) *NetworkCollector {
	return &NetworkCollector{
		net: net,

		// Tracking state
		trackedContainers: prometheus.NewDesc(
			"statetree_tracked_containers",
			"Number of distinct container ids reachable from the network root",
			nil, nil,
		),
		digests: prometheus.NewDesc(
			"statetree_digests",
			"Number of live digests",
			nil, nil,
		),

		// Replication traffic
		appliedCommits: prometheus.NewDesc(
			"statetree_applied_commits_total",
			"Total number of remote commits applied",
			nil, nil,
		),
		rejectedCommits: prometheus.NewDesc(
			"statetree_rejected_commits_total",
			"Total number of remote commits rejected by verification",
			nil, nil,
		),
		emittedDeltas: prometheus.NewDesc(
			"statetree_emitted_deltas_total",
			"Total number of deltas handed to digest callbacks",
			nil, nil,
		),
		flushSize: prometheus.NewDesc(
			"statetree_digest_flush_deltas_avg",
			"Average number of deltas in one non-empty digest flush",
			nil, nil,
		),
	}
}

func (nc *NetworkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- nc.trackedContainers
	ch <- nc.digests

	ch <- nc.appliedCommits
	ch <- nc.rejectedCommits
	ch <- nc.emittedDeltas
	ch <- nc.flushSize
}

// Collect reads atomic counters only, so scraping from another goroutine
// is safe.
func (nc *NetworkCollector) Collect(ch chan<- prometheus.Metric) {
	stats := &nc.net.stats

	ch <- prometheus.MustNewConstMetric(
		nc.trackedContainers,
		prometheus.GaugeValue,
		float64(stats.tracked.Load()),
	)
	ch <- prometheus.MustNewConstMetric(
		nc.digests,
		prometheus.GaugeValue,
		float64(stats.digests.Load()),
	)

	ch <- prometheus.MustNewConstMetric(
		nc.appliedCommits,
		prometheus.CounterValue,
		float64(stats.applied.Load()),
	)
	ch <- prometheus.MustNewConstMetric(
		nc.rejectedCommits,
		prometheus.CounterValue,
		float64(stats.rejected.Load()),
	)
	ch <- prometheus.MustNewConstMetric(
		nc.emittedDeltas,
		prometheus.CounterValue,
		float64(stats.deltas.Load()),
	)
	ch <- prometheus.MustNewConstMetric(
		nc.flushSize,
		prometheus.GaugeValue,
		stats.flushSize.Val(),
	)
}
