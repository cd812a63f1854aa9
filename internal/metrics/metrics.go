package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

/*
Metrics Types:

- Gauge: A value that goes up and down. Used for the number of peers
  currently connected to the relay.

- CounterVec: A counter with labels. Useful to track things like
  relayed vs. dropped frames per message type, or accepted vs.
  duplicate votes per question.

- Histogram: Tracks the distribution of a value, such as
  tally latency per audit record.

Registration:
Metrics are registered against the Registerer handed to the
constructor. Production passes prometheus.DefaultRegisterer;
tests pass a fresh prometheus.NewRegistry() so constructors can
run more than once per process.
*/

// Drop reasons used with RelayMetrics.Dropped.
const (
	DropMalformed   = "malformed"
	DropUnknownType = "unknown_type"
	DropSlowPeer    = "slow_peer"
)

type RelayMetrics struct {
	Peers    prometheus.Gauge
	Received *prometheus.CounterVec
	Relayed  *prometheus.CounterVec
	Dropped  *prometheus.CounterVec
}

func NewRelayMetrics(reg prometheus.Registerer, namespace string) *RelayMetrics {
	f := promauto.With(reg)
	return &RelayMetrics{
		Peers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "connected_peers",
				Help:      "Number of peers currently connected to the relay",
			},
		),
		Received: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "frames_received_total",
				Help:      "Well-formed frames received from peers",
			},
			[]string{"type"},
		),
		Relayed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "frames_relayed_total",
				Help:      "Frames queued for delivery to other peers (one per recipient)",
			},
			[]string{"type"},
		),
		Dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "frames_dropped_total",
				Help:      "Frames dropped instead of relayed",
			},
			[]string{"reason"},
		),
	}
}

type TallyMetrics struct {
	VotesAccepted  *prometheus.CounterVec
	VotesDuplicate *prometheus.CounterVec
	VotesInvalid   prometheus.Counter
	ProcessingTime prometheus.Histogram
}

func NewTallyMetrics(reg prometheus.Registerer, namespace string) *TallyMetrics {
	f := promauto.With(reg)
	return &TallyMetrics{
		VotesAccepted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tally",
				Name:      "votes_accepted_total",
				Help:      "Vote updates from a first-time voter on the question",
			},
			[]string{"question_id"},
		),
		VotesDuplicate: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tally",
				Name:      "votes_duplicate_total",
				Help:      "Vote updates from an identity that already voted on the question",
			},
			[]string{"question_id"},
		),
		VotesInvalid: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tally",
				Name:      "votes_invalid_total",
				Help:      "Vote updates with inconsistent counts or unparseable identity",
			},
		),
		ProcessingTime: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "tally",
				Name:      "record_processing_seconds",
				Help:      "Histogram of audit record processing times",
				Buckets:   prometheus.LinearBuckets(0.001, 0.001, 10), // 10 buckets, 1ms to 10ms
			},
		),
	}
}
