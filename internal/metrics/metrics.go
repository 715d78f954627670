package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// detector metrics
	DetectorEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crash_detector_evaluations_total",
		Help: "Detector evaluations by outcome reason",
	}, []string{"reason"})

	// session metrics
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crash_session_state_transitions_total",
		Help: "Detection state machine transitions",
	}, []string{"from", "to"})

	// capture metrics
	Captures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crash_evidence_captures_total",
		Help: "Evidence capture sequences by outcome",
	}, []string{"outcome"})

	CaptureDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crash_evidence_capture_delay_seconds",
		Help:    "Elapsed time from alert emission to completed acquisition",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	})

	DegradedEvidence = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crash_evidence_degraded_total",
		Help: "Evidence components recorded as null or sentinel values",
	}, []string{"component"})

	// dispatch and queue metrics
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crash_dispatch_total",
		Help: "Outbound dispatch attempts by kind and outcome",
	}, []string{"kind", "outcome"})

	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crash_queue_length",
		Help: "Items waiting in the durability queue",
	})

	QueueExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_queue_exhausted_total",
		Help: "Queued items removed after exhausting their retry budget",
	})

	// motion intake metrics
	MotionSamplesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_motion_samples_received_total",
		Help: "Motion samples accepted from the sensor bridge",
	})

	MotionSamplesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_motion_samples_dropped_total",
		Help: "Motion samples dropped because the session was not keeping up",
	})

	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crash_dispatch_channel_online",
		Help: "1 when the dispatch channel is reachable",
	})
)
