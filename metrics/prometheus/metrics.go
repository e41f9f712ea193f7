// Package prometheus provides Prometheus collectors for realtime sessions.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "realtime"

// Label values shared by callers.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	CaptureSent    = "sent"
	CaptureDropped = "dropped"
	CaptureFailed  = "failed"

	PlaybackPlayed    = "played"
	PlaybackDiscarded = "discarded"
	PlaybackFailed    = "failed"

	ReasonUserSpeech = "user_speech"
	ReasonTextInput  = "text_input"
	ReasonExplicit   = "explicit"
	ReasonStop       = "stop"
)

var (
	// inboundEventsTotal counts server events by type.
	inboundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Total number of server events received",
		},
		[]string{"type"},
	)

	// outboundEventsTotal counts client events by type and outcome.
	outboundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_events_total",
			Help:      "Total number of client events sent",
		},
		[]string{"type", "status"}, // status: success, error
	)

	// sendDuration is a histogram of transport write latency.
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Duration of client event writes in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"type"},
	)

	// captureBuffersTotal counts captured buffers by outcome.
	captureBuffersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_buffers_total",
			Help:      "Total number of captured audio buffers by outcome",
		},
		[]string{"status"}, // status: sent, dropped, failed
	)

	// playbackSegmentsTotal counts playback segments by outcome.
	playbackSegmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_total",
			Help:      "Total number of playback segments by outcome",
		},
		[]string{"status"}, // status: played, discarded, failed
	)

	// interruptionsTotal counts playback interruptions by reason.
	interruptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Total number of playback interruptions",
		},
		[]string{"reason"},
	)

	// serverErrorsTotal counts server error events by error type.
	serverErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_errors_total",
			Help:      "Total number of error events reported by the server",
		},
		[]string{"type"},
	)

	// sessionsConnected is a gauge of sessions currently connected.
	sessionsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_connected",
			Help:      "Number of currently connected sessions",
		},
	)

	// connectDuration measures time from dial to session.created.
	connectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Time from dialing until the session is established",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)

// allMetrics lists every collector registered by NewExporter.
var allMetrics = []prometheus.Collector{
	inboundEventsTotal,
	outboundEventsTotal,
	sendDuration,
	captureBuffersTotal,
	playbackSegmentsTotal,
	interruptionsTotal,
	serverErrorsTotal,
	sessionsConnected,
	connectDuration,
}

// RecordInboundEvent counts a received server event.
func RecordInboundEvent(eventType string) {
	inboundEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordOutboundEvent counts a sent client event and its write latency.
func RecordOutboundEvent(eventType string, err error, elapsed time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	outboundEventsTotal.WithLabelValues(eventType, status).Inc()
	sendDuration.WithLabelValues(eventType).Observe(elapsed.Seconds())
}

// RecordCaptureBuffer counts a captured buffer with the given outcome.
func RecordCaptureBuffer(status string) {
	captureBuffersTotal.WithLabelValues(status).Inc()
}

// RecordPlaybackSegments counts n playback segments with the given outcome.
func RecordPlaybackSegments(status string, n int) {
	if n <= 0 {
		return
	}
	playbackSegmentsTotal.WithLabelValues(status).Add(float64(n))
}

// RecordInterruption counts a playback interruption.
func RecordInterruption(reason string) {
	interruptionsTotal.WithLabelValues(reason).Inc()
}

// RecordServerError counts a server error event.
func RecordServerError(errorType string) {
	serverErrorsTotal.WithLabelValues(errorType).Inc()
}

// SessionConnected adjusts the connected-sessions gauge.
func SessionConnected(connected bool) {
	if connected {
		sessionsConnected.Inc()
	} else {
		sessionsConnected.Dec()
	}
}

// RecordConnect observes the time taken to establish a session.
func RecordConnect(elapsed time.Duration) {
	connectDuration.Observe(elapsed.Seconds())
}
