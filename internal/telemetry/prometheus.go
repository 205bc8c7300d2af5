package telemetry

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const livelookNamespace string = "livelook"

var (
	promRosterSize     prometheus.Gauge
	promConnectedPeers prometheus.Gauge
	promRemoteStreams  prometheus.Gauge
	promRTPPackets     prometheus.Counter
	promReceiverLoss   prometheus.Histogram

	ServiceOperationCounter *prometheus.CounterVec
)

func init() {
	promRosterSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "session",
		Name:      "roster_size",
	})

	promConnectedPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "mesh",
		Name:      "connected_peers",
	})

	promRemoteStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "mesh",
		Name:      "remote_streams",
	})

	promRTPPackets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: livelookNamespace,
		Subsystem: "media",
		Name:      "rtp_packets_received_total",
	})

	promReceiverLoss = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: livelookNamespace,
		Subsystem: "media",
		Name:      "receiver_report_fraction_lost",
		Buckets:   []float64{0, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1},
	})

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: livelookNamespace,
			Subsystem: "participant",
			Name:      "service_operation",
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(promRosterSize)
	prometheus.MustRegister(promConnectedPeers)
	prometheus.MustRegister(promRemoteStreams)
	prometheus.MustRegister(promRTPPackets)
	prometheus.MustRegister(promReceiverLoss)
	prometheus.MustRegister(ServiceOperationCounter)
}

// Operation counts one outcome of an operation type. errorType is free-form
// and only read when err is not nil.
func Operation(kind string, err error, errorType string) {
	if err == nil {
		ServiceOperationCounter.WithLabelValues(kind, "success", "").Inc()
		return
	}
	if errorType == "" {
		errorType = "error"
		if errors.Unwrap(err) != nil {
			errorType = "wrapped"
		}
	}
	ServiceOperationCounter.WithLabelValues(kind, "error", errorType).Inc()
}

func RosterSize(n int) {
	promRosterSize.Set(float64(n))
}

func PeerConnected() {
	promConnectedPeers.Inc()
}

func PeerDisconnected() {
	promConnectedPeers.Dec()
}

func RemoteStreams(n int) {
	promRemoteStreams.Set(float64(n))
}

func RTPPacketReceived() {
	promRTPPackets.Inc()
}

// ReceiverLoss records the fraction lost of a receiver report, given as the 8-bit wire value.
func ReceiverLoss(fractionLost uint8) {
	promReceiverLoss.Observe(float64(fractionLost) / 256)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
