// Package metrics holds the bridge's Prometheus collectors. Everything is
// registered on a package registry exposed through Handler for the API mux.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// BytesStreamed counts bytes delivered to recording sinks, by consumer kind.
	BytesStreamed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerbridge_bytes_streamed_total",
		Help: "Bytes delivered to recording destinations.",
	}, []string{"consumer"})

	// ActiveRecordings tracks the number of running consumer engines.
	ActiveRecordings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tunerbridge_active_recordings",
		Help: "Consumer engines currently streaming.",
	})

	// Switches counts successful mid-recording destination switches.
	Switches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunerbridge_switches_total",
		Help: "Successful mid-recording destination switches.",
	})

	// UploadReconnects counts reconnect-and-resume cycles on upload sessions.
	UploadReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunerbridge_upload_reconnects_total",
		Help: "Upload sessions reopened after a broken connection.",
	})

	// ProbesSent counts discovery probe datagrams sent.
	ProbesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunerbridge_discovery_probes_sent_total",
		Help: "HDHomeRun discovery probe datagrams sent.",
	})

	// RepliesReceived counts valid discovery replies.
	RepliesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunerbridge_discovery_replies_total",
		Help: "Valid HDHomeRun discovery replies received.",
	})

	// MalformedReplies counts datagrams dropped for bad CRC or framing.
	MalformedReplies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunerbridge_discovery_malformed_total",
		Help: "Discovery datagrams dropped for bad CRC or framing.",
	})

	// DevicesDiscovered tracks physical devices currently in the registry.
	DevicesDiscovered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tunerbridge_devices_discovered",
		Help: "Physical tuner devices currently registered.",
	})
)

func init() {
	registry.MustRegister(
		BytesStreamed,
		ActiveRecordings,
		Switches,
		UploadReconnects,
		ProbesSent,
		RepliesReceived,
		MalformedReplies,
		DevicesDiscovered,
	)
}

// Handler returns the HTTP handler serving the package registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
