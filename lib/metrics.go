package lib

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* This file implements dev-ops telemetry for the process in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Metrics represents a server that exposes Prometheus metrics
// A nil *Metrics is valid: every update is a no-op
type Metrics struct {
	server   *http.Server         // the http prometheus server
	registry *prometheus.Registry // a registry private to this process so tests may create many
	config   MetricsConfig        // the configuration
	log      LoggerI              // the logger

	LinkMetrics      // perfect link telemetry
	BroadcastMetrics // broadcast layer telemetry
}

// LinkMetrics represents the telemetry for the perfect link
type LinkMetrics struct {
	FramesSent    prometheus.Counter   // how many data frames were transmitted for the first time?
	Retransmitted prometheus.Counter   // how many data frames were retransmitted?
	FramesRecv    prometheus.Counter   // how many data frames were received?
	Duplicates    prometheus.Counter   // how many received data frames were already delivered?
	AcksRecv      prometheus.Counter   // how many acknowledgements cleared a pending frame?
	Dropped       prometheus.Counter   // how many malformed or foreign datagrams were dropped?
	PendingFrames prometheus.Gauge     // how many frames are waiting for an acknowledgement?
	PeerTimeout   *prometheus.GaugeVec // what's the retransmission timeout of each peer?
}

// BroadcastMetrics represents the telemetry for the broadcast layers
type BroadcastMetrics struct {
	Broadcasts *prometheus.CounterVec // how many messages did this process broadcast?
	Deliveries *prometheus.CounterVec // how many messages did this process deliver?
	Buffered   *prometheus.GaugeVec   // how many received messages wait for an ordering condition?
}

// NewMetricsServer() creates a new telemetry server for a process
func NewMetricsServer(id ProcessID, config MetricsConfig, log LoggerI) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	labels := prometheus.Labels{"process": strconv.Itoa(int(id))}
	mux := http.NewServeMux()
	mux.Handle(metricsPattern, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return &Metrics{
		server:   &http.Server{Addr: config.PrometheusAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		registry: registry,
		config:   config,
		log:      log,
		LinkMetrics: LinkMetrics{
			FramesSent: factory.NewCounter(prometheus.CounterOpts{
				Name:        "layercast_link_frames_sent",
				Help:        "Data frames transmitted for the first time",
				ConstLabels: labels,
			}),
			Retransmitted: factory.NewCounter(prometheus.CounterOpts{
				Name:        "layercast_link_frames_retransmitted",
				Help:        "Data frames retransmitted after a timeout",
				ConstLabels: labels,
			}),
			FramesRecv: factory.NewCounter(prometheus.CounterOpts{
				Name:        "layercast_link_frames_received",
				Help:        "Data frames received",
				ConstLabels: labels,
			}),
			Duplicates: factory.NewCounter(prometheus.CounterOpts{
				Name:        "layercast_link_duplicates",
				Help:        "Received data frames that were already delivered",
				ConstLabels: labels,
			}),
			AcksRecv: factory.NewCounter(prometheus.CounterOpts{
				Name:        "layercast_link_acks_received",
				Help:        "Acknowledgements that cleared a pending frame",
				ConstLabels: labels,
			}),
			Dropped: factory.NewCounter(prometheus.CounterOpts{
				Name:        "layercast_link_dropped",
				Help:        "Malformed or foreign datagrams dropped",
				ConstLabels: labels,
			}),
			PendingFrames: factory.NewGauge(prometheus.GaugeOpts{
				Name:        "layercast_link_pending_frames",
				Help:        "Frames waiting for an acknowledgement",
				ConstLabels: labels,
			}),
			PeerTimeout: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name:        "layercast_link_peer_timeout_seconds",
				Help:        "Current retransmission timeout per peer",
				ConstLabels: labels,
			}, []string{"peer"}),
		},
		BroadcastMetrics: BroadcastMetrics{
			Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
				Name:        "layercast_broadcasts",
				Help:        "Messages broadcast by this process",
				ConstLabels: labels,
			}, []string{"layer"}),
			Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
				Name:        "layercast_deliveries",
				Help:        "Messages delivered by this process",
				ConstLabels: labels,
			}, []string{"layer"}),
			Buffered: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name:        "layercast_buffered",
				Help:        "Received messages waiting for an ordering condition",
				ConstLabels: labels,
			}, []string{"layer"}),
		},
	}
}

// Start() starts the telemetry server
func (m *Metrics) Start() {
	// exit if empty
	if m == nil {
		return
	}
	// if the metrics server is enabled
	if m.config.MetricsEnabled {
		go func() {
			m.log.Infof("Starting metrics server on %s", m.config.PrometheusAddress)
			// run the server
			if err := m.server.ListenAndServe(); err != nil {
				if err != http.ErrServerClosed {
					m.log.Errorf("Metrics server failed with err: %s", err.Error())
				}
			}
		}()
	}
}

// Stop() gracefully stops the telemetry server
func (m *Metrics) Stop() {
	// exit if empty
	if m == nil {
		return
	}
	// if the metrics server is enabled
	if m.config.MetricsEnabled {
		// shutdown the server
		if err := m.server.Shutdown(context.Background()); err != nil {
			m.log.Error(err.Error())
		}
	}
}

// Gather() exposes the collected samples, used by tests and the status endpoint
func (m *Metrics) Gather() (map[string]float64, error) {
	out := make(map[string]float64)
	if m == nil {
		return out, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				out[f.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[f.GetName()] += metric.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}

// LINK UPDATES BELOW

// UpdateFrameSent() counts a transmitted data frame
func (m *Metrics) UpdateFrameSent(retransmission bool) {
	// exit if empty
	if m == nil {
		return
	}
	if retransmission {
		m.Retransmitted.Inc()
		return
	}
	m.FramesSent.Inc()
}

// UpdateFrameReceived() counts a received data frame
func (m *Metrics) UpdateFrameReceived(duplicate bool) {
	// exit if empty
	if m == nil {
		return
	}
	m.FramesRecv.Inc()
	if duplicate {
		m.Duplicates.Inc()
	}
}

// UpdateAck() counts an acknowledgement that cleared a pending frame
func (m *Metrics) UpdateAck() {
	// exit if empty
	if m == nil {
		return
	}
	m.AcksRecv.Inc()
}

// UpdateDropped() counts a dropped datagram
func (m *Metrics) UpdateDropped() {
	// exit if empty
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

// UpdatePending() sets the number of unacknowledged frames
func (m *Metrics) UpdatePending(count int) {
	// exit if empty
	if m == nil {
		return
	}
	m.PendingFrames.Set(float64(count))
}

// UpdatePeerTimeout() sets the retransmission timeout of a peer
func (m *Metrics) UpdatePeerTimeout(peer ProcessID, timeout time.Duration) {
	// exit if empty
	if m == nil {
		return
	}
	m.PeerTimeout.WithLabelValues(strconv.Itoa(int(peer))).Set(timeout.Seconds())
}

// BROADCAST UPDATES BELOW

// UpdateBroadcast() counts a local broadcast on a layer
func (m *Metrics) UpdateBroadcast(layer string) {
	// exit if empty
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(layer).Inc()
}

// UpdateDelivery() counts a delivery on a layer
func (m *Metrics) UpdateDelivery(layer string) {
	// exit if empty
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(layer).Inc()
}

// UpdateBuffered() sets the size of a layer's ordering buffer
func (m *Metrics) UpdateBuffered(layer string, count int) {
	// exit if empty
	if m == nil {
		return
	}
	m.Buffered.WithLabelValues(layer).Set(float64(count))
}
