// Package metrics holds the Prometheus collectors for frame traffic.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"poi-controller/internal/protocol"
)

// Drop reasons used as the "reason" label.
const (
	ReasonUnknownAction    = "unknown_action"
	ReasonMalformedPayload = "malformed_payload"
	ReasonTransport        = "transport"
)

// Metrics groups the frame counters. Use New for a private registry in tests.
type Metrics struct {
	Registry      *prometheus.Registry
	FramesDecoded *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
	FramesSent    *prometheus.CounterVec
	LinkConnected prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poi",
			Name:      "frames_decoded_total",
			Help:      "Frames decoded and dispatched, by action.",
		}, []string{"action"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poi",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped before dispatch, by reason.",
		}, []string{"reason"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poi",
			Name:      "frames_sent_total",
			Help:      "Frames written to the poi link, by action.",
		}, []string{"action"}),
		LinkConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "poi",
			Name:      "link_connected",
			Help:      "1 while the poi link is up.",
		}),
	}
	m.Registry.MustRegister(m.FramesDecoded, m.FramesDropped, m.FramesSent, m.LinkConnected)
	return m
}

// ObserveDecoded counts a dispatched command.
func (m *Metrics) ObserveDecoded(a protocol.Action) {
	m.FramesDecoded.WithLabelValues(a.String()).Inc()
}

// ObserveSent counts a command written to the link.
func (m *Metrics) ObserveSent(a protocol.Action) {
	m.FramesSent.WithLabelValues(a.String()).Inc()
}

// ObserveDropped counts a dropped frame, classifying err.
func (m *Metrics) ObserveDropped(err error) {
	m.FramesDropped.WithLabelValues(DropReason(err)).Inc()
}

// SetConnected updates the link gauge.
func (m *Metrics) SetConnected(up bool) {
	if up {
		m.LinkConnected.Set(1)
	} else {
		m.LinkConnected.Set(0)
	}
}

// DropReason maps a decode error to its label value.
func DropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownAction):
		return ReasonUnknownAction
	case errors.Is(err, protocol.ErrMalformedPayload):
		return ReasonMalformedPayload
	default:
		return ReasonTransport
	}
}
