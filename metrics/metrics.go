// Package metrics exposes Prometheus collectors for the protocol engine.
//
// All Metrics methods are nil-safe so the engine can run without a
// collector wired in.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures metric registration.
type Config struct {
	// Namespace is the metrics namespace (default: "rfbproto").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures metric registration.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the per-process protocol counters.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	PacketsIn         prometheus.Counter
	PacketsOut        prometheus.Counter
	BytesIn           prometheus.Counter
	BytesOut          prometheus.Counter
	InvalidPackets    prometheus.Counter
}

// New registers and returns the protocol metrics.
func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "rfbproto",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "protocol",
			Name:      "connections_total",
			Help:      "Total number of protocol instances created.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "protocol",
			Name:      "connections_active",
			Help:      "Protocol instances not yet closed.",
		}),
		PacketsIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "protocol",
			Name:      "packets_in_total",
			Help:      "Client messages successfully decoded.",
		}),
		PacketsOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "protocol",
			Name:      "packets_out_total",
			Help:      "Outbound buffers fully flushed.",
		}),
		BytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "protocol",
			Name:      "bytes_in_total",
			Help:      "Bytes read off connections.",
		}),
		BytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "protocol",
			Name:      "bytes_out_total",
			Help:      "Bytes written to connections.",
		}),
		InvalidPackets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "protocol",
			Name:      "invalid_packets_total",
			Help:      "Streams abandoned after a protocol violation.",
		}),
	}
}

// ConnectionOpened records a new protocol instance.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// ConnectionClosed records a completed teardown.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// PacketIn records one decoded client message.
func (m *Metrics) PacketIn() {
	if m == nil {
		return
	}
	m.PacketsIn.Inc()
}

// PacketOut records one fully flushed outbound buffer.
func (m *Metrics) PacketOut() {
	if m == nil {
		return
	}
	m.PacketsOut.Inc()
}

// AddBytesIn records bytes read off the connection.
func (m *Metrics) AddBytesIn(n int) {
	if m == nil {
		return
	}
	m.BytesIn.Add(float64(n))
}

// AddBytesOut records bytes written to the connection.
func (m *Metrics) AddBytesOut(n int) {
	if m == nil {
		return
	}
	m.BytesOut.Add(float64(n))
}

// Invalid records one abandoned stream.
func (m *Metrics) Invalid() {
	if m == nil {
		return
	}
	m.InvalidPackets.Inc()
}
