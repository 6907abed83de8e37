// Package metrics provides Prometheus instrumentation for the DFX
// client: inbound frame counts per class, delivered chunks, upload acks
// by status, and transport failures.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deepaffex/dfx/pkg/protocol"
)

// Config configures the metrics set.
type Config struct {
	// Namespace is the metrics namespace (default: "dfx").
	Namespace string

	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the metrics set.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "dfx",
		Subsystem: "client",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the client's Prometheus collectors. A nil *Metrics is a
// valid no-op receiver, so instrumentation can be left unwired.
type Metrics struct {
	framesReceived  *prometheus.CounterVec
	chunksDelivered prometheus.Counter
	uploadAcks      *prometheus.CounterVec
	transportErrors prometheus.Counter
	unknownSenders  prometheus.Counter
	rotations       prometheus.Counter
}

// New registers and returns the client metrics set.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_received_total",
			Help:        "Inbound websocket messages by classification",
			ConstLabels: config.ConstLabels,
		}, []string{"class"}),

		chunksDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "chunks_delivered_total",
			Help:        "Result chunks delivered to sinks",
			ConstLabels: config.ConstLabels,
		}),

		uploadAcks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "upload_acks_total",
			Help:        "Chunk upload acknowledgements by status code",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		transportErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "transport_errors_total",
			Help:        "Fatal websocket transport failures",
			ConstLabels: config.ConstLabels,
		}),

		unknownSenders: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "unknown_sender_messages_total",
			Help:        "Messages received from unrecognized senders",
			ConstLabels: config.ConstLabels,
		}),

		rotations: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "measurement_rotations_total",
			Help:        "Measurements recreated after MEASUREMENT_CLOSED",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// FrameReceived records one classified inbound message.
func (m *Metrics) FrameReceived(class protocol.Class) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(class.String()).Inc()
}

// ChunkDelivered records one result chunk pushed to a sink.
func (m *Metrics) ChunkDelivered() {
	if m == nil {
		return
	}
	m.chunksDelivered.Inc()
}

// UploadAck records one add-data acknowledgement.
func (m *Metrics) UploadAck(status int) {
	if m == nil {
		return
	}
	m.uploadAcks.WithLabelValues(strconv.Itoa(status)).Inc()
}

// TransportError records a fatal socket failure.
func (m *Metrics) TransportError() {
	if m == nil {
		return
	}
	m.transportErrors.Inc()
}

// UnknownSender records a message from an unrecognized sender.
func (m *Metrics) UnknownSender() {
	if m == nil {
		return
	}
	m.unknownSenders.Inc()
}

// Rotation records one measurement rotation.
func (m *Metrics) Rotation() {
	if m == nil {
		return
	}
	m.rotations.Inc()
}
