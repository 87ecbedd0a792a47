package metrics

import (
	"fmt"
	"time"

	"github.com/tradingiq/prediction-client/types"
	"github.com/tradingiq/prediction-client/websocket"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace = "realtime"
	unknownType      = "unknown"
)

var states = []string{"idle", "connecting", "open", "reconnecting", "closing"}

// Config contains metrics configuration.
type Config struct {
	// Namespace prefixes every metric. Defaults to "realtime".
	Namespace string
	// ConstLabels are added to all metrics, e.g. the endpoint name.
	ConstLabels map[string]string
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

var _ websocket.Metrics = (*Collector)(nil)

// Collector implements websocket.Metrics on top of Prometheus.
type Collector struct {
	messagesReceived  *prometheus.CounterVec
	messagesSent      *prometheus.CounterVec
	parseErrors       prometheus.Counter
	reconnectAttempts prometheus.Counter
	reconnectDelay    prometheus.Histogram
	connectionState   *prometheus.GaugeVec
}

func NewCollector(cfg Config) (*Collector, error) {
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}
	constLabels := prometheus.Labels(cfg.ConstLabels)

	c := &Collector{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "messages_received_total",
			Help:        "Inbound messages by envelope type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "messages_sent_total",
			Help:        "Outbound messages by type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "parse_errors_total",
			Help:        "Inbound messages that could not be parsed.",
			ConstLabels: constLabels,
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reconnect_attempts_total",
			Help:        "Scheduled reconnect attempts.",
			ConstLabels: constLabels,
		}),
		reconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "reconnect_delay_seconds",
			Help:        "Backoff delay before each reconnect attempt.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.5, 1, 2, 4, 8, 16, 30},
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connection_state",
			Help:        "1 for the current connection state, 0 otherwise.",
			ConstLabels: constLabels,
		}, []string{"state"}),
	}

	for _, collector := range []prometheus.Collector{
		c.messagesReceived,
		c.messagesSent,
		c.parseErrors,
		c.reconnectAttempts,
		c.reconnectDelay,
		c.connectionState,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	c.StateChanged("idle")
	return c, nil
}

// MessageReceived counts inbound messages. Types the client does not know
// are counted as "unknown" so the label set stays bounded.
func (c *Collector) MessageReceived(msgType string) {
	if types.EventForMessage(msgType) == types.EventMessage {
		msgType = unknownType
	}
	c.messagesReceived.WithLabelValues(msgType).Inc()
}

func (c *Collector) MessageSent(msgType string) {
	c.messagesSent.WithLabelValues(msgType).Inc()
}

func (c *Collector) ParseError() {
	c.parseErrors.Inc()
}

func (c *Collector) ReconnectScheduled(_ int, delay time.Duration) {
	c.reconnectAttempts.Inc()
	c.reconnectDelay.Observe(delay.Seconds())
}

func (c *Collector) StateChanged(state string) {
	for _, s := range states {
		value := 0.0
		if s == state {
			value = 1
		}
		c.connectionState.WithLabelValues(s).Set(value)
	}
}
