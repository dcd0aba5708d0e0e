package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultNamespace prefixes every instrument unless NewCollector is given
// another one.
const DefaultNamespace = "certflow"

// Collector holds the certflow Prometheus instruments. All Record and Set
// methods are safe on a nil receiver, so components can record without
// checking whether metrics are wired.
type Collector struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	executionsActive  prometheus.Gauge

	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	stepRetriesTotal *prometheus.CounterVec

	busPublished      prometheus.Counter
	busDelivered      prometheus.Counter
	busDeliveryErrors prometheus.Counter
	busHistorySize    prometheus.Gauge

	registeredAgents prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec
	wsClients           prometheus.Gauge

	logger *zap.Logger
}

// NewCollector builds and registers the instruments. An empty namespace
// falls back to DefaultNamespace, a nil registerer to the prometheus
// default registry and a nil logger to a no-op logger.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"workflow_id", "status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"workflow_id"},
	)

	c.executionsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_executions_active",
			Help:      "Number of executions currently running",
		},
	)

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of step outcomes",
		},
		[]string{"workflow_id", "step_id", "status"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Step duration in seconds, including retries",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"workflow_id", "step_id"},
	)

	c.stepRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_step_retries_total",
			Help:      "Total number of step retry attempts past the first",
		},
		[]string{"workflow_id", "step_id"},
	)

	c.busPublished = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_published_total",
			Help:      "Total number of messages accepted by the bus",
		},
	)

	c.busDelivered = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_delivered_total",
			Help:      "Total number of successful handler deliveries",
		},
	)

	c.busDeliveryErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_delivery_errors_total",
			Help:      "Total number of failed handler deliveries",
		},
	)

	c.busHistorySize = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_history_size",
			Help:      "Messages currently held in the bus history ring",
		},
	)

	c.registeredAgents = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_agents",
			Help:      "Number of registered agents",
		},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	c.wsClients = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket event feed clients",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordExecutionStarted marks one more execution in flight.
func (c *Collector) RecordExecutionStarted() {
	if c == nil {
		return
	}
	c.executionsActive.Inc()
}

// RecordExecution records a terminal execution and releases its slot in
// the active gauge.
func (c *Collector) RecordExecution(workflowID, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(workflowID, status).Inc()
	c.executionDuration.WithLabelValues(workflowID).Observe(duration.Seconds())
	c.executionsActive.Dec()
}

// RecordStep records one step outcome. Skipped steps count but do not
// contribute a duration sample.
func (c *Collector) RecordStep(workflowID, stepID, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(workflowID, stepID, status).Inc()
	if status != "skipped" {
		c.stepDuration.WithLabelValues(workflowID, stepID).Observe(duration.Seconds())
	}
}

// RecordStepRetry counts a retry attempt past a step's first.
func (c *Collector) RecordStepRetry(workflowID, stepID string) {
	if c == nil {
		return
	}
	c.stepRetriesTotal.WithLabelValues(workflowID, stepID).Inc()
}

// RecordBusPublish counts a message accepted by the bus.
func (c *Collector) RecordBusPublish() {
	if c == nil {
		return
	}
	c.busPublished.Inc()
}

// RecordBusDelivery counts one handler delivery.
func (c *Collector) RecordBusDelivery(success bool) {
	if c == nil {
		return
	}
	if success {
		c.busDelivered.Inc()
	} else {
		c.busDeliveryErrors.Inc()
	}
}

// SetBusHistorySize tracks the history ring occupancy.
func (c *Collector) SetBusHistorySize(n int) {
	if c == nil {
		return
	}
	c.busHistorySize.Set(float64(n))
}

// SetRegisteredAgents tracks the registry population.
func (c *Collector) SetRegisteredAgents(n int) {
	if c == nil {
		return
	}
	c.registeredAgents.Set(float64(n))
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// WSClientConnected marks one more websocket client on the event feed.
func (c *Collector) WSClientConnected() {
	if c == nil {
		return
	}
	c.wsClients.Inc()
}

// WSClientDisconnected releases a websocket client slot.
func (c *Collector) WSClientDisconnected() {
	if c == nil {
		return
	}
	c.wsClients.Dec()
}

// statusClass folds HTTP status codes into their class label.
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
