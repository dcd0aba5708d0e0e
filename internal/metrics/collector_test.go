package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("testns", prometheus.NewRegistry(), zap.NewNop())
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	require.NotNil(t, c)
	assert.NotNil(t, c.executionsTotal)
	assert.NotNil(t, c.executionDuration)
	assert.NotNil(t, c.stepsTotal)
	assert.NotNil(t, c.busPublished)
	assert.NotNil(t, c.httpRequestsTotal)
}

func TestCollector_NilIsNoOp(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.RecordExecutionStarted()
	c.RecordExecution("wf", "completed", time.Second)
	c.RecordStep("wf", "step", "success", time.Millisecond)
	c.RecordStepRetry("wf", "step")
	c.RecordBusPublish()
	c.RecordBusDelivery(true)
	c.SetBusHistorySize(3)
	c.SetRegisteredAgents(2)
	c.RecordHTTPRequest("GET", "/healthz", 200, time.Millisecond, 64)
	c.WSClientConnected()
	c.WSClientDisconnected()
}

func TestCollector_RecordExecution(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	c.RecordExecutionStarted()
	c.RecordExecutionStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(c.executionsActive))

	c.RecordExecution("halal-certification", "completed", 150*time.Millisecond)
	c.RecordExecution("halal-certification", "failed", 20*time.Millisecond)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.executionsTotal.WithLabelValues("halal-certification", "completed")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.executionsTotal.WithLabelValues("halal-certification", "failed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.executionsActive))
}

func TestCollector_RecordStep(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	c.RecordStep("wf", "review", "success", 30*time.Millisecond)
	c.RecordStep("wf", "certify", "skipped", 0)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.stepsTotal.WithLabelValues("wf", "review", "success")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.stepsTotal.WithLabelValues("wf", "certify", "skipped")))

	// Skipped steps contribute no duration sample.
	assert.Equal(t, 1, testutil.CollectAndCount(c.stepDuration))
}

func TestCollector_RecordStepRetry(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	c.RecordStepRetry("wf", "review")
	c.RecordStepRetry("wf", "review")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.stepRetriesTotal.WithLabelValues("wf", "review")))
}

func TestCollector_BusInstruments(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	c.RecordBusPublish()
	c.RecordBusPublish()
	c.RecordBusDelivery(true)
	c.RecordBusDelivery(false)
	c.SetBusHistorySize(42)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.busPublished))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.busDelivered))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.busDeliveryErrors))
	assert.Equal(t, float64(42), testutil.ToFloat64(c.busHistorySize))
}

func TestCollector_RegistryGauge(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	c.SetRegisteredAgents(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(c.registeredAgents))

	c.SetRegisteredAgents(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(c.registeredAgents))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/api/v1/workflows", 200, 5*time.Millisecond, 512)
	c.RecordHTTPRequest("GET", "/api/v1/workflows", 404, 2*time.Millisecond, 48)
	c.RecordHTTPRequest("POST", "/api/v1/workflows/x/execute", 500, 10*time.Millisecond, 96)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/workflows", "2xx")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/workflows", "4xx")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/workflows/x/execute", "5xx")))
}

func TestCollector_WSClients(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	c.WSClientConnected()
	c.WSClientConnected()
	c.WSClientDisconnected()

	assert.Equal(t, float64(1), testutil.ToFloat64(c.wsClients))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordExecutionStarted()
			c.RecordExecution("wf", "completed", time.Millisecond)
			c.RecordStep("wf", "step", "success", time.Millisecond)
			c.RecordBusPublish()
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(10),
		testutil.ToFloat64(c.executionsTotal.WithLabelValues("wf", "completed")))
	assert.Equal(t, float64(10), testutil.ToFloat64(c.busPublished))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.executionsActive))
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(301))
	assert.Equal(t, "4xx", statusClass(418))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "unknown", statusClass(101))
}
