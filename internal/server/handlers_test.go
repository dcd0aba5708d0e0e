package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/certflow/certflow/config"
	"github.com/certflow/certflow/internal/metrics"
	"github.com/certflow/certflow/testutil"
	"github.com/certflow/certflow/testutil/mocks"
	"github.com/certflow/certflow/workflow"
)

// testAPI bundles an API over a small live engine: two agents and one
// registered two-step certification workflow.
type testAPI struct {
	api    *API
	mux    *http.ServeMux
	engine *workflow.Engine
	reg    *prometheus.Registry
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("testapi", reg, zap.NewNop())

	e := workflow.NewEngine(workflow.Config{}, nil, nil, zap.NewNop(), workflow.WithMetrics(collector))
	t.Cleanup(e.Close)

	require.NoError(t, e.Registry().Register(mocks.NewMockAgent("reviewer", "review").
		WithOutput(map[string]any{"reviewed": true})))
	require.NoError(t, e.Registry().Register(mocks.NewMockAgent("certifier", "certify").
		WithOutput("certificate-123")))

	def, err := workflow.NewBuilder("certification").
		Step("review", "review").Done().
		Step("certify", "certify").Done().
		Build()
	require.NoError(t, err)
	require.NoError(t, e.RegisterWorkflow(def))

	api := NewAPI(e, zap.NewNop(),
		WithMetrics(collector),
		WithGatherer(reg),
		WithVersion("1.2.3-test"))

	return &testAPI{api: api, mux: api.Routes(), engine: e, reg: reg}
}

func (ta *testAPI) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ta.mux.ServeHTTP(rec, req)
	return rec
}

func dataField(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "envelope data should be an object, body: %v", body)
	return data
}

func errorField(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	errInfo, ok := body["error"].(map[string]any)
	require.True(t, ok, "envelope error should be an object, body: %v", body)
	return errInfo
}

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

func TestAPI_ExecuteWorkflow(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/workflows/certification/execute",
		testutil.MustJSON(t, map[string]any{"product": "chocolate"}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])

	data := dataField(t, body)
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, "certification", data["workflow_id"])
	assert.NotEmpty(t, data["execution_id"])

	results := data["results"].(map[string]any)
	assert.Equal(t, "certificate-123", results["certify"])
}

func TestAPI_ExecuteWorkflow_EmptyBody(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/workflows/certification/execute", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeEnvelope(t, rec)["success"])
}

func TestAPI_ExecuteWorkflow_UnknownWorkflow(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/workflows/missing/execute", `{}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "WorkflowNotFound", errorField(t, body)["code"])
}

func TestAPI_ExecuteWorkflow_MalformedBody(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/workflows/certification/execute", `{not json`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ValidationError", errorField(t, decodeEnvelope(t, rec))["code"])
}

func TestAPI_ExecuteWorkflow_Async(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/workflows/certification/execute?async=true", `{}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	data := dataField(t, decodeEnvelope(t, rec))
	executionID, _ := data["execution_id"].(string)
	require.NotEmpty(t, executionID)

	require.Eventually(t, func() bool {
		snap, ok := ta.engine.Execution(executionID)
		return ok && snap.Status == workflow.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAPI_ExecuteWorkflow_AsyncUnknownWorkflow(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/workflows/missing/execute?async=true", `{}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "WorkflowNotFound", errorField(t, decodeEnvelope(t, rec))["code"])
}

func TestAPI_ExecuteWorkflow_WrongMethod(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/workflows/certification/execute", "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// ---------------------------------------------------------------------------
// Executions
// ---------------------------------------------------------------------------

func TestAPI_GetExecution(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/workflows/certification/execute", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	executionID := dataField(t, decodeEnvelope(t, rec))["execution_id"].(string)

	got := ta.do(t, http.MethodGet, "/api/v1/executions/"+executionID, "")
	require.Equal(t, http.StatusOK, got.Code)

	snap := dataField(t, decodeEnvelope(t, got))
	assert.Equal(t, executionID, snap["id"])
	assert.Equal(t, "completed", snap["status"])
	assert.Equal(t, float64(100), snap["progress"])
}

func TestAPI_GetExecution_NotFound(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/executions/exec-does-not-exist", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ExecutionNotFound", errorField(t, decodeEnvelope(t, rec))["code"])
}

func TestAPI_ListExecutions(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	empty := ta.do(t, http.MethodGet, "/api/v1/executions", "")
	require.Equal(t, http.StatusOK, empty.Code)
	data := dataField(t, decodeEnvelope(t, empty))
	assert.Contains(t, data, "active")
	assert.Contains(t, data, "completed")

	rec := ta.do(t, http.MethodPost, "/api/v1/workflows/certification/execute", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	after := ta.do(t, http.MethodGet, "/api/v1/executions?state=completed", "")
	require.Equal(t, http.StatusOK, after.Code)
	data = dataField(t, decodeEnvelope(t, after))
	assert.NotContains(t, data, "active")
	completed := data["completed"].([]any)
	assert.Len(t, completed, 1)
}

func TestAPI_ListExecutions_BadState(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/executions?state=bogus", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ValidationError", errorField(t, decodeEnvelope(t, rec))["code"])
}

func TestAPI_CancelExecution(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	require.NoError(t, ta.engine.Registry().Register(
		mocks.NewMockAgent("slow-worker", "slow").WithDelay(5*time.Second)))
	def, err := workflow.NewBuilder("slow-cert").
		Step("crawl", "slow").Done().
		Build()
	require.NoError(t, err)
	require.NoError(t, ta.engine.RegisterWorkflow(def))

	executionID, err := ta.engine.ExecuteWorkflowAsync("slow-cert", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, ok := ta.engine.Execution(executionID)
		return ok && snap.Status == workflow.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	rec := ta.do(t, http.MethodPost, "/api/v1/executions/"+executionID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := dataField(t, decodeEnvelope(t, rec))
	assert.Equal(t, true, data["cancelled"])

	require.Eventually(t, func() bool {
		snap, ok := ta.engine.Execution(executionID)
		return ok && snap.Status == workflow.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAPI_CancelExecution_NotFound(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/executions/exec-nope/cancel", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ExecutionNotFound", errorField(t, decodeEnvelope(t, rec))["code"])
}

// ---------------------------------------------------------------------------
// Workflows, agents, stats
// ---------------------------------------------------------------------------

func TestAPI_ListWorkflows(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/workflows", "")

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, decodeEnvelope(t, rec))
	assert.Equal(t, float64(1), data["count"])

	workflows := data["workflows"].([]any)
	first := workflows[0].(map[string]any)
	assert.Equal(t, "certification", first["id"])
}

func TestAPI_ListAgents(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/agents", "")

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, decodeEnvelope(t, rec))
	assert.Equal(t, float64(2), data["count"])
	assert.NotContains(t, data, "probes")
}

func TestAPI_ListAgents_WithProbe(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/agents?probe=true", "")

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, decodeEnvelope(t, rec))
	probes := data["probes"].([]any)
	require.Len(t, probes, 2)
	for _, p := range probes {
		assert.Equal(t, true, p.(map[string]any)["healthy"])
	}
}

func TestAPI_Stats(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/workflows/certification/execute", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := ta.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, stats.Code)

	data := dataField(t, decodeEnvelope(t, stats))
	engineStats := data["engine"].(map[string]any)
	assert.GreaterOrEqual(t, engineStats["total_started"].(float64), float64(1))
	assert.Contains(t, data, "bus")
	assert.NotEmpty(t, data["uptime"])
}

// ---------------------------------------------------------------------------
// Health and metrics endpoints
// ---------------------------------------------------------------------------

func TestAPI_Healthz(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.2.3-test", body["version"])
}

func TestAPI_MetricsEndpoint(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/workflows/certification/execute", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	metricsRec := ta.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, metricsRec.Code)

	exposition := metricsRec.Body.String()
	assert.Contains(t, exposition, "testapi_workflow_executions_total")
	assert.Contains(t, exposition, `workflow_id="certification"`)
}

func TestAPI_MetricsRoute_Configurable(t *testing.T) {
	t.Parallel()

	e := workflow.NewEngine(workflow.Config{}, nil, nil, zap.NewNop())
	t.Cleanup(e.Close)

	api := NewAPI(e, zap.NewNop(), WithMetricsRoute(config.MetricsConfig{
		Enabled: true,
		Path:    "/internal/metrics",
	}))
	mux := api.Routes()

	req := httptest.NewRequest(http.MethodGet, "/internal/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_MetricsRoute_Disabled(t *testing.T) {
	t.Parallel()

	e := workflow.NewEngine(workflow.Config{}, nil, nil, zap.NewNop())
	t.Cleanup(e.Close)

	api := NewAPI(e, zap.NewNop(), WithMetricsRoute(config.MetricsConfig{Enabled: false}))
	mux := api.Routes()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

func TestAPI_EnvelopeCarriesRequestID(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t)

	h := Chain(ta.mux, RequestID())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	req.Header.Set("X-Request-ID", "rid-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rid-7", decodeEnvelope(t, rec)["request_id"])
}
