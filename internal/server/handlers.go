package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/certflow/certflow/config"
	"github.com/certflow/certflow/internal/metrics"
	"github.com/certflow/certflow/types"
	"github.com/certflow/certflow/workflow"
)

// maxRequestBody caps execute request bodies at 1 MB.
const maxRequestBody = 1 << 20

// API serves the REST surface over a workflow engine.
type API struct {
	engine       *workflow.Engine
	metrics      *metrics.Collector
	gatherer     prometheus.Gatherer
	logger       *zap.Logger
	version      string
	wsOrigins    []string
	metricsRoute config.MetricsConfig
	started      time.Time
}

// APIOption customizes an API.
type APIOption func(*API)

// WithMetrics wires the collector used for websocket client gauges.
func WithMetrics(c *metrics.Collector) APIOption {
	return func(a *API) { a.metrics = c }
}

// WithGatherer sets the registry served at /metrics. Defaults to the
// process-wide prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) APIOption {
	return func(a *API) { a.gatherer = g }
}

// WithVersion sets the version string reported by /healthz.
func WithVersion(v string) APIOption {
	return func(a *API) { a.version = v }
}

// WithWSOrigins allows the listed origins to open the event websocket from
// a browser. Empty keeps the default same-origin check.
func WithWSOrigins(origins []string) APIOption {
	return func(a *API) { a.wsOrigins = origins }
}

// WithMetricsRoute applies the metrics config section: whether the scrape
// endpoint is mounted at all, and at which path.
func WithMetricsRoute(mc config.MetricsConfig) APIOption {
	return func(a *API) { a.metricsRoute = mc }
}

// NewAPI creates the REST surface for engine.
func NewAPI(engine *workflow.Engine, logger *zap.Logger, opts ...APIOption) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &API{
		engine:       engine,
		gatherer:     prometheus.DefaultGatherer,
		logger:       logger.With(zap.String("component", "api")),
		version:      "dev",
		metricsRoute: config.DefaultMetricsConfig(),
		started:      time.Now(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes returns the mux with every endpoint mounted. Middleware is not
// applied here; callers compose it with Chain.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealthz)
	if a.metricsRoute.Enabled {
		path := a.metricsRoute.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /api/v1/workflows/{id}/execute", a.handleExecute)
	mux.HandleFunc("GET /api/v1/workflows", a.handleListWorkflows)
	mux.HandleFunc("GET /api/v1/executions", a.handleListExecutions)
	mux.HandleFunc("GET /api/v1/executions/{id}", a.handleGetExecution)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", a.handleCancelExecution)
	mux.HandleFunc("GET /api/v1/agents", a.handleListAgents)
	mux.HandleFunc("GET /api/v1/stats", a.handleStats)
	mux.HandleFunc("GET /api/v1/events/ws", a.handleEvents)

	return mux
}

// handleExecute runs a workflow. The request body is the initial input
// object and may be empty. With ?async=true the call returns 202 and the
// execution id instead of waiting for the terminal status.
func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	var input map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&input); err != nil && err != io.EOF {
		writeError(w, r, a.logger, types.NewValidationError("request body must be a JSON object").
			WithCause(err))
		return
	}

	if r.URL.Query().Get("async") == "true" {
		executionID, err := a.engine.ExecuteWorkflowAsync(workflowID, input)
		if err != nil {
			writeError(w, r, a.logger, types.WrapError(types.ErrInternal, "execution rejected", err))
			return
		}
		writeEnvelope(w, r, http.StatusAccepted, map[string]any{
			"execution_id": executionID,
			"workflow_id":  workflowID,
		})
		return
	}

	result, err := a.engine.ExecuteWorkflow(r.Context(), workflowID, input)
	if err != nil {
		writeError(w, r, a.logger, types.WrapError(types.ErrInternal, "execution rejected", err))
		return
	}
	if !result.Success {
		writeError(w, r, a.logger, result.Error)
		return
	}
	writeSuccess(w, r, result)
}

func (a *API) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	defs := a.engine.Workflows()
	writeSuccess(w, r, map[string]any{
		"workflows": defs,
		"count":     len(defs),
	})
}

// handleListExecutions lists execution snapshots. The state query parameter
// narrows the listing to "active" or "completed".
func (a *API) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{}
	switch state := r.URL.Query().Get("state"); state {
	case "":
		data["active"] = a.engine.ActiveExecutions()
		data["completed"] = a.engine.CompletedExecutions()
	case "active":
		data["active"] = a.engine.ActiveExecutions()
	case "completed":
		data["completed"] = a.engine.CompletedExecutions()
	default:
		writeError(w, r, a.logger, types.NewValidationError("state must be \"active\" or \"completed\"").
			WithDetail("state", state))
		return
	}
	writeSuccess(w, r, data)
}

func (a *API) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := a.engine.Execution(id)
	if !ok {
		writeError(w, r, a.logger, executionNotFound(id))
		return
	}
	writeSuccess(w, r, snap)
}

func (a *API) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.engine.CancelExecution(id) {
		writeError(w, r, a.logger, executionNotFound(id))
		return
	}
	writeSuccess(w, r, map[string]any{
		"execution_id": id,
		"cancelled":    true,
	})
}

// handleListAgents lists per-agent registry statistics. With ?probe=true it
// additionally health-checks every agent and reports the probe results.
func (a *API) handleListAgents(w http.ResponseWriter, r *http.Request) {
	stats := a.engine.Registry().Stats()
	data := map[string]any{
		"agents": stats,
		"count":  len(stats),
	}
	if r.URL.Query().Get("probe") == "true" {
		data["probes"] = a.engine.Registry().HealthCheck(r.Context())
	}
	writeSuccess(w, r, data)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, map[string]any{
		"engine": a.engine.Stats(),
		"bus":    a.engine.Bus().Stats(),
		"uptime": time.Since(a.started).String(),
	})
}

// healthStatus is the /healthz body. It is served without the response
// envelope so probes stay trivial to parse.
type healthStatus struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{
		Status:    "healthy",
		Version:   a.version,
		Uptime:    time.Since(a.started).String(),
		Timestamp: time.Now(),
	})
}

// response is the envelope for every /api/v1 reply.
type response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *errorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

type errorInfo struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are out; nothing left to do.
		return
	}
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func writeSuccess(w http.ResponseWriter, r *http.Request, data any) {
	writeEnvelope(w, r, http.StatusOK, data)
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err *types.Error) {
	if err == nil {
		err = types.NewError(types.ErrInternal, "unknown error")
	}
	status := httpStatusForCode(err.Code)

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.String("path", r.URL.Path),
			zap.Error(err.Cause),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Warn("request rejected", fields...)
		}
	}

	writeJSON(w, status, response{
		Success: false,
		Error: &errorInfo{
			Code:      string(err.Code),
			Message:   err.Message,
			Retryable: err.Retryable,
			Details:   err.Details,
		},
		Timestamp: time.Now(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func executionNotFound(id string) *types.Error {
	return types.NewError(types.ErrExecutionNotFound, "execution "+id+" not found").
		WithDetail("execution_id", id)
}

// httpStatusForCode maps domain error codes onto HTTP statuses.
func httpStatusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrValidation:
		return http.StatusBadRequest
	case types.ErrWorkflowNotFound, types.ErrExecutionNotFound:
		return http.StatusNotFound
	case types.ErrWorkflowCancelled:
		return http.StatusConflict
	case types.ErrWorkflowCycleDetected:
		return http.StatusUnprocessableEntity
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrAgentProcessing:
		return http.StatusBadGateway
	case types.ErrNoCapableAgent, types.ErrAgentUnhealthy:
		return http.StatusServiceUnavailable
	case types.ErrWorkflowTimeout, types.ErrStepTimeout, types.ErrRequestTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
