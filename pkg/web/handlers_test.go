package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/satchwsm/backbeat/pkg/metrics"
	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence/memory"
	"github.com/satchwsm/backbeat/pkg/queue"
	"github.com/satchwsm/backbeat/pkg/schedulers"
	"github.com/satchwsm/backbeat/pkg/server"
	"github.com/satchwsm/backbeat/pkg/statemanager"
	"github.com/satchwsm/backbeat/pkg/testutil"
	"github.com/satchwsm/backbeat/pkg/watchdog"
	"github.com/satchwsm/backbeat/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, *models.Workflow, *models.Node) error { return nil }

type recordingNames struct {
	mu          sync.Mutex
	invalidated []string
}

func (n *recordingNames) WorkflowNames(context.Context, string) ([]string, error) {
	return []string{"order", "refund"}, nil
}

func (n *recordingNames) Invalidate(_ context.Context, userID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.invalidated = append(n.invalidated, userID)

	return nil
}

type failingNames struct{}

func (failingNames) WorkflowNames(context.Context, string) ([]string, error) {
	return nil, errors.New("names cache unavailable")
}

type testApp struct {
	app   *fiber.App
	queue *queue.MemoryQueue
	names *recordingNames
}

func newTestServer(t *testing.T) (*server.Server, *queue.MemoryQueue, *prometheus.Registry) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()
	q := queue.NewMemoryQueue()
	clk := testutil.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	srv := server.New(server.Deps{
		Persistence: store,
		States:      statemanager.New(store.NodeRepository(), statemanager.DefaultTable(), statemanager.WithLogger(logger)),
		Schedulers:  schedulers.NewSet(q, store.NodeRepository(), schedulers.WithClock(clk), schedulers.WithLogger(logger)),
		Watchdogs:   watchdog.New(store.WatchdogRepository(), q, watchdog.WithClock(clk), watchdog.WithLogger(logger)),
		Notifier:    nopNotifier{},
	}, server.WithClock(clk), server.WithLogger(logger), server.WithMetrics(m))

	return srv, q, registry
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	srv, q, registry := newTestServer(t)

	names := &recordingNames{}
	handlers := web.NewAPIHandlers(srv, names, validator.New(validator.WithRequiredStructEnabled()))

	return &testApp{
		app:   web.NewApp(handlers, registry),
		queue: q,
		names: names,
	}
}

func (a *testApp) do(t *testing.T, method, path string, body any, clientID string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if clientID != "" {
		req.Header.Set("Client-Id", clientID)
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, payload
}

func (a *testApp) createWorkflow(t *testing.T, clientID string) models.Workflow {
	t.Helper()

	resp, body := a.do(t, http.MethodPost, "/workflows", web.CreateWorkflowRequest{
		WorkflowType: "order",
		Subject:      map[string]any{"id": 1},
		Decider:      "svc",
	}, clientID)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(body, &workflow))

	return workflow
}

func (a *testApp) signal(t *testing.T, workflowID, clientID string) web.NodeResponse {
	t.Helper()

	resp, body := a.do(t, http.MethodPost, "/workflows/"+workflowID+"/signal/order-placed", web.SignalRequest{
		Options: web.SignalOptions{ClientData: map[string]any{"amount": 10}},
	}, clientID)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var node web.NodeResponse
	require.NoError(t, json.Unmarshal(body, &node))

	return node
}

func decodeProblem(t *testing.T, body []byte) map[string]any {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	return problem
}

func TestAPIHandlers_RequireClient(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	for _, path := range []string{"/workflows", "/workflows/names", "/events/abc"} {
		resp, body := app.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, "unauthorized", decodeProblem(t, body)["type"])
	}
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedError  string
	}{
		{
			name: "successful creation",
			requestBody: web.CreateWorkflowRequest{
				WorkflowType: "order",
				Subject:      map[string]any{"id": 1},
				Decider:      "svc",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "validation error - missing decider",
			requestBody:    map[string]any{"workflow_type": "order", "subject": map[string]any{"id": 1}},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Decider",
		},
		{
			name:           "validation error - empty subject",
			requestBody:    map[string]any{"workflow_type": "order", "subject": map[string]any{}, "decider": "svc"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "subject",
		},
		{
			name:           "invalid JSON",
			requestBody:    "not an object",
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid JSON format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			resp, body := app.do(t, http.MethodPost, "/workflows", tt.requestBody, "user-1")
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedError != "" {
				assert.Contains(t, decodeProblem(t, body)["detail"], tt.expectedError)
			}
		})
	}
}

func TestAPIHandlers_CreateWorkflowIsIdempotent(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	first := app.createWorkflow(t, "user-1")
	second := app.createWorkflow(t, "user-1")
	other := app.createWorkflow(t, "user-2")

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, "user-1", first.UserID)
	assert.Equal(t, []string{"user-1", "user-1", "user-2"}, app.names.invalidated)
}

func TestAPIHandlers_GetWorkflows(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := app.createWorkflow(t, "user-1")

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedCount  int
	}{
		{name: "no filter", query: "", expectedStatus: http.StatusOK, expectedCount: 1},
		{name: "matching subject", query: "?workflow_type=order&subject=%7B%22id%22%3A1%7D", expectedStatus: http.StatusOK, expectedCount: 1},
		{name: "other subject", query: "?subject=%7B%22id%22%3A2%7D", expectedStatus: http.StatusOK, expectedCount: 0},
		{name: "other decider", query: "?decider=someone-else", expectedStatus: http.StatusOK, expectedCount: 0},
		{name: "malformed subject", query: "?subject=%7Bnope", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, body := app.do(t, http.MethodGet, "/workflows"+tt.query, nil, "user-1")
			require.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedStatus != http.StatusOK {
				return
			}

			var workflows []models.Workflow
			require.NoError(t, json.Unmarshal(body, &workflows))
			require.Len(t, workflows, tt.expectedCount)

			if tt.expectedCount > 0 {
				assert.Equal(t, created.ID, workflows[0].ID)
			}
		})
	}
}

func TestAPIHandlers_WorkflowNames(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp, body := app.do(t, http.MethodGet, "/workflows/names", nil, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var names []string
	require.NoError(t, json.Unmarshal(body, &names))
	assert.Equal(t, []string{"order", "refund"}, names)
}

func TestAPIHandlers_GetWorkflow_OtherOwnerIsNotFound(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")

	resp, _ := app.do(t, http.MethodGet, "/workflows/"+workflow.ID, nil, "user-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := app.do(t, http.MethodGet, "/workflows/"+workflow.ID, nil, "user-2")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "workflow_not_found", decodeProblem(t, body)["type"])
}

func TestAPIHandlers_Signal(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")

	node := app.signal(t, workflow.ID, "user-1")

	assert.Equal(t, "order-placed", node.Name)
	assert.Equal(t, "decision", node.Type)
	assert.Equal(t, "blocking", node.Mode)
	assert.Equal(t, "ready", node.CurrentServerStatus)
	assert.Equal(t, "ready", node.CurrentClientStatus)
	assert.InDelta(t, 10, node.ClientData["amount"], 0)

	pending := app.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, string(server.EventScheduleNextNode), pending[0].Event)
	assert.Equal(t, workflow.ID, pending[0].TargetID)

	resp, _ := app.do(t, http.MethodPut, "/workflows/"+workflow.ID+"/complete", nil, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := app.do(t, http.MethodPost, "/workflows/"+workflow.ID+"/signal", nil, "user-1")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", decodeProblem(t, body)["type"])

	resp, _ = app.do(t, http.MethodPost, "/workflows/missing/signal", nil, "user-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_PauseAndResume(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")

	resp, _ := app.do(t, http.MethodPut, "/workflows/"+workflow.ID+"/pause", nil, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := app.do(t, http.MethodGet, "/workflows/"+workflow.ID, nil, "user-1")

	var paused models.Workflow
	require.NoError(t, json.Unmarshal(body, &paused))
	assert.True(t, paused.Paused)

	resp, _ = app.do(t, http.MethodPut, "/workflows/"+workflow.ID+"/resume", nil, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = app.do(t, http.MethodGet, "/workflows/"+workflow.ID, nil, "user-1")

	var resumed models.Workflow
	require.NoError(t, json.Unmarshal(body, &resumed))
	assert.False(t, resumed.Paused)
}

func TestAPIHandlers_ChangeStatus(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")
	node := app.signal(t, workflow.ID, "user-1")

	t.Run("illegal client transition", func(t *testing.T) {
		resp, body := app.do(t, http.MethodPut, "/events/"+node.ID+"/status/complete", nil, "user-1")
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		problem := decodeProblem(t, body)
		assert.Equal(t, "ready", problem["currentStatus"])
		assert.Equal(t, "complete", problem["attemptedStatus"])
	})

	t.Run("unknown status", func(t *testing.T) {
		resp, _ := app.do(t, http.MethodPut, "/events/"+node.ID+"/status/dancing", nil, "user-1")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("other owner", func(t *testing.T) {
		resp, body := app.do(t, http.MethodPut, "/events/"+node.ID+"/status/received", nil, "user-2")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "node_not_found", decodeProblem(t, body)["type"])
	})

	t.Run("received with args", func(t *testing.T) {
		resp, body := app.do(t, http.MethodPut, "/events/"+node.ID+"/status/received",
			web.StatusRequest{Args: map[string]any{"worker": "w-1"}}, "user-1")
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		_, body = app.do(t, http.MethodGet, "/events/"+node.ID, nil, "user-1")

		var current web.NodeResponse
		require.NoError(t, json.Unmarshal(body, &current))
		assert.Equal(t, "received", current.CurrentClientStatus)

		_, body = app.do(t, http.MethodGet, "/events/"+node.ID+"/status_changes", nil, "user-1")

		var changes []models.StatusChange
		require.NoError(t, json.Unmarshal(body, &changes))
		require.Len(t, changes, 1)
		assert.Equal(t, "received", changes[0].ToStatus)
	})

	t.Run("malformed args", func(t *testing.T) {
		resp, _ := app.do(t, http.MethodPut, "/events/"+node.ID+"/status/processing",
			web.StatusRequest{Args: map[string]any{"message": 5}}, "user-1")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAPIHandlers_Decisions(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")
	decision := app.signal(t, workflow.ID, "user-1")

	resp, body := app.do(t, http.MethodPost, "/events/"+decision.ID+"/decisions", web.DecisionsRequest{
		Args: map[string]any{
			"decisions": []any{
				map[string]any{"name": "charge", "type": "activity"},
				map[string]any{"name": "wait", "type": "timer", "fires_at": "2025-01-02T00:00:00Z"},
			},
		},
	}, "user-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var children []web.NodeResponse
	require.NoError(t, json.Unmarshal(body, &children))
	require.Len(t, children, 2)
	assert.Equal(t, "pending", children[0].CurrentServerStatus)
	assert.Equal(t, "blocking", children[1].Mode, "every kind blocks unless asked otherwise")
	assert.Equal(t, decision.ID, *children[0].ParentID)

	resp, _ = app.do(t, http.MethodPost, "/events/"+children[0].ID+"/decisions", web.DecisionsRequest{
		Args: map[string]any{"nodes": []any{map[string]any{"name": "x", "type": "activity"}}},
	}, "user-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = app.do(t, http.MethodGet, "/workflows/"+workflow.ID+"/tree/print", nil, "user-1")

	var printed map[string]string
	require.NoError(t, json.Unmarshal(body, &printed))
	assert.Contains(t, printed["print"], "charge")

	_, body = app.do(t, http.MethodGet, "/events/"+decision.ID+"/tree", nil, "user-1")

	var subtree map[string]any
	require.NoError(t, json.Unmarshal(body, &subtree))
	assert.Len(t, subtree["children"], 2)

	_, body = app.do(t, http.MethodGet, "/workflows/"+workflow.ID+"/children", nil, "user-1")

	var top []web.NodeResponse
	require.NoError(t, json.Unmarshal(body, &top))
	assert.Len(t, top, 1)
}

func TestAPIHandlers_Nodes(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")
	app.signal(t, workflow.ID, "user-1")

	tests := []struct {
		query          string
		expectedStatus int
		expectedCount  int
	}{
		{query: "", expectedStatus: http.StatusOK, expectedCount: 1},
		{query: "?current_server_status=ready", expectedStatus: http.StatusOK, expectedCount: 1},
		{query: "?current_client_status=complete", expectedStatus: http.StatusOK, expectedCount: 0},
		{query: "?current_server_status=bogus", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		resp, body := app.do(t, http.MethodGet, "/workflows/"+workflow.ID+"/nodes"+tt.query, nil, "user-1")
		require.Equal(t, tt.expectedStatus, resp.StatusCode, tt.query)

		if tt.expectedStatus == http.StatusOK {
			var nodes []web.NodeResponse
			require.NoError(t, json.Unmarshal(body, &nodes))
			assert.Len(t, nodes, tt.expectedCount, tt.query)
		}
	}
}

func TestAPIHandlers_RestartRequiresErroredNode(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")
	node := app.signal(t, workflow.ID, "user-1")

	resp, body := app.do(t, http.MethodPut, "/events/"+node.ID+"/restart", nil, "user-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", decodeProblem(t, body)["type"])

	resp, _ = app.do(t, http.MethodPut, "/events/"+node.ID+"/reset", nil, "user-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIHandlers_RunSubActivity(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")
	parent := app.signal(t, workflow.ID, "user-1")

	tests := []struct {
		name       string
		request    web.SubActivityRequest
		wantHeader string
	}{
		{name: "blocking", request: web.SubActivityRequest{Name: "lookup"}, wantHeader: "true"},
		{name: "non blocking", request: web.SubActivityRequest{Name: "notify", Mode: "non_blocking"}, wantHeader: ""},
	}

	for _, tt := range tests {
		resp, body := app.do(t, http.MethodPut, "/events/"+parent.ID+"/run_sub_activity", tt.request, "user-1")
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
		assert.Equal(t, tt.wantHeader, resp.Header.Get("Wait-For-Sub-Activity"), tt.name)

		var node web.NodeResponse
		require.NoError(t, json.Unmarshal(body, &node))
		assert.Equal(t, "sub_activity", node.Type)
		assert.Equal(t, "started", node.CurrentServerStatus)
	}

	resp, _ := app.do(t, http.MethodPut, "/events/"+parent.ID+"/run_sub_activity", web.SubActivityRequest{}, "user-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_DeleteWorkflow(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")
	node := app.signal(t, workflow.ID, "user-1")

	resp, _ := app.do(t, http.MethodDelete, "/workflows/"+workflow.ID, nil, "user-1")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = app.do(t, http.MethodGet, "/workflows/"+workflow.ID, nil, "user-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = app.do(t, http.MethodGet, "/events/"+node.ID, nil, "user-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Metrics(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp, body := app.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "backbeat_jobs_claimed_total")
}

func TestAPI_HealthCheck(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp, body := app.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}

func TestAPIHandlers_UnhandledErrorIsLogged(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	srv, q, _ := newTestServer(t)
	handlers := web.NewAPIHandlers(srv, failingNames{}, validator.New(validator.WithRequiredStructEnabled()), web.WithLogger(logger))
	app := &testApp{app: web.NewApp(handlers, nil), queue: q}

	resp, body := app.do(t, http.MethodGet, "/workflows/names", nil, "user-1")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	problem := decodeProblem(t, body)
	assert.Equal(t, "internal_error", problem["type"])

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "Unhandled error", entry["msg"])
	assert.Equal(t, "names cache unavailable", entry["error"])
	assert.Equal(t, "*errors.errorString", entry["error_type"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/workflows/names", entry["path"])
	assert.Equal(t, "user-1", entry["client_id"])
	assert.Equal(t, "web", entry["component"])
}
