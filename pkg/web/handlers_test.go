package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weblisite/synthralos-engine/pkg/engine"
	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/persistence"
	"github.com/weblisite/synthralos-engine/pkg/persistence/file"
	"github.com/weblisite/synthralos-engine/pkg/protocol"
	"github.com/weblisite/synthralos-engine/pkg/registry"
	logrunner "github.com/weblisite/synthralos-engine/pkg/runners/log"
	"github.com/weblisite/synthralos-engine/pkg/web"
)

// failFactory builds runners that always fail permanently.
type failFactory struct{}

func (failFactory) ID() string          { return "alwaysfail" }
func (failFactory) Name() string        { return "Always Fail" }
func (failFactory) Description() string { return "Fails every dispatch." }
func (failFactory) Schema() map[string]any {
	return map[string]any{}
}

func (failFactory) Create(_ context.Context, nodeID string, _ map[string]any) (protocol.Runner, error) {
	return protocol.RunnerFunc(func(_ context.Context, _ protocol.RunnerInput) (*protocol.RunnerResult, error) {
		return nil, models.NewPermanentFailure(nodeID, "wired to fail")
	}), nil
}

func setupTestApp(t *testing.T) (*fiber.App, persistence.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persist := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterRunner(logrunner.NewRunnerFactory(logger))
	reg.RegisterRunner(failFactory{})

	eng := engine.New(logger, persist, reg, nil, nil)

	return web.NewApp(persist, reg, eng), persist
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func runnableWorkflowRequest(name string) web.CreateWorkflowRequest {
	return web.CreateWorkflowRequest{
		Name:        name,
		Description: "test workflow",
		EntryNodeID: "start",
		Owner:       "test-user",
		Nodes: []*models.WorkflowNode{
			{
				ID:      "start",
				Type:    "log",
				Name:    "Start",
				Config:  map[string]any{"message": "hello"},
				Enabled: true,
			},
			{
				ID:      "end",
				Type:    "log",
				Name:    "End",
				Config:  map[string]any{"message": "bye"},
				Enabled: true,
			},
		},
		Edges: []*models.Edge{
			{ID: "e1", From: "start", To: "end"},
		},
	}
}

func createWorkflow(t *testing.T, app *fiber.App, req web.CreateWorkflowRequest) models.Workflow {
	t.Helper()

	resp := doJSON(t, app, http.MethodPost, "/workflows", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return decodeBody[models.Workflow](t, resp)
}

func publishWorkflow(t *testing.T, app *fiber.App, id string) models.Workflow {
	t.Helper()

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+id+"/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	return decodeBody[models.Workflow](t, resp)
}

func TestCreateWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	created := createWorkflow(t, app, runnableWorkflowRequest("Onboarding"))

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Onboarding", created.Name)
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
	assert.Equal(t, 0, created.GraphVersion)
	assert.Len(t, created.Nodes, 2)
}

func TestCreateWorkflowValidation(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/workflows", web.CreateWorkflowRequest{Name: "ab"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestGetWorkflowNotFound(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestUpdateWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Before"))

	update := web.UpdateWorkflowRequest{
		Name:        "After",
		EntryNodeID: created.EntryNodeID,
		Nodes:       created.Nodes,
		Edges:       created.Edges,
	}

	resp := doJSON(t, app, http.MethodPatch, "/workflows/"+created.ID, update)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeBody[models.Workflow](t, resp)
	assert.Equal(t, "After", updated.Name)
	assert.Equal(t, models.WorkflowStatusDraft, updated.Status)
}

func TestUpdatePublishedWorkflowConflicts(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Frozen"))
	publishWorkflow(t, app, created.ID)

	update := web.UpdateWorkflowRequest{Name: "Changed"}

	resp := doJSON(t, app, http.MethodPatch, "/workflows/"+created.ID, update)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestDeleteWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Disposable"))

	resp := doJSON(t, app, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doJSON(t, app, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestPublishWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Release"))

	published := publishWorkflow(t, app, created.ID)
	assert.Equal(t, models.WorkflowStatusPublished, published.Status)
	assert.Equal(t, 1, published.GraphVersion)

	// Publishing twice conflicts.
	resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/publish", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestPublishInvalidGraphRejected(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	req := runnableWorkflowRequest("Broken")
	req.Edges = []*models.Edge{{ID: "e1", From: "start", To: "nowhere"}}
	created := createWorkflow(t, app, req)

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/publish", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestUnpublishAndDraftCycle(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Cycle"))
	publishWorkflow(t, app, created.ID)

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/unpublish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	unpublished := decodeBody[models.Workflow](t, resp)
	assert.Equal(t, models.WorkflowStatusUnpublished, unpublished.Status)

	resp = doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/create-draft", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	draft := decodeBody[models.Workflow](t, resp)
	assert.Equal(t, models.WorkflowStatusDraft, draft.Status)
	assert.Equal(t, 1, draft.GraphVersion)
}

func TestStartExecution(t *testing.T) {
	t.Parallel()

	app, persist := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Runs"))
	publishWorkflow(t, app, created.ID)

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/executions",
		web.StartExecutionRequest{TriggerData: map[string]any{"source": "api"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	exec := decodeBody[models.Execution](t, resp)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, created.ID, exec.WorkflowID)

	stored, err := persist.ExecutionRepository().GetByID(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
}

func TestStartExecutionRunsNodesWithoutEnabledField(t *testing.T) {
	t.Parallel()

	app, persist := setupTestApp(t)

	// Raw JSON mirrors graphs authored by hand or by external editors,
	// which usually leave "enabled" out entirely.
	body := map[string]any{
		"name":          "No Enabled Field",
		"description":   "test workflow",
		"entry_node_id": "start",
		"owner":         "test-user",
		"nodes": []map[string]any{
			{"id": "start", "type": "log", "name": "Start", "config": map[string]any{"message": "hello"}},
			{"id": "end", "type": "log", "name": "End", "config": map[string]any{"message": "bye"}},
		},
		"edges": []map[string]any{
			{"id": "e1", "from": "start", "to": "end"},
		},
	}

	resp := doJSON(t, app, http.MethodPost, "/workflows", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	wf := decodeBody[models.Workflow](t, resp)
	publishWorkflow(t, app, wf.ID)

	resp = doJSON(t, app, http.MethodPost, "/workflows/"+wf.ID+"/executions",
		web.StartExecutionRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	exec := decodeBody[models.Execution](t, resp)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)

	stored, err := persist.ExecutionRepository().GetByID(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "end"}, stored.CompletedNodeIDs)
	assert.Empty(t, stored.Skipped)
}

func TestStartExecutionRequiresPublished(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Draft"))

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/executions",
		web.StartExecutionRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestListWorkflowExecutions(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Listed"))
	publishWorkflow(t, app, created.ID)

	for range 2 {
		resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/executions",
			web.StartExecutionRequest{})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()
	}

	resp := doJSON(t, app, http.MethodGet, "/workflows/"+created.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listed := decodeBody[struct {
		Executions []*models.Execution `json:"executions"`
	}](t, resp)
	assert.Len(t, listed.Executions, 2)
}

func TestGetTimeline(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Traced"))
	publishWorkflow(t, app, created.ID)

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/executions",
		web.StartExecutionRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	exec := decodeBody[models.Execution](t, resp)

	resp = doJSON(t, app, http.MethodGet, "/executions/"+exec.ID+"/timeline", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	timeline := decodeBody[struct {
		Events []*models.TimelineEvent `json:"events"`
	}](t, resp)
	require.NotEmpty(t, timeline.Events)
	assert.Equal(t, models.TimelineWorkflowStarted, timeline.Events[0].Type)
	assert.Equal(t, models.TimelineWorkflowCompleted, timeline.Events[len(timeline.Events)-1].Type)

	// The level filter drops node-granularity info events.
	resp = doJSON(t, app, http.MethodGet, "/executions/"+exec.ID+"/timeline?level=error", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	filtered := decodeBody[struct {
		Events []*models.TimelineEvent `json:"events"`
	}](t, resp)
	assert.Empty(t, filtered.Events)
}

func TestResumeCompletedExecutionConflicts(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Done"))
	publishWorkflow(t, app, created.ID)

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/executions",
		web.StartExecutionRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	exec := decodeBody[models.Execution](t, resp)

	resp = doJSON(t, app, http.MethodPost, "/executions/"+exec.ID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestReplayExecution(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	req := runnableWorkflowRequest("Again")
	req.Nodes[1].Type = "alwaysfail"
	created := createWorkflow(t, app, req)
	publishWorkflow(t, app, created.ID)

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/executions",
		web.StartExecutionRequest{TriggerData: map[string]any{"n": 1}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	exec := decodeBody[models.Execution](t, resp)
	require.Equal(t, models.ExecutionStatusFailed, exec.Status)

	resp = doJSON(t, app, http.MethodPost, "/executions/"+exec.ID+"/replay", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	replay := decodeBody[models.Execution](t, resp)
	assert.NotEqual(t, exec.ID, replay.ID)
	assert.Equal(t, exec.ID, replay.ReplayOf)
	assert.Equal(t, exec.GraphVersion, replay.GraphVersion)
}

func TestReplayRequiresFailedExecution(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Fine"))
	publishWorkflow(t, app, created.ID)

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/executions",
		web.StartExecutionRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	exec := decodeBody[models.Execution](t, resp)

	resp = doJSON(t, app, http.MethodPost, "/executions/"+exec.ID+"/replay", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestExecutionNotFound(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	for _, target := range []string{
		"/executions/missing",
		"/executions/missing/timeline",
		"/executions/missing/variables",
	} {
		resp := doJSON(t, app, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, target)
		_ = resp.Body.Close()
	}
}

func TestTestModeRun(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	created := createWorkflow(t, app, runnableWorkflowRequest("Dry Run"))

	// Drafts are runnable in test mode.
	resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/test",
		web.TestRunRequest{MockOutputs: map[string]map[string]any{
			"start": {"mocked": true},
		}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[engine.TestRunResult](t, resp)
	assert.True(t, result.Valid)
	require.NotNil(t, result.Execution)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Execution.Status)
	assert.NotEmpty(t, result.Timeline)
}

func TestTestModeReportsInvalidGraph(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	req := runnableWorkflowRequest("Invalid")
	req.Edges = []*models.Edge{{ID: "e1", From: "start", To: "nowhere"}}
	created := createWorkflow(t, app, req)

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/test",
		web.TestRunRequest{})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	result := decodeBody[engine.TestRunResult](t, resp)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestGetNodeTypes(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/node-types", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listed := decodeBody[struct {
		NodeTypes []map[string]any `json:"node_types"`
	}](t, resp)
	require.Len(t, listed.NodeTypes, 2)

	types := make([]string, 0, len(listed.NodeTypes))
	for _, entry := range listed.NodeTypes {
		types = append(types, entry["type"].(string))
	}

	assert.Contains(t, types, "log")
	assert.Contains(t, types, "alwaysfail")
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}
