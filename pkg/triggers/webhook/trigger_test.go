package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewTrigger(t *testing.T) {
	t.Parallel()

	manager := NewServerManager(0, discardLogger())

	tests := []struct {
		name        string
		config      map[string]any
		expectError bool
		wantPath    string
	}{
		{
			name: "explicit path",
			config: map[string]any{
				"path":        "/webhooks/orders",
				"workflow_id": "wf-1",
			},
			wantPath: "/webhooks/orders",
		},
		{
			name: "default path from workflow id",
			config: map[string]any{
				"workflow_id": "wf-2",
			},
			wantPath: "/webhooks/wf-2",
		},
		{
			name: "path must start with slash",
			config: map[string]any{
				"path":        "orders",
				"workflow_id": "wf-3",
			},
			expectError: true,
		},
		{
			name:        "workflow id required",
			config:      map[string]any{"path": "/webhooks/x"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trigger, err := NewTrigger(context.Background(), tt.config, manager, discardLogger())
			if tt.expectError {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, trigger.Path)
			assert.True(t, trigger.Enabled)
		})
	}
}

func TestServerManagerRejectsDuplicatePath(t *testing.T) {
	t.Parallel()

	manager := NewServerManager(0, discardLogger())
	handler := &Handler{WorkflowID: "wf-1", Logger: discardLogger()}

	require.NoError(t, manager.Register("/webhooks/a", handler))
	require.Error(t, manager.Register("/webhooks/a", handler))
	assert.Equal(t, 1, manager.HandlerCount())

	manager.Unregister("/webhooks/a")
	assert.Equal(t, 0, manager.HandlerCount())
}

func TestDispatchStartsExecution(t *testing.T) {
	t.Parallel()

	manager := NewServerManager(0, discardLogger())

	var (
		gotWorkflowID string
		gotType       models.TriggerType
		gotData       map[string]any
	)

	handler := &Handler{
		WorkflowID: "wf-1",
		Logger:     discardLogger(),
		Callback: func(_ context.Context, workflowID string, triggerType models.TriggerType, triggerData map[string]any) (string, error) {
			gotWorkflowID = workflowID
			gotType = triggerType
			gotData = triggerData

			return "exec-1", nil
		},
	}
	require.NoError(t, manager.Register("/webhooks/orders", handler))

	app := manager.newApp()

	body := bytes.NewBufferString(`{"order_id": 42}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders?source=shop", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "exec-1", out["execution_id"])

	assert.Equal(t, "wf-1", gotWorkflowID)
	assert.Equal(t, models.TriggerTypeWebhook, gotType)
	assert.Equal(t, "POST", gotData["method"])
	assert.Equal(t, "/webhooks/orders", gotData["path"])

	payload, ok := gotData["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), payload["order_id"])

	query, ok := gotData["query"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "shop", query["source"])
}

func TestDispatchUnknownPathReturns404(t *testing.T) {
	t.Parallel()

	manager := NewServerManager(0, discardLogger())
	app := manager.newApp()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/nothing", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDispatchCallbackFailure(t *testing.T) {
	t.Parallel()

	manager := NewServerManager(0, discardLogger())

	handler := &Handler{
		WorkflowID: "wf-1",
		Logger:     discardLogger(),
		Callback: func(_ context.Context, _ string, _ models.TriggerType, _ map[string]any) (string, error) {
			return "", models.NewValidationFailure("", "workflow wf-1 is not published")
		},
	}
	require.NoError(t, manager.Register("/webhooks/broken", handler))

	app := manager.newApp()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/broken", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
