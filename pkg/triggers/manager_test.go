package triggers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/persistence/file"
	"github.com/weblisite/synthralos-engine/pkg/protocol"
	"github.com/weblisite/synthralos-engine/pkg/registry"
)

// fakeTrigger fires once and then blocks until cancelled.
type fakeTrigger struct {
	workflowID string
}

func (f *fakeTrigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if _, err := callback(ctx, f.workflowID, models.TriggerTypeWebhook, map[string]any{"fired": true}); err != nil {
		return err
	}

	<-ctx.Done()

	return nil
}

func (*fakeTrigger) Stop(context.Context) error     { return nil }
func (*fakeTrigger) Validate(context.Context) error { return nil }

type fakeFactory struct{}

func (*fakeFactory) ID() string          { return "webhook" }
func (*fakeFactory) Name() string        { return "Fake Webhook" }
func (*fakeFactory) Description() string { return "Fires once for tests." }

func (*fakeFactory) Create(_ context.Context, config map[string]any, _ *slog.Logger) (protocol.Trigger, error) {
	workflowID, _ := config["workflow_id"].(string)

	return &fakeTrigger{workflowID: workflowID}, nil
}

type recordingStarter struct {
	mu     sync.Mutex
	starts []string
}

func (r *recordingStarter) Start(_ context.Context, workflowID string, _ models.TriggerType, _ map[string]any) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.starts = append(r.starts, workflowID)

	return &models.Execution{ID: "exec-" + workflowID, WorkflowID: workflowID}, nil
}

func (r *recordingStarter) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.starts...)
}

func TestManagerStartsTriggersForPublishedWorkflows(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persist := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterTrigger(&fakeFactory{})

	published := &models.Workflow{
		ID:           "wf-published",
		Name:         "Published",
		Status:       models.WorkflowStatusPublished,
		GraphVersion: 1,
		EntryNodeID:  "hook",
		Nodes: []*models.WorkflowNode{
			{ID: "hook", Type: models.NodeTypeTrigger, Config: map[string]any{"type": "webhook"}, Enabled: true},
		},
	}
	require.NoError(t, persist.WorkflowRepository().Save(context.Background(), published))

	draft := &models.Workflow{
		ID:          "wf-draft",
		Name:        "Draft",
		Status:      models.WorkflowStatusDraft,
		EntryNodeID: "hook",
		Nodes: []*models.WorkflowNode{
			{ID: "hook", Type: models.NodeTypeTrigger, Config: map[string]any{"type": "webhook"}, Enabled: true},
		},
	}
	require.NoError(t, persist.WorkflowRepository().Save(context.Background(), draft))

	starter := &recordingStarter{}
	manager := NewManager(logger, persist, reg, starter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- manager.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(starter.started()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("manager did not stop after cancel")
	}

	assert.Equal(t, []string{"wf-published"}, starter.started())
}

func TestManagerSkipsDisabledTriggerNodes(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persist := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterTrigger(&fakeFactory{})

	wf := &models.Workflow{
		ID:           "wf-1",
		Name:         "Disabled hook",
		Status:       models.WorkflowStatusPublished,
		GraphVersion: 1,
		EntryNodeID:  "hook",
		Nodes: []*models.WorkflowNode{
			{ID: "hook", Type: models.NodeTypeTrigger, Config: map[string]any{"type": "webhook"}, Enabled: false},
		},
	}
	require.NoError(t, persist.WorkflowRepository().Save(context.Background(), wf))

	starter := &recordingStarter{}
	manager := NewManager(logger, persist, reg, starter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- manager.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("manager did not stop after cancel")
	}

	assert.Empty(t, starter.started())
}
