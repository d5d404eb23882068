package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weblisite/synthralos-engine/pkg/eventbus"
	"github.com/weblisite/synthralos-engine/pkg/events"
	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/persistence"
	"github.com/weblisite/synthralos-engine/pkg/persistence/file"
	"github.com/weblisite/synthralos-engine/pkg/protocol"
	"github.com/weblisite/synthralos-engine/pkg/registry"
)

// fastRetry keeps backoff sleeps in the low milliseconds for tests.
var fastRetry = map[string]any{
	"max_attempts":        3,
	"initial_interval_ms": 1,
	"max_interval_ms":     2,
}

type testEnv struct {
	eng     *Engine
	persist persistence.Persistence
	reg     *registry.Registry

	// calls records runner invocations in dispatch order, including failed
	// attempts. Inline execution is single-threaded so no locking is needed.
	calls []string

	// seen collects the values captured by task nodes with a "capture" config.
	seen []any

	// failuresLeft makes the flaky runner fail transiently that many times
	// per node before succeeding.
	failuresLeft map[string]int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persist := file.NewPersistence(t.TempDir())
	t.Cleanup(func() { _ = persist.Close(context.Background()) })

	env := &testEnv{
		persist:      persist,
		failuresLeft: make(map[string]int),
	}

	reg := registry.NewRegistry(logger)
	reg.RegisterRunner(&stubFactory{id: "task", run: env.runTask})
	reg.RegisterRunner(&stubFactory{id: "flaky", run: env.runFlaky})
	reg.RegisterRunner(&stubFactory{id: "fail", run: env.runFail})
	reg.RegisterRunner(&stubFactory{id: "slow", run: env.runSlow})

	env.reg = reg
	env.eng = New(logger, persist, reg, nil, nil)

	return env
}

type stubFactory struct {
	id  string
	run func(ctx context.Context, input protocol.RunnerInput) (*protocol.RunnerResult, error)
}

func (f *stubFactory) Create(_ context.Context, _ string, _ map[string]any) (protocol.Runner, error) {
	return protocol.RunnerFunc(f.run), nil
}

func (f *stubFactory) ID() string             { return f.id }
func (f *stubFactory) Name() string           { return f.id }
func (f *stubFactory) Description() string    { return "test runner" }
func (f *stubFactory) Schema() map[string]any { return nil }

func (env *testEnv) runTask(_ context.Context, input protocol.RunnerInput) (*protocol.RunnerResult, error) {
	env.calls = append(env.calls, input.Node.ID)

	if name, ok := input.Node.Config["capture"].(string); ok {
		env.seen = append(env.seen, input.Variables[name])
	}

	result := &protocol.RunnerResult{Output: map[string]any{"node": input.Node.ID}}

	if out, ok := input.Node.Config["output"].(map[string]any); ok {
		result.Output = out
	}

	if set, ok := input.Node.Config["set"].(map[string]any); ok {
		result.SetVariables = set
	}

	return result, nil
}

func (env *testEnv) runFlaky(_ context.Context, input protocol.RunnerInput) (*protocol.RunnerResult, error) {
	env.calls = append(env.calls, input.Node.ID)

	if env.failuresLeft[input.Node.ID] > 0 {
		env.failuresLeft[input.Node.ID]--

		return nil, models.NewTransientFailure(input.Node.ID, "connection reset")
	}

	return &protocol.RunnerResult{Output: map[string]any{"ok": true}}, nil
}

func (env *testEnv) runFail(_ context.Context, input protocol.RunnerInput) (*protocol.RunnerResult, error) {
	env.calls = append(env.calls, input.Node.ID)

	message, _ := input.Node.Config["message"].(string)
	if message == "" {
		message = "boom"
	}

	return nil, models.NewPermanentFailure(input.Node.ID, message)
}

// runSlow never finishes on its own; it only returns when its context ends.
func (env *testEnv) runSlow(ctx context.Context, input protocol.RunnerInput) (*protocol.RunnerResult, error) {
	env.calls = append(env.calls, input.Node.ID)

	<-ctx.Done()

	return nil, ctx.Err()
}

func node(id, nodeType string, config map[string]any) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Type: nodeType, Name: id, Config: config, Enabled: true}
}

func edge(from, to, label string) *models.Edge {
	return &models.Edge{ID: from + ":" + to, From: from, To: to, Label: label}
}

func testWorkflow(entry string, nodes []*models.WorkflowNode, edges []*models.Edge) *models.Workflow {
	return &models.Workflow{
		ID:           "wf-1",
		Name:         "test workflow",
		Status:       models.WorkflowStatusPublished,
		GraphVersion: 1,
		EntryNodeID:  entry,
		Nodes:        nodes,
		Edges:        edges,
	}
}

func (env *testEnv) saveWorkflow(t *testing.T, wf *models.Workflow) {
	t.Helper()
	require.NoError(t, env.persist.WorkflowRepository().Save(context.Background(), wf))
}

func (env *testEnv) timeline(t *testing.T, executionID string) []*models.TimelineEvent {
	t.Helper()

	events, err := env.persist.TimelineRepository().ListByExecution(context.Background(), executionID)
	require.NoError(t, err)

	return events
}

func (env *testEnv) reload(t *testing.T, executionID string) *models.Execution {
	t.Helper()

	exec, err := env.persist.ExecutionRepository().GetByID(context.Background(), executionID)
	require.NoError(t, err)

	return exec
}

func countEvents(events []*models.TimelineEvent, eventType models.TimelineEventType) int {
	count := 0

	for _, e := range events {
		if e.Type == eventType {
			count++
		}
	}

	return count
}

func completions(exec *models.Execution, nodeID string) int {
	count := 0

	for _, id := range exec.CompletedNodeIDs {
		if id == nodeID {
			count++
		}
	}

	return count
}

func TestEngine_LinearFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.saveWorkflow(t, testWorkflow("start",
		[]*models.WorkflowNode{
			node("start", models.NodeTypeTrigger, nil),
			node("a", "task", nil),
			node("b", "task", nil),
			node("c", "task", nil),
		},
		[]*models.Edge{
			edge("start", "a", ""),
			edge("a", "b", ""),
			edge("b", "c", ""),
		}))

	exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, map[string]any{"key": "value"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.NotNil(t, exec.CompletedAt)
	assert.Equal(t, []string{"a", "b", "c"}, env.calls)
	assert.Equal(t, []string{"start", "a", "b", "c"}, exec.CompletedNodeIDs)

	events := env.timeline(t, exec.ID)
	require.NotEmpty(t, events)
	assert.Equal(t, models.TimelineWorkflowStarted, events[0].Type)
	assert.Equal(t, models.TimelineWorkflowCompleted, events[len(events)-1].Type)

	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Sequence, events[i-1].Sequence)
	}
}

func TestEngine_StartRejectsDraft(t *testing.T) {
	env := newTestEnv(t)

	wf := testWorkflow("a", []*models.WorkflowNode{node("a", "task", nil)}, nil)
	wf.Status = models.WorkflowStatusDraft
	env.saveWorkflow(t, wf)

	_, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.Error(t, err)

	var failure *models.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, models.FailureValidation, failure.Kind)
}

func TestEngine_StartRejectsInvalidGraph(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("a",
		[]*models.WorkflowNode{node("a", "task", nil)},
		[]*models.Edge{edge("a", "ghost", "")}))

	_, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.Error(t, err)

	var failure *models.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, models.FailureValidation, failure.Kind)
}

func TestEngine_ConditionBranchSkipsAndMerges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.saveWorkflow(t, testWorkflow("start",
		[]*models.WorkflowNode{
			node("start", "task", map[string]any{"output": map[string]any{"x": 5}}),
			node("check", models.NodeTypeCondition, map[string]any{"expression": "input.x > 1"}),
			node("yes", "task", nil),
			node("no", "task", nil),
			node("join", models.NodeTypeMerge, nil),
			node("end", "task", nil),
		},
		[]*models.Edge{
			edge("start", "check", ""),
			edge("check", "yes", models.EdgeLabelTrue),
			edge("check", "no", models.EdgeLabelFalse),
			edge("yes", "join", ""),
			edge("no", "join", ""),
			edge("join", "end", ""),
		}))

	exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Contains(t, env.calls, "yes")
	assert.NotContains(t, env.calls, "no")
	assert.True(t, exec.Skipped["no"])
	assert.Equal(t, "true", exec.NodeResults["check"].Output["selected"])
	assert.Equal(t, 1, completions(exec, "end"))

	events := env.timeline(t, exec.ID)
	assert.Equal(t, 1, countEvents(events, models.TimelineNodeSkipped))
}

func TestEngine_SwitchFallsBackToDefault(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("route",
		[]*models.WorkflowNode{
			node("route", models.NodeTypeSwitch, map[string]any{"expression": `"blue"`}),
			node("red", "task", nil),
			node("other", "task", nil),
		},
		[]*models.Edge{
			edge("route", "red", "red"),
			edge("route", "other", models.EdgeLabelDefault),
		}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, []string{"other"}, env.calls)
	assert.True(t, exec.Skipped["red"])
}

func TestEngine_SplitRunsAllBranchesBeforeMerge(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("fan",
		[]*models.WorkflowNode{
			node("fan", models.NodeTypeSplit, nil),
			node("a", "task", nil),
			node("b", "task", nil),
			node("join", models.NodeTypeMerge, nil),
			node("end", "task", nil),
		},
		[]*models.Edge{
			edge("fan", "a", ""),
			edge("fan", "b", ""),
			edge("a", "join", ""),
			edge("b", "join", ""),
			edge("join", "end", ""),
		}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, []string{"a", "b", "end"}, env.calls)

	// The merge must complete after both branches.
	order := exec.CompletedNodeIDs
	joinAt := -1

	for i, id := range order {
		if id == "join" {
			joinAt = i
		}
	}

	require.GreaterOrEqual(t, joinAt, 2)
	assert.Contains(t, order[:joinAt], "a")
	assert.Contains(t, order[:joinAt], "b")
}

func TestEngine_ForLoopIteratesItems(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("each",
		[]*models.WorkflowNode{
			node("each", models.NodeTypeFor, map[string]any{
				"items":    []any{1, 2, 3},
				"variable": "n",
			}),
			node("body", "task", map[string]any{"capture": "n"}),
			node("after", "task", nil),
		},
		[]*models.Edge{
			edge("each", "body", models.EdgeLabelBody),
			edge("each", "after", models.EdgeLabelDone),
		}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 3, completions(exec, "body"))
	assert.Equal(t, 1, completions(exec, "after"))
	assert.False(t, exec.Skipped["after"])
	assert.Empty(t, exec.LoopFrames)

	// Loop items round-trip through JSON, so compare numerically.
	require.Len(t, env.seen, 3)
	for i, v := range env.seen {
		assert.Equal(t, i+1, asInt(v))
	}
}

func TestEngine_ForLoopEmptyItemsSkipsBody(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("each",
		[]*models.WorkflowNode{
			node("each", models.NodeTypeFor, map[string]any{"items": []any{}}),
			node("body", "task", nil),
			node("after", "task", nil),
		},
		[]*models.Edge{
			edge("each", "body", models.EdgeLabelBody),
			edge("each", "after", models.EdgeLabelDone),
		}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, []string{"after"}, env.calls)
	assert.Zero(t, completions(exec, "body"))
}

func TestEngine_RepeatLoop(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("times",
		[]*models.WorkflowNode{
			node("times", models.NodeTypeRepeat, map[string]any{"count": 2}),
			node("body", "task", nil),
			node("after", "task", nil),
		},
		[]*models.Edge{
			edge("times", "body", models.EdgeLabelBody),
			edge("times", "after", models.EdgeLabelDone),
		}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 2, completions(exec, "body"))
	assert.Equal(t, 1, completions(exec, "after"))
}

func TestEngine_BreakExitsLoopEarly(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("each",
		[]*models.WorkflowNode{
			node("each", models.NodeTypeFor, map[string]any{"items": []any{1, 2, 3}}),
			node("body", "task", nil),
			node("stop", models.NodeTypeBreak, nil),
			node("after", "task", nil),
		},
		[]*models.Edge{
			edge("each", "body", models.EdgeLabelBody),
			edge("body", "stop", ""),
			edge("each", "after", models.EdgeLabelDone),
		}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 1, completions(exec, "body"))
	assert.Equal(t, 1, completions(exec, "after"))
	assert.Empty(t, exec.LoopFrames)
}

func TestEngine_ContinueEndsIteration(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("each",
		[]*models.WorkflowNode{
			node("each", models.NodeTypeFor, map[string]any{"items": []any{1, 2}}),
			node("skip", models.NodeTypeContinue, nil),
			node("unreached", "task", nil),
			node("after", "task", nil),
		},
		[]*models.Edge{
			edge("each", "skip", models.EdgeLabelBody),
			edge("skip", "unreached", ""),
			edge("each", "after", models.EdgeLabelDone),
		}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 2, completions(exec, "skip"))
	assert.NotContains(t, env.calls, "unreached")
	assert.Equal(t, 1, completions(exec, "after"))
}

func TestEngine_RetryTransientThenSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.failuresLeft["shaky"] = 2

	env.saveWorkflow(t, testWorkflow("shaky",
		[]*models.WorkflowNode{
			node("shaky", "flaky", map[string]any{"retry": fastRetry}),
		}, nil))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, []string{"shaky", "shaky", "shaky"}, env.calls)

	result := exec.NodeResults["shaky"]
	assert.Equal(t, models.NodeRunCompleted, result.Status)
	assert.Equal(t, 3, result.AttemptCount)
	require.Len(t, result.Attempts, 3)
	assert.NotEmpty(t, result.Attempts[0].Error)
	assert.Empty(t, result.Attempts[2].Error)

	events := env.timeline(t, exec.ID)
	assert.Equal(t, 2, countEvents(events, models.TimelineNodeRetrying))
}

func TestEngine_RetryExhaustionFailsExecution(t *testing.T) {
	env := newTestEnv(t)
	env.failuresLeft["shaky"] = 10

	env.saveWorkflow(t, testWorkflow("shaky",
		[]*models.WorkflowNode{
			node("shaky", "flaky", map[string]any{"retry": map[string]any{
				"max_attempts":        2,
				"initial_interval_ms": 1,
			}}),
		}, nil))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Len(t, env.calls, 2)
	assert.Equal(t, 2, exec.NodeResults["shaky"].AttemptCount)
	assert.Contains(t, exec.ErrorMessage, "connection reset")
	assert.Nil(t, exec.NextRetryAt)

	events := env.timeline(t, exec.ID)
	assert.Equal(t, 1, countEvents(events, models.TimelineNodeRetrying))
	assert.Equal(t, 1, countEvents(events, models.TimelineWorkflowFailed))
}

func TestEngine_PermanentFailureNotRetried(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("doomed",
		[]*models.WorkflowNode{
			node("doomed", "fail", map[string]any{"retry": fastRetry}),
		}, nil))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Len(t, env.calls, 1)
	assert.Equal(t, 1, exec.NodeResults["doomed"].AttemptCount)

	events := env.timeline(t, exec.ID)
	assert.Zero(t, countEvents(events, models.TimelineNodeRetrying))
}

func TestEngine_TryCatchFinally(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("guard",
		[]*models.WorkflowNode{
			node("guard", models.NodeTypeTry, nil),
			node("danger", "fail", map[string]any{"message": "upstream down"}),
			node("handler", models.NodeTypeCatch, nil),
			node("cleanup", models.NodeTypeFinally, nil),
			node("after", "task", nil),
		},
		[]*models.Edge{
			edge("guard", "danger", models.EdgeLabelBody),
			edge("guard", "handler", models.EdgeLabelCatch),
			edge("guard", "cleanup", models.EdgeLabelFinally),
			edge("guard", "after", models.EdgeLabelDone),
		}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, models.NodeRunFailed, exec.NodeResults["danger"].Status)
	assert.Equal(t, 1, completions(exec, "handler"))
	assert.Equal(t, 1, completions(exec, "cleanup"))
	assert.Equal(t, 1, completions(exec, "after"))
	assert.Empty(t, exec.TryFrames)

	caught, ok := exec.NodeResults["handler"].Output["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "upstream down", caught["message"])
	assert.Equal(t, string(models.FailurePermanent), caught["kind"])
}

func TestEngine_TryUncaughtRunsFinallyThenFails(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("guard",
		[]*models.WorkflowNode{
			node("guard", models.NodeTypeTry, nil),
			node("danger", "fail", nil),
			node("cleanup", models.NodeTypeFinally, nil),
			node("after", "task", nil),
		},
		[]*models.Edge{
			edge("guard", "danger", models.EdgeLabelBody),
			edge("guard", "cleanup", models.EdgeLabelFinally),
			edge("guard", "after", models.EdgeLabelDone),
		}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, 1, completions(exec, "cleanup"))
	assert.Zero(t, completions(exec, "after"))
	assert.Contains(t, exec.ErrorMessage, "boom")
}

func TestEngine_CatchSelectedByErrorType(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("guard",
		[]*models.WorkflowNode{
			node("guard", models.NodeTypeTry, nil),
			node("danger", "fail", nil),
			node("network", models.NodeTypeCatch, map[string]any{"error_type": "transient_runner_error"}),
			node("fallback", models.NodeTypeCatch, map[string]any{"error_type": "any"}),
		},
		[]*models.Edge{
			edge("guard", "danger", models.EdgeLabelBody),
			edge("guard", "network", models.EdgeLabelCatch),
			edge("guard", "fallback", models.EdgeLabelCatch),
		}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 1, completions(exec, "fallback"))
	assert.Zero(t, completions(exec, "network"))
	assert.True(t, exec.Skipped["network"])
}

func waitGraph() *models.Workflow {
	return testWorkflow("before",
		[]*models.WorkflowNode{
			node("before", "task", nil),
			node("hold", models.NodeTypeWait, map[string]any{"duration_seconds": 3600}),
			node("end", "task", nil),
		},
		[]*models.Edge{
			edge("before", "hold", ""),
			edge("hold", "end", ""),
		})
}

func TestEngine_WaitParksAndSignalResumes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.saveWorkflow(t, waitGraph())

	exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusWaitingForSignal, exec.Status)
	assert.Equal(t, "hold", exec.SignalNodeID)
	require.NotNil(t, exec.WakeAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *exec.WakeAt, time.Minute)
	assert.NotContains(t, env.calls, "end")

	_, err = env.eng.Signal(ctx, exec.ID, "", map[string]any{"note": "done waiting"})
	require.NoError(t, err)

	finished := env.reload(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
	assert.Empty(t, finished.SignalNodeID)
	assert.Nil(t, finished.WakeAt)
	assert.Contains(t, env.calls, "end")

	events := env.timeline(t, exec.ID)
	assert.Equal(t, 1, countEvents(events, models.TimelineWorkflowWaiting))
	assert.Equal(t, 1, countEvents(events, models.TimelineWorkflowResumed))
}

func TestEngine_SignalWrongNodeRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.saveWorkflow(t, waitGraph())

	exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	_, err = env.eng.Signal(ctx, exec.ID, "bogus", nil)
	require.Error(t, err)

	var failure *models.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, models.FailureValidation, failure.Kind)
}

func TestEngine_WaitWithoutDurationFails(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("hold",
		[]*models.WorkflowNode{
			node("hold", models.NodeTypeWait, nil),
		}, nil))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "duration_seconds")
}

func approvalGraph() *models.Workflow {
	return testWorkflow("gate",
		[]*models.WorkflowNode{
			node("gate", models.NodeTypeHumanApproval, nil),
			node("approved", "task", nil),
			node("rejected", "task", nil),
		},
		[]*models.Edge{
			edge("gate", "approved", models.EdgeLabelTrue),
			edge("gate", "rejected", models.EdgeLabelFalse),
		})
}

func TestEngine_HumanApprovalBranches(t *testing.T) {
	ctx := context.Background()

	t.Run("approved", func(t *testing.T) {
		env := newTestEnv(t)
		env.saveWorkflow(t, approvalGraph())

		exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusWaitingForSignal, exec.Status)
		assert.Nil(t, exec.WakeAt)

		_, err = env.eng.Signal(ctx, exec.ID, "gate", map[string]any{"approved": true})
		require.NoError(t, err)

		finished := env.reload(t, exec.ID)
		assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
		assert.Equal(t, []string{"approved"}, env.calls)
		assert.True(t, finished.Skipped["rejected"])
	})

	t.Run("rejected", func(t *testing.T) {
		env := newTestEnv(t)
		env.saveWorkflow(t, approvalGraph())

		exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
		require.NoError(t, err)

		_, err = env.eng.Signal(ctx, exec.ID, "gate", map[string]any{"approved": false})
		require.NoError(t, err)

		finished := env.reload(t, exec.ID)
		assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
		assert.Equal(t, []string{"rejected"}, env.calls)
		assert.True(t, finished.Skipped["approved"])
	})
}

func TestEngine_PauseIsIdempotentAndResumable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.saveWorkflow(t, waitGraph())

	exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusWaitingForSignal, exec.Status)

	paused, err := env.eng.Pause(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)

	// Second pause is a no-op, not an error.
	again, err := env.eng.Pause(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, again.Status)

	// A paused execution rejects signals until resumed.
	_, err = env.eng.Signal(ctx, exec.ID, "", nil)
	require.Error(t, err)

	// Resume restores the pre-pause waiting state.
	resumed, err := env.eng.Resume(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaitingForSignal, resumed.Status)
	assert.Equal(t, "hold", resumed.SignalNodeID)

	_, err = env.eng.Signal(ctx, exec.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, env.reload(t, exec.ID).Status)
}

func TestEngine_ResumeRequiresPaused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.saveWorkflow(t, waitGraph())

	exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	_, err = env.eng.Resume(ctx, exec.ID)
	require.Error(t, err)

	var failure *models.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, models.FailureInvalidTransition, failure.Kind)
}

func TestEngine_Terminate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.saveWorkflow(t, waitGraph())

	exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	terminated, err := env.eng.Terminate(ctx, exec.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, terminated.Status)
	assert.Contains(t, terminated.ErrorMessage, "terminated by user")
	assert.Empty(t, terminated.SignalNodeID)
	assert.Nil(t, terminated.WakeAt)
	assert.NotNil(t, terminated.CompletedAt)

	// Terminal executions reject further lifecycle operations.
	_, err = env.eng.Terminate(ctx, exec.ID)
	require.Error(t, err)

	_, err = env.eng.Pause(ctx, exec.ID)
	require.Error(t, err)
}

func TestEngine_ReplayRunsSameVersionAfterFix(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.failuresLeft["shaky"] = 10

	env.saveWorkflow(t, testWorkflow("shaky",
		[]*models.WorkflowNode{
			node("shaky", "flaky", map[string]any{"retry": map[string]any{
				"max_attempts":        1,
				"initial_interval_ms": 1,
			}}),
		}, nil))

	source, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, map[string]any{"order": "o-42"})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, source.Status)

	// The downstream dependency recovers; the replay should pass.
	env.failuresLeft["shaky"] = 0

	replay, err := env.eng.Replay(ctx, source.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, replay.Status)
	assert.Equal(t, source.ID, replay.ReplayOf)
	assert.Equal(t, models.TriggerTypeReplay, replay.TriggerType)
	assert.Equal(t, source.GraphVersion, replay.GraphVersion)
	assert.Equal(t, source.TriggerData, replay.TriggerData)
	assert.NotEqual(t, source.ID, replay.ID)

	// The failed source is untouched.
	assert.Equal(t, models.ExecutionStatusFailed, env.reload(t, source.ID).Status)

	// Only failed executions replay.
	_, err = env.eng.Replay(ctx, replay.ID)
	require.Error(t, err)
}

func TestEngine_ReplayPinsGraphVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.failuresLeft["shaky"] = 10

	wf := testWorkflow("shaky",
		[]*models.WorkflowNode{
			node("shaky", "flaky", map[string]any{"retry": map[string]any{
				"max_attempts":        1,
				"initial_interval_ms": 1,
			}}),
		}, nil)
	env.saveWorkflow(t, wf)

	source, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, source.Status)

	// Publish a new version with an extra node before replaying.
	wf.GraphVersion = 2
	wf.Nodes = append(wf.Nodes, node("extra", "task", nil))
	wf.Edges = append(wf.Edges, edge("shaky", "extra", ""))
	env.saveWorkflow(t, wf)

	env.failuresLeft["shaky"] = 0

	replay, err := env.eng.Replay(ctx, source.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, replay.Status)
	assert.Equal(t, 1, replay.GraphVersion)
	assert.NotContains(t, env.calls, "extra")
}

func TestEngine_BreakpointSuspendsAndSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.saveWorkflow(t, testWorkflow("before",
		[]*models.WorkflowNode{
			node("before", "task", nil),
			node("hold", models.NodeTypeWait, map[string]any{"duration_seconds": 3600}),
			node("n2", "task", nil),
			node("n3", "task", nil),
		},
		[]*models.Edge{
			edge("before", "hold", ""),
			edge("hold", "n2", ""),
			edge("n2", "n3", ""),
		}))

	exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusWaitingForSignal, exec.Status)

	_, err = env.eng.EnableDebug(ctx, exec.ID)
	require.NoError(t, err)

	enabled, err := env.eng.ToggleBreakpoint(ctx, exec.ID, "n2")
	require.NoError(t, err)
	assert.True(t, enabled)

	_, err = env.eng.Signal(ctx, exec.ID, "", nil)
	require.NoError(t, err)

	// Suspended before the breakpoint node: n2 must not have run.
	suspended := env.reload(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusRunning, suspended.Status)
	assert.Equal(t, models.DebugSuspended, suspended.DebugState)
	assert.Equal(t, "n2", suspended.CurrentNodeID)
	assert.NotContains(t, env.calls, "n2")

	// Step runs exactly one node and re-suspends.
	stepped, err := env.eng.Step(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DebugSuspended, stepped.DebugState)
	assert.Contains(t, env.calls, "n2")
	assert.NotContains(t, env.calls, "n3")

	// Detaching the debugger resumes normal running to completion.
	_, err = env.eng.DisableDebug(ctx, exec.ID)
	require.NoError(t, err)

	finished := env.reload(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
	assert.Contains(t, env.calls, "n3")
}

func TestEngine_StepRequiresSuspended(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.saveWorkflow(t, waitGraph())

	exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	_, err = env.eng.Step(ctx, exec.ID)
	require.Error(t, err)

	var failure *models.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, models.FailureInvalidTransition, failure.Kind)
}

func TestEngine_VariablesView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	wf := testWorkflow("write",
		[]*models.WorkflowNode{
			node("write", "task", map[string]any{"set": map[string]any{"greeting": "hello"}}),
			node("read", models.NodeTypeGetVariable, map[string]any{"name": "greeting"}),
		},
		[]*models.Edge{edge("write", "read", "")})
	wf.Variables = map[string]any{"region": "eu-west"}
	env.saveWorkflow(t, wf)

	exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "hello", exec.NodeResults["read"].Output["value"])

	view, err := env.eng.Variables(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", view.Workflow["greeting"])
	assert.Equal(t, "eu-west", view.Merged["region"])
}

func TestEngine_RunTestAppliesMocksAndSkipsWaits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	wf := testWorkflow("a",
		[]*models.WorkflowNode{
			node("a", "task", nil),
			node("hold", models.NodeTypeWait, map[string]any{"duration_seconds": 3600}),
			node("b", "task", nil),
		},
		[]*models.Edge{
			edge("a", "hold", ""),
			edge("hold", "b", ""),
		})
	// Drafts are runnable in test mode.
	wf.Status = models.WorkflowStatusDraft
	env.saveWorkflow(t, wf)

	result, err := env.eng.RunTest(ctx, "wf-1", TestRunOptions{
		TriggerData: map[string]any{"sample": true},
		MockOutputs: map[string]map[string]any{
			"a": {"value": 42},
		},
	})
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	require.NotNil(t, result.Execution)

	exec := result.Execution
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, models.TriggerTypeTest, exec.TriggerType)

	// The mocked node's runner never ran; the wait completed immediately.
	assert.NotContains(t, env.calls, "a")
	assert.Contains(t, env.calls, "b")
	assert.Equal(t, 42, asInt(exec.NodeResults["a"].Output["value"]))
	assert.Equal(t, true, exec.NodeResults["hold"].Output["skipped_wait"])
	assert.NotEmpty(t, result.Timeline)
}

func TestEngine_RunTestReportsInvalidGraph(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("a",
		[]*models.WorkflowNode{node("a", "task", nil)},
		[]*models.Edge{edge("a", "ghost", "")}))

	result, err := env.eng.RunTest(context.Background(), "wf-1", TestRunOptions{})
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
	assert.Nil(t, result.Execution)
}

func TestEngine_LoopDownstreamChainRuns(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("each",
		[]*models.WorkflowNode{
			node("each", models.NodeTypeFor, map[string]any{"items": []any{1, 2}}),
			node("body", "task", nil),
			node("after", "task", nil),
			node("final", "task", nil),
		},
		[]*models.Edge{
			edge("each", "body", models.EdgeLabelBody),
			edge("each", "after", models.EdgeLabelDone),
			edge("after", "final", ""),
		}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	// Nodes behind the done edge stay pending while iterations run; they
	// must never end up skipped.
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, []string{"body", "body", "after", "final"}, env.calls)
	assert.False(t, exec.Skipped["after"])
	assert.False(t, exec.Skipped["final"])
	assert.Equal(t, 1, completions(exec, "final"))
}

func TestEngine_SwitchWithoutMatchingEdgeFails(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("route",
		[]*models.WorkflowNode{
			node("route", models.NodeTypeSwitch, map[string]any{"expression": `"blue"`}),
			node("red", "task", nil),
		},
		[]*models.Edge{edge("route", "red", "red")}))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "no matching")
	assert.Empty(t, env.calls)
}

func TestEngine_ReplayResumesFromFailedNode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.failuresLeft["b"] = 1

	env.saveWorkflow(t, testWorkflow("a",
		[]*models.WorkflowNode{
			node("a", "task", nil),
			node("b", "flaky", map[string]any{"retry": map[string]any{
				"max_attempts":        1,
				"initial_interval_ms": 1,
			}}),
		},
		[]*models.Edge{edge("a", "b", "")}))

	source, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, source.Status)

	replay, err := env.eng.Replay(ctx, source.ID)
	require.NoError(t, err)

	// Only the failed node runs again; the completed prefix replays from
	// its recorded outputs.
	assert.Equal(t, models.ExecutionStatusCompleted, replay.Status)
	assert.Equal(t, []string{"a", "b", "b"}, env.calls)
	assert.Equal(t, "a", replay.NodeResults["a"].Output["node"])
	assert.Equal(t, 1, completions(replay, "a"))
	assert.Equal(t, 1, completions(replay, "b"))
}

func TestEngine_ReplayRerunsLoopBody(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.failuresLeft["tail"] = 1

	env.saveWorkflow(t, testWorkflow("each",
		[]*models.WorkflowNode{
			node("each", models.NodeTypeFor, map[string]any{"items": []any{1, 2}}),
			node("body", "task", nil),
			node("tail", "flaky", map[string]any{"retry": map[string]any{
				"max_attempts":        1,
				"initial_interval_ms": 1,
			}}),
		},
		[]*models.Edge{
			edge("each", "body", models.EdgeLabelBody),
			edge("each", "tail", models.EdgeLabelDone),
		}))

	source, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, source.Status)

	replay, err := env.eng.Replay(ctx, source.ID)
	require.NoError(t, err)

	// A node that completed once per iteration has no single recorded
	// output to replay, so the loop body executes again.
	assert.Equal(t, models.ExecutionStatusCompleted, replay.Status)
	assert.Equal(t, []string{"body", "body", "tail", "body", "body", "tail"}, env.calls)
	assert.Equal(t, 2, completions(replay, "body"))
}

func TestEngine_PauseDuringNodeRunIsNotLost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})

	var execID string

	env.reg.RegisterRunner(&stubFactory{id: "block", run: func(ctx context.Context, input protocol.RunnerInput) (*protocol.RunnerResult, error) {
		env.calls = append(env.calls, input.Node.ID)
		execID = input.ExecutionID
		close(entered)

		select {
		case <-release:
			return &protocol.RunnerResult{Output: map[string]any{"ok": true}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}})

	env.saveWorkflow(t, testWorkflow("gate",
		[]*models.WorkflowNode{
			node("gate", "block", nil),
			node("b", "task", nil),
		},
		[]*models.Edge{edge("gate", "b", "")}))

	done := make(chan *models.Execution, 1)

	go func() {
		exec, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
		assert.NoError(t, err)
		done <- exec
	}()

	<-entered

	// Pause lands while the node is still running; the actor's save at the
	// node boundary must not overwrite it.
	_, err := env.eng.Pause(ctx, execID)
	require.NoError(t, err)

	close(release)
	exec := <-done

	require.NotNil(t, exec)
	assert.Equal(t, models.ExecutionStatusPaused, exec.Status)
	assert.Equal(t, models.NodeRunCompleted, exec.NodeResults["gate"].Status)
	assert.NotContains(t, env.calls, "b")

	_, err = env.eng.Resume(ctx, execID)
	require.NoError(t, err)

	finished := env.reload(t, execID)
	assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
	assert.Contains(t, env.calls, "b")
}

func TestEngine_TerminateCancelsInFlightNode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entered := make(chan struct{})

	var execID string

	env.reg.RegisterRunner(&stubFactory{id: "hang", run: func(ctx context.Context, input protocol.RunnerInput) (*protocol.RunnerResult, error) {
		execID = input.ExecutionID
		close(entered)

		<-ctx.Done()

		return nil, ctx.Err()
	}})

	env.saveWorkflow(t, testWorkflow("hang",
		[]*models.WorkflowNode{
			node("hang", "hang", nil),
			node("b", "task", nil),
		},
		[]*models.Edge{edge("hang", "b", "")}))

	done := make(chan struct{})

	go func() {
		_, err := env.eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
		assert.NoError(t, err)
		close(done)
	}()

	<-entered

	terminated, err := env.eng.Terminate(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, terminated.Status)

	// The run context is cancelled, so the hanging node returns instead of
	// running to completion.
	<-done

	final := env.reload(t, execID)
	assert.Equal(t, models.ExecutionStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "terminated by user")
	assert.NotContains(t, env.calls, "b")
}

func TestEngine_NodeTimeoutRetriesThenFails(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("stuck",
		[]*models.WorkflowNode{
			node("stuck", "slow", map[string]any{
				"timeout_ms": 20,
				"retry": map[string]any{
					"max_attempts":        2,
					"initial_interval_ms": 1,
				},
			}),
		}, nil))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Len(t, env.calls, 2)
	assert.Contains(t, exec.ErrorMessage, "timed out")

	events := env.timeline(t, exec.ID)
	assert.Equal(t, 1, countEvents(events, models.TimelineNodeRetrying))
}

func TestEngine_NodeTimeoutFatalWhenConfigured(t *testing.T) {
	env := newTestEnv(t)

	env.saveWorkflow(t, testWorkflow("stuck",
		[]*models.WorkflowNode{
			node("stuck", "slow", map[string]any{
				"timeout_ms": 20,
				"on_timeout": "fail",
				"retry":      fastRetry,
			}),
		}, nil))

	exec, err := env.eng.Start(context.Background(), "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Len(t, env.calls, 1)
	assert.Contains(t, exec.ErrorMessage, "timed out")

	events := env.timeline(t, exec.ID)
	assert.Zero(t, countEvents(events, models.TimelineNodeRetrying))
}

func TestEngine_LongRetryDelayHandsOffToActivator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.failuresLeft["shaky"] = 1

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(logger, env.persist, env.reg, &recordingBus{}, nil)

	env.saveWorkflow(t, testWorkflow("shaky",
		[]*models.WorkflowNode{
			node("shaky", "flaky", map[string]any{"retry": map[string]any{
				"max_attempts":        3,
				"initial_interval_ms": 60000,
			}}),
		}, nil))

	exec, err := eng.Start(ctx, "wf-1", models.TriggerTypeManual, nil)
	require.NoError(t, err)

	// With a bus the start only queues; run the work event by hand.
	require.NoError(t, eng.runByID(ctx, exec.ID, nil))

	parked := env.reload(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusRunning, parked.Status)
	assert.Equal(t, 1, parked.RetryCount)
	require.NotNil(t, parked.NextRetryAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Minute), *parked.NextRetryAt, 15*time.Second)
	assert.Equal(t, models.NodeRunFailed, parked.NodeResults["shaky"].Status)
	require.Len(t, parked.NodeResults["shaky"].Attempts, 1)
	assert.Len(t, env.calls, 1)

	// The activator republishes when the timer is due; the resumed run
	// keeps counting attempts where the first left off.
	require.NoError(t, eng.runByID(ctx, exec.ID, &events.ExecutionResumed{Reason: "retry"}))

	finished := env.reload(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
	assert.Zero(t, finished.RetryCount)
	assert.Nil(t, finished.NextRetryAt)

	result := finished.NodeResults["shaky"]
	assert.Equal(t, models.NodeRunCompleted, result.Status)
	assert.Equal(t, 2, result.AttemptCount)
	require.Len(t, result.Attempts, 2)
	assert.NotEmpty(t, result.Attempts[0].Error)
	assert.Empty(t, result.Attempts[1].Error)
}

// recordingBus satisfies the bus interface without a broker so queueing and
// handoff behavior is observable in-process.
type recordingBus struct {
	published []eventbus.Event
	nextID    int
}

func (b *recordingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.published = append(b.published, event)

	return nil
}

func (b *recordingBus) Handle(_ events.EventType, _ eventbus.EventHandler) error { return nil }
func (b *recordingBus) Subscribe(_ context.Context) error                        { return nil }
func (b *recordingBus) Close() error                                             { return nil }

func (b *recordingBus) GenerateID() string {
	b.nextID++

	return fmt.Sprintf("bus-%d", b.nextID)
}

// asInt normalizes JSON number round-trips for assertions.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case int64:
		return int(n)
	}

	return -1
}
