// Package triggers runs workflow front doors. The Manager scans published
// workflows for trigger nodes and keeps one running trigger per node.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/persistence"
	"github.com/weblisite/synthralos-engine/pkg/protocol"
	"github.com/weblisite/synthralos-engine/pkg/registry"
)

const listPageSize = 100

// Starter creates executions for fired triggers. Satisfied by engine.Engine.
type Starter interface {
	Start(ctx context.Context, workflowID string, triggerType models.TriggerType, triggerData map[string]any) (*models.Execution, error)
}

type Manager struct {
	persist  persistence.Persistence
	registry *registry.Registry
	starter  Starter
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]protocol.Trigger
}

func NewManager(logger *slog.Logger, persist persistence.Persistence, reg *registry.Registry, starter Starter) *Manager {
	return &Manager{
		persist:  persist,
		registry: reg,
		starter:  starter,
		logger:   logger.With("module", "trigger_manager"),
		running:  make(map[string]protocol.Trigger),
	}
}

// Run starts triggers for every published workflow and blocks until the
// context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	workflows, err := m.publishedWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("failed to list published workflows: %w", err)
	}

	m.logger.InfoContext(ctx, "Starting trigger manager", "workflows", len(workflows))

	var wg sync.WaitGroup

	for _, wf := range workflows {
		for _, node := range wf.Nodes {
			if node.Type != models.NodeTypeTrigger || !node.Enabled {
				continue
			}

			wg.Add(1)

			go func(wf *models.Workflow, node *models.WorkflowNode) {
				defer wg.Done()

				if err := m.runTrigger(ctx, wf, node); err != nil {
					m.logger.ErrorContext(ctx, "Trigger stopped with error",
						"workflow_id", wf.ID, "node_id", node.ID, "error", err)
				}
			}(wf, node)
		}
	}

	<-ctx.Done()
	m.stopAll()
	wg.Wait()

	m.logger.Info("Trigger manager stopped")

	return nil
}

func (m *Manager) publishedWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	published := models.WorkflowStatusPublished
	all := make([]*models.Workflow, 0)

	for offset := 0; ; offset += listPageSize {
		result, err := m.persist.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
			Status: &published,
			Limit:  listPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}

		all = append(all, result.Workflows...)

		if !result.HasNextPage {
			return all, nil
		}
	}
}

func (m *Manager) runTrigger(ctx context.Context, wf *models.Workflow, node *models.WorkflowNode) error {
	sourceType, _ := node.Config["type"].(string)
	if sourceType == "" {
		sourceType = "webhook"
	}

	config := make(map[string]any, len(node.Config)+2)
	for k, v := range node.Config {
		config[k] = v
	}

	config["workflow_id"] = wf.ID
	config["node_id"] = node.ID

	trigger, err := m.registry.CreateTrigger(ctx, sourceType, config, m.logger)
	if err != nil {
		return fmt.Errorf("failed to create %s trigger: %w", sourceType, err)
	}

	key := wf.ID + ":" + node.ID

	m.mu.Lock()
	m.running[key] = trigger
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.running, key)
		m.mu.Unlock()
	}()

	m.logger.InfoContext(ctx, "Starting trigger",
		"workflow_id", wf.ID, "node_id", node.ID, "type", sourceType)

	return trigger.Start(ctx, m.callback())
}

func (m *Manager) callback() protocol.TriggerCallback {
	return func(ctx context.Context, workflowID string, triggerType models.TriggerType, triggerData map[string]any) (string, error) {
		exec, err := m.starter.Start(ctx, workflowID, triggerType, triggerData)
		if err != nil {
			m.logger.ErrorContext(ctx, "Failed to start execution from trigger",
				"workflow_id", workflowID, "trigger_type", triggerType, "error", err)

			return "", err
		}

		m.logger.InfoContext(ctx, "Trigger started execution",
			"workflow_id", workflowID, "execution_id", exec.ID, "trigger_type", triggerType)

		return exec.ID, nil
	}
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, trigger := range m.running {
		if err := trigger.Stop(context.Background()); err != nil {
			m.logger.Error("Error stopping trigger", "key", key, "error", err)
		}
	}
}
