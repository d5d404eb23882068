package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

// TimelineRepository stores one JSON array per execution. Sequence numbers
// are assigned on append; the mutex serializes concurrent appenders from
// different writer goroutines (the activator and a worker may race).
type TimelineRepository struct {
	root string
	mu   sync.Mutex
}

// NewTimelineRepository creates a new timeline repository.
func NewTimelineRepository(root string) *TimelineRepository {
	return &TimelineRepository{root: root}
}

// Append adds events to the execution's timeline, assigning sequence numbers
// following the stored tail.
func (tr *TimelineRepository) Append(ctx context.Context, events ...*models.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	executionID := events[0].ExecutionID

	existing, err := tr.listLocked(executionID)
	if err != nil {
		return err
	}

	next := int64(1)
	if n := len(existing); n > 0 {
		next = existing[n-1].Sequence + 1
	}

	for _, event := range events {
		if event.ExecutionID != executionID {
			return fmt.Errorf("timeline append spans executions %s and %s", executionID, event.ExecutionID)
		}

		if event.ID == "" {
			event.ID = uuid.New().String()
		}

		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		event.Sequence = next
		next++

		existing = append(existing, event)
	}

	if err := os.MkdirAll(path.Join(tr.root, "timelines"), 0750); err != nil {
		return fmt.Errorf("failed to create timelines directory: %w", err)
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal timeline %s: %w", executionID, err)
	}

	filePath := path.Join(tr.root, "timelines", executionID+".json")
	if err := writeFileAtomic(filePath, data); err != nil {
		return fmt.Errorf("failed to write timeline %s: %w", executionID, err)
	}

	return nil
}

// ListByExecution returns the execution's events in sequence order. A missing
// timeline file is an empty timeline, not an error.
func (tr *TimelineRepository) ListByExecution(_ context.Context, executionID string) ([]*models.TimelineEvent, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return tr.listLocked(executionID)
}

func (tr *TimelineRepository) listLocked(executionID string) ([]*models.TimelineEvent, error) {
	filePath := filepath.Clean(path.Join(tr.root, "timelines", executionID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.TimelineEvent{}, nil
		}

		return nil, fmt.Errorf("failed to fetch timeline %s: %w", executionID, err)
	}

	var events []*models.TimelineEvent

	err = json.Unmarshal(body, &events)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal timeline %s: %w", executionID, err)
	}

	return events, nil
}
