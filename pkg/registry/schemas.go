package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

// ErrInvalidNodeConfig is wrapped by all schema validation failures.
var ErrInvalidNodeConfig = errors.New("invalid node config")

// ValidateConfig checks a node config against its type's JSON schema.
// Runner types without a declared schema accept any config.
func (r *Registry) ValidateConfig(nodeType string, config map[string]any) error {
	factory, ok := r.runnerFactories[nodeType]
	if !ok {
		return nil
	}

	schema := factory.Schema()
	if len(schema) == 0 {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("schema validation for %q: %w", nodeType, err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return fmt.Errorf("%w: type %q: %s", ErrInvalidNodeConfig, nodeType, strings.Join(details, "; "))
}

// ValidateWorkflowConfigs validates every runner-backed node in a graph at
// save time, so a bad config never reaches dispatch.
func (r *Registry) ValidateWorkflowConfigs(workflow *models.Workflow) error {
	for _, node := range workflow.Nodes {
		if !r.HasRunner(node.Type) {
			continue
		}

		if err := r.ValidateConfig(node.Type, node.Config); err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}
	}

	return nil
}
