// Package template renders node config strings against execution state,
// used for personalization references and transform nodes.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

// RenderWithExecution renders a template string with the execution's full
// read view: scoped variables, trigger data, prior node outputs and metadata.
func RenderWithExecution(input string, exec *models.Execution) (any, error) {
	outputs := make(map[string]any, len(exec.NodeResults))
	for id, r := range exec.NodeResults {
		outputs[id] = r.Output
	}

	data := map[string]any{
		"variables":    exec.ScopedVariables(),
		"vars":         exec.ScopedVariables(),
		"trigger_data": exec.TriggerData,
		"node_results": outputs,
		"results":      outputs,
		"metadata":     exec.Metadata,
		"execution": map[string]any{
			"id":          exec.ID,
			"workflow_id": exec.WorkflowID,
		},
	}

	return Render(input, data)
}

// NeedsTemplating reports whether a config string contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// Render executes a template string against data. Results that look like
// JSON, numbers or booleans come back typed; everything else is a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("render").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)
				if _, err := rand.Read(num); err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult, nil
		}
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderConfig renders every templated string value in a node config map,
// leaving non-templated values untouched.
func RenderConfig(config map[string]any, exec *models.Execution) (map[string]any, error) {
	rendered := make(map[string]any, len(config))

	for key, value := range config {
		str, ok := value.(string)
		if !ok || !NeedsTemplating(str) {
			rendered[key] = value

			continue
		}

		out, err := RenderWithExecution(str, exec)
		if err != nil {
			return nil, fmt.Errorf("failed to render config key %q: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}
