// Package httprequest provides the HTTP request node runner.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/protocol"
	"github.com/weblisite/synthralos-engine/pkg/template"
)

const defaultTimeoutSeconds = 30

// ErrMissingURL is returned when the node config has no url.
var ErrMissingURL = errors.New("missing or invalid 'url' in configuration")

// Runner performs one HTTP request. Network and 5xx failures are transient;
// 4xx responses are permanent business failures.
type Runner struct {
	nodeID  string
	method  string
	url     string
	headers map[string]string
	body    string
	timeout time.Duration
	client  *http.Client
}

func NewRunner(nodeID string, config map[string]any) (*Runner, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrMissingURL
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	return &Runner{
		nodeID:  nodeID,
		method:  strings.ToUpper(method),
		url:     url,
		headers: headers,
		body:    body,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (r *Runner) Run(ctx context.Context, input protocol.RunnerInput) (*protocol.RunnerResult, error) {
	url := r.url
	body := r.body

	templateData := map[string]any{
		"variables":    input.Variables,
		"vars":         input.Variables,
		"trigger_data": input.TriggerData,
		"input":        input.Input,
	}

	if template.NeedsTemplating(url) {
		rendered, err := template.Render(url, templateData)
		if err != nil {
			return nil, models.NewValidationFailure(r.nodeID, fmt.Sprintf("failed to render url: %v", err))
		}

		url = fmt.Sprintf("%v", rendered)
	}

	if template.NeedsTemplating(body) {
		rendered, err := template.Render(body, templateData)
		if err != nil {
			return nil, models.NewValidationFailure(r.nodeID, fmt.Sprintf("failed to render body: %v", err))
		}

		switch v := rendered.(type) {
		case string:
			body = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, models.NewValidationFailure(r.nodeID, fmt.Sprintf("failed to encode body: %v", err))
			}

			body = string(encoded)
		}
	}

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, url, reqBody)
	if err != nil {
		return nil, models.NewValidationFailure(r.nodeID, err.Error())
	}

	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, models.NewCancelledFailure(r.nodeID)
		}

		return nil, models.NewTransientFailure(r.nodeID, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewTransientFailure(r.nodeID, err.Error())
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     flattenHeaders(resp.Header),
	}

	var parsed any
	if json.Unmarshal(respBody, &parsed) == nil {
		output["body"] = parsed
	} else {
		output["body"] = string(respBody)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, models.NewTransientFailure(r.nodeID, fmt.Sprintf("upstream returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, models.NewPermanentFailure(r.nodeID, fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}

	return &protocol.RunnerResult{Output: output}, nil
}

func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for k := range h {
		flat[k] = h.Get(k)
	}

	return flat
}
