// Package httpcall is a built-in capability that performs an HTTP
// request. Register it as "http.request".
package httpcall

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request performs the call described by kwargs: url (required), method
// (default GET), body, timeout (seconds, default 30). 4xx/5xx responses
// fail the task.
func Request(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	url, _ := kwargs["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	method, _ := kwargs["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	timeout := 30.0
	if v, ok := kwargs["timeout"].(float64); ok && v > 0 {
		timeout = v
	}

	var body io.Reader
	if s, ok := kwargs["body"].(string); ok && s != "" {
		body = strings.NewReader(s)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	client := &http.Client{Timeout: time.Duration(timeout * float64(time.Second))}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d error: %s", resp.StatusCode, string(respBody))
	}
	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}, nil
}
