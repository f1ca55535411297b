// Package httpreq provides the core/http_request capability for workflow
// steps that call external HTTP services.
package httpreq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrMissingURL indicates the resolved input carries no 'url' value.
var ErrMissingURL = errors.New("missing or invalid 'url' in input")

const defaultTimeoutSeconds = 30

// Handler implements the core/http_request capability. The task-level timeout
// budget still applies on top of the client timeout.
type Handler struct {
	client *http.Client
	logger *slog.Logger
}

// NewHandler creates the HTTP request capability handler.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		client: &http.Client{Timeout: defaultTimeoutSeconds * time.Second},
		logger: logger.With("module", "http_request_capability"),
	}
}

func (*Handler) Capability() string {
	return "core"
}

func (*Handler) Action() string {
	return "http_request"
}

func (h *Handler) Execute(ctx context.Context, input map[string]any) (any, error) {
	url, ok := input["url"].(string)
	if !ok || url == "" {
		return nil, ErrMissingURL
	}

	method, _ := input["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	method = strings.ToUpper(method)

	var body io.Reader

	if rawBody, exists := input["body"]; exists {
		switch b := rawBody.(type) {
		case string:
			body = strings.NewReader(b)
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("failed to encode request body: %w", err)
			}

			body = strings.NewReader(string(encoded))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if headers, ok := input["headers"].(map[string]any); ok {
		for k, v := range headers {
			if value, ok := v.(string); ok {
				req.Header.Set(k, value)
			}
		}
	}

	h.logger.InfoContext(ctx, "Executing HTTP request", "method", method, "url", url)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			h.logger.WarnContext(ctx, "Failed to close response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("request to %s returned status %d", url, resp.StatusCode)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        parsed,
	}, nil
}
