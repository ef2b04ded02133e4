package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-transducer/internal/common"
)

// StatusError is returned for non-2xx responses. Body holds the raw response for diagnostics.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx status: %d: %s", e.StatusCode, truncate(string(e.Body), 512))
}

// SendJSON POSTs a JSON body to a full URL with optional headers and returns the raw response body.
// It does not assume any provider (OpenAI/Replicate/etc.). Callers decide the URL and headers.
func SendJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, logger *slog.Logger) ([]byte, int, error) {
	return DoJSON(ctx, client, http.MethodPost, url, body, headers, logger)
}

// DoJSON is SendJSON for an arbitrary method. A nil body sends no payload.
func DoJSON(ctx context.Context, client *http.Client, method, url string, body any, headers map[string]string, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}

	reqID := uuid.New().String()
	start := time.Now()
	if taskID := common.TaskIDFromContext(ctx); taskID != "" {
		logger = logger.With("task_id", taskID)
	}
	if traceID := common.RequestIDFromContext(ctx); traceID != "" {
		logger = logger.With("trace_id", traceID)
	}

	var payload io.Reader
	size := 0
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			logger.Error("llm.http.encode_error", "req_id", reqID, "error", err)
			return nil, 0, fmt.Errorf("encode json: %w", err)
		}
		payload = bytes.NewReader(bs)
		size = len(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		logger.Error("llm.http.build_request_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	// Default headers; allow caller overrides.
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Debug("llm.http.request",
		"req_id", reqID,
		"method", method,
		"url", url,
		"content_length", size,
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("llm.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logger.Warn("llm.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("llm.http.read_error", "req_id", reqID, "error", err)
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	logger.Debug("llm.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: raw}
	}
	return raw, resp.StatusCode, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
