package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-transducer/constants"
	"github.com/joseph-ayodele/docs-transducer/internal/common"
	"github.com/joseph-ayodele/docs-transducer/internal/llm"
)

// Transform implements llm.Transformer using text-only chat/completions.
func (c *Client) Transform(ctx context.Context, sourceText string, mode llm.Mode) llm.Result {
	model := c.cfg.Model
	if !c.Configured() {
		c.log.Warn("llm.transform.skipped", "mode", mode, "reason", "missing api key")
		return llm.Result{Status: constants.StageSkipped, Reason: ptr("OPENAI_API_KEY not configured")}
	}
	if !mode.Valid() {
		return failed(model, fmt.Sprintf("unknown mode %q", mode))
	}
	if strings.TrimSpace(sourceText) == "" {
		return failed(model, "empty source text")
	}

	rid := uuid.New().String()
	start := time.Now()
	c.log.Info("llm.transform.start",
		"req_id", rid,
		"mode", mode,
		"model", model,
		"text_len", len(sourceText),
	)

	body := map[string]any{
		"model":       model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "system", "content": llm.SystemPrompt(mode)},
			{"role": "user", "content": sourceText},
		},
	}
	text, err := c.ChatCompletion(ctx, body)
	if err != nil {
		c.log.Error("llm.transform.error",
			"req_id", rid, "mode", mode, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return failed(model, common.ErrorReason(err))
	}
	if text == "" {
		c.log.Warn("llm.transform.empty", "req_id", rid, "mode", mode)
		return failed(model, "empty response")
	}

	c.log.Info("llm.transform.ok",
		"req_id", rid,
		"mode", mode,
		"output_len", len(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.Result{Status: constants.StageCompleted, Model: ptr(model), Text: ptr(text)}
}

// ChatCompletion posts body to /chat/completions and returns the trimmed first choice.
// An empty string with a nil error means the response had no usable content.
func (c *Client) ChatCompletion(ctx context.Context, body map[string]any) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, _, err := llm.SendJSON(ctx, c.httpClient, endpoint, body, c.authHeaders(), c.log)
	if err != nil {
		return "", err
	}
	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

// Responses posts body to /responses and returns the concatenated output text.
func (c *Client) Responses(ctx context.Context, body map[string]any) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/responses"
	raw, _, err := llm.SendJSON(ctx, c.httpClient, endpoint, body, c.authHeaders(), c.log)
	if err != nil {
		return "", err
	}
	var rr struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(raw, &rr); err != nil {
		return "", fmt.Errorf("decode responses payload: %w", err)
	}
	if s := strings.TrimSpace(rr.OutputText); s != "" {
		return s, nil
	}
	var parts []string
	for _, o := range rr.Output {
		for _, part := range o.Content {
			if strings.TrimSpace(part.Text) != "" {
				parts = append(parts, part.Text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

func (c *Client) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

func failed(model, reason string) llm.Result {
	return llm.Result{Status: constants.StageFailed, Model: ptr(model), Reason: ptr(reason)}
}

func ptr(s string) *string { return &s }
