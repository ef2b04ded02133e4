package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/docs-transducer/constants"
	"github.com/joseph-ayodele/docs-transducer/internal/common"
	"github.com/joseph-ayodele/docs-transducer/internal/llm"
)

type InferenceConfig struct {
	APIToken     string
	BaseURL      string        // default https://api.replicate.com/v1
	ModelVersion string        // prediction version id
	PollInterval time.Duration // default 4s
	Timeout      time.Duration // wall-clock bound on polling, default 300s
	HTTPTimeout  time.Duration // per request, default 30s
}

// InferenceProvider runs OCR as a remote prediction job and polls it to completion.
type InferenceProvider struct {
	cfg  InferenceConfig
	http *http.Client
	log  *slog.Logger
}

func NewInferenceProvider(cfg InferenceConfig, logger *slog.Logger) *InferenceProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.replicate.com/v1"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return &InferenceProvider{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
		log:  logger,
	}
}

func (p *InferenceProvider) Name() constants.OCRModel { return constants.OCRModelInference }

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

func (p *InferenceProvider) Extract(ctx context.Context, in ImageInput, opts CallOptions) Result {
	if p.cfg.APIToken == "" {
		return Skipped("inference api token not configured")
	}
	model := p.modelName()

	data, mt, err := in.load()
	if err != nil {
		p.log.Error("ocr.inference.input_error", "path", in.Path, "error", err)
		return Failed(model, common.ErrorReason(err))
	}

	job, err := p.submit(ctx, llm.DataURL(data, mt))
	if err != nil {
		p.log.Error("ocr.inference.submit_error", "path", in.Path, "error", err)
		return Failed(model, common.ErrorReason(err))
	}
	if job.ID == "" {
		return Failed(model, "remote job returned no id")
	}
	p.log.Info("ocr.inference.submitted", "job_id", job.ID, "path", in.Path)
	if opts.OnJobSubmitted != nil {
		opts.OnJobSubmitted(job.ID)
	}

	start := time.Now()
	for {
		if opts.cancelled(ctx) {
			p.log.Info("ocr.inference.cancelled", "job_id", job.ID)
			p.cancelDetached(ctx, job.ID)
			return Failed(model, constants.ReasonCancelled)
		}
		if done, res := p.settle(job, model); done {
			return res
		}
		if elapsed := time.Since(start); elapsed >= p.cfg.Timeout {
			p.log.Warn("ocr.inference.timeout", "job_id", job.ID, "elapsed_ms", elapsed.Milliseconds())
			p.cancelDetached(ctx, job.ID)
			return Failed(model, fmt.Sprintf("remote job %s timed out after %s", job.ID, p.cfg.Timeout))
		}

		select {
		case <-ctx.Done():
			return Failed(model, common.ErrorReason(ctx.Err()))
		case <-time.After(p.cfg.PollInterval):
		}

		next, err := p.get(ctx, job.ID)
		if err != nil {
			// transient; the wall-clock bound above still applies
			p.log.Warn("ocr.inference.poll_error", "job_id", job.ID, "error", err)
			continue
		}
		job = next
	}
}

// settle maps a terminal prediction to a Result; done is false while the job is running.
func (p *InferenceProvider) settle(job prediction, model string) (bool, Result) {
	switch job.Status {
	case "succeeded":
		text := StripHTML(outputText(job.Output))
		if text == "" {
			return true, Failed(model, "empty OCR result")
		}
		p.log.Info("ocr.inference.ok", "job_id", job.ID, "text_len", len(text))
		return true, Completed(model, text)
	case "failed", "canceled":
		reason := fmt.Sprintf("remote job %s", job.Status)
		if job.Error != nil {
			reason = fmt.Sprintf("%s: %v", reason, job.Error)
		}
		p.log.Warn("ocr.inference.remote_failure", "job_id", job.ID, "status", job.Status, "error", job.Error)
		return true, Failed(model, reason)
	}
	return false, Result{}
}

// Cancel asks the remote service to stop a job. Used by the job registry.
func (p *InferenceProvider) Cancel(ctx context.Context, jobID string) error {
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/predictions/" + jobID + "/cancel"
	_, _, err := llm.DoJSON(ctx, p.http, http.MethodPost, url, nil, p.headers(), p.log)
	if err != nil {
		return fmt.Errorf("cancel remote job %s: %w", jobID, err)
	}
	return nil
}

func (p *InferenceProvider) cancelDetached(ctx context.Context, jobID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.Cancel(cctx, jobID); err != nil {
		p.log.Warn("ocr.inference.cancel_failed", "job_id", jobID, "error", err)
	}
}

func (p *InferenceProvider) submit(ctx context.Context, dataURL string) (prediction, error) {
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/predictions"
	body := map[string]any{
		"version": p.cfg.ModelVersion,
		"input":   map[string]any{"image": dataURL},
	}
	raw, _, err := llm.SendJSON(ctx, p.http, url, body, p.headers(), p.log)
	if err != nil {
		return prediction{}, err
	}
	var out prediction
	if err := json.Unmarshal(raw, &out); err != nil {
		return prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	return out, nil
}

func (p *InferenceProvider) get(ctx context.Context, id string) (prediction, error) {
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/predictions/" + id
	raw, _, err := llm.DoJSON(ctx, p.http, http.MethodGet, url, nil, p.headers(), p.log)
	if err != nil {
		return prediction{}, err
	}
	var out prediction
	if err := json.Unmarshal(raw, &out); err != nil {
		return prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	return out, nil
}

func (p *InferenceProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.cfg.APIToken}
}

func (p *InferenceProvider) modelName() string {
	if p.cfg.ModelVersion != "" {
		return p.cfg.ModelVersion
	}
	return string(constants.OCRModelInference)
}

// outputText flattens a prediction output: a string, or a list of streamed segments.
func outputText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []any
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, part := range parts {
			if v, ok := part.(string); ok {
				b.WriteString(v)
			} else if part != nil {
				fmt.Fprint(&b, part)
			}
		}
		return b.String()
	}
	return string(raw)
}
