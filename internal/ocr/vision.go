package ocr

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docs-transducer/constants"
	"github.com/joseph-ayodele/docs-transducer/internal/common"
	"github.com/joseph-ayodele/docs-transducer/internal/llm"
	"github.com/joseph-ayodele/docs-transducer/internal/llm/openai"
)

// VisionProvider extracts text with one synchronous multimodal chat call.
type VisionProvider struct {
	client *openai.Client
	log    *slog.Logger
}

func NewVisionProvider(client *openai.Client, logger *slog.Logger) *VisionProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionProvider{client: client, log: logger}
}

func (p *VisionProvider) Name() constants.OCRModel { return constants.OCRModelVision }

func (p *VisionProvider) Extract(ctx context.Context, in ImageInput, _ CallOptions) Result {
	if p.client == nil || !p.client.Configured() {
		return Skipped("vision api key not configured")
	}
	model := p.client.Model()
	start := time.Now()

	data, mt, err := in.load()
	if err != nil {
		p.log.Error("ocr.vision.input_error", "path", in.Path, "error", err)
		return Failed(model, common.ErrorReason(err))
	}
	url := llm.DataURL(data, mt)

	p.log.Info("ocr.vision.request", "model", model, "path", in.Path, "bytes", len(data))
	text, err := p.client.ChatCompletion(ctx, map[string]any{
		"model": model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": llm.OCRPrompt},
					{"type": "image_url", "image_url": map[string]any{"url": url}},
				},
			},
		},
	})
	if err != nil {
		p.log.Error("ocr.vision.error", "model", model, "path", in.Path, "error", err)
		return Failed(model, common.ErrorReason(err))
	}

	if text == "" {
		// No choices in the chat shape: retry once through the responses API.
		p.log.Warn("ocr.vision.fallback", "model", model, "path", in.Path)
		text, err = p.client.Responses(ctx, map[string]any{
			"model": model,
			"input": []map[string]any{
				{
					"role": "user",
					"content": []map[string]any{
						{"type": "input_text", "text": llm.OCRPrompt},
						{"type": "input_image", "image_url": url},
					},
				},
			},
		})
		if err != nil {
			p.log.Error("ocr.vision.error", "model", model, "path", in.Path, "error", err)
			return Failed(model, common.ErrorReason(err))
		}
	}

	text = Normalize(text)
	if text == "" {
		return Failed(model, "empty OCR result")
	}
	p.log.Info("ocr.vision.ok", "model", model, "path", in.Path, "text_len", len(text),
		"elapsed_ms", time.Since(start).Milliseconds())
	return Completed(model, text)
}
