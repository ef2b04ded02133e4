package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/docs-transducer/constants"
)

// ImageInput is one image handed to a provider. Bytes wins over Path when both are set.
type ImageInput struct {
	Path     string
	Bytes    []byte
	MIMEType string
}

func (in ImageInput) load() ([]byte, string, error) {
	mt := in.MIMEType
	if mt == "" && in.Path != "" {
		mt = constants.MIMETypeForExt(filepath.Ext(in.Path))
	}
	if in.Bytes != nil {
		return in.Bytes, mt, nil
	}
	if in.Path == "" {
		return nil, "", fmt.Errorf("image input has neither bytes nor path")
	}
	b, err := os.ReadFile(in.Path)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	return b, mt, nil
}

// CallOptions carries the caller's hooks into a provider call. Both are optional.
type CallOptions struct {
	// CancelCheck reports whether the surrounding task was cancelled.
	CancelCheck func(ctx context.Context) bool
	// OnJobSubmitted is invoked with the remote job id right after submission.
	OnJobSubmitted func(jobID string)
}

func (o CallOptions) cancelled(ctx context.Context) bool {
	return o.CancelCheck != nil && o.CancelCheck(ctx)
}

// Result is the outcome of one extraction. Text is set only when Status is completed.
type Result struct {
	Status constants.StageStatus
	Model  *string
	Text   *string
	Reason *string
}

// Provider extracts verbatim source-script text from one image.
type Provider interface {
	Name() constants.OCRModel
	Extract(ctx context.Context, in ImageInput, opts CallOptions) Result
}

// Providers selects a Provider by the task's ocr_model parameter.
type Providers map[constants.OCRModel]Provider

func NewProviders(ps ...Provider) Providers {
	out := make(Providers, len(ps))
	for _, p := range ps {
		out[p.Name()] = p
	}
	return out
}

func (ps Providers) Get(model constants.OCRModel) (Provider, error) {
	if model == "" {
		model = constants.DefaultOCRModel
	}
	p, ok := ps[model]
	if !ok {
		return nil, fmt.Errorf("no ocr provider registered for %q", model)
	}
	return p, nil
}

// Completed, Failed and Skipped build provider results.
func Completed(model, text string) Result {
	return Result{Status: constants.StageCompleted, Model: strPtr(model), Text: &text}
}

func Failed(model, reason string) Result {
	return Result{Status: constants.StageFailed, Model: strPtr(model), Reason: &reason}
}

func Skipped(reason string) Result {
	return Result{Status: constants.StageSkipped, Reason: &reason}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
