package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docs-transducer/constants"
	"github.com/joseph-ayodele/docs-transducer/internal/common"
	"github.com/joseph-ayodele/docs-transducer/internal/entity"
	"github.com/joseph-ayodele/docs-transducer/internal/ocr"
)

// PageSource renders a paginated document to page images. cleanup must be
// safe to call even when err is non-nil.
type PageSource interface {
	Render(ctx context.Context, path string) (pages []string, cleanup func(), err error)
}

// PageFanOut runs a provider over every page of a document.
type PageFanOut interface {
	ProcessPages(ctx context.Context, provider ocr.Provider, pages []string, opts ocr.CallOptions) ocr.Result
}

// OCRStage extracts text from one task file: images go straight to the provider,
// documents are split into pages and fanned out.
type OCRStage struct {
	Pages  PageSource
	FanOut PageFanOut
	Logger *slog.Logger
}

func NewOCRStage(pages PageSource, fanOut PageFanOut, logger *slog.Logger) *OCRStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRStage{Pages: pages, FanOut: fanOut, Logger: logger}
}

func (s *OCRStage) Run(ctx context.Context, file *entity.TaskFile, provider ocr.Provider, opts ocr.CallOptions) ocr.Result {
	switch file.FileType {
	case constants.FileTypeImage:
		return provider.Extract(ctx, ocr.ImageInput{Path: file.Path}, opts)
	case constants.FileTypeDocument:
		pages, cleanup, err := s.Pages.Render(ctx, file.Path)
		defer cleanup()
		if err != nil {
			s.Logger.Error("page rendering failed", "file_id", file.ID, "path", file.Path, "error", err)
			return ocr.Failed("", common.ErrorReason(err))
		}
		return s.FanOut.ProcessPages(ctx, provider, pages, opts)
	default:
		return ocr.Failed("", fmt.Sprintf("unsupported file type %q", file.FileType))
	}
}
