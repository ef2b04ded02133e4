package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docs-transducer/constants"
)

// PageResult is one page's outcome inside a fan-out.
type PageResult struct {
	Index  int // 0-based position in the input
	Result Result
}

// PageProcessor runs OCR over the pages of one document concurrently and
// stitches the successful pages back together in page order.
type PageProcessor struct {
	limit int
	log   *slog.Logger
}

// NewPageProcessor creates a processor. limit caps in-flight page calls; <= 0 means no cap.
func NewPageProcessor(limit int, logger *slog.Logger) *PageProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageProcessor{limit: limit, log: logger}
}

// ProcessPages checks for cancellation once, dispatches every page, waits for all
// of them and stitches the successful pages as "[Page N]\n<text>" blocks separated
// by a blank line. Failed pages are dropped; if none succeeded the result is failed.
func (p *PageProcessor) ProcessPages(ctx context.Context, provider Provider, pages []string, opts CallOptions) Result {
	if len(pages) == 0 {
		return Failed("", "document has no pages")
	}
	if opts.cancelled(ctx) {
		return Failed("", constants.ReasonCancelled)
	}

	start := time.Now()
	results := make([]PageResult, len(pages))
	var g errgroup.Group
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}
	for i, page := range pages {
		g.Go(func() error {
			results[i] = PageResult{Index: i, Result: p.extractPage(ctx, provider, page, opts)}
			return nil
		})
	}
	_ = g.Wait() // page goroutines never return errors

	out := Stitch(results)
	ok := 0
	for _, r := range results {
		if r.Result.Status == constants.StageCompleted {
			ok++
		}
	}
	p.log.Info("pages processed",
		"provider", provider.Name(),
		"pages", len(pages),
		"succeeded", ok,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out
}

func (p *PageProcessor) extractPage(ctx context.Context, provider Provider, page string, opts CallOptions) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("page ocr panicked", "page", page, "panic", r)
			res = Failed("", fmt.Sprintf("panic: %v", r))
		}
	}()
	return provider.Extract(ctx, ImageInput{
		Path:     page,
		MIMEType: constants.MIMETypeForExt(filepath.Ext(page)),
	}, opts)
}

// Stitch orders page results by index and joins the completed ones.
func Stitch(results []PageResult) Result {
	ordered := make([]PageResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var (
		blocks []string
		model  string
	)
	for _, r := range ordered {
		if model == "" && r.Result.Model != nil {
			model = *r.Result.Model
		}
		if r.Result.Status != constants.StageCompleted || r.Result.Text == nil || *r.Result.Text == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[Page %d]\n%s", r.Index+1, *r.Result.Text))
	}
	if len(blocks) == 0 {
		return Failed(model, constants.ReasonAllPagesFailed)
	}
	return Completed(model, strings.Join(blocks, "\n\n"))
}
