package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

type RenderConfig struct {
	Pdftoppm string // binary name or absolute path; if empty -> "pdftoppm"
	DPI      int    // rasterization DPI, default 200
	MaxPages int    // 0 = no limit
	WorkDir  string // parent for per-document temp dirs; "" = os.TempDir()
}

// PageRenderer splits a paginated document into one PNG per page.
type PageRenderer struct {
	cfg    RenderConfig
	runner Runner
	log    *slog.Logger
}

func NewPageRenderer(cfg RenderConfig, runner Runner, logger *slog.Logger) *PageRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &PageRenderer{cfg: cfg, runner: runner, log: logger}
}

// Render writes page images for path and returns them in page order. cleanup removes
// them and is safe to call on every exit path, including when err is non-nil.
func (r *PageRenderer) Render(ctx context.Context, path string) (pages []string, cleanup func(), err error) {
	cleanup = func() {}
	if r.cfg.WorkDir != "" {
		if err := os.MkdirAll(r.cfg.WorkDir, 0o755); err != nil {
			return nil, cleanup, fmt.Errorf("create work dir: %w", err)
		}
	}
	tmpDir, err := os.MkdirTemp(r.cfg.WorkDir, "dt-pages-*")
	if err != nil {
		return nil, cleanup, err
	}
	cleanup = func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.log.Warn("failed to remove page images", "dir", tmpDir, "error", err)
		}
	}

	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", strconv.Itoa(r.cfg.DPI), "-png"}
	if r.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(r.cfg.MaxPages))
	}
	// pdftoppm -r 200 -png <in.pdf> <tmp/page>
	args = append(args, path, prefix)
	if _, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm, args...); err != nil {
		return nil, cleanup, fmt.Errorf("pdftoppm: %w: %s", err, stderrTail(errb))
	}

	// collect generated pngs (page-1.png or zero-padded page-01.png ...)
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, cleanup, err
	}
	sortByPageNumber(matches)
	if r.cfg.MaxPages > 0 && len(matches) > r.cfg.MaxPages {
		matches = matches[:r.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return nil, cleanup, fmt.Errorf("pdftoppm produced no images for %s", filepath.Base(path))
	}
	r.log.Debug("document rendered to pages", "path", path, "pages", len(matches))
	return matches, cleanup, nil
}

func sortByPageNumber(paths []string) {
	num := func(p string) int {
		base := strings.TrimSuffix(filepath.Base(p), ".png")
		i := strings.LastIndexByte(base, '-')
		n, err := strconv.Atoi(base[i+1:])
		if err != nil {
			return -1
		}
		return n
	}
	sort.SliceStable(paths, func(i, j int) bool { return num(paths[i]) < num(paths[j]) })
}
