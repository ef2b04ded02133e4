package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/joseph-ayodele/docs-transducer/internal/common"
)

// Runner runs the external page rasteriser; tests stub it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return execRunner{log: logger}
}

type execRunner struct {
	log *slog.Logger
}

// Run reports a command killed by ctx as the context error, not as "signal: killed".
func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	log := r.log.With("cmd", name, "args", strings.Join(args, " "))
	if taskID := common.TaskIDFromContext(ctx); taskID != "" {
		log = log.With("task_id", taskID)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	if err != nil && ctx.Err() != nil {
		log.Warn("page command interrupted", "duration_ms", elapsed, "error", ctx.Err())
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s interrupted: %w", name, ctx.Err())
	}
	if err != nil {
		log.Error("page command failed", "duration_ms", elapsed, "error", err, "stderr", stderrTail(stderr.Bytes()))
		return stdout.Bytes(), stderr.Bytes(), err
	}
	log.Debug("page command ok", "duration_ms", elapsed, "stderr_bytes", stderr.Len())
	return stdout.Bytes(), stderr.Bytes(), nil
}

// stderrTail keeps the last 512 bytes of command output; pdftoppm prints the
// fatal error after any warnings.
func stderrTail(b []byte) string {
	const max = 512
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
