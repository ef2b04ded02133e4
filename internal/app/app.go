// Package app assembles the pipeline from configuration. Both the daemon and
// the one-shot runner build their components here.
package app

import (
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/docs-transducer/internal/common"
	"github.com/joseph-ayodele/docs-transducer/internal/llm/openai"
	"github.com/joseph-ayodele/docs-transducer/internal/notify"
	"github.com/joseph-ayodele/docs-transducer/internal/ocr"
	"github.com/joseph-ayodele/docs-transducer/internal/pipeline"
	"github.com/joseph-ayodele/docs-transducer/internal/render"
	"github.com/joseph-ayodele/docs-transducer/internal/repository"
)

// NewLogger builds the process logger. LOG_FORMAT=text switches to the text handler.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// Pipeline is everything a worker needs to run tasks.
type Pipeline struct {
	Tasks        repository.TaskRepository
	Files        repository.TaskFileRepository
	Orchestrator *pipeline.Orchestrator
	// Inference is also the canceller for registered remote jobs.
	Inference *ocr.InferenceProvider
	Notifier  notify.Notifier
}

// NewRedisClient returns nil when no address is configured.
func NewRedisClient(cfg common.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

// NewNotifier always logs progress and also publishes to Redis when a client is given.
func NewNotifier(rdb *redis.Client, logger *slog.Logger) notify.Notifier {
	logN := notify.NewLogNotifier(logger)
	if rdb == nil {
		return logN
	}
	return notify.Multi{logN, notify.NewRedisNotifier(rdb, logger)}
}

func BuildPipeline(cfg *common.Config, db *repository.DB, notifier notify.Notifier, logger *slog.Logger) *Pipeline {
	tasks := repository.NewTaskRepository(db, logger)
	files := repository.NewTaskFileRepository(db, logger)

	vision := ocr.NewVisionProvider(openai.NewClient(openai.Config{
		APIKey:  cfg.Vision.APIKey,
		BaseURL: cfg.Vision.BaseURL,
		Model:   cfg.Vision.Model,
		Timeout: cfg.Vision.Timeout,
	}, logger), logger)
	inference := ocr.NewInferenceProvider(ocr.InferenceConfig{
		APIToken:     cfg.Inference.APIToken,
		BaseURL:      cfg.Inference.BaseURL,
		ModelVersion: cfg.Inference.ModelVersion,
		PollInterval: cfg.Inference.PollInterval,
		Timeout:      cfg.Inference.Timeout,
	}, logger)

	pages := ocr.NewPageRenderer(ocr.RenderConfig{
		Pdftoppm: cfg.OCR.Pdftoppm,
		DPI:      cfg.OCR.DPI,
		MaxPages: cfg.OCR.MaxPages,
		WorkDir:  cfg.OCR.ArtifactCacheDir,
	}, ocr.NewExecRunner(logger), logger)
	stage := pipeline.NewOCRStage(pages, ocr.NewPageProcessor(cfg.OCR.PageConcurrency, logger), logger)

	translator := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	orch := pipeline.NewOrchestrator(
		tasks,
		files,
		ocr.NewProviders(vision, inference),
		stage,
		translator,
		render.NewDocxRenderer(cfg.Storage.OutputDir, logger),
		notifier,
		logger,
	)
	return &Pipeline{
		Tasks:        tasks,
		Files:        files,
		Orchestrator: orch,
		Inference:    inference,
		Notifier:     notifier,
	}
}
