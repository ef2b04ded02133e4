package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/joseph-ayodele/docs-transducer/internal/app"
	"github.com/joseph-ayodele/docs-transducer/internal/async"
	"github.com/joseph-ayodele/docs-transducer/internal/common"
	"github.com/joseph-ayodele/docs-transducer/internal/server"
	"github.com/joseph-ayodele/docs-transducer/internal/tasks"
)

func main() {
	cfg := common.LoadConfig()
	logger := app.NewLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, pool, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer server.CloseDB(db, pool, logger)
	if err := server.PingDB(ctx, db, pool, logger, 3*time.Second); err != nil {
		logger.Error("DB health failed", "error", err)
		os.Exit(1)
	}
	logger.Info("DB health OK")

	var rdb = app.NewRedisClient(cfg.Redis)
	if cfg.Queue.Backend == "memory" {
		// Redis is optional for in-process runs; publish progress only if it answers.
		if rdb != nil && rdb.Ping(ctx).Err() != nil {
			logger.Warn("redis unreachable, progress will only be logged", "addr", cfg.Redis.Addr)
			_ = rdb.Close()
			rdb = nil
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}
	p := app.BuildPipeline(cfg, db, app.NewNotifier(rdb, logger), logger)

	var (
		queue  async.Queue
		worker *async.Worker
	)
	switch cfg.Queue.Backend {
	case "memory":
		queue = async.NewProcessorQueue(p.Orchestrator, logger,
			async.WithWorkers(cfg.Queue.Concurrency))
	default:
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		queue = async.NewAsynqQueue(redisOpt, cfg.Queue.Name, logger)
		worker = async.NewWorker(redisOpt, async.WorkerConfig{
			Concurrency: cfg.Queue.Concurrency,
			Queue:       cfg.Queue.Name,
		}, p.Orchestrator, logger)
		if err := worker.Start(); err != nil {
			logger.Error("worker start failed", "error", err)
			os.Exit(1)
		}
	}

	svc := tasks.NewService(cfg.Storage, tasks.Deps{
		Tasks:     p.Tasks,
		Files:     p.Files,
		Queue:     queue,
		Registry:  p.Orchestrator.Registry,
		Canceller: p.Inference,
		Notifier:  p.Notifier,
	}, logger)
	handler := server.NewTaskHandler(svc, db, cfg.Storage.UploadMaxBytes, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http serving", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	health := server.NewHealthServer(logger)
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("grpc listen", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		health.SetServing(true)
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Error("grpc serve", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	health.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if worker != nil {
		worker.Shutdown()
	}
	queue.Shutdown(shutdownCtx)
	health.Stop()
	logger.Info("stopped")
}
