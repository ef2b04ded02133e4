package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-transducer/internal/app"
	"github.com/joseph-ayodele/docs-transducer/internal/common"
	"github.com/joseph-ayodele/docs-transducer/internal/server"
)

// runtask executes one task synchronously and prints its outcome as JSON.
func main() {
	cfg := common.LoadConfig()
	logger := app.NewLogger(cfg.LogLevel)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runtask <task-id-uuid>")
		os.Exit(2)
	}
	taskID, err := uuid.Parse(os.Args[1])
	if err != nil {
		logger.Error("invalid task id (must be UUID)", "arg", os.Args[1], "error", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, pool, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer server.CloseDB(db, pool, logger)

	p := app.BuildPipeline(cfg, db, app.NewNotifier(nil, logger), logger)
	out := p.Orchestrator.Run(ctx, taskID)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	if out.Reason != "" || out.Succeeded != out.Files {
		os.Exit(1)
	}
}
