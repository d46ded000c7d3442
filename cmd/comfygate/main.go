package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/comfygate/comfygate/internal/blob"
	"github.com/comfygate/comfygate/internal/comfy"
	"github.com/comfygate/comfygate/internal/config"
	"github.com/comfygate/comfygate/internal/fileserv"
	"github.com/comfygate/comfygate/internal/mcptool"
	"github.com/comfygate/comfygate/internal/workflow"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		serve()
		return
	}
	fmt.Println("comfygate v" + version)
	fmt.Println("Usage: comfygate serve")
}

func serve() {
	// A missing .env is fine; explicit config still wins.
	_ = godotenv.Load()

	cfg, err := config.LoadDefault()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	g, ctx := errgroup.WithContext(ctx)

	// Blob store: external when configured, otherwise the embedded file
	// service hosts the outputs itself.
	blobBase := cfg.Blob.BaseURL
	runFiles := cfg.Files.Enabled
	if blobBase == "" {
		blobBase = cfg.FilesPublicURL()
		runFiles = true
	}
	if runFiles {
		store, err := fileserv.NewStore(cfg.Files.Dir)
		if err != nil {
			slog.Error("file store error", "err", err)
			os.Exit(1)
		}
		files := fileserv.NewServer(store,
			fileserv.WithAddr(fmt.Sprintf("%s:%d", cfg.Files.Host, cfg.Files.Port)),
			fileserv.WithPublicURL(cfg.FilesPublicURL()),
			fileserv.WithLogger(logger))
		g.Go(func() error { return files.Start(ctx) })
	}

	engine := comfy.NewClient(cfg.ComfyUI.BaseURL,
		comfy.WithAPIKey(cfg.ComfyUI.APIKey),
		comfy.WithCookies(cfg.ComfyUI.Cookies),
		comfy.WithLogger(logger))

	executor := workflow.NewExecutor(engine, blob.NewClient(blobBase),
		workflow.WithWaitMode(workflow.WaitMode(cfg.ComfyUI.Executor)),
		workflow.WithTimeout(time.Duration(cfg.ComfyUI.TimeoutSeconds)*time.Second),
		workflow.WithExecLogger(logger))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	mcpSrv := mcptool.NewServer("comfygate", version,
		mcptool.WithAddr(addr),
		mcptool.WithLogger(logger))

	manager := workflow.NewManager(cfg.Workflows.Dir, mcpSrv.Registry(), executor, logger)
	mcpSrv.AttachManager(manager)

	report, err := manager.LoadAll(ctx)
	if err != nil {
		slog.Error("workflow scan error", "err", err)
		os.Exit(1)
	}
	for _, f := range report.Failed {
		slog.Warn("workflow not published", "file", f.File, "err", f.Err)
	}

	if expr := cfg.Workflows.RescanCron; expr != "" {
		c := cron.New()
		if _, err := c.AddFunc(expr, func() {
			if _, err := manager.ReloadAll(ctx); err != nil {
				logger.Warn("scheduled rescan failed", "err", err)
			}
		}); err != nil {
			slog.Error("invalid rescan_cron", "expr", expr, "err", err)
			os.Exit(1)
		}
		c.Start()
		defer c.Stop()
		logger.Info("workflow rescan scheduled", "cron", expr)
	}

	slog.Info("starting comfygate", "addr", addr,
		"engine", cfg.ComfyUI.BaseURL, "executor", cfg.ComfyUI.Executor,
		"workflows", len(report.Loaded))
	g.Go(func() error { return mcpSrv.Start(ctx) })

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
