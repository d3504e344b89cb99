package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docextract/internal/app"
	"github.com/joseph-ayodele/docextract/internal/async"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/server"
	"github.com/joseph-ayodele/docextract/internal/tax"
)

func main() {
	_ = godotenv.Load()

	logger, err := app.NewLogger(os.Stderr, getenv("LOG_LEVEL", "info"))
	if err != nil {
		slog.Error("invalid LOG_LEVEL", "error", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)
	gin.SetMode(getenv("GIN_MODE", gin.ReleaseMode))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := common.LoadConfig()
	a, err := app.Build(ctx, cfg, logger, app.Options{WithDB: true, WithMetrics: true})
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := repository.HealthCheck(ctx, a.DB, 5*time.Second, logger); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	taxSvc := &tax.Service{Advisor: tax.NewAdvisor(a.LLM, logger)}
	router := server.NewRouter(server.Handlers{
		Extract:  server.NewExtractHandler(a.Pipeline, cfg.Server.MaxUploadBytes, logger),
		Tax:      server.NewTaxHandler(taxSvc, logger),
		Jobs:     server.NewJobsHandler(a.Jobs, export.NewService(a.Jobs, logger), logger),
		Gatherer: a.Registry,
	}, cfg.Server.MaxUploadBytes, logger)

	httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.HTTPAddr, "error", err)
		os.Exit(1)
	}
	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer, healthServer := server.NewGRPCServer()

	var queue *async.ProcessorQueue
	if cfg.Watch.Dir != "" {
		queue = async.NewProcessorQueue(a.Pipeline, logger,
			async.WithWorkers(cfg.Watch.Workers),
			async.WithQueueSize(512),
			async.WithProcessTimeout(cfg.Pipeline.RequestTimeout),
		)
		paths, _, err := async.Watch(ctx, async.WatchConfig{
			Roots:       []string{cfg.Watch.Dir},
			InitialScan: true,
			Debounce:    cfg.Watch.Debounce,
			SkipHidden:  true,
		}, logger)
		if err != nil {
			logger.Error("failed to watch directory", "dir", cfg.Watch.Dir, "error", err)
			os.Exit(1)
		}
		go func() {
			_ = async.Intake(ctx, paths, queue, cfg.Watch.DocType, logger)
		}()
		logger.Info("watching directory", "dir", cfg.Watch.Dir, "doc_type", cfg.Watch.DocType)
	}

	logger.Info("docextractd starting",
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"db_driver", cfg.Database.Driver,
		"ocr_engine", cfg.OCR.Engine,
		"model", a.LLM.Model(),
	)
	err = server.Serve(ctx, server.Servers{
		HTTP: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		HTTPLis:  httpLis,
		GRPC:     grpcServer,
		GRPCLis:  grpcLis,
		Health:   healthServer,
		Shutdown: 15 * time.Second,
	}, logger)
	if queue != nil {
		queue.Shutdown(context.Background())
	}
	if err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
