package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"recus/internal/amqp"
	"recus/internal/cli"
	apphttp "recus/internal/http"
	"recus/internal/ledger"
	"recus/internal/ocr"
	"recus/internal/ocr/memory"
	"recus/internal/ocr/vision"
	"recus/internal/scan"
	"recus/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := cli.InitStore(logger, cfg.SQLiteDBPath)
	defer store.Close()

	ldg := ledger.New(store)
	hydrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := ldg.Hydrate(hydrateCtx)
	cancel()
	if err != nil {
		logger.Error("Failed to hydrate ledger", "error", err)
		return
	}

	registry := scan.NewRegistry(cfg.ScanJobTTL)
	defer registry.Stop()

	// With AMQP the worker owns recognition and the server only needs
	// the queue; without it the engine runs in-process.
	var engine ocr.Engine
	if cfg.AMQPURL == "" {
		switch cfg.OCRBackend {
		case "vision":
			visionClient, err := vision.NewFromEnv(ctx)
			if err != nil {
				logger.Error("Failed to initialize Vision client", "error", err)
				return
			}
			engine = visionClient
			logger.Info("Initialized Vision engine")
		case "memory":
			engine = memory.New("")
			logger.Info("Initialized in-memory engine")
		default:
			logger.Warn("No recognition engine configured, scan intake disabled")
		}
	}

	var queue services.ScanQueue
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPScanQueue, cfg.AMQPResultQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			return
		}
		defer amqpClient.Close()
		queue = amqpClient
		logger.Info("Initialized AMQP scan queue",
			"exchange", cfg.AMQPExchange,
			"scan_queue", cfg.AMQPScanQueue,
			"result_queue", cfg.AMQPResultQueue)
	}

	scans := services.NewScanService(registry, engine, queue, cfg.OCRLanguage)

	srv := apphttp.NewServer(":"+cfg.Port, ldg, scans, int64(cfg.MaxImageSize))
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting recus server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if amqpClient != nil {
		g.Go(func() error {
			err := amqpClient.ConsumeScanEvents(gctx, func(msg *amqp.ScanEventMessage) {
				scans.HandleScanEvent(gctx, msg)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		return
	}
	logger.Info("Server stopped gracefully")
}
