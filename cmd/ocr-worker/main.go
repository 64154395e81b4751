package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"recus/internal/amqp"
	"recus/internal/cli"
	"recus/internal/ocr"
	"recus/internal/ocr/memory"
	"recus/internal/ocr/vision"
	"recus/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var engine ocr.Engine
	switch cfg.OCRBackend {
	case "memory":
		engine = memory.New("")
		logger.Info("Initialized in-memory engine")
	default:
		visionClient, err := vision.NewFromEnv(ctx)
		if err != nil {
			logger.Error("Failed to initialize Vision client", "error", err)
			os.Exit(1)
		}
		engine = visionClient
		logger.Info("Initialized Vision engine")
	}

	events, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPScanQueue, cfg.AMQPResultQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer events.Close()

	scanWorker := worker.NewScanWorker(engine, events)

	logger.Info("Starting ocr-worker",
		"exchange", cfg.AMQPExchange,
		"scan_queue", cfg.AMQPScanQueue,
		"language", cfg.OCRLanguage)

	err = amqp.ConsumeScanJobsWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPScanQueue, cfg.AMQPResultQueue, scanWorker.HandleScanJob)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
