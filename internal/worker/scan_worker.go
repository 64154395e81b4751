// Package worker runs receipt recognition off the request path. The
// server publishes scan jobs; the worker recognizes each image and
// publishes progress and the recognized text back.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"recus/internal/amqp"
	"recus/internal/ocr"
)

// EventPublisher sends progress and result events back to the server.
type EventPublisher interface {
	PublishScanProgress(ctx context.Context, jobID, phase string, progress float64) error
	PublishScanResult(ctx context.Context, jobID, text, errMsg string) error
}

// ScanWorker recognizes receipt images from the job queue.
type ScanWorker struct {
	engine ocr.Engine
	events EventPublisher
}

func NewScanWorker(engine ocr.Engine, events EventPublisher) *ScanWorker {
	return &ScanWorker{engine: engine, events: events}
}

// HandleScanJob recognizes one image and reports the outcome. The
// returned error only covers result delivery; a recognition failure is
// a valid outcome and is published, not retried, because retrying the
// same photo yields the same failure.
func (w *ScanWorker) HandleScanJob(ctx context.Context, msg *amqp.ScanJobMessage) error {
	slog.InfoContext(ctx, "Processing scan job",
		"job_id", msg.JobID,
		"language", msg.Language,
		"image_bytes", len(msg.Image))

	text, err := w.engine.Recognize(ctx, msg.Image, msg.Language, func(phase string, progress float64) {
		// Progress is best effort; a lost event only makes the UI
		// jump, it never loses the result.
		if pubErr := w.events.PublishScanProgress(ctx, msg.JobID, phase, progress); pubErr != nil {
			slog.WarnContext(ctx, "Failed to publish scan progress",
				"job_id", msg.JobID, "error", pubErr)
		}
	})
	if err != nil {
		slog.ErrorContext(ctx, "Recognition failed",
			"job_id", msg.JobID, "error", err)
		if pubErr := w.events.PublishScanResult(ctx, msg.JobID, "", err.Error()); pubErr != nil {
			return fmt.Errorf("publish failure result: %w", pubErr)
		}
		return nil
	}

	if pubErr := w.events.PublishScanResult(ctx, msg.JobID, text, ""); pubErr != nil {
		return fmt.Errorf("publish result: %w", pubErr)
	}

	slog.InfoContext(ctx, "Scan job done",
		"job_id", msg.JobID, "text_bytes", len(text))
	return nil
}
