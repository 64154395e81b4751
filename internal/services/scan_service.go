// Package services orchestrates scan intake: it owns the job registry
// and routes each photo either to the AMQP worker or to an in-process
// recognition engine.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"recus/internal/amqp"
	"recus/internal/ocr"
	"recus/internal/scan"
)

// ScanFailedMessage is shown to the user when recognition fails. The
// advice is the only fix that actually works: a flat, cropped photo.
const ScanFailedMessage = "Échec de la lecture du reçu. Reprenez la photo bien à plat et recadrez le ticket."

var (
	ErrEmptyImage      = errors.New("empty image")
	ErrScanUnavailable = errors.New("no recognition engine or queue configured")
)

// ScanQueue publishes recognition jobs for the worker.
type ScanQueue interface {
	PublishScanJob(ctx context.Context, msg *amqp.ScanJobMessage) error
}

// ScanService accepts receipt photos, tracks jobs, and turns
// recognized text into expense drafts. When a queue is configured jobs
// run on the worker; otherwise the engine runs in-process. With
// neither, intake is rejected up front.
type ScanService struct {
	registry *scan.Registry
	engine   ocr.Engine
	queue    ScanQueue
	language string
	clock    func() time.Time
	newID    func() string
}

func NewScanService(registry *scan.Registry, engine ocr.Engine, queue ScanQueue, language string) *ScanService {
	return &ScanService{
		registry: registry,
		engine:   engine,
		queue:    queue,
		language: language,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// StartScan registers a job for the image and returns its id. The
// caller polls Job until the state is done or failed.
func (s *ScanService) StartScan(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}
	if s.queue == nil && s.engine == nil {
		return "", ErrScanUnavailable
	}

	id := s.newID()
	s.registry.Create(id)

	if s.queue != nil {
		msg := amqp.NewScanJobMessage(id, s.language, image)
		if err := s.queue.PublishScanJob(ctx, msg); err != nil {
			s.registry.Fail(id, ScanFailedMessage)
			return "", fmt.Errorf("enqueue scan job: %w", err)
		}
		return id, nil
	}

	// In-process recognition. The job outlives the intake request, so
	// the goroutine gets its own context.
	go s.recognize(context.WithoutCancel(ctx), id, image)

	return id, nil
}

func (s *ScanService) recognize(ctx context.Context, id string, image []byte) {
	text, err := s.engine.Recognize(ctx, image, s.language, func(phase string, progress float64) {
		s.registry.SetProgress(id, phase, progress)
	})
	if err != nil {
		slog.ErrorContext(ctx, "Recognition failed", "job_id", id, "error", err)
		s.registry.Fail(id, ScanFailedMessage)
		return
	}
	s.finish(ctx, id, text)
}

// finish interprets recognized text and completes the job. An empty
// page is treated as a failed scan, not an empty draft.
func (s *ScanService) finish(ctx context.Context, id, text string) {
	if text == "" {
		s.registry.Fail(id, ScanFailedMessage)
		return
	}
	draft := scan.BuildDraft(text, s.clock())
	s.registry.Complete(id, draft)
	slog.InfoContext(ctx, "Scan completed",
		"job_id", id,
		"merchant", draft.Merchant,
		"amount_cents", draft.Cents)
}

// HandleScanEvent applies a worker progress or result event to the
// registry. Unknown job ids are ignored; the job may have expired.
func (s *ScanService) HandleScanEvent(ctx context.Context, msg *amqp.ScanEventMessage) {
	switch msg.Type {
	case amqp.EventProgress:
		s.registry.SetProgress(msg.JobID, msg.Phase, msg.Progress)
	case amqp.EventResult:
		if msg.Error != "" {
			slog.WarnContext(ctx, "Worker reported scan failure",
				"job_id", msg.JobID, "error", msg.Error)
			s.registry.Fail(msg.JobID, ScanFailedMessage)
			return
		}
		s.finish(ctx, msg.JobID, msg.Text)
	default:
		slog.WarnContext(ctx, "Dropping scan event of unknown type",
			"job_id", msg.JobID, "type", msg.Type)
	}
}

// Job returns a snapshot of a scan job.
func (s *ScanService) Job(id string) (scan.Job, bool) {
	return s.registry.Get(id)
}
