package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"recus/internal/amqp"
	"recus/internal/ocr"
	"recus/internal/ocr/memory"
	"recus/internal/scan"
)

const receiptText = "SUPER MARCHE\n12 RUE DE LA GARE\nLe 05/03/2024\nTOTAL 12,50 EUR\nMERCI"

func newTestService(t *testing.T, engine *memory.Engine, queue ScanQueue) *ScanService {
	t.Helper()
	registry := scan.NewRegistry(time.Minute)
	t.Cleanup(registry.Stop)

	var eng ocr.Engine
	if engine != nil {
		eng = engine
	}
	svc := NewScanService(registry, eng, queue, "fra")
	svc.clock = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	svc.newID = func() string { return "job-1" }
	return svc
}

// waitForJob polls until the job leaves the queued/recognizing states.
func waitForJob(t *testing.T, svc *ScanService, id string) scan.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := svc.Job(id)
		if !ok {
			t.Fatalf("job %s not found", id)
		}
		if job.State == scan.JobDone || job.State == scan.JobFailed {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", id)
	return scan.Job{}
}

func TestStartScanInProcess(t *testing.T) {
	svc := newTestService(t, memory.New(receiptText), nil)

	id, err := svc.StartScan(context.Background(), []byte{0xff})
	if err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	job := waitForJob(t, svc, id)
	if job.State != scan.JobDone {
		t.Fatalf("job state = %s, want done (error %q)", job.State, job.Error)
	}
	if job.Draft == nil {
		t.Fatal("expected a draft on the finished job")
	}
	if job.Draft.Merchant != "SUPER MARCHE" {
		t.Errorf("Merchant = %q, want %q", job.Draft.Merchant, "SUPER MARCHE")
	}
	if job.Draft.Cents != 1250 {
		t.Errorf("Cents = %d, want 1250", job.Draft.Cents)
	}
	if job.Draft.Date != "2024-03-05" {
		t.Errorf("Date = %q, want 2024-03-05", job.Draft.Date)
	}
}

func TestStartScanEngineFailure(t *testing.T) {
	engine := memory.New("")
	engine.Err = errors.New("no text detected")
	svc := newTestService(t, engine, nil)

	id, err := svc.StartScan(context.Background(), []byte{0xff})
	if err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	job := waitForJob(t, svc, id)
	if job.State != scan.JobFailed {
		t.Fatalf("job state = %s, want failed", job.State)
	}
	if job.Error != ScanFailedMessage {
		t.Errorf("Error = %q, want user-facing failure message", job.Error)
	}
	if job.Draft != nil {
		t.Error("failed job must not carry a draft")
	}
}

func TestStartScanEmptyTextFails(t *testing.T) {
	svc := newTestService(t, memory.New(""), nil)

	id, err := svc.StartScan(context.Background(), []byte{0xff})
	if err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	job := waitForJob(t, svc, id)
	if job.State != scan.JobFailed {
		t.Fatalf("job state = %s, want failed", job.State)
	}
}

func TestStartScanRejectsEmptyImage(t *testing.T) {
	svc := newTestService(t, memory.New(receiptText), nil)

	if _, err := svc.StartScan(context.Background(), nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("StartScan(nil) error = %v, want ErrEmptyImage", err)
	}
}

func TestStartScanUnavailable(t *testing.T) {
	svc := newTestService(t, nil, nil)

	if _, err := svc.StartScan(context.Background(), []byte{0xff}); !errors.Is(err, ErrScanUnavailable) {
		t.Errorf("StartScan() error = %v, want ErrScanUnavailable", err)
	}
}

type captureQueue struct {
	published []*amqp.ScanJobMessage
	err       error
}

func (q *captureQueue) PublishScanJob(_ context.Context, msg *amqp.ScanJobMessage) error {
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, msg)
	return nil
}

func TestStartScanPublishesToQueue(t *testing.T) {
	queue := &captureQueue{}
	svc := newTestService(t, nil, queue)

	id, err := svc.StartScan(context.Background(), []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	if len(queue.published) != 1 {
		t.Fatalf("published %d jobs, want 1", len(queue.published))
	}
	msg := queue.published[0]
	if msg.JobID != id {
		t.Errorf("JobID = %q, want %q", msg.JobID, id)
	}
	if msg.Language != "fra" {
		t.Errorf("Language = %q, want fra", msg.Language)
	}

	job, ok := svc.Job(id)
	if !ok {
		t.Fatal("job not registered")
	}
	if job.State != scan.JobQueued {
		t.Errorf("job state = %s, want queued while worker runs", job.State)
	}
}

func TestStartScanPublishFailureFailsJob(t *testing.T) {
	queue := &captureQueue{err: errors.New("connection refused")}
	svc := newTestService(t, nil, queue)

	id := "job-1"
	if _, err := svc.StartScan(context.Background(), []byte{0xff}); err == nil {
		t.Fatal("expected error when publish fails")
	}

	job, ok := svc.Job(id)
	if !ok {
		t.Fatal("job not registered")
	}
	if job.State != scan.JobFailed {
		t.Errorf("job state = %s, want failed", job.State)
	}
}

func TestHandleScanEvent(t *testing.T) {
	svc := newTestService(t, nil, &captureQueue{})
	ctx := context.Background()

	id, err := svc.StartScan(ctx, []byte{0xff})
	if err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	svc.HandleScanEvent(ctx, &amqp.ScanEventMessage{
		Type: amqp.EventProgress, JobID: id, Phase: "recognize", Progress: 0.4,
	})
	job, _ := svc.Job(id)
	if job.State != scan.JobRecognizing || job.Progress != 0.4 {
		t.Errorf("after progress: state = %s progress = %v", job.State, job.Progress)
	}

	svc.HandleScanEvent(ctx, &amqp.ScanEventMessage{
		Type: amqp.EventResult, JobID: id, Text: receiptText,
	})
	job, _ = svc.Job(id)
	if job.State != scan.JobDone {
		t.Fatalf("after result: state = %s, want done", job.State)
	}
	if job.Draft == nil || job.Draft.Cents != 1250 {
		t.Errorf("draft = %+v, want interpreted receipt", job.Draft)
	}
}

func TestHandleScanEventWorkerFailure(t *testing.T) {
	svc := newTestService(t, nil, &captureQueue{})
	ctx := context.Background()

	id, err := svc.StartScan(ctx, []byte{0xff})
	if err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	svc.HandleScanEvent(ctx, &amqp.ScanEventMessage{
		Type: amqp.EventResult, JobID: id, Error: "vision: quota exceeded",
	})
	job, _ := svc.Job(id)
	if job.State != scan.JobFailed {
		t.Fatalf("state = %s, want failed", job.State)
	}
	if job.Error != ScanFailedMessage {
		t.Errorf("Error = %q, want user-facing message, not the raw cause", job.Error)
	}
}

func TestHandleScanEventUnknownJobIgnored(t *testing.T) {
	svc := newTestService(t, nil, &captureQueue{})

	// Must not panic or create a job.
	svc.HandleScanEvent(context.Background(), &amqp.ScanEventMessage{
		Type: amqp.EventResult, JobID: "expired", Text: receiptText,
	})
	if _, ok := svc.Job("expired"); ok {
		t.Error("event for unknown job must not resurrect it")
	}
}
