package scan

import (
	"testing"
	"time"

	"recus/internal/core"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(time.Minute)
	t.Cleanup(r.Stop)
	return r
}

func TestRegistryLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	r.Create("j1")

	job, ok := r.Get("j1")
	if !ok || job.State != JobQueued {
		t.Fatalf("after Create: %+v %v, want queued", job, ok)
	}

	r.SetProgress("j1", "recognize", 0.3)
	job, _ = r.Get("j1")
	if job.State != JobRecognizing || job.Progress != 0.3 || job.Phase != "recognize" {
		t.Errorf("after progress: %+v", job)
	}

	r.Complete("j1", core.Draft{Mode: core.DraftCreate, Merchant: "SUPER MARCHE", Cents: 1250})
	job, _ = r.Get("j1")
	if job.State != JobDone || job.Progress != 1 || job.Draft == nil {
		t.Errorf("after complete: %+v", job)
	}

	// A late progress event must not reopen a finished job.
	r.SetProgress("j1", "recognize", 0.5)
	job, _ = r.Get("j1")
	if job.State != JobDone {
		t.Errorf("late progress reopened job: %+v", job)
	}
}

func TestRegistryFailClearsDraft(t *testing.T) {
	r := newTestRegistry(t)
	r.Create("j1")
	r.Complete("j1", core.Draft{Merchant: "X", Cents: 100})
	r.Fail("j1", "boom")

	job, _ := r.Get("j1")
	if job.State != JobFailed || job.Draft != nil || job.Error != "boom" {
		t.Errorf("after fail: %+v", job)
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := newTestRegistry(t)
	r.Create("j1")

	job, _ := r.Get("j1")
	job.State = JobFailed

	fresh, _ := r.Get("j1")
	if fresh.State != JobQueued {
		t.Error("mutating a snapshot must not affect the registry")
	}
}

func TestRegistryUnknownJob(t *testing.T) {
	r := newTestRegistry(t)
	if _, ok := r.Get("nope"); ok {
		t.Error("unknown job must miss")
	}
	// No-ops, must not panic.
	r.SetProgress("nope", "recognize", 0.1)
	r.Complete("nope", core.Draft{})
	r.Fail("nope", "x")
}

func TestRegistryExpiry(t *testing.T) {
	r := NewRegistry(time.Millisecond)
	t.Cleanup(r.Stop)
	r.Create("j1")

	time.Sleep(5 * time.Millisecond)
	r.cleanupExpired()

	if _, ok := r.Get("j1"); ok {
		t.Error("expired job must be dropped")
	}
}
