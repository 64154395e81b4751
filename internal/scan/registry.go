package scan

import (
	"sync"
	"time"

	"recus/internal/core"
)

type JobState string

const (
	JobQueued      JobState = "queued"
	JobRecognizing JobState = "recognizing"
	JobDone        JobState = "done"
	JobFailed      JobState = "failed"
)

// Job tracks one scan from intake to reviewed draft. Progress is the
// fractional OCR progress in [0,1] for the current phase.
type Job struct {
	ID        string      `json:"id"`
	State     JobState    `json:"state"`
	Phase     string      `json:"phase,omitempty"`
	Progress  float64     `json:"progress"`
	Draft     *core.Draft `json:"draft,omitempty"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Registry is the in-memory scan job table the UI polls. Finished jobs
// expire after a TTL; the draft itself is ephemeral and is gone once
// the user saves or discards it.
type Registry struct {
	mu           sync.Mutex
	jobs         map[string]*Job
	ttl          time.Duration
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

func NewRegistry(ttl time.Duration) *Registry {
	r := &Registry{
		jobs:        make(map[string]*Job),
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}
	go r.startCleanup()
	return r
}

// startCleanup runs periodic cleanup to drop expired jobs
func (r *Registry) startCleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanupExpired()
		case <-r.stopCleanup:
			return
		}
	}
}

func (r *Registry) cleanupExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.ttl)
	for id, job := range r.jobs {
		if job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}

// Stop shuts down the cleanup goroutine.
func (r *Registry) Stop() {
	r.shutdownOnce.Do(func() {
		close(r.stopCleanup)
	})
}

func (r *Registry) Create(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id] = &Job{ID: id, State: JobQueued, UpdatedAt: time.Now()}
}

func (r *Registry) SetProgress(id, phase string, progress float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.State == JobDone || job.State == JobFailed {
		return
	}
	job.State = JobRecognizing
	job.Phase = phase
	job.Progress = progress
	job.UpdatedAt = time.Now()
}

func (r *Registry) Complete(id string, draft core.Draft) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	job.State = JobDone
	job.Progress = 1
	job.Draft = &draft
	job.Error = ""
	job.UpdatedAt = time.Now()
}

func (r *Registry) Fail(id, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	job.State = JobFailed
	job.Error = msg
	job.Draft = nil
	job.UpdatedAt = time.Now()
}

// Get returns a copy of the job so callers never see later mutations.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}
