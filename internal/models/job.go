package models

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// DefaultJobLimit is how many jobs a store keeps before evicting finished ones.
const DefaultJobLimit = 200

// Job represents an async operation started from the HTTP API (migrate, export, restore).
type Job struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"` // "preview", "migrate", "export", "restore"
	Status     string           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Error      string           `json:"error,omitempty"`
	Output     []string         `json:"output"`
	Progress   *JobProgress     `json:"progress,omitempty"`
	Report     *MigrationReport `json:"-"`
	mu         sync.Mutex
	cancel     context.CancelFunc
}

// AppendLog adds a log line to the job output.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = append(j.Output, line)
}

// Write lets the job act as a log sink; each write is one or more lines.
func (j *Job) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		j.AppendLog(line)
	}
	return len(p), nil
}

// MarshalJSON encodes the job under its lock; the log may grow concurrently.
func (j *Job) MarshalJSON() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return json.Marshal(struct {
		ID         string       `json:"id"`
		Type       string       `json:"type"`
		Status     string       `json:"status"`
		StartedAt  time.Time    `json:"started_at"`
		FinishedAt *time.Time   `json:"finished_at,omitempty"`
		Error      string       `json:"error,omitempty"`
		Output     []string     `json:"output"`
		Progress   *JobProgress `json:"progress,omitempty"`
	}{j.ID, j.Type, j.Status, j.StartedAt, j.FinishedAt, j.Error, append([]string{}, j.Output...), j.progressCopy()})
}

// JobProgress is the child progress of the resource a job last reported on.
type JobProgress struct {
	Resource string `json:"resource"`
	Done     int    `json:"done"`
	Total    int    `json:"total"`
}

// SetProgress records child progress and adds it to the job log, so log
// streams see it too.
func (j *Job) SetProgress(resource string, done, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = &JobProgress{Resource: resource, Done: done, Total: total}
	j.Output = append(j.Output, fmt.Sprintf("PROGRESS: %s %d/%d", resource, done, total))
}

func (j *Job) progressCopy() *JobProgress {
	if j.Progress == nil {
		return nil
	}
	p := *j.Progress
	return &p
}

// LogsSince returns log lines starting from the given index.
func (j *Job) LogsSince(offset int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset >= len(j.Output) {
		return nil
	}
	lines := make([]string, len(j.Output)-offset)
	copy(lines, j.Output[offset:])
	return lines
}

// SetCancel registers the function that stops the job's run.
func (j *Job) SetCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel asks the running job to stop. The job keeps running until the
// current resource finishes.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the status under lock.
func (j *Job) State() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	return j.State() != JobRunning
}

// Complete marks the job as completed with its report.
func (j *Job) Complete(report *MigrationReport) {
	j.finish(JobCompleted, "", report)
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err string, report *MigrationReport) {
	j.finish(JobFailed, err, report)
}

// MarkCancelled marks a job that stopped early on request.
func (j *Job) MarkCancelled(report *MigrationReport) {
	j.finish(JobCancelled, "", report)
}

// GetReport returns the report once the job has one.
func (j *Job) GetReport() *MigrationReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Report
}

func (j *Job) finish(status, errMsg string, report *MigrationReport) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Error = errMsg
	j.Report = report
	now := time.Now()
	j.FinishedAt = &now
}

// JobStore is an in-memory thread-safe store for jobs. Once it holds more
// than its limit, the oldest finished jobs are evicted; running jobs never are.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	limit int
}

// NewJobStore creates an empty job store. A limit <= 0 keeps every job.
func NewJobStore(limit int) *JobStore {
	return &JobStore{jobs: make(map[string]*Job), limit: limit}
}

// Create adds a new job, assigning it a UUID.
func (s *JobStore) Create(jobType string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    JobRunning,
		StartedAt: time.Now(),
		Output:    []string{},
	}
	s.jobs[j.ID] = j
	s.evict()
	return j
}

// evict drops finished jobs, oldest first, until the store is within its
// limit. Called with the write lock held.
func (s *JobStore) evict() {
	if s.limit <= 0 || len(s.jobs) <= s.limit {
		return
	}
	var finished []*Job
	for _, j := range s.jobs {
		if j.Done() {
			finished = append(finished, j)
		}
	}
	sort.Slice(finished, func(a, b int) bool {
		return finished[a].StartedAt.Before(finished[b].StartedAt)
	})
	for _, j := range finished {
		if len(s.jobs) <= s.limit {
			return
		}
		delete(s.jobs, j.ID)
	}
}

// Get returns a job by ID.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// List returns all jobs, most recent first.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].StartedAt.After(result[b].StartedAt)
	})
	return result
}
