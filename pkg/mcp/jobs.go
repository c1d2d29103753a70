package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a crawl job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a background crawl job
type Job struct {
	ID             string    `json:"id"`
	SeedURL        string    `json:"seed_url"`
	Status         JobStatus `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	PagesCaptured  int64     `json:"pages_captured"`
	PagesFailed    int64     `json:"pages_failed"`
	PagesQueued    int64     `json:"pages_queued"`
	ErrorMessage   string    `json:"error_message,omitempty"`

	// Internal fields
	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager manages background crawl jobs
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	bySeed map[string]string // seed URL -> jobID for running jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		bySeed: make(map[string]string),
	}
}

// CreateJob creates a new job for a seed URL
func (m *JobManager) CreateJob(seedURL string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check if a job is already running for this seed
	if existingJobID, exists := m.bySeed[seedURL]; exists {
		existingJob := m.jobs[existingJobID]
		if existingJob != nil && (existingJob.Status == JobStatusPending || existingJob.Status == JobStatusRunning) {
			return existingJob, nil // Return existing running job
		}
	}

	// Create new job
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.New().String(),
		SeedURL:   seedURL,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	m.jobs[job.ID] = job
	m.bySeed[seedURL] = job.ID

	return job, nil
}

// GetJob retrieves a job by ID
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[jobID]
}

// GetJobBySeed retrieves the current job for a seed URL
func (m *JobManager) GetJobBySeed(seedURL string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.bySeed[seedURL]; exists {
		return m.jobs[jobID]
	}
	return nil
}

// IsRunning checks if a job is currently running for a seed URL
func (m *JobManager) IsRunning(seedURL string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.bySeed[seedURL]; exists {
		job := m.jobs[jobID]
		return job != nil && (job.Status == JobStatusPending || job.Status == JobStatusRunning)
	}
	return false
}

// UpdateStatus updates the status of a job
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		job.Status = status
		if status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled {
			job.CompletedAt = time.Now()
			// Remove from bySeed to allow new jobs
			delete(m.bySeed, job.SeedURL)
		}
		if errorMsg != "" {
			job.ErrorMessage = errorMsg
		}
	}
}

// UpdateProgress updates the progress counters of a job
func (m *JobManager) UpdateProgress(jobID string, captured, failed, queued int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		job.PagesCaptured = captured
		job.PagesFailed = failed
		job.PagesQueued = queued
	}
}

// CancelJob cancels a running job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		if job.Status == JobStatusPending || job.Status == JobStatusRunning {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
			delete(m.bySeed, job.SeedURL)
			return true
		}
	}
	return false
}

// CancelAll cancels all running jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status == JobStatusPending || job.Status == JobStatusRunning {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.bySeed = make(map[string]string)
}

// ListJobs returns all jobs
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// GetContext returns the context for a job (for running the crawler)
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}
