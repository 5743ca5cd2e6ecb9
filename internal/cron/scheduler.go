// Package cron runs the relay's periodic jobs. The only job today is the
// keep-alive ping that stops free-tier hosts from idling the relay out while
// a widget is waiting on it.
package cron

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	maxRuns    = 100
	runTimeout = 30 * time.Second
)

// Job is a scheduled GET of URL.
type Job struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"` // standard cron expression or descriptor such as "@every 5m"
	URL      string `json:"url"`
}

// RunRecord tracks one job execution.
type RunRecord struct {
	JobID      string    `json:"jobId"`
	StartedAt  time.Time `json:"startedAt"`
	Duration   string    `json:"duration"`
	StatusCode int       `json:"statusCode,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

type Scheduler struct {
	mu       sync.RWMutex
	cron     *cron.Cron
	client   *http.Client
	jobs     map[string]*Job
	entryMap map[string]cron.EntryID // jobID → cron entry
	runs     []RunRecord
	seq      int

	keepaliveMu sync.Mutex
	keepalive   *Job
}

// NewScheduler returns a stopped scheduler. A nil client gets a 30s timeout.
func NewScheduler(client *http.Client) *Scheduler {
	if client == nil {
		client = &http.Client{Timeout: runTimeout}
	}
	return &Scheduler{
		cron:     cron.New(),
		client:   client,
		jobs:     make(map[string]*Job),
		entryMap: make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("cron scheduler started", "jobs", len(s.List()))
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Add schedules a GET of url.
func (s *Scheduler) Add(name, schedule, url string) (*Job, error) {
	if url == "" {
		return nil, fmt.Errorf("job %s: url required", name)
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	job := &Job{
		ID:       fmt.Sprintf("cron_%d", s.seq),
		Name:     name,
		Schedule: schedule,
		URL:      url,
	}
	entryID, err := s.cron.AddFunc(schedule, func() { s.executeJob(job) })
	if err != nil {
		return nil, fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.jobs[job.ID] = job
	s.entryMap[job.ID] = entryID
	return job, nil
}

// SetKeepalive installs or replaces the keep-alive job and pings url once
// right away. An unchanged url and schedule is a no-op; an empty url removes
// the job. Called at startup and on config reload.
func (s *Scheduler) SetKeepalive(url, schedule string) error {
	s.keepaliveMu.Lock()
	defer s.keepaliveMu.Unlock()

	if cur := s.keepalive; cur != nil {
		if cur.URL == url && cur.Schedule == schedule {
			return nil
		}
		s.Remove(cur.ID)
		s.keepalive = nil
	}
	if url == "" {
		return nil
	}
	job, err := s.Add("keepalive", schedule, url)
	if err != nil {
		return err
	}
	s.keepalive = job
	slog.Info("keepalive scheduled", "url", url, "schedule", schedule)
	go func() { _, _ = s.RunNow(job.ID) }()
	return nil
}

func (s *Scheduler) Remove(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entryMap[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, jobID)
	}
	delete(s.jobs, jobID)
}

func (s *Scheduler) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	return jobs
}

// RunNow executes a job synchronously and returns its record.
func (s *Scheduler) RunNow(jobID string) (RunRecord, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return RunRecord{}, fmt.Errorf("job %s not found", jobID)
	}
	return s.executeJob(job), nil
}

// Runs returns the most recent executions, oldest first.
func (s *Scheduler) Runs() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RunRecord(nil), s.runs...)
}

func (s *Scheduler) executeJob(job *Job) RunRecord {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	status, err := s.ping(ctx, job.URL)
	duration := time.Since(start)

	record := RunRecord{
		JobID:      job.ID,
		StartedAt:  start,
		Duration:   duration.String(),
		StatusCode: status,
		Success:    err == nil,
	}
	if err != nil {
		record.Error = err.Error()
		slog.Warn("cron job failed", "job", job.Name, "url", job.URL, "error", err, "duration", duration)
	} else {
		slog.Debug("cron job completed", "job", job.Name, "status", status, "duration", duration)
	}

	s.mu.Lock()
	s.runs = append(s.runs, record)
	if len(s.runs) > maxRuns {
		s.runs = s.runs[len(s.runs)-maxRuns:]
	}
	s.mu.Unlock()
	return record
}

func (s *Scheduler) ping(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
