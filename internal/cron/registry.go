package cron

import (
	"context"
	"time"
)

// Job represents a scheduled task that runs inside the job runner.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry tracks registered jobs.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register adds a job to the registry.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Every wraps job so it runs at most once per interval, however often the
// service ticks. The first tick always runs it.
func Every(job Job, interval time.Duration, now func() time.Time) Job {
	if job == nil {
		return nil
	}
	return &everyJob{job: job, interval: interval, now: now}
}

type everyJob struct {
	job      Job
	interval time.Duration
	now      func() time.Time
	last     time.Time
}

func (e *everyJob) Name() string { return e.job.Name() }

func (e *everyJob) Run(ctx context.Context) error {
	now := e.now()
	if !e.last.IsZero() && now.Sub(e.last) < e.interval {
		return errNotDue
	}
	e.last = now
	return e.job.Run(ctx)
}
