package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/metrics"
)

// JobService is the asynchronous side of a generation service.
type JobService interface {
	Submit(ctx context.Context, spec domain.JobSpec) (*domain.GenerationJob, error)
	Get(ctx context.Context, jobID string) (*domain.GenerationJob, error)
}

// Runner submits a job and polls it until it reaches a terminal status, the
// attempt budget is spent or the timeout elapses.
type Runner struct {
	service     JobService
	interval    time.Duration
	maxAttempts int
	timeout     time.Duration
	logger      *infra.Logger
	metrics     *metrics.Collectors
}

// RunnerOptions configures a Runner. Zero values take the defaults: poll
// every 2s, at most 150 polls, 10 minute deadline per job.
type RunnerOptions struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
	Logger      *infra.Logger
	Metrics     *metrics.Collectors
}

// NewRunner builds a Runner over service.
func NewRunner(service JobService, opts RunnerOptions) *Runner {
	r := &Runner{
		service:     service,
		interval:    opts.Interval,
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.Timeout,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	if r.interval <= 0 {
		r.interval = 2 * time.Second
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 150
	}
	if r.timeout <= 0 {
		r.timeout = 10 * time.Minute
	}
	if r.logger == nil {
		r.logger = infra.DiscardLogger()
	}
	return r
}

// Run executes spec to completion. A failed job is returned as a
// *domain.JobError; running out of time or attempts wraps domain.ErrJobTimeout.
// Get is never called once a terminal status has been observed.
func (r *Runner) Run(ctx context.Context, spec domain.JobSpec) (*domain.GenerationJob, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	job, err := r.service.Submit(ctx, spec)
	if err != nil {
		return nil, r.deadline(ctx, spec, "", fmt.Errorf("submit %s job: %w", spec.Kind, err))
	}
	log := r.logger.With().Str("kind", string(spec.Kind)).Str("job_id", job.ExternalJobID).Logger()

	polls := 0
	timer := time.NewTimer(r.interval)
	defer timer.Stop()
	for !job.Status.Terminal() {
		if polls >= r.maxAttempts {
			r.metrics.ObservePolls(spec.Kind, polls)
			return nil, fmt.Errorf("%s job %s still %s after %d polls: %w", spec.Kind, job.ExternalJobID, job.Status, polls, domain.ErrJobTimeout)
		}
		select {
		case <-ctx.Done():
			r.metrics.ObservePolls(spec.Kind, polls)
			return nil, r.deadline(ctx, spec, job.ExternalJobID, ctx.Err())
		case <-timer.C:
		}
		polls++
		next, err := r.service.Get(ctx, job.ExternalJobID)
		if err != nil {
			r.metrics.ObservePolls(spec.Kind, polls)
			return nil, r.deadline(ctx, spec, job.ExternalJobID, fmt.Errorf("poll %s job %s: %w", spec.Kind, job.ExternalJobID, err))
		}
		job = next
		log.Debug().Int("poll", polls).Str("status", string(job.Status)).Msg("pipeline: job polled")
		timer.Reset(r.interval)
	}
	r.metrics.ObservePolls(spec.Kind, polls)

	if job.Status == domain.JobStatusFailed {
		return nil, &domain.JobError{Kind: spec.Kind, JobID: job.ExternalJobID, Detail: job.ErrorDetail}
	}
	return job, nil
}

// deadline rewrites err as a timeout when the runner's own deadline expired.
func (r *Runner) deadline(ctx context.Context, spec domain.JobSpec, jobID string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s job %s exceeded %s: %w", spec.Kind, jobID, r.timeout, domain.ErrJobTimeout)
	}
	return err
}
