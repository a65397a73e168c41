// Package job runs build jobs asynchronously with a bounded number of
// workers, guaranteed cleanup and pollable status.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Result is what a successful job hands back.
type Result struct {
	Outputs []string
	Log     string
}

// Func performs one job. Cleanup registered on scope runs after it returns,
// also when it fails or panics.
type Func func(ctx context.Context, id string, scope *Scope) (*Result, error)

// Job is a snapshot of a submitted job.
type Job struct {
	ID       string
	Platform string
	Status   Status
	Result   *Result
	Err      error
	Started  time.Time
	Finished time.Time
}

// ErrUnknownJob is returned for ids the runner never issued.
var ErrUnknownJob = errors.New("unknown job")

type entry struct {
	mu   sync.Mutex
	job  Job
	done chan struct{}
}

func (e *entry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

// Runner executes jobs on at most a fixed number of workers.
type Runner struct {
	sem     chan struct{}
	tracker *Tracker
	logger  zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*entry
	wg   sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l.With().Str("component", "job").Logger() }
}

// WithTracker records every finished job in t.
func WithTracker(t *Tracker) Option {
	return func(r *Runner) { r.tracker = t }
}

// NewRunner returns a Runner with workers concurrent jobs.
func NewRunner(workers int, opts ...Option) *Runner {
	if workers < 1 {
		workers = 1
	}
	r := &Runner{
		sem:     make(chan struct{}, workers),
		tracker: NewTracker(),
		logger:  zerolog.Nop(),
		jobs:    make(map[string]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Tracker returns the runner's job statistics.
func (r *Runner) Tracker() *Tracker { return r.tracker }

// Submit queues fn and returns the new job id.
func (r *Runner) Submit(ctx context.Context, platform string, fn Func) string {
	id := uuid.NewString()
	e := &entry{
		job:  Job{ID: id, Platform: platform, Status: StatusPending},
		done: make(chan struct{}),
	}
	r.mu.Lock()
	r.jobs[id] = e
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, e, fn)
	}()
	return id
}

// Status returns a snapshot of job id.
func (r *Runner) Status(id string) (Job, error) {
	e, err := r.entry(id)
	if err != nil {
		return Job{}, err
	}
	return e.snapshot(), nil
}

// Wait blocks until job id finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (Job, error) {
	e, err := r.entry(id)
	if err != nil {
		return Job{}, err
	}
	select {
	case <-e.done:
		return e.snapshot(), nil
	case <-ctx.Done():
		return e.snapshot(), ctx.Err()
	}
}

// Close waits for every submitted job to finish.
func (r *Runner) Close() {
	r.wg.Wait()
}

func (r *Runner) entry(id string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return e, nil
}

// stager is implemented by errors that know the build state they ended in.
type stager interface {
	Stage() string
}

func (r *Runner) run(ctx context.Context, e *entry, fn Func) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		r.finish(e, nil, ctx.Err(), time.Now())
		return
	}
	defer func() { <-r.sem }()

	id := e.snapshot().ID
	log := r.logger.With().Str("job", id).Logger()
	start := time.Now()
	e.mu.Lock()
	e.job.Status = StatusRunning
	e.job.Started = start
	e.mu.Unlock()
	log.Info().Str("platform", e.job.Platform).Msg("job started")

	var (
		res *Result
		err error
	)
	scope := NewScope(log)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
		if cerr := scope.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("job cleanup incomplete")
		}
		r.finish(e, res, err, start)
	}()
	res, err = fn(ctx, id, scope)
}

func (r *Runner) finish(e *entry, res *Result, err error, start time.Time) {
	now := time.Now()
	e.mu.Lock()
	e.job.Finished = now
	e.job.Result = res
	e.job.Err = err
	e.job.Status = StatusDone
	if err != nil {
		e.job.Status = StatusFailed
	}
	job := e.job
	e.mu.Unlock()

	stage := "Done"
	var s stager
	if errors.As(err, &s) {
		stage = s.Stage()
	} else if err != nil {
		stage = "Failed"
	}
	r.tracker.Record(job.ID, job.Platform, stage, job.Status, now.Sub(start))

	if err != nil {
		r.logger.Error().Err(err).Str("job", job.ID).Str("stage", stage).Msg("job failed")
	} else {
		r.logger.Info().Str("job", job.ID).Dur("duration", now.Sub(start)).Msg("job done")
	}
	close(e.done)
}
