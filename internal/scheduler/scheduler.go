// Package scheduler runs named refresh jobs on fixed intervals and on demand.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	commonaws "loan-catalog/internal/common/aws"
	commonerrors "loan-catalog/internal/common/errors"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/common/metrics"
	"loan-catalog/internal/common/observability"
	"loan-catalog/internal/models"

	"github.com/google/uuid"
)

const (
	defaultTick       = time.Second
	defaultJobTimeout = 2 * time.Minute
	triggerBuffer     = 16
	notifyTimeout     = 10 * time.Second
)

// Refresher performs one fetch, validate and cache pass over sources.
type Refresher interface {
	Refresh(ctx context.Context, sources []string, clearCache bool) (*models.RefreshResult, error)
}

// Notifier is told about failed job runs.
type Notifier interface {
	NotifyJobFailure(ctx context.Context, failure commonaws.JobFailure) error
}

// Job is a named, independently scheduled refresh.
type Job struct {
	Name     string
	Interval time.Duration
	Sources  []string
}

// JobStatus is the externally visible state of one job.
type JobStatus struct {
	Name         string                `json:"name"`
	Interval     string                `json:"interval"`
	Sources      []string              `json:"sources"`
	Running      bool                  `json:"running"`
	LastRunAt    *time.Time            `json:"lastRunAt,omitempty"`
	NextRunAt    *time.Time            `json:"nextRunAt,omitempty"`
	LastError    string                `json:"lastError,omitempty"`
	LastRunID    string                `json:"lastRunId,omitempty"`
	LastDuration string                `json:"lastDuration,omitempty"`
	Runs         int64                 `json:"runs"`
	Failures     int64                 `json:"failures"`
	LastResult   *models.RefreshResult `json:"lastResult,omitempty"`
}

// Status is the scheduler state.
type Status struct {
	Running   bool        `json:"running"`
	StartedAt *time.Time  `json:"startedAt,omitempty"`
	Jobs      []JobStatus `json:"jobs"`
}

type jobState struct {
	job Job

	busy    bool
	pending bool

	lastRunAt    time.Time
	nextRunAt    time.Time
	lastError    string
	lastRunID    string
	lastDuration time.Duration
	runs         int64
	failures     int64
	lastResult   *models.RefreshResult
}

// Options configures a Scheduler.
type Options struct {
	Tick       time.Duration
	JobTimeout time.Duration
	Notifier   Notifier
	Obs        *observability.Observability
	Now        func() time.Time
}

// Scheduler is Stopped until Start and Running until Stop. Runs of one job
// never overlap; a trigger that arrives during a run queues exactly one
// follow-up run.
type Scheduler struct {
	refresher Refresher
	opts      Options
	logger    logger.Logger

	mu        sync.Mutex
	jobs      map[string]*jobState
	running   bool
	startedAt time.Time
	triggers  chan string
	loopCtx   context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	runs      sync.WaitGroup
}

func New(refresher Refresher, jobs []Job, opts Options, log logger.Logger) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	states := make(map[string]*jobState, len(jobs))
	for _, j := range jobs {
		states[j.Name] = &jobState{job: j}
	}
	return &Scheduler{
		refresher: refresher,
		opts:      opts,
		logger:    log.WithFields(map[string]interface{}{"component": "scheduler"}),
		jobs:      states,
	}
}

// Start moves the scheduler to Running. Each job first fires one interval
// after Start.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := s.opts.Now()
	for _, st := range s.jobs {
		st.nextRunAt = now.Add(st.job.Interval)
	}
	s.running = true
	s.startedAt = now
	s.loopCtx = loopCtx
	s.cancel = cancel
	s.triggers = make(chan string, triggerBuffer)
	s.loopDone = make(chan struct{})

	go s.loop(loopCtx, s.triggers, s.loopDone)

	s.logger.Info("scheduler started", map[string]interface{}{
		"jobs": s.jobNamesLocked(),
		"tick": s.opts.Tick.String(),
	})
	return nil
}

// Stop moves the scheduler to Stopped and waits for in-flight runs until
// ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, loopDone := s.cancel, s.loopDone
	s.mu.Unlock()

	cancel()
	<-loopDone

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped", nil)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for job runs: %w", ctx.Err())
	}
}

// TriggerJob queues an immediate run of name regardless of its interval.
func (s *Scheduler) TriggerJob(ctx context.Context, name string) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return commonerrors.NewSchedulerStoppedError()
	}
	if _, ok := s.jobs[name]; !ok {
		s.mu.Unlock()
		return commonerrors.NewJobNotFoundError(name)
	}
	triggers, loopDone := s.triggers, s.loopDone
	s.mu.Unlock()

	select {
	case triggers <- name:
		s.logger.Info("job triggered", map[string]interface{}{"job": name})
		return nil
	case <-loopDone:
		return commonerrors.NewSchedulerStoppedError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunJob runs name synchronously in the caller's goroutine. It works
// whether or not the scheduler is running, and refuses to overlap a run
// already in flight.
func (s *Scheduler) RunJob(ctx context.Context, name string) (*models.RefreshResult, error) {
	s.mu.Lock()
	st, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return nil, commonerrors.NewJobNotFoundError(name)
	}
	if st.busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("job %s is already running", name)
	}
	st.busy = true
	s.mu.Unlock()

	result, err := s.execute(ctx, st)

	s.mu.Lock()
	if st.pending && s.running {
		st.pending = false
		s.runs.Add(1)
		go s.drain(s.loopCtx, st)
	} else {
		st.pending = false
		st.busy = false
	}
	s.mu.Unlock()
	return result, err
}

func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{Running: s.running, Jobs: make([]JobStatus, 0, len(s.jobs))}
	if s.running {
		started := s.startedAt
		status.StartedAt = &started
	}
	for _, name := range s.jobNamesLocked() {
		st := s.jobs[name]
		js := JobStatus{
			Name:      name,
			Interval:  st.job.Interval.String(),
			Sources:   append([]string(nil), st.job.Sources...),
			Running:   st.busy,
			LastError: st.lastError,
			LastRunID: st.lastRunID,
			Runs:      st.runs,
			Failures:  st.failures,
		}
		if !st.lastRunAt.IsZero() {
			last := st.lastRunAt
			js.LastRunAt = &last
			js.LastDuration = st.lastDuration.String()
		}
		if s.running && st.job.Interval > 0 {
			next := st.nextRunAt
			js.NextRunAt = &next
		}
		if st.lastResult != nil {
			res := *st.lastResult
			js.LastResult = &res
		}
		status.Jobs = append(status.Jobs, js)
	}
	return status
}

// JobNames lists the configured jobs.
func (s *Scheduler) JobNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobNamesLocked()
}

func (s *Scheduler) jobNamesLocked() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) loop(ctx context.Context, triggers <-chan string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.opts.Now()
			for _, name := range s.JobNames() {
				s.mu.Lock()
				st := s.jobs[name]
				due := st.job.Interval > 0 && !now.Before(st.nextRunAt)
				s.mu.Unlock()
				if due {
					s.dispatch(ctx, st)
				}
			}
		case name := <-triggers:
			s.mu.Lock()
			st := s.jobs[name]
			s.mu.Unlock()
			s.dispatch(ctx, st)
		}
	}
}

// dispatch starts a run of st, or queues one if a run is in flight.
func (s *Scheduler) dispatch(ctx context.Context, st *jobState) {
	s.mu.Lock()
	if st.busy {
		st.pending = true
		s.mu.Unlock()
		return
	}
	st.busy = true
	s.mu.Unlock()

	s.runs.Add(1)
	go s.drain(ctx, st)
}

// drain runs st until no follow-up run is pending.
func (s *Scheduler) drain(ctx context.Context, st *jobState) {
	defer s.runs.Done()
	for {
		_, _ = s.execute(ctx, st)

		s.mu.Lock()
		if st.pending && ctx.Err() == nil {
			st.pending = false
			s.mu.Unlock()
			continue
		}
		st.pending = false
		st.busy = false
		s.mu.Unlock()
		return
	}
}

// execute performs one run. A panic is recovered and reported as a failed
// run. The next run is always scheduled at the normal interval.
func (s *Scheduler) execute(ctx context.Context, st *jobState) (result *models.RefreshResult, err error) {
	job := st.job
	runID := uuid.NewString()
	start := s.opts.Now()
	log := s.logger.WithFields(map[string]interface{}{"job": job.Name, "runId": runID})

	jctx, cancel := context.WithTimeout(ctx, s.opts.JobTimeout)
	defer cancel()

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		log.Info("job run started", map[string]interface{}{"sources": job.Sources})
		result, err = s.refresher.Refresh(jctx, job.Sources, false)
	}()

	finished := s.opts.Now()
	duration := finished.Sub(start)
	status := "success"
	if err != nil {
		status = "failure"
	}

	s.mu.Lock()
	st.lastRunAt = start
	st.nextRunAt = start.Add(job.Interval)
	st.lastRunID = runID
	st.lastDuration = duration
	st.runs++
	if err != nil {
		st.failures++
		st.lastError = err.Error()
	} else {
		st.lastError = ""
	}
	if result != nil {
		res := *result
		st.lastResult = &res
	}
	s.mu.Unlock()

	metrics.SchedulerJobRunsTotal.WithLabelValues(job.Name, status).Inc()
	metrics.SchedulerJobDuration.WithLabelValues(job.Name).Observe(duration.Seconds())
	s.opts.Obs.RecordJobProcessed(ctx, job.Name, status)
	s.opts.Obs.RecordJobDuration(ctx, job.Name, duration, status)

	if err != nil {
		log.Error("job run failed", map[string]interface{}{
			"error":    err.Error(),
			"failedAt": finished.UTC().Format(time.RFC3339),
			"duration": duration.String(),
		})
		s.notify(ctx, commonaws.JobFailure{
			Job:      job.Name,
			RunID:    runID,
			Sources:  job.Sources,
			Error:    err.Error(),
			FailedAt: finished.UTC(),
		})
		return result, commonerrors.NewJobFailedError(job.Name, err)
	}

	fields := map[string]interface{}{"duration": duration.String()}
	if result != nil {
		fields["refreshed"] = result.Refreshed
		fields["invalid"] = result.Validation.Invalid
		fields["failedSources"] = result.Failed
	}
	log.Info("job run completed", fields)
	return result, nil
}

func (s *Scheduler) notify(ctx context.Context, failure commonaws.JobFailure) {
	if s.opts.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.opts.Notifier.NotifyJobFailure(nctx, failure); err != nil {
		s.logger.Warn("job failure notification failed", map[string]interface{}{
			"job":   failure.Job,
			"error": err.Error(),
		})
	}
}
