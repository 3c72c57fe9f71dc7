package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	commonaws "loan-catalog/internal/common/aws"
	commonerrors "loan-catalog/internal/common/errors"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test helpers
// ==========================

type fakeRefresher struct {
	mu       sync.Mutex
	calls    map[string]int
	err      error
	panicMsg string
	block    chan struct{}

	inflight    int64
	maxInflight int64
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{calls: map[string]int{}}
}

func (f *fakeRefresher) Refresh(ctx context.Context, sources []string, _ bool) (*models.RefreshResult, error) {
	n := atomic.AddInt64(&f.inflight, 1)
	defer atomic.AddInt64(&f.inflight, -1)
	for {
		max := atomic.LoadInt64(&f.maxInflight)
		if n <= max || atomic.CompareAndSwapInt64(&f.maxInflight, max, n) {
			break
		}
	}

	key := ""
	if len(sources) > 0 {
		key = sources[0]
	}
	f.mu.Lock()
	f.calls[key]++
	err, panicMsg, block := f.err, f.panicMsg, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panicMsg != "" {
		panic(panicMsg)
	}
	if err != nil {
		return &models.RefreshResult{Failed: sources}, err
	}
	return &models.RefreshResult{Source: key, Refreshed: 3, Validation: models.ValidationCounts{Total: 3, Valid: 3}}, nil
}

func (f *fakeRefresher) Calls(source string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[source]
}

func (f *fakeRefresher) set(fn func(f *fakeRefresher)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

type fakeNotifier struct {
	mu       sync.Mutex
	failures []commonaws.JobFailure
}

func (n *fakeNotifier) NotifyJobFailure(_ context.Context, failure commonaws.JobFailure) error {
	n.mu.Lock()
	n.failures = append(n.failures, failure)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) Failures() []commonaws.JobFailure {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]commonaws.JobFailure(nil), n.failures...)
}

func createTestScheduler(t *testing.T, refresher Refresher, notifier Notifier, jobs ...Job) *Scheduler {
	if len(jobs) == 0 {
		jobs = []Job{{Name: "dailyRefresh", Interval: time.Hour, Sources: []string{"all"}}}
	}
	opts := Options{Tick: 5 * time.Millisecond, JobTimeout: time.Second}
	if notifier != nil {
		opts.Notifier = notifier
	}
	s := New(refresher, jobs, opts, logger.NewTestLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func jobStatus(t *testing.T, s *Scheduler, name string) JobStatus {
	for _, js := range s.GetStatus().Jobs {
		if js.Name == name {
			return js
		}
	}
	t.Fatalf("job %s not in status", name)
	return JobStatus{}
}

const waitFor = 2 * time.Second
const pollEvery = 5 * time.Millisecond

// ==========================
// Lifecycle
// ==========================

func TestScheduler_TriggerJob_Errors(t *testing.T) {
	s := createTestScheduler(t, newFakeRefresher(), nil)
	ctx := context.Background()

	err := s.TriggerJob(ctx, "dailyRefresh")
	require.Error(t, err)
	assert.True(t, errors.Is(err, commonerrors.ErrSchedulerStopped))

	require.NoError(t, s.Start(ctx))

	err = s.TriggerJob(ctx, "weeklyRefresh")
	require.Error(t, err)
	assert.True(t, errors.Is(err, commonerrors.ErrJobNotFound))
}

func TestScheduler_StartStop(t *testing.T) {
	s := createTestScheduler(t, newFakeRefresher(), nil)
	ctx := context.Background()

	assert.False(t, s.GetStatus().Running)
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))

	status := s.GetStatus()
	assert.True(t, status.Running)
	require.NotNil(t, status.StartedAt)
	require.Len(t, status.Jobs, 1)
	require.NotNil(t, status.Jobs[0].NextRunAt)
	assert.Equal(t, status.StartedAt.Add(time.Hour), *status.Jobs[0].NextRunAt)

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.GetStatus().Running)
	assert.Nil(t, s.GetStatus().Jobs[0].NextRunAt)
}

// ==========================
// Runs
// ==========================

func TestScheduler_TriggerRunsImmediately(t *testing.T) {
	refresher := newFakeRefresher()
	s := createTestScheduler(t, refresher, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.TriggerJob(ctx, "dailyRefresh"))

	require.Eventually(t, func() bool {
		return jobStatus(t, s, "dailyRefresh").Runs == 1
	}, waitFor, pollEvery)

	js := jobStatus(t, s, "dailyRefresh")
	require.NotNil(t, js.LastRunAt)
	require.NotNil(t, js.NextRunAt)
	assert.Equal(t, js.LastRunAt.Add(time.Hour), *js.NextRunAt)
	assert.NotEmpty(t, js.LastRunID)
	assert.Empty(t, js.LastError)
	require.NotNil(t, js.LastResult)
	assert.Equal(t, 3, js.LastResult.Refreshed)
	assert.Equal(t, 1, refresher.Calls("all"))
}

func TestScheduler_IntervalFires(t *testing.T) {
	refresher := newFakeRefresher()
	s := createTestScheduler(t, refresher, nil, Job{Name: "apiRefresh", Interval: 30 * time.Millisecond, Sources: []string{"api"}})
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return refresher.Calls("api") >= 2
	}, waitFor, pollEvery)
}

func TestScheduler_RunsOfOneJobNeverOverlap(t *testing.T) {
	refresher := newFakeRefresher()
	block := make(chan struct{})
	refresher.block = block
	s := createTestScheduler(t, refresher, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.TriggerJob(ctx, "dailyRefresh"))
	require.Eventually(t, func() bool { return refresher.Calls("all") == 1 }, waitFor, pollEvery)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.TriggerJob(ctx, "dailyRefresh"))
	}
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.jobs["dailyRefresh"].pending
	}, waitFor, pollEvery)
	assert.True(t, jobStatus(t, s, "dailyRefresh").Running)

	close(block)

	require.Eventually(t, func() bool {
		js := jobStatus(t, s, "dailyRefresh")
		return js.Runs == 2 && !js.Running
	}, waitFor, pollEvery)
	assert.Equal(t, 2, refresher.Calls("all"))
	assert.Equal(t, int64(1), atomic.LoadInt64(&refresher.maxInflight))
}

func TestScheduler_DifferentJobsRunConcurrently(t *testing.T) {
	refresher := newFakeRefresher()
	block := make(chan struct{})
	refresher.block = block
	s := createTestScheduler(t, refresher, nil,
		Job{Name: "dailyRefresh", Interval: time.Hour, Sources: []string{"all"}},
		Job{Name: "apiRefresh", Interval: time.Hour, Sources: []string{"api"}},
	)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.TriggerJob(ctx, "dailyRefresh"))
	require.NoError(t, s.TriggerJob(ctx, "apiRefresh"))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&refresher.inflight) == 2
	}, waitFor, pollEvery)
	close(block)
}

func TestScheduler_FailedRunKeepsScheduling(t *testing.T) {
	refresher := newFakeRefresher()
	refresher.err = errors.New("all providers down")
	notifier := &fakeNotifier{}
	s := createTestScheduler(t, refresher, notifier)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.TriggerJob(ctx, "dailyRefresh"))
	require.Eventually(t, func() bool { return jobStatus(t, s, "dailyRefresh").Failures == 1 }, waitFor, pollEvery)

	js := jobStatus(t, s, "dailyRefresh")
	assert.Contains(t, js.LastError, "all providers down")
	require.NotNil(t, js.NextRunAt)
	assert.Equal(t, js.LastRunAt.Add(time.Hour), *js.NextRunAt)
	assert.True(t, s.GetStatus().Running)

	failures := notifier.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "dailyRefresh", failures[0].Job)
	assert.Equal(t, js.LastRunID, failures[0].RunID)

	refresher.set(func(f *fakeRefresher) { f.err = nil })
	require.NoError(t, s.TriggerJob(ctx, "dailyRefresh"))
	require.Eventually(t, func() bool { return jobStatus(t, s, "dailyRefresh").Runs == 2 }, waitFor, pollEvery)
	assert.Empty(t, jobStatus(t, s, "dailyRefresh").LastError)
}

func TestScheduler_PanicIsRecovered(t *testing.T) {
	refresher := newFakeRefresher()
	refresher.panicMsg = "nil map"
	s := createTestScheduler(t, refresher, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.TriggerJob(ctx, "dailyRefresh"))
	require.Eventually(t, func() bool { return jobStatus(t, s, "dailyRefresh").Failures == 1 }, waitFor, pollEvery)
	assert.Contains(t, jobStatus(t, s, "dailyRefresh").LastError, "job panicked: nil map")

	refresher.set(func(f *fakeRefresher) { f.panicMsg = "" })
	require.NoError(t, s.TriggerJob(ctx, "dailyRefresh"))
	require.Eventually(t, func() bool { return jobStatus(t, s, "dailyRefresh").Runs == 2 }, waitFor, pollEvery)
	assert.True(t, s.GetStatus().Running)
}

func TestScheduler_RunJob(t *testing.T) {
	refresher := newFakeRefresher()
	s := createTestScheduler(t, refresher, nil)
	ctx := context.Background()

	result, err := s.RunJob(ctx, "dailyRefresh")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Refreshed)
	assert.Equal(t, int64(1), jobStatus(t, s, "dailyRefresh").Runs)

	_, err = s.RunJob(ctx, "missing")
	assert.True(t, errors.Is(err, commonerrors.ErrJobNotFound))

	refresher.set(func(f *fakeRefresher) { f.err = errors.New("boom") })
	_, err = s.RunJob(ctx, "dailyRefresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Job 'dailyRefresh' failed")
}

func TestScheduler_JobTimeout(t *testing.T) {
	refresher := newFakeRefresher()
	refresher.block = make(chan struct{})
	defer close(refresher.block)
	s := New(refresher, []Job{{Name: "slow", Interval: time.Hour, Sources: []string{"api"}}},
		Options{Tick: 5 * time.Millisecond, JobTimeout: 30 * time.Millisecond}, logger.NewTestLogger(t))

	_, err := s.RunJob(context.Background(), "slow")

	require.Error(t, err)
	assert.Contains(t, jobStatus(t, s, "slow").LastError, "context deadline exceeded")
}
