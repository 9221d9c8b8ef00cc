package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/cyclebot/pkg/logger"
)

type countingJob struct {
	name     string
	schedule string
	failures int32 // 처음 n번 실패
	calls    atomic.Int32
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return j.schedule }

func (j *countingJob) Run(ctx context.Context) error {
	n := j.calls.Add(1)
	if n <= j.failures {
		return errors.New("transient")
	}
	return nil
}

func newTestRunner() *JobRunner {
	r := NewJobRunner(logger.NewNop())
	r.SetRetry(2, time.Millisecond)
	return r
}

func TestJobRunner_AddAndRun(t *testing.T) {
	r := newTestRunner()
	defer r.Stop()

	job := &countingJob{name: "sync", schedule: "0 */5 * * * *", failures: 1}
	require.NoError(t, r.AddJob(job))
	assert.Error(t, r.AddJob(job), "duplicate name")

	result, err := r.RunJob("sync")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Attempts)

	_, err = r.RunJob("missing")
	assert.Error(t, err)

	history, err := r.History("sync", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)

	stats := r.Stats()["sync"]
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.InDelta(t, 1.0, stats.SuccessRate, 1e-9)
	assert.NotNil(t, stats.LastSuccess)
	assert.Nil(t, stats.LastFailure)
}

func TestJobRunner_FailsAfterRetries(t *testing.T) {
	r := newTestRunner()
	defer r.Stop()

	job := &countingJob{name: "flaky", schedule: "@every 1h", failures: 10}
	require.NoError(t, r.AddJob(job))

	result, err := r.RunJob("flaky")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, "transient", result.Error)

	stats := r.Stats()["flaky"]
	assert.Equal(t, 1, stats.FailureCount)
	assert.NotNil(t, stats.LastFailure)
}

func TestJobRunner_InvalidSchedule(t *testing.T) {
	r := newTestRunner()
	defer r.Stop()

	assert.Error(t, r.AddJob(&countingJob{name: "bad", schedule: "not a cron"}))
	assert.Empty(t, r.Jobs())
}

func TestJobRunner_RemoveJob(t *testing.T) {
	r := newTestRunner()
	defer r.Stop()

	require.NoError(t, r.AddJob(&countingJob{name: "b", schedule: "@every 1h"}))
	require.NoError(t, r.AddJob(&countingJob{name: "a", schedule: "@every 1h"}))
	assert.Equal(t, []string{"a", "b"}, r.Jobs())

	require.NoError(t, r.RemoveJob("a"))
	assert.Error(t, r.RemoveJob("a"))
	assert.Equal(t, []string{"b"}, r.Jobs())
}

func TestJobRunner_StartStop(t *testing.T) {
	r := newTestRunner()
	job := &countingJob{name: "tick", schedule: "@every 1s"}
	require.NoError(t, r.AddJob(job))

	r.Start()
	require.Eventually(t, func() bool { return job.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	r.Stop()

	stats := r.Stats()["tick"]
	assert.GreaterOrEqual(t, stats.TotalRuns, 1)
}

func TestJobHistory(t *testing.T) {
	h := &JobHistory{}
	for i := 0; i < historyLimit+20; i++ {
		h.AddResult(JobResult{Success: i%2 == 0})
	}

	assert.Len(t, h.Results, historyLimit)
	assert.Len(t, h.Latest(5), 5)
	assert.Len(t, h.Latest(1000), historyLimit)
	assert.Equal(t, historyLimit/2, h.FailureCount())
	assert.InDelta(t, 0.5, h.SuccessRate(), 1e-9)

	assert.Zero(t, (&JobHistory{}).SuccessRate())
	assert.Empty(t, (&JobHistory{}).Latest(3))
}
