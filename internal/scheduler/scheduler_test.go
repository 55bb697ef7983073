package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	calls atomic.Int32
	err   error
}

func (j *countingJob) Name() string { return j.name }
func (j *countingJob) Run() error {
	j.calls.Add(1)
	return j.err
}

func TestScheduler_RunNowExecutesImmediately(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "test"}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(1), job.calls.Load())
}

func TestScheduler_RunNowPropagatesError(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "test", err: errors.New("boom")}

	err := s.RunNow(job)
	require.Error(t, err)
}

func TestScheduler_AddJobRunsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "tick"}

	require.NoError(t, s.AddJob("@every 1s", job))
	s.Start()
	defer s.Stop()

	time.Sleep(1500 * time.Millisecond)
	assert.GreaterOrEqual(t, job.calls.Load(), int32(1))
}
