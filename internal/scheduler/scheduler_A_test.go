package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-privacy/pkg/logging"
)

func TestTaskStartStop(t *testing.T) { // A
	t.Parallel()
	var calls atomic.Int32
	task := NewTask("tick", func(context.Context) error {
		calls.Add(1)
		return nil
	}, Options{Logger: logging.Discard()})

	task.StartInterval(10 * time.Millisecond)
	// Starting again should be a no-op.
	task.StartInterval(10 * time.Millisecond)
	assert.True(t, task.Running())

	require.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	task.Stop()
	task.Stop()
	assert.False(t, task.Running())

	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

func TestTaskSurvivesPanicsAndErrors(t *testing.T) { // A
	t.Parallel()
	var calls atomic.Int32
	task := NewTask("flaky", func(context.Context) error {
		n := calls.Add(1)
		switch n {
		case 1:
			panic("boom")
		case 2:
			return errors.New("transient")
		default:
			return nil
		}
	}, Options{Logger: logging.Discard()})

	task.StartInterval(5 * time.Millisecond)
	defer task.Stop()

	require.Eventually(t, func() bool {
		return calls.Load() >= 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, task.Failures())
}

func TestRunNowReportsPanicAsError(t *testing.T) { // A
	t.Parallel()
	var observed error
	task := NewTask("once", func(context.Context) error {
		panic("bad")
	}, Options{
		Logger: logging.Discard(),
		Observer: func(name string, err error) {
			observed = err
		},
	})

	err := task.RunNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, err, observed)
	assert.EqualValues(t, 1, task.Runs())
}

func TestRunNowAppliesTimeout(t *testing.T) { // A
	t.Parallel()
	task := NewTask("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, Options{Logger: logging.Discard(), Timeout: 10 * time.Millisecond})

	err := task.RunNow(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopCancelsInFlightRun(t *testing.T) { // A
	t.Parallel()
	started := make(chan struct{}, 1)
	task := NewTask("blocking", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}, Options{Logger: logging.Discard()})

	task.StartInterval(5 * time.Millisecond)
	<-started

	done := make(chan struct{})
	go func() {
		task.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestGroup(t *testing.T) { // A
	t.Parallel()
	var a, b atomic.Int32
	g := &Group{}
	g.Add(NewTask("a", func(context.Context) error {
		a.Add(1)
		return nil
	}, Options{Logger: logging.Discard()}), 5*time.Millisecond)
	g.Add(NewTask("b", func(context.Context) error {
		b.Add(1)
		return nil
	}, Options{Logger: logging.Discard()}), 5*time.Millisecond)

	g.Start()
	require.Eventually(t, func() bool {
		return a.Load() > 0 && b.Load() > 0
	}, 2*time.Second, 5*time.Millisecond)
	g.Stop()
}
