package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gregtusar/positrader/pkg/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsAndPauses(t *testing.T) {
	s := New(clock.NewReal(1), logrus.New())
	var runs atomic.Int64
	require.NoError(t, s.Add(Task{
		Name:     "trading",
		Interval: 5 * time.Millisecond,
		RunNow:   true,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)

	require.True(t, s.Pause("trading"))
	assert.True(t, s.Paused("trading"))
	time.Sleep(10 * time.Millisecond)
	frozen := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, frozen, runs.Load())

	require.True(t, s.Continue("trading"))
	require.Eventually(t, func() bool { return runs.Load() > frozen }, time.Second, time.Millisecond)
}

func TestScheduler_UnknownTaskTolerated(t *testing.T) {
	s := New(clock.NewReal(1), logrus.New())
	assert.False(t, s.Pause("backtest"))
	assert.False(t, s.Continue("backtest"))
	assert.False(t, s.Paused("backtest"))
}

func TestScheduler_RejectsDuplicatesAndInvalid(t *testing.T) {
	s := New(clock.NewReal(1), logrus.New())
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Add(Task{Name: "a", Interval: time.Second, Run: noop}))
	assert.Error(t, s.Add(Task{Name: "a", Interval: time.Second, Run: noop}))
	assert.Error(t, s.Add(Task{Name: "b", Run: noop}))
}

func TestScheduler_TaskStopsOnDone(t *testing.T) {
	s := New(clock.NewReal(1), logrus.New())
	var runs atomic.Int64
	require.NoError(t, s.Add(Task{
		Name:     "backtest",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			if runs.Add(1) == 3 {
				return ErrDone
			}
			return nil
		},
	}))
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() == 3 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(3), runs.Load())
}

func TestScheduler_IntervalScaledBySpeed(t *testing.T) {
	// A one hour interval at 1e6x speed ticks every 3.6ms.
	s := New(clock.NewReal(1e6), logrus.New())
	var runs atomic.Int64
	require.NoError(t, s.Add(Task{
		Name:     "account",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, time.Millisecond)
}

func TestScheduler_HighSpeedIntervalIsFloored(t *testing.T) {
	s := New(clock.NewReal(1e9), logrus.New())
	var runs atomic.Int64
	require.NoError(t, s.Add(Task{
		Name:     "backtest",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			if runs.Add(1) == 3 {
				return ErrDone
			}
			return nil
		},
	}))

	s.Start(context.Background())
	defer s.Stop()
	require.Eventually(t, func() bool { return runs.Load() == 3 }, time.Second, time.Millisecond)
}
