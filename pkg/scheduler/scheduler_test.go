package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsRegisteredTask(t *testing.T) {
	s := New(nil)
	var runs int64
	s.Register("tick", 10*time.Millisecond, func(context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerStopHaltsTasks(t *testing.T) {
	s := New(nil)
	var runs int64
	s.Register("tick", 10*time.Millisecond, func(context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	s.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	s.Stop()

	after := atomic.LoadInt64(&runs)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt64(&runs))
}

func TestSchedulerRegisterAfterStartIgnored(t *testing.T) {
	s := New(nil)
	s.Start(context.Background())
	defer s.Stop()

	var runs int64
	s.Register("late", 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	time.Sleep(25 * time.Millisecond)
	require.Zero(t, atomic.LoadInt64(&runs))
}
