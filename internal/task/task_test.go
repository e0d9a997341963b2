package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceansignal/go-trios/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	return NewManager(context.Background(), logger.NewSlog(logger.ErrorLevel, false))
}

func TestManager_StartAndStop(t *testing.T) {
	mgr := newTestManager(t)

	var runs atomic.Int32
	err := mgr.Start("counter", func() bool {
		runs.Add(1)
		time.Sleep(time.Millisecond)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.Count())

	time.Sleep(20 * time.Millisecond)

	mgr.Stop()
	mgr.Wait()

	assert.Equal(t, 0, mgr.Count())
	assert.Positive(t, runs.Load())
}

func TestManager_TaskStopsItself(t *testing.T) {
	mgr := newTestManager(t)

	done := make(chan struct{})
	err := mgr.Start("oneshot", func() bool {
		close(done)
		return false
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}

	mgr.Stop()
	mgr.Wait()
	assert.Equal(t, 0, mgr.Count())
}

func TestManager_PanicRecovery(t *testing.T) {
	mgr := newTestManager(t)

	require.NoError(t, mgr.Start("panicky", func() bool {
		panic("boom")
	}))

	// The panic must stop the task without crashing the process.
	mgr.Stop()
	mgr.Wait()
	assert.Equal(t, 0, mgr.Count())
}

func TestManager_StartAfterStop(t *testing.T) {
	mgr := newTestManager(t)

	mgr.Stop()
	err := mgr.Start("late", func() bool { return false })
	assert.ErrorIs(t, err, ErrStopped)

	// Wait re-arms the manager.
	mgr.Wait()
	require.NoError(t, mgr.Start("again", func() bool { return false }))

	mgr.Stop()
	mgr.Wait()
}

func TestManager_StartInterval(t *testing.T) {
	mgr := newTestManager(t)

	var ticks atomic.Int32
	require.NoError(t, mgr.StartInterval("ticker", 5*time.Millisecond, func() bool {
		ticks.Add(1)
		return true
	}))

	time.Sleep(40 * time.Millisecond)

	mgr.Stop()
	mgr.Wait()
	assert.GreaterOrEqual(t, ticks.Load(), int32(2))

	err := mgr.StartInterval("bad", 0, func() bool { return true })
	assert.Error(t, err)
}

func TestStartConsumer(t *testing.T) {
	mgr := newTestManager(t)

	ch := make(chan int, 8)
	var sum atomic.Int32

	require.NoError(t, StartConsumer(mgr, "consumer", ch, func(v int) bool {
		sum.Add(int32(v))
		return v != 0
	}))

	ch <- 1
	ch <- 2
	ch <- 3

	assert.Eventually(t, func() bool { return sum.Load() == 6 }, time.Second, time.Millisecond)

	// A zero value stops the consumer.
	ch <- 0
	mgr.Stop()
	mgr.Wait()
	assert.Equal(t, 0, mgr.Count())
}

func TestStartConsumer_ChannelClosed(t *testing.T) {
	mgr := newTestManager(t)

	ch := make(chan int)
	require.NoError(t, StartConsumer(mgr, "consumer", ch, func(int) bool { return true }))

	close(ch)

	assert.Eventually(t, func() bool { return mgr.Count() == 0 }, time.Second, time.Millisecond)
	mgr.Stop()
	mgr.Wait()
}
