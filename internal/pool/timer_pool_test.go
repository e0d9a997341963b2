package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerPool_GetPut(t *testing.T) {
	timer := GetTimer(5 * time.Millisecond)
	require.NotNil(t, timer)

	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	PutTimer(timer)

	// A reused timer must be re-armed for the new duration.
	begin := time.Now()
	timer = GetTimer(50 * time.Millisecond)
	require.NotNil(t, timer)

	select {
	case fired := <-timer.C:
		assert.GreaterOrEqual(t, fired.Sub(begin), 40*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("reused timer did not fire")
	}

	PutTimer(timer)
}

func TestTimerPool_PutActiveTimer(t *testing.T) {
	// Returning a still-armed timer must not leak its expiry into the next
	// user.
	timer := GetTimer(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	PutTimer(timer)

	timer = GetTimer(100 * time.Millisecond)
	select {
	case <-timer.C:
		t.Fatal("stale expiry delivered from pooled timer")
	case <-time.After(30 * time.Millisecond):
	}

	PutTimer(timer)
}

func TestTimerPool_Concurrency(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			timer := GetTimer(5 * time.Millisecond)
			defer PutTimer(timer)
			<-timer.C
		}()
	}
	wg.Wait()
}
