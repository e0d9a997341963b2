// Package task manages the lifecycle of the goroutines a bus session runs:
// the receive pump, the command sender and periodic maintenance work. It
// provides structured start, stop and wait semantics with panic protection,
// so a misbehaving task cannot take the whole process down.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oceansignal/go-trios/logger"
)

// ErrStopped is returned by Start when the manager has been stopped and not
// yet reset by Wait.
var ErrStopped = errors.New("task: manager already stopped")

// Func is a task body executed repeatedly by a managed goroutine. It
// returns true to keep running, false to stop the goroutine.
type Func func() bool

// Manager runs named goroutines under a shared cancelable context.
//
// Stop signals every running task, Wait blocks until they have all
// terminated and then re-arms the manager for reuse.
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protects ctx and cancel
	taskMu sync.RWMutex // blocks task creation during Wait
}

// NewManager creates a Manager whose tasks are children of ctx.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *Manager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start launches a goroutine that calls fn repeatedly until fn returns
// false, fn panics, or the manager is stopped.
func (mgr *Manager) Start(name string, fn Func) error {
	mgr.logger.Debug("start task", "name", name)

	return mgr.launch(name, func() {
		for {
			select {
			case <-mgr.getContext().Done():
				return
			default:
			}

			if !mgr.callWithRecover(name, fn) {
				return
			}
		}
	})
}

// StartInterval launches a goroutine that calls fn every interval until fn
// returns false or the manager is stopped.
func (mgr *Manager) StartInterval(name string, interval time.Duration, fn Func) error {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval)

	if interval <= 0 {
		return fmt.Errorf("task: invalid interval %v", interval)
	}

	return mgr.launch(name, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-mgr.getContext().Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecover(name, fn) {
					return
				}
			}
		}
	})
}

// StartConsumer launches a goroutine that feeds values received on ch to fn
// until fn returns false, ch is closed, or the manager is stopped.
func StartConsumer[T any](mgr *Manager, name string, ch <-chan T, fn func(T) bool) error {
	mgr.logger.Debug("start consumer task", "name", name)

	return mgr.launch(name, func() {
		for {
			select {
			case <-mgr.getContext().Done():
				return
			case v, ok := <-ch:
				if !ok {
					mgr.logger.Debug("consumer channel closed", "name", name)
					return
				}
				if !mgr.callWithRecover(name, func() bool { return fn(v) }) {
					return
				}
			}
		}
	})
}

func (mgr *Manager) launch(name string, body func()) error {
	select {
	case <-mgr.getContext().Done():
		return ErrStopped
	default:
	}

	mgr.taskMu.RLock()
	defer mgr.taskMu.RUnlock()

	mgr.wg.Add(1)
	mgr.count.Add(1)

	started := make(chan struct{})

	go func() {
		defer mgr.wg.Done()
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.Count())
		}()

		close(started)
		body()
	}()

	<-started

	return nil
}

func (mgr *Manager) callWithRecover(name string, fn Func) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			keep = false
		}
	}()

	return fn()
}

// Stop signals all running tasks to terminate. It does not wait for them.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait blocks until all tasks have terminated, then re-arms the manager so
// new tasks can be started.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// Count returns the number of currently running tasks.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}
