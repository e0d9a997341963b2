package measure

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is a measurement session's lifecycle phase. A session moves through
// the states strictly forward; any state may fall to StateErrored.
type State int32

const (
	// StateIdle is a session that has not been run yet.
	StateIdle State = iota

	// StateTriggered means the measurement command has been queued.
	StateTriggered

	// StateIntegrating means the command is on the wire and the instrument
	// is integrating light.
	StateIntegrating

	// StateCollecting means the session is gathering result frames.
	StateCollecting

	// StateComplete means a full reading was assembled and decoded.
	StateComplete

	// StateErrored means the session failed or was cancelled.
	StateErrored
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateTriggered:   "triggered",
	StateIntegrating: "integrating",
	StateCollecting:  "collecting",
	StateComplete:    "complete",
	StateErrored:     "errored",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("State(%d)", int32(s))
}

// terminal reports whether s is an end state.
func (s State) terminal() bool {
	return s == StateComplete || s == StateErrored
}

// stateMachine tracks a session's state with validated forward-only
// transitions and condition-variable waiting.
type stateMachine struct {
	state atomic.Int32
	mu    sync.Mutex
	cond  *sync.Cond
}

func newStateMachine() *stateMachine {
	m := &stateMachine{}
	m.cond = sync.NewCond(&m.mu)

	return m
}

// State returns the current state.
func (m *stateMachine) State() State {
	return State(m.state.Load())
}

// set advances the machine to next. Forward transitions may skip phases
// (a MicroFlu reply can end integration before the clock does), but moving
// backwards or leaving a terminal state is rejected.
func (m *stateMachine) set(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := State(m.state.Load())
	if cur.terminal() || next <= cur {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, cur, next)
	}

	m.state.Store(int32(next))
	m.cond.Broadcast()

	return nil
}

// forceError drops the machine into StateErrored from any non-terminal
// state.
func (m *stateMachine) forceError() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := State(m.state.Load()); !cur.terminal() {
		m.state.Store(int32(StateErrored))
		m.cond.Broadcast()
	}
}

// Wait blocks until the machine reaches target. It fails when ctx is
// cancelled or the machine settles in a different terminal state.
func (m *stateMachine) Wait(ctx context.Context, target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	for {
		cur := State(m.state.Load())
		if cur == target {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if cur.terminal() || cur > target {
			return fmt.Errorf("%w: reached %s while waiting for %s", ErrInvalidState, cur, target)
		}

		m.cond.Wait()
	}
}
