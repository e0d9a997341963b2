// Package measure orchestrates a single measurement on a TriOS bus: it
// triggers the instrument, tracks the integration phase, collects and
// reassembles the result frames and decodes them into a raw reading.
package measure

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/oceansignal/go-trios/bus"
	"github.com/oceansignal/go-trios/internal/pool"
	"github.com/oceansignal/go-trios/logger"
	"github.com/oceansignal/go-trios/trios"
)

// DefaultCollectTimeout bounds a whole measurement, trigger to last frame.
// The longest integration (8192 ms) plus the spectrum transfer at 9600 baud
// fits comfortably.
const DefaultCollectTimeout = 12 * time.Second

// maxSpectrumFragments is the number of frames carrying one full spectrum.
const maxSpectrumFragments = 8

// Session runs one measurement against one instrument. A session is single
// use: create a new one for every reading.
type Session struct {
	bus     *bus.Bus
	profile *trios.InstrumentProfile
	logger  logger.Logger

	// integrationIndex is the integration time to program before
	// triggering; negative leaves the instrument setting untouched.
	integrationIndex int
	collectTimeout   time.Duration

	sm  *stateMachine
	asm *Assembler

	frames map[int]*trios.Frame
	aux    *trios.Frame

	triggeredAt time.Time
	finishedAt  time.Time
}

// SessionOption configures a Session.
type SessionOption interface {
	apply(*Session) error
}

type sessionOptFunc func(*Session) error

func (f sessionOptFunc) apply(s *Session) error { return f(s) }

// WithIntegrationTime programs the integration time index before
// triggering. Index 0 selects automatic ranging; index n selects 2^(n+1)
// milliseconds.
func WithIntegrationTime(index int) SessionOption {
	return sessionOptFunc(func(s *Session) error {
		if !s.profile.Capabilities.ValidIntegrationIndex(index) {
			return fmt.Errorf("measure: integration index %d out of range [%d, %d] for %s",
				index, s.profile.Capabilities.IntegrationTimeMin,
				s.profile.Capabilities.IntegrationTimeMax, s.profile.Family)
		}
		s.integrationIndex = index
		return nil
	})
}

// WithCollectTimeout bounds the whole measurement.
func WithCollectTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(s *Session) error {
		if d <= 0 {
			return fmt.Errorf("measure: collect timeout %v must be positive", d)
		}
		s.collectTimeout = d
		return nil
	})
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(l logger.Logger) SessionOption {
	return sessionOptFunc(func(s *Session) error {
		if l == nil {
			return fmt.Errorf("measure: logger is nil")
		}
		s.logger = l
		return nil
	})
}

// NewSession creates a measurement session for the given instrument.
func NewSession(b *bus.Bus, profile *trios.InstrumentProfile, opts ...SessionOption) (*Session, error) {
	if profile.Capabilities.ChannelCount == 0 {
		return nil, fmt.Errorf("measure: %s instruments do not produce readings", profile.Family)
	}

	s := &Session{
		bus:              b,
		profile:          profile,
		logger:           logger.GetLogger(),
		integrationIndex: -1,
		collectTimeout:   DefaultCollectTimeout,
		sm:               newStateMachine(),
		asm:              NewAssembler(profile.Capabilities.ChannelCount),
		frames:           make(map[int]*trios.Frame, maxSpectrumFragments+1),
	}

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// State returns the session's current phase.
func (s *Session) State() State {
	return s.sm.State()
}

// WaitState blocks until the session reaches target.
func (s *Session) WaitState(ctx context.Context, target State) error {
	return s.sm.Wait(ctx, target)
}

// TriggeredAt returns when the measure command went out on the wire, or
// the zero time if the session never got that far. Valid once Run has
// returned.
func (s *Session) TriggeredAt() time.Time {
	return s.triggeredAt
}

// FinishedAt returns when the session completed or failed. Valid once Run
// has returned.
func (s *Session) FinishedAt() time.Time {
	return s.finishedAt
}

// Run performs the measurement and blocks until a reading is complete, the
// trigger fails, the collection window expires or ctx is cancelled.
// Cancelling ctx abandons the measurement; the bus drains any reply still
// in flight.
func (s *Session) Run(ctx context.Context) (*trios.RawReading, error) {
	if err := s.sm.set(StateTriggered); err != nil {
		return nil, err
	}

	reading, err := s.run(ctx)
	s.finishedAt = time.Now()
	if err != nil {
		s.sm.forceError()
		return nil, err
	}

	return reading, nil
}

func (s *Session) run(ctx context.Context) (*trios.RawReading, error) {
	caps := s.profile.Capabilities

	sub, unsubscribe := s.bus.Subscribe(s.profile.Addr.Bus())
	defer unsubscribe()

	if s.integrationIndex >= 0 {
		// The integration time parameter lives on the spectrometer
		// submodule; only the measure trigger addresses the main module.
		target := s.profile.Addr
		switch s.profile.Family {
		case trios.FamilySAM, trios.FamilySAMIP, trios.FamilyG2:
			target = target.WithModule(trios.ModuleSAMIPSam)
		}

		req := bus.NewRequest(target, trios.CmdSetParam,
			trios.ParamIntegrationTime, byte(s.integrationIndex))
		req.Expect = bus.ReplyNone

		if _, err := s.bus.SendAndAwait(ctx, req); err != nil {
			return nil, err
		}
	}

	sent := make(chan error, 1)
	trigger := bus.NewRequest(s.profile.Addr, trios.CmdMeasure, 0x00, trios.MeasureStart)
	trigger.Expect = bus.ReplyData
	trigger.Sent = sent

	triggerResult := make(chan error, 1)
	go func() {
		_, err := s.bus.SendAndAwait(ctx, trigger)
		triggerResult <- err
	}()

	deadline := pool.GetTimer(s.collectTimeout)
	defer pool.PutTimer(deadline)

	// Armed once the command is on the wire, for instruments whose data
	// arrival is not the integration-end signal.
	var integration *time.Timer
	var integrationC <-chan time.Time
	defer func() {
		if integration != nil {
			pool.PutTimer(integration)
		}
	}()

	for {
		select {
		case err := <-sent:
			if err != nil {
				return nil, err
			}

			s.triggeredAt = time.Now()
			s.advanceTo(StateIntegrating)
			s.logger.Debug("instrument integrating",
				"addr", s.profile.Addr.String(), "family", s.profile.Family.String())

			if !caps.ReadyFrameAuthoritative {
				integration = pool.GetTimer(caps.IntegrationDuration(s.integrationIndex))
				integrationC = integration.C
			}

		case <-integrationC:
			integrationC = nil
			s.advanceTo(StateCollecting)

		case err := <-triggerResult:
			// A nil result means the first data frame resolved the trigger;
			// the frame itself arrives on the subscription.
			if err != nil {
				return nil, err
			}

		case f := <-sub:
			if err := s.addFrame(f); err != nil {
				return nil, err
			}
			s.advanceTo(StateCollecting)

			if s.complete() {
				s.advanceTo(StateComplete)
				return s.decode()
			}

		case <-deadline.C:
			return nil, fmt.Errorf("%w: %d of %d values missing",
				ErrCollectTimeout, s.asm.Missing(), caps.ChannelCount)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// advanceTo walks the state machine forward to target, skipping over
// intermediate phases; it never moves backwards.
func (s *Session) advanceTo(target State) {
	for s.sm.State() < target {
		if err := s.sm.set(s.sm.State() + 1); err != nil {
			return
		}
	}
}

// addFrame folds one data frame into the reading under assembly.
func (s *Session) addFrame(f *trios.Frame) error {
	if f.IsAux() {
		if !s.profile.Capabilities.HasInclinationPressure {
			return nil
		}
		s.aux = f

		return nil
	}

	if !f.IsSpectrumFragment() {
		s.logger.Debug("ignoring unrelated data frame",
			"addr", f.Address().String(), "type", f.Type())
		return nil
	}

	pixels := len(f.Data) / 2
	offset := f.FragmentIndex() * pixels

	vals := make([]uint16, pixels)
	for i := range vals {
		vals[i] = binary.LittleEndian.Uint16(f.Data[2*i:])
	}

	if err := s.asm.Add(offset, vals); err != nil {
		return err
	}

	if _, dup := s.frames[f.FragmentIndex()]; !dup {
		s.frames[f.FragmentIndex()] = f
	}

	return nil
}

func (s *Session) complete() bool {
	if !s.asm.Complete() {
		return false
	}
	if s.profile.Capabilities.HasInclinationPressure && s.aux == nil {
		return false
	}

	return true
}

func (s *Session) decode() (*trios.RawReading, error) {
	frames := make([]*trios.Frame, 0, len(s.frames)+1)
	for _, f := range s.frames {
		frames = append(frames, f)
	}
	if s.aux != nil {
		frames = append(frames, s.aux)
	}

	return trios.DecodeReading(frames, s.profile)
}
