// Package bus drives one TriOS serial bus: it owns the transport session,
// serializes outgoing commands, correlates replies with their requests and
// fans received data frames out to measurement subscribers.
//
// The bus is half-duplex with a single command in flight; instruments share
// the line and answer only when spoken to (MicroFlu continuous mode being
// the exception, handled by subscriptions). Replies are matched to requests
// by the originating instrument's bus identity and the expected reply
// class, because instruments answer from a different module byte than the
// one they were commanded at.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/oceansignal/go-trios/internal/pool"
	"github.com/oceansignal/go-trios/internal/task"
	"github.com/oceansignal/go-trios/logger"
	"github.com/oceansignal/go-trios/transport"
	"github.com/oceansignal/go-trios/trios"
)

// ReplyClass describes what kind of reply a command expects.
type ReplyClass int

const (
	// ReplyNone expects no reply; the request resolves once the command is
	// on the wire.
	ReplyNone ReplyClass = iota

	// ReplyData expects an observation data frame.
	ReplyData

	// ReplyModuleInfo expects a module information frame.
	ReplyModuleInfo
)

// Request describes one command to send on the bus.
//
// Build requests with NewRequest; a zero-value Request has Retries 0, not
// the configured default.
type Request struct {
	Addr    trios.Address
	Command trios.Command
	Params  []byte

	// Expect selects the reply class the request waits for.
	Expect ReplyClass

	// Timeout overrides the configured reply timeout when positive.
	Timeout time.Duration

	// Retries is the number of resends after a reply timeout. A negative
	// value selects the configured default.
	Retries int

	// Sent, when non-nil, receives the outcome of the first write of the
	// command: nil once the bytes are on the wire, or the write error.
	// Measurement sessions use it to start their integration clock.
	Sent chan<- error
}

// NewRequest builds a request with the bus defaults for timeout and
// retries.
func NewRequest(addr trios.Address, cmd trios.Command, params ...byte) Request {
	return Request{
		Addr:    addr,
		Command: cmd,
		Params:  params,
		Retries: -1,
	}
}

type result struct {
	frame *trios.Frame
	err   error
}

type request struct {
	Request

	ctx      context.Context
	resultCh chan result
	resolved bool // sender loop only
}

// resolve delivers the request outcome exactly once. Only the sender loop
// calls it.
func (r *request) resolve(f *trios.Frame, err error) {
	if r.resolved {
		return
	}
	r.resolved = true
	r.resultCh <- result{frame: f, err: err}
}

func (r *request) notifySent(err error) {
	if r.Sent == nil {
		return
	}

	select {
	case r.Sent <- err:
	default:
	}
	r.Sent = nil
}

type pendingReply struct {
	expect ReplyClass
	ch     chan *trios.Frame
}

func (p *pendingReply) matches(f *trios.Frame) bool {
	if f.IsErrorReport() {
		return true
	}

	switch p.expect {
	case ReplyModuleInfo:
		return f.IsModuleInfo()
	case ReplyData:
		return f.IsData()
	default:
		return false
	}
}

// Bus is one TriOS serial bus session.
type Bus struct {
	cfg     *Config
	session *transport.Session
	logger  logger.Logger
	metrics *Metrics

	taskMgr     *task.Manager
	sendCh      chan *request
	pending     *xsync.MapOf[trios.BusID, *pendingReply]
	subscribers *xsync.MapOf[trios.BusID, chan *trios.Frame]
	infoSink    atomic.Pointer[chan *trios.Frame]

	// rxBuf holds the undecoded tail of the byte stream. Receive loop only.
	rxBuf []byte

	// consecTimeouts counts commands that exhausted all retries since the
	// last successful reply. Sender loop only.
	consecTimeouts int

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  atomic.Value // error

	started atomic.Bool
}

// NewBus creates a bus on top of an open transport session. The bus takes
// ownership of the session.
func NewBus(session *transport.Session, opts ...Option) (*Bus, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	b := &Bus{
		cfg:         cfg,
		session:     session,
		logger:      cfg.GetLogger(),
		metrics:     &Metrics{},
		sendCh:      make(chan *request, cfg.senderQueueSize),
		pending:     xsync.NewMapOf[trios.BusID, *pendingReply](),
		subscribers: xsync.NewMapOf[trios.BusID, chan *trios.Frame](),
		closed:      make(chan struct{}),
	}
	b.taskMgr = task.NewManager(context.Background(), b.logger)

	return b, nil
}

// Start launches the receive and send loops. It must be called once before
// any command is sent.
func (b *Bus) Start() error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bus: already started")
	}

	if err := b.taskMgr.Start("receiver", b.receiveTask); err != nil {
		return err
	}

	return task.StartConsumer(b.taskMgr, "sender", b.sendCh, b.serveRequest)
}

// Metrics returns the bus counters.
func (b *Bus) Metrics() *Metrics {
	return b.metrics
}

// Closed reports whether the bus has shut down.
func (b *Bus) Closed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// Err returns the shutdown cause, or nil while the bus is running.
func (b *Bus) Err() error {
	if err, ok := b.closeErr.Load().(error); ok {
		return err
	}

	return nil
}

func (b *Bus) err() error {
	if err := b.Err(); err != nil {
		return err
	}

	return ErrBusClosed
}

// fail shuts the bus down with the given cause. Safe to call from the bus
// tasks themselves.
func (b *Bus) fail(cause error) {
	b.closeOnce.Do(func() {
		b.closeErr.Store(cause)
		close(b.closed)
		b.taskMgr.Stop()
		_ = b.session.Close()

		// Unblock callers whose requests were queued but never served.
		for {
			select {
			case r := <-b.sendCh:
				r.resultCh <- result{err: b.err()}
			default:
				return
			}
		}
	})
}

// Close shuts the bus down and waits for its loops to terminate.
func (b *Bus) Close() error {
	b.fail(ErrBusClosed)
	b.taskMgr.Wait()

	return nil
}

// SendAndAwait enqueues req and blocks until it resolves: the matched reply
// frame for ReplyData and ReplyModuleInfo requests, nil for ReplyNone
// requests once the command is written.
//
// Cancelling ctx resolves the call immediately; the bus keeps the line
// reserved until the attempt's reply deadline so a late reply is drained
// rather than misattributed to the next command.
func (b *Bus) SendAndAwait(ctx context.Context, req Request) (*trios.Frame, error) {
	r := &request{
		Request:  req,
		ctx:      ctx,
		resultCh: make(chan result, 1),
	}

	select {
	case b.sendCh <- r:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.closed:
		return nil, b.err()
	}

	select {
	case res := <-r.resultCh:
		return res.frame, res.err
	case <-b.closed:
		return nil, b.err()
	}
}

// Subscribe registers a sink for data frames arriving from the given bus
// identity. The returned cancel function removes the subscription.
//
// Frames are dropped, with a warning, when the subscriber does not keep up.
func (b *Bus) Subscribe(id trios.BusID) (<-chan *trios.Frame, func()) {
	ch := make(chan *trios.Frame, b.cfg.subscriberQueueSize)
	b.subscribers.Store(id, ch)

	return ch, func() { b.subscribers.Delete(id) }
}

// --- Receive loop ---

func (b *Bus) receiveTask() bool {
	chunk, err := b.session.ReadAvailable(b.cfg.PollInterval())
	if err != nil {
		if !b.Closed() {
			b.logger.Error("transport failed, shutting bus down", "error", err)
			b.fail(err)
		}
		return false
	}
	if len(chunk) == 0 {
		return true
	}

	b.rxBuf = append(b.rxBuf, chunk...)

	decode := trios.DecodeStream
	if !b.cfg.ValidateChecksum() {
		decode = trios.DecodeStreamUnchecked
	}

	for {
		f, rest, err := decode(b.rxBuf)
		b.rxBuf = rest

		if err != nil {
			b.metrics.incFrameErrCount()
			b.logger.Warn("discarded corrupt frame", "error", err)
			continue
		}
		if f == nil {
			return true
		}

		b.metrics.incFrameRecvCount()
		b.dispatch(f)
	}
}

func (b *Bus) dispatch(f *trios.Frame) {
	key := f.BusID()

	if f.IsErrorReport() {
		b.logger.Warn("instrument error report", "addr", f.Address())
	}

	if f.IsModuleInfo() {
		if sink := b.infoSink.Load(); sink != nil {
			select {
			case *sink <- f:
			default:
			}
		}
	}

	matched := false
	if p, ok := b.pending.Load(key); ok && p.matches(f) {
		matched = true
		select {
		case p.ch <- f:
		default:
			b.logger.Warn("reply channel full, frame dropped", "addr", f.Address())
		}
	}

	if f.IsData() {
		ch, ok := b.subscribers.Load(key)
		if !ok {
			if !matched {
				b.logger.Debug("unsolicited frame discarded",
					"addr", f.Address(), "type", f.Type())
			}
			return
		}

		select {
		case ch <- f:
		default:
			b.logger.Warn("subscriber lagging, frame dropped", "addr", f.Address())
		}
	}
}

// --- Send loop ---

func (b *Bus) serveRequest(r *request) bool {
	wire, err := trios.EncodeCommand(r.Addr, r.Command, r.Params...)
	if err != nil {
		r.notifySent(err)
		r.resolve(nil, err)
		return true
	}

	retries := r.Retries
	if retries < 0 {
		retries = b.cfg.RetryLimit()
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = b.cfg.ReplyTimeout()
	}

	var p *pendingReply
	if r.Expect != ReplyNone {
		p = &pendingReply{expect: r.Expect, ch: make(chan *trios.Frame, 8)}
		key := r.Addr.Bus()
		b.pending.Store(key, p)
		defer b.pending.Delete(key)

		b.metrics.incInflightGauge()
		defer b.metrics.decInflightGauge()
	}

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			b.metrics.incCommandRetryCount()
			b.logger.Debug("resending command", "addr", r.Addr, "cmd", byte(r.Command), "attempt", attempt+1)
		}

		if err := b.session.Write(wire); err != nil {
			r.notifySent(err)
			r.resolve(nil, err)
			b.fail(err)
			return false
		}

		b.metrics.incCommandSendCount()
		r.notifySent(nil)

		if r.Expect == ReplyNone {
			r.resolve(nil, nil)
			return true
		}

		frame, retry, err := b.awaitReply(r, p, timeout)
		if retry {
			continue
		}
		if err != nil {
			r.resolve(nil, err)
			if b.Closed() {
				return false
			}
			b.consecTimeouts = 0

			return true
		}

		b.consecTimeouts = 0
		r.resolve(frame, nil)

		return true
	}

	// All attempts timed out.
	b.metrics.incReplyTimeoutCount()
	r.resolve(nil, fmt.Errorf("%w: %s cmd 0x%02X after %d attempts",
		ErrReplyTimeout, r.Addr, byte(r.Command), retries+1))

	b.consecTimeouts++
	if ceiling := b.cfg.TimeoutCeiling(); ceiling > 0 && b.consecTimeouts >= ceiling {
		b.logger.Error("bus unresponsive, shutting down",
			"consecutive_timeouts", b.consecTimeouts)
		b.fail(ErrBusUnresponsive)

		return false
	}

	return true
}

// awaitReply waits for a frame matched to r within timeout. retry is true
// when the attempt timed out and the command should be resent.
//
// When r's context is cancelled the caller is resolved immediately, but the
// wait continues until the deadline so a reply still in flight is consumed
// here instead of leaking into the next request.
func (b *Bus) awaitReply(r *request, p *pendingReply, timeout time.Duration) (frame *trios.Frame, retry bool, err error) {
	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	var cancelErr error
	ctxDone := r.ctx.Done()

	for {
		select {
		case f := <-p.ch:
			if f.IsErrorReport() {
				b.metrics.incDeviceFaultCount()
				return nil, false, fmt.Errorf("%w: %s", trios.ErrDeviceFault, f.Address())
			}
			if cancelErr != nil {
				// Late reply after cancellation; drained and discarded.
				return nil, false, cancelErr
			}

			return f, false, nil

		case <-ctxDone:
			cancelErr = r.ctx.Err()
			r.resolve(nil, cancelErr)
			ctxDone = nil

		case <-timer.C:
			if cancelErr != nil {
				return nil, false, cancelErr
			}

			return nil, true, nil

		case <-b.closed:
			return nil, false, b.err()
		}
	}
}
