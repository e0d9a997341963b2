// Package transport provides the byte-stream session underneath a TriOS
// bus: a serial port (or an in-memory pipe in tests) wrapped with a
// background read pump, timeout-bounded reads and idempotent shutdown.
//
// The session knows nothing about frames; chunking and reassembly are the
// codec's concern. Transport failures are fatal: once the link errors the
// session stays dead and every subsequent call reports the failure.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oceansignal/go-trios/internal/pool"
	"github.com/oceansignal/go-trios/logger"
)

var (
	// ErrClosed indicates the session was closed locally.
	ErrClosed = errors.New("transport: session closed")

	// ErrTransport indicates the underlying link failed. Unlike frame-level
	// corruption this is not recoverable; the session must be reopened.
	ErrTransport = errors.New("transport: link failure")
)

// readBufSize is the read pump's buffer. A full spectrum burst is under 600
// bytes on the wire, so one buffer comfortably holds several frames.
const readBufSize = 1024

// Session owns one byte-stream link. A background goroutine pumps reads
// from the link into a channel, so ReadAvailable can be bounded by a
// timeout without cancelable I/O support from the port driver.
type Session struct {
	rwc    io.ReadWriteCloser
	logger logger.Logger

	readCh chan []byte
	dead   chan struct{}
	err    atomic.Value // error, first fatal failure

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSession wraps rwc and starts its read pump. The session takes
// ownership of rwc; Close closes it.
func NewSession(rwc io.ReadWriteCloser, l logger.Logger) *Session {
	if l == nil {
		l = logger.GetLogger()
	}

	s := &Session{
		rwc:    rwc,
		logger: l,
		readCh: make(chan []byte, 16),
		dead:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.readPump()

	return s
}

func (s *Session) readPump() {
	defer s.wg.Done()

	buf := make([]byte, readBufSize)

	for {
		n, err := s.rwc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case s.readCh <- chunk:
			case <-s.dead:
				return
			}
		}

		if err != nil {
			s.fail(err)
			return
		}
	}
}

// fail records the first fatal error and marks the session dead.
func (s *Session) fail(cause error) {
	s.closeOnce.Do(func() {
		if errors.Is(cause, ErrClosed) {
			s.err.Store(cause)
		} else {
			s.logger.Error("transport link failed", "error", cause)
			s.err.Store(fmt.Errorf("%w: %v", ErrTransport, cause))
		}

		close(s.dead)
		_ = s.rwc.Close()
	})
}

// ReadAvailable returns the next chunk of received bytes, waiting at most
// timeout. It returns (nil, nil) when no bytes arrived in time, and the
// fatal session error once the link is dead and the pump's backlog has been
// drained.
func (s *Session) ReadAvailable(timeout time.Duration) ([]byte, error) {
	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case chunk := <-s.readCh:
		return chunk, nil
	default:
	}

	select {
	case chunk := <-s.readCh:
		return chunk, nil
	case <-s.dead:
		// Drain bytes received before the failure.
		select {
		case chunk := <-s.readCh:
			return chunk, nil
		default:
		}
		return nil, s.Err()
	case <-timer.C:
		return nil, nil
	}
}

// Write sends p to the link.
func (s *Session) Write(p []byte) error {
	select {
	case <-s.dead:
		return s.Err()
	default:
	}

	if _, err := s.rwc.Write(p); err != nil {
		s.fail(err)
		return s.Err()
	}

	return nil
}

// Err returns the fatal session error, or nil while the session is alive.
func (s *Session) Err() error {
	if err, ok := s.err.Load().(error); ok {
		return err
	}

	return nil
}

// Closed reports whether the session is dead, by local close or link
// failure.
func (s *Session) Closed() bool {
	select {
	case <-s.dead:
		return true
	default:
		return false
	}
}

// Close shuts the session down and closes the underlying link. It is
// idempotent and safe to call concurrently with reads and writes.
func (s *Session) Close() error {
	s.fail(ErrClosed)
	s.wg.Wait()

	return nil
}
