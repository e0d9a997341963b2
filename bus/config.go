package bus

import (
	"fmt"
	"time"

	"github.com/oceansignal/go-trios/logger"
)

// Default bus timing values, tuned for TriOS G1 instruments at 9600 baud.
const (
	// DefaultReplyTimeout bounds the wait for a command reply. A full
	// spectrum takes roughly half a second on the wire; instrument firmware
	// adds latency on top.
	DefaultReplyTimeout = 3 * time.Second

	// DefaultRetryLimit is the number of resends after a reply timeout.
	DefaultRetryLimit = 1

	// DefaultPollInterval is how long the receive loop waits for bytes
	// before re-checking for shutdown.
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultDiscoveryWindow is how long a bus scan collects module
	// information replies.
	DefaultDiscoveryWindow = 2 * time.Second

	// DefaultTimeoutCeiling is the number of consecutive fully-retried
	// timeouts after which the bus declares the link unresponsive and shuts
	// down.
	DefaultTimeoutCeiling = 15

	DefaultSenderQueueSize     = 10
	DefaultSubscriberQueueSize = 16
)

// Configuration range limits.
const (
	MinReplyTimeout = 100 * time.Millisecond
	MaxReplyTimeout = 60 * time.Second

	MaxRetryLimit = 10

	MinPollInterval = time.Millisecond
	MaxPollInterval = time.Second

	MinDiscoveryWindow = 100 * time.Millisecond
	MaxDiscoveryWindow = 30 * time.Second
)

// Config holds all configuration for a TriOS bus.
type Config struct {
	replyTimeout    time.Duration
	retryLimit      int
	pollInterval    time.Duration
	discoveryWindow time.Duration

	// timeoutCeiling is the consecutive-timeout limit; zero disables the
	// check.
	timeoutCeiling int

	// validateChecksum controls telemetry check-byte verification. Some
	// legacy firmware fills the check byte with a constant.
	validateChecksum bool

	senderQueueSize     int
	subscriberQueueSize int

	logger logger.Logger
}

// NewConfig creates a bus configuration with defaults, then applies opts in
// order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		replyTimeout:        DefaultReplyTimeout,
		retryLimit:          DefaultRetryLimit,
		pollInterval:        DefaultPollInterval,
		discoveryWindow:     DefaultDiscoveryWindow,
		timeoutCeiling:      DefaultTimeoutCeiling,
		validateChecksum:    true,
		senderQueueSize:     DefaultSenderQueueSize,
		subscriberQueueSize: DefaultSubscriberQueueSize,
		logger:              logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// ReplyTimeout returns the per-attempt reply timeout.
func (cfg *Config) ReplyTimeout() time.Duration { return cfg.replyTimeout }

// RetryLimit returns the number of resends after a reply timeout.
func (cfg *Config) RetryLimit() int { return cfg.retryLimit }

// PollInterval returns the receive loop poll interval.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// DiscoveryWindow returns the bus scan collection window.
func (cfg *Config) DiscoveryWindow() time.Duration { return cfg.discoveryWindow }

// TimeoutCeiling returns the consecutive-timeout shutdown limit; zero means
// disabled.
func (cfg *Config) TimeoutCeiling() int { return cfg.timeoutCeiling }

// ValidateChecksum returns whether telemetry check bytes are verified.
func (cfg *Config) ValidateChecksum() bool { return cfg.validateChecksum }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// --- Option ---

// Option is a functional option for configuring a bus.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithReplyTimeout sets the per-attempt reply timeout.
func WithReplyTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinReplyTimeout || d > MaxReplyTimeout {
			return fmt.Errorf("bus: reply timeout %v out of range [%v, %v]", d, MinReplyTimeout, MaxReplyTimeout)
		}
		cfg.replyTimeout = d
		return nil
	})
}

// WithRetryLimit sets the number of resends after a reply timeout.
func WithRetryLimit(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 || n > MaxRetryLimit {
			return fmt.Errorf("bus: retry limit %d out of range [0, %d]", n, MaxRetryLimit)
		}
		cfg.retryLimit = n
		return nil
	})
}

// WithPollInterval sets the receive loop poll interval.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("bus: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d
		return nil
	})
}

// WithDiscoveryWindow sets how long a bus scan collects module information
// replies.
func WithDiscoveryWindow(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinDiscoveryWindow || d > MaxDiscoveryWindow {
			return fmt.Errorf("bus: discovery window %v out of range [%v, %v]", d, MinDiscoveryWindow, MaxDiscoveryWindow)
		}
		cfg.discoveryWindow = d
		return nil
	})
}

// WithTimeoutCeiling sets the consecutive-timeout shutdown limit. Zero
// disables the check.
func WithTimeoutCeiling(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 {
			return fmt.Errorf("bus: timeout ceiling %d must not be negative", n)
		}
		cfg.timeoutCeiling = n
		return nil
	})
}

// WithChecksumValidation controls telemetry check-byte verification.
// Disable it for legacy firmware that emits a constant filler byte.
func WithChecksumValidation(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.validateChecksum = enabled
		return nil
	})
}

// WithSenderQueueSize sets the command queue depth.
func WithSenderQueueSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("bus: sender queue size %d must be at least 1", n)
		}
		cfg.senderQueueSize = n
		return nil
	})
}

// WithLogger sets the bus logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("bus: logger is nil")
		}
		cfg.logger = l
		return nil
	})
}
