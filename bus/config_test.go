package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceansignal/go-trios/logger"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultReplyTimeout, cfg.ReplyTimeout())
	assert.Equal(t, DefaultRetryLimit, cfg.RetryLimit())
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval())
	assert.Equal(t, DefaultDiscoveryWindow, cfg.DiscoveryWindow())
	assert.Equal(t, DefaultTimeoutCeiling, cfg.TimeoutCeiling())
	assert.True(t, cfg.ValidateChecksum())
	assert.NotNil(t, cfg.GetLogger())
}

func TestNewConfig_Options(t *testing.T) {
	l := logger.NewSlog(logger.ErrorLevel, false)

	cfg, err := NewConfig(
		WithReplyTimeout(time.Second),
		WithRetryLimit(4),
		WithPollInterval(10*time.Millisecond),
		WithDiscoveryWindow(500*time.Millisecond),
		WithTimeoutCeiling(0),
		WithChecksumValidation(false),
		WithSenderQueueSize(4),
		WithLogger(l),
	)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.ReplyTimeout())
	assert.Equal(t, 4, cfg.RetryLimit())
	assert.Equal(t, 10*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.DiscoveryWindow())
	assert.Equal(t, 0, cfg.TimeoutCeiling())
	assert.False(t, cfg.ValidateChecksum())
	assert.Equal(t, 4, cfg.senderQueueSize)
	assert.Same(t, l, cfg.GetLogger())
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"reply timeout too small", WithReplyTimeout(time.Millisecond)},
		{"reply timeout too large", WithReplyTimeout(10 * time.Minute)},
		{"negative retry limit", WithRetryLimit(-1)},
		{"retry limit too large", WithRetryLimit(MaxRetryLimit + 1)},
		{"poll interval too small", WithPollInterval(0)},
		{"poll interval too large", WithPollInterval(time.Minute)},
		{"discovery window too small", WithDiscoveryWindow(time.Millisecond)},
		{"negative timeout ceiling", WithTimeoutCeiling(-1)},
		{"zero sender queue", WithSenderQueueSize(0)},
		{"nil logger", WithLogger(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.opt)
			assert.Error(t, err)
		})
	}
}
