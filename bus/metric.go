package bus

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a bus. They can back a prometheus
// CounterFunc or GaugeFunc.
type Metrics struct {
	// CommandSendCount indicates the number of command frames written,
	// including retries.
	CommandSendCount atomic.Uint64
	// CommandRetryCount indicates the number of command resends after a
	// reply timeout.
	CommandRetryCount atomic.Uint64
	// FrameRecvCount indicates the number of valid telemetry frames
	// received.
	FrameRecvCount atomic.Uint64
	// FrameErrCount indicates the number of discarded frames (bad checksum
	// or invalid length).
	FrameErrCount atomic.Uint64
	// ReplyTimeoutCount indicates the number of commands that exhausted all
	// retries without a reply.
	ReplyTimeoutCount atomic.Uint64
	// DeviceFaultCount indicates the number of error reports received from
	// instruments.
	DeviceFaultCount atomic.Uint64
	// InflightGauge indicates whether a command is currently awaiting its
	// reply.
	InflightGauge atomic.Int64
}

func (m *Metrics) incCommandSendCount() {
	m.CommandSendCount.Add(1)
}

func (m *Metrics) incCommandRetryCount() {
	m.CommandRetryCount.Add(1)
}

func (m *Metrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *Metrics) incFrameErrCount() {
	m.FrameErrCount.Add(1)
}

func (m *Metrics) incReplyTimeoutCount() {
	m.ReplyTimeoutCount.Add(1)
}

func (m *Metrics) incDeviceFaultCount() {
	m.DeviceFaultCount.Add(1)
}

func (m *Metrics) incInflightGauge() {
	m.InflightGauge.Add(1)
}

func (m *Metrics) decInflightGauge() {
	m.InflightGauge.Add(-1)
}
