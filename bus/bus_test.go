package bus

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oceansignal/go-trios/logger"
	"github.com/oceansignal/go-trios/trios"
)

func TestBus_Identify(t *testing.T) {
	b, dev := newTestBus(t)

	addr := trios.Address{0x02, 0x00, 0x80}

	go func() {
		cmd := dev.expectCommand(time.Second)
		// Query to the main module of the addressed instrument.
		assert.Equal(t, []byte{0x23, 0x02, 0x00, 0x80, 0xB0, 0x00, 0x00, 0x01}, cmd)

		// The instrument answers from module byte 0x00.
		dev.send(moduleInfoFrame(t, trios.Address{0x02, 0x00, 0x00}, 16))
	}()

	p, err := b.Identify(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, trios.FamilySAM, p.Family)
	assert.Equal(t, trios.BusID{0x02, 0x00}, p.Addr.Bus())

	assert.Equal(t, uint64(1), b.Metrics().CommandSendCount.Load())
	assert.Equal(t, uint64(1), b.Metrics().FrameRecvCount.Load())
}

func TestBus_IdentifyTimeout(t *testing.T) {
	b, dev := newTestBus(t, WithRetryLimit(0))

	_, err := b.Identify(context.Background(), trios.Address{0x02, 0x00, 0x80})
	assert.ErrorIs(t, err, ErrNotDiscovered)

	dev.expectCommand(time.Second)
}

func TestBus_ReplyTimeoutExhaustsRetries(t *testing.T) {
	// A measurement trigger to a silent instrument with two retries must
	// hit the wire exactly three times, then fail with a reply timeout.
	b, dev := newTestBus(t)

	addr := trios.Address{0x04, 0x00, 0x80}
	req := NewRequest(addr, trios.CmdMeasure, 0x00, trios.MeasureStart)
	req.Expect = ReplyData
	req.Retries = 2
	req.Timeout = 120 * time.Millisecond

	start := time.Now()
	_, err := b.SendAndAwait(context.Background(), req)
	assert.ErrorIs(t, err, ErrReplyTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 3*120*time.Millisecond)

	for i := 0; i < 3; i++ {
		cmd := dev.expectCommand(time.Second)
		assert.Equal(t, byte(0xA8), cmd[4], "send %d", i+1)
	}
	// No fourth attempt.
	dev.expectSilence(200 * time.Millisecond)

	m := b.Metrics()
	assert.Equal(t, uint64(3), m.CommandSendCount.Load())
	assert.Equal(t, uint64(2), m.CommandRetryCount.Load())
	assert.Equal(t, uint64(1), m.ReplyTimeoutCount.Load())
}

func TestBus_ReplyAfterRetry(t *testing.T) {
	b, dev := newTestBus(t)

	addr := trios.Address{0x02, 0x00, 0x80}
	replyAddr := trios.Address{0x02, 0x00, 0x00}

	go func() {
		// Ignore the first attempt, answer the second.
		dev.expectCommand(time.Second)
		dev.expectCommand(time.Second)
		dev.send(mustFrame(t, replyAddr, trios.FrameTypeLast, []byte{0x8A, 0x02}))
	}()

	req := NewRequest(addr, trios.CmdMeasure, 0x00, trios.MeasureStart)
	req.Expect = ReplyData
	req.Retries = 1
	req.Timeout = 120 * time.Millisecond

	f, err := b.SendAndAwait(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x8A, 0x02}, f.Data)
	assert.Equal(t, uint64(1), b.Metrics().CommandRetryCount.Load())
}

func TestBus_DeviceFault(t *testing.T) {
	b, dev := newTestBus(t)

	addr := trios.Address{0x02, 0x00, 0x80}

	go func() {
		dev.expectCommand(time.Second)
		dev.send(mustFrame(t, trios.Address{0x02, 0x00, 0x00}, trios.FrameTypeError, []byte{0x00, 0x00}))
	}()

	req := NewRequest(addr, trios.CmdMeasure, 0x00, trios.MeasureStart)
	req.Expect = ReplyData

	_, err := b.SendAndAwait(context.Background(), req)
	assert.ErrorIs(t, err, trios.ErrDeviceFault)
	assert.Equal(t, uint64(1), b.Metrics().DeviceFaultCount.Load())
}

func TestBus_CorruptReplyThenValid(t *testing.T) {
	b, dev := newTestBus(t)

	addr := trios.Address{0x02, 0x00, 0x80}
	replyAddr := trios.Address{0x02, 0x00, 0x00}

	go func() {
		dev.expectCommand(time.Second)

		corrupt := mustFrame(t, replyAddr, trios.FrameTypeLast, []byte{0x8A, 0x02}).Pack()
		corrupt[len(corrupt)-1] ^= 0x01
		dev.sendRaw(corrupt)

		dev.send(mustFrame(t, replyAddr, trios.FrameTypeLast, []byte{0x8A, 0x02}))
	}()

	req := NewRequest(addr, trios.CmdMeasure, 0x00, trios.MeasureStart)
	req.Expect = ReplyData

	f, err := b.SendAndAwait(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x8A, 0x02}, f.Data)

	m := b.Metrics()
	assert.Equal(t, uint64(1), m.FrameErrCount.Load())
	assert.Equal(t, uint64(1), m.FrameRecvCount.Load())
}

func TestBus_SubscribeFanout(t *testing.T) {
	// A matched data frame both resolves the pending request and reaches
	// the subscriber, so measurement sessions can assemble spectra from
	// their subscription alone.
	b, dev := newTestBus(t)

	addr := trios.Address{0x02, 0x00, 0x80}
	replyAddr := trios.Address{0x02, 0x00, 0x00}

	sub, cancel := b.Subscribe(addr.Bus())
	defer cancel()

	go func() {
		dev.expectCommand(time.Second)
		for frag := 7; frag >= 0; frag-- {
			data := make([]byte, 64)
			binary.LittleEndian.PutUint16(data, uint16(frag))
			dev.send(mustFrame(t, replyAddr, byte(frag), data))
		}
	}()

	req := NewRequest(addr, trios.CmdMeasure, 0x00, trios.MeasureStart)
	req.Expect = ReplyData

	f, err := b.SendAndAwait(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 7, f.FragmentIndex())

	seen := make(map[int]bool)
	for len(seen) < 8 {
		select {
		case frame := <-sub:
			seen[frame.FragmentIndex()] = true
		case <-time.After(time.Second):
			t.Fatalf("subscriber received %d of 8 fragments", len(seen))
		}
	}
}

func TestBus_CancelledRequestDrainsLateReply(t *testing.T) {
	b, dev := newTestBus(t)

	addr := trios.Address{0x02, 0x00, 0x80}
	replyAddr := trios.Address{0x02, 0x00, 0x00}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		dev.expectCommand(time.Second)
		cancel()
		// Reply lands after cancellation but inside the reply window.
		time.Sleep(30 * time.Millisecond)
		dev.send(mustFrame(t, replyAddr, trios.FrameTypeLast, []byte{0x01, 0x02}))
	}()

	req := NewRequest(addr, trios.CmdMeasure, 0x00, trios.MeasureStart)
	req.Expect = ReplyData

	_, err := b.SendAndAwait(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)

	// The stale frame must not leak into the next exchange.
	go func() {
		dev.expectCommand(time.Second)
		dev.send(moduleInfoFrame(t, replyAddr, 16))
	}()

	p, err := b.Identify(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, trios.FamilySAM, p.Family)
}

func TestBus_SentNotification(t *testing.T) {
	b, dev := newTestBus(t)

	sent := make(chan error, 1)

	req := NewRequest(trios.Address{0x02, 0x00, 0x80}, trios.CmdSetParam,
		trios.ParamIntegrationTime, 0x08)
	req.Expect = ReplyNone
	req.Sent = sent

	_, err := b.SendAndAwait(context.Background(), req)
	require.NoError(t, err)

	select {
	case werr := <-sent:
		assert.NoError(t, werr)
	case <-time.After(time.Second):
		t.Fatal("sent notification never delivered")
	}

	cmd := dev.expectCommand(time.Second)
	assert.Equal(t, byte(0x78), cmd[4])
	assert.Equal(t, byte(0x05), cmd[5])
	assert.Equal(t, byte(0x08), cmd[6])
}

func TestBus_TimeoutCeiling(t *testing.T) {
	b, dev := newTestBus(t, WithTimeoutCeiling(2), WithRetryLimit(0))
	_ = dev

	addr := trios.Address{0x02, 0x00, 0x80}

	for i := 0; i < 2; i++ {
		req := NewRequest(addr, trios.CmdQuery)
		req.Expect = ReplyModuleInfo
		req.Timeout = 120 * time.Millisecond

		_, err := b.SendAndAwait(context.Background(), req)
		assert.ErrorIs(t, err, ErrReplyTimeout, "request %d", i+1)
	}

	// The second consecutive timeout trips the ceiling.
	assert.Eventually(t, b.Closed, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, b.Err(), ErrBusUnresponsive)

	_, err := b.SendAndAwait(context.Background(), NewRequest(addr, trios.CmdQuery))
	assert.ErrorIs(t, err, ErrBusUnresponsive)
}

func TestBus_SendAfterClose(t *testing.T) {
	b, _ := newTestBus(t)

	require.NoError(t, b.Close())

	_, err := b.SendAndAwait(context.Background(), NewRequest(trios.Address{}, trios.CmdSleep))
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestBus_StartTwice(t *testing.T) {
	b, _ := newTestBus(t)
	assert.Error(t, b.Start())
}

func TestBus_UnsolicitedFrameLogged(t *testing.T) {
	// A data frame with no pending request and no subscriber is
	// discarded, but leaves a trace in the log.
	ml := logger.NewMockLogger()
	ml.On("Debug", mock.Anything, mock.Anything).Maybe()
	ml.On("Info", mock.Anything, mock.Anything).Maybe()
	ml.On("Warn", mock.Anything, mock.Anything).Maybe()
	ml.On("Error", mock.Anything, mock.Anything).Maybe()

	_, dev := newTestBus(t, WithLogger(ml))

	addr := trios.Address{0x07, 0x00, 0x00}
	dev.send(mustFrame(t, addr, trios.FrameTypeLast, []byte{0x01, 0x02}))

	time.Sleep(50 * time.Millisecond)
	ml.AssertCalled(t, "Debug", "unsolicited frame discarded", mock.Anything)
}
