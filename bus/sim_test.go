package bus

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oceansignal/go-trios/logger"
	"github.com/oceansignal/go-trios/transport"
	"github.com/oceansignal/go-trios/trios"
)

// simDevice plays the instrument end of an in-memory bus: it splits the
// host byte stream into 8-byte command frames and writes telemetry back.
type simDevice struct {
	t        *testing.T
	conn     net.Conn
	commands chan []byte
}

func newSimDevice(t *testing.T, conn net.Conn) *simDevice {
	t.Helper()

	d := &simDevice{
		t:        t,
		conn:     conn,
		commands: make(chan []byte, 32),
	}

	go func() {
		defer close(d.commands)

		var buf []byte
		tmp := make([]byte, 64)

		for {
			n, err := conn.Read(tmp)
			if err != nil {
				return
			}
			buf = append(buf, tmp[:n]...)

			for len(buf) >= 8 {
				cmd := make([]byte, 8)
				copy(cmd, buf[:8])
				buf = buf[8:]
				d.commands <- cmd
			}
		}
	}()

	return d
}

// expectCommand waits for the next command frame from the host.
func (d *simDevice) expectCommand(timeout time.Duration) []byte {
	d.t.Helper()

	select {
	case cmd, ok := <-d.commands:
		if !ok {
			d.t.Fatal("simulated device link closed")
		}
		return cmd
	case <-time.After(timeout):
		d.t.Fatal("no command received from host")
		return nil
	}
}

// expectSilence asserts no command arrives within the window.
func (d *simDevice) expectSilence(window time.Duration) {
	d.t.Helper()

	select {
	case cmd, ok := <-d.commands:
		if ok {
			d.t.Fatalf("unexpected command from host: % X", cmd)
		}
	case <-time.After(window):
	}
}

func (d *simDevice) send(f *trios.Frame) {
	d.t.Helper()

	if _, err := d.conn.Write(f.Pack()); err != nil {
		d.t.Errorf("simulated device write failed: %v", err)
	}
}

func (d *simDevice) sendRaw(p []byte) {
	d.t.Helper()

	if _, err := d.conn.Write(p); err != nil {
		d.t.Errorf("simulated device write failed: %v", err)
	}
}

// newTestBus builds a started bus backed by an in-memory pipe and the
// simulated device on its far end.
func newTestBus(t *testing.T, opts ...Option) (*Bus, *simDevice) {
	t.Helper()

	l := logger.NewSlog(logger.ErrorLevel, false)
	sess, devConn := transport.Pipe(l)

	opts = append([]Option{
		WithLogger(l),
		WithPollInterval(5 * time.Millisecond),
		WithReplyTimeout(200 * time.Millisecond),
	}, opts...)

	b, err := NewBus(sess, opts...)
	require.NoError(t, err)
	require.NoError(t, b.Start())

	t.Cleanup(func() {
		_ = b.Close()
		_ = devConn.Close()
	})

	return b, newSimDevice(t, devConn)
}

func mustFrame(t *testing.T, addr trios.Address, frameType byte, data []byte) *trios.Frame {
	t.Helper()

	f, err := trios.NewFrame(addr, frameType, data)
	require.NoError(t, err)

	return f
}

// moduleInfoFrame builds a module information reply reporting the given
// module type code.
func moduleInfoFrame(t *testing.T, addr trios.Address, typeCode byte) *trios.Frame {
	t.Helper()

	data := []byte{0x66, typeCode << 3, 0x05, 0x02, 0x03, 0x00, 0x00, 0x00}

	return mustFrame(t, addr, trios.FrameTypeModuleInfo, data)
}
