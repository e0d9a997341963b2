package transport

import (
	"fmt"

	"github.com/jacobsa/go-serial/serial"

	"github.com/oceansignal/go-trios/logger"
)

// DefaultBaudRate is the factory baud rate of TriOS G1 instruments.
const DefaultBaudRate = 9600

// SerialConfig holds the serial port settings for a TriOS bus. The framing
// is fixed at 8N1.
type SerialConfig struct {
	// Port is the device path, e.g. "/dev/ttyUSB0" or "COM3".
	Port string

	// BaudRate is the line speed; zero selects DefaultBaudRate.
	BaudRate int
}

// OpenSerial opens the configured serial port and wraps it in a Session.
func OpenSerial(cfg SerialConfig, l logger.Logger) (*Session, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("transport: no serial port configured")
	}

	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}

	port, err := serial.Open(serial.OpenOptions{
		PortName:   cfg.Port,
		BaudRate:   uint(baud),
		DataBits:   8,
		StopBits:   1,
		ParityMode: serial.PARITY_NONE,

		// Return reads as soon as a single byte is available; chunking is
		// reassembled by the frame codec.
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Port, err)
	}

	if l == nil {
		l = logger.GetLogger()
	}
	l.Info("serial port opened", "port", cfg.Port, "baud_rate", baud)

	return NewSession(port, l), nil
}
