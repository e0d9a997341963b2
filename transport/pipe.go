package transport

import (
	"net"

	"github.com/oceansignal/go-trios/logger"
)

// Pipe returns a Session connected to a raw in-memory peer. The peer plays
// the instrument end of the link; tests and simulators read commands from
// it and write telemetry back.
func Pipe(l logger.Logger) (*Session, net.Conn) {
	host, device := net.Pipe()

	return NewSession(host, l), device
}
