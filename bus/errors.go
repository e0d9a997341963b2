package bus

import "errors"

var (
	// ErrBusClosed indicates an operation on a closed bus.
	ErrBusClosed = errors.New("bus: closed")

	// ErrReplyTimeout indicates a command whose reply did not arrive within
	// the reply timeout, after all configured retries.
	ErrReplyTimeout = errors.New("bus: reply timeout")

	// ErrBusUnresponsive indicates the bus was shut down because too many
	// consecutive commands timed out. The serial link is likely dead even
	// though the port is still open.
	ErrBusUnresponsive = errors.New("bus: too many consecutive reply timeouts")

	// ErrNotDiscovered indicates an instrument query that produced no module
	// information reply.
	ErrNotDiscovered = errors.New("bus: no module information received")
)
