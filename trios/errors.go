package trios

import "errors"

// Frame codec errors.
var (
	// ErrChecksumMismatch indicates a telemetry frame whose check byte does
	// not match the received content. The frame is discarded and the stream
	// scanner resynchronizes at the next sync marker.
	ErrChecksumMismatch = errors.New("trios: frame checksum mismatch")

	// ErrInvalidLength indicates a frame declaring an invalid data block size.
	ErrInvalidLength = errors.New("trios: invalid frame data size")

	// ErrPayloadTooLarge indicates a command whose parameter block exceeds
	// the protocol's fixed two-byte parameter field.
	ErrPayloadTooLarge = errors.New("trios: command parameters exceed protocol limit")

	// ErrInvalidCommand indicates a command the protocol cannot carry, e.g.
	// one whose bytes collide with the reserved control characters.
	ErrInvalidCommand = errors.New("trios: invalid command")
)

// Registry errors.
var (
	// ErrDuplicateAddress indicates an attempt to register a second profile
	// under an address already held by the registry.
	ErrDuplicateAddress = errors.New("trios: duplicate instrument address")
)

// Reading decoder errors.
var (
	// ErrDecode indicates a frame payload that does not match the channel or
	// pixel configuration of the instrument profile. The raw payload is
	// preserved in the wrapping error for diagnostics.
	ErrDecode = errors.New("trios: payload does not match instrument profile")

	// ErrUnknownModuleType indicates a module information packet reporting a
	// module type outside the supported sensor families.
	ErrUnknownModuleType = errors.New("trios: unknown module type")
)

// Device-reported errors.
var (
	// ErrDeviceFault indicates an instrument error report frame, typically a
	// rejected command or a hardware fault.
	ErrDeviceFault = errors.New("trios: instrument reported an error")
)
