package trios

import (
	"bytes"
	"fmt"
)

// Control-character escaping.
//
// TriOS serial links run with XON/XOFF software flow control, so the flow
// control bytes, the sync marker and the escape character itself are never
// sent raw inside a frame. They are replaced by two-byte sequences starting
// with '@':
//
//	0x11 (XON)  -> "@f"
//	0x13 (XOFF) -> "@g"
//	0x23 ('#')  -> "@e"
//	0x40 ('@')  -> "@d"
//
// Any other byte following '@' is not an escape and passes through
// unchanged.
const escapeMarker byte = 0x40

func escapeCode(b byte) (byte, bool) {
	switch b {
	case 0x11:
		return 'f', true
	case 0x13:
		return 'g', true
	case SyncMarker:
		return 'e', true
	case escapeMarker:
		return 'd', true
	default:
		return 0, false
	}
}

func unescapeCode(b byte) (byte, bool) {
	switch b {
	case 'f':
		return 0x11, true
	case 'g':
		return 0x13, true
	case 'e':
		return SyncMarker, true
	case 'd':
		return escapeMarker, true
	default:
		return 0, false
	}
}

// appendEscaped appends src to dst, replacing reserved control characters
// with their escape sequences.
func appendEscaped(dst, src []byte) []byte {
	for _, b := range src {
		if code, ok := escapeCode(b); ok {
			dst = append(dst, escapeMarker, code)
		} else {
			dst = append(dst, b)
		}
	}

	return dst
}

// EncodeCommand encodes a host command frame for the given destination
// address. At most two parameter bytes are accepted; missing parameters are
// zero. It returns ErrPayloadTooLarge when more parameters are supplied than
// the fixed-size command frame can carry.
//
// Command frames are written without escaping because G1 instruments do
// not unescape inbound bytes. Parameter values that collide with the
// XON/XOFF flow control characters therefore cannot be transmitted and
// are rejected with ErrInvalidCommand.
func EncodeCommand(addr Address, cmd Command, params ...byte) ([]byte, error) {
	if len(params) > 2 {
		return nil, fmt.Errorf("%w: got %d parameter bytes, max 2", ErrPayloadTooLarge, len(params))
	}

	var p1, p2 byte
	if len(params) > 0 {
		p1 = params[0]
	}
	if len(params) > 1 {
		p2 = params[1]
	}

	for _, b := range []byte{byte(cmd), p1, p2} {
		if b == 0x11 || b == 0x13 {
			return nil, fmt.Errorf("%w: byte 0x%02X collides with flow control", ErrInvalidCommand, b)
		}
	}

	return []byte{SyncMarker, addr[0], addr[1], addr[2], byte(cmd), p1, p2, CommandTerminator}, nil
}

// ParseCommand decodes a wire command frame produced by EncodeCommand.
// It is the codec's round-trip counterpart, used by tests and instrument
// simulators acting as the device end of the link.
func ParseCommand(wire []byte) (Address, Command, [2]byte, error) {
	var addr Address
	var params [2]byte

	if len(wire) != commandFrameSize {
		return addr, 0, params, fmt.Errorf("trios: command frame is %d bytes, want %d", len(wire), commandFrameSize)
	}
	if wire[0] != SyncMarker {
		return addr, 0, params, fmt.Errorf("trios: command frame missing sync marker")
	}
	if wire[7] != CommandTerminator {
		return addr, 0, params, fmt.Errorf("trios: command frame missing terminator")
	}

	copy(addr[:], wire[1:4])
	params[0] = wire[5]
	params[1] = wire[6]

	return addr, Command(wire[4]), params, nil
}

// DecodeStream scans buf for the next complete telemetry frame.
//
// It returns (frame, rest, nil) when a valid frame was extracted, with rest
// the unconsumed remainder of buf. When no complete frame is available yet
// it returns (nil, rest, nil) with the partial frame preserved in rest, so
// byte chunking across calls never loses data. Noise bytes preceding the
// first sync marker are dropped.
//
// A frame whose check byte or declared size is invalid is discarded and the
// scan resumes immediately after its sync marker; the error is returned
// alongside the advanced rest so the caller can log the anomaly and call
// DecodeStream again.
func DecodeStream(buf []byte) (*Frame, []byte, error) {
	return decodeStream(buf, true)
}

// DecodeStreamUnchecked behaves like DecodeStream but skips check-byte
// validation, for legacy firmware that emits a constant filler check byte.
func DecodeStreamUnchecked(buf []byte) (*Frame, []byte, error) {
	return decodeStream(buf, false)
}

func decodeStream(buf []byte, validateChecksum bool) (*Frame, []byte, error) {
	idx := bytes.IndexByte(buf, SyncMarker)
	if idx < 0 {
		return nil, nil, nil
	}

	buf = buf[idx:]

	raw, consumed, complete := unescapeFrame(buf[1:])
	if !complete {
		return nil, buf, nil
	}

	exp := raw[0] >> 5
	if exp > 6 {
		return nil, buf[1:], fmt.Errorf("%w: size exponent %d", ErrInvalidLength, exp)
	}

	f := &Frame{}
	copy(f.Header[:], raw[:frameHeaderSize])

	dataSize := f.DataSize()
	f.Data = make([]byte, dataSize)
	copy(f.Data, raw[frameHeaderSize:frameHeaderSize+dataSize])

	if validateChecksum {
		wireCheck := raw[frameHeaderSize+dataSize]
		if calc := f.Checksum(); calc != wireCheck {
			return nil, buf[1:], fmt.Errorf("%w: wire=0x%02X, computed=0x%02X", ErrChecksumMismatch, wireCheck, calc)
		}
	}

	return f, buf[1+consumed:], nil
}

// unescapeFrame incrementally unescapes the bytes following a sync marker
// until a full frame body (header + declared data + check byte) has been
// produced or the input runs out.
//
// It returns the unescaped bytes, the number of raw bytes consumed, and
// whether the frame body is complete. An invalid size exponent still counts
// as complete with only the header's first byte meaningful; the caller
// validates the exponent.
func unescapeFrame(raw []byte) ([]byte, int, bool) {
	// Upper bound until the size byte is known.
	need := frameHeaderSize + MaxDataSize + 1

	out := make([]byte, 0, frameHeaderSize+8)

	i := 0
	for i < len(raw) && len(out) < need {
		b := raw[i]

		if b == escapeMarker {
			if i+1 >= len(raw) {
				// Escape sequence split across reads.
				return out, i, false
			}

			if v, ok := unescapeCode(raw[i+1]); ok {
				out = append(out, v)
				i += 2
			} else {
				out = append(out, b)
				i++
			}
		} else {
			out = append(out, b)
			i++
		}

		if len(out) == 1 {
			exp := out[0] >> 5
			if exp > 6 {
				// Invalid declared size; report complete so the caller can
				// discard and resynchronize.
				return out, i, true
			}

			need = frameHeaderSize + (2 << exp) + 1
		}
	}

	return out, i, len(out) == need
}
