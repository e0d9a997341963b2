package trios

import (
	"fmt"
)

// SyncMarker is the start-of-frame byte ('#') preceding every TriOS packet.
const SyncMarker byte = 0x23

// CommandTerminator is the trailing byte of every host command frame.
const CommandTerminator byte = 0x01

// frameHeaderSize is the size of the telemetry frame header following the
// sync marker: id1, id2, module, frame type, time1, time2.
const frameHeaderSize = 6

// commandFrameSize is the fixed wire size of a host command frame:
// sync + 3 destination bytes + command + 2 parameters + terminator.
const commandFrameSize = 8

// MaxDataSize is the largest valid data block in a telemetry frame.
// The size exponent occupies 3 bits; exponent 7 (256 bytes) is declared
// invalid by the protocol.
const MaxDataSize = 128

// Telemetry frame type values.
const (
	// FrameTypeLast marks a single-frame payload or the final fragment of a
	// multi-frame spectrum.
	FrameTypeLast byte = 0

	// FrameTypeAux carries the auxiliary inclination/pressure record appended
	// by G2 spectrometers after the spectrum fragments.
	FrameTypeAux byte = 8

	// FrameTypeError is a device error report (wrong command, hardware fault).
	FrameTypeError byte = 254

	// FrameTypeModuleInfo is a module information packet sent in reply to a
	// query command.
	FrameTypeModuleInfo byte = 255
)

// maxFragmentIndex is the highest spectrum fragment index. A full spectrum
// arrives as fragments indexed maxFragmentIndex..1 followed by FrameTypeLast.
const maxFragmentIndex = 7

// Frame is one complete TriOS telemetry packet as received from an
// instrument, after unescaping and checksum validation.
//
// The wire layout is:
//
//	[Sync(1)][id1(1)][id2(1)][module(1)][frametype(1)][time1(1)][time2(1)][data(n)][check(1)]
//
// where n = 2 * 2^(id1 >> 5). All bytes after the sync marker are subject to
// the control-character escaping handled by the codec.
type Frame struct {
	Header [frameHeaderSize]byte // id1, id2, module, frametype, time1, time2
	Data   []byte
}

// --- Header accessors ---

// SizeExponent returns the 3-bit size exponent from the first identity byte.
func (f *Frame) SizeExponent() byte {
	return f.Header[0] >> 5
}

// DataSize returns the declared data block size: 2 * 2^SizeExponent.
func (f *Frame) DataSize() int {
	return 2 << f.SizeExponent()
}

// Address returns the source address of the frame: the low nibble of the
// first identity byte, the second identity byte, and the module byte.
func (f *Frame) Address() Address {
	return Address{f.Header[0] & 0x0F, f.Header[1], f.Header[2]}
}

// BusID returns the bus identity of the originating instrument, ignoring
// the module byte. Replies carry a different module byte than the command
// destination (a SAM addressed at module 0x80 answers from module 0x00), so
// correlation and registry lookups key on the bus identity.
func (f *Frame) BusID() BusID {
	return BusID{f.Header[0] & 0x0F, f.Header[1]}
}

// Zipped reports whether the data block is compressed (module byte bit 0).
func (f *Frame) Zipped() bool {
	return f.Header[2]&0x01 != 0
}

// ModuleAddr returns the 7-bit submodule I2C address from the module byte.
func (f *Frame) ModuleAddr() byte {
	return f.Header[2] >> 1
}

// Type returns the frame type byte.
func (f *Frame) Type() byte {
	return f.Header[3]
}

// FragmentIndex returns the spectrum fragment index for data frames.
// FrameTypeLast (0) is the final fragment.
func (f *Frame) FragmentIndex() int {
	return int(f.Header[3])
}

// IsData reports whether the frame carries observation data
// (a single reading, a spectrum fragment, or an auxiliary record).
func (f *Frame) IsData() bool {
	return f.Header[3] < FrameTypeError
}

// IsSpectrumFragment reports whether the frame is part of a spectrum:
// a data frame with fragment index in [0, 7].
func (f *Frame) IsSpectrumFragment() bool {
	return f.Header[3] <= maxFragmentIndex
}

// IsAux reports whether the frame is a G2 auxiliary record.
func (f *Frame) IsAux() bool {
	return f.Header[3] == FrameTypeAux
}

// IsModuleInfo reports whether the frame is a query reply.
func (f *Frame) IsModuleInfo() bool {
	return f.Header[3] == FrameTypeModuleInfo
}

// IsErrorReport reports whether the frame is a device error report.
func (f *Frame) IsErrorReport() bool {
	return f.Header[3] == FrameTypeError
}

// HasClock reports whether the instrument stamped the frame with its
// realtime clock (both time bytes zero means no clock).
func (f *Frame) HasClock() bool {
	return f.Header[4] != 0 || f.Header[5] != 0
}

// --- Construction ---

// sizeExponentFor returns the size exponent encoding n data bytes, or an
// error if n is not a representable block size.
func sizeExponentFor(n int) (byte, error) {
	for exp := byte(0); exp <= 6; exp++ {
		if 2<<exp == n {
			return exp, nil
		}
	}

	return 0, fmt.Errorf("%w: data size %d is not a valid block size", ErrInvalidLength, n)
}

// NewFrame builds a telemetry frame from its source address, frame type and
// data block. The data length must be a valid block size (2, 4, 8, 16, 32,
// 64 or 128 bytes).
//
// NewFrame is used by tests and instrument simulators; real telemetry is
// produced by the codec's DecodeStream.
func NewFrame(addr Address, frameType byte, data []byte) (*Frame, error) {
	exp, err := sizeExponentFor(len(data))
	if err != nil {
		return nil, err
	}

	f := &Frame{Data: data}
	f.Header[0] = exp<<5 | addr[0]&0x0F
	f.Header[1] = addr[1]
	f.Header[2] = addr[2]
	f.Header[3] = frameType

	return f, nil
}

// Checksum computes the frame check byte: the sum of the header and data
// bytes, modulo 256. The sync marker is not included.
func (f *Frame) Checksum() byte {
	var sum byte
	for _, v := range f.Header {
		sum += v
	}
	for _, v := range f.Data {
		sum += v
	}

	return sum
}

// Pack serializes the frame to its escaped wire form, including the sync
// marker and check byte.
func (f *Frame) Pack() []byte {
	raw := make([]byte, 0, frameHeaderSize+len(f.Data)+1)
	raw = append(raw, f.Header[:]...)
	raw = append(raw, f.Data...)
	raw = append(raw, f.Checksum())

	out := make([]byte, 0, len(raw)+4)
	out = append(out, SyncMarker)

	return appendEscaped(out, raw)
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame{addr=%s, type=%d, data=%d bytes}", f.Address(), f.Header[3], len(f.Data))
}
