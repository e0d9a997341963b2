package trios

import (
	"encoding/hex"
	"fmt"
)

// Address is the 3-byte destination/source address of a TriOS device:
// channel byte, sub-channel byte and module byte, conventionally written as
// six hexadecimal digits ("010080").
//
// Sensors attached to an IPS4 box use channel bytes 0x02, 0x04, 0x06 and
// 0x08 for box channels 1-4; directly attached sensors use channel 0x00.
// The module byte selects the submodule inside the device: 0x80 is the main
// module, 0x30 addresses the spectrometer inside a SAMIP, 0x20 its
// inclination/pressure module, and 0x00 a bare MicroFlu.
type Address [3]byte

// Well-known module bytes.
const (
	ModuleMain     byte = 0x80
	ModuleSAMIPSam byte = 0x30
	ModuleSAMIPIP  byte = 0x20
	ModuleMicroFlu byte = 0x00
)

// IPS4 channel bytes for daisy-chained sensors.
var IPSChannels = [4]byte{0x02, 0x04, 0x06, 0x08}

// ParseAddress parses a six-hex-digit address string.
func ParseAddress(s string) (Address, error) {
	var a Address

	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 3 {
		return a, fmt.Errorf("trios: invalid address %q: want 6 hex digits", s)
	}

	copy(a[:], raw)

	return a, nil
}

// Bus returns the bus identity of the address: the channel and sub-channel
// bytes, without the module byte.
func (a Address) Bus() BusID {
	return BusID{a[0], a[1]}
}

// WithModule returns a copy of the address with the module byte replaced.
func (a Address) WithModule(module byte) Address {
	return Address{a[0], a[1], module}
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// BusID identifies an instrument on the shared serial bus: the channel and
// sub-channel bytes of its address. Commands are dispatched to a full
// Address (including the module byte) but replies are correlated by BusID,
// because instruments answer from a different module byte than the one
// they were addressed at.
type BusID [2]byte

func (b BusID) String() string {
	return hex.EncodeToString(b[:])
}
