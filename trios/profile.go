package trios

import (
	"fmt"
	"time"
)

// SensorFamily identifies an instrument family on the bus. The family
// determines framing behavior, payload encoding and measurement timing.
type SensorFamily int

const (
	// FamilyUnknown is the zero value for an unrecognized module type.
	FamilyUnknown SensorFamily = iota
	// FamilySAM is a RAMSES hyperspectral radiometer.
	FamilySAM
	// FamilySAMIP is a RAMSES radiometer with an integrated interface
	// processor, addressed through its SAM and IP submodules.
	FamilySAMIP
	// FamilyMicroFlu is a MicroFlu fluorometer emitting single-value
	// readings with an embedded gain flag.
	FamilyMicroFlu
	// FamilyIPS is an IPS power supply / multiplexer box exposing up to
	// four downstream instrument channels.
	FamilyIPS
	// FamilyG2 is a second-generation RAMSES instrument reporting
	// inclination and pressure alongside each spectrum.
	FamilyG2
)

var familyNames = map[SensorFamily]string{
	FamilyUnknown:  "unknown",
	FamilySAM:      "RAMSES_SAM",
	FamilySAMIP:    "RAMSES_SAMIP",
	FamilyMicroFlu: "MicroFlu",
	FamilyIPS:      "IPS",
	FamilyG2:       "RAMSES_G2",
}

func (f SensorFamily) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}

	return fmt.Sprintf("SensorFamily(%d)", int(f))
}

// ParseSensorFamily converts a family name, as it appears in configuration
// files, back into a SensorFamily.
func ParseSensorFamily(name string) (SensorFamily, error) {
	for f, n := range familyNames {
		if n == name && f != FamilyUnknown {
			return f, nil
		}
	}

	return FamilyUnknown, fmt.Errorf("%w: family %q", ErrUnknownModuleType, name)
}

// moduleFamilies maps the module type code, taken from the upper five bits
// of the first serial byte in a module information frame, to the instrument
// family.
var moduleFamilies = map[byte]SensorFamily{
	2:  FamilyMicroFlu,
	4:  FamilyUnknown, // IOM
	8:  FamilyUnknown, // COM
	9:  FamilyIPS,
	10: FamilySAMIP,
	12: FamilyUnknown, // SCM
	16: FamilySAM,
	20: FamilyUnknown, // DFM
	24: FamilyUnknown, // ADM
}

var moduleTypeNames = map[byte]string{
	2:  "MicroFlu",
	4:  "IOM",
	8:  "COM",
	9:  "IPS",
	10: "SAMIP",
	12: "SCM",
	16: "SAM",
	20: "DFM",
	24: "ADM",
}

// modFreqs maps the module frequency code reported in a module information
// frame to the module clock in MHz.
var modFreqs = map[byte]float64{
	0: 0, 1: 2, 2: 4, 3: 6, 4: 8, 5: 10, 6: 12, 7: 20,
}

// Capabilities describes what an instrument family supports. It drives the
// measurement state machine: payload size, integration timing and whether
// the ready indication or elapsed time ends the integration phase.
type Capabilities struct {
	// ChannelCount is the number of values in a complete reading.
	// Spectral instruments report 256 pixels; MicroFlu reports one.
	ChannelCount int

	// IntegrationTimeMin and IntegrationTimeMax bound the valid
	// integration time index. Index n selects 2^(n+1) milliseconds;
	// index 0 selects automatic integration.
	IntegrationTimeMin int
	IntegrationTimeMax int

	// ReadyFrameAuthoritative indicates the instrument's first data frame,
	// not the configured integration time, decides when integration has
	// finished.
	ReadyFrameAuthoritative bool

	// HasInclinationPressure indicates the instrument appends an auxiliary
	// record with inclination and pressure to each spectrum.
	HasInclinationPressure bool
}

func familyCapabilities(f SensorFamily) Capabilities {
	switch f {
	case FamilySAM, FamilySAMIP:
		return Capabilities{
			ChannelCount:       256,
			IntegrationTimeMin: 0,
			IntegrationTimeMax: 12,
		}
	case FamilyG2:
		return Capabilities{
			ChannelCount:           256,
			IntegrationTimeMin:     0,
			IntegrationTimeMax:     12,
			HasInclinationPressure: true,
		}
	case FamilyMicroFlu:
		return Capabilities{
			ChannelCount:            1,
			ReadyFrameAuthoritative: true,
		}
	case FamilyIPS:
		return Capabilities{}
	default:
		return Capabilities{}
	}
}

// IntegrationDuration converts an integration time index into the wait
// before spectrum data can be expected. Index n selects 2^(n+1)
// milliseconds. Index 0 means automatic integration; the family's maximum
// is used as the upper bound.
func (c Capabilities) IntegrationDuration(index int) time.Duration {
	if index <= 0 {
		index = c.IntegrationTimeMax
	}

	return time.Duration(2<<uint(index)) * time.Millisecond
}

// ValidIntegrationIndex reports whether index is inside the family's
// supported range.
func (c Capabilities) ValidIntegrationIndex(index int) bool {
	return index >= c.IntegrationTimeMin && index <= c.IntegrationTimeMax
}

// InstrumentProfile is the registry record for one discovered or configured
// instrument.
type InstrumentProfile struct {
	// Addr is the instrument's bus address. For instruments behind an IPS
	// box the first address byte carries the IPS channel.
	Addr Address

	Family       SensorFamily
	Capabilities Capabilities

	// Serial is the instrument serial number, e.g. "SAM_8166".
	Serial string

	// Firmware is the reported firmware version.
	Firmware float64

	// ModFreqMHz is the module clock frequency in MHz.
	ModFreqMHz float64
}

// NewProfile builds a profile for a configured instrument with the family's
// default capabilities.
func NewProfile(addr Address, family SensorFamily) *InstrumentProfile {
	return &InstrumentProfile{
		Addr:         addr,
		Family:       family,
		Capabilities: familyCapabilities(family),
	}
}

func (p *InstrumentProfile) String() string {
	return fmt.Sprintf("%s@%s serial=%s fw=%.2f", p.Family, p.Addr, p.Serial, p.Firmware)
}

// ParseModuleInfo decodes the 8-byte payload of a module information frame
// (frame type 255) into an instrument profile.
//
// Payload layout: byte 0 is the low and byte 1 the high serial byte,
// bytes 2..3 the fractional and integral firmware version, byte 4 the
// module frequency code. The upper five bits of the high serial byte
// select the module type.
func ParseModuleInfo(f *Frame) (*InstrumentProfile, error) {
	if !f.IsModuleInfo() {
		return nil, fmt.Errorf("%w: frame type %d is not a module information frame", ErrDecode, f.Type())
	}
	if len(f.Data) < 5 {
		return nil, fmt.Errorf("%w: module information payload is %d bytes, want at least 5", ErrDecode, len(f.Data))
	}

	serLo := f.Data[0]
	serHi := f.Data[1]
	typeCode := serHi >> 3

	family, ok := moduleFamilies[typeCode]
	typeName, named := moduleTypeNames[typeCode]
	if !ok || !named {
		return nil, fmt.Errorf("%w: module type code %d", ErrUnknownModuleType, typeCode)
	}

	p := NewProfile(f.Address(), family)
	p.Serial = fmt.Sprintf("%s_%02X%02X", typeName, serHi, serLo)
	p.Firmware = float64(f.Data[3]) + float64(f.Data[2])/100
	p.ModFreqMHz = modFreqs[f.Data[4]]

	return p, nil
}
