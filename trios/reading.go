package trios

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"
)

// GainLevel is the amplification range a MicroFlu value was measured in.
type GainLevel int

const (
	// GainHigh is the sensitive range for low concentrations.
	GainHigh GainLevel = iota
	// GainLow is the coarse range for high concentrations.
	GainLow
)

func (g GainLevel) String() string {
	if g == GainLow {
		return "low"
	}

	return "high"
}

// AuxReading carries the auxiliary record a G2 instrument appends to each
// spectrum: inclination before and after integration, the sensor
// temperature and the ambient pressure, all as raw counts.
type AuxReading struct {
	InclinationPre  uint16
	InclinationPost uint16
	Temperature     uint16
	Pressure        uint16
}

// RawReading is one complete decoded measurement before calibration.
type RawReading struct {
	Addr   Address
	Family SensorFamily

	// Values holds the raw counts, one entry per channel. Spectral
	// instruments fill 256 pixels; MicroFlu fills a single value.
	Values []uint16

	// Gain is the amplification the reading was taken at. Only meaningful
	// for MicroFlu.
	Gain GainLevel

	// Aux is the inclination/pressure record, present only for G2
	// instruments.
	Aux *AuxReading

	// ReceivedAt is when the last frame of the reading arrived.
	ReceivedAt time.Time
}

// DecodeReading assembles a complete raw reading from the data frames of
// one measurement, interpreted per the instrument profile.
//
// Spectral families expect the full set of spectrum fragments, in any
// order; pixels are little-endian. MicroFlu expects a single frame whose
// two big-endian payload bytes carry the gain flag in bit 15 and the value
// in the low 12 bits. A missing fragment, a payload of the wrong shape or a
// pixel count that disagrees with the profile yields ErrDecode.
func DecodeReading(frames []*Frame, p *InstrumentProfile) (*RawReading, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrDecode)
	}

	r := &RawReading{
		Addr:       p.Addr,
		Family:     p.Family,
		ReceivedAt: time.Now(),
	}

	switch p.Family {
	case FamilySAM, FamilySAMIP, FamilyG2:
		if err := decodeSpectrum(frames, p, r); err != nil {
			return nil, err
		}
	case FamilyMicroFlu:
		if err := decodeScalar(frames[0], r); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: family %s has no reading decoder", ErrDecode, p.Family)
	}

	return r, nil
}

func decodeSpectrum(frames []*Frame, p *InstrumentProfile, r *RawReading) error {
	fragments := make([]*Frame, 0, len(frames))

	for _, f := range frames {
		switch {
		case f.IsSpectrumFragment():
			fragments = append(fragments, f)
		case f.IsAux():
			aux, err := decodeAux(f)
			if err != nil {
				return err
			}
			r.Aux = aux
		default:
			return fmt.Errorf("%w: unexpected frame type %d in spectrum", ErrDecode, f.Type())
		}
	}

	seen := make(map[int]bool, len(fragments))
	for _, f := range fragments {
		if seen[f.FragmentIndex()] {
			return fmt.Errorf("%w: duplicate spectrum fragment %d", ErrDecode, f.FragmentIndex())
		}
		seen[f.FragmentIndex()] = true
	}

	sort.Slice(fragments, func(i, j int) bool {
		return fragments[i].FragmentIndex() < fragments[j].FragmentIndex()
	})

	values := make([]uint16, 0, p.Capabilities.ChannelCount)
	for _, f := range fragments {
		if len(f.Data)%2 != 0 {
			return fmt.Errorf("%w: odd spectrum payload of %d bytes", ErrDecode, len(f.Data))
		}

		for i := 0; i < len(f.Data); i += 2 {
			values = append(values, binary.LittleEndian.Uint16(f.Data[i:]))
		}
	}

	if len(values) != p.Capabilities.ChannelCount {
		return fmt.Errorf("%w: got %d pixels, want %d", ErrDecode, len(values), p.Capabilities.ChannelCount)
	}

	r.Values = values
	if p.Capabilities.HasInclinationPressure && r.Aux == nil {
		return fmt.Errorf("%w: missing auxiliary record", ErrDecode)
	}

	return nil
}

func decodeScalar(f *Frame, r *RawReading) error {
	if len(f.Data) < 2 {
		return fmt.Errorf("%w: scalar payload is %d bytes, want 2", ErrDecode, len(f.Data))
	}

	raw := binary.BigEndian.Uint16(f.Data[:2])

	r.Gain = GainHigh
	if raw&0x8000 != 0 {
		r.Gain = GainLow
	}

	r.Values = []uint16{raw & 0x0FFF}

	return nil
}

func decodeAux(f *Frame) (*AuxReading, error) {
	if len(f.Data) < 8 {
		return nil, fmt.Errorf("%w: auxiliary payload is %d bytes, want 8", ErrDecode, len(f.Data))
	}

	return &AuxReading{
		InclinationPre:  binary.BigEndian.Uint16(f.Data[0:]),
		InclinationPost: binary.BigEndian.Uint16(f.Data[2:]),
		Temperature:     binary.BigEndian.Uint16(f.Data[4:]),
		Pressure:        binary.BigEndian.Uint16(f.Data[6:]),
	}, nil
}
