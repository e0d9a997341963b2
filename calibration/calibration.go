// Package calibration converts raw instrument counts into physical
// quantities. Spectral instruments ship with per-pixel scale and dark
// offset tables; MicroFlu fluorometers use a fixed two-range scaling.
package calibration

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oceansignal/go-trios/trios"
)

// ErrCalibration indicates coefficients that do not fit the reading they
// are applied to, or an unreadable coefficient file.
var ErrCalibration = errors.New("calibration: invalid coefficients")

// microFluCounts is the full-scale count of a MicroFlu reading (12 bits
// less the sign position used by older firmware).
const microFluCounts = 2048

// MicroFlu full-scale concentrations per gain range.
const (
	microFluHighScale = 10.0
	microFluLowScale  = 100.0
)

// Reading is one calibrated measurement.
type Reading struct {
	Addr   trios.Address
	Family trios.SensorFamily

	// Values holds the calibrated quantities, one per channel.
	Values []float64

	TakenAt time.Time
}

// Coefficients holds the per-channel calibration of one instrument.
type Coefficients struct {
	// Serial is the instrument the table belongs to.
	Serial string

	// Scale and Offset convert a raw count n to Scale*(n-Offset), per
	// channel.
	Scale  []float64
	Offset []float64
}

// Apply converts a raw reading with this coefficient table. The table must
// match the reading's channel count.
func (c *Coefficients) Apply(raw *trios.RawReading) (*Reading, error) {
	if len(c.Scale) != len(raw.Values) || len(c.Offset) != len(raw.Values) {
		return nil, fmt.Errorf("%w: table for %d channels, reading has %d",
			ErrCalibration, len(c.Scale), len(raw.Values))
	}

	out := &Reading{
		Addr:    raw.Addr,
		Family:  raw.Family,
		Values:  make([]float64, len(raw.Values)),
		TakenAt: raw.ReceivedAt,
	}

	for i, v := range raw.Values {
		out.Values[i] = c.Scale[i] * (float64(v) - c.Offset[i])
	}

	return out, nil
}

// ScaleMicroFlu converts a raw MicroFlu count into concentration using the
// fixed range scaling: the low-amplification range spans ten times the
// concentration of the high range.
func ScaleMicroFlu(value uint16, gain trios.GainLevel) float64 {
	scale := microFluHighScale
	if gain == trios.GainLow {
		scale = microFluLowScale
	}

	return scale * float64(value) / microFluCounts
}

// ApplyMicroFlu calibrates a raw MicroFlu reading.
func ApplyMicroFlu(raw *trios.RawReading) (*Reading, error) {
	if len(raw.Values) != 1 {
		return nil, fmt.Errorf("%w: MicroFlu reading has %d values", ErrCalibration, len(raw.Values))
	}

	return &Reading{
		Addr:    raw.Addr,
		Family:  raw.Family,
		Values:  []float64{ScaleMicroFlu(raw.Values[0], raw.Gain)},
		TakenAt: raw.ReceivedAt,
	}, nil
}

// LoadFile reads a coefficient table: one "scale offset" pair per line,
// whitespace separated, with '#' comments and blank lines ignored. Lines
// appear in channel order.
func LoadFile(path string) (*Coefficients, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalibration, err)
	}
	defer f.Close()

	c := &Coefficients{}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %s:%d: want two columns, got %d",
				ErrCalibration, path, lineNo, len(fields))
		}

		scale, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", ErrCalibration, path, lineNo, err)
		}
		offset, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", ErrCalibration, path, lineNo, err)
		}

		c.Scale = append(c.Scale, scale)
		c.Offset = append(c.Offset, offset)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalibration, err)
	}

	if len(c.Scale) == 0 {
		return nil, fmt.Errorf("%w: %s: empty table", ErrCalibration, path)
	}

	return c, nil
}
