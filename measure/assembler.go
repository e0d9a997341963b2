package measure

import "fmt"

// Assembler reassembles a fixed-size reading from value ranges that arrive
// in arbitrary order. Overlapping ranges are accepted as long as they agree
// on every shared position; a disagreement means the fragments belong to
// different measurements and the whole reading is poisoned.
//
// Assembler is not safe for concurrent use; a session owns one.
type Assembler struct {
	values    []uint16
	covered   []bool
	remaining int
}

// NewAssembler creates an assembler for a reading of total values.
func NewAssembler(total int) *Assembler {
	return &Assembler{
		values:    make([]uint16, total),
		covered:   make([]bool, total),
		remaining: total,
	}
}

// Add merges vals at the given offset. It returns ErrReassembly when the
// range falls outside the reading or conflicts with already-covered
// positions; a rejected range leaves the assembler untouched.
func (a *Assembler) Add(offset int, vals []uint16) error {
	if len(vals) == 0 {
		return fmt.Errorf("%w: empty fragment", ErrReassembly)
	}
	if offset < 0 || offset+len(vals) > len(a.values) {
		return fmt.Errorf("%w: range [%d, %d) outside reading of %d values",
			ErrReassembly, offset, offset+len(vals), len(a.values))
	}

	// Validate before mutating so a conflicting fragment cannot corrupt
	// positions it agrees on.
	for i, v := range vals {
		if a.covered[offset+i] && a.values[offset+i] != v {
			return fmt.Errorf("%w: position %d already holds %d, fragment says %d",
				ErrReassembly, offset+i, a.values[offset+i], v)
		}
	}

	for i, v := range vals {
		if !a.covered[offset+i] {
			a.values[offset+i] = v
			a.covered[offset+i] = true
			a.remaining--
		}
	}

	return nil
}

// Complete reports whether every position has been covered.
func (a *Assembler) Complete() bool {
	return a.remaining == 0
}

// Missing returns the number of positions still uncovered.
func (a *Assembler) Missing() int {
	return a.remaining
}

// Values returns the assembled reading, or nil while incomplete.
func (a *Assembler) Values() []uint16 {
	if !a.Complete() {
		return nil
	}

	out := make([]uint16, len(a.values))
	copy(out, a.values)

	return out
}

// Reset clears the assembler for a new reading of the same size.
func (a *Assembler) Reset() {
	for i := range a.covered {
		a.covered[i] = false
	}
	a.remaining = len(a.values)
}
