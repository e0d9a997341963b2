package measure

import "errors"

var (
	// ErrReassembly indicates spectrum fragments that cannot be assembled
	// into one reading: out-of-bounds ranges or conflicting duplicates.
	ErrReassembly = errors.New("measure: fragment reassembly conflict")

	// ErrCollectTimeout indicates a measurement whose frames did not all
	// arrive within the collection window.
	ErrCollectTimeout = errors.New("measure: collection window expired")

	// ErrInvalidState indicates a session operation that is not legal in
	// the session's current state, e.g. running a finished session again.
	ErrInvalidState = errors.New("measure: invalid session state")
)
