package reconcile

import "errors"

// Addressing errors. Malformed numeric input never produces an error; it
// degrades to a default instead.
var (
	ErrLineIndexOutOfRange = errors.New("line index out of range")
	ErrUnknownField        = errors.New("unknown field")
	ErrInvalidDate         = errors.New("invalid date, expected YYYY-MM-DD")
	ErrEmptyDescription    = errors.New("line description is required")
)
