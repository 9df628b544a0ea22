package mdtypes

import "errors"

// Domain errors for the update-constrain pipeline. All of these are caller
// programming errors or unrecoverable device conditions; none is retried.
var (
	// ErrNilBuffer indicates a nil device buffer was passed to Bind.
	ErrNilBuffer = errors.New("mdstep: nil device buffer")

	// ErrSizeMismatch indicates a bound buffer is smaller than the atom count.
	ErrSizeMismatch = errors.New("mdstep: device buffer smaller than atom count")

	// ErrBoxNotSet indicates Advance was called before SetBox.
	ErrBoxNotSet = errors.New("mdstep: periodic box not set")

	// ErrNotBound indicates Advance was called before Bind.
	ErrNotBound = errors.New("mdstep: buffers not bound")

	// ErrBadTopology indicates a structurally inconsistent topology
	// (constraint referencing an unknown atom, nonpositive mass or length).
	ErrBadTopology = errors.New("mdstep: inconsistent topology")

	// ErrAllocation indicates device memory allocation failed.
	ErrAllocation = errors.New("mdstep: device allocation failed")
)
