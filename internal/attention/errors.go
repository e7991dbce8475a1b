package attention

import "errors"

// Error taxonomy of the engine. Allocation failures are reported as
// mem.ErrAllocation by the memory collaborator and pass through
// wrapped.
var (
	// ErrInvalidArgument covers nil buffers, zero or mismatched
	// dimensions, and hiddenDim != numHeads*headDim.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUninitialized is returned when Forward is called before
	// weights are set, or when any method is called after Close.
	ErrUninitialized = errors.New("attention not initialized")
)
