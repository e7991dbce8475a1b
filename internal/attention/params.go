package attention

import (
	"fmt"
	"math"
)

// Params fixes the geometry of one SelfAttention instance. Immutable
// after New.
type Params struct {
	BatchSize  int
	SeqLength  int
	NumHeads   int
	HeadDim    int
	HiddenDim  int
	CausalMask bool
	// Scale multiplies every raw attention score. Zero selects the
	// conventional 1/sqrt(headDim).
	Scale float32
}

func (p *Params) normalize() {
	if p.BatchSize == 0 {
		p.BatchSize = 1
	}
	if p.Scale == 0 {
		p.Scale = float32(1.0 / math.Sqrt(float64(p.HeadDim)))
	}
}

// Validate reports the first geometry violation.
func (p Params) Validate() error {
	if p.BatchSize != 1 {
		return fmt.Errorf("%w: batch_size %d (only 1 is supported)", ErrInvalidArgument, p.BatchSize)
	}
	if p.SeqLength <= 0 {
		return fmt.Errorf("%w: seq_length %d (must be positive)", ErrInvalidArgument, p.SeqLength)
	}
	if p.NumHeads <= 0 {
		return fmt.Errorf("%w: num_heads %d (must be positive)", ErrInvalidArgument, p.NumHeads)
	}
	if p.HeadDim <= 0 {
		return fmt.Errorf("%w: head_dim %d (must be positive)", ErrInvalidArgument, p.HeadDim)
	}
	if p.HiddenDim <= 0 {
		return fmt.Errorf("%w: hidden_dim %d (must be positive)", ErrInvalidArgument, p.HiddenDim)
	}
	if p.HiddenDim != p.NumHeads*p.HeadDim {
		return fmt.Errorf("%w: hidden_dim %d != num_heads(%d) * head_dim(%d)",
			ErrInvalidArgument, p.HiddenDim, p.NumHeads, p.HeadDim)
	}
	return nil
}
