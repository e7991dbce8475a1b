package attention

import (
	"fmt"

	"github.com/23skdu/longbow-bodkin/internal/mem"
)

// The scratch arena is one contiguous float buffer carved into the six
// intermediate tensors of the forward pass, in this fixed order:
// Query, Key, Value, Scores, SoftmaxScores, Context. Region offsets are
// a pure function of Params so the layout computed at allocation time
// and at every Forward call is identical.

// arenaFloats returns the arena size in float32 values:
// 3*seq*hidden + 2*heads*seq^2 + seq*hidden.
func arenaFloats(p Params) int {
	sh := p.SeqLength * p.HiddenDim
	hs := p.NumHeads * p.SeqLength * p.SeqLength
	return 3*sh + 2*hs + sh
}

// arenaOffsets returns the cumulative start offset of each region in
// the fixed order above.
func arenaOffsets(p Params) [6]int {
	sh := p.SeqLength * p.HiddenDim
	hs := p.NumHeads * p.SeqLength * p.SeqLength
	return [6]int{
		0,           // query
		sh,          // key
		2 * sh,      // value
		3 * sh,      // scores
		3*sh + hs,   // softmax scores
		3*sh + 2*hs, // context
	}
}

type arena struct {
	buf []float32

	query   []float32
	key     []float32
	value   []float32
	scores  []float32
	softmax []float32
	context []float32
}

func newArena(a mem.Allocator, p Params) (*arena, error) {
	total := arenaFloats(p)
	buf, err := a.Floats(total)
	if err != nil {
		return nil, fmt.Errorf("scratch arena (%d floats): %w", total, err)
	}

	sh := p.SeqLength * p.HiddenDim
	hs := p.NumHeads * p.SeqLength * p.SeqLength
	off := arenaOffsets(p)
	return &arena{
		buf:     buf,
		query:   buf[off[0] : off[0]+sh],
		key:     buf[off[1] : off[1]+sh],
		value:   buf[off[2] : off[2]+sh],
		scores:  buf[off[3] : off[3]+hs],
		softmax: buf[off[4] : off[4]+hs],
		context: buf[off[5] : off[5]+sh],
	}, nil
}

func (ar *arena) release(a mem.Allocator) {
	if ar == nil || ar.buf == nil {
		return
	}
	a.ReleaseFloats(ar.buf)
	ar.buf = nil
	ar.query, ar.key, ar.value = nil, nil, nil
	ar.scores, ar.softmax, ar.context = nil, nil, nil
}
