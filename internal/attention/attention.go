// Package attention implements a multi-head self-attention forward
// pass over 4-bit quantized projection weights, with runtime-selected
// kernel tiers and a single pre-sized scratch arena.
package attention

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-bodkin/internal/cpufeatures"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/mem"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/quant"
)

// WeightSet carries caller-quantized projection weights and optional
// full-precision biases. Matrices must be hiddenDim x hiddenDim and
// biases, when present, length hiddenDim. Everything is deep-copied by
// SetWeights; the caller keeps ownership of its buffers.
type WeightSet struct {
	Query  *quant.Matrix4Bit
	Key    *quant.Matrix4Bit
	Value  *quant.Matrix4Bit
	Output *quant.Matrix4Bit

	QueryBias  []float32
	KeyBias    []float32
	ValueBias  []float32
	OutputBias []float32
}

// weightSet is the owned copy. All fields start nil, so release is
// safe at any point during a staged copy.
type weightSet struct {
	query  *quant.Matrix4Bit
	key    *quant.Matrix4Bit
	value  *quant.Matrix4Bit
	output *quant.Matrix4Bit

	queryBias  []float32
	keyBias    []float32
	valueBias  []float32
	outputBias []float32
}

func (w *weightSet) release(a mem.Allocator) {
	if w == nil {
		return
	}
	w.query.Release(a)
	w.key.Release(a)
	w.value.Release(a)
	w.output.Release(a)
	a.ReleaseFloats(w.queryBias)
	a.ReleaseFloats(w.keyBias)
	a.ReleaseFloats(w.valueBias)
	a.ReleaseFloats(w.outputBias)
	*w = weightSet{}
}

// SelfAttention owns four quantized projection matrices, optional
// biases, and one scratch arena. Instances are not safe for concurrent
// Forward calls; use one instance per concurrent caller.
type SelfAttention struct {
	params  Params
	alloc   mem.Allocator
	kt      kernelTable
	arena   *arena
	weights *weightSet
	dense   []float32 // scalar-tier dequantization scratch
	workers int
	closed  bool
}

// Option customizes construction.
type Option func(*SelfAttention)

// WithAllocator substitutes the memory collaborator.
func WithAllocator(a mem.Allocator) Option {
	return func(sa *SelfAttention) { sa.alloc = a }
}

// WithWorkers bounds intra-stage parallelism. Values below 1 mean
// serial execution.
func WithWorkers(n int) Option {
	return func(sa *SelfAttention) { sa.workers = n }
}

// WithTier forces a specific kernel tier instead of the detected best
// one. All tiers run on every platform; forcing the scalar tier yields
// the reference semantics everywhere.
func WithTier(t cpufeatures.Tier) Option {
	return func(sa *SelfAttention) { sa.kt = kernelsFor(t) }
}

// New validates params, allocates the scratch arena, and binds the
// kernel tier. On error nothing is retained.
func New(p Params, opts ...Option) (*SelfAttention, error) {
	p.normalize()
	if err := p.Validate(); err != nil {
		metrics.RecordValidationError("init", "invalid_argument")
		return nil, err
	}

	sa := &SelfAttention{
		params:  p,
		alloc:   mem.Default(),
		kt:      kernelsFor(cpufeatures.Get().Best()),
		workers: 1,
	}
	for _, opt := range opts {
		opt(sa)
	}

	ar, err := newArena(sa.alloc, p)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	sa.arena = ar

	if sa.kt.tier == cpufeatures.TierScalar {
		// The scalar projection tier dequantizes a full weight matrix
		// once per call; its dense buffer is part of Init so Forward
		// never allocates.
		sa.dense, err = sa.alloc.Floats(p.HiddenDim * p.HiddenDim)
		if err != nil {
			ar.release(sa.alloc)
			sa.arena = nil
			return nil, fmt.Errorf("init: dense scratch: %w", err)
		}
	}

	metrics.AddScratchBytes(int64(arenaFloats(p)) * 4)
	logger.Log.Component("attention").Debug("initialized",
		"tier", sa.kt.tier.String(),
		"seq_length", p.SeqLength,
		"num_heads", p.NumHeads,
		"head_dim", p.HeadDim,
		"arena_floats", arenaFloats(p))
	return sa, nil
}

// Tier reports the kernel tier bound at construction.
func (sa *SelfAttention) Tier() cpufeatures.Tier {
	return sa.kt.tier
}

// Params returns the immutable attention parameters.
func (sa *SelfAttention) Params() Params {
	return sa.params
}

func validateWeightMatrix(name string, m *quant.Matrix4Bit, hiddenDim int) error {
	if m == nil || m.Data == nil {
		return fmt.Errorf("%w: %s weight is nil", ErrInvalidArgument, name)
	}
	if m.Rows != hiddenDim || m.Cols != hiddenDim {
		return fmt.Errorf("%w: %s weight is %dx%d, want %dx%d",
			ErrInvalidArgument, name, m.Rows, m.Cols, hiddenDim, hiddenDim)
	}
	return nil
}

func cloneFloats(a mem.Allocator, src []float32) ([]float32, error) {
	dst, err := a.Floats(len(src))
	if err != nil {
		return nil, err
	}
	copy(dst, src)
	return dst, nil
}

// SetWeights deep-copies the given weights, replacing any prior set.
// The copy is staged: either every matrix and bias copies successfully
// and the staged set is swapped in, or everything staged so far is
// released and the previous state (weights or no weights) is kept
// untouched.
func (sa *SelfAttention) SetWeights(ws WeightSet) error {
	if sa.closed || sa.arena == nil {
		return ErrUninitialized
	}

	hd := sa.params.HiddenDim
	for _, check := range []struct {
		name string
		m    *quant.Matrix4Bit
	}{
		{"query", ws.Query}, {"key", ws.Key}, {"value", ws.Value}, {"output", ws.Output},
	} {
		if err := validateWeightMatrix(check.name, check.m, hd); err != nil {
			metrics.RecordValidationError("set_weights", "invalid_argument")
			return err
		}
	}
	for _, check := range []struct {
		name string
		b    []float32
	}{
		{"query", ws.QueryBias}, {"key", ws.KeyBias},
		{"value", ws.ValueBias}, {"output", ws.OutputBias},
	} {
		if check.b != nil && len(check.b) != hd {
			metrics.RecordValidationError("set_weights", "invalid_argument")
			return fmt.Errorf("%w: %s bias has length %d, want %d",
				ErrInvalidArgument, check.name, len(check.b), hd)
		}
	}

	st := &weightSet{}
	committed := false
	defer func() {
		if !committed {
			st.release(sa.alloc)
		}
	}()

	var err error
	if st.query, err = ws.Query.Clone(sa.alloc); err != nil {
		return fmt.Errorf("set weights: query: %w", err)
	}
	if st.key, err = ws.Key.Clone(sa.alloc); err != nil {
		return fmt.Errorf("set weights: key: %w", err)
	}
	if st.value, err = ws.Value.Clone(sa.alloc); err != nil {
		return fmt.Errorf("set weights: value: %w", err)
	}
	if st.output, err = ws.Output.Clone(sa.alloc); err != nil {
		return fmt.Errorf("set weights: output: %w", err)
	}
	if ws.QueryBias != nil {
		if st.queryBias, err = cloneFloats(sa.alloc, ws.QueryBias); err != nil {
			return fmt.Errorf("set weights: query bias: %w", err)
		}
	}
	if ws.KeyBias != nil {
		if st.keyBias, err = cloneFloats(sa.alloc, ws.KeyBias); err != nil {
			return fmt.Errorf("set weights: key bias: %w", err)
		}
	}
	if ws.ValueBias != nil {
		if st.valueBias, err = cloneFloats(sa.alloc, ws.ValueBias); err != nil {
			return fmt.Errorf("set weights: value bias: %w", err)
		}
	}
	if ws.OutputBias != nil {
		if st.outputBias, err = cloneFloats(sa.alloc, ws.OutputBias); err != nil {
			return fmt.Errorf("set weights: output bias: %w", err)
		}
	}

	committed = true
	old := sa.weights
	sa.weights = st
	old.release(sa.alloc)
	return nil
}

// project runs one projection family: out[pos][j] = bias[j] +
// sum_k in[pos][k] * dequant(w[k,j]) for every sequence position.
func (sa *SelfAttention) project(w *quant.Matrix4Bit, bias []float32, in, out []float32) error {
	p := sa.params
	dim := p.HiddenDim

	if sa.kt.tier == cpufeatures.TierScalar {
		// Reference tier: dequantize the whole matrix once per call,
		// then multiply against the dense copy, bias first.
		w.DequantizeTo(sa.dense)
		for i := 0; i < p.SeqLength; i++ {
			inRow := in[i*dim:][:dim]
			outRow := out[i*dim:][:dim]
			for j := 0; j < dim; j++ {
				var sum float32
				if bias != nil {
					sum = bias[j]
				}
				for k := 0; k < dim; k++ {
					sum += inRow[k] * sa.dense[k*dim+j]
				}
				outRow[j] = sum
			}
		}
		return nil
	}

	run := func(p0, p1 int) error {
		for i := p0; i < p1; i++ {
			inRow := in[i*dim:][:dim]
			outRow := out[i*dim:][:dim]
			sa.kt.matVec(outRow, w, inRow)
			if bias != nil {
				sa.kt.addBias(outRow, bias)
			}
		}
		return nil
	}
	return sa.parallel(p.SeqLength, run)
}

// parallel splits n independent iterations across the configured
// worker count. Stage boundaries remain synchronization points: this
// returns only after every chunk has completed.
func (sa *SelfAttention) parallel(n int, fn func(lo, hi int) error) error {
	if sa.workers <= 1 || n < 2 {
		return fn(0, n)
	}
	g := new(errgroup.Group)
	chunk := (n + sa.workers - 1) / sa.workers
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error { return fn(lo, hi) })
	}
	return g.Wait()
}

// Forward runs the five kernel stages in order: QKV projection,
// attention scores, softmax, context aggregation, output projection.
// input and output are dense [seqLength x hiddenDim] buffers owned by
// the caller; output is fully overwritten. A failed Forward leaves the
// arena contents undefined.
func (sa *SelfAttention) Forward(input, output []float32) error {
	if sa.closed || sa.arena == nil {
		return ErrUninitialized
	}
	if sa.weights == nil {
		return fmt.Errorf("%w: weights not set", ErrUninitialized)
	}
	p := sa.params
	want := p.SeqLength * p.HiddenDim
	if input == nil || output == nil || len(input) != want || len(output) != want {
		metrics.RecordValidationError("forward", "invalid_argument")
		return fmt.Errorf("%w: input/output must be %d floats (seq %d x hidden %d), got %d/%d",
			ErrInvalidArgument, want, p.SeqLength, p.HiddenDim, len(input), len(output))
	}

	tier := sa.kt.tier.String()
	ar := sa.arena
	wt := sa.weights
	forwardStart := time.Now()

	stageStart := time.Now()
	if err := sa.project(wt.query, wt.queryBias, input, ar.query); err != nil {
		return fmt.Errorf("qkv projection: %w", err)
	}
	if err := sa.project(wt.key, wt.keyBias, input, ar.key); err != nil {
		return fmt.Errorf("qkv projection: %w", err)
	}
	if err := sa.project(wt.value, wt.valueBias, input, ar.value); err != nil {
		return fmt.Errorf("qkv projection: %w", err)
	}
	metrics.RecordKernel("qkv_projection", tier, time.Since(stageStart))

	stageStart = time.Now()
	err := sa.parallel(p.NumHeads, func(h0, h1 int) error {
		sa.kt.scores(ar.query, ar.key, ar.scores, p, h0, h1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("attention scores: %w", err)
	}
	metrics.RecordKernel("scores", tier, time.Since(stageStart))

	stageStart = time.Now()
	err = sa.parallel(p.NumHeads, func(h0, h1 int) error {
		sa.kt.softmax(ar.scores, ar.softmax, p, h0, h1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("softmax: %w", err)
	}
	metrics.RecordKernel("softmax", tier, time.Since(stageStart))

	stageStart = time.Now()
	err = sa.parallel(p.NumHeads, func(h0, h1 int) error {
		sa.kt.context(ar.softmax, ar.value, ar.context, p, h0, h1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("context aggregation: %w", err)
	}
	metrics.RecordKernel("context", tier, time.Since(stageStart))

	stageStart = time.Now()
	if err := sa.project(wt.output, wt.outputBias, ar.context, output); err != nil {
		return fmt.Errorf("output projection: %w", err)
	}
	metrics.RecordKernel("output_projection", tier, time.Since(stageStart))

	metrics.RecordForward(time.Since(forwardStart), p.SeqLength)
	return nil
}

// Close releases all owned weights, biases, and the scratch arena.
// The instance is unusable afterward; Close on a closed instance is a
// no-op.
func (sa *SelfAttention) Close() error {
	if sa.closed {
		return nil
	}
	sa.weights.release(sa.alloc)
	sa.weights = nil
	if sa.dense != nil {
		sa.alloc.ReleaseFloats(sa.dense)
		sa.dense = nil
	}
	if sa.arena != nil {
		metrics.AddScratchBytes(-int64(arenaFloats(sa.params)) * 4)
		sa.arena.release(sa.alloc)
		sa.arena = nil
	}
	sa.closed = true
	return nil
}
