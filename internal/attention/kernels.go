package attention

import (
	"math"

	"github.com/23skdu/longbow-bodkin/internal/cpufeatures"
	"github.com/23skdu/longbow-bodkin/internal/quant"
)

// Each kernel family ships three implementations: an 8-lane tier, a
// 4-lane tier, and a scalar reference. All three honor the same
// contract and agree within 1e-4 absolute error; the table below binds
// one implementation per family at construction so Forward never
// re-branches on capabilities.

type kernelTable struct {
	tier    cpufeatures.Tier
	matVec  func(out []float32, w *quant.Matrix4Bit, in []float32)
	addBias func(dst, bias []float32)
	scores  func(q, k, out []float32, p Params, h0, h1 int)
	softmax func(scores, soft []float32, p Params, h0, h1 int)
	context func(soft, value, ctx []float32, p Params, h0, h1 int)
}

func kernelsFor(tier cpufeatures.Tier) kernelTable {
	switch tier {
	case cpufeatures.TierWide:
		return kernelTable{
			tier:    tier,
			matVec:  quant.MatVecWide,
			addBias: addBiasWide,
			scores:  scoresWide,
			softmax: softmaxWide,
			context: contextWide,
		}
	case cpufeatures.TierNarrow:
		return kernelTable{
			tier:    tier,
			matVec:  quant.MatVecNarrow,
			addBias: addBiasNarrow,
			scores:  scoresNarrow,
			softmax: softmaxNarrow,
			context: contextNarrow,
		}
	default:
		return kernelTable{
			tier:    cpufeatures.TierScalar,
			addBias: addBiasScalar,
			scores:  scoresRef,
			softmax: softmaxRef,
			context: contextRef,
		}
	}
}

var negInf = float32(math.Inf(-1))

// --- lane-wise bias addition -------------------------------------------------

func addBiasWide(dst, bias []float32) {
	j := 0
	for ; j+8 <= len(dst); j += 8 {
		for l := 0; l < 8; l++ {
			dst[j+l] += bias[j+l]
		}
	}
	for ; j < len(dst); j++ {
		dst[j] += bias[j]
	}
}

func addBiasNarrow(dst, bias []float32) {
	j := 0
	for ; j+4 <= len(dst); j += 4 {
		for l := 0; l < 4; l++ {
			dst[j+l] += bias[j+l]
		}
	}
	for ; j < len(dst); j++ {
		dst[j] += bias[j]
	}
}

func addBiasScalar(dst, bias []float32) {
	for j := range dst {
		dst[j] += bias[j]
	}
}

// --- attention scores (Q Kt) -------------------------------------------------
//
// out[h*seq*seq + i*seq + j] = Scale * dot(query[i,h], key[j,h]), or
// -Inf when causal masking is on and j > i. Softmax downstream turns
// the -Inf entries into exact zeros; no separate masking pass exists.

func scoresWide(q, k, out []float32, p Params, h0, h1 int) {
	seq, heads, hd := p.SeqLength, p.NumHeads, p.HeadDim
	for h := h0; h < h1; h++ {
		for i := 0; i < seq; i++ {
			qv := q[i*heads*hd+h*hd:][:hd]
			row := out[h*seq*seq+i*seq:][:seq]
			for j := 0; j < seq; j++ {
				if p.CausalMask && j > i {
					row[j] = negInf
					continue
				}
				kv := k[j*heads*hd+h*hd:][:hd]
				var acc [8]float32
				d := 0
				for ; d+8 <= hd; d += 8 {
					for l := 0; l < 8; l++ {
						acc[l] += qv[d+l] * kv[d+l]
					}
				}
				dot := ((acc[0] + acc[4]) + (acc[1] + acc[5])) +
					((acc[2] + acc[6]) + (acc[3] + acc[7]))
				for ; d < hd; d++ {
					dot += qv[d] * kv[d]
				}
				row[j] = dot * p.Scale
			}
		}
	}
}

func scoresNarrow(q, k, out []float32, p Params, h0, h1 int) {
	seq, heads, hd := p.SeqLength, p.NumHeads, p.HeadDim
	for h := h0; h < h1; h++ {
		for i := 0; i < seq; i++ {
			qv := q[i*heads*hd+h*hd:][:hd]
			row := out[h*seq*seq+i*seq:][:seq]
			for j := 0; j < seq; j++ {
				if p.CausalMask && j > i {
					row[j] = negInf
					continue
				}
				kv := k[j*heads*hd+h*hd:][:hd]
				var acc [4]float32
				d := 0
				for ; d+4 <= hd; d += 4 {
					for l := 0; l < 4; l++ {
						acc[l] += qv[d+l] * kv[d+l]
					}
				}
				dot := (acc[0] + acc[2]) + (acc[1] + acc[3])
				for ; d < hd; d++ {
					dot += qv[d] * kv[d]
				}
				row[j] = dot * p.Scale
			}
		}
	}
}

func scoresRef(q, k, out []float32, p Params, h0, h1 int) {
	seq, heads, hd := p.SeqLength, p.NumHeads, p.HeadDim
	for h := h0; h < h1; h++ {
		for i := 0; i < seq; i++ {
			qv := q[i*heads*hd+h*hd:][:hd]
			row := out[h*seq*seq+i*seq:][:seq]
			for j := 0; j < seq; j++ {
				if p.CausalMask && j > i {
					row[j] = negInf
					continue
				}
				kv := k[j*heads*hd+h*hd:][:hd]
				var dot float32
				for d := 0; d < hd; d++ {
					dot += qv[d] * kv[d]
				}
				row[j] = dot * p.Scale
			}
		}
	}
}

// --- softmax -----------------------------------------------------------------
//
// Per (head, query position) row: subtract the row maximum, exponate,
// normalize by the row sum. The diagonal entry is never masked, so the
// sum is strictly positive. Masked -Inf entries exponate to exactly 0.

func softmaxRow(src, dst []float32, lanes int) {
	maxScore := negInf
	for _, v := range src {
		if v > maxScore {
			maxScore = v
		}
	}

	var sum float32
	for j, v := range src {
		e := float32(math.Exp(float64(v - maxScore)))
		dst[j] = e
		sum += e
	}

	invSum := float32(1.0) / sum
	switch lanes {
	case 8:
		j := 0
		for ; j+8 <= len(dst); j += 8 {
			for l := 0; l < 8; l++ {
				dst[j+l] *= invSum
			}
		}
		for ; j < len(dst); j++ {
			dst[j] *= invSum
		}
	case 4:
		j := 0
		for ; j+4 <= len(dst); j += 4 {
			for l := 0; l < 4; l++ {
				dst[j+l] *= invSum
			}
		}
		for ; j < len(dst); j++ {
			dst[j] *= invSum
		}
	default:
		for j := range dst {
			dst[j] *= invSum
		}
	}
}

func softmaxWide(scores, soft []float32, p Params, h0, h1 int) {
	seq := p.SeqLength
	for h := h0; h < h1; h++ {
		for i := 0; i < seq; i++ {
			base := h*seq*seq + i*seq
			softmaxRow(scores[base:base+seq], soft[base:base+seq], 8)
		}
	}
}

func softmaxNarrow(scores, soft []float32, p Params, h0, h1 int) {
	seq := p.SeqLength
	for h := h0; h < h1; h++ {
		for i := 0; i < seq; i++ {
			base := h*seq*seq + i*seq
			softmaxRow(scores[base:base+seq], soft[base:base+seq], 4)
		}
	}
}

func softmaxRef(scores, soft []float32, p Params, h0, h1 int) {
	seq := p.SeqLength
	for h := h0; h < h1; h++ {
		for i := 0; i < seq; i++ {
			base := h*seq*seq + i*seq
			src := scores[base : base+seq]
			dst := soft[base : base+seq]

			maxScore := negInf
			for _, v := range src {
				if v > maxScore {
					maxScore = v
				}
			}
			var sum float32
			for j, v := range src {
				e := float32(math.Exp(float64(v - maxScore)))
				dst[j] = e
				sum += e
			}
			if sum > 0 {
				invSum := float32(1.0) / sum
				for j := range dst {
					dst[j] *= invSum
				}
			}
		}
	}
}

// --- context aggregation (softmax * V) ---------------------------------------
//
// context[i,h] = sum_j softmax[h,i,j] * value[j,h], written
// head-interleaved: index = pos*numHeads*headDim + head*headDim + d.

func contextWide(soft, value, ctx []float32, p Params, h0, h1 int) {
	seq, heads, hd := p.SeqLength, p.NumHeads, p.HeadDim
	for h := h0; h < h1; h++ {
		for i := 0; i < seq; i++ {
			row := soft[h*seq*seq+i*seq:][:seq]
			cv := ctx[i*heads*hd+h*hd:][:hd]
			for d := range cv {
				cv[d] = 0
			}
			for j := 0; j < seq; j++ {
				w := row[j]
				vv := value[j*heads*hd+h*hd:][:hd]
				d := 0
				for ; d+8 <= hd; d += 8 {
					for l := 0; l < 8; l++ {
						cv[d+l] += w * vv[d+l]
					}
				}
				for ; d < hd; d++ {
					cv[d] += w * vv[d]
				}
			}
		}
	}
}

func contextNarrow(soft, value, ctx []float32, p Params, h0, h1 int) {
	seq, heads, hd := p.SeqLength, p.NumHeads, p.HeadDim
	for h := h0; h < h1; h++ {
		for i := 0; i < seq; i++ {
			row := soft[h*seq*seq+i*seq:][:seq]
			cv := ctx[i*heads*hd+h*hd:][:hd]
			for d := range cv {
				cv[d] = 0
			}
			for j := 0; j < seq; j++ {
				w := row[j]
				vv := value[j*heads*hd+h*hd:][:hd]
				d := 0
				for ; d+4 <= hd; d += 4 {
					for l := 0; l < 4; l++ {
						cv[d+l] += w * vv[d+l]
					}
				}
				for ; d < hd; d++ {
					cv[d] += w * vv[d]
				}
			}
		}
	}
}

func contextRef(soft, value, ctx []float32, p Params, h0, h1 int) {
	seq, heads, hd := p.SeqLength, p.NumHeads, p.HeadDim
	for h := h0; h < h1; h++ {
		for i := 0; i < seq; i++ {
			row := soft[h*seq*seq+i*seq:][:seq]
			cv := ctx[i*heads*hd+h*hd:][:hd]
			for d := range cv {
				cv[d] = 0
			}
			for j := 0; j < seq; j++ {
				w := row[j]
				vv := value[j*heads*hd+h*hd:][:hd]
				for d := 0; d < hd; d++ {
					cv[d] += w * vv[d]
				}
			}
		}
	}
}
