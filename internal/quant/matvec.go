package quant

import "github.com/23skdu/longbow-bodkin/internal/mem"

// The matrix-vector multiply primitive shared by the projection
// kernels. Contract, identical across tiers:
//
//	out[j] = sum_k in[k] * (nibble(k*cols+j)*Scale + ZeroPoint)
//
// with k in [0,Rows) and j in [0,Cols). in must hold Rows values and
// out Cols values. The tiers differ only in accumulation blocking and
// must agree within 1e-4 absolute error.

// MatVecWide is the 8-lane tier: eight output units share one
// accumulator block, with a scalar tail for the remaining columns.
func MatVecWide(out []float32, m *Matrix4Bit, in []float32) {
	rows, cols := m.Rows, m.Cols
	scale, zero := m.Scale, m.ZeroPoint

	j := 0
	for ; j+8 <= cols; j += 8 {
		var acc [8]float32
		for k := 0; k < rows; k++ {
			x := in[k]
			base := k*cols + j
			for l := 0; l < 8; l++ {
				acc[l] += x * (float32(m.Nibble(base+l))*scale + zero)
			}
		}
		copy(out[j:j+8], acc[:])
	}
	for ; j < cols; j++ {
		var sum float32
		for k := 0; k < rows; k++ {
			sum += in[k] * (float32(m.Nibble(k*cols+j))*scale + zero)
		}
		out[j] = sum
	}
}

// MatVecNarrow is the 4-lane tier.
func MatVecNarrow(out []float32, m *Matrix4Bit, in []float32) {
	rows, cols := m.Rows, m.Cols
	scale, zero := m.Scale, m.ZeroPoint

	j := 0
	for ; j+4 <= cols; j += 4 {
		var acc [4]float32
		for k := 0; k < rows; k++ {
			x := in[k]
			base := k*cols + j
			for l := 0; l < 4; l++ {
				acc[l] += x * (float32(m.Nibble(base+l))*scale + zero)
			}
		}
		copy(out[j:j+4], acc[:])
	}
	for ; j < cols; j++ {
		var sum float32
		for k := 0; k < rows; k++ {
			sum += in[k] * (float32(m.Nibble(k*cols+j))*scale + zero)
		}
		out[j] = sum
	}
}

// MatVecRef is the scalar reference tier. It dequantizes the entire
// weight matrix once per call and multiplies against the dense copy.
func MatVecRef(a mem.Allocator, out []float32, m *Matrix4Bit, in []float32) error {
	dense, err := m.Dequantize(a)
	if err != nil {
		return err
	}
	defer a.ReleaseFloats(dense)
	MatVecDense(out, dense, m.Rows, m.Cols, in)
	return nil
}

// MatVecDense multiplies against an already-dequantized row-major
// weight matrix. Used by the scalar tier with a pre-sized dense buffer.
func MatVecDense(out, dense []float32, rows, cols int, in []float32) {
	for j := 0; j < cols; j++ {
		var sum float32
		for k := 0; k < rows; k++ {
			sum += in[k] * dense[k*cols+j]
		}
		out[j] = sum
	}
}
