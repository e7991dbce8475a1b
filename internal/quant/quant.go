// Package quant implements packed 4-bit weight matrices with affine
// scale/zero-point dequantization, plus the quantized matrix-vector
// multiply primitive used by the attention kernels.
package quant

import (
	"errors"
	"fmt"
	"math"

	"github.com/23skdu/longbow-bodkin/internal/mem"
)

// ErrShape is returned when matrix dimensions are zero, negative, or
// do not match between source and destination.
var ErrShape = errors.New("invalid matrix shape")

// Matrix4Bit stores rows*cols unsigned 4-bit levels, two per byte.
// The low nibble of each byte holds the even linear index, the high
// nibble the odd one. Reconstruction: value = level*Scale + ZeroPoint.
type Matrix4Bit struct {
	Rows      int
	Cols      int
	Scale     float32
	ZeroPoint float32
	Data      []byte
}

// PackedLen returns the packed buffer length in bytes for a rows x cols
// matrix: ceil(rows*cols/2).
func PackedLen(rows, cols int) int {
	return (rows*cols + 1) / 2
}

// New allocates a zero-filled matrix with Scale 1 and ZeroPoint 0.
func New(a mem.Allocator, rows, cols int) (*Matrix4Bit, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrShape, rows, cols)
	}
	data, err := a.Bytes(PackedLen(rows, cols))
	if err != nil {
		return nil, fmt.Errorf("matrix %dx%d: %w", rows, cols, err)
	}
	return &Matrix4Bit{
		Rows:      rows,
		Cols:      cols,
		Scale:     1,
		ZeroPoint: 0,
		Data:      data,
	}, nil
}

// Release returns the packed buffer to the allocator. The matrix is
// unusable afterward.
func (m *Matrix4Bit) Release(a mem.Allocator) {
	if m == nil || m.Data == nil {
		return
	}
	a.ReleaseBytes(m.Data)
	m.Data = nil
}

// SetData byte-copies packed data and quantization metadata from src.
// The source must already be quantized; no quantization happens here.
func (m *Matrix4Bit) SetData(src *Matrix4Bit) error {
	if src == nil || src.Data == nil {
		return fmt.Errorf("%w: nil source", ErrShape)
	}
	if src.Rows != m.Rows || src.Cols != m.Cols {
		return fmt.Errorf("%w: have %dx%d, source %dx%d",
			ErrShape, m.Rows, m.Cols, src.Rows, src.Cols)
	}
	copy(m.Data, src.Data)
	m.Scale = src.Scale
	m.ZeroPoint = src.ZeroPoint
	return nil
}

// Clone allocates a deep copy of m through a.
func (m *Matrix4Bit) Clone(a mem.Allocator) (*Matrix4Bit, error) {
	out, err := New(a, m.Rows, m.Cols)
	if err != nil {
		return nil, err
	}
	if err := out.SetData(m); err != nil {
		out.Release(a)
		return nil, err
	}
	return out, nil
}

// Nibble returns the 4-bit level at linear index i.
func (m *Matrix4Bit) Nibble(i int) uint8 {
	b := m.Data[i>>1]
	if i&1 == 0 {
		return b & 0x0F
	}
	return b >> 4
}

// SetNibble stores a 4-bit level at linear index i. Levels above 15 are
// truncated to 4 bits.
func (m *Matrix4Bit) SetNibble(i int, level uint8) {
	level &= 0x0F
	idx := i >> 1
	if i&1 == 0 {
		m.Data[idx] = (m.Data[idx] & 0xF0) | level
	} else {
		m.Data[idx] = (m.Data[idx] & 0x0F) | (level << 4)
	}
}

// At returns the dequantized value at (row, col).
func (m *Matrix4Bit) At(row, col int) float32 {
	return float32(m.Nibble(row*m.Cols+col))*m.Scale + m.ZeroPoint
}

// Dequantize expands the matrix into a dense row-major float buffer
// obtained from a. This is the correctness oracle for the scalar tier,
// not a hot path.
func (m *Matrix4Bit) Dequantize(a mem.Allocator) ([]float32, error) {
	out, err := a.Floats(m.Rows * m.Cols)
	if err != nil {
		return nil, fmt.Errorf("dequantize %dx%d: %w", m.Rows, m.Cols, err)
	}
	m.DequantizeTo(out)
	return out, nil
}

// DequantizeTo expands the matrix into dst, which must hold at least
// Rows*Cols values.
func (m *Matrix4Bit) DequantizeTo(dst []float32) {
	n := m.Rows * m.Cols
	for i := 0; i+1 < n; i += 2 {
		b := m.Data[i>>1]
		dst[i] = float32(b&0x0F)*m.Scale + m.ZeroPoint
		dst[i+1] = float32(b>>4)*m.Scale + m.ZeroPoint
	}
	if n&1 == 1 {
		dst[n-1] = float32(m.Data[(n-1)>>1]&0x0F)*m.Scale + m.ZeroPoint
	}
}

// Quantize maps a dense row-major float matrix onto 16 levels using
// min/max calibration: ZeroPoint = min, Scale = (max-min)/15. Values
// are rounded to the nearest level and clamped to [0,15].
func Quantize(a mem.Allocator, values []float32, rows, cols int) (*Matrix4Bit, error) {
	if rows <= 0 || cols <= 0 || len(values) != rows*cols {
		return nil, fmt.Errorf("%w: %dx%d with %d values", ErrShape, rows, cols, len(values))
	}
	out, err := New(a, rows, cols)
	if err != nil {
		return nil, err
	}

	minVal := values[0]
	maxVal := values[0]
	for _, v := range values {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}

	out.ZeroPoint = minVal
	out.Scale = (maxVal - minVal) / 15.0
	if out.Scale == 0 {
		// All values identical; any scale reconstructs level 0 exactly.
		out.Scale = 1
	}

	for i, v := range values {
		level := int(math.Round(float64((v - out.ZeroPoint) / out.Scale)))
		if level < 0 {
			level = 0
		}
		if level > 15 {
			level = 15
		}
		out.SetNibble(i, uint8(level))
	}
	return out, nil
}
