package quant

import (
	"errors"
	"math"
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/mem"
)

func TestPackedLen(t *testing.T) {
	cases := []struct {
		rows, cols, want int
	}{
		{1, 1, 1},
		{1, 2, 1},
		{3, 3, 5},
		{4, 4, 8},
		{5, 7, 18},
		{16, 16, 128},
	}
	for _, tc := range cases {
		if got := PackedLen(tc.rows, tc.cols); got != tc.want {
			t.Errorf("PackedLen(%d,%d) = %d, want %d", tc.rows, tc.cols, got, tc.want)
		}
	}
}

func TestNibbleOrder(t *testing.T) {
	a := mem.NewTracking(0)
	m, err := New(a, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(a)

	// Even linear index in the low nibble, odd in the high nibble.
	m.Data[0] = 0xA3 // index 0 -> 3, index 1 -> 10
	m.Data[1] = 0x1F // index 2 -> 15, index 3 -> 1

	want := []uint8{3, 10, 15, 1}
	for i, w := range want {
		if got := m.Nibble(i); got != w {
			t.Errorf("Nibble(%d) = %d, want %d", i, got, w)
		}
	}

	m.SetNibble(1, 7)
	if m.Data[0] != 0x73 {
		t.Errorf("SetNibble odd index: Data[0] = %#x, want 0x73", m.Data[0])
	}
	m.SetNibble(2, 4)
	if m.Data[1] != 0x14 {
		t.Errorf("SetNibble even index: Data[1] = %#x, want 0x14", m.Data[1])
	}
}

func TestDequantizeAffine(t *testing.T) {
	a := mem.NewTracking(0)
	m, err := New(a, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(a)

	m.Scale = 0.5
	m.ZeroPoint = -2.0
	levels := []uint8{0, 1, 7, 15, 4, 9}
	for i, lv := range levels {
		m.SetNibble(i, lv)
	}

	dense, err := m.Dequantize(a)
	if err != nil {
		t.Fatal(err)
	}
	defer a.ReleaseFloats(dense)

	if len(dense) != 6 {
		t.Fatalf("dequantized length = %d, want 6", len(dense))
	}
	for i, lv := range levels {
		want := float32(lv)*0.5 - 2.0
		if dense[i] != want {
			t.Errorf("dense[%d] = %v, want %v", i, dense[i], want)
		}
	}
}

func TestDequantizeOddCount(t *testing.T) {
	a := mem.NewTracking(0)
	m, err := New(a, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(a)

	for i := 0; i < 9; i++ {
		m.SetNibble(i, uint8(i))
	}
	dense, err := m.Dequantize(a)
	if err != nil {
		t.Fatal(err)
	}
	defer a.ReleaseFloats(dense)

	if len(dense) != 9 {
		t.Fatalf("dequantized length = %d, want rows*cols = 9", len(dense))
	}
	if dense[8] != 8 {
		t.Errorf("last element = %v, want 8", dense[8])
	}
}

func TestQuantizeRoundTrip(t *testing.T) {
	a := mem.NewTracking(0)

	// Values exactly representable at the 16 levels of
	// scale = 0.2, zeroPoint = -1.5.
	values := make([]float32, 16)
	for i := range values {
		values[i] = float32(i)*0.2 - 1.5
	}

	m, err := Quantize(a, values, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(a)

	dense, err := m.Dequantize(a)
	if err != nil {
		t.Fatal(err)
	}
	defer a.ReleaseFloats(dense)

	half := float64(m.Scale) / 2
	for i, v := range values {
		if diff := math.Abs(float64(dense[i] - v)); diff > half {
			t.Errorf("round trip [%d]: %v -> %v, off by %v (> scale/2 = %v)",
				i, v, dense[i], diff, half)
		}
	}
}

func TestQuantizeConstantInput(t *testing.T) {
	a := mem.NewTracking(0)
	values := []float32{2.5, 2.5, 2.5, 2.5}
	m, err := Quantize(a, values, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(a)

	dense, err := m.Dequantize(a)
	if err != nil {
		t.Fatal(err)
	}
	defer a.ReleaseFloats(dense)
	for i, v := range dense {
		if v != 2.5 {
			t.Errorf("constant input [%d] = %v, want 2.5", i, v)
		}
	}
}

func TestSetData(t *testing.T) {
	a := mem.NewTracking(0)
	src, err := New(a, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Release(a)
	src.Scale = 0.25
	src.ZeroPoint = 1.0
	src.Data[0] = 0x21
	src.Data[1] = 0x43

	dst, err := New(a, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Release(a)
	if err := dst.SetData(src); err != nil {
		t.Fatal(err)
	}

	if dst.Scale != 0.25 || dst.ZeroPoint != 1.0 {
		t.Errorf("metadata not copied: scale=%v zero=%v", dst.Scale, dst.ZeroPoint)
	}
	if dst.Data[0] != 0x21 || dst.Data[1] != 0x43 {
		t.Errorf("packed data not copied: %#x %#x", dst.Data[0], dst.Data[1])
	}

	// Mutating the source afterward must not affect the copy.
	src.Data[0] = 0xFF
	if dst.Data[0] != 0x21 {
		t.Error("SetData aliases the source buffer")
	}

	other, err := New(a, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Release(a)
	if err := dst.SetData(other); !errors.Is(err, ErrShape) {
		t.Errorf("shape mismatch: got %v, want ErrShape", err)
	}
}

func TestNewRejectsBadShapes(t *testing.T) {
	a := mem.NewTracking(0)
	for _, dims := range [][2]int{{0, 4}, {4, 0}, {-1, 4}, {4, -2}} {
		if _, err := New(a, dims[0], dims[1]); !errors.Is(err, ErrShape) {
			t.Errorf("New(%d,%d): got %v, want ErrShape", dims[0], dims[1], err)
		}
	}
}

func TestAllocationFailurePropagates(t *testing.T) {
	a := mem.NewTracking(4) // too small for any matrix here

	if _, err := New(a, 8, 8); !errors.Is(err, mem.ErrAllocation) {
		t.Errorf("New under exhausted budget: got %v, want ErrAllocation", err)
	}

	big := mem.NewTracking(0)
	m, err := New(big, 8, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(big)
	if _, err := m.Dequantize(a); !errors.Is(err, mem.ErrAllocation) {
		t.Errorf("Dequantize under exhausted budget: got %v, want ErrAllocation", err)
	}
}

func TestCloneIndependence(t *testing.T) {
	a := mem.NewTracking(0)
	src, err := Quantize(a, []float32{1, 2, 3, 4}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Release(a)

	cp, err := src.Clone(a)
	if err != nil {
		t.Fatal(err)
	}
	defer cp.Release(a)

	src.Data[0] = 0
	srcDense := make([]float32, 4)
	cpDense := make([]float32, 4)
	cp.DequantizeTo(cpDense)
	src.DequantizeTo(srcDense)
	if cpDense[0] == srcDense[0] && cpDense[1] == srcDense[1] {
		t.Error("clone shares storage with source")
	}
}
