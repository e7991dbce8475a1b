package metrics

import (
	"testing"
	"time"
)

func TestRecordForward(t *testing.T) {
	before := TotalForwards()
	RecordForward(5*time.Millisecond, 64)
	RecordForward(7*time.Millisecond, 128)
	if got := TotalForwards() - before; got != 2 {
		t.Errorf("TotalForwards delta = %d, want 2", got)
	}
}

func TestRecordKernelLabels(t *testing.T) {
	// Must not panic for any stage/tier combination used by the engine.
	kernels := []string{"qkv_projection", "scores", "softmax", "context", "output_projection"}
	tiers := []string{"wide", "narrow", "scalar"}
	for _, k := range kernels {
		for _, tier := range tiers {
			RecordKernel(k, tier, time.Microsecond)
		}
	}
}

func TestGauges(t *testing.T) {
	RecordAllocatedBytes(1 << 20)
	AddScratchBytes(1 << 16)
	AddScratchBytes(-(1 << 16))
	RecordValidationError("forward", "invalid_argument")
}
