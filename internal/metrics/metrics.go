package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalForwards atomic.Int64

var (
	ForwardTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attention_forward_total",
		Help: "The total number of completed forward passes",
	})

	ForwardDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "attention_forward_duration_seconds",
		Help: "Duration of full self-attention forward passes",
	})

	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attention_kernel_duration_seconds",
		Help:    "Histogram of per-stage kernel execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"kernel", "tier"})

	AllocatedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attention_allocated_bytes",
		Help: "Current bytes held by the engine allocator (weights plus scratch)",
	})

	ScratchBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attention_scratch_bytes",
		Help: "Bytes reserved for the scratch arena",
	})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attention_validation_errors_total",
		Help: "Total number of rejected operations",
	}, []string{"operation", "error_type"})

	SequenceLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attention_sequence_length",
		Help:    "Distribution of sequence lengths processed",
		Buckets: []float64{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096},
	})
)

// RecordForward records one completed forward pass.
func RecordForward(d time.Duration, seqLength int) {
	totalForwards.Add(1)
	ForwardTotal.Inc()
	ForwardDuration.Observe(d.Seconds())
	SequenceLength.Observe(float64(seqLength))
}

// RecordKernel records one kernel stage execution.
func RecordKernel(kernel, tier string, d time.Duration) {
	KernelDuration.WithLabelValues(kernel, tier).Observe(d.Seconds())
}

// RecordAllocatedBytes updates the live-allocation gauge.
func RecordAllocatedBytes(n int64) {
	AllocatedBytes.Set(float64(n))
}

// AddScratchBytes adjusts the scratch arena gauge by a (possibly
// negative) delta.
func AddScratchBytes(n int64) {
	ScratchBytes.Add(float64(n))
}

// RecordValidationError counts a rejected operation.
func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

// TotalForwards returns the number of forward passes recorded so far.
func TotalForwards() int64 {
	return totalForwards.Load()
}
