package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/attention"
	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/cpufeatures"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/mem"
	"github.com/23skdu/longbow-bodkin/internal/monitoring"
	"github.com/23skdu/longbow-bodkin/internal/quant"
)

var (
	seqLength = flag.Int("seq", 128, "Sequence length")
	numHeads  = flag.Int("heads", 8, "Number of attention heads")
	headDim   = flag.Int("head-dim", 64, "Dimension per head")
	causal    = flag.Bool("causal", true, "Apply the causal mask")
	iters     = flag.Int("n", 50, "Number of forward passes")
	tierName  = flag.String("tier", "", "Force kernel tier (wide, narrow, scalar)")
	workers   = flag.Int("workers", runtime.NumCPU(), "Worker goroutines per stage")
	logLevel  = flag.String("log-level", "", "Log level (overrides BODKIN_LOG_LEVEL)")
	metrics   = flag.String("metrics", "", "Metrics listen address (overrides BODKIN_METRICS_ADDR)")
	seed      = flag.Int64("seed", 1, "Random seed for weights and input")
)

func main() {
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *tierName != "" {
		cfg.ForceTier = *tierName
	}
	if *metrics != "" {
		cfg.MetricsAddr = *metrics
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	feats := cpufeatures.Get()
	tier := cfg.Tier()

	fmt.Printf("=== Longbow-Bodkin Attention Benchmark ===\n")
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("NumCPU: %d\n", runtime.NumCPU())
	fmt.Printf("CPU Features: %s\n", feats.Name)
	fmt.Printf("Kernel Tier: %s\n", tier)
	fmt.Printf("Shape: seq=%d heads=%d head_dim=%d hidden=%d causal=%v\n",
		*seqLength, *numHeads, *headDim, *numHeads**headDim, *causal)
	fmt.Println()

	alloc := mem.NewTracking(cfg.MemoryLimit)
	p := attention.Params{
		SeqLength:  *seqLength,
		NumHeads:   *numHeads,
		HeadDim:    *headDim,
		HiddenDim:  *numHeads * *headDim,
		CausalMask: *causal,
	}

	sa, err := attention.New(p,
		attention.WithAllocator(alloc),
		attention.WithTier(tier),
		attention.WithWorkers(*workers))
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	defer sa.Close()

	var hm *monitoring.HealthMonitor
	if cfg.MetricsAddr != "" {
		hm = monitoring.NewHealthMonitor()
		hm.SetEngine(&monitoring.EngineView{
			Tier:      sa.Tier(),
			HasWeight: true,
			SeqLength: p.SeqLength,
			NumHeads:  p.NumHeads,
			HeadDim:   p.HeadDim,
			HiddenDim: p.HiddenDim,
		})
		go func() {
			if err := hm.Start(cfg.MetricsAddr); err != nil {
				logger.Log.Component("main").Error("metrics server", "error", err)
			}
		}()
	}

	rng := rand.New(rand.NewSource(*seed))
	ws, release, err := randomWeights(alloc, rng, p.HiddenDim)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quantize weights: %v\n", err)
		os.Exit(1)
	}
	defer release()

	start := time.Now()
	if err := sa.SetWeights(ws); err != nil {
		fmt.Fprintf(os.Stderr, "set weights: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Weights set in %v (%d live bytes)\n", time.Since(start), alloc.LiveBytes())

	input := make([]float32, p.SeqLength*p.HiddenDim)
	for i := range input {
		input[i] = rng.Float32()*2 - 1
	}
	output := make([]float32, len(input))

	// Warm-up pass before timing.
	if err := sa.Forward(input, output); err != nil {
		fmt.Fprintf(os.Stderr, "forward: %v\n", err)
		os.Exit(1)
	}

	start = time.Now()
	for i := 0; i < *iters; i++ {
		passStart := time.Now()
		if err := sa.Forward(input, output); err != nil {
			fmt.Fprintf(os.Stderr, "forward %d: %v\n", i, err)
			os.Exit(1)
		}
		if hm != nil {
			hm.RecordForward(time.Since(passStart))
		}
	}
	elapsed := time.Since(start)

	perPass := elapsed / time.Duration(*iters)
	tokensPerSec := float64(*iters**seqLength) / elapsed.Seconds()
	fmt.Println()
	fmt.Printf("Forward passes: %d in %v (%v/pass, %.1f positions/s)\n",
		*iters, elapsed, perPass, tokensPerSec)
	fmt.Printf("Output sample: [%.4f %.4f %.4f %.4f]\n",
		output[0], output[1], output[2], output[3])
}

func randomWeights(alloc mem.Allocator, rng *rand.Rand, hiddenDim int) (attention.WeightSet, func(), error) {
	mats := make([]*quant.Matrix4Bit, 0, 4)
	release := func() {
		for _, m := range mats {
			m.Release(alloc)
		}
	}
	values := make([]float32, hiddenDim*hiddenDim)
	for i := 0; i < 4; i++ {
		for j := range values {
			values[j] = rng.Float32()*2 - 1
		}
		m, err := quant.Quantize(alloc, values, hiddenDim, hiddenDim)
		if err != nil {
			release()
			return attention.WeightSet{}, nil, err
		}
		mats = append(mats, m)
	}
	ws := attention.WeightSet{Query: mats[0], Key: mats[1], Value: mats[2], Output: mats[3]}
	return ws, release, nil
}
