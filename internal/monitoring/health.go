// Package monitoring serves the health, status, and Prometheus metrics
// endpoints for long-running processes hosting attention instances.
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-bodkin/internal/cpufeatures"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/mem"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// HealthStatus is the JSON body of the /status endpoint.
type HealthStatus struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Uptime      time.Duration   `json:"uptime"`
	System      SystemInfo      `json:"system"`
	Engine      EngineInfo      `json:"engine"`
	Performance PerformanceInfo `json:"performance"`
}

// SystemInfo contains process-level information.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// EngineInfo describes the registered attention instance, if any.
type EngineInfo struct {
	WeightsLoaded bool   `json:"weights_loaded"`
	KernelTier    string `json:"kernel_tier"`
	CPUFeatures   string `json:"cpu_features"`
	SeqLength     int    `json:"seq_length"`
	NumHeads      int    `json:"num_heads"`
	HeadDim       int    `json:"head_dim"`
	HiddenDim     int    `json:"hidden_dim"`
	LiveBytes     int64  `json:"live_bytes"`
}

// PerformanceInfo summarizes recent Forward calls.
type PerformanceInfo struct {
	ForwardTotal   int64     `json:"forward_total"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	P95LatencyMs   float64   `json:"p95_latency_ms"`
	LastForward    time.Time `json:"last_forward"`
	WindowForwards int       `json:"window_forwards"`
}

// EngineView is what the monitor needs from a hosted instance. The
// attention package satisfies it without importing this package.
type EngineView struct {
	Tier      cpufeatures.Tier
	HasWeight bool
	SeqLength int
	NumHeads  int
	HeadDim   int
	HiddenDim int
}

// HealthMonitor serves health and status over HTTP and keeps a small
// sliding window of Forward latencies for the status report.
type HealthMonitor struct {
	startTime time.Time
	server    *http.Server

	mu          sync.RWMutex
	engine      *EngineView
	lastForward time.Time
	latencies   []time.Duration
}

const latencyWindow = 1000

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{startTime: time.Now()}
}

// SetEngine registers the instance reported by /status. Pass nil to
// clear (for example after Close).
func (hm *HealthMonitor) SetEngine(e *EngineView) {
	hm.mu.Lock()
	hm.engine = e
	hm.mu.Unlock()
}

// RecordForward feeds one Forward latency into the sliding window.
// Prometheus counters are updated by the attention package itself; this
// only drives the /status summary.
func (hm *HealthMonitor) RecordForward(d time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.lastForward = time.Now()
	hm.latencies = append(hm.latencies, d)
	if len(hm.latencies) > latencyWindow {
		hm.latencies = hm.latencies[1:]
	}
}

// Handler returns the monitor's HTTP mux, usable standalone in tests
// or mounted by Start.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", hm.handleStatus)
	return mux
}

// Start serves the endpoints on addr and blocks until the server
// stops.
func (hm *HealthMonitor) Start(addr string) error {
	hm.server = &http.Server{
		Addr:         addr,
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Log.Component("monitoring").Info("serving", "addr", addr)
	return hm.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (hm *HealthMonitor) Stop(ctx context.Context) error {
	if hm.server != nil {
		return hm.server.Shutdown(ctx)
	}
	return nil
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hm.getHealthStatus())
}

func (hm *HealthMonitor) getHealthStatus() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	return HealthStatus{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Uptime:      time.Since(hm.startTime),
		System:      systemInfo(),
		Engine:      hm.engineInfo(),
		Performance: hm.performanceInfo(),
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}

func (hm *HealthMonitor) engineInfo() EngineInfo {
	info := EngineInfo{
		CPUFeatures: cpufeatures.Get().Name,
		LiveBytes:   mem.Default().LiveBytes(),
	}
	if hm.engine != nil {
		e := hm.engine
		info.WeightsLoaded = e.HasWeight
		info.KernelTier = e.Tier.String()
		info.SeqLength = e.SeqLength
		info.NumHeads = e.NumHeads
		info.HeadDim = e.HeadDim
		info.HiddenDim = e.HiddenDim
	}
	return info
}

func (hm *HealthMonitor) performanceInfo() PerformanceInfo {
	info := PerformanceInfo{
		ForwardTotal:   metrics.TotalForwards(),
		LastForward:    hm.lastForward,
		WindowForwards: len(hm.latencies),
	}
	if len(hm.latencies) == 0 {
		return info
	}

	sorted := make([]time.Duration, len(hm.latencies))
	copy(sorted, hm.latencies)
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	p95 := int(float64(len(sorted)) * 0.95)
	if p95 >= len(sorted) {
		p95 = len(sorted) - 1
	}
	info.AvgLatencyMs = float64(total.Nanoseconds()) / float64(len(sorted)) / 1e6
	info.P95LatencyMs = float64(sorted[p95].Nanoseconds()) / 1e6
	return info
}
