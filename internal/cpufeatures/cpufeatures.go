// Package cpufeatures exposes a process-wide, lazily-initialized
// descriptor of which vector kernel tiers are usable on this machine.
// The descriptor is immutable after first use and safe to share across
// goroutines without synchronization. Per-core heterogeneity is not
// detected; the machine is assumed uniform.
package cpufeatures

import (
	"os"
	"sync"
)

// NoSimdEnvVar disables vector tiers entirely when set to a non-empty
// value, forcing the scalar reference kernels everywhere.
const NoSimdEnvVar = "BODKIN_NO_SIMD"

// Tier identifies one of the interchangeable kernel implementations,
// ordered from least to most capable.
type Tier int

const (
	TierScalar Tier = iota
	TierNarrow      // 4-lane vector kernels
	TierWide        // 8-lane vector kernels
)

func (t Tier) String() string {
	switch t {
	case TierWide:
		return "wide"
	case TierNarrow:
		return "narrow"
	default:
		return "scalar"
	}
}

// ParseTier maps a tier name to its Tier. Unknown names report ok=false.
func ParseTier(name string) (Tier, bool) {
	switch name {
	case "wide":
		return TierWide, true
	case "narrow":
		return TierNarrow, true
	case "scalar":
		return TierScalar, true
	}
	return TierScalar, false
}

// Features describes the usable kernel tiers. Scalar is always true;
// Narrow and Wide depend on the CPU.
type Features struct {
	Wide   bool
	Narrow bool
	Scalar bool
	Name   string // instruction set backing the best tier
}

// Best returns the most capable usable tier.
func (f Features) Best() Tier {
	switch {
	case f.Wide:
		return TierWide
	case f.Narrow:
		return TierNarrow
	default:
		return TierScalar
	}
}

// Has reports whether the given tier is usable.
func (f Features) Has(t Tier) bool {
	switch t {
	case TierWide:
		return f.Wide
	case TierNarrow:
		return f.Narrow
	default:
		return true
	}
}

var (
	once     sync.Once
	detected Features
)

// Get returns the process-wide feature descriptor, detecting it on
// first call.
func Get() Features {
	once.Do(func() { detected = resolve() })
	return detected
}

func resolve() Features {
	if os.Getenv(NoSimdEnvVar) != "" {
		return Features{Scalar: true, Name: "scalar"}
	}
	f := detect()
	f.Scalar = true
	return f
}
