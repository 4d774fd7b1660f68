package kernel

import (
	"log/slog"
	"os"
	"sync"

	"github.com/viterin/vek/vek32"
)

// isaTier names the selected dot-product implementation. vek internally
// auto-detects AVX-512/AVX2/SSE/NEON at its own init time (see
// viterin/vek), so this module exposes two observable tiers rather than
// one function pointer per ISA generation: "vector" (delegates to vek,
// whatever native width it picked) and "scalar" (the always-linked
// reference loop used for testing and as the ZVEC_FORCE_ISA=scalar
// override).
type isaTier int

const (
	tierVector isaTier = iota
	tierScalar
)

var (
	dispatchOnce sync.Once
	selectedTier isaTier
	selectedTierOK string
)

// ZVEC_FORCE_ISA overrides automatic ISA selection. "scalar" forces the
// pure-Go reference loop; any of "sse", "avx2", "avx512", "neon" forces
// the vek-backed vector tier (vek picks the actual instruction set at
// its own init time; this module does not re-implement per-generation
// kernels, matching 's "select function pointers once at startup from
// CPU-feature probes" while keeping a single vector tier in pure Go).
const forceISAEnv = "ZVEC_FORCE_ISA"

func selectTier() {
	dispatchOnce.Do(func() {
		switch os.Getenv(forceISAEnv) {
		case "scalar":
			selectedTier = tierScalar
			selectedTierOK = "scalar (forced)"
		case "sse", "avx2", "avx512", "neon":
			selectedTier = tierVector
			selectedTierOK = "vector (forced via " + os.Getenv(forceISAEnv) + ")"
		default:
			selectedTier = tierVector
			selectedTierOK = "vector (auto)"
		}
		slog.Debug("kernel: ISA tier selected", "tier", selectedTierOK)
	})
}

// dispatchDot routes to the vek-backed or scalar dot product depending
// on the selected tier.
func dispatchDot(a, b []float32) float32 {
	selectTier()
	if selectedTier == tierScalar || len(a) != len(b) {
		return scalarDot(a, b)
	}
	return vek32.Dot(a, b)
}

func scalarDot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SelectedTier reports the human-readable ISA tier chosen at first use,
// for diagnostics and tests.
func SelectedTier() string {
	selectTier()
	return selectedTierOK
}
