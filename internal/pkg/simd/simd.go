// Package simd provides accelerated byte scanning primitives for the
// literal prefilter. The scalar implementations are always correct on
// their own; wider paths are selected from detected CPU capabilities.
package simd

import (
	"strings"

	"golang.org/x/sys/cpu"
)

// CPUFeatures holds detected CPU capabilities.
type CPUFeatures struct {
	HasAVX2   bool
	HasSSE42  bool
	HasSSE2   bool
	HasPOPCNT bool
}

// Summary returns the detected capabilities as a short diagnostic
// string, for example "sse2+sse4.2+avx2+popcnt". Returns "generic" on
// CPUs with none of the probed features.
func (f CPUFeatures) Summary() string {
	parts := make([]string, 0, 4)
	if f.HasSSE2 {
		parts = append(parts, "sse2")
	}
	if f.HasSSE42 {
		parts = append(parts, "sse4.2")
	}
	if f.HasAVX2 {
		parts = append(parts, "avx2")
	}
	if f.HasPOPCNT {
		parts = append(parts, "popcnt")
	}
	if len(parts) == 0 {
		return "generic"
	}
	return strings.Join(parts, "+")
}

var cpuFeatures CPUFeatures

func init() {
	// Detect CPU features at startup
	cpuFeatures = CPUFeatures{
		HasAVX2:   cpu.X86.HasAVX2,
		HasSSE42:  cpu.X86.HasSSE42,
		HasSSE2:   cpu.X86.HasSSE2,
		HasPOPCNT: cpu.X86.HasPOPCNT,
	}

	// The unrolled scan relies on cheap unaligned eight-byte access.
	if cpuFeatures.HasSSE2 {
		skipAccepted = skipAcceptedUnrolled
	}
}

// GetCPUFeatures returns detected CPU features.
func GetCPUFeatures() CPUFeatures {
	return cpuFeatures
}
