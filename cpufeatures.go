package gocam

import (
	"sync"

	"golang.org/x/sys/cpu"
)

// simdLevel enumerates the pixel-conversion acceleration tiers the engine
// can dispatch to. Detection runs once and is cached, per §4.5 / §9 ("do
// runtime detection once, cache a function-pointer table; never conditional
// per-call").
type simdLevel int

const (
	simdScalar simdLevel = iota
	simdAccelerated
)

var (
	simdOnce   sync.Once
	simdCached simdLevel
)

// detectSIMD probes the CPU once for AVX2 plus OS YMM-state support (the two
// conditions the teacher's native backends would need on amd64; ARM/other
// targets always fall back to scalar here). golang.org/x/sys/cpu already
// accounts for the OS-support bit on the platforms it covers, so checking
// cpu.X86.HasAVX2 is sufficient -- unlike raw CPUID, it already folds in the
// XGETBV-based OS check.
func detectSIMD() simdLevel {
	simdOnce.Do(func() {
		if cpu.X86.HasAVX2 {
			simdCached = simdAccelerated
		} else {
			simdCached = simdScalar
		}
	})
	return simdCached
}

// forceScalar, set through SetForceScalarConversion, disables the
// accelerated dispatch path regardless of detected CPU features.
var forceScalar bool

func SetForceScalarConversion(v bool) { forceScalar = v }

func activeSIMDLevel() simdLevel {
	if forceScalar {
		return simdScalar
	}
	return detectSIMD()
}
