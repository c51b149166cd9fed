package ripple

import "sync/atomic"

// Accumulator tracks whether any local vertex made progress in the current
// round. It is per-run state owned by the worker, reset at round start; the
// coord performs the distributed reduction by summing the per-host counts
// carried on RelaxResult replies.
type Accumulator struct {
	count uint64
}

func (a *Accumulator) Reset() {
	atomic.StoreUint64(&a.count, 0)
}

func (a *Accumulator) Add(delta uint64) {
	atomic.AddUint64(&a.count, delta)
}

func (a *Accumulator) Local() uint64 {
	return atomic.LoadUint64(&a.count)
}

// ReduceProgress is the coord-side reduction: the global verdict is "keep
// going" while the sum is nonzero.
func ReduceProgress(counts ...uint64) uint64 {
	var total uint64
	for _, c := range counts {
		total += c
	}
	return total
}
