package ripple

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/klauspost/cpuid/v2"
)

// CPUBackend keeps the vertex field in host memory and shards sweeps across
// worker goroutines. When the CPU reports AVX2 the sweep uses a four-wide
// unrolled kernel over the owned range; the scalar kernel is the fallback and
// the reference. Both kernels perform the identical per-vertex update.
type CPUBackend struct {
	p       *Partition
	current []uint64 // written only via atomic ops
	prev    []uint64 // touched only by the goroutine sweeping the vertex
	workers int
	wide    bool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{
		workers: runtime.NumCPU(),
		wide:    cpuid.CPU.Supports(cpuid.AVX2),
	}
}

func (b *CPUBackend) Name() string {
	if b.wide {
		return "cpu/vector"
	}
	return "cpu/scalar"
}

func (b *CPUBackend) Setup(p *Partition) error {
	b.p = p
	b.current = make([]uint64, p.NumLocal())
	b.prev = make([]uint64, p.NumLocal())
	return nil
}

func (b *CPUBackend) InitRun(sourceVertex uint64) {
	for local := range b.current {
		value := Infinity
		if b.p.GlobalID(uint32(local)) == sourceVertex {
			value = 0
		}
		b.current[local] = value
		b.prev[local] = value
	}
}

func (b *CPUBackend) Extract(local uint32) uint64 {
	return atomic.LoadUint64(&b.current[local])
}

func (b *CPUBackend) Merge(local uint32, value uint64) {
	atomicMin(&b.current[local], value)
}

func (b *CPUBackend) Overwrite(local uint32, value uint64) {
	atomic.StoreUint64(&b.current[local], value)
}

func (b *CPUBackend) ResetIdentity(local uint32) {
	atomic.StoreUint64(&b.current[local], Infinity)
}

func (b *CPUBackend) Identity() uint64 {
	return Infinity
}

func (b *CPUBackend) FirstSweep() {
	b.shard(func(start, end uint32) {
		for local := start; local < end; local++ {
			b.relaxUnconditional(local)
		}
	})
}

func (b *CPUBackend) Sweep(acc *Accumulator) {
	if b.wide {
		b.shard(func(start, end uint32) {
			var progress uint64
			local := start
			for ; local+4 <= end; local += 4 {
				progress += b.relaxIfChanged(local)
				progress += b.relaxIfChanged(local + 1)
				progress += b.relaxIfChanged(local + 2)
				progress += b.relaxIfChanged(local + 3)
			}
			for ; local < end; local++ {
				progress += b.relaxIfChanged(local)
			}
			acc.Add(progress)
		})
		return
	}
	b.shard(func(start, end uint32) {
		var progress uint64
		for local := start; local < end; local++ {
			progress += b.relaxIfChanged(local)
		}
		acc.Add(progress)
	})
}

func (b *CPUBackend) relaxUnconditional(local uint32) {
	cur := atomic.LoadUint64(&b.current[local])
	b.prev[local] = cur
	b.relaxNeighbors(local, cur)
}

func (b *CPUBackend) relaxIfChanged(local uint32) uint64 {
	cur := atomic.LoadUint64(&b.current[local])
	if b.prev[local] <= cur {
		return 0
	}
	b.prev[local] = cur
	b.relaxNeighbors(local, cur)
	return 1
}

func (b *CPUBackend) relaxNeighbors(local uint32, cur uint64) {
	candidate := cur + 1
	for _, dst := range b.p.Neighbors(local) {
		atomicMin(&b.current[dst], candidate)
	}
}

// shard splits the owned range across sweep goroutines. Vertices need no
// ordering between each other; destination updates go through atomicMin.
func (b *CPUBackend) shard(sweep func(start, end uint32)) {
	owned := uint32(b.p.NumOwned)
	if owned == 0 {
		return
	}

	workers := uint32(b.workers)
	if workers > owned {
		workers = owned
	}
	batch := owned / workers

	var wg sync.WaitGroup
	wg.Add(int(workers))
	for t := uint32(0); t < workers; t++ {
		go func(tidx uint32) {
			defer wg.Done()
			start := tidx * batch
			end := start + batch
			if tidx == workers-1 {
				end = owned
			}
			sweep(start, end)
		}(t)
	}
	wg.Wait()
}

func (b *CPUBackend) Distances() map[uint64]uint64 {
	distances := make(map[uint64]uint64, b.p.NumOwned)
	for local := 0; local < b.p.NumOwned; local++ {
		distances[b.p.GlobalID(uint32(local))] = atomic.LoadUint64(&b.current[local])
	}
	return distances
}
