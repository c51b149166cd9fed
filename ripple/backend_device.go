package ripple

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// DeviceBackend models accelerator offload: the vertex field lives in a
// device arena and the host only touches it through the field-ops contract
// and batch staging calls, the way a CUDA-resident field would be reached
// through per-field getters and setters. Kernels are chunked launches over a
// fixed lane count. The point of keeping this path separate is that the
// synchronization protocol must not notice which backend produced a value.
type DeviceBackend struct {
	p   *Partition
	ctx *deviceContext
}

// deviceContext is the device-resident state: field arrays plus the launch
// configuration. Constructed once per worker; construction can fail the same
// way an accelerator context init can.
type deviceContext struct {
	lanes   int
	current []uint64
	prev    []uint64
}

const deviceLanesEnv = "RIPPLE_DEVICE_LANES"

func newDeviceContext() (*deviceContext, error) {
	lanes := runtime.NumCPU()
	if raw := os.Getenv(deviceLanesEnv); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid %v value %q", deviceLanesEnv, raw)
		}
		lanes = parsed
	}
	return &deviceContext{lanes: lanes}, nil
}

// launch runs kernel over [0, n) split across the context's lanes and blocks
// until the grid drains.
func (ctx *deviceContext) launch(n uint32, kernel func(local uint32)) {
	if n == 0 {
		return
	}
	lanes := uint32(ctx.lanes)
	if lanes > n {
		lanes = n
	}
	batch := n / lanes

	var wg sync.WaitGroup
	wg.Add(int(lanes))
	for lane := uint32(0); lane < lanes; lane++ {
		go func(lane uint32) {
			defer wg.Done()
			start := lane * batch
			end := start + batch
			if lane == lanes-1 {
				end = n
			}
			for local := start; local < end; local++ {
				kernel(local)
			}
		}(lane)
	}
	wg.Wait()
}

func NewDeviceBackend() (*DeviceBackend, error) {
	ctx, err := newDeviceContext()
	if err != nil {
		return nil, fmt.Errorf("device context init: %w", err)
	}
	return &DeviceBackend{ctx: ctx}, nil
}

func (b *DeviceBackend) Name() string {
	return fmt.Sprintf("device/%d-lane", b.ctx.lanes)
}

func (b *DeviceBackend) Setup(p *Partition) error {
	b.p = p
	b.ctx.current = make([]uint64, p.NumLocal())
	b.ctx.prev = make([]uint64, p.NumLocal())
	return nil
}

func (b *DeviceBackend) InitRun(sourceVertex uint64) {
	// Init is itself a kernel over all resident vertices, mirrors included.
	b.ctx.launch(uint32(b.p.NumLocal()), func(local uint32) {
		value := Infinity
		if b.p.GlobalID(local) == sourceVertex {
			value = 0
		}
		b.ctx.current[local] = value
		b.ctx.prev[local] = value
	})
}

/* staged single-value access, the device ends of the field-sync contract */

func (b *DeviceBackend) Extract(local uint32) uint64 {
	return atomic.LoadUint64(&b.ctx.current[local])
}

func (b *DeviceBackend) Merge(local uint32, value uint64) {
	atomicMin(&b.ctx.current[local], value)
}

func (b *DeviceBackend) Overwrite(local uint32, value uint64) {
	atomic.StoreUint64(&b.ctx.current[local], value)
}

func (b *DeviceBackend) ResetIdentity(local uint32) {
	atomic.StoreUint64(&b.ctx.current[local], Infinity)
}

func (b *DeviceBackend) Identity() uint64 {
	return Infinity
}

func (b *DeviceBackend) FirstSweep() {
	b.ctx.launch(uint32(b.p.NumOwned), func(local uint32) {
		cur := atomic.LoadUint64(&b.ctx.current[local])
		b.ctx.prev[local] = cur
		b.relaxNeighbors(local, cur)
	})
}

func (b *DeviceBackend) Sweep(acc *Accumulator) {
	var progress uint64
	b.ctx.launch(uint32(b.p.NumOwned), func(local uint32) {
		cur := atomic.LoadUint64(&b.ctx.current[local])
		if b.ctx.prev[local] <= cur {
			return
		}
		b.ctx.prev[local] = cur
		atomic.AddUint64(&progress, 1)
		b.relaxNeighbors(local, cur)
	})
	acc.Add(progress)
}

func (b *DeviceBackend) relaxNeighbors(local uint32, cur uint64) {
	candidate := cur + 1
	for _, dst := range b.p.Neighbors(local) {
		atomicMin(&b.ctx.current[dst], candidate)
	}
}

// Distances stages the owned slice of the device field back to the host.
func (b *DeviceBackend) Distances() map[uint64]uint64 {
	distances := make(map[uint64]uint64, b.p.NumOwned)
	for local := 0; local < b.p.NumOwned; local++ {
		distances[b.p.GlobalID(uint32(local))] = atomic.LoadUint64(&b.ctx.current[local])
	}
	return distances
}
