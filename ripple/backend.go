package ripple

import (
	"fmt"
	"sync/atomic"
)

// Backend personalities, one byte per host in the coord's personality string.
const (
	PersonalityCPU    = 'c'
	PersonalityDevice = 'd'
)

// FieldSync is the synchronization descriptor for one vertex field: how to
// read it, merge a remote contribution into it, reset it to the reduction
// identity, and overwrite it with an authoritative value. Push uses
// Extract/Merge/ResetIdentity, pull uses Extract/Overwrite. The protocol
// never learns which backend is behind the descriptor.
type FieldSync interface {
	Extract(local uint32) uint64
	Merge(local uint32, value uint64)
	Overwrite(local uint32, value uint64)
	ResetIdentity(local uint32)
	Identity() uint64
}

// Backend executes the relaxation sweeps and owns the vertex field storage.
// Every backend must reach the same fixed point for the same partition and
// source; intermediate rounds may differ.
type Backend interface {
	FieldSync

	Setup(p *Partition) error

	// InitRun resets per-run state: source gets 0, everything else the
	// Infinity sentinel, previous mirrors current.
	InitRun(sourceVertex uint64)

	// FirstSweep relaxes every owned vertex unconditionally.
	FirstSweep()

	// Sweep relaxes owned vertices whose value dropped since their previous
	// snapshot, counting each in the accumulator.
	Sweep(acc *Accumulator)

	// Distances snapshots owned global id -> current value.
	Distances() map[uint64]uint64

	Name() string
}

// NewBackend maps a personality byte to a backend instance.
func NewBackend(personality byte) (Backend, error) {
	switch personality {
	case PersonalityCPU:
		return NewCPUBackend(), nil
	case PersonalityDevice:
		return NewDeviceBackend()
	default:
		return nil, fmt.Errorf("unknown backend personality %q", string(personality))
	}
}

// ValidatePersonalities rejects a personality string that does not line up
// with the worker count, before any worker is contacted.
func ValidatePersonalities(pset string, numWorkers int) error {
	if len(pset) != numWorkers {
		return fmt.Errorf(
			"personality string %q has %v entries for %v workers",
			pset, len(pset), numWorkers,
		)
	}
	for i := 0; i < len(pset); i++ {
		if pset[i] != PersonalityCPU && pset[i] != PersonalityDevice {
			return fmt.Errorf("unknown backend personality %q", string(pset[i]))
		}
	}
	return nil
}

// atomicMin lowers *addr to value with a compare-and-swap loop. Destinations
// are hit concurrently from many sweep goroutines and from push deliveries,
// so the merge cannot be a read-modify-write under a lock.
func atomicMin(addr *uint64, value uint64) bool {
	for {
		cur := atomic.LoadUint64(addr)
		if value >= cur {
			return false
		}
		if atomic.CompareAndSwapUint64(addr, cur, value) {
			return true
		}
	}
}
