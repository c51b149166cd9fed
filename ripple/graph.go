package ripple

import (
	"fmt"
	"sort"
	"sync"

	"ripple/store"
)

// Partition is one host's view of the distributed graph: the vertices it
// owns, a mirror record for every remote vertex referenced by a local edge,
// and the edge lists of the owned vertices.
//
// Local index layout: owned vertices occupy [0, NumOwned), mirrors occupy
// [NumOwned, NumLocal). Only the synchronization layer writes mirrors.
type Partition struct {
	HostId   int
	NumHosts int
	NumOwned int

	globalIds     []uint64          // local index -> global id
	globalToLocal map[uint64]uint32 // global id -> local index

	// CSR adjacency over owned vertices; targets are local indices and may
	// point into the mirror section.
	offsets []uint32
	targets []uint32

	// mirrorsByOwner groups this host's mirrors by their owning host.
	mirrorsByOwner map[int][]uint32

	// mirroredBy groups this host's owned vertices by the peers that mirror
	// them. Filled by the mirror-registration collective after every host has
	// loaded its partition.
	mirroredBy   map[int][]uint32
	mirroredByMu sync.Mutex
}

// BuildPartition indexes one host's share of the stored graph. Every owned
// vertex must have a record; a local edge pointing at an owned vertex with no
// record means the store was seeded incompletely.
func BuildPartition(hostId, numHosts int, vertices []store.Vertex) (*Partition, error) {
	if numHosts <= 0 {
		return nil, fmt.Errorf("invalid host count %v", numHosts)
	}

	p := &Partition{
		HostId:         hostId,
		NumHosts:       numHosts,
		globalToLocal:  make(map[uint64]uint32),
		mirrorsByOwner: make(map[int][]uint32),
		mirroredBy:     make(map[int][]uint32),
	}

	// Deterministic local ordering keeps runs and checkpoints reproducible.
	sorted := make([]store.Vertex, len(vertices))
	copy(sorted, vertices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, v := range sorted {
		if owner := store.OwnerOf(v.ID, numHosts); owner != hostId {
			return nil, fmt.Errorf(
				"vertex %v belongs to host %v, not host %v", v.ID, owner, hostId,
			)
		}
		if _, dup := p.globalToLocal[v.ID]; dup {
			return nil, fmt.Errorf("duplicate vertex record %v", v.ID)
		}
		p.globalToLocal[v.ID] = uint32(len(p.globalIds))
		p.globalIds = append(p.globalIds, v.ID)
	}
	p.NumOwned = len(p.globalIds)

	p.offsets = make([]uint32, p.NumOwned+1)
	for i, v := range sorted {
		p.offsets[i] = uint32(len(p.targets))
		for _, dst := range v.Edges {
			local, ok := p.globalToLocal[dst]
			if !ok {
				owner := store.OwnerOf(dst, numHosts)
				if owner == hostId {
					return nil, fmt.Errorf(
						"edge %v->%v references owned vertex with no record", v.ID, dst,
					)
				}
				local = uint32(len(p.globalIds))
				p.globalToLocal[dst] = local
				p.globalIds = append(p.globalIds, dst)
				p.mirrorsByOwner[owner] = append(p.mirrorsByOwner[owner], local)
			}
			p.targets = append(p.targets, local)
		}
	}
	p.offsets[p.NumOwned] = uint32(len(p.targets))

	return p, nil
}

// NumLocal counts owned vertices plus mirrors.
func (p *Partition) NumLocal() int {
	return len(p.globalIds)
}

func (p *Partition) IsOwned(local uint32) bool {
	return int(local) < p.NumOwned
}

func (p *Partition) GlobalID(local uint32) uint64 {
	return p.globalIds[local]
}

func (p *Partition) LocalIndex(globalId uint64) (uint32, bool) {
	local, ok := p.globalToLocal[globalId]
	return local, ok
}

func (p *Partition) OwnerOf(globalId uint64) int {
	return store.OwnerOf(globalId, p.NumHosts)
}

// Neighbors returns the out-edge targets of an owned vertex as local indices.
func (p *Partition) Neighbors(local uint32) []uint32 {
	return p.targets[p.offsets[local]:p.offsets[local+1]]
}

// MirrorPeers lists the hosts this partition mirrors vertices from, sorted.
func (p *Partition) MirrorPeers() []int {
	peers := make([]int, 0, len(p.mirrorsByOwner))
	for peer := range p.mirrorsByOwner {
		peers = append(peers, peer)
	}
	sort.Ints(peers)
	return peers
}

// MirrorsOwnedBy returns the local indices of this host's mirrors of vertices
// owned by peer.
func (p *Partition) MirrorsOwnedBy(peer int) []uint32 {
	return p.mirrorsByOwner[peer]
}

// MirrorGlobalIds returns the global ids this host mirrors from peer, for the
// registration collective.
func (p *Partition) MirrorGlobalIds(peer int) []uint64 {
	locals := p.mirrorsByOwner[peer]
	gids := make([]uint64, len(locals))
	for i, local := range locals {
		gids[i] = p.globalIds[local]
	}
	return gids
}

// RegisterMirrors records that peer mirrors the given owned vertices, so pull
// synchronization knows where to broadcast. Replaces any previous
// registration from the same peer.
func (p *Partition) RegisterMirrors(peer int, globalIds []uint64) error {
	locals := make([]uint32, len(globalIds))
	for i, gid := range globalIds {
		local, ok := p.globalToLocal[gid]
		if !ok || !p.IsOwned(local) {
			return fmt.Errorf(
				"host %v registered mirror of %v which host %v does not own",
				peer, gid, p.HostId,
			)
		}
		locals[i] = local
	}

	p.mirroredByMu.Lock()
	p.mirroredBy[peer] = locals
	p.mirroredByMu.Unlock()
	return nil
}

// MirroredBy returns the owned local indices that peer mirrors.
func (p *Partition) MirroredBy(peer int) []uint32 {
	p.mirroredByMu.Lock()
	defer p.mirroredByMu.Unlock()
	return p.mirroredBy[peer]
}

// PullPeers lists the hosts holding mirrors of this partition's owned
// vertices, sorted.
func (p *Partition) PullPeers() []int {
	p.mirroredByMu.Lock()
	defer p.mirroredByMu.Unlock()
	peers := make([]int, 0, len(p.mirroredBy))
	for peer := range p.mirroredBy {
		peers = append(peers, peer)
	}
	sort.Ints(peers)
	return peers
}
