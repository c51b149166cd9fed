package ripple

import (
	"fmt"
	"testing"

	"ripple/store"
)

// idsOwnedBy scans upward from 0 and returns the first n global ids the hash
// partitioning assigns to host. Lets tests place vertices on specific hosts
// without assuming anything about the hash function.
func idsOwnedBy(host, numHosts, n int) []uint64 {
	ids := make([]uint64, 0, n)
	for id := uint64(0); len(ids) < n; id++ {
		if store.OwnerOf(id, numHosts) == host {
			ids = append(ids, id)
		}
	}
	return ids
}

// buildParts splits an adjacency map into per-host partitions the way the
// workers would load them from a source.
func buildParts(t *testing.T, numHosts int, edges map[uint64][]uint64) []*Partition {
	t.Helper()
	vertices := store.GraphToVertices(edges)

	parts := make([]*Partition, numHosts)
	for host := 0; host < numHosts; host++ {
		var share []store.Vertex
		for _, v := range vertices {
			if store.OwnerOf(v.ID, numHosts) == host {
				share = append(share, v)
			}
		}
		part, err := BuildPartition(host, numHosts, share)
		if err != nil {
			t.Fatalf("BuildPartition host %v: %v", host, err)
		}
		parts[host] = part
	}
	return parts
}

// localPeer dispatches peer calls to an in-process worker, standing in for
// *rpc.Client so protocol tests run without a network.
type localPeer struct {
	w *Worker
}

func (p localPeer) Call(serviceMethod string, args interface{}, reply interface{}) error {
	switch serviceMethod {
	case "Worker.ExchangeMirrors":
		return p.w.ExchangeMirrors(args.(PhaseArgs), reply.(*PhaseResult))
	case "Worker.RegisterMirrors":
		return p.w.RegisterMirrors(args.(MirrorSet), reply.(*Ack))
	case "Worker.StartRun":
		return p.w.StartRun(args.(InitRun), reply.(*Ack))
	case "Worker.RelaxRound":
		return p.w.RelaxRound(args.(RelaxArgs), reply.(*RelaxResult))
	case "Worker.PushPhase":
		return p.w.PushPhase(args.(PhaseArgs), reply.(*PhaseResult))
	case "Worker.DeliverPush":
		return p.w.DeliverPush(args.(PushBatch), reply.(*Ack))
	case "Worker.PullPhase":
		return p.w.PullPhase(args.(PhaseArgs), reply.(*PhaseResult))
	case "Worker.DeliverPull":
		return p.w.DeliverPull(args.(PullBatch), reply.(*Ack))
	case "Worker.FetchDistances":
		return p.w.FetchDistances(args.(FetchArgs), reply.(*FetchResult))
	case "Worker.RestoreCheckpoint":
		return p.w.RestoreCheckpoint(args.(CheckpointMsg), reply.(*CheckpointMsg))
	default:
		return fmt.Errorf("localPeer: unknown method %v", serviceMethod)
	}
}

// newTestCluster wires an in-process cluster: one worker per partition, each
// holding localPeer connections to the others, mirrors exchanged. The returned
// callbook plugs straight into a Driver.
func newTestCluster(t *testing.T, numHosts int, edges map[uint64][]uint64, personality byte) (WorkerCallBook, []*Worker) {
	t.Helper()
	parts := buildParts(t, numHosts, edges)

	workers := make([]*Worker, numHosts)
	for host := 0; host < numHosts; host++ {
		backend, err := NewBackend(personality)
		if err != nil {
			t.Fatalf("NewBackend: %v", err)
		}
		if err := backend.Setup(parts[host]); err != nil {
			t.Fatalf("backend setup host %v: %v", host, err)
		}
		workers[host] = &Worker{
			logicalId: host,
			numHosts:  numHosts,
			part:      parts[host],
			backend:   backend,
			peers:     make(WorkerCallBook),
		}
	}

	hosts := make(WorkerCallBook)
	for host, w := range workers {
		hosts[host] = localPeer{w: w}
		for peer, pw := range workers {
			if peer != host {
				w.peers[peer] = localPeer{w: pw}
			}
		}
	}

	driver := &Driver{Hosts: hosts}
	if err := driver.phase("Worker.ExchangeMirrors", 0); err != nil {
		t.Fatalf("mirror exchange: %v", err)
	}
	return hosts, workers
}

// serialBFS is the reference: unit-weight shortest distances on one machine.
func serialBFS(edges map[uint64][]uint64, source uint64) map[uint64]uint64 {
	dist := make(map[uint64]uint64)
	for src, dsts := range edges {
		dist[src] = Infinity
		for _, dst := range dsts {
			dist[dst] = Infinity
		}
	}
	if _, ok := dist[source]; !ok {
		return dist
	}

	dist[source] = 0
	frontier := []uint64{source}
	for len(frontier) > 0 {
		var next []uint64
		for _, v := range frontier {
			for _, dst := range edges[v] {
				if dist[v]+1 < dist[dst] {
					dist[dst] = dist[v] + 1
					next = append(next, dst)
				}
			}
		}
		frontier = next
	}
	return dist
}
