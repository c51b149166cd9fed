package ripple

import (
	"net"
	"testing"
)

func TestJoinWorkerBoundsClusterSize(t *testing.T) {
	// Joins dial the worker back, so give them a real listener to hit.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	addr := listener.Addr().String()

	coord := NewCoord(CoordConfig{NumWorkers: 1, Personalities: "c"})

	var reply WorkerNode
	if err := coord.JoinWorker(WorkerNode{WorkerId: 1, WorkerAddr: addr}, &reply); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := coord.JoinWorker(WorkerNode{WorkerId: 1, WorkerAddr: addr}, &reply); err == nil {
		t.Error("expected rejection of duplicate worker id")
	}
	if err := coord.JoinWorker(WorkerNode{WorkerId: 2, WorkerAddr: addr}, &reply); err == nil {
		t.Error("expected rejection of a join beyond the configured worker count")
	}
	if got := len(coord.workers); got != 1 {
		t.Errorf("expected 1 joined worker, got %v", got)
	}
}

func TestJoinWorkerRejectsUnreachable(t *testing.T) {
	coord := NewCoord(CoordConfig{NumWorkers: 1, Personalities: "c"})
	var reply WorkerNode
	err := coord.JoinWorker(WorkerNode{WorkerId: 1, WorkerAddr: "127.0.0.1:1"}, &reply)
	if err == nil {
		t.Error("expected rejection of a worker the coord cannot dial back")
	}
}
