package ripple

import "testing"

func TestCycleConverges(t *testing.T) {
	// 0 -> 1 -> 2 -> 3 -> 0 across two hosts.
	edges := map[uint64][]uint64{0: {1}, 1: {2}, 2: {3}, 3: {0}}
	hosts, _ := newTestCluster(t, 2, edges, PersonalityCPU)

	driver := &Driver{Hosts: hosts, MaxIterations: 100}
	rounds, converged, err := driver.RunOnce("test", 0)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !converged {
		t.Fatal("cycle did not converge")
	}
	// Distance 3 is final after three value-carrying rounds; one more round
	// observes no progress.
	if rounds > 4 {
		t.Errorf("expected convergence within 4 conditional rounds, took %v", rounds)
	}

	distances, err := driver.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	want := map[uint64]uint64{0: 0, 1: 1, 2: 2, 3: 3}
	for gid, w := range want {
		if got := distances[gid]; got != w {
			t.Errorf("vertex %v: expected %v, got %v", gid, w, got)
		}
	}
}

func TestDisconnectedStaysUnreached(t *testing.T) {
	edges := map[uint64][]uint64{
		0: {1}, 1: {},
		10: {11}, 11: {},
	}
	hosts, _ := newTestCluster(t, 2, edges, PersonalityCPU)

	driver := &Driver{Hosts: hosts, MaxIterations: 100}
	if _, _, err := driver.RunOnce("test", 0); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	distances, err := driver.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, gid := range []uint64{10, 11} {
		if distances[gid] != Infinity {
			t.Errorf("vertex %v in disconnected component: expected Infinity, got %v",
				gid, distances[gid])
		}
	}
	if distances[1] != 1 {
		t.Errorf("vertex 1: expected 1, got %v", distances[1])
	}
}

func TestMatchesSerialReference(t *testing.T) {
	// Layered graph with cross links and a few back edges, spread over three
	// hosts by the ownership hash.
	edges := make(map[uint64][]uint64)
	for i := uint64(0); i < 30; i++ {
		edges[i] = nil
	}
	for i := uint64(0); i < 29; i++ {
		edges[i] = append(edges[i], i+1)
	}
	edges[0] = append(edges[0], 7, 15)
	edges[3] = append(edges[3], 20)
	edges[12] = append(edges[12], 4)
	edges[25] = append(edges[25], 1)
	edges[18] = append(edges[18], 29)

	for _, source := range []uint64{0, 12} {
		hosts, _ := newTestCluster(t, 3, edges, PersonalityCPU)
		driver := &Driver{Hosts: hosts, MaxIterations: 1000}
		_, converged, err := driver.RunOnce("test", source)
		if err != nil {
			t.Fatalf("source %v: RunOnce: %v", source, err)
		}
		if !converged {
			t.Fatalf("source %v: did not converge", source)
		}

		got, err := driver.Gather()
		if err != nil {
			t.Fatalf("source %v: Gather: %v", source, err)
		}
		want := serialBFS(edges, source)
		if len(got) != len(want) {
			t.Fatalf("source %v: gathered %v vertices, reference has %v",
				source, len(got), len(want))
		}
		for gid, w := range want {
			if got[gid] != w {
				t.Errorf("source %v, vertex %v: expected %v, got %v",
					source, gid, w, got[gid])
			}
		}
	}
}

func TestDeviceClusterMatchesCPU(t *testing.T) {
	edges := map[uint64][]uint64{
		0: {1, 2}, 1: {3}, 2: {3}, 3: {4}, 4: {0}, 5: {0},
	}

	run := func(personality byte) map[uint64]uint64 {
		hosts, _ := newTestCluster(t, 2, edges, personality)
		driver := &Driver{Hosts: hosts, MaxIterations: 100}
		if _, _, err := driver.RunOnce("test", 0); err != nil {
			t.Fatalf("RunOnce (%v): %v", string(personality), err)
		}
		distances, err := driver.Gather()
		if err != nil {
			t.Fatalf("Gather (%v): %v", string(personality), err)
		}
		return distances
	}

	cpu := run(PersonalityCPU)
	dev := run(PersonalityDevice)
	for gid, want := range cpu {
		if dev[gid] != want {
			t.Errorf("vertex %v: cpu %v, device %v", gid, want, dev[gid])
		}
	}
}

func TestRerunsAreIndependent(t *testing.T) {
	edges := map[uint64][]uint64{0: {1}, 1: {2}, 2: {3}, 3: {}}
	hosts, _ := newTestCluster(t, 2, edges, PersonalityCPU)
	driver := &Driver{Hosts: hosts, MaxIterations: 100}

	if _, _, err := driver.RunOnce("run-1", 0); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, _, err := driver.RunOnce("run-2", 2); err != nil {
		t.Fatalf("second run: %v", err)
	}

	distances, err := driver.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	// Second run must not see residue of the first.
	want := map[uint64]uint64{0: Infinity, 1: Infinity, 2: 0, 3: 1}
	for gid, w := range want {
		if distances[gid] != w {
			t.Errorf("vertex %v: expected %v, got %v", gid, w, distances[gid])
		}
	}
}

func TestIterationCapStopsRun(t *testing.T) {
	edges := make(map[uint64][]uint64)
	for i := uint64(0); i < 10; i++ {
		edges[i] = []uint64{i + 1}
	}
	edges[10] = []uint64{}

	hosts, _ := newTestCluster(t, 2, edges, PersonalityCPU)
	driver := &Driver{Hosts: hosts, MaxIterations: 3}
	rounds, converged, err := driver.RunOnce("test", 0)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if converged {
		t.Error("run on a 10-chain reported convergence after 3 rounds")
	}
	if rounds != 3 {
		t.Errorf("expected stop at round 3, got %v", rounds)
	}
}

func TestConvergedStateIsStable(t *testing.T) {
	edges := map[uint64][]uint64{0: {1}, 1: {2}, 2: {0}}
	hosts, _ := newTestCluster(t, 2, edges, PersonalityCPU)
	driver := &Driver{Hosts: hosts, MaxIterations: 100}

	if _, _, err := driver.RunOnce("test", 0); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	before, err := driver.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	// Extra rounds after the fixed point must not move any value.
	if _, err := driver.relax(99, false); err != nil {
		t.Fatalf("extra relax: %v", err)
	}
	if err := driver.phase("Worker.PushPhase", 99); err != nil {
		t.Fatalf("extra push: %v", err)
	}
	if err := driver.phase("Worker.PullPhase", 99); err != nil {
		t.Fatalf("extra pull: %v", err)
	}

	after, err := driver.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for gid, w := range before {
		if after[gid] != w {
			t.Errorf("vertex %v moved after convergence: %v -> %v", gid, w, after[gid])
		}
	}
}

func TestDistancesNeverIncrease(t *testing.T) {
	edges := chainAndBranches()
	hosts, _ := newTestCluster(t, 2, edges, PersonalityCPU)

	var driver *Driver
	var prev map[uint64]uint64
	driver = &Driver{
		Hosts:         hosts,
		MaxIterations: 100,
		OnRound: func(round, progress uint64) {
			cur, err := driver.Gather()
			if err != nil {
				t.Fatalf("round %v: Gather: %v", round, err)
			}
			for gid, value := range cur {
				if prev != nil && value > prev[gid] {
					t.Errorf("round %v: vertex %v rose from %v to %v",
						round, gid, prev[gid], value)
				}
			}
			prev = cur
		},
	}

	if _, converged, err := driver.RunOnce("test", 0); err != nil || !converged {
		t.Fatalf("RunOnce: converged=%v err=%v", converged, err)
	}
}

func TestResumeFromCheckpoint(t *testing.T) {
	edges := make(map[uint64][]uint64)
	for i := uint64(0); i < 12; i++ {
		edges[i] = []uint64{i + 1}
	}
	edges[12] = []uint64{}

	hosts, workers := newTestCluster(t, 2, edges, PersonalityCPU)
	for _, w := range workers {
		w.checkpointEvery = 2
		w.ckpt = openTestStore(t)
	}

	driver := &Driver{Hosts: hosts, MaxIterations: 100}
	if _, converged, err := driver.RunOnce("run", 0); err != nil || !converged {
		t.Fatalf("RunOnce: converged=%v err=%v", converged, err)
	}
	want, err := driver.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	// Simulate a restart: the field state is gone, the checkpoints are not.
	for _, w := range workers {
		w.backend.InitRun(1 << 40)
	}

	rounds, converged, err := driver.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !converged {
		t.Fatal("resumed run did not converge")
	}
	if rounds <= 2 {
		t.Errorf("resume should continue past the restored round, stopped at %v", rounds)
	}

	got, err := driver.Gather()
	if err != nil {
		t.Fatalf("Gather after resume: %v", err)
	}
	for gid, w := range want {
		if got[gid] != w {
			t.Errorf("vertex %v: expected %v after resume, got %v", gid, w, got[gid])
		}
	}
}

func TestResumeWithoutCheckpointFails(t *testing.T) {
	edges := map[uint64][]uint64{0: {1}, 1: {}}
	hosts, _ := newTestCluster(t, 2, edges, PersonalityCPU)
	driver := &Driver{Hosts: hosts, MaxIterations: 100}
	if _, _, err := driver.Resume(); err == nil {
		t.Error("expected error resuming without checkpoint stores")
	}
}

func TestProgressObserverSeesRounds(t *testing.T) {
	edges := map[uint64][]uint64{0: {1}, 1: {2}, 2: {3}, 3: {}}
	hosts, _ := newTestCluster(t, 2, edges, PersonalityCPU)

	var observed []uint64
	driver := &Driver{
		Hosts:         hosts,
		MaxIterations: 100,
		OnRound: func(round, progress uint64) {
			observed = append(observed, progress)
		},
	}
	rounds, converged, err := driver.RunOnce("test", 0)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !converged {
		t.Fatal("chain did not converge")
	}
	if uint64(len(observed)) != rounds {
		t.Fatalf("observer saw %v rounds, driver reported %v", len(observed), rounds)
	}
	if observed[len(observed)-1] != 0 {
		t.Errorf("final round should observe zero progress, got %v",
			observed[len(observed)-1])
	}
}
