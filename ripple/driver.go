package ripple

import (
	"fmt"
	"time"

	"ripple/metrics"
)

// Driver owns the round structure of one relaxation query: local sweep on
// every host, push, pull, then the convergence reduction, repeated until no
// host reports progress or the iteration cap is hit. Each fan-out below is a
// barrier: the next phase starts only after every host finished the current
// one, so the engine is bulk-synchronous with no pipelining between rounds.
//
// Hosts are addressed through PeerClient, so the same driver runs against
// live rpc connections and against in-process workers in tests.
type Driver struct {
	Hosts         WorkerCallBook
	MaxIterations uint64

	// OnRound observes each completed conditional round, for status surfaces.
	OnRound func(round uint64, progress uint64)
}

// RunOnce executes one full relaxation from scratch: init, an unconditional
// first round, then conditional rounds until convergence. Returns the number
// of conditional rounds and whether the run converged (as opposed to hitting
// the cap).
func (d *Driver) RunOnce(runId string, sourceVertex uint64) (uint64, bool, error) {
	if err := d.initRun(runId, sourceVertex); err != nil {
		return 0, false, err
	}
	return d.converge(0)
}

// Resume restores every host's latest checkpoint and re-enters the round loop
// from the restored round. The unconditional sweep after the restore rebuilds
// the previous-value snapshots, which checkpoints do not carry.
func (d *Driver) Resume() (uint64, bool, error) {
	restored, err := d.restore()
	if err != nil {
		return 0, false, err
	}
	return d.converge(restored)
}

// converge runs the loop body: one unconditional round, then conditional
// rounds until the progress reduction reaches zero or the cap is hit.
func (d *Driver) converge(startRound uint64) (uint64, bool, error) {
	if _, err := d.relax(startRound, true); err != nil {
		return startRound, false, err
	}
	if err := d.phase("Worker.PushPhase", startRound); err != nil {
		return startRound, false, err
	}
	if err := d.phase("Worker.PullPhase", startRound); err != nil {
		return startRound, false, err
	}

	round := startRound
	for {
		round++
		start := time.Now()

		progress, err := d.relax(round, false)
		if err != nil {
			return round, false, err
		}
		if err := d.phase("Worker.PushPhase", round); err != nil {
			return round, false, err
		}
		if err := d.phase("Worker.PullPhase", round); err != nil {
			return round, false, err
		}

		metrics.RoundsTotal.Inc()
		metrics.ProgressVertices.Add(float64(progress))
		metrics.RoundDuration.Observe(time.Since(start).Seconds())
		if d.OnRound != nil {
			d.OnRound(round, progress)
		}

		if progress == 0 {
			return round, true, nil
		}
		if d.MaxIterations > 0 && round >= d.MaxIterations {
			return round, false, nil
		}
	}
}

func (d *Driver) initRun(runId string, sourceVertex uint64) error {
	args := InitRun{RunId: runId, SourceVertex: sourceVertex}
	return d.fanOut(func(id int, client PeerClient) error {
		var ack Ack
		return client.Call("Worker.StartRun", args, &ack)
	})
}

// restore fans out checkpoint restoration and returns the restored round.
// Checkpoints are written at barriers, so every host must report the same
// round back; a mismatch means the stores are from different runs.
func (d *Driver) restore() (uint64, error) {
	rounds := make(chan uint64, len(d.Hosts))
	err := d.fanOut(func(id int, client PeerClient) error {
		var reply CheckpointMsg
		if err := client.Call("Worker.RestoreCheckpoint", CheckpointMsg{}, &reply); err != nil {
			return err
		}
		rounds <- reply.Round
		return nil
	})
	if err != nil {
		return 0, err
	}
	close(rounds)

	restored, first := uint64(0), true
	for r := range rounds {
		if first {
			restored, first = r, false
			continue
		}
		if r != restored {
			return 0, fmt.Errorf(
				"hosts restored mismatched checkpoint rounds (%v and %v)", restored, r,
			)
		}
	}
	return restored, nil
}

// relax fans out one sweep and reduces the per-host progress counts.
func (d *Driver) relax(round uint64, first bool) (uint64, error) {
	args := RelaxArgs{Round: round, First: first}
	counts := make(chan uint64, len(d.Hosts))
	err := d.fanOut(func(id int, client PeerClient) error {
		var reply RelaxResult
		if err := client.Call("Worker.RelaxRound", args, &reply); err != nil {
			return err
		}
		counts <- reply.Progress
		return nil
	})
	if err != nil {
		return 0, err
	}
	close(counts)

	var total uint64
	for c := range counts {
		total = ReduceProgress(total, c)
	}
	return total, nil
}

func (d *Driver) phase(method string, round uint64) error {
	args := PhaseArgs{Round: round}
	return d.fanOut(func(id int, client PeerClient) error {
		var reply PhaseResult
		return client.Call(method, args, &reply)
	})
}

// Gather collects every host's owned distances into one map.
func (d *Driver) Gather() (map[uint64]uint64, error) {
	results := make(chan map[uint64]uint64, len(d.Hosts))
	err := d.fanOut(func(id int, client PeerClient) error {
		var reply FetchResult
		if err := client.Call("Worker.FetchDistances", FetchArgs{}, &reply); err != nil {
			return err
		}
		results <- reply.Distances
		return nil
	})
	if err != nil {
		return nil, err
	}
	close(results)

	merged := make(map[uint64]uint64)
	for part := range results {
		for gid, value := range part {
			merged[gid] = value
		}
	}
	return merged, nil
}

// fanOut invokes call on every host concurrently and waits for all of them.
// Any failure is final: a host missing a barrier would leave the cluster
// desynchronized, so errors are never retried here.
func (d *Driver) fanOut(call func(id int, client PeerClient) error) error {
	errs := make(chan error, len(d.Hosts))
	for id, client := range d.Hosts {
		go func(id int, client PeerClient) {
			if err := call(id, client); err != nil {
				errs <- fmt.Errorf("host %v: %w", id, err)
				return
			}
			errs <- nil
		}(id, client)
	}

	var firstErr error
	for range d.Hosts {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
