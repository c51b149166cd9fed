package ripple

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/rpc"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ripple/metrics"
	"ripple/store"
	"ripple/util"
)

// Worker is one host of the relaxation engine: it owns a partition, runs the
// local sweeps on its backend, and exchanges synchronization batches with its
// peers. The coord drives it through the exported RPC methods; every phase
// method returns only when its side of the phase is fully applied, which is
// what makes the coord's fan-out a barrier.
type Worker struct {
	config WorkerConfig

	mu        sync.Mutex
	logicalId int
	numHosts  int
	part      *Partition
	backend   Backend
	acc       Accumulator
	peers     WorkerCallBook
	coord     PeerClient

	runId           string
	round           uint64
	checkpointEvery uint64
	ckpt            *CheckpointStore
}

func NewWorker(config WorkerConfig) *Worker {
	return &Worker{
		config: config,
		peers:  make(WorkerCallBook),
	}
}

func (w *Worker) graphSource() (store.Source, error) {
	switch w.config.GraphSource {
	case "file":
		return store.FileSource{Path: w.config.GraphPath}, nil
	case "mongodb":
		return store.NewMongoSource(
			w.config.MongoURI, w.config.MongoDatabase, w.config.MongoCollection,
		)
	case "dynamodb":
		return store.NewDynamoSource(w.config.DynamoRegion, w.config.DynamoTable)
	default:
		return nil, fmt.Errorf("unknown graph source %q", w.config.GraphSource)
	}
}

// SetupGraph loads this worker's partition, selects its backend, and dials
// its peers. Called once per query; later runs reuse the loaded state.
func (w *Worker) SetupGraph(args SetupGraph, reply *SetupGraphResult) error {
	source, err := w.graphSource()
	if err != nil {
		return err
	}
	vertices, err := source.PartitionFor(args.LogicalId, args.NumWorkers)
	if err != nil {
		return fmt.Errorf("load partition %v: %w", args.LogicalId, err)
	}
	part, err := BuildPartition(args.LogicalId, args.NumWorkers, vertices)
	if err != nil {
		return err
	}

	backend, err := NewBackend(args.Personality)
	if err != nil {
		return err
	}
	if err := backend.Setup(part); err != nil {
		return fmt.Errorf("backend setup: %w", err)
	}

	var ckpt *CheckpointStore
	if args.CheckpointEvery > 0 {
		ckpt, err = OpenCheckpointStore(
			w.config.CheckpointDriver, w.config.CheckpointDSN, args.LogicalId,
		)
		if err != nil {
			return err
		}
	}

	peers := make(WorkerCallBook)
	for id, addr := range args.WorkerDirectory {
		if id == args.LogicalId {
			continue
		}
		client, err := util.DialRPC(addr)
		if err != nil {
			return fmt.Errorf("dial peer %v at %v: %w", id, addr, err)
		}
		peers[id] = client
	}

	w.mu.Lock()
	w.logicalId = args.LogicalId
	w.numHosts = args.NumWorkers
	w.part = part
	w.backend = backend
	w.peers = peers
	w.checkpointEvery = args.CheckpointEvery
	w.ckpt = ckpt
	w.mu.Unlock()

	log.Printf(
		"worker %v: partition ready, %v owned + %v mirrors, backend %v\n",
		args.LogicalId, part.NumOwned, part.NumLocal()-part.NumOwned,
		backend.Name(),
	)

	reply.LogicalId = args.LogicalId
	reply.NumOwned = part.NumOwned
	reply.NumMirrors = part.NumLocal() - part.NumOwned
	reply.Backend = backend.Name()
	return nil
}

// ExchangeMirrors tells every owning peer which of its vertices this host
// mirrors. Runs once after all partitions are loaded; until every host has
// completed it, pull synchronization has no routing information.
func (w *Worker) ExchangeMirrors(args PhaseArgs, reply *PhaseResult) error {
	sent := 0
	for _, peer := range w.part.MirrorPeers() {
		set := MirrorSet{
			FromWorker: w.logicalId,
			GlobalIds:  w.part.MirrorGlobalIds(peer),
		}
		var ack Ack
		if err := w.peers[peer].Call("Worker.RegisterMirrors", set, &ack); err != nil {
			return fmt.Errorf("register mirrors with host %v: %w", peer, err)
		}
		sent += len(set.GlobalIds)
	}
	reply.LogicalId = w.logicalId
	reply.Sent = sent
	return nil
}

func (w *Worker) RegisterMirrors(args MirrorSet, reply *Ack) error {
	return w.part.RegisterMirrors(args.FromWorker, args.GlobalIds)
}

// StartRun resets per-run vertex state: source at 0, everything else at the
// sentinel. Safe to call repeatedly for independent timed runs.
func (w *Worker) StartRun(args InitRun, reply *Ack) error {
	w.mu.Lock()
	w.runId = args.RunId
	w.round = 0
	w.mu.Unlock()

	w.backend.InitRun(args.SourceVertex)
	w.acc.Reset()
	if w.ckpt != nil {
		if err := w.ckpt.Clear(); err != nil {
			return fmt.Errorf("clear checkpoints: %w", err)
		}
	}
	return nil
}

// RelaxRound runs one local sweep over the owned vertices. The first round is
// unconditional; later rounds only touch vertices whose value dropped since
// their last snapshot, and report the count for the convergence reduction.
func (w *Worker) RelaxRound(args RelaxArgs, reply *RelaxResult) error {
	w.acc.Reset()
	if args.First {
		w.backend.FirstSweep()
	} else {
		w.backend.Sweep(&w.acc)
	}

	w.mu.Lock()
	w.round = args.Round
	w.mu.Unlock()

	if w.ckpt != nil && !args.First && args.Round%w.checkpointEvery == 0 {
		if err := w.ckpt.Save(args.Round, w.backend.Distances()); err != nil {
			return err
		}
		if w.coord != nil {
			var ack CheckpointMsg
			msg := CheckpointMsg{Round: args.Round, LogicalId: w.logicalId}
			if err := w.coord.Call("Coord.UpdateCheckpoint", msg, &ack); err != nil {
				log.Printf("worker %v: checkpoint notify failed: %v\n", w.logicalId, err)
			}
		}
	}

	reply.LogicalId = w.logicalId
	reply.Progress = w.acc.Local()
	return nil
}

// PushPhase drains this host's pending mirror values toward their owners.
// Deliveries are synchronous, so when the coord's fan-out returns, every push
// of the round has been applied somewhere.
func (w *Worker) PushPhase(args PhaseArgs, reply *PhaseResult) error {
	sent := 0
	for _, peer := range w.part.MirrorPeers() {
		updates := BuildPushBatch(w.part, w.backend, peer)
		if len(updates) == 0 {
			continue
		}
		batch := PushBatch{FromWorker: w.logicalId, Round: args.Round, Updates: updates}
		var ack Ack
		if err := w.peers[peer].Call("Worker.DeliverPush", batch, &ack); err != nil {
			return fmt.Errorf("push to host %v: %w", peer, err)
		}
		sent += len(updates)
	}
	metrics.PushedValues.Add(float64(sent))
	reply.LogicalId = w.logicalId
	reply.Sent = sent
	return nil
}

func (w *Worker) DeliverPush(args PushBatch, reply *Ack) error {
	return ApplyPushBatch(w.part, w.backend, args.Updates)
}

// PullPhase broadcasts this host's canonical owned values to every host
// mirroring them.
func (w *Worker) PullPhase(args PhaseArgs, reply *PhaseResult) error {
	sent := 0
	for _, peer := range w.part.PullPeers() {
		updates := BuildPullBatch(w.part, w.backend, peer)
		if len(updates) == 0 {
			continue
		}
		batch := PullBatch{FromWorker: w.logicalId, Round: args.Round, Updates: updates}
		var ack Ack
		if err := w.peers[peer].Call("Worker.DeliverPull", batch, &ack); err != nil {
			return fmt.Errorf("pull to host %v: %w", peer, err)
		}
		sent += len(updates)
	}
	metrics.PulledValues.Add(float64(sent))
	reply.LogicalId = w.logicalId
	reply.Sent = sent
	return nil
}

func (w *Worker) DeliverPull(args PullBatch, reply *Ack) error {
	return ApplyPullBatch(w.part, w.backend, args.Updates)
}

// FetchDistances snapshots this host's owned distances for verification.
func (w *Worker) FetchDistances(args FetchArgs, reply *FetchResult) error {
	reply.LogicalId = w.logicalId
	reply.Distances = w.backend.Distances()
	return nil
}

// RestoreCheckpoint resets the whole local field to the identity and
// overwrites owned values from the latest snapshot. Mirrors stay at the
// identity until the next pull; a restarted process would otherwise push
// their zero-valued field slots to the owners. The driver follows a restore
// with an unconditional first sweep, which rebuilds the previous-value
// snapshots and restarts propagation.
func (w *Worker) RestoreCheckpoint(args CheckpointMsg, reply *CheckpointMsg) error {
	if w.ckpt == nil {
		return errors.New("checkpointing not enabled")
	}
	round, distances, ok, err := w.ckpt.LoadLatest()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no checkpoint to restore")
	}

	for local := 0; local < w.part.NumLocal(); local++ {
		w.backend.ResetIdentity(uint32(local))
	}
	for gid, value := range distances {
		local, found := w.part.LocalIndex(gid)
		if !found || !w.part.IsOwned(local) {
			return fmt.Errorf("checkpoint contains vertex %v not owned here", gid)
		}
		w.backend.Overwrite(local, value)
	}

	w.mu.Lock()
	w.round = round
	w.mu.Unlock()

	log.Printf("worker %v: restored checkpoint at round %v\n", w.logicalId, round)
	reply.Round = round
	reply.LogicalId = w.logicalId
	return nil
}

// Start registers the worker for RPC, joins the coord, and serves until the
// process is killed.
func (w *Worker) Start() error {
	if w.config.WorkerAddr == "" {
		return errors.New("worker not configured with a listen address")
	}

	handler := rpc.NewServer()
	if err := handler.Register(w); err != nil {
		return fmt.Errorf("register rpc: %w", err)
	}

	listener, err := net.Listen("tcp", w.config.WorkerAddr)
	if err != nil {
		return fmt.Errorf("listen on %v: %w", w.config.WorkerAddr, err)
	}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				log.Printf("worker %v: accept error: %v\n", w.config.WorkerId, err)
				continue
			}
			go handler.ServeConn(conn)
		}
	}()

	if w.config.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(w.config.MetricsAddr, nil); err != nil {
				log.Printf("worker %v: metrics server: %v\n", w.config.WorkerId, err)
			}
		}()
	}

	coordClient, err := util.DialRPC(w.config.CoordAddr)
	if err != nil {
		return fmt.Errorf("dial coord at %v: %w", w.config.CoordAddr, err)
	}
	w.coord = coordClient

	node := WorkerNode{WorkerId: w.config.WorkerId, WorkerAddr: w.config.WorkerAddr}
	var reply WorkerNode
	if err := coordClient.Call("Coord.JoinWorker", node, &reply); err != nil {
		return fmt.Errorf("join coord: %w", err)
	}
	log.Printf("worker %v: joined coord at %v\n", w.config.WorkerId, w.config.CoordAddr)

	select {} // serve forever
}
