package ripple

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"net/rpc"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ripple/metrics"
	"ripple/util"
)

// Coord is the barrier and reduction point of the cluster: workers join it,
// it assigns logical host ids, fans out the setup collectives, and drives
// the round loop through a Driver. It also serves the HTTP status surface.
type Coord struct {
	config CoordConfig

	mu        sync.Mutex
	workers   map[int]WorkerNode // config id -> node
	callbook  WorkerCallBook     // logical id -> connection
	directory WorkerDirectory    // logical id -> address

	lastWorkerCheckpoints map[int]uint64
	lastCheckpoint        uint64

	status Status
}

// Status is the externally visible run state.
type Status struct {
	RunId      string `json:"runId"`
	Round      uint64 `json:"round"`
	Progress   uint64 `json:"progress"`
	Running    bool   `json:"running"`
	Converged  bool   `json:"converged"`
	Checkpoint uint64 `json:"checkpoint"`
}

func NewCoord(config CoordConfig) *Coord {
	return &Coord{
		config:                config,
		workers:               make(map[int]WorkerNode),
		callbook:              make(WorkerCallBook),
		directory:             make(WorkerDirectory),
		lastWorkerCheckpoints: make(map[int]uint64),
	}
}

// JoinWorker registers a worker. The coord dials back immediately so a
// worker that cannot be reached is rejected at join time, not mid-round.
func (c *Coord) JoinWorker(w WorkerNode, reply *WorkerNode) error {
	if _, err := util.DialRPC(w.WorkerAddr); err != nil {
		log.Printf("JoinWorker: cannot dial back worker %v at %v: %v\n",
			w.WorkerId, w.WorkerAddr, err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.workers[w.WorkerId]; ok {
		return fmt.Errorf("worker id %v already joined", w.WorkerId)
	}
	// The personality string and logical id space are sized for NumWorkers;
	// a late extra worker has no slot in either.
	if len(c.workers) >= c.config.NumWorkers {
		return fmt.Errorf(
			"cluster is full: %v workers already joined", c.config.NumWorkers,
		)
	}
	c.workers[w.WorkerId] = w
	log.Printf("JoinWorker: added worker %v at %v (%v/%v)\n",
		w.WorkerId, w.WorkerAddr, len(c.workers), c.config.NumWorkers)

	*reply = w
	return nil
}

// UpdateCheckpoint records a worker's latest checkpoint round and advances
// the global checkpoint once every worker has reached it.
func (c *Coord) UpdateCheckpoint(msg CheckpointMsg, reply *CheckpointMsg) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastWorkerCheckpoints[msg.LogicalId] = msg.Round

	allUpdated := true
	for logical := range c.directory {
		if c.lastWorkerCheckpoints[logical] != msg.Round {
			allUpdated = false
			break
		}
	}
	if allUpdated {
		c.lastCheckpoint = msg.Round
		log.Printf("UpdateCheckpoint: global checkpoint now round %v\n", msg.Round)
	}

	*reply = msg
	return nil
}

// Start validates the configuration, begins listening for workers and HTTP
// clients, and blocks until the configured number of workers has joined.
func (c *Coord) Start() error {
	if err := ValidatePersonalities(c.config.Personalities, c.config.NumWorkers); err != nil {
		return err
	}

	if err := rpc.Register(c); err != nil {
		return fmt.Errorf("register rpc: %w", err)
	}
	listener, err := net.Listen("tcp", c.config.WorkerAPIListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %v: %w", c.config.WorkerAPIListenAddr, err)
	}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				log.Printf("coord: accept error: %v\n", err)
				continue
			}
			go rpc.ServeConn(conn)
		}
	}()

	if c.config.ExternalAPIListenAddr != "" {
		go c.listenExternalRequests(c.config.ExternalAPIListenAddr)
	}

	log.Printf("coord: waiting for %v workers on %v\n",
		c.config.NumWorkers, c.config.WorkerAPIListenAddr)
	for {
		c.mu.Lock()
		joined := len(c.workers)
		c.mu.Unlock()
		if joined >= c.config.NumWorkers {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (c *Coord) listenExternalRequests(addr string) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/status", func(ctx *gin.Context) {
			c.mu.Lock()
			status := c.status
			status.Checkpoint = c.lastCheckpoint
			c.mu.Unlock()
			ctx.JSON(http.StatusOK, status)
		})
		api.GET("/workers", func(ctx *gin.Context) {
			c.mu.Lock()
			nodes := make([]WorkerNode, 0, len(c.workers))
			for _, w := range c.workers {
				nodes = append(nodes, w)
			}
			c.mu.Unlock()
			sort.Slice(nodes, func(i, j int) bool {
				return nodes[i].WorkerId < nodes[j].WorkerId
			})
			ctx.JSON(http.StatusOK, nodes)
		})
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("coord: external API error: %v", err)
	}
}

// assignWorkers maps joined workers to dense logical ids, in config id order
// so every process derives the same assignment.
func (c *Coord) assignWorkers() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	configIds := make([]int, 0, len(c.workers))
	for id := range c.workers {
		configIds = append(configIds, id)
	}
	sort.Ints(configIds)

	for logical, configId := range configIds {
		node := c.workers[configId]
		client, err := util.DialRPC(node.WorkerAddr)
		if err != nil {
			return fmt.Errorf("dial worker %v at %v: %w", configId, node.WorkerAddr, err)
		}
		c.callbook[logical] = client
		c.directory[logical] = node.WorkerAddr
	}
	return nil
}

// setupWorkers fans out partition loading and the mirror-registration
// collective. Runs once per query; timed runs reuse the loaded partitions.
func (c *Coord) setupWorkers(driver *Driver) error {
	errs := make(chan error, len(c.callbook))
	for logical, client := range c.callbook {
		args := SetupGraph{
			LogicalId:       logical,
			NumWorkers:      len(c.callbook),
			Personality:     c.config.Personalities[logical],
			WorkerDirectory: c.directory,
			CheckpointEvery: c.config.StepsBetweenCheckpoints,
		}
		go func(logical int, client PeerClient, args SetupGraph) {
			var reply SetupGraphResult
			if err := client.Call("Worker.SetupGraph", args, &reply); err != nil {
				errs <- fmt.Errorf("setup worker %v: %w", logical, err)
				return
			}
			log.Printf("coord: worker %v ready: %v owned, %v mirrors, backend %v\n",
				reply.LogicalId, reply.NumOwned, reply.NumMirrors, reply.Backend)
			errs <- nil
		}(logical, client, args)
	}
	for range c.callbook {
		if err := <-errs; err != nil {
			return err
		}
	}

	return driver.phase("Worker.ExchangeMirrors", 0)
}

// Run executes the configured number of timed relaxation runs and, when
// requested, prints the verification output.
func (c *Coord) Run(params RunParams) error {
	if err := c.assignWorkers(); err != nil {
		return err
	}

	driver := &Driver{
		Hosts:         c.callbook,
		MaxIterations: params.MaxIterations,
		OnRound: func(round, progress uint64) {
			c.mu.Lock()
			c.status.Round = round
			c.status.Progress = progress
			c.mu.Unlock()
		},
	}

	if err := c.setupWorkers(driver); err != nil {
		return err
	}

	if params.Resume {
		return c.resumeRun(params, driver)
	}

	for run := 0; run < params.Runs; run++ {
		runId := uuid.New().String()
		c.mu.Lock()
		c.status = Status{RunId: runId, Running: true}
		c.mu.Unlock()

		log.Printf("coord: run %v/%v (%v) from source %v\n",
			run+1, params.Runs, runId, params.SourceVertex)

		start := time.Now()
		rounds, converged, err := driver.RunOnce(runId, params.SourceVertex)
		if err != nil {
			return fmt.Errorf("run %v: %w", runId, err)
		}
		elapsed := time.Since(start)
		metrics.RunsTotal.Inc()

		c.mu.Lock()
		c.status.Running = false
		c.status.Converged = converged
		c.mu.Unlock()

		if converged {
			log.Printf("coord: run %v converged after %v rounds in %v\n",
				runId, rounds, elapsed)
		} else {
			log.Printf("coord: run %v stopped at iteration cap (%v rounds) in %v\n",
				runId, rounds, elapsed)
		}
	}

	if params.Verify {
		distances, err := driver.Gather()
		if err != nil {
			return err
		}
		printDistances(distances)
	}
	return nil
}

// resumeRun continues an interrupted run from the workers' latest checkpoint
// instead of re-relaxing from the source.
func (c *Coord) resumeRun(params RunParams, driver *Driver) error {
	runId := uuid.New().String()
	c.mu.Lock()
	c.status = Status{RunId: runId, Running: true}
	c.mu.Unlock()

	log.Printf("coord: resuming run %v from latest checkpoint\n", runId)

	start := time.Now()
	rounds, converged, err := driver.Resume()
	if err != nil {
		return fmt.Errorf("resume %v: %w", runId, err)
	}
	elapsed := time.Since(start)
	metrics.RunsTotal.Inc()

	c.mu.Lock()
	c.status.Running = false
	c.status.Converged = converged
	c.mu.Unlock()

	if converged {
		log.Printf("coord: resumed run %v converged at round %v in %v\n",
			runId, rounds, elapsed)
	} else {
		log.Printf("coord: resumed run %v stopped at iteration cap (round %v) in %v\n",
			runId, rounds, elapsed)
	}

	if params.Verify {
		distances, err := driver.Gather()
		if err != nil {
			return err
		}
		printDistances(distances)
	}
	return nil
}

// printDistances emits one "<globalId> <distance>" line per vertex, sorted.
func printDistances(distances map[uint64]uint64) {
	gids := make([]uint64, 0, len(distances))
	for gid := range distances {
		gids = append(gids, gid)
	}
	sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })
	for _, gid := range gids {
		fmt.Printf("%v %v\n", gid, distances[gid])
	}
}
