package ripple

import "math"

// Infinity is the unreached-vertex sentinel and the identity of the min
// reduction. A quarter of the range so candidate = current+1 can never wrap.
const Infinity uint64 = math.MaxUint64 / 4

type CoordConfig struct {
	WorkerAPIListenAddr     string // joining workers dial this
	ExternalAPIListenAddr   string // HTTP status + metrics
	NumWorkers              int
	Personalities           string // one byte per worker: 'c' CPU, 'd' device
	StepsBetweenCheckpoints uint64
}

type WorkerConfig struct {
	WorkerId   int
	CoordAddr  string
	WorkerAddr string // rpc listen addr, shared by coord and peers

	GraphSource     string // "file", "mongodb" or "dynamodb"
	GraphPath       string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	DynamoRegion    string
	DynamoTable     string

	CheckpointDriver string // "sqlite3" (default) or "mysql"
	CheckpointDSN    string

	MetricsAddr string // optional, serves /metrics when set
}

// RunParams is the driver CLI surface.
type RunParams struct {
	SourceVertex  uint64
	MaxIterations uint64
	Runs          int
	Verify        bool

	// Resume continues from the workers' latest checkpoint instead of
	// starting fresh runs from the source.
	Resume bool
}

type WorkerNode struct {
	WorkerId   int
	WorkerAddr string
}

// PeerClient is the calling half of *rpc.Client. Tests substitute in-process
// implementations so the protocol runs without a network.
type PeerClient interface {
	Call(serviceMethod string, args interface{}, reply interface{}) error
}

// WorkerCallBook maps logical worker ids to live connections.
type WorkerCallBook map[int]PeerClient

// WorkerDirectory maps logical worker ids to listen addresses.
type WorkerDirectory map[int]string

/* RPC payloads */

type SetupGraph struct {
	LogicalId       int
	NumWorkers      int
	Personality     byte
	WorkerDirectory WorkerDirectory
	CheckpointEvery uint64
}

type SetupGraphResult struct {
	LogicalId  int
	NumOwned   int
	NumMirrors int
	Backend    string
}

type MirrorSet struct {
	FromWorker int
	GlobalIds  []uint64
}

type InitRun struct {
	RunId        string
	SourceVertex uint64
}

type RelaxArgs struct {
	Round uint64
	First bool
}

type RelaxResult struct {
	LogicalId int
	Progress  uint64
}

type PhaseArgs struct {
	Round uint64
}

type PhaseResult struct {
	LogicalId int
	Sent      int
}

// FieldUpdate carries one synchronized field value, tagged by global id so the
// receiver can map it into its own local index space.
type FieldUpdate struct {
	GlobalId uint64
	Value    uint64
}

type PushBatch struct {
	FromWorker int
	Round      uint64
	Updates    []FieldUpdate
}

type PullBatch struct {
	FromWorker int
	Round      uint64
	Updates    []FieldUpdate
}

type FetchArgs struct{}

type FetchResult struct {
	LogicalId int
	Distances map[uint64]uint64
}

type CheckpointMsg struct {
	Round     uint64
	LogicalId int
}

type Ack struct{}
