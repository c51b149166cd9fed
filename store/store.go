package store

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ripple/util"
)

// Vertex is the stored record for one graph vertex: its global id, its
// out-edges, and the ownership hash assigned at seeding time.
type Vertex struct {
	ID    uint64
	Edges []uint64
	Hash  uint64
}

// Source loads one host's share of the graph. PartitionFor must return every
// vertex whose Hash maps to the given host under hash % numHosts.
type Source interface {
	PartitionFor(hostId int, numHosts int) ([]Vertex, error)
}

// OwnerOf is the partitioning rule shared by every source and every host.
func OwnerOf(vertexId uint64, numHosts int) int {
	return int(util.HashId(vertexId) % uint64(numHosts))
}

// FileSource reads the whole edge list and keeps this host's bucket. Meant
// for small graphs and tests; the database sources stream their stored
// records instead of re-parsing an edge list.
type FileSource struct {
	Path string
}

func (s FileSource) PartitionFor(hostId int, numHosts int) ([]Vertex, error) {
	all, err := ParseInputGraph(s.Path)
	if err != nil {
		return nil, err
	}
	var part []Vertex
	for _, v := range all {
		if int(v.Hash%uint64(numHosts)) == hostId {
			part = append(part, v)
		}
	}
	return part, nil
}

// ParseInputGraph reads a tab-separated "src\tdst" edge list. Lines containing
// '#' are comments. Every vertex referenced on either side of an edge gets a
// record, so sinks are represented with empty edge lists.
func ParseInputGraph(filePath string) ([]Vertex, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open graph file: %w", err)
	}
	defer file.Close()

	graph := make(map[uint64][]uint64)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed edge line: %q", line)
		}
		src, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed edge source in %q: %w", line, err)
		}
		dst, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed edge dest in %q: %w", line, err)
		}

		graph[src] = append(graph[src], dst)
		if graph[dst] == nil {
			graph[dst] = []uint64{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return GraphToVertices(graph), nil
}

// GraphToVertices flattens an adjacency map into stored vertex records,
// attaching the ownership hash.
func GraphToVertices(graph map[uint64][]uint64) []Vertex {
	vertices := make([]Vertex, 0, len(graph))
	for vertexId, edges := range graph {
		vertices = append(vertices, Vertex{
			ID:    vertexId,
			Edges: edges,
			Hash:  util.HashId(vertexId),
		})
	}
	return vertices
}
