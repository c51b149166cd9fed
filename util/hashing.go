package util

import (
	"encoding/binary"
	"hash/fnv"
)

// HashId maps a global vertex id to a stable 64-bit hash. Every process must
// agree on this function: vertex ownership is derived from it.
func HashId(vertexId uint64) uint64 {
	inputBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(inputBytes, vertexId)

	algorithm := fnv.New64a()
	algorithm.Write(inputBytes)
	return algorithm.Sum64()
}
