package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoBatchSize = 500

// dbVertex is the on-disk shape: ids are stored as decimal strings so the
// same documents stay usable from shells and scripts that mangle 64-bit ints.
type dbVertex struct {
	ID    string
	Edges []string
	Hash  string
}

// MongoSource serves per-host partitions from a MongoDB collection seeded by
// cmd/seed. Hashes are stored as strings, so the ownership filter runs on the
// parsed records after the collection is streamed.
type MongoSource struct {
	collection *mongo.Collection
}

func NewMongoSource(uri, database, collection string) (*MongoSource, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &MongoSource{
		collection: client.Database(database).Collection(collection),
	}, nil
}

func (s *MongoSource) PartitionFor(hostId int, numHosts int) ([]Vertex, error) {
	// String-typed hashes rule out a $mod match in the query, so stream the
	// collection and keep our bucket. The seeded Hash values are uniform, so
	// buckets are balanced.
	cursor, err := s.collection.Find(context.TODO(), bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find vertices: %w", err)
	}

	var dbVertices []dbVertex
	if err = cursor.All(context.TODO(), &dbVertices); err != nil {
		return nil, fmt.Errorf("read vertices: %w", err)
	}

	var part []Vertex
	for _, dbv := range dbVertices {
		v, err := parseDBVertex(dbv)
		if err != nil {
			return nil, err
		}
		if int(v.Hash%uint64(numHosts)) == hostId {
			part = append(part, v)
		}
	}
	return part, nil
}

func parseDBVertex(dbv dbVertex) (Vertex, error) {
	id, err := strconv.ParseUint(dbv.ID, 10, 64)
	if err != nil {
		return Vertex{}, fmt.Errorf("bad vertex id %q: %w", dbv.ID, err)
	}
	hash, err := strconv.ParseUint(dbv.Hash, 10, 64)
	if err != nil {
		return Vertex{}, fmt.Errorf("bad vertex hash %q: %w", dbv.Hash, err)
	}

	edges := make([]uint64, len(dbv.Edges))
	for idx, edge := range dbv.Edges {
		edges[idx], err = strconv.ParseUint(edge, 10, 64)
		if err != nil {
			return Vertex{}, fmt.Errorf("bad edge %q on vertex %v: %w", edge, id, err)
		}
	}

	return Vertex{ID: id, Edges: edges, Hash: hash}, nil
}

// Seed uploads vertex records in insert batches.
func (s *MongoSource) Seed(vertices []Vertex) error {
	docs := make([]interface{}, 0, mongoBatchSize)
	flush := func() error {
		if len(docs) == 0 {
			return nil
		}
		if _, err := s.collection.InsertMany(context.TODO(), docs); err != nil {
			return fmt.Errorf("insert vertex batch: %w", err)
		}
		docs = docs[:0]
		return nil
	}

	for _, v := range vertices {
		docs = append(docs, bson.D{
			{Key: "ID", Value: strconv.FormatUint(v.ID, 10)},
			{Key: "Edges", Value: formatEdges(v.Edges)},
			{Key: "Hash", Value: strconv.FormatUint(v.Hash, 10)},
		})
		if len(docs) == mongoBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func formatEdges(edges []uint64) []string {
	formatted := make([]string, len(edges))
	for idx, edge := range edges {
		formatted[idx] = strconv.FormatUint(edge, 10)
	}
	return formatted
}
