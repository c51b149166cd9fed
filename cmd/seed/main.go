// Seed parses a tab-separated edge list and uploads vertex records to the
// configured graph store, so workers can load partitions server-side.
package main

import (
	"flag"
	"log"

	"ripple/store"
	"ripple/util"
)

func main() {
	graphPath := flag.String("graph", "", "edge list file (src\\tdst per line)")
	target := flag.String("target", "mongodb", "graph store: mongodb or dynamodb")
	mongoURI := flag.String("mongo-uri", "mongodb://localhost:27017", "mongodb connection uri")
	mongoDatabase := flag.String("mongo-db", "ripple", "mongodb database")
	collection := flag.String("collection", "graph", "mongodb collection / dynamodb table")
	region := flag.String("region", "us-east-2", "aws region for dynamodb")
	flag.Parse()

	if *graphPath == "" {
		log.Fatalf("seed: -graph is required")
	}

	vertices, err := store.ParseInputGraph(*graphPath)
	util.CheckErr(err, "seed: parsing %v", *graphPath)
	log.Printf("seed: parsed %v vertices from %v\n", len(vertices), *graphPath)

	switch *target {
	case "mongodb":
		src, err := store.NewMongoSource(*mongoURI, *mongoDatabase, *collection)
		util.CheckErr(err, "seed: connecting to mongodb")
		err = src.Seed(vertices)
		util.CheckErr(err, "seed: uploading to mongodb")
	case "dynamodb":
		src, err := store.NewDynamoSource(*region, *collection)
		util.CheckErr(err, "seed: connecting to dynamodb")
		err = src.Seed(vertices)
		util.CheckErr(err, "seed: uploading to dynamodb")
	default:
		log.Fatalf("seed: unknown target %q", *target)
	}

	log.Printf("seed: uploaded %v vertices to %v\n", len(vertices), *target)
}
