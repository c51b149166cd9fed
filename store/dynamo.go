package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const dynamoBatchSize = 25 // BatchWriteItem hard limit

// DynamoSource serves per-host partitions from a DynamoDB table seeded by
// cmd/seed. The table is keyed on the numeric vertex ID.
type DynamoSource struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoSource(region, tableName string) (*DynamoSource, error) {
	cfg, err := awsconfig.LoadDefaultConfig(
		context.TODO(), awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &DynamoSource{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
	}, nil
}

func (s *DynamoSource) PartitionFor(hostId int, numHosts int) ([]Vertex, error) {
	var part []Vertex

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.TODO())
		if err != nil {
			return nil, fmt.Errorf("scan %v: %w", s.tableName, err)
		}
		for _, item := range page.Items {
			var v Vertex
			if err := attributevalue.UnmarshalMap(item, &v); err != nil {
				return nil, fmt.Errorf("unmarshal vertex: %w", err)
			}
			if int(v.Hash%uint64(numHosts)) == hostId {
				part = append(part, v)
			}
		}
	}
	return part, nil
}

// Seed uploads vertex records in BatchWriteItem chunks.
func (s *DynamoSource) Seed(vertices []Vertex) error {
	reqs := make([]types.WriteRequest, 0, dynamoBatchSize)
	flush := func() error {
		if len(reqs) == 0 {
			return nil
		}
		_, err := s.client.BatchWriteItem(context.TODO(), &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.tableName: reqs,
			},
		})
		if err != nil {
			return fmt.Errorf("batch write to %v: %w", s.tableName, err)
		}
		reqs = reqs[:0]
		return nil
	}

	for _, v := range vertices {
		reqs = append(reqs, types.WriteRequest{
			PutRequest: &types.PutRequest{
				Item: map[string]types.AttributeValue{
					"ID":    &types.AttributeValueMemberN{Value: strconv.FormatUint(v.ID, 10)},
					"Edges": &types.AttributeValueMemberL{Value: edgesToAttributeValues(v.Edges)},
					"Hash":  &types.AttributeValueMemberN{Value: strconv.FormatUint(v.Hash, 10)},
				},
			},
		})
		if len(reqs) == dynamoBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func edgesToAttributeValues(edges []uint64) []types.AttributeValue {
	as := make([]types.AttributeValue, len(edges))
	for idx, edge := range edges {
		as[idx] = &types.AttributeValueMemberN{Value: strconv.FormatUint(edge, 10)}
	}
	return as
}
