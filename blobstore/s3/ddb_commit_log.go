package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/pagedb/blobstore"
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBCommitLog implements blobstore.CommitLog with DynamoDB conditional
// writes, so concurrent publishers of the same container cannot both commit
// the same generation.
//
// Table schema:
//   - Partition key: commit_key (string) - "<baseURI>/<container>"
//   - Sort key: generation (number)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name pagedb-commits \
//	  --attribute-definitions AttributeName=commit_key,AttributeType=S AttributeName=generation,AttributeType=N \
//	  --key-schema AttributeName=commit_key,KeyType=HASH AttributeName=generation,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitLog struct {
	client    DDBClient
	tableName string
	baseURI   string
}

// NewDDBCommitLog creates a commit log. baseURI (e.g. "s3://bucket/prefix")
// namespaces the keys of one store.
func NewDDBCommitLog(client DDBClient, tableName, baseURI string) *DDBCommitLog {
	return &DDBCommitLog{
		client:    client,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

func (l *DDBCommitLog) partition(key string) string {
	return l.baseURI + "/" + key
}

// Latest queries the highest committed generation of key.
func (l *DDBCommitLog) Latest(ctx context.Context, key string) (blobstore.Commit, error) {
	resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("commit_key = :key"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":key": &types.AttributeValueMemberS{Value: l.partition(key)},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return blobstore.Commit{}, fmt.Errorf("failed to query DynamoDB: %w", err)
	}
	if len(resp.Items) == 0 {
		return blobstore.Commit{}, blobstore.ErrNotFound
	}

	item := resp.Items[0]
	genAttr, ok := item["generation"].(*types.AttributeValueMemberN)
	if !ok {
		return blobstore.Commit{}, errors.New("invalid generation attribute in DynamoDB")
	}
	pathAttr, ok := item["path"].(*types.AttributeValueMemberS)
	if !ok {
		return blobstore.Commit{}, errors.New("invalid path attribute in DynamoDB")
	}

	gen, err := strconv.ParseUint(genAttr.Value, 10, 64)
	if err != nil {
		return blobstore.Commit{}, fmt.Errorf("failed to parse generation: %w", err)
	}
	return blobstore.Commit{Generation: gen, Path: pathAttr.Value}, nil
}

// Commit writes c with a condition that its generation does not exist yet.
func (l *DDBCommitLog) Commit(ctx context.Context, key string, c blobstore.Commit) error {
	if c.Generation == 0 {
		return fmt.Errorf("%w: generation 0", blobstore.ErrConcurrentModification)
	}
	if c.Generation > 1 {
		latest, err := l.Latest(ctx, key)
		if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return err
		}
		if latest.Generation != c.Generation-1 {
			return fmt.Errorf("%w: generation %d after %d", blobstore.ErrConcurrentModification, c.Generation, latest.Generation)
		}
	}

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item: map[string]types.AttributeValue{
			"commit_key": &types.AttributeValueMemberS{Value: l.partition(key)},
			"generation": &types.AttributeValueMemberN{Value: strconv.FormatUint(c.Generation, 10)},
			"path":       &types.AttributeValueMemberS{Value: c.Path},
		},
		ConditionExpression: aws.String("attribute_not_exists(generation)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: generation %d", blobstore.ErrConcurrentModification, c.Generation)
		}
		return fmt.Errorf("failed to commit generation to DynamoDB: %w", err)
	}
	return nil
}
