package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/yairfalse/tara/internal/awsapi"
)

// DynamoStore keeps lifecycle state in a single DynamoDB table with a string
// partition key named "pk".
type DynamoStore struct {
	client awsapi.DynamoDBAPI
	table  string
}

type volumeItem struct {
	PK string `dynamodbav:"pk"`
	VolumeRecord
}

type regionItem struct {
	PK           string    `dynamodbav:"pk"`
	Region       string    `dynamodbav:"region"`
	TopicARN     string    `dynamodbav:"topic_arn"`
	ConfiguredAt time.Time `dynamodbav:"configured_at"`
}

// NewDynamo creates a DynamoDB-backed store.
func NewDynamo(client awsapi.DynamoDBAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func volumePK(region, volumeID string) string {
	return "volume#" + volumeKey(region, volumeID)
}

func regionPK(region string) string {
	return "region#" + region
}

func pkKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
	}
}

// GetVolume implements Store.
func (s *DynamoStore) GetVolume(ctx context.Context, region, volumeID string) (*VolumeRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            pkKey(volumePK(region, volumeID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get volume %s: %w", volumeID, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item volumeItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal volume %s: %w", volumeID, err)
	}
	return &item.VolumeRecord, nil
}

// PutVolume implements Store.
func (s *DynamoStore) PutVolume(ctx context.Context, rec *VolumeRecord) error {
	item, err := attributevalue.MarshalMap(volumeItem{
		PK:           volumePK(rec.Region, rec.VolumeID),
		VolumeRecord: *rec,
	})
	if err != nil {
		return fmt.Errorf("marshal volume %s: %w", rec.VolumeID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put volume %s: %w", rec.VolumeID, err)
	}
	return nil
}

// RegionConfigured implements Store.
func (s *DynamoStore) RegionConfigured(ctx context.Context, region string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            pkKey(regionPK(region)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get region marker %s: %w", region, err)
	}
	return out.Item != nil, nil
}

// MarkRegionConfigured implements Store.
func (s *DynamoStore) MarkRegionConfigured(ctx context.Context, region, topicARN string) error {
	item, err := attributevalue.MarshalMap(regionItem{
		PK:           regionPK(region),
		Region:       region,
		TopicARN:     topicARN,
		ConfiguredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal region marker: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("put region marker %s: %w", region, err)
	}
	return nil
}

// Close implements Store.
func (s *DynamoStore) Close() error { return nil }
