package responder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/event"
	"github.com/yairfalse/tara/internal/telemetry"
)

// TrackerItem is one row of the check tracker table, keyed by hashKey and
// resource.
type TrackerItem struct {
	HashKey              string `dynamodbav:"hashKey"`
	CheckName            string `dynamodbav:"checkName"`
	ResourceStatus       string `dynamodbav:"resourceStatus"`
	LastUpdatedTime      string `dynamodbav:"lastUpdatedTime"`
	LastUpdatedTimeEpoch int64  `dynamodbav:"lastUpdatedTimeEpoch"`
	Resource             string `dynamodbav:"resource"`
	Region               string `dynamodbav:"region"`
}

// HashKey identifies a check result for one resource in one region.
func HashKey(checkName, resource, region string) string {
	sum := sha256.Sum256([]byte(checkName + resource + region))
	return hex.EncodeToString(sum[:])
}

// newerThanStored only lets a write through when the row is new or older
// than the incoming result.
const newerThanStored = "attribute_not_exists(hashKey) OR lastUpdatedTimeEpoch < :epoch"

// CheckTracker records the most recent status of every flagged resource.
type CheckTracker struct {
	deps Deps
}

// NewCheckTracker creates the check tracker handler.
func NewCheckTracker(d Deps) *CheckTracker {
	return &CheckTracker{deps: d}
}

// Name implements handler.Handler.
func (h *CheckTracker) Name() string { return "ta-check-tracker" }

// Handle implements handler.Handler.
func (h *CheckTracker) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	chk, err := event.ParseCheck(event.Unwrap(raw))
	if err != nil {
		return nil, err
	}
	if chk.CheckName == "" {
		return nil, fmt.Errorf("%w: missing check-name", event.ErrMalformed)
	}
	f, err := chk.Require("Status", "Last Updated Time", "Resource", "Region")
	if err != nil {
		return nil, err
	}
	status, updated, resource, region := f[0], f[1], f[2], f[3]

	ts, err := time.Parse(time.RFC3339, updated)
	if err != nil {
		return nil, fmt.Errorf("%w: Last Updated Time %q: %v", event.ErrMalformed, updated, err)
	}

	item := TrackerItem{
		HashKey:              HashKey(chk.CheckName, resource, region),
		CheckName:            chk.CheckName,
		ResourceStatus:       status,
		LastUpdatedTime:      updated,
		LastUpdatedTimeEpoch: ts.Unix(),
		Resource:             resource,
		Region:               region,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("marshal tracker item: %w", err)
	}

	c, err := h.deps.clients(ctx, "")
	if err != nil {
		return nil, err
	}

	r := &Result{Handler: h.Name(), Resource: resource, Action: "track"}
	_, err = c.DynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(h.deps.Config.TrackerTable),
		Item:                av,
		ConditionExpression: aws.String(newerThanStored),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":epoch": &types.AttributeValueMemberN{Value: strconv.FormatInt(item.LastUpdatedTimeEpoch, 10)},
		},
	})
	switch {
	case err == nil:
		r.Outcome = telemetry.OutcomeApplied
		r.Message = fmt.Sprintf("recorded %s status %s for %s", chk.CheckName, status, resource)
	case awsapi.IsCode(err, awsapi.CodeConditionFailed):
		r.Outcome = telemetry.OutcomeSkipped
		r.Message = fmt.Sprintf("skipping update for %s/%s, stored result is more recent", item.HashKey, chk.CheckName)
	default:
		h.deps.Metrics.RecordAction(ctx, h.Name(), r.Action, telemetry.OutcomeFailed)
		return nil, fmt.Errorf("put tracker item %s: %w", item.HashKey, err)
	}
	return h.deps.record(ctx, r), nil
}
