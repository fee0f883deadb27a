package responder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	taggingtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/config"
)

type mockDynamoDB struct {
	GetItemFunc    func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItemFunc    func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItemFunc func(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)

	getCalls    []*dynamodb.GetItemInput
	putCalls    []*dynamodb.PutItemInput
	deleteCalls []*dynamodb.DeleteItemInput
}

func (m *mockDynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.getCalls = append(m.getCalls, params)
	if m.GetItemFunc != nil {
		return m.GetItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putCalls = append(m.putCalls, params)
	if m.PutItemFunc != nil {
		return m.PutItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.deleteCalls = append(m.deleteCalls, params)
	if m.DeleteItemFunc != nil {
		return m.DeleteItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

// putsTo returns the PutItem calls made against table.
func (m *mockDynamoDB) putsTo(table string) []*dynamodb.PutItemInput {
	var out []*dynamodb.PutItemInput
	for _, p := range m.putCalls {
		if aws.ToString(p.TableName) == table {
			out = append(out, p)
		}
	}
	return out
}

type mockSSM struct {
	CreateOpsItemFunc            func(ctx context.Context, params *ssm.CreateOpsItemInput, optFns ...func(*ssm.Options)) (*ssm.CreateOpsItemOutput, error)
	UpdateOpsItemFunc            func(ctx context.Context, params *ssm.UpdateOpsItemInput, optFns ...func(*ssm.Options)) (*ssm.UpdateOpsItemOutput, error)
	StartAutomationExecutionFunc func(ctx context.Context, params *ssm.StartAutomationExecutionInput, optFns ...func(*ssm.Options)) (*ssm.StartAutomationExecutionOutput, error)

	createCalls []*ssm.CreateOpsItemInput
	updateCalls []*ssm.UpdateOpsItemInput
	startCalls  []*ssm.StartAutomationExecutionInput
}

func (m *mockSSM) CreateOpsItem(ctx context.Context, params *ssm.CreateOpsItemInput, optFns ...func(*ssm.Options)) (*ssm.CreateOpsItemOutput, error) {
	m.createCalls = append(m.createCalls, params)
	if m.CreateOpsItemFunc != nil {
		return m.CreateOpsItemFunc(ctx, params, optFns...)
	}
	return &ssm.CreateOpsItemOutput{OpsItemId: aws.String("oi-1")}, nil
}

func (m *mockSSM) UpdateOpsItem(ctx context.Context, params *ssm.UpdateOpsItemInput, optFns ...func(*ssm.Options)) (*ssm.UpdateOpsItemOutput, error) {
	m.updateCalls = append(m.updateCalls, params)
	if m.UpdateOpsItemFunc != nil {
		return m.UpdateOpsItemFunc(ctx, params, optFns...)
	}
	return &ssm.UpdateOpsItemOutput{}, nil
}

func (m *mockSSM) StartAutomationExecution(ctx context.Context, params *ssm.StartAutomationExecutionInput, optFns ...func(*ssm.Options)) (*ssm.StartAutomationExecutionOutput, error) {
	m.startCalls = append(m.startCalls, params)
	if m.StartAutomationExecutionFunc != nil {
		return m.StartAutomationExecutionFunc(ctx, params, optFns...)
	}
	return &ssm.StartAutomationExecutionOutput{AutomationExecutionId: aws.String("exec-1")}, nil
}

func (m *mockSSM) SendAutomationSignal(ctx context.Context, params *ssm.SendAutomationSignalInput, optFns ...func(*ssm.Options)) (*ssm.SendAutomationSignalOutput, error) {
	return &ssm.SendAutomationSignalOutput{}, nil
}

type mockTagging struct {
	GetResourcesFunc func(ctx context.Context, params *resourcegroupstaggingapi.GetResourcesInput, optFns ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error)

	calls []*resourcegroupstaggingapi.GetResourcesInput
}

func (m *mockTagging) GetResources(ctx context.Context, params *resourcegroupstaggingapi.GetResourcesInput, optFns ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error) {
	m.calls = append(m.calls, params)
	if m.GetResourcesFunc != nil {
		return m.GetResourcesFunc(ctx, params, optFns...)
	}
	return &resourcegroupstaggingapi.GetResourcesOutput{}, nil
}

// tagged answers GetResources with the given tags on the requested ARN.
func tagged(kv ...string) func(ctx context.Context, params *resourcegroupstaggingapi.GetResourcesInput, optFns ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error) {
	return func(ctx context.Context, params *resourcegroupstaggingapi.GetResourcesInput, optFns ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error) {
		var ts []taggingtypes.Tag
		for i := 0; i+1 < len(kv); i += 2 {
			ts = append(ts, taggingtypes.Tag{Key: aws.String(kv[i]), Value: aws.String(kv[i+1])})
		}
		return &resourcegroupstaggingapi.GetResourcesOutput{
			ResourceTagMappingList: []taggingtypes.ResourceTagMapping{
				{ResourceARN: aws.String(params.ResourceARNList[0]), Tags: ts},
			},
		}, nil
	}
}

type fixture struct {
	ddb *mockDynamoDB
	// ssm serves the home region; regional serves the resource region.
	ssm      *mockSSM
	regional *mockSSM
	tagging  *mockTagging
	cfg      config.ResponderConfig
}

const resourceRegion = "ap-southeast-2"

func newFixture() *fixture {
	return &fixture{
		ddb:      &mockDynamoDB{},
		ssm:      &mockSSM{},
		regional: &mockSSM{},
		tagging:  &mockTagging{},
		cfg: config.ResponderConfig{
			TrackerTable:   "TrustedAdvisorCheckTrackerTable",
			MappingTable:   "AutomationMappingTable",
			ExecutionTable: "AutomationExecutionTrackerTable",
		},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Config: f.cfg,
		Home:   "us-east-1",
		Clients: awsapi.StaticSource{
			"us-east-1":    {Region: "us-east-1", DynamoDB: f.ddb, SSM: f.ssm, Tagging: f.tagging},
			resourceRegion: {Region: resourceRegion, DynamoDB: f.ddb, SSM: f.regional, Tagging: f.tagging},
		},
		Now: func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

// withMapping serves m from the mapping table.
func (f *fixture) withMapping(t *testing.T, m Mapping) {
	t.Helper()
	av, err := attributevalue.MarshalMap(m)
	require.NoError(t, err)
	f.ddb.GetItemFunc = func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
		if aws.ToString(params.TableName) != f.cfg.MappingTable {
			return &dynamodb.GetItemOutput{}, nil
		}
		return &dynamodb.GetItemOutput{Item: av}, nil
	}
}

const (
	sgCheck = "Security groups should not allow unrestricted access to ports with high risk"
	sgARN   = "arn:aws:ec2:ap-southeast-2:123456789012:security-group/sg-0abc123"
)

func sgMapping() Mapping {
	return Mapping{
		CheckName:             sgCheck,
		SSMAutomationDocument: "AWS-DisablePublicAccessForSecurityGroup",
		RegexPattern:          `(sg-\w+)`,
		AutomationParameters:  `{"GroupId": ["$resourceId"], "AutomationAssumeRole": ["arn:aws:iam::123456789012:role/AutomationRole"]}`,
		AutomationStatus:      true,
	}
}

func trackerRecord(eventName string, f Flagged) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventName: eventName,
		AWSRegion: "us-east-1",
		Change: events.DynamoDBStreamRecord{
			NewImage: map[string]events.DynamoDBAttributeValue{
				"checkName":            events.NewStringAttribute(f.CheckName),
				"resource":             events.NewStringAttribute(f.Resource),
				"region":               events.NewStringAttribute(f.Region),
				"hashKey":              events.NewStringAttribute(f.HashKey),
				"resourceStatus":       events.NewStringAttribute("Red"),
				"lastUpdatedTimeEpoch": events.NewNumberAttribute("1715573312"),
			},
		},
	}
}

func streamEvent(t *testing.T, records ...events.DynamoDBEventRecord) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(events.DynamoDBEvent{Records: records})
	require.NoError(t, err)
	return raw
}

func sgFlagged() Flagged {
	return Flagged{
		CheckName: sgCheck,
		Resource:  sgARN,
		Region:    resourceRegion,
		HashKey:   HashKey(sgCheck, sgARN, resourceRegion),
	}
}
