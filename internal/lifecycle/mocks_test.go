package lifecycle

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/yairfalse/tara/internal/notify"
)

type mockEC2 struct {
	DescribeVolumesFunc   func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeSnapshotsFunc func(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	CreateSnapshotFunc    func(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	DeleteVolumeFunc      func(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)

	createSnapshotCalls []*ec2.CreateSnapshotInput
	deleteVolumeCalls   []*ec2.DeleteVolumeInput
}

func (m *mockEC2) DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	if m.DescribeVolumesFunc != nil {
		return m.DescribeVolumesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeVolumesOutput{}, nil
}

func (m *mockEC2) DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
	if m.DescribeSnapshotsFunc != nil {
		return m.DescribeSnapshotsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeSnapshotsOutput{}, nil
}

func (m *mockEC2) CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error) {
	m.createSnapshotCalls = append(m.createSnapshotCalls, params)
	if m.CreateSnapshotFunc != nil {
		return m.CreateSnapshotFunc(ctx, params, optFns...)
	}
	return &ec2.CreateSnapshotOutput{SnapshotId: aws.String("snap-new")}, nil
}

func (m *mockEC2) DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
	m.deleteVolumeCalls = append(m.deleteVolumeCalls, params)
	if m.DeleteVolumeFunc != nil {
		return m.DeleteVolumeFunc(ctx, params, optFns...)
	}
	return &ec2.DeleteVolumeOutput{}, nil
}

func (m *mockEC2) DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
	return &ec2.DescribeAddressesOutput{}, nil
}

func (m *mockEC2) ReleaseAddress(ctx context.Context, params *ec2.ReleaseAddressInput, optFns ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error) {
	return &ec2.ReleaseAddressOutput{}, nil
}

func (m *mockEC2) DescribeTags(ctx context.Context, params *ec2.DescribeTagsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
	return &ec2.DescribeTagsOutput{}, nil
}

func (m *mockEC2) CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	return &ec2.CreateTagsOutput{}, nil
}

func (m *mockEC2) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	return &ec2.StopInstancesOutput{}, nil
}

type mockCloudTrail struct {
	LookupEventsFunc func(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

func (m *mockCloudTrail) LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error) {
	if m.LookupEventsFunc != nil {
		return m.LookupEventsFunc(ctx, params, optFns...)
	}
	return &cloudtrail.LookupEventsOutput{}, nil
}

type mockSNS struct {
	mu                 sync.Mutex
	createTopicCalls   int
	subscribeCalls     []*sns.SubscribeInput
	setAttributesCalls []*sns.SetTopicAttributesInput

	CreateTopicFunc func(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
}

func (m *mockSNS) CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
	m.mu.Lock()
	m.createTopicCalls++
	m.mu.Unlock()
	if m.CreateTopicFunc != nil {
		return m.CreateTopicFunc(ctx, params, optFns...)
	}
	return &sns.CreateTopicOutput{
		TopicArn: aws.String("arn:aws:sns:us-west-2:123456789012:" + aws.ToString(params.Name)),
	}, nil
}

func (m *mockSNS) Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	m.subscribeCalls = append(m.subscribeCalls, params)
	return &sns.SubscribeOutput{}, nil
}

func (m *mockSNS) SetTopicAttributes(ctx context.Context, params *sns.SetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.SetTopicAttributesOutput, error) {
	m.setAttributesCalls = append(m.setAttributesCalls, params)
	return &sns.SetTopicAttributesOutput{}, nil
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return &sns.PublishOutput{}, nil
}

type mockEventBridge struct {
	DescribeRuleFunc func(ctx context.Context, params *eventbridge.DescribeRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error)
	PutTargetsFunc   func(ctx context.Context, params *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)

	putRuleCalls    []*eventbridge.PutRuleInput
	putTargetsCalls []*eventbridge.PutTargetsInput
}

func (m *mockEventBridge) DescribeRule(ctx context.Context, params *eventbridge.DescribeRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error) {
	if m.DescribeRuleFunc != nil {
		return m.DescribeRuleFunc(ctx, params, optFns...)
	}
	return &eventbridge.DescribeRuleOutput{}, nil
}

func (m *mockEventBridge) PutRule(ctx context.Context, params *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error) {
	m.putRuleCalls = append(m.putRuleCalls, params)
	return &eventbridge.PutRuleOutput{}, nil
}

func (m *mockEventBridge) PutTargets(ctx context.Context, params *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error) {
	m.putTargetsCalls = append(m.putTargetsCalls, params)
	if m.PutTargetsFunc != nil {
		return m.PutTargetsFunc(ctx, params, optFns...)
	}
	return &eventbridge.PutTargetsOutput{}, nil
}

type mockLambda struct {
	AddPermissionFunc func(ctx context.Context, params *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error)

	addPermissionCalls []*lambda.AddPermissionInput
}

func (m *mockLambda) AddPermission(ctx context.Context, params *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error) {
	m.addPermissionCalls = append(m.addPermissionCalls, params)
	if m.AddPermissionFunc != nil {
		return m.AddPermissionFunc(ctx, params, optFns...)
	}
	return &lambda.AddPermissionOutput{}, nil
}

// recordingMailer captures sent messages.
type recordingMailer struct {
	sent []notify.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

// fakeEnsurer counts EnsureRegion calls.
type fakeEnsurer struct {
	regions []string
	err     error
}

func (f *fakeEnsurer) EnsureRegion(_ context.Context, region string) error {
	f.regions = append(f.regions, region)
	return f.err
}
