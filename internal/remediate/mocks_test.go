package remediate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/config"
	"github.com/yairfalse/tara/internal/notify"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type mockEC2 struct {
	awsapi.EC2API

	DescribeAddressesFunc func(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	ReleaseAddressFunc    func(ctx context.Context, params *ec2.ReleaseAddressInput, optFns ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error)
	DescribeTagsFunc      func(ctx context.Context, params *ec2.DescribeTagsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error)
	StopInstancesFunc     func(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)

	releaseCalls  []*ec2.ReleaseAddressInput
	snapshotCalls []*ec2.CreateSnapshotInput
	tagCalls      []*ec2.CreateTagsInput
	stopCalls     []*ec2.StopInstancesInput
}

func (m *mockEC2) DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
	if m.DescribeAddressesFunc != nil {
		return m.DescribeAddressesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeAddressesOutput{}, nil
}

func (m *mockEC2) ReleaseAddress(ctx context.Context, params *ec2.ReleaseAddressInput, optFns ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error) {
	m.releaseCalls = append(m.releaseCalls, params)
	if m.ReleaseAddressFunc != nil {
		return m.ReleaseAddressFunc(ctx, params, optFns...)
	}
	return &ec2.ReleaseAddressOutput{}, nil
}

func (m *mockEC2) DescribeTags(ctx context.Context, params *ec2.DescribeTagsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
	if m.DescribeTagsFunc != nil {
		return m.DescribeTagsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeTagsOutput{}, nil
}

func (m *mockEC2) CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error) {
	m.snapshotCalls = append(m.snapshotCalls, params)
	return &ec2.CreateSnapshotOutput{}, nil
}

func (m *mockEC2) CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	m.tagCalls = append(m.tagCalls, params)
	return &ec2.CreateTagsOutput{}, nil
}

func (m *mockEC2) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	m.stopCalls = append(m.stopCalls, params)
	if m.StopInstancesFunc != nil {
		return m.StopInstancesFunc(ctx, params, optFns...)
	}
	return &ec2.StopInstancesOutput{}, nil
}

type mockRDS struct {
	StopDBInstanceFunc func(ctx context.Context, params *rds.StopDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StopDBInstanceOutput, error)

	stopCalls   []*rds.StopDBInstanceInput
	deleteCalls []*rds.DeleteDBInstanceInput
}

func (m *mockRDS) StopDBInstance(ctx context.Context, params *rds.StopDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StopDBInstanceOutput, error) {
	m.stopCalls = append(m.stopCalls, params)
	if m.StopDBInstanceFunc != nil {
		return m.StopDBInstanceFunc(ctx, params, optFns...)
	}
	return &rds.StopDBInstanceOutput{}, nil
}

func (m *mockRDS) DeleteDBInstance(ctx context.Context, params *rds.DeleteDBInstanceInput, optFns ...func(*rds.Options)) (*rds.DeleteDBInstanceOutput, error) {
	m.deleteCalls = append(m.deleteCalls, params)
	return &rds.DeleteDBInstanceOutput{}, nil
}

type mockIAM struct {
	GetAccountPasswordPolicyFunc func(ctx context.Context, params *iam.GetAccountPasswordPolicyInput, optFns ...func(*iam.Options)) (*iam.GetAccountPasswordPolicyOutput, error)

	updateKeyCalls []*iam.UpdateAccessKeyInput
	deleteKeyCalls []*iam.DeleteAccessKeyInput
	getPolicyCalls int
	policyCalls    []*iam.UpdateAccountPasswordPolicyInput
}

func (m *mockIAM) UpdateAccessKey(ctx context.Context, params *iam.UpdateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.UpdateAccessKeyOutput, error) {
	m.updateKeyCalls = append(m.updateKeyCalls, params)
	return &iam.UpdateAccessKeyOutput{}, nil
}

func (m *mockIAM) DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error) {
	m.deleteKeyCalls = append(m.deleteKeyCalls, params)
	return &iam.DeleteAccessKeyOutput{}, nil
}

func (m *mockIAM) GetAccountPasswordPolicy(ctx context.Context, params *iam.GetAccountPasswordPolicyInput, optFns ...func(*iam.Options)) (*iam.GetAccountPasswordPolicyOutput, error) {
	m.getPolicyCalls++
	if m.GetAccountPasswordPolicyFunc != nil {
		return m.GetAccountPasswordPolicyFunc(ctx, params, optFns...)
	}
	return &iam.GetAccountPasswordPolicyOutput{}, nil
}

func (m *mockIAM) UpdateAccountPasswordPolicy(ctx context.Context, params *iam.UpdateAccountPasswordPolicyInput, optFns ...func(*iam.Options)) (*iam.UpdateAccountPasswordPolicyOutput, error) {
	m.policyCalls = append(m.policyCalls, params)
	return &iam.UpdateAccountPasswordPolicyOutput{}, nil
}

type mockS3 struct {
	GetBucketAclFunc                    func(ctx context.Context, params *s3.GetBucketAclInput, optFns ...func(*s3.Options)) (*s3.GetBucketAclOutput, error)
	GetBucketTaggingFunc                func(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error)
	GetBucketLifecycleConfigurationFunc func(ctx context.Context, params *s3.GetBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLifecycleConfigurationOutput, error)

	aclCalls        []*s3.PutBucketAclInput
	versioningCalls []*s3.PutBucketVersioningInput
	lifecycleCalls  []*s3.PutBucketLifecycleConfigurationInput
}

func (m *mockS3) GetBucketAcl(ctx context.Context, params *s3.GetBucketAclInput, optFns ...func(*s3.Options)) (*s3.GetBucketAclOutput, error) {
	if m.GetBucketAclFunc != nil {
		return m.GetBucketAclFunc(ctx, params, optFns...)
	}
	return &s3.GetBucketAclOutput{}, nil
}

func (m *mockS3) PutBucketAcl(ctx context.Context, params *s3.PutBucketAclInput, optFns ...func(*s3.Options)) (*s3.PutBucketAclOutput, error) {
	m.aclCalls = append(m.aclCalls, params)
	return &s3.PutBucketAclOutput{}, nil
}

func (m *mockS3) GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	if m.GetBucketTaggingFunc != nil {
		return m.GetBucketTaggingFunc(ctx, params, optFns...)
	}
	return &s3.GetBucketTaggingOutput{}, nil
}

func (m *mockS3) PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error) {
	m.versioningCalls = append(m.versioningCalls, params)
	return &s3.PutBucketVersioningOutput{}, nil
}

func (m *mockS3) GetBucketLifecycleConfiguration(ctx context.Context, params *s3.GetBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLifecycleConfigurationOutput, error) {
	if m.GetBucketLifecycleConfigurationFunc != nil {
		return m.GetBucketLifecycleConfigurationFunc(ctx, params, optFns...)
	}
	return &s3.GetBucketLifecycleConfigurationOutput{}, nil
}

func (m *mockS3) PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error) {
	m.lifecycleCalls = append(m.lifecycleCalls, params)
	return &s3.PutBucketLifecycleConfigurationOutput{}, nil
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

type mockCloudTrail struct {
	LookupEventsFunc func(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)

	calls []*cloudtrail.LookupEventsInput
}

func (m *mockCloudTrail) LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error) {
	m.calls = append(m.calls, params)
	if m.LookupEventsFunc != nil {
		return m.LookupEventsFunc(ctx, params, optFns...)
	}
	return &cloudtrail.LookupEventsOutput{}, nil
}

// mockRoles records assumed role ARNs.
type mockRoles struct {
	clients *awsapi.Clients
	arns    []string
}

func (m *mockRoles) ForRole(_ context.Context, _, roleARN string) (*awsapi.Clients, error) {
	m.arns = append(m.arns, roleARN)
	return m.clients, nil
}

// recordingSender captures notifications.
type recordingSender struct {
	sent []notify.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg notify.Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

type fixture struct {
	ec2   *mockEC2
	rds   *mockRDS
	iam   *mockIAM
	s3    *mockS3
	trail *mockCloudTrail
	topic *recordingSender
	slack *recordingSender
	cfg   config.RemediationConfig
}

func newFixture() *fixture {
	return &fixture{
		ec2:   &mockEC2{},
		rds:   &mockRDS{},
		iam:   &mockIAM{},
		s3:    &mockS3{},
		trail: &mockCloudTrail{},
		topic: &recordingSender{},
		slack: &recordingSender{},
		cfg: config.RemediationConfig{
			EnableActions:   true,
			AccountID:       "123456789012",
			AccessKeyAction: KeyDeactivate,
			RDSMinAgeDays:   7,
			RDSTermination:  TerminateStop,
			StopRegion:      "all",
			StopTagKey:      "environment",
			StopTagValue:    "dev",
		},
	}
}

func (f *fixture) clients(region string) *awsapi.Clients {
	return &awsapi.Clients{
		Region:     region,
		EC2:        f.ec2,
		RDS:        f.rds,
		IAM:        f.iam,
		S3:         f.s3,
		CloudTrail: f.trail,
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Config: f.cfg,
		Home:   "us-east-1",
		Clients: awsapi.StaticSource{
			"us-east-1": f.clients("us-east-1"),
			"us-west-2": f.clients("us-west-2"),
		},
		Topic: f.topic,
		Slack: f.slack,
		Now:   func() time.Time { return testNow },
	}
}

// checkEvent builds a Trusted Advisor check notification.
func checkEvent(t *testing.T, checkName, status string, item map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"source":  "aws.trustedadvisor",
		"account": "123456789012",
		"time":    "2024-06-01T11:00:00Z",
		"region":  "us-east-1",
		"detail": map[string]any{
			"check-name":        checkName,
			"status":            status,
			"check-item-detail": item,
		},
	})
	require.NoError(t, err)
	return raw
}
