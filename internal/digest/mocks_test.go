package digest

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/support"
	"github.com/aws/aws-sdk-go-v2/service/wellarchitected"
)

type mockSupport struct {
	DescribeChecksFunc      func(ctx context.Context, params *support.DescribeTrustedAdvisorChecksInput, optFns ...func(*support.Options)) (*support.DescribeTrustedAdvisorChecksOutput, error)
	DescribeSummariesFunc   func(ctx context.Context, params *support.DescribeTrustedAdvisorCheckSummariesInput, optFns ...func(*support.Options)) (*support.DescribeTrustedAdvisorCheckSummariesOutput, error)
	DescribeCheckResultFunc func(ctx context.Context, params *support.DescribeTrustedAdvisorCheckResultInput, optFns ...func(*support.Options)) (*support.DescribeTrustedAdvisorCheckResultOutput, error)

	checksCalls    []*support.DescribeTrustedAdvisorChecksInput
	summariesCalls []*support.DescribeTrustedAdvisorCheckSummariesInput
	resultCalls    []*support.DescribeTrustedAdvisorCheckResultInput
}

func (m *mockSupport) DescribeTrustedAdvisorChecks(ctx context.Context, params *support.DescribeTrustedAdvisorChecksInput, optFns ...func(*support.Options)) (*support.DescribeTrustedAdvisorChecksOutput, error) {
	m.checksCalls = append(m.checksCalls, params)
	if m.DescribeChecksFunc != nil {
		return m.DescribeChecksFunc(ctx, params, optFns...)
	}
	return &support.DescribeTrustedAdvisorChecksOutput{}, nil
}

func (m *mockSupport) DescribeTrustedAdvisorCheckSummaries(ctx context.Context, params *support.DescribeTrustedAdvisorCheckSummariesInput, optFns ...func(*support.Options)) (*support.DescribeTrustedAdvisorCheckSummariesOutput, error) {
	m.summariesCalls = append(m.summariesCalls, params)
	if m.DescribeSummariesFunc != nil {
		return m.DescribeSummariesFunc(ctx, params, optFns...)
	}
	return &support.DescribeTrustedAdvisorCheckSummariesOutput{}, nil
}

func (m *mockSupport) DescribeTrustedAdvisorCheckResult(ctx context.Context, params *support.DescribeTrustedAdvisorCheckResultInput, optFns ...func(*support.Options)) (*support.DescribeTrustedAdvisorCheckResultOutput, error) {
	m.resultCalls = append(m.resultCalls, params)
	if m.DescribeCheckResultFunc != nil {
		return m.DescribeCheckResultFunc(ctx, params, optFns...)
	}
	return &support.DescribeTrustedAdvisorCheckResultOutput{}, nil
}

type mockSTS struct {
	calls int
}

func (m *mockSTS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	m.calls++
	return &sts.GetCallerIdentityOutput{Account: aws.String("123456789012")}, nil
}

type mockWellArchitected struct {
	CreateWorkloadFunc   func(ctx context.Context, params *wellarchitected.CreateWorkloadInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.CreateWorkloadOutput, error)
	GetWorkloadFunc      func(ctx context.Context, params *wellarchitected.GetWorkloadInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.GetWorkloadOutput, error)
	GetLensFunc          func(ctx context.Context, params *wellarchitected.GetLensInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.GetLensOutput, error)
	ListAnswersFunc      func(ctx context.Context, params *wellarchitected.ListAnswersInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.ListAnswersOutput, error)
	ListCheckDetailsFunc func(ctx context.Context, params *wellarchitected.ListCheckDetailsInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.ListCheckDetailsOutput, error)
	UpdateAnswerFunc     func(ctx context.Context, params *wellarchitected.UpdateAnswerInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.UpdateAnswerOutput, error)

	createCalls []*wellarchitected.CreateWorkloadInput
	deleteCalls []*wellarchitected.DeleteWorkloadInput
	answerCalls []*wellarchitected.ListAnswersInput
	detailCalls []*wellarchitected.ListCheckDetailsInput
	updateCalls []*wellarchitected.UpdateAnswerInput
}

func (m *mockWellArchitected) CreateWorkload(ctx context.Context, params *wellarchitected.CreateWorkloadInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.CreateWorkloadOutput, error) {
	m.createCalls = append(m.createCalls, params)
	if m.CreateWorkloadFunc != nil {
		return m.CreateWorkloadFunc(ctx, params, optFns...)
	}
	return &wellarchitected.CreateWorkloadOutput{WorkloadId: aws.String("wl-1")}, nil
}

func (m *mockWellArchitected) GetWorkload(ctx context.Context, params *wellarchitected.GetWorkloadInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.GetWorkloadOutput, error) {
	if m.GetWorkloadFunc != nil {
		return m.GetWorkloadFunc(ctx, params, optFns...)
	}
	return &wellarchitected.GetWorkloadOutput{}, nil
}

func (m *mockWellArchitected) DeleteWorkload(ctx context.Context, params *wellarchitected.DeleteWorkloadInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.DeleteWorkloadOutput, error) {
	m.deleteCalls = append(m.deleteCalls, params)
	return &wellarchitected.DeleteWorkloadOutput{}, nil
}

func (m *mockWellArchitected) GetLens(ctx context.Context, params *wellarchitected.GetLensInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.GetLensOutput, error) {
	if m.GetLensFunc != nil {
		return m.GetLensFunc(ctx, params, optFns...)
	}
	return &wellarchitected.GetLensOutput{}, nil
}

func (m *mockWellArchitected) ListAnswers(ctx context.Context, params *wellarchitected.ListAnswersInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.ListAnswersOutput, error) {
	m.answerCalls = append(m.answerCalls, params)
	if m.ListAnswersFunc != nil {
		return m.ListAnswersFunc(ctx, params, optFns...)
	}
	return &wellarchitected.ListAnswersOutput{}, nil
}

func (m *mockWellArchitected) ListCheckDetails(ctx context.Context, params *wellarchitected.ListCheckDetailsInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.ListCheckDetailsOutput, error) {
	cp := *params
	m.detailCalls = append(m.detailCalls, &cp)
	if m.ListCheckDetailsFunc != nil {
		return m.ListCheckDetailsFunc(ctx, params, optFns...)
	}
	return &wellarchitected.ListCheckDetailsOutput{}, nil
}

func (m *mockWellArchitected) UpdateAnswer(ctx context.Context, params *wellarchitected.UpdateAnswerInput, optFns ...func(*wellarchitected.Options)) (*wellarchitected.UpdateAnswerOutput, error) {
	m.updateCalls = append(m.updateCalls, params)
	if m.UpdateAnswerFunc != nil {
		return m.UpdateAnswerFunc(ctx, params, optFns...)
	}
	return &wellarchitected.UpdateAnswerOutput{}, nil
}

type storedObject struct {
	Bucket      string
	Key         string
	ContentType string
	Body        string
}

type mockS3 struct {
	PutObjectFunc func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)

	puts []storedObject
}

func (m *mockS3) GetBucketAcl(ctx context.Context, params *s3.GetBucketAclInput, optFns ...func(*s3.Options)) (*s3.GetBucketAclOutput, error) {
	return &s3.GetBucketAclOutput{}, nil
}

func (m *mockS3) PutBucketAcl(ctx context.Context, params *s3.PutBucketAclInput, optFns ...func(*s3.Options)) (*s3.PutBucketAclOutput, error) {
	return &s3.PutBucketAclOutput{}, nil
}

func (m *mockS3) GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	return &s3.GetBucketTaggingOutput{}, nil
}

func (m *mockS3) PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error) {
	return &s3.PutBucketVersioningOutput{}, nil
}

func (m *mockS3) GetBucketLifecycleConfiguration(ctx context.Context, params *s3.GetBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLifecycleConfigurationOutput, error) {
	return &s3.GetBucketLifecycleConfigurationOutput{}, nil
}

func (m *mockS3) PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error) {
	return &s3.PutBucketLifecycleConfigurationOutput{}, nil
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, params, optFns...)
	}
	body, _ := io.ReadAll(params.Body)
	m.puts = append(m.puts, storedObject{
		Bucket:      aws.ToString(params.Bucket),
		Key:         aws.ToString(params.Key),
		ContentType: aws.ToString(params.ContentType),
		Body:        string(body),
	})
	return &s3.PutObjectOutput{}, nil
}

type mockSSM struct {
	signals []*ssm.SendAutomationSignalInput
}

func (m *mockSSM) CreateOpsItem(ctx context.Context, params *ssm.CreateOpsItemInput, optFns ...func(*ssm.Options)) (*ssm.CreateOpsItemOutput, error) {
	return &ssm.CreateOpsItemOutput{}, nil
}

func (m *mockSSM) UpdateOpsItem(ctx context.Context, params *ssm.UpdateOpsItemInput, optFns ...func(*ssm.Options)) (*ssm.UpdateOpsItemOutput, error) {
	return &ssm.UpdateOpsItemOutput{}, nil
}

func (m *mockSSM) StartAutomationExecution(ctx context.Context, params *ssm.StartAutomationExecutionInput, optFns ...func(*ssm.Options)) (*ssm.StartAutomationExecutionOutput, error) {
	return &ssm.StartAutomationExecutionOutput{}, nil
}

func (m *mockSSM) SendAutomationSignal(ctx context.Context, params *ssm.SendAutomationSignalInput, optFns ...func(*ssm.Options)) (*ssm.SendAutomationSignalOutput, error) {
	m.signals = append(m.signals, params)
	return &ssm.SendAutomationSignalOutput{}, nil
}

type mockSNS struct {
	published []*sns.PublishInput
}

func (m *mockSNS) CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
	return &sns.CreateTopicOutput{}, nil
}

func (m *mockSNS) Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	return &sns.SubscribeOutput{}, nil
}

func (m *mockSNS) SetTopicAttributes(ctx context.Context, params *sns.SetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.SetTopicAttributesOutput, error) {
	return &sns.SetTopicAttributesOutput{}, nil
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.published = append(m.published, params)
	return &sns.PublishOutput{}, nil
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
