package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/store"
)

// Names of the per-region plumbing that routes snapshot completions home.
const (
	TopicName         = "TAEBSVolSnapDelTopic"
	RuleName          = "EBSSnapshotComplete"
	RuleDescription   = "Snapshot complete Notification"
	SnapshotRuleEvent = `{"detail-type":["EBS Snapshot Notification"],"detail":{"event":["createSnapshot"],"result":["succeeded"]}}`
)

// RegionEnsurer makes sure a region forwards snapshot completions.
type RegionEnsurer interface {
	EnsureRegion(ctx context.Context, region string) error
}

// AccountFunc resolves the current AWS account ID.
type AccountFunc func(ctx context.Context) (string, error)

// Bootstrapper creates, once per region, the SNS topic, EventBridge rule
// and Lambda permission that deliver snapshot completion events back to the
// home-region function.
type Bootstrapper struct {
	home         string
	functionName string
	clients      awsapi.Source
	store        store.Store
	account      AccountFunc

	mu         sync.Mutex
	configured map[string]bool
}

// NewBootstrapper creates a region bootstrapper. A nil store is treated as
// store.Nop.
func NewBootstrapper(home, functionName string, clients awsapi.Source, st store.Store, account AccountFunc) *Bootstrapper {
	if st == nil {
		st = store.Nop{}
	}
	return &Bootstrapper{
		home:         home,
		functionName: functionName,
		clients:      clients,
		store:        st,
		account:      account,
		configured:   make(map[string]bool),
	}
}

// EnsureRegion converges region to the expected plumbing. It is idempotent
// and safe to call concurrently.
func (b *Bootstrapper) EnsureRegion(ctx context.Context, region string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.configured[region] {
		return nil
	}

	done, err := b.store.RegionConfigured(ctx, region)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("region", region).Msg("failed to read region marker")
	}
	if done {
		b.configured[region] = true
		return nil
	}

	topicARN, err := b.converge(ctx, region)
	if err != nil {
		return err
	}

	if err := b.store.MarkRegionConfigured(ctx, region, topicARN); err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("region", region).Msg("failed to persist region marker")
	}
	b.configured[region] = true

	log.Info().Ctx(ctx).
		Str("region", region).
		Str("topic_arn", topicARN).
		Msg("region bootstrap complete")
	return nil
}

func (b *Bootstrapper) converge(ctx context.Context, region string) (string, error) {
	rc, err := b.clients.For(ctx, region)
	if err != nil {
		return "", err
	}
	hc, err := b.clients.For(ctx, b.home)
	if err != nil {
		return "", err
	}

	topic, err := rc.SNS.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(TopicName)})
	if err != nil {
		return "", fmt.Errorf("create topic in %s: %w", region, err)
	}
	topicARN := aws.ToString(topic.TopicArn)

	if err := b.allowInvoke(ctx, hc.Lambda, region, topicARN); err != nil {
		return "", err
	}

	functionARN, err := b.functionARN(ctx)
	if err != nil {
		return "", err
	}
	_, err = rc.SNS.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(topicARN),
		Protocol: aws.String("lambda"),
		Endpoint: aws.String(functionARN),
	})
	if err != nil {
		return "", fmt.Errorf("subscribe %s to %s: %w", functionARN, topicARN, err)
	}

	if err := ensureRule(ctx, rc.EventBridge, topicARN); err != nil {
		return "", fmt.Errorf("ensure rule in %s: %w", region, err)
	}

	policy, err := topicPolicy(topicARN)
	if err != nil {
		return "", err
	}
	_, err = rc.SNS.SetTopicAttributes(ctx, &sns.SetTopicAttributesInput{
		TopicArn:       aws.String(topicARN),
		AttributeName:  aws.String("Policy"),
		AttributeValue: aws.String(policy),
	})
	if err != nil {
		return "", fmt.Errorf("set topic policy on %s: %w", topicARN, err)
	}

	return topicARN, nil
}

func (b *Bootstrapper) allowInvoke(ctx context.Context, client awsapi.LambdaAPI, region, topicARN string) error {
	_, err := client.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName: aws.String(b.functionName),
		StatementId:  aws.String(region),
		Action:       aws.String("lambda:InvokeFunction"),
		Principal:    aws.String("sns.amazonaws.com"),
		SourceArn:    aws.String(topicARN),
	})
	if err == nil {
		return nil
	}

	var conflict *lambdatypes.ResourceConflictException
	if errors.As(err, &conflict) || awsapi.IsCode(err, awsapi.CodeResourceConflict) {
		return nil
	}
	return fmt.Errorf("add invoke permission for %s: %w", topicARN, err)
}

func (b *Bootstrapper) functionARN(ctx context.Context) (string, error) {
	account, err := b.account(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve account: %w", err)
	}
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", b.home, account, b.functionName), nil
}

// ensureRule creates the snapshot rule when it is missing and points it at
// the topic. Targets are put on every call so a rule left without one by an
// earlier partial run is repaired.
func ensureRule(ctx context.Context, client awsapi.EventBridgeAPI, topicARN string) error {
	_, err := client.DescribeRule(ctx, &eventbridge.DescribeRuleInput{Name: aws.String(RuleName)})
	if err != nil {
		var notFound *ebtypes.ResourceNotFoundException
		if !errors.As(err, &notFound) && !awsapi.IsCode(err, awsapi.CodeNotFound) {
			return fmt.Errorf("describe rule: %w", err)
		}

		_, err = client.PutRule(ctx, &eventbridge.PutRuleInput{
			Name:         aws.String(RuleName),
			Description:  aws.String(RuleDescription),
			EventPattern: aws.String(SnapshotRuleEvent),
			State:        ebtypes.RuleStateEnabled,
		})
		if err != nil {
			return fmt.Errorf("put rule: %w", err)
		}
	}

	out, err := client.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule: aws.String(RuleName),
		Targets: []ebtypes.Target{{
			Id:  aws.String(TopicName),
			Arn: aws.String(topicARN),
		}},
	})
	if err != nil {
		return fmt.Errorf("put targets: %w", err)
	}
	if out != nil && out.FailedEntryCount > 0 {
		return fmt.Errorf("put targets: %d failed entries", out.FailedEntryCount)
	}
	return nil
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string            `json:"Sid"`
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal"`
	Action    string            `json:"Action"`
	Resource  string            `json:"Resource"`
}

func topicPolicy(topicARN string) (string, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "TrustCloudWatchRules",
			Effect:    "Allow",
			Principal: map[string]string{"Service": "events.amazonaws.com"},
			Action:    "sns:Publish",
			Resource:  topicARN,
		}},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal topic policy: %w", err)
	}
	return string(data), nil
}
