package awsapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/support"
	"github.com/aws/aws-sdk-go-v2/service/wellarchitected"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// Clients is the set of service clients bound to one region.
type Clients struct {
	Region string

	EC2         EC2API
	CloudTrail  CloudTrailAPI
	SNS         SNSAPI
	EventBridge EventBridgeAPI
	Lambda      LambdaAPI
	SES         SESAPI
	STS         STSAPI
	IAM         IAMAPI
	S3          S3API
	RDS         RDSAPI
	DynamoDB    DynamoDBAPI
	SSM         SSMAPI
	Support     SupportAPI
	Tagging     TaggingAPI

	WellArchitected WellArchitectedAPI
}

// NewClients builds every service client from one AWS config.
func NewClients(cfg aws.Config) *Clients {
	return &Clients{
		Region:      cfg.Region,
		EC2:         ec2.NewFromConfig(cfg),
		CloudTrail:  cloudtrail.NewFromConfig(cfg),
		SNS:         sns.NewFromConfig(cfg),
		EventBridge: eventbridge.NewFromConfig(cfg),
		Lambda:      lambda.NewFromConfig(cfg),
		SES:         ses.NewFromConfig(cfg),
		STS:         sts.NewFromConfig(cfg),
		IAM:         iam.NewFromConfig(cfg),
		S3:          s3.NewFromConfig(cfg),
		RDS:         rds.NewFromConfig(cfg),
		DynamoDB:    dynamodb.NewFromConfig(cfg),
		SSM:         ssm.NewFromConfig(cfg),
		Support:     support.NewFromConfig(cfg),
		Tagging:     resourcegroupstaggingapi.NewFromConfig(cfg),

		WellArchitected: wellarchitected.NewFromConfig(cfg),
	}
}

// Source hands out region-scoped clients.
type Source interface {
	For(ctx context.Context, region string) (*Clients, error)
}

// RoleSource hands out clients that act through an assumed IAM role.
type RoleSource interface {
	ForRole(ctx context.Context, region, roleARN string) (*Clients, error)
}

// Pool caches one client set per region. Clients are created lazily on first
// use, since a single invocation usually touches one or two regions.
type Pool struct {
	profile string

	mu      sync.Mutex
	clients map[string]*Clients

	accountOnce sync.Once
	accountID   string
	accountErr  error
	homeRegion  string
}

// NewPool creates a client pool. homeRegion is used for account lookups.
func NewPool(homeRegion, profile string) *Pool {
	return &Pool{
		profile:    profile,
		homeRegion: homeRegion,
		clients:    make(map[string]*Clients),
	}
}

// For returns the client set for region, creating it if needed.
func (p *Pool) For(ctx context.Context, region string) (*Clients, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[region]; ok {
		return c, nil
	}

	cfg, err := p.load(ctx, region)
	if err != nil {
		return nil, err
	}

	c := NewClients(cfg)
	p.clients[region] = c
	return c, nil
}

// ForRole returns an uncached client set that assumes roleARN.
func (p *Pool) ForRole(ctx context.Context, region, roleARN string) (*Clients, error) {
	cfg, err := p.load(ctx, region)
	if err != nil {
		return nil, err
	}

	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = "tara"
	})
	cfg.Credentials = aws.NewCredentialsCache(provider)

	return NewClients(cfg), nil
}

// AccountID resolves the caller's account once per process.
func (p *Pool) AccountID(ctx context.Context) (string, error) {
	p.accountOnce.Do(func() {
		c, err := p.For(ctx, p.homeRegion)
		if err != nil {
			p.accountErr = err
			return
		}
		p.accountID, p.accountErr = CallerAccount(ctx, c.STS)
	})
	return p.accountID, p.accountErr
}

func (p *Pool) load(ctx context.Context, region string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if p.profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(p.profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config for %s: %w", region, err)
	}

	otelaws.AppendMiddlewares(&cfg.APIOptions)
	return cfg, nil
}

// CallerAccount returns the account ID of the calling identity.
func CallerAccount(ctx context.Context, client STSAPI) (string, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	return aws.ToString(out.Account), nil
}

// StaticSource serves fixed client sets. Useful for tests and for the CLI
// when a single region is pinned.
type StaticSource map[string]*Clients

// For implements Source.
func (s StaticSource) For(_ context.Context, region string) (*Clients, error) {
	c, ok := s[region]
	if !ok {
		return nil, fmt.Errorf("no clients for region %s", region)
	}
	return c, nil
}
