package config

import (
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
)

// Env is the Lambda environment. Variable names match the deployed
// CloudFormation templates, so they are not uniformly cased.
type Env struct {
	Region       string `env:"AWS_REGION,default=us-east-1"`
	FunctionName string `env:"AWS_LAMBDA_FUNCTION_NAME,default=TAEBSVolumeSnapDelete"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`

	OTELEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE,default=false"`
	ServiceName  string `env:"OTEL_SERVICE_NAME,default=tara"`

	StateBackend string `env:"STATE_BACKEND,default=none"`
	StateTable   string `env:"STATE_TABLE"`

	IdleThresh     int    `env:"IdleThresh,default=90"`
	IgnoreTag      string `env:"IgnoreTag,default=ignoreEBSidle"`
	IgnoreTagVal   string `env:"IgnoreTagVal,default=False"`
	MailtoOwnerTag string `env:"MailtoOwnerTag,default=Owner"`
	MailTo         string `env:"MailTo"`
	FromEmail      string `env:"FromEmail"`
	EnableActions  bool   `env:"EnableActions,default=false"`
	ActivityPolicy string `env:"ActivityPolicy,default=most-recent"`

	AccountID         string `env:"ACCOUNT_ID"`
	TopicARN          string `env:"TOPIC_ARN"`
	RDSTopicARN       string `env:"SNS_TOPIC_ARN"`
	SlackWebhookURL   string `env:"SlackWebhook_URL"`
	AccessKeyAction   string `env:"ACCESS_KEY_ACTION,default=deactivate"`
	MinAge            int    `env:"MIN_AGE,default=7"`
	TerminationMethod string `env:"TERMINATION_METHOD,default=stop"`
	LifecycleRoleName string `env:"LIFECYCLE_ROLE_NAME"`
	StopRegion        string `env:"STOP_REGION,default=all"`
	StopTagKey        string `env:"STOP_TAG_KEY,default=environment"`
	StopTagValue      string `env:"STOP_TAG_VALUE,default=dev"`

	GenAIRecommendations bool   `env:"GEN_AI_RECOMMENDATIONS_ENABLED,default=false"`
	InvokeModelRole      string `env:"AUTOMATION_DOCUMENT_INVOKE_MODEL_ROLE"`

	ReviewMappingRegion string        `env:"REVIEW_MAPPING_REGION,default=us-east-1"`
	ReviewPopulateWait  time.Duration `env:"REVIEW_POPULATE_WAIT,default=30s"`
	ReviewLookupRisk    bool          `env:"REVIEW_LOOKUP_RISK,default=true"`
	ReviewRiskDocsURL   string        `env:"REVIEW_RISK_DOCS_URL"`
}

// FromEnviron builds a Config from the process environment.
func FromEnviron() (*Config, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return FromEnvSet(es)
}

// FromEnvSet builds a Config from an explicit variable set.
func FromEnvSet(es env.EnvSet) (*Config, error) {
	var e Env
	if err := env.Unmarshal(es, &e); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	topic := e.TopicARN
	if topic == "" {
		topic = e.RDSTopicARN
	}

	cfg := &Config{
		AWS: AWSConfig{
			HomeRegion:   e.Region,
			FunctionName: e.FunctionName,
		},
		OTEL: OTELConfig{
			Endpoint:    e.OTELEndpoint,
			Insecure:    e.OTELInsecure,
			ServiceName: e.ServiceName,
			Traces:      TracesConfig{Enabled: e.OTELEndpoint != "", SampleRate: 1.0},
			Metrics:     MetricsConfig{Enabled: e.OTELEndpoint != ""},
		},
		Log: LogConfig{Level: e.LogLevel},
		Store: StoreConfig{
			Backend: e.StateBackend,
			Table:   e.StateTable,
		},
		Volume: VolumeConfig{
			IdleThreshDays: e.IdleThresh,
			IgnoreTag:      e.IgnoreTag,
			IgnoreTagVal:   e.IgnoreTagVal,
			MailtoOwnerTag: e.MailtoOwnerTag,
			MailTo:         e.MailTo,
			FromEmail:      e.FromEmail,
			EnableActions:  e.EnableActions,
			ActivityPolicy: e.ActivityPolicy,
		},
		Remediation: RemediationConfig{
			EnableActions:     e.EnableActions,
			AccountID:         e.AccountID,
			TopicARN:          topic,
			SlackWebhookURL:   e.SlackWebhookURL,
			AccessKeyAction:   e.AccessKeyAction,
			RDSMinAgeDays:     e.MinAge,
			RDSTermination:    e.TerminationMethod,
			LifecycleRoleName: e.LifecycleRoleName,
			StopRegion:        e.StopRegion,
			StopTagKey:        e.StopTagKey,
			StopTagValue:      e.StopTagValue,
		},
		Responder: ResponderConfig{
			GenAIRecommendations: e.GenAIRecommendations,
			InvokeModelRole:      e.InvokeModelRole,
		},
		Review: ReviewConfig{
			MappingRegion: e.ReviewMappingRegion,
			PopulateWait:  e.ReviewPopulateWait,
			LookupRisk:    e.ReviewLookupRisk,
			RiskDocsURL:   e.ReviewRiskDocsURL,
		},
	}

	applyDefaults(cfg)
	return cfg, nil
}
