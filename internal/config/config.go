// Package config handles TOML and Lambda environment configuration for tara.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Activity policies for the idle volume audit-trail check.
const (
	PolicyMostRecent = "most-recent"
	PolicyAnyEvent   = "any-event"
)

// Store backends.
const (
	BackendNone     = "none"
	BackendDynamoDB = "dynamodb"
	BackendBolt     = "bolt"
)

// Config is the root configuration structure.
type Config struct {
	AWS         AWSConfig         `toml:"aws"`
	OTEL        OTELConfig        `toml:"otel"`
	Log         LogConfig         `toml:"log"`
	Store       StoreConfig       `toml:"store"`
	Volume      VolumeConfig      `toml:"volume"`
	Remediation RemediationConfig `toml:"remediation"`
	Responder   ResponderConfig   `toml:"responder"`
	Review      ReviewConfig      `toml:"review"`
}

// AWSConfig holds account-wide AWS settings.
type AWSConfig struct {
	HomeRegion   string `toml:"home_region" validate:"required"`
	Profile      string `toml:"profile"`
	FunctionName string `toml:"function_name" validate:"required"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level   string `toml:"level" validate:"oneof=trace debug info warn error"`
	Console bool   `toml:"console"`
}

// StoreConfig selects where lifecycle state records are kept.
type StoreConfig struct {
	Backend string `toml:"backend" validate:"oneof=none dynamodb bolt"`
	Table   string `toml:"table" validate:"required_if=Backend dynamodb"`
	Path    string `toml:"path" validate:"required_if=Backend bolt"`
}

// VolumeConfig drives the idle EBS volume lifecycle. It is loaded once and
// passed to every decision function.
type VolumeConfig struct {
	IdleThreshDays int    `toml:"idle_thresh_days" validate:"gte=1"`
	IgnoreTag      string `toml:"ignore_tag"`
	IgnoreTagVal   string `toml:"ignore_tag_val"`
	MailtoOwnerTag string `toml:"mailto_owner_tag"`
	MailTo         string `toml:"mail_to" validate:"omitempty,email"`
	FromEmail      string `toml:"from_email" validate:"omitempty,email"`
	EnableActions  bool   `toml:"enable_actions"`
	ActivityPolicy string `toml:"activity_policy" validate:"oneof=most-recent any-event"`
}

// RemediationConfig holds settings shared by the single-call remediation handlers.
type RemediationConfig struct {
	EnableActions     bool   `toml:"enable_actions"`
	AccountID         string `toml:"account_id"`
	TopicARN          string `toml:"topic_arn"`
	SlackWebhookURL   string `toml:"slack_webhook_url" validate:"omitempty,url"`
	AccessKeyAction   string `toml:"access_key_action" validate:"oneof=deactivate delete"`
	RDSMinAgeDays     int    `toml:"rds_min_age_days" validate:"gte=0"`
	RDSTermination    string `toml:"rds_termination_method" validate:"oneof=stop delete"`
	LifecycleRoleName string `toml:"lifecycle_role_name"`
	StopRegion        string `toml:"stop_region"`
	StopTagKey        string `toml:"stop_tag_key"`
	StopTagValue      string `toml:"stop_tag_value"`
}

// ResponderConfig holds the Trusted Advisor responder table names.
type ResponderConfig struct {
	TrackerTable         string `toml:"tracker_table"`
	MappingTable         string `toml:"mapping_table"`
	ExecutionTable       string `toml:"execution_table"`
	GenAIRecommendations bool   `toml:"gen_ai_recommendations"`
	InvokeModelRole      string `toml:"invoke_model_role" validate:"required_if=GenAIRecommendations true"`
}

// ReviewConfig holds settings for the Well-Architected review report.
type ReviewConfig struct {
	// MappingRegion is where the temporary workload used to map checks to
	// best practices is created.
	MappingRegion string `toml:"mapping_region"`

	// PopulateWait is how long to wait for Trusted Advisor checks to show up
	// on a freshly created workload.
	PopulateWait time.Duration `toml:"populate_wait"`

	LookupRisk  bool   `toml:"lookup_risk"`
	RiskDocsURL string `toml:"risk_docs_url" validate:"omitempty,url"`
}

var validate = validator.New()

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.FunctionName == "" {
		cfg.AWS.FunctionName = "TAEBSVolumeSnapDelete"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "tara"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendNone
	}

	v := &cfg.Volume
	if v.IdleThreshDays == 0 {
		v.IdleThreshDays = 90
	}
	if v.IgnoreTag == "" {
		v.IgnoreTag = "ignoreEBSidle"
	}
	if v.IgnoreTagVal == "" {
		v.IgnoreTagVal = "False"
	}
	if v.MailtoOwnerTag == "" {
		v.MailtoOwnerTag = "Owner"
	}
	if v.ActivityPolicy == "" {
		v.ActivityPolicy = PolicyMostRecent
	}

	r := &cfg.Remediation
	if r.AccessKeyAction == "" {
		r.AccessKeyAction = "deactivate"
	}
	if r.RDSTermination == "" {
		r.RDSTermination = "stop"
	}
	if r.StopRegion == "" {
		r.StopRegion = "all"
	}
	if r.StopTagKey == "" {
		r.StopTagKey = "environment"
	}
	if r.StopTagValue == "" {
		r.StopTagValue = "dev"
	}

	rv := &cfg.Review
	if rv.MappingRegion == "" {
		rv.MappingRegion = "us-east-1"
	}
	if rv.RiskDocsURL == "" {
		rv.RiskDocsURL = "https://docs.aws.amazon.com/wellarchitected/latest"
	}

	rs := &cfg.Responder
	if rs.TrackerTable == "" {
		rs.TrackerTable = "TrustedAdvisorCheckTrackerTable"
	}
	if rs.MappingTable == "" {
		rs.MappingTable = "AutomationMappingTable"
	}
	if rs.ExecutionTable == "" {
		rs.ExecutionTable = "AutomationExecutionTrackerTable"
	}
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Volume.MailTo != "" && c.Volume.FromEmail == "" {
		return fmt.Errorf("volume: from_email required when mail_to is set")
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q check (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
