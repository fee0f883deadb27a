// Package remediate holds the single-call Trusted Advisor remediation
// handlers. Each handler reads one check item, decides whether it applies,
// makes at most a couple of mutating API calls and reports what it did.
//
// With actions disabled every handler runs in report-only mode: EC2 calls
// are sent with DryRun set and other services are not called at all.
package remediate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/config"
	"github.com/yairfalse/tara/internal/event"
	"github.com/yairfalse/tara/internal/handler"
	"github.com/yairfalse/tara/internal/notify"
	"github.com/yairfalse/tara/internal/telemetry"
)

// Deps are the collaborators shared by every remediation handler.
type Deps struct {
	Config  config.RemediationConfig
	Home    string
	Clients awsapi.Source
	Roles   awsapi.RoleSource
	Topic   notify.Sender
	Slack   notify.Sender
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

// Result reports one remediation.
type Result struct {
	Handler  string `json:"handler"`
	Resource string `json:"resource"`
	Action   string `json:"action,omitempty"`
	Outcome  string `json:"outcome"`
	Message  string `json:"message"`
}

// All returns every remediation handler bound to d.
func All(d Deps) []handler.Handler {
	return []handler.Handler{
		NewEIPRelease(d),
		NewRDSIdle(d),
		NewExposedKey(d),
		NewS3PublicACL(d),
		NewS3Versioning(d),
		NewS3Lifecycle(d),
		NewPasswordPolicy(d),
		NewEBSSnapshot(d),
		NewLowUtilization(d),
	}
}

func parseCheck(raw json.RawMessage) (*event.Check, error) {
	return event.ParseCheck(event.Unwrap(raw))
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// clients returns the client set for region, falling back to the home
// region for global services.
func (d *Deps) clients(ctx context.Context, region string) (*awsapi.Clients, error) {
	if region == "" {
		region = d.Home
	}
	return d.Clients.For(ctx, region)
}

func (d *Deps) account(chk *event.Check) string {
	if d.Config.AccountID != "" {
		return d.Config.AccountID
	}
	return chk.Account
}

func skipped(name, resource, msg string) *Result {
	log.Info().Str("handler", name).Str("resource", resource).Msg(msg)
	return &Result{Handler: name, Resource: resource, Outcome: telemetry.OutcomeSkipped, Message: msg}
}

// reportOnly records an action that was not made because actions are
// disabled.
func (d *Deps) reportOnly(ctx context.Context, r *Result) *Result {
	r.Outcome = telemetry.OutcomeDryRun
	r.Message = "actions disabled: " + r.Message
	d.Metrics.RecordAction(ctx, r.Handler, r.Action, r.Outcome)
	telemetry.RecordActionEvent(trace.SpanFromContext(ctx), r.Handler, r.Resource, r.Action, true)
	log.Info().Ctx(ctx).
		Str("handler", r.Handler).
		Str("resource", r.Resource).
		Str("action", r.Action).
		Msg(r.Message)
	return r
}

// finish classifies the error from the mutating call described by r. A
// permitted EC2 dry run counts as success.
func (d *Deps) finish(ctx context.Context, r *Result, dryRun bool, err error) (*Result, error) {
	switch {
	case err == nil:
		r.Outcome = telemetry.OutcomeApplied
	case awsapi.IsDryRun(err):
		r.Outcome = telemetry.OutcomeDryRun
		r.Message = "dry run: " + r.Message
	default:
		r.Outcome = telemetry.OutcomeFailed
		d.Metrics.RecordAction(ctx, r.Handler, r.Action, r.Outcome)
		log.Error().Ctx(ctx).Err(err).
			Str("handler", r.Handler).
			Str("resource", r.Resource).
			Str("action", r.Action).
			Msg("remediation failed")
		return nil, fmt.Errorf("%s %s: %w", r.Action, r.Resource, err)
	}

	d.Metrics.RecordAction(ctx, r.Handler, r.Action, r.Outcome)
	telemetry.RecordActionEvent(trace.SpanFromContext(ctx), r.Handler, r.Resource, r.Action, dryRun)
	log.Info().Ctx(ctx).
		Str("handler", r.Handler).
		Str("resource", r.Resource).
		Str("action", r.Action).
		Str("outcome", r.Outcome).
		Msg(r.Message)
	return r, nil
}

// publish sends an alert to the configured topic. It is a no-op when no
// topic is configured.
func (d *Deps) publish(ctx context.Context, subject, text string) error {
	if d.Topic == nil {
		log.Warn().Ctx(ctx).Str("subject", subject).Msg("no notification topic configured, skipping")
		return nil
	}
	return d.Topic.Send(ctx, notify.Message{Subject: subject, Text: text})
}
