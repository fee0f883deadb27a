// Package responder tracks Trusted Advisor check results in DynamoDB and
// turns flagged resources into Systems Manager OpsItems, optionally running
// a mapped SSM automation document against them.
//
// The flow spans three handlers: the check tracker writes the latest status
// per resource, the result handler consumes the tracker table's stream, and
// the automation events handler closes OpsItems when executions finish.
package responder

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/config"
	"github.com/yairfalse/tara/internal/handler"
	"github.com/yairfalse/tara/internal/telemetry"
)

// Deps are the collaborators shared by the responder handlers.
type Deps struct {
	Config  config.ResponderConfig
	Home    string
	Clients awsapi.Source
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

// Result reports what a responder handler did with one resource.
type Result struct {
	Handler  string `json:"handler"`
	Resource string `json:"resource"`
	Action   string `json:"action,omitempty"`
	Outcome  string `json:"outcome"`
	Message  string `json:"message"`
}

// All returns the responder handlers bound to d.
func All(d Deps) []handler.Handler {
	return []handler.Handler{
		NewCheckTracker(d),
		NewResultHandler(d),
		NewAutomationEvents(d),
	}
}

func (d *Deps) clients(ctx context.Context, region string) (*awsapi.Clients, error) {
	if region == "" {
		region = d.Home
	}
	return d.Clients.For(ctx, region)
}

func (d *Deps) record(ctx context.Context, r *Result) *Result {
	d.Metrics.RecordAction(ctx, r.Handler, r.Action, r.Outcome)
	log.Info().Ctx(ctx).
		Str("handler", r.Handler).
		Str("resource", r.Resource).
		Str("action", r.Action).
		Str("outcome", r.Outcome).
		Msg(r.Message)
	return r
}
