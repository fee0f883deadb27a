// Package digest summarizes Trusted Advisor results: a red-check digest
// posted to Slack and a best practice review report published to S3.
package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/support"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/notify"
	"github.com/yairfalse/tara/internal/telemetry"
)

// SupportRegion is the only region serving the Support API.
const SupportRegion = "us-east-1"

// Check statuses reported by the Support API.
const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
)

// categories lists the known check categories in report order.
var categories = []struct {
	key   string
	label string
}{
	{"security", "Security"},
	{"fault_tolerance", "Fault-Tolerance"},
	{"performance", "Performance"},
	{"cost_optimizing", "Cost_optimizing"},
	{"service_limits", "Service_limits"},
}

// ErrNoWebhook is returned when neither the event nor the config names a
// Slack webhook.
var ErrNoWebhook = errors.New("no slack webhook configured")

// Deps are the digest's collaborators.
type Deps struct {
	AccountID string
	Clients   awsapi.Source
	Slack     notify.Sender
	Metrics   *telemetry.Metrics

	// Webhook builds a sender for a webhook URL carried by the event.
	Webhook func(url string) notify.Sender
}

// CategoryCount is the number of red checks in one category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Report summarizes every Trusted Advisor check for an account.
type Report struct {
	Account    string          `json:"account"`
	OK         int             `json:"ok"`
	Warning    int             `json:"warning"`
	Error      int             `json:"error"`
	HighRisk   []string        `json:"high_risk"`
	ByCategory []CategoryCount `json:"by_category"`

	// Savings is the estimated monthly savings across cost checks, in
	// dollars rounded to cents.
	Savings float64 `json:"savings"`
}

// Text renders the report as posted to Slack.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n=== Summary of TA High Risk (RED) Findings for %s ===\n\n", r.Account)
	fmt.Fprintf(&b, "Total High Risk (RED) Findings: %d", r.Error)
	if len(r.ByCategory) > 0 {
		parts := make([]string, len(r.ByCategory))
		for i, c := range r.ByCategory {
			parts[i] = fmt.Sprintf("%s: %d", c.Category, c.Count)
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "\nTotal Estimated Monthly Savings: $%.2f.\n\n", r.Savings)
	for _, line := range r.HighRisk {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Digest builds and posts the red-check summary.
type Digest struct {
	deps Deps
}

// New creates the digest handler.
func New(d Deps) *Digest {
	if d.Webhook == nil {
		d.Webhook = func(url string) notify.Sender { return notify.NewSlack(url) }
	}
	return &Digest{deps: d}
}

// Name implements handler.Handler.
func (h *Digest) Name() string { return "ta-red-digest" }

// Handle implements handler.Handler. A "SlackWebhookURL" field in the
// event overrides the configured webhook.
func (h *Digest) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	sender := h.deps.Slack
	if url := gjson.GetBytes(raw, "SlackWebhookURL").String(); url != "" {
		sender = h.deps.Webhook(url)
	}
	if sender == nil {
		return nil, ErrNoWebhook
	}

	report, err := h.Build(ctx)
	if err != nil {
		return nil, err
	}

	if err := sender.Send(ctx, notify.Message{
		Subject: fmt.Sprintf("Trusted Advisor high risk findings for %s", report.Account),
		Text:    report.Text(),
	}); err != nil {
		h.deps.Metrics.RecordAction(ctx, h.Name(), "post", telemetry.OutcomeFailed)
		return nil, fmt.Errorf("post digest: %w", err)
	}
	h.deps.Metrics.RecordAction(ctx, h.Name(), "post", telemetry.OutcomeApplied)

	log.Info().Ctx(ctx).
		Str("account", report.Account).
		Int("red", report.Error).
		Int("yellow", report.Warning).
		Int("green", report.OK).
		Float64("savings", report.Savings).
		Msg("posted trusted advisor digest")
	return report, nil
}

// Build collects check descriptions and summaries and tallies them.
func (h *Digest) Build(ctx context.Context) (*Report, error) {
	c, err := h.deps.Clients.For(ctx, SupportRegion)
	if err != nil {
		return nil, err
	}

	account := h.deps.AccountID
	if account == "" {
		if account, err = awsapi.CallerAccount(ctx, c.STS); err != nil {
			return nil, err
		}
	}

	checks, err := c.Support.DescribeTrustedAdvisorChecks(ctx, &support.DescribeTrustedAdvisorChecksInput{
		Language: aws.String("en"),
	})
	if err != nil {
		return nil, fmt.Errorf("describe trusted advisor checks: %w", err)
	}

	type meta struct{ name, category string }
	byID := make(map[string]meta, len(checks.Checks))
	ids := make([]string, 0, len(checks.Checks))
	for _, chk := range checks.Checks {
		id := aws.ToString(chk.Id)
		byID[id] = meta{name: aws.ToString(chk.Name), category: aws.ToString(chk.Category)}
		ids = append(ids, id)
	}

	r := &Report{Account: account}
	if len(ids) == 0 {
		return r, nil
	}

	out, err := c.Support.DescribeTrustedAdvisorCheckSummaries(ctx, &support.DescribeTrustedAdvisorCheckSummariesInput{
		CheckIds: aws.StringSlice(ids),
	})
	if err != nil {
		return nil, fmt.Errorf("describe trusted advisor check summaries: %w", err)
	}

	red := make(map[string]int)
	var savings float64
	for _, s := range out.Summaries {
		m := byID[aws.ToString(s.CheckId)]
		switch aws.ToString(s.Status) {
		case StatusOK:
			r.OK++
		case StatusWarning:
			r.Warning++
		case StatusError:
			r.Error++
			r.HighRisk = append(r.HighRisk, fmt.Sprintf("HIGH RISK - [%s] %s", m.category, m.name))
			red[m.category]++
		}

		if s.CategorySpecificSummary != nil && s.CategorySpecificSummary.CostOptimizing != nil {
			savings += s.CategorySpecificSummary.CostOptimizing.EstimatedMonthlySavings
		}
	}
	r.Savings = math.Round(savings*100) / 100
	r.ByCategory = categoryCounts(red)
	return r, nil
}

// categoryCounts orders known categories first, then any others by name.
func categoryCounts(red map[string]int) []CategoryCount {
	var out []CategoryCount
	known := make(map[string]bool, len(categories))
	for _, c := range categories {
		known[c.key] = true
		if n := red[c.key]; n > 0 {
			out = append(out, CategoryCount{Category: c.label, Count: n})
		}
	}

	var rest []string
	for k := range red {
		if !known[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, CategoryCount{Category: k, Count: red[k]})
	}
	return out
}
