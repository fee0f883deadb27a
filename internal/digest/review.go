package digest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	taggingtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/wellarchitected"
	watypes "github.com/aws/aws-sdk-go-v2/service/wellarchitected/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/config"
	"github.com/yairfalse/tara/internal/notify"
	"github.com/yairfalse/tara/internal/telemetry"
)

// ReportSubject is the subject of the notification carrying the report link.
const ReportSubject = "Trusted Advisor WAFR Report URL"

// ErrInvalidReview is returned when the automation parameters are unusable.
var ErrInvalidReview = errors.New("invalid review request")

// ReviewRequest is the automation step input for a best practice review.
type ReviewRequest struct {
	ExecutionID  string
	TagKey       string
	TagValue     string
	Bucket       string
	Host         string
	WorkloadName string
	Region       string
	Owner        string
	TopicARN     string
}

// Scoped reports whether the review is limited to tagged resources. A tag
// value of "None" means the whole account.
func (r ReviewRequest) Scoped() bool {
	return r.TagKey != "" && r.TagKey != "None" && r.TagValue != "" && r.TagValue != "None"
}

// ReportLink is where readers find the HTML report.
func (r ReviewRequest) ReportLink(key string) string {
	if r.Host == "" {
		return fmt.Sprintf("s3://%s/%s", r.Bucket, key)
	}
	return strings.TrimRight(r.Host, "/") + "/" + key
}

// ParseReviewRequest reads the automation event. Parameters may arrive as
// single values or as one-element lists.
func ParseReviewRequest(raw json.RawMessage) (ReviewRequest, error) {
	if !gjson.ValidBytes(raw) {
		return ReviewRequest{}, fmt.Errorf("%w: malformed event", ErrInvalidReview)
	}
	p := gjson.GetBytes(raw, "Parameters")
	req := ReviewRequest{
		ExecutionID:  gjson.GetBytes(raw, "AutomationExecutionId").String(),
		TagKey:       param(p, "ResourceTagKey"),
		TagValue:     param(p, "ResourceTagValue"),
		Bucket:       param(p, "TrustedAdvisorReportingBucket"),
		Host:         param(p, "TrustedAdvisorReportingHost"),
		WorkloadName: param(p, "BestPracticeReviewName"),
		Region:       param(p, "BestPracticeReviewRegion"),
		Owner:        param(p, "BestPracticeReviewOwner"),
		TopicARN:     param(p, "ReportEventTopicArn"),
	}

	var missing []string
	for _, f := range []struct{ name, v string }{
		{"TrustedAdvisorReportingBucket", req.Bucket},
		{"BestPracticeReviewName", req.WorkloadName},
		{"BestPracticeReviewRegion", req.Region},
		{"BestPracticeReviewOwner", req.Owner},
	} {
		if f.v == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return req, fmt.Errorf("%w: missing %s", ErrInvalidReview, strings.Join(missing, ", "))
	}
	return req, nil
}

func param(p gjson.Result, key string) string {
	v := p.Get(key)
	if v.IsArray() {
		v = v.Get("0")
	}
	return strings.TrimSpace(v.String())
}

// ReviewDeps are the review handler's collaborators.
type ReviewDeps struct {
	Config  config.ReviewConfig
	Home    string
	Clients awsapi.Source
	Risk    RiskLookup
	Metrics *telemetry.Metrics
}

// ReviewResult describes a published review report.
type ReviewResult struct {
	Report     string `json:"report"`
	HTMLKey    string `json:"html_key"`
	JSONKey    string `json:"json_key"`
	Findings   int    `json:"findings"`
	WorkloadID string `json:"workload_id,omitempty"`
}

// Review maps Trusted Advisor checks onto Well-Architected best practices,
// publishes the flagged resources as a report and records the link on a
// review workload.
type Review struct {
	deps ReviewDeps
}

// NewReview creates the review handler.
func NewReview(d ReviewDeps) *Review {
	if d.Config.MappingRegion == "" {
		d.Config.MappingRegion = SupportRegion
	}
	return &Review{deps: d}
}

// Name implements handler.Handler.
func (h *Review) Name() string { return "wafr-starter" }

// Handle implements handler.Handler. The automation execution is approved
// once the report is stored and rejected when the review cannot run.
func (h *Review) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	home, err := h.deps.Clients.For(ctx, h.deps.Home)
	if err != nil {
		return nil, err
	}

	req, err := ParseReviewRequest(raw)
	if err == nil {
		var res *ReviewResult
		if res, err = h.Run(ctx, home, req); err == nil {
			return h.finish(ctx, home, req, res)
		}
	}

	h.deps.Metrics.RecordAction(ctx, h.Name(), "report", telemetry.OutcomeFailed)
	if serr := signal(ctx, home.SSM, req.ExecutionID, ssmtypes.SignalTypeReject); serr != nil {
		log.Error().Ctx(ctx).Err(serr).Str("execution", req.ExecutionID).Msg("failed to reject automation step")
	}
	return nil, err
}

func (h *Review) finish(ctx context.Context, home *awsapi.Clients, req ReviewRequest, res *ReviewResult) (any, error) {
	h.deps.Metrics.RecordAction(ctx, h.Name(), "report", telemetry.OutcomeApplied)

	if err := signal(ctx, home.SSM, req.ExecutionID, ssmtypes.SignalTypeApprove); err != nil {
		return nil, fmt.Errorf("approve automation step: %w", err)
	}
	if req.TopicARN != "" {
		msg := notify.Message{Subject: ReportSubject, Text: res.Report}
		if err := notify.NewSNS(home.SNS, req.TopicARN).Send(ctx, msg); err != nil {
			log.Warn().Ctx(ctx).Err(err).Str("topic", req.TopicARN).Msg("failed to publish report link")
		}
	}

	log.Info().Ctx(ctx).
		Str("report", res.Report).
		Int("findings", res.Findings).
		Str("workload", res.WorkloadID).
		Msg("published best practice review")
	return res, nil
}

// Run builds the report for req and stores it in the reporting bucket.
func (h *Review) Run(ctx context.Context, home *awsapi.Clients, req ReviewRequest) (*ReviewResult, error) {
	sc, err := h.scope(ctx, home.Tagging, req)
	if err != nil {
		return nil, err
	}

	mapped, err := h.mapChecks(ctx)
	if err != nil {
		return nil, err
	}

	sup, err := h.deps.Clients.For(ctx, SupportRegion)
	if err != nil {
		return nil, err
	}
	findings := attachFlagged(ctx, sup.Support, mapped, sc)

	id := uuid.NewString()
	res := &ReviewResult{
		HTMLKey:  fmt.Sprintf("report/%s-%s.html", req.WorkloadName, id),
		JSONKey:  fmt.Sprintf("report/json/%s-%s.json", req.WorkloadName, id),
		Findings: len(findings),
	}
	res.Report = req.ReportLink(res.HTMLKey)

	var page bytes.Buffer
	if err := RenderHTML(&page, req.WorkloadName, h.deps.Config.RiskDocsURL, findings); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	body, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if err := putObject(ctx, home.S3, req.Bucket, res.HTMLKey, "text/html", page.Bytes()); err != nil {
		return nil, err
	}
	if err := putObject(ctx, home.S3, req.Bucket, res.JSONKey, "application/json", body); err != nil {
		return nil, err
	}

	res.WorkloadID = h.annotate(ctx, req, findings, res.Report)
	return res, nil
}

func putObject(ctx context.Context, client awsapi.S3API, bucket, key, contentType string, body []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// annotate creates the review workload and notes the report link on every
// question that has findings. Failures are logged; the report stands alone.
func (h *Review) annotate(ctx context.Context, req ReviewRequest, findings []BestPracticeCheck, link string) string {
	c, err := h.deps.Clients.For(ctx, req.Region)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("region", req.Region).Msg("no clients for review region")
		return ""
	}

	in := &wellarchitected.CreateWorkloadInput{
		WorkloadName:    aws.String(req.WorkloadName),
		Description:     aws.String("This is a workload to run the review"),
		Environment:     watypes.WorkloadEnvironmentPreproduction,
		AwsRegions:      []string{req.Region},
		ReviewOwner:     aws.String(req.Owner),
		Lenses:          []string{LensAlias},
		DiscoveryConfig: discoveryConfig(),
	}
	if req.Scoped() {
		in.Tags = map[string]string{req.TagKey: req.TagValue}
	}
	out, err := c.WellArchitected.CreateWorkload(ctx, in)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("workload", req.WorkloadName).Msg("failed to create review workload")
		return ""
	}
	workloadID := aws.ToString(out.WorkloadId)

	seen := make(map[string]bool)
	var questions []string
	for _, f := range findings {
		if !seen[f.QuestionID] {
			seen[f.QuestionID] = true
			questions = append(questions, f.QuestionID)
		}
	}
	sort.Strings(questions)
	for _, q := range questions {
		_, err := c.WellArchitected.UpdateAnswer(ctx, &wellarchitected.UpdateAnswerInput{
			WorkloadId: aws.String(workloadID),
			LensAlias:  aws.String(LensAlias),
			QuestionId: aws.String(q),
			Notes:      aws.String(link),
		})
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Str("question", q).Msg("failed to annotate review question")
		}
	}
	return workloadID
}

// resourceScope holds the ARNs and short names of the tagged resources a
// scoped review is limited to. A nil scope admits everything.
type resourceScope struct {
	ids map[string]bool
}

func (h *Review) scope(ctx context.Context, client awsapi.TaggingAPI, req ReviewRequest) (*resourceScope, error) {
	if !req.Scoped() {
		return nil, nil
	}

	sc := &resourceScope{ids: make(map[string]bool)}
	p := resourcegroupstaggingapi.NewGetResourcesPaginator(client, &resourcegroupstaggingapi.GetResourcesInput{
		TagFilters: []taggingtypes.TagFilter{{Key: aws.String(req.TagKey), Values: []string{req.TagValue}}},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get tagged resources: %w", err)
		}
		for _, m := range page.ResourceTagMappingList {
			arn := aws.ToString(m.ResourceARN)
			sc.ids[arn] = true
			sc.ids[arn[strings.LastIndex(arn, ":")+1:]] = true
			sc.ids[arn[strings.LastIndex(arn, "/")+1:]] = true
		}
	}
	log.Debug().Ctx(ctx).Int("resources", len(sc.ids)).Msg("resolved review scope")
	return sc, nil
}

// admits keeps a resource with no metadata, or one whose status is known and
// whose metadata names a scoped resource.
func (s *resourceScope) admits(r FlaggedResource) bool {
	if s == nil || len(r.Metadata) == 0 {
		return true
	}
	switch r.Status {
	case StatusOK, StatusWarning, StatusError:
	default:
		return false
	}
	for _, m := range r.Metadata {
		if m != "" && s.ids[m] {
			return true
		}
	}
	return false
}

func signal(ctx context.Context, client awsapi.SSMAPI, executionID string, st ssmtypes.SignalType) error {
	if executionID == "" {
		return nil
	}
	_, err := client.SendAutomationSignal(ctx, &ssm.SendAutomationSignalInput{
		AutomationExecutionId: aws.String(executionID),
		SignalType:            st,
	})
	return err
}
