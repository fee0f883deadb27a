package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/tara/internal/tags"
	"github.com/yairfalse/tara/internal/telemetry"
)

const (
	// TagAutomaticRemediation opts a resource into automated remediation
	// when set to "True".
	TagAutomaticRemediation = "automaticRemediation"

	// InvokeModelDocument is the automation document that asks a model for
	// remediation guidance.
	InvokeModelDocument = "taResponderAutomationDocumentInvokeModel"

	opsItemSource   = "Trusted Advisor"
	automationType  = "AWS::SSM::Automation"
	resourceIDToken = "$resourceId"
)

// Mapping binds a check to the automation document that remediates it.
type Mapping struct {
	CheckName             string `dynamodbav:"checkName" validate:"required"`
	SSMAutomationDocument string `dynamodbav:"ssmAutomationDocument" validate:"required"`
	RegexPattern          string `dynamodbav:"regexPattern" validate:"required"`
	AutomationParameters  string `dynamodbav:"automationParameters" validate:"required,json"`
	AutomationStatus      bool   `dynamodbav:"automationStatus"`
}

// ExecutionRecord links a running automation to its OpsItem.
type ExecutionRecord struct {
	AutomationExecutionID string `dynamodbav:"automationExecutionId"`
	OpsItemID             string `dynamodbav:"opsItemId"`
	Region                string `dynamodbav:"region"`
}

// Flagged is one tracker row read from the table stream.
type Flagged struct {
	CheckName string
	Resource  string
	Region    string
	HashKey   string
}

// RecordResult reports the outcome for one stream record.
type RecordResult struct {
	Result
	OpsItemID   string `json:"ops_item_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// ResultHandler creates OpsItems for flagged resources and starts mapped
// automations where both the mapping and the resource allow it.
type ResultHandler struct {
	deps Deps
}

// NewResultHandler creates the tracker stream handler.
func NewResultHandler(d Deps) *ResultHandler {
	return &ResultHandler{deps: d}
}

// Name implements handler.Handler.
func (h *ResultHandler) Name() string { return "ta-result" }

// Handle implements handler.Handler. Every record is processed; failures
// are joined into the returned error.
func (h *ResultHandler) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	var stream events.DynamoDBEvent
	if err := json.Unmarshal(raw, &stream); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}

	var (
		results []*RecordResult
		errs    []error
	)
	for _, rec := range stream.Records {
		f, ok := flaggedFromImage(rec.Change.NewImage)
		if !ok {
			log.Debug().Ctx(ctx).Str("event", rec.EventName).Msg("stream record has no tracker image, skipping")
			continue
		}
		r, err := h.process(ctx, f)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Resource, err))
			continue
		}
		results = append(results, r)
	}
	return results, errors.Join(errs...)
}

func flaggedFromImage(img map[string]events.DynamoDBAttributeValue) (Flagged, bool) {
	f := Flagged{
		CheckName: imageString(img, "checkName"),
		Resource:  imageString(img, "resource"),
		Region:    imageString(img, "region"),
		HashKey:   imageString(img, "hashKey"),
	}
	return f, f.CheckName != "" && f.Resource != ""
}

func imageString(img map[string]events.DynamoDBAttributeValue, key string) string {
	v, ok := img[key]
	if !ok || v.DataType() != events.DataTypeString {
		return ""
	}
	return v.String()
}

func (h *ResultHandler) process(ctx context.Context, f Flagged) (*RecordResult, error) {
	resourceOn := h.resourceTags(ctx, f).Matches(TagAutomaticRemediation, "True")
	if !resourceOn {
		log.Info().Ctx(ctx).Str("resource", f.Resource).Msg("resource level automatic remediation is not enabled")
	}
	m := h.mapping(ctx, f.CheckName)

	if m == nil || !m.AutomationStatus || !resourceOn {
		data, err := h.operationalData(f, nil, "")
		if err != nil {
			return nil, err
		}
		id, err := h.createOpsItem(ctx, f, data)
		if err != nil {
			return nil, err
		}
		r := &RecordResult{
			Result: Result{
				Handler:  h.Name(),
				Resource: f.Resource,
				Action:   "create_ops_item",
				Outcome:  telemetry.OutcomeApplied,
				Message:  fmt.Sprintf("OpsItem %s opened for %s", id, f.Resource),
			},
			OpsItemID: id,
		}
		h.deps.record(ctx, &r.Result)
		return r, nil
	}

	params, err := automationParameters(m, f.Resource)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode automation parameters: %w", err)
	}

	execID := h.startAutomation(ctx, f, m.SSMAutomationDocument, params)

	data, err := h.operationalData(f, m, string(encoded))
	if err != nil {
		return nil, err
	}
	opsID, err := h.createOpsItem(ctx, f, data)
	if err != nil {
		return nil, err
	}

	if execID != "" && opsID != "" {
		h.trackExecution(ctx, ExecutionRecord{AutomationExecutionID: execID, OpsItemID: opsID, Region: f.Region})
	}

	r := &RecordResult{
		Result: Result{
			Handler:  h.Name(),
			Resource: f.Resource,
			Action:   "start_automation",
			Outcome:  telemetry.OutcomeApplied,
			Message:  fmt.Sprintf("OpsItem %s opened for %s, automation %s execution %s", opsID, f.Resource, m.SSMAutomationDocument, execID),
		},
		OpsItemID:   opsID,
		ExecutionID: execID,
	}
	if execID == "" {
		r.Outcome = telemetry.OutcomeFailed
		r.Message = fmt.Sprintf("OpsItem %s opened for %s, automation %s did not start", opsID, f.Resource, m.SSMAutomationDocument)
	}
	h.deps.record(ctx, &r.Result)
	return r, nil
}

// resourceTags returns the resource's tags. Lookup failures read as no tags.
func (h *ResultHandler) resourceTags(ctx context.Context, f Flagged) tags.Set {
	c, err := h.deps.clients(ctx, f.Region)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("region", f.Region).Msg("no clients for resource region")
		return tags.Set{}
	}

	p := resourcegroupstaggingapi.NewGetResourcesPaginator(c.Tagging, &resourcegroupstaggingapi.GetResourcesInput{
		ResourceARNList: []string{f.Resource},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Str("resource", f.Resource).Msg("failed to retrieve resource tags")
			return tags.Set{}
		}
		if len(page.ResourceTagMappingList) > 0 {
			return tags.FromTagging(page.ResourceTagMappingList[0].Tags)
		}
	}
	return tags.Set{}
}

// mapping loads the automation mapping for a check, or nil when there is
// none or it cannot be read.
func (h *ResultHandler) mapping(ctx context.Context, checkName string) *Mapping {
	c, err := h.deps.clients(ctx, "")
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Msg("no clients for home region")
		return nil
	}

	out, err := c.DynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(h.deps.Config.MappingTable),
		Key: map[string]dbtypes.AttributeValue{
			"checkName": &dbtypes.AttributeValueMemberS{Value: checkName},
		},
	})
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("check", checkName).Msg("error retrieving automation mapping")
		return nil
	}
	if out.Item == nil {
		return nil
	}

	var m Mapping
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("check", checkName).Msg("invalid automation mapping")
		return nil
	}
	return &m
}

type automationRef struct {
	Type string `json:"automationType"`
	ID   string `json:"automationId"`
}

type invokeModelParams struct {
	AutomationAssumeRole string `json:"AutomationAssumeRole"`
	AffectedResourceArn  string `json:"AffectedResourceArn"`
	CheckName            string `json:"CheckName"`
}

// operationalData builds the OpsItem operational data. m is nil when no
// automation runs for the resource.
func (h *ResultHandler) operationalData(f Flagged, m *Mapping, params string) (map[string]ssmtypes.OpsItemDataValue, error) {
	dedup, err := json.Marshal(map[string]string{"dedupString": f.HashKey})
	if err != nil {
		return nil, err
	}
	data := map[string]ssmtypes.OpsItemDataValue{
		"flaggedResource": searchable(f.Resource),
		"/aws/dedup":      searchable(string(dedup)),
	}

	var refs []automationRef
	if m != nil {
		refs = append(refs, automationRef{Type: automationType, ID: m.SSMAutomationDocument})
		data["automationParameters"] = plain(params)
	}

	cfg := h.deps.Config
	if cfg.GenAIRecommendations {
		refs = append(refs, automationRef{Type: automationType, ID: InvokeModelDocument})

		invoke, err := json.Marshal(invokeModelParams{
			AutomationAssumeRole: cfg.InvokeModelRole,
			AffectedResourceArn:  f.Resource,
			CheckName:            f.CheckName,
		})
		if err != nil {
			return nil, err
		}
		data["invokeModelParameters"] = plain(string(invoke))
		data["invokeModelUrl"] = plain(invokeModelURL(h.deps.Home, cfg.InvokeModelRole, f))
	}

	if len(refs) > 0 {
		encoded, err := json.Marshal(refs)
		if err != nil {
			return nil, err
		}
		data["/aws/automations"] = searchable(string(encoded))
	}
	return data, nil
}

func invokeModelURL(region, role string, f Flagged) string {
	return fmt.Sprintf("https://%[1]s.console.aws.amazon.com/systems-manager/automation/execute/%[2]s?region=%[1]s#AutomationAssumeRole=%[3]s&CheckName=%[4]s&AffectedResourceArn=%[5]s",
		region, InvokeModelDocument, role, f.CheckName, f.Resource)
}

func searchable(v string) ssmtypes.OpsItemDataValue {
	return ssmtypes.OpsItemDataValue{Type: ssmtypes.OpsItemDataTypeSearchableString, Value: aws.String(v)}
}

func plain(v string) ssmtypes.OpsItemDataValue {
	return ssmtypes.OpsItemDataValue{Type: ssmtypes.OpsItemDataTypeString, Value: aws.String(v)}
}

// createOpsItem opens an OpsItem for f. An item that already exists for
// the same dedup string yields its ID.
func (h *ResultHandler) createOpsItem(ctx context.Context, f Flagged, data map[string]ssmtypes.OpsItemDataValue) (string, error) {
	c, err := h.deps.clients(ctx, "")
	if err != nil {
		return "", err
	}

	out, err := c.SSM.CreateOpsItem(ctx, &ssm.CreateOpsItemInput{
		Description:     aws.String(fmt.Sprintf("%s: %s", f.CheckName, f.Resource)),
		Source:          aws.String(opsItemSource),
		Title:           aws.String(fmt.Sprintf("[TA] [%s] [%s]", f.CheckName, f.Resource)),
		OperationalData: data,
	})
	if err != nil {
		var exists *ssmtypes.OpsItemAlreadyExistsException
		if errors.As(err, &exists) {
			id := aws.ToString(exists.OpsItemId)
			log.Info().Ctx(ctx).Str("ops_item", id).Str("resource", f.Resource).Msg("OpsItem already exists")
			return id, nil
		}
		h.deps.Metrics.RecordAction(ctx, h.Name(), "create_ops_item", telemetry.OutcomeFailed)
		return "", fmt.Errorf("create OpsItem: %w", err)
	}

	id := aws.ToString(out.OpsItemId)
	log.Info().Ctx(ctx).Str("ops_item", id).Str("resource", f.Resource).Msg("OpsItem created")
	return id, nil
}

// startAutomation runs doc in the resource's region and returns the
// execution ID, or "" when it could not be started.
func (h *ResultHandler) startAutomation(ctx context.Context, f Flagged, doc string, params map[string][]string) string {
	c, err := h.deps.clients(ctx, f.Region)
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Str("region", f.Region).Msg("no clients for resource region")
		return ""
	}

	out, err := c.SSM.StartAutomationExecution(ctx, &ssm.StartAutomationExecutionInput{
		DocumentName: aws.String(doc),
		Parameters:   params,
		ClientToken:  aws.String(uuid.NewString()),
	})
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Str("document", doc).Str("resource", f.Resource).Msg("error starting the automation execution")
		return ""
	}

	id := aws.ToString(out.AutomationExecutionId)
	log.Info().Ctx(ctx).Str("execution", id).Str("document", doc).Msg("automation execution started")
	return id
}

func (h *ResultHandler) trackExecution(ctx context.Context, rec ExecutionRecord) {
	c, err := h.deps.clients(ctx, "")
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Msg("no clients for home region")
		return
	}
	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Msg("marshal execution record")
		return
	}
	if _, err := c.DynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(h.deps.Config.ExecutionTable),
		Item:      av,
	}); err != nil {
		log.Error().Ctx(ctx).Err(err).
			Str("execution", rec.AutomationExecutionID).
			Str("ops_item", rec.OpsItemID).
			Msg("error tracking automation execution")
	}
}

// automationParameters extracts the resource ID from resource with the
// mapping's pattern and substitutes it into the parameter template.
func automationParameters(m *Mapping, resource string) (map[string][]string, error) {
	re, err := regexp.Compile(m.RegexPattern)
	if err != nil {
		return nil, fmt.Errorf("mapping for %q: regex pattern %q: %w", m.CheckName, m.RegexPattern, err)
	}
	id := re.FindString(resource)
	if id == "" {
		return nil, fmt.Errorf("regex pattern [%s] is not properly defined in mapping table for check [%s]", m.RegexPattern, m.CheckName)
	}

	var tmpl any
	if err := json.Unmarshal([]byte(m.AutomationParameters), &tmpl); err != nil {
		return nil, fmt.Errorf("mapping for %q: automation parameters: %w", m.CheckName, err)
	}
	obj, ok := replaceResourceID(tmpl, id).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("mapping for %q: automation parameters must be an object", m.CheckName)
	}

	params := make(map[string][]string, len(obj))
	for k, v := range obj {
		params[k] = paramValues(v)
	}
	return params, nil
}

// replaceResourceID substitutes every occurrence of $resourceId in the
// strings of v, descending into objects and arrays.
func replaceResourceID(v any, id string) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, resourceIDToken, id)
	case map[string]any:
		for k, item := range t {
			t[k] = replaceResourceID(item, id)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = replaceResourceID(item, id)
		}
		return t
	default:
		return v
	}
}

// paramValues flattens a parameter value into the string list SSM expects.
func paramValues(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, scalarString(item))
		}
		return out
	default:
		return []string{scalarString(t)}
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
