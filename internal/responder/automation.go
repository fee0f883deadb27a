package responder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/yairfalse/tara/internal/event"
	"github.com/yairfalse/tara/internal/telemetry"
)

// AutomationEvents records automation outcomes on their OpsItems and
// resolves the OpsItem when the execution succeeded.
type AutomationEvents struct {
	deps Deps
}

// NewAutomationEvents creates the automation status handler.
func NewAutomationEvents(d Deps) *AutomationEvents {
	return &AutomationEvents{deps: d}
}

// Name implements handler.Handler.
func (h *AutomationEvents) Name() string { return "ssm-automation-events" }

// Handle implements handler.Handler.
func (h *AutomationEvents) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	st, err := event.ParseAutomationStatus(event.Unwrap(raw))
	if err != nil {
		return nil, err
	}

	c, err := h.deps.clients(ctx, "")
	if err != nil {
		return nil, err
	}

	key := map[string]dbtypes.AttributeValue{
		"automationExecutionId": &dbtypes.AttributeValueMemberS{Value: st.ExecutionID},
	}
	out, err := c.DynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(h.deps.Config.ExecutionTable),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", st.ExecutionID, err)
	}
	if out.Item == nil {
		return h.deps.record(ctx, &Result{
			Handler:  h.Name(),
			Resource: st.ExecutionID,
			Outcome:  telemetry.OutcomeSkipped,
			Message:  "execution is not tracked",
		}), nil
	}

	var rec ExecutionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("decode execution %s: %w", st.ExecutionID, err)
	}

	in := &ssm.UpdateOpsItemInput{
		OpsItemId: aws.String(rec.OpsItemID),
		OperationalData: map[string]ssmtypes.OpsItemDataValue{
			"trustedAdvisorCheckAutoRemediation": plain(fmt.Sprintf("DocumentName: %s, ExecutionId: %s, Status: %s, Region: %s",
				st.Document, st.ExecutionID, st.Status, rec.Region)),
		},
	}
	action := "annotate_ops_item"
	if st.Succeeded() {
		in.Status = ssmtypes.OpsItemStatusResolved
		action = "resolve_ops_item"
	}
	if _, err := c.SSM.UpdateOpsItem(ctx, in); err != nil {
		h.deps.Metrics.RecordAction(ctx, h.Name(), action, telemetry.OutcomeFailed)
		return nil, fmt.Errorf("update OpsItem %s: %w", rec.OpsItemID, err)
	}

	if _, err := c.DynamoDB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(h.deps.Config.ExecutionTable),
		Key:       key,
	}); err != nil {
		return nil, fmt.Errorf("delete execution %s: %w", st.ExecutionID, err)
	}

	return h.deps.record(ctx, &Result{
		Handler:  h.Name(),
		Resource: rec.OpsItemID,
		Action:   action,
		Outcome:  telemetry.OutcomeApplied,
		Message:  fmt.Sprintf("execution %s finished with %s", st.ExecutionID, st.Status),
	}), nil
}
