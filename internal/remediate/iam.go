package remediate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/notify"
	"github.com/yairfalse/tara/internal/trail"
)

// Access key actions.
const (
	KeyDeactivate = "deactivate"
	KeyDelete     = "delete"
)

const (
	activityWindow = 24 * time.Hour
	summaryTop     = 10
)

const exposedKeyTemplate = `At %s the IAM access key %s for user %s on account %s was %s after it was found to have been exposed at the URL %s.
Below are summaries of the most recent actions, resource names, and resource types associated with this user over the last 24 hours.

Actions:
%s

Resource Names:
%s

Resource Types:
%s

These are summaries of only the most recent API calls made by this user. Please ensure your account remains secure by further reviewing the API calls made by this user in CloudTrail.`

// Count is one entry of an activity summary.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// KeyReport is the result of the exposed key handler.
type KeyReport struct {
	Result
	Account       string    `json:"account"`
	Username      string    `json:"username"`
	AccessKeyID   string    `json:"access_key_id"`
	Location      string    `json:"exposed_location"`
	Discovered    time.Time `json:"time_discovered"`
	EventNames    []Count   `json:"event_names"`
	ResourceNames []Count   `json:"resource_names"`
	ResourceTypes []Count   `json:"resource_types"`
}

// ExposedKey disables or deletes an access key found in a public location,
// then summarizes what the user did in the last day and alerts security.
type ExposedKey struct{ d Deps }

// NewExposedKey creates the iam-exposed-key handler.
func NewExposedKey(d Deps) *ExposedKey { return &ExposedKey{d: d} }

// Name implements handler.Handler.
func (h *ExposedKey) Name() string { return "iam-exposed-key" }

// Handle implements handler.Handler.
func (h *ExposedKey) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	chk, err := parseCheck(raw)
	if err != nil {
		return nil, err
	}
	f, err := chk.Require("User Name (IAM or Root)", "Access Key ID")
	if err != nil {
		return nil, err
	}
	user, keyID := f[0], f[1]

	rc, err := h.d.clients(ctx, "")
	if err != nil {
		return nil, err
	}

	r := &Result{Handler: h.Name(), Resource: keyID}
	verb := "deactivated"
	if h.d.Config.AccessKeyAction == KeyDelete {
		verb = "deleted"
		r.Action = "DeleteAccessKey"
	} else {
		r.Action = "UpdateAccessKey"
	}
	r.Message = fmt.Sprintf("access key %s for user %s %s", keyID, user, verb)

	var res *Result
	if !h.d.Config.EnableActions {
		res = h.d.reportOnly(ctx, r)
	} else {
		res, err = h.d.finish(ctx, r, false, disableKey(ctx, rc.IAM, h.d.Config.AccessKeyAction, user, keyID))
		if err != nil {
			return nil, err
		}
	}

	now := h.d.now().UTC()
	events, err := trail.Lookup(ctx, rc.CloudTrail, trail.ByUser(user, now.Add(-activityWindow), now))
	if err != nil {
		return nil, err
	}

	report := &KeyReport{
		Result:      *res,
		Account:     h.d.account(chk),
		Username:    user,
		AccessKeyID: keyID,
		Location:    chk.Get("Location"),
		Discovered:  now,
	}
	report.EventNames, report.ResourceNames, report.ResourceTypes = summarizeEvents(events)

	subject := fmt.Sprintf("Security Alert! IAM Access Key Exposed For User %s On Account %s!!", user, report.Account)
	body := fmt.Sprintf(exposedKeyTemplate,
		now.Format("2006-01-02 15:04:05 UTC"), keyID, user, report.Account, verb, report.Location,
		formatCounts(report.EventNames), formatCounts(report.ResourceNames), formatCounts(report.ResourceTypes))
	if err := h.d.publish(ctx, subject, body); err != nil {
		return nil, fmt.Errorf("publish exposed key alert: %w", err)
	}

	if h.d.Slack != nil {
		err := h.d.Slack.Send(ctx, notify.Message{Text: subject + " An email is sent with details."})
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Msg("failed to post slack notification")
		}
	}

	return report, nil
}

func disableKey(ctx context.Context, client awsapi.IAMAPI, action, user, keyID string) error {
	if action == KeyDelete {
		_, err := client.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
			UserName:    aws.String(user),
			AccessKeyId: aws.String(keyID),
		})
		return err
	}
	_, err := client.UpdateAccessKey(ctx, &iam.UpdateAccessKeyInput{
		UserName:    aws.String(user),
		AccessKeyId: aws.String(keyID),
		Status:      iamtypes.StatusTypeInactive,
	})
	return err
}

// summarizeEvents returns the most common event names, resource names and
// resource types.
func summarizeEvents(events []trail.Event) (names, resources, types []Count) {
	var n, rn, rt counter
	for _, e := range events {
		n.add(e.EventName)
		for _, r := range e.Resources {
			rn.add(r.Name)
			rt.add(r.Type)
		}
	}
	return n.top(summaryTop), rn.top(summaryTop), rt.top(summaryTop)
}

// counter counts values, remembering first-seen order for ties.
type counter struct {
	order []string
	n     map[string]int
}

func (c *counter) add(v string) {
	if c.n == nil {
		c.n = make(map[string]int)
	}
	if _, ok := c.n[v]; !ok {
		c.order = append(c.order, v)
	}
	c.n[v]++
}

func (c *counter) top(k int) []Count {
	out := make([]Count, 0, len(c.order))
	for _, v := range c.order {
		out = append(out, Count{Name: v, Count: c.n[v]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func formatCounts(counts []Count) string {
	lines := make([]string, len(counts))
	for i, c := range counts {
		lines[i] = fmt.Sprintf("%s: %d", c.Name, c.Count)
	}
	return "\t" + strings.Join(lines, "\n\t")
}

// Password policy values applied when the account has none.
const (
	defaultMinLength      = 12
	defaultReusePrevent   = 12
	defaultMaxPasswordAge = 90
)

// PasswordPolicy enforces complexity requirements on the account password
// policy, keeping lengths and ages the account already set.
type PasswordPolicy struct{ d Deps }

// NewPasswordPolicy creates the iam-password-policy handler.
func NewPasswordPolicy(d Deps) *PasswordPolicy { return &PasswordPolicy{d: d} }

// Name implements handler.Handler.
func (h *PasswordPolicy) Name() string { return "iam-password-policy" }

// Handle implements handler.Handler.
func (h *PasswordPolicy) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	chk, err := parseCheck(raw)
	if err != nil {
		return nil, err
	}

	rc, err := h.d.clients(ctx, "")
	if err != nil {
		return nil, err
	}

	var current *iamtypes.PasswordPolicy
	if chk.Status == "WARN" {
		out, err := rc.IAM.GetAccountPasswordPolicy(ctx, &iam.GetAccountPasswordPolicyInput{})
		switch {
		case err == nil:
			current = out.PasswordPolicy
		case awsapi.IsCode(err, awsapi.CodeNoSuchEntity):
		default:
			return nil, fmt.Errorf("get password policy: %w", err)
		}
	}

	r := &Result{
		Handler:  h.Name(),
		Resource: h.d.account(chk),
		Action:   "UpdateAccountPasswordPolicy",
		Message:  "account password policy updated",
	}
	if !h.d.Config.EnableActions {
		return h.d.reportOnly(ctx, r), nil
	}

	_, err = rc.IAM.UpdateAccountPasswordPolicy(ctx, passwordPolicyInput(current))
	return h.d.finish(ctx, r, false, err)
}

// passwordPolicyInput builds the policy update from current, which may be
// nil.
func passwordPolicyInput(current *iamtypes.PasswordPolicy) *iam.UpdateAccountPasswordPolicyInput {
	in := &iam.UpdateAccountPasswordPolicyInput{
		RequireSymbols:             true,
		RequireNumbers:             true,
		RequireUppercaseCharacters: true,
		RequireLowercaseCharacters: true,
		AllowUsersToChangePassword: true,
		MinimumPasswordLength:      aws.Int32(defaultMinLength),
		PasswordReusePrevention:    aws.Int32(defaultReusePrevent),
		MaxPasswordAge:             aws.Int32(defaultMaxPasswordAge),
		HardExpiry:                 aws.Bool(false),
	}
	if current == nil {
		return in
	}

	in.AllowUsersToChangePassword = current.AllowUsersToChangePassword
	if current.MinimumPasswordLength != nil {
		in.MinimumPasswordLength = current.MinimumPasswordLength
	}
	if current.PasswordReusePrevention != nil {
		in.PasswordReusePrevention = current.PasswordReusePrevention
	}
	if current.MaxPasswordAge != nil {
		in.MaxPasswordAge = current.MaxPasswordAge
	}
	if current.HardExpiry != nil {
		in.HardExpiry = current.HardExpiry
	}
	return in
}
