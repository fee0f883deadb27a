// Package event parses the EventBridge payloads tara handlers receive.
package event

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Event sources routed by the volume lifecycle.
const (
	SourceTrustedAdvisor = "aws.trustedadvisor"
	SourceEC2            = "aws.ec2"
)

// ErrMalformed is returned when an event lacks a field it must carry.
var ErrMalformed = errors.New("malformed event")

var (
	volumeARN   = regexp.MustCompile(`.*:volume/(vol-.*)`)
	snapshotARN = regexp.MustCompile(`.*:snapshot/(snap-.*)`)
)

// Unwrap returns the event carried inside an SNS envelope, or raw when the
// payload is not wrapped.
func Unwrap(raw []byte) []byte {
	msg := gjson.GetBytes(raw, "Records.0.Sns.Message")
	if msg.Type != gjson.String {
		return raw
	}
	return []byte(msg.Str)
}

// Source returns the top-level "source" field.
func Source(raw []byte) string {
	return gjson.GetBytes(raw, "source").String()
}

// Check is a Trusted Advisor check item refresh notification.
type Check struct {
	Source     string
	Account    string
	Region     string
	Time       time.Time
	CheckName  string
	CheckID    string
	Status     string
	ResourceID string
	Item       map[string]string
}

// Get returns an item detail field. Missing and null fields read as "".
func (c *Check) Get(field string) string {
	return c.Item[field]
}

// Require returns the named item fields, or ErrMalformed naming the first
// one that is empty.
func (c *Check) Require(fields ...string) ([]string, error) {
	out := make([]string, len(fields))
	for i, f := range fields {
		v := strings.TrimSpace(c.Item[f])
		if v == "" {
			return nil, fmt.Errorf("%w: missing check-item-detail %q", ErrMalformed, f)
		}
		out[i] = v
	}
	return out, nil
}

// ParseCheck parses a Trusted Advisor check notification.
func ParseCheck(raw []byte) (*Check, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}

	root := gjson.ParseBytes(raw)
	detail := root.Get("detail")
	if !detail.IsObject() {
		return nil, fmt.Errorf("%w: missing detail", ErrMalformed)
	}

	c := &Check{
		Source:     root.Get("source").String(),
		Account:    root.Get("account").String(),
		Region:     root.Get("region").String(),
		CheckName:  detail.Get("check-name").String(),
		CheckID:    detail.Get("check-id").String(),
		Status:     detail.Get("status").String(),
		ResourceID: detail.Get("resource_id").String(),
		Item:       make(map[string]string),
	}
	if ts := root.Get("time").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			c.Time = t
		}
	}

	// Item keys contain spaces, slashes and parentheses, so walk the object
	// instead of building gjson paths.
	detail.Get("check-item-detail").ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.Null {
			c.Item[key.String()] = value.String()
		}
		return true
	})

	return c, nil
}

// SnapshotCompletion is an "EBS Snapshot Notification" event.
type SnapshotCompletion struct {
	Region     string
	VolumeID   string
	SnapshotID string
	Result     string
}

// Succeeded reports whether the snapshot finished successfully.
func (s *SnapshotCompletion) Succeeded() bool {
	return s.Result == "succeeded"
}

// ParseSnapshotCompletion parses a snapshot completion event, extracting the
// volume and snapshot IDs from their ARNs.
func ParseSnapshotCompletion(raw []byte) (*SnapshotCompletion, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}

	root := gjson.ParseBytes(raw)
	region := root.Get("region").String()

	volARN := root.Get("detail.source").String()
	m := volumeARN.FindStringSubmatch(volARN)
	if m == nil {
		return nil, fmt.Errorf("%w: no volume id in %q (region %s)", ErrMalformed, volARN, region)
	}
	volumeID := m[1]

	snapARN := root.Get("detail.snapshot_id").String()
	m = snapshotARN.FindStringSubmatch(snapARN)
	if m == nil {
		return nil, fmt.Errorf("%w: no snapshot id in %q (region %s)", ErrMalformed, snapARN, region)
	}

	return &SnapshotCompletion{
		Region:     region,
		VolumeID:   volumeID,
		SnapshotID: m[1],
		Result:     root.Get("detail.result").String(),
	}, nil
}

// AutomationStatus is an "EC2 Automation Execution Status-change
// Notification" event.
type AutomationStatus struct {
	ExecutionID string
	Document    string
	Status      string
}

// Succeeded reports whether the execution finished successfully.
func (a *AutomationStatus) Succeeded() bool {
	return a.Status == "Success"
}

// ParseAutomationStatus parses an SSM automation status-change event.
func ParseAutomationStatus(raw []byte) (*AutomationStatus, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}

	detail := gjson.GetBytes(raw, "detail")
	a := &AutomationStatus{
		ExecutionID: detail.Get("ExecutionId").String(),
		Document:    detail.Get("Definition").String(),
		Status:      detail.Get("Status").String(),
	}
	if a.ExecutionID == "" {
		return nil, fmt.Errorf("%w: missing ExecutionId", ErrMalformed)
	}
	return a, nil
}
