package remediate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/event"
	"github.com/yairfalse/tara/internal/tags"
)

// S3 constants used by the bucket handlers.
const (
	AllUsersURI         = "http://acs.amazonaws.com/groups/global/AllUsers"
	TagDisableVersion   = "DisableVersioning"
	LifecycleCheckName  = "Amazon S3 Bucket Lifecycle Configuration"
	AbortMPURuleID      = "AbortIncompleteMultipartUploads"
	abortMPUDaysDefault = 7
)

const publicACLTemplate = `At %s public read and/or write permissions were detected on the S3 bucket %s of account %s, and have subsequently been removed.

Please ensure your AWS account remains secure by logging in and further reviewing the ACLs and recently created objects for the bucket.`

// S3PublicACL removes grants to AllUsers from a bucket ACL.
type S3PublicACL struct{ d Deps }

// NewS3PublicACL creates the s3-public-acl handler.
func NewS3PublicACL(d Deps) *S3PublicACL { return &S3PublicACL{d: d} }

// Name implements handler.Handler.
func (h *S3PublicACL) Name() string { return "s3-public-acl" }

// Handle implements handler.Handler.
func (h *S3PublicACL) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	chk, err := parseCheck(raw)
	if err != nil {
		return nil, err
	}
	bucket := bucketFromResourceID(chk.ResourceID)
	if bucket == "" {
		return nil, fmt.Errorf("%w: missing resource_id", event.ErrMalformed)
	}

	rc, err := h.d.clients(ctx, "")
	if err != nil {
		return nil, err
	}

	acl, err := rc.S3.GetBucketAcl(ctx, &s3.GetBucketAclInput{Bucket: aws.String(bucket)})
	if err != nil {
		return nil, fmt.Errorf("get bucket acl %s: %w", bucket, err)
	}

	grants := prunePublicGrants(acl.Grants)
	if len(grants) == len(acl.Grants) {
		return skipped(h.Name(), bucket, "no public grants on bucket"), nil
	}

	r := &Result{
		Handler:  h.Name(),
		Resource: bucket,
		Action:   "PutBucketAcl",
		Message:  fmt.Sprintf("removed %d public grants from bucket %s", len(acl.Grants)-len(grants), bucket),
	}
	if !h.d.Config.EnableActions {
		return h.d.reportOnly(ctx, r), nil
	}

	_, err = rc.S3.PutBucketAcl(ctx, &s3.PutBucketAclInput{
		Bucket: aws.String(bucket),
		AccessControlPolicy: &s3types.AccessControlPolicy{
			Owner:  acl.Owner,
			Grants: grants,
		},
	})
	res, err := h.d.finish(ctx, r, false, err)
	if err != nil {
		return nil, err
	}

	account := h.d.account(chk)
	discovered := chk.Time
	if discovered.IsZero() {
		discovered = h.d.now()
	}
	subject := fmt.Sprintf("Security Alert: Public ACLs Detected for Bucket %s On Account %s", bucket, account)
	body := fmt.Sprintf(publicACLTemplate, discovered.UTC().Format("2006-01-02T15:04:05Z"), bucket, account)
	if err := h.d.publish(ctx, subject, body); err != nil {
		return nil, fmt.Errorf("publish public acl alert: %w", err)
	}
	return res, nil
}

// bucketFromResourceID returns the last ":"-separated segment.
func bucketFromResourceID(id string) string {
	if i := strings.LastIndex(id, ":"); i >= 0 {
		id = id[i+1:]
	}
	return strings.TrimSpace(id)
}

func prunePublicGrants(in []s3types.Grant) []s3types.Grant {
	out := make([]s3types.Grant, 0, len(in))
	for _, g := range in {
		if g.Grantee != nil && aws.ToString(g.Grantee.URI) == AllUsersURI {
			continue
		}
		out = append(out, g)
	}
	return out
}

// S3Versioning turns on bucket versioning unless the bucket opted out.
type S3Versioning struct{ d Deps }

// NewS3Versioning creates the s3-versioning handler.
func NewS3Versioning(d Deps) *S3Versioning { return &S3Versioning{d: d} }

// Name implements handler.Handler.
func (h *S3Versioning) Name() string { return "s3-versioning" }

// Handle implements handler.Handler.
func (h *S3Versioning) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	chk, err := parseCheck(raw)
	if err != nil {
		return nil, err
	}
	f, err := chk.Require("Bucket Name")
	if err != nil {
		return nil, err
	}
	bucket := f[0]

	rc, err := h.d.clients(ctx, "")
	if err != nil {
		return nil, err
	}

	// A bucket without tags answers NoSuchTagSet; any read failure means no opt-out.
	out, err := rc.S3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(bucket)})
	if err != nil {
		log.Debug().Err(err).Str("bucket", bucket).Msg("bucket tags unavailable")
	} else if tags.FromS3(out.TagSet).Has(TagDisableVersion) {
		return skipped(h.Name(), bucket, fmt.Sprintf(
			"Bucket versioning is intentionally disabled for %s. You can exclude this bucket from this check via the Trusted Advisor console", bucket)), nil
	}

	r := &Result{
		Handler:  h.Name(),
		Resource: bucket,
		Action:   "PutBucketVersioning",
		Message:  "Bucket versioning enabled for " + bucket,
	}
	if !h.d.Config.EnableActions {
		return h.d.reportOnly(ctx, r), nil
	}

	_, err = rc.S3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(bucket),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatusEnabled,
		},
	})
	return h.d.finish(ctx, r, false, err)
}

// S3Lifecycle adds a rule aborting incomplete multipart uploads, optionally
// acting in the bucket's account through an assumed role.
type S3Lifecycle struct{ d Deps }

// NewS3Lifecycle creates the s3-lifecycle handler.
func NewS3Lifecycle(d Deps) *S3Lifecycle { return &S3Lifecycle{d: d} }

// Name implements handler.Handler.
func (h *S3Lifecycle) Name() string { return "s3-lifecycle" }

// Handle implements handler.Handler.
func (h *S3Lifecycle) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	chk, err := parseCheck(raw)
	if err != nil {
		return nil, err
	}
	if chk.CheckName != LifecycleCheckName {
		return skipped(h.Name(), chk.CheckName, "ignoring notification for check "+chk.CheckName), nil
	}
	f, err := chk.Require("Bucket Name")
	if err != nil {
		return nil, err
	}
	bucket := f[0]

	if chk.Status != "WARN" {
		return skipped(h.Name(), bucket, fmt.Sprintf("bucket %s in account %s is compliant", bucket, chk.Account)), nil
	}

	client, err := h.s3Client(ctx, chk.Account)
	if err != nil {
		return nil, err
	}

	var rules []s3types.LifecycleRule
	out, err := client.GetBucketLifecycleConfiguration(ctx, &s3.GetBucketLifecycleConfigurationInput{Bucket: aws.String(bucket)})
	switch {
	case err == nil:
		rules = out.Rules
	case awsapi.IsCode(err, awsapi.CodeNoSuchLifecycle):
	default:
		return nil, fmt.Errorf("get lifecycle configuration %s: %w", bucket, err)
	}

	if hasAbortRule(rules) {
		return skipped(h.Name(), bucket, "required rule already exists for bucket "+bucket), nil
	}

	r := &Result{
		Handler:  h.Name(),
		Resource: bucket,
		Action:   "PutBucketLifecycleConfiguration",
		Message:  fmt.Sprintf("applied lifecycle policy to bucket %s in account %s", bucket, chk.Account),
	}
	if !h.d.Config.EnableActions {
		return h.d.reportOnly(ctx, r), nil
	}

	rules = append(rules, s3types.LifecycleRule{
		ID:     aws.String(AbortMPURuleID),
		Status: s3types.ExpirationStatusEnabled,
		Filter: &s3types.LifecycleRuleFilter{Prefix: aws.String("")},
		AbortIncompleteMultipartUpload: &s3types.AbortIncompleteMultipartUpload{
			DaysAfterInitiation: aws.Int32(abortMPUDaysDefault),
		},
	})
	_, err = client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket:                 aws.String(bucket),
		LifecycleConfiguration: &s3types.BucketLifecycleConfiguration{Rules: rules},
	})
	return h.d.finish(ctx, r, false, err)
}

func (h *S3Lifecycle) s3Client(ctx context.Context, account string) (awsapi.S3API, error) {
	role := h.d.Config.LifecycleRoleName
	if role == "" || h.d.Roles == nil || account == "" {
		rc, err := h.d.clients(ctx, "")
		if err != nil {
			return nil, err
		}
		return rc.S3, nil
	}

	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", account, role)
	rc, err := h.d.Roles.ForRole(ctx, h.d.Home, roleARN)
	if err != nil {
		return nil, fmt.Errorf("assume %s: %w", roleARN, err)
	}
	return rc.S3, nil
}

func hasAbortRule(rules []s3types.LifecycleRule) bool {
	for _, r := range rules {
		if r.AbortIncompleteMultipartUpload != nil &&
			aws.ToInt32(r.AbortIncompleteMultipartUpload.DaysAfterInitiation) == abortMPUDaysDefault {
			return true
		}
	}
	return false
}
