package remediate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/tags"
)

// Tags consulted or written by the EC2 handlers.
const (
	TagAutomate      = "TrustedAdvisorAutomate"
	TagSnapshotOptIn = "ta-ebs"
	TagSnapshotTaken = "ta-snapshot"
)

// EIPRelease releases unassociated Elastic IP addresses.
type EIPRelease struct{ d Deps }

// NewEIPRelease creates the eip-release handler.
func NewEIPRelease(d Deps) *EIPRelease { return &EIPRelease{d: d} }

// Name implements handler.Handler.
func (h *EIPRelease) Name() string { return "eip-release" }

// Handle implements handler.Handler.
func (h *EIPRelease) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	chk, err := parseCheck(raw)
	if err != nil {
		return nil, err
	}
	f, err := chk.Require("Region", "IP Address")
	if err != nil {
		return nil, err
	}
	region, ip := f[0], f[1]

	rc, err := h.d.clients(ctx, region)
	if err != nil {
		return nil, err
	}

	// EC2 answers a lookup by an unknown public IP with an error rather
	// than an empty list.
	out, err := rc.EC2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{PublicIps: []string{ip}})
	if awsapi.IsCode(err, awsapi.CodeAddressNotFound) {
		return skipped(h.Name(), ip, "address no longer allocated"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("describe address %s: %w", ip, err)
	}
	if len(out.Addresses) == 0 {
		return skipped(h.Name(), ip, "address no longer allocated"), nil
	}
	addr := out.Addresses[0]

	if tags.FromEC2(addr.Tags).EqualFold(TagAutomate, "false") {
		return skipped(h.Name(), ip, fmt.Sprintf("Elastic IP %s has not been released.", ip)), nil
	}

	dryRun := !h.d.Config.EnableActions
	_, err = rc.EC2.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{
		AllocationId: addr.AllocationId,
		DryRun:       aws.Bool(dryRun),
	})
	return h.d.finish(ctx, &Result{
		Handler:  h.Name(),
		Resource: ip,
		Action:   "ReleaseAddress",
		Message:  fmt.Sprintf("Elastic IP %s has been released.", ip),
	}, dryRun, err)
}

// EBSSnapshot snapshots volumes that opted in with the ta-ebs tag and marks
// them for snapshot lifecycle management.
type EBSSnapshot struct{ d Deps }

// NewEBSSnapshot creates the ebs-snapshot handler.
func NewEBSSnapshot(d Deps) *EBSSnapshot { return &EBSSnapshot{d: d} }

// Name implements handler.Handler.
func (h *EBSSnapshot) Name() string { return "ebs-snapshot" }

// Handle implements handler.Handler.
func (h *EBSSnapshot) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	chk, err := parseCheck(raw)
	if err != nil {
		return nil, err
	}
	f, err := chk.Require("Region", "Volume ID")
	if err != nil {
		return nil, err
	}
	region, volumeID := f[0], f[1]

	rc, err := h.d.clients(ctx, region)
	if err != nil {
		return nil, err
	}

	found, err := describeTags(ctx, rc.EC2, volumeID, TagSnapshotOptIn)
	if err != nil {
		return nil, err
	}
	if !found.Has(TagSnapshotOptIn) {
		return skipped(h.Name(), volumeID, fmt.Sprintf("volume %s in region %s did not match tag, skipping", volumeID, region)), nil
	}

	r := &Result{
		Handler:  h.Name(),
		Resource: volumeID,
		Action:   "CreateSnapshot",
		Message:  "snapshot initiated and volume tagged for snapshot lifecycle management",
	}
	if !h.d.Config.EnableActions {
		return h.d.reportOnly(ctx, r), nil
	}

	_, err = rc.EC2.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String("Automated Snapshot by TA automation for volume " + volumeID),
	})
	if err != nil {
		return h.d.finish(ctx, r, false, err)
	}

	_, err = rc.EC2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{volumeID},
		Tags:      tags.EC2(TagSnapshotTaken, "true"),
	})
	if err != nil {
		r.Action = "CreateTags"
	}
	return h.d.finish(ctx, r, false, err)
}

// LowUtilization stops low-utilization instances that carry the configured
// tag, optionally restricted to one region.
type LowUtilization struct{ d Deps }

// NewLowUtilization creates the ec2-low-utilization handler.
func NewLowUtilization(d Deps) *LowUtilization { return &LowUtilization{d: d} }

// Name implements handler.Handler.
func (h *LowUtilization) Name() string { return "ec2-low-utilization" }

// Handle implements handler.Handler.
func (h *LowUtilization) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	chk, err := parseCheck(raw)
	if err != nil {
		return nil, err
	}
	f, err := chk.Require("Instance ID", "Region/AZ")
	if err != nil {
		return nil, err
	}
	instanceID, region := f[0], regionOfZone(f[1])

	cfg := h.d.Config
	if cfg.StopRegion != "all" && region != cfg.StopRegion {
		return skipped(h.Name(), instanceID, "instance outside configured region "+cfg.StopRegion), nil
	}

	rc, err := h.d.clients(ctx, region)
	if err != nil {
		return nil, err
	}

	found, err := describeTags(ctx, rc.EC2, instanceID, cfg.StopTagKey)
	if err != nil {
		return nil, err
	}
	if !found.MatchesAll(map[string]string{cfg.StopTagKey: cfg.StopTagValue}) {
		return skipped(h.Name(), instanceID, "instance did not match tag "+cfg.StopTagKey+"="+cfg.StopTagValue), nil
	}

	dryRun := !cfg.EnableActions
	_, err = rc.EC2.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{instanceID},
		DryRun:      aws.Bool(dryRun),
	})
	return h.d.finish(ctx, &Result{
		Handler:  h.Name(),
		Resource: instanceID,
		Action:   "StopInstances",
		Message:  fmt.Sprintf("instance %s stopped in %s", instanceID, region),
	}, dryRun, err)
}

// regionOfZone strips the zone letter from an availability zone.
func regionOfZone(az string) string {
	az = strings.TrimSpace(az)
	if az == "" {
		return az
	}
	last := az[len(az)-1]
	if last >= 'a' && last <= 'z' {
		return az[:len(az)-1]
	}
	return az
}

func describeTags(ctx context.Context, client awsapi.EC2API, resourceID, key string) (tags.Set, error) {
	out, err := client.DescribeTags(ctx, &ec2.DescribeTagsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("resource-id"), Values: []string{resourceID}},
			{Name: aws.String("key"), Values: []string{key}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("describe tags for %s: %w", resourceID, err)
	}
	return tags.FromEC2Descriptions(out.Tags), nil
}
