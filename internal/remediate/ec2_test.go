package remediate

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tara/internal/event"
	"github.com/yairfalse/tara/internal/telemetry"
)

func eipEvent(t *testing.T) []byte {
	return checkEvent(t, "Unassociated Elastic IP Addresses", "WARN", map[string]any{
		"Region":     "us-west-2",
		"IP Address": "52.1.2.3",
	})
}

func withAddress(f *fixture, tags ...ec2types.Tag) {
	f.ec2.DescribeAddressesFunc = func(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
		return &ec2.DescribeAddressesOutput{Addresses: []ec2types.Address{{
			AllocationId: aws.String("eipalloc-1"),
			PublicIp:     aws.String(params.PublicIps[0]),
			Tags:         tags,
		}}}, nil
	}
}

func TestEIPRelease_Releases(t *testing.T) {
	f := newFixture()
	withAddress(f)

	res, err := NewEIPRelease(f.deps()).Handle(context.Background(), eipEvent(t))
	require.NoError(t, err)

	r := res.(*Result)
	assert.Equal(t, telemetry.OutcomeApplied, r.Outcome)
	assert.Equal(t, "Elastic IP 52.1.2.3 has been released.", r.Message)
	require.Len(t, f.ec2.releaseCalls, 1)
	assert.Equal(t, "eipalloc-1", aws.ToString(f.ec2.releaseCalls[0].AllocationId))
	assert.False(t, aws.ToBool(f.ec2.releaseCalls[0].DryRun))
}

func TestEIPRelease_DryRun(t *testing.T) {
	f := newFixture()
	f.cfg.EnableActions = false
	withAddress(f)
	f.ec2.ReleaseAddressFunc = func(ctx context.Context, params *ec2.ReleaseAddressInput, optFns ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error) {
		return nil, &smithy.GenericAPIError{Code: "DryRunOperation", Message: "Request would have succeeded"}
	}

	res, err := NewEIPRelease(f.deps()).Handle(context.Background(), eipEvent(t))
	require.NoError(t, err)

	assert.Equal(t, telemetry.OutcomeDryRun, res.(*Result).Outcome)
	assert.True(t, aws.ToBool(f.ec2.releaseCalls[0].DryRun))
}

func TestEIPRelease_OptOutTagIsCaseInsensitive(t *testing.T) {
	f := newFixture()
	withAddress(f, ec2types.Tag{Key: aws.String(TagAutomate), Value: aws.String("FALSE")})

	res, err := NewEIPRelease(f.deps()).Handle(context.Background(), eipEvent(t))
	require.NoError(t, err)

	assert.Equal(t, telemetry.OutcomeSkipped, res.(*Result).Outcome)
	assert.Empty(t, f.ec2.releaseCalls)
}

func TestEIPRelease_AddressGone(t *testing.T) {
	f := newFixture()
	f.ec2.DescribeAddressesFunc = func(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
		return nil, &smithy.GenericAPIError{Code: "InvalidAddress.NotFound", Message: "Address '52.1.2.3' not found."}
	}

	res, err := NewEIPRelease(f.deps()).Handle(context.Background(), eipEvent(t))
	require.NoError(t, err)

	r := res.(*Result)
	assert.Equal(t, telemetry.OutcomeSkipped, r.Outcome)
	assert.Equal(t, "address no longer allocated", r.Message)
	assert.Empty(t, f.ec2.releaseCalls)
}

func TestEIPRelease_Errors(t *testing.T) {
	f := newFixture()
	withAddress(f)
	f.ec2.ReleaseAddressFunc = func(ctx context.Context, params *ec2.ReleaseAddressInput, optFns ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error) {
		return nil, &smithy.GenericAPIError{Code: "AuthFailure", Message: "denied"}
	}

	_, err := NewEIPRelease(f.deps()).Handle(context.Background(), eipEvent(t))
	require.Error(t, err)

	_, err = NewEIPRelease(f.deps()).Handle(context.Background(),
		checkEvent(t, "x", "WARN", map[string]any{"Region": "us-west-2"}))
	assert.ErrorIs(t, err, event.ErrMalformed)
}

func ebsEvent(t *testing.T) []byte {
	return checkEvent(t, "Amazon EBS Snapshots", "WARN", map[string]any{
		"Region":    "us-west-2",
		"Volume ID": "vol-1",
	})
}

func withTag(f *fixture, key, value string) {
	f.ec2.DescribeTagsFunc = func(ctx context.Context, params *ec2.DescribeTagsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
		if params.Filters[1].Values[0] != key {
			return &ec2.DescribeTagsOutput{}, nil
		}
		return &ec2.DescribeTagsOutput{Tags: []ec2types.TagDescription{{
			Key:        aws.String(key),
			Value:      aws.String(value),
			ResourceId: aws.String(params.Filters[0].Values[0]),
		}}}, nil
	}
}

func TestEBSSnapshot_OptedIn(t *testing.T) {
	f := newFixture()
	withTag(f, TagSnapshotOptIn, "")

	res, err := NewEBSSnapshot(f.deps()).Handle(context.Background(), ebsEvent(t))
	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeApplied, res.(*Result).Outcome)

	require.Len(t, f.ec2.snapshotCalls, 1)
	assert.Equal(t, "Automated Snapshot by TA automation for volume vol-1", aws.ToString(f.ec2.snapshotCalls[0].Description))
	require.Len(t, f.ec2.tagCalls, 1)
	assert.Equal(t, []string{"vol-1"}, f.ec2.tagCalls[0].Resources)
	assert.Equal(t, TagSnapshotTaken, aws.ToString(f.ec2.tagCalls[0].Tags[0].Key))
	assert.Equal(t, "true", aws.ToString(f.ec2.tagCalls[0].Tags[0].Value))
}

func TestEBSSnapshot_SkipsUntagged(t *testing.T) {
	f := newFixture()

	res, err := NewEBSSnapshot(f.deps()).Handle(context.Background(), ebsEvent(t))
	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeSkipped, res.(*Result).Outcome)
	assert.Empty(t, f.ec2.snapshotCalls)
}

func TestEBSSnapshot_ReportOnly(t *testing.T) {
	f := newFixture()
	f.cfg.EnableActions = false
	withTag(f, TagSnapshotOptIn, "")

	res, err := NewEBSSnapshot(f.deps()).Handle(context.Background(), ebsEvent(t))
	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeDryRun, res.(*Result).Outcome)
	assert.Empty(t, f.ec2.snapshotCalls)
	assert.Empty(t, f.ec2.tagCalls)
}

func lowUtilEvent(t *testing.T, az string) []byte {
	return checkEvent(t, "Low Utilization Amazon EC2 Instances", "WARN", map[string]any{
		"Instance ID": "i-0abc",
		"Region/AZ":   az,
	})
}

func TestLowUtilization_StopsTaggedInstance(t *testing.T) {
	f := newFixture()
	f.cfg.EnableActions = false
	withTag(f, "environment", "dev")
	f.ec2.StopInstancesFunc = func(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
		return nil, &smithy.GenericAPIError{Code: "DryRunOperation"}
	}

	res, err := NewLowUtilization(f.deps()).Handle(context.Background(), lowUtilEvent(t, "us-west-2b"))
	require.NoError(t, err)

	assert.Equal(t, telemetry.OutcomeDryRun, res.(*Result).Outcome)
	require.Len(t, f.ec2.stopCalls, 1)
	assert.Equal(t, []string{"i-0abc"}, f.ec2.stopCalls[0].InstanceIds)
	assert.True(t, aws.ToBool(f.ec2.stopCalls[0].DryRun))
}

func TestLowUtilization_Skips(t *testing.T) {
	t.Run("other region", func(t *testing.T) {
		f := newFixture()
		f.cfg.StopRegion = "us-east-2"
		withTag(f, "environment", "dev")

		res, err := NewLowUtilization(f.deps()).Handle(context.Background(), lowUtilEvent(t, "us-west-2b"))
		require.NoError(t, err)
		assert.Equal(t, telemetry.OutcomeSkipped, res.(*Result).Outcome)
		assert.Empty(t, f.ec2.stopCalls)
	})

	t.Run("tag value differs", func(t *testing.T) {
		f := newFixture()
		withTag(f, "environment", "prod")

		res, err := NewLowUtilization(f.deps()).Handle(context.Background(), lowUtilEvent(t, "us-west-2a"))
		require.NoError(t, err)
		assert.Equal(t, telemetry.OutcomeSkipped, res.(*Result).Outcome)
		assert.Empty(t, f.ec2.stopCalls)
	})

	t.Run("tag missing", func(t *testing.T) {
		f := newFixture()

		res, err := NewLowUtilization(f.deps()).Handle(context.Background(), lowUtilEvent(t, "us-west-2a"))
		require.NoError(t, err)
		assert.Equal(t, telemetry.OutcomeSkipped, res.(*Result).Outcome)
	})
}

func TestLowUtilization_DescribeTagsError(t *testing.T) {
	f := newFixture()
	f.ec2.DescribeTagsFunc = func(ctx context.Context, params *ec2.DescribeTagsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
		return nil, errors.New("throttled")
	}

	_, err := NewLowUtilization(f.deps()).Handle(context.Background(), lowUtilEvent(t, "us-west-2a"))
	require.Error(t, err)
}

func TestRegionOfZone(t *testing.T) {
	assert.Equal(t, "us-east-2", regionOfZone("us-east-2a"))
	assert.Equal(t, "eu-west-1", regionOfZone(" eu-west-1c "))
	assert.Equal(t, "us-east-1", regionOfZone("us-east-1"))
	assert.Equal(t, "", regionOfZone(""))
}
